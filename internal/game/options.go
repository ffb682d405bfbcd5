// internal/game/options.go
package game

import (
	"fmt"
	"time"
)

// Options are the table rules shared by every room of a directory.
type Options struct {
	DeckSize     int
	HandSize     int
	MinPlayers   int
	MaxPlayers   int
	MaxScore     int // game ends at advance once a player reaches it; 0 disables
	MaxTurns     int // 0 disables
	AutoAdvance  bool
	RequireReady bool
	// Seed fixes the shuffling source; 0 seeds from the clock.
	Seed int64
	// RoomTimeout is how long a room may stay idle before the directory reaps it; 0 disables.
	RoomTimeout time.Duration
}

// DefaultOptions returns the standard table rules.
func DefaultOptions() Options {
	return Options{
		DeckSize:    84,
		HandSize:    6,
		MinPlayers:  2,
		MaxPlayers:  12,
		MaxScore:    30,
		RoomTimeout: 30 * time.Minute,
	}
}

// Validate checks that a full table can be dealt and still play a turn.
func (o Options) Validate() error {
	if o.HandSize < 1 {
		return fmt.Errorf("hand size must be positive: %d", o.HandSize)
	}
	if o.MinPlayers < 2 {
		return fmt.Errorf("min players must be at least 2: %d", o.MinPlayers)
	}
	if o.MaxPlayers < o.MinPlayers {
		return fmt.Errorf("max players (%d) is below min players (%d)", o.MaxPlayers, o.MinPlayers)
	}
	// Every hand is full while the previous turn's table cards are still out.
	if need := o.MaxPlayers * (o.HandSize + 1); o.DeckSize < need {
		return fmt.Errorf("deck of %d cards cannot serve %d players with hands of %d (need %d)", o.DeckSize, o.MaxPlayers, o.HandSize, need)
	}
	if o.MaxScore < 0 || o.MaxTurns < 0 {
		return fmt.Errorf("max score and max turns must not be negative")
	}
	return nil
}
