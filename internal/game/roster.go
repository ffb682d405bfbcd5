// internal/game/roster.go
package game

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/macqm/teexid/internal/models"
)

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidPayload)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("%w: name is longer than %d characters", ErrInvalidPayload, maxNameLength)
	}
	return name, nil
}

// ValidateName reports whether name is acceptable as a player name.
func ValidateName(name string) error {
	_, err := cleanName(name)
	return err
}

// checkJoin validates a join without touching the room. It returns the existing member,
// if any, and the cleaned name ("" keeps the current name of a member).
func (r *Room) checkJoin(id uuid.UUID, name string) (*Player, string, error) {
	if p, ok := r.byID[id]; ok {
		if strings.TrimSpace(name) == "" {
			return p, "", nil
		}
		clean, err := cleanName(name)
		return p, clean, err
	}

	clean, err := cleanName(name)
	if err != nil {
		return nil, "", err
	}
	if r.gameState == models.GamePlaying {
		return nil, "", fmt.Errorf("%w: room %q is mid-game", ErrGameAlreadyStarted, r.Name)
	}
	if len(r.players) >= r.opts.MaxPlayers {
		return nil, "", fmt.Errorf("%w: room %q already has %d players", ErrRoomFull, r.Name, len(r.players))
	}
	return nil, clean, nil
}

// join adds a player, or re-attaches an existing member. Assumes it runs on the worker.
func (r *Room) join(id uuid.UUID, name string) error {
	p, clean, err := r.checkJoin(id, name)
	if err != nil {
		return err
	}
	if p != nil {
		if clean != "" {
			p.Name = clean
		}
		p.Connected = true
		r.queue(id, models.EventJoinRoom, models.JoinRoomResult{RoomName: r.Name, PlayerName: p.Name, Success: true})
		r.queueHand(p)
		r.touch()
		return nil
	}

	p = &Player{
		ID:        id,
		Name:      clean,
		Status:    models.StatusUnknown,
		Connected: true,
	}
	r.players = append(r.players, p)
	r.byID[id] = p

	r.record(id, models.ActionJoin, map[string]interface{}{"name": clean})
	r.queue(id, models.EventJoinRoom, models.JoinRoomResult{RoomName: r.Name, PlayerName: clean, Success: true})
	r.touch()
	return nil
}

// leave removes a member from a room that is not mid-game.
func (r *Room) leave(id uuid.UUID) error {
	p, err := r.member(id)
	if err != nil {
		return err
	}
	if r.gameState == models.GamePlaying {
		return fmt.Errorf("%w: cannot leave room %q mid-game", ErrInvalidTransition, r.Name)
	}

	r.pool.Release(p.Hand...)
	p.Hand = nil
	r.players = slices.DeleteFunc(r.players, func(q *Player) bool { return q.ID == id })
	delete(r.byID, id)

	r.record(id, models.ActionLeave, nil)
	r.queue(id, models.EventLeaveRoom, models.LeaveRoomResult{RoomName: r.Name})
	r.touch()
	return nil
}

func (r *Room) updateName(id uuid.UUID, name string) error {
	p, err := r.member(id)
	if err != nil {
		return err
	}
	clean, err := cleanName(name)
	if err != nil {
		return err
	}
	p.Name = clean
	r.queue(id, models.EventNameUpdated, models.NameUpdated{Name: clean})
	r.touch()
	return nil
}

func (r *Room) markReady(id uuid.UUID) error {
	p, err := r.member(id)
	if err != nil {
		return err
	}
	if r.gameState == models.GamePlaying {
		return fmt.Errorf("%w: game already in progress", ErrInvalidTransition)
	}
	if p.Ready {
		return nil
	}
	p.Ready = true
	r.touch()
	return nil
}

// setConnected tracks presence. Membership is untouched.
func (r *Room) setConnected(id uuid.UUID, connected bool) error {
	p, err := r.member(id)
	if err != nil {
		return err
	}
	if p.Connected == connected {
		return nil
	}
	p.Connected = connected
	r.touch()
	return nil
}
