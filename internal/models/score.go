// internal/models/score.go
package models

import "github.com/google/uuid"

// ScoreEntry is one player's line in a turn's score log.
type ScoreEntry struct {
	PlayerID        uuid.UUID   `json:"playerId"`
	PlayerName      string      `json:"playerName"`
	ScoreBefore     int         `json:"scoreBefore"`
	Delta           int         `json:"delta"`
	Score           int         `json:"score"`
	WasStoryTelling bool        `json:"wasStoryTelling"`
	SubmittedCard   CardID      `json:"submittedCard,omitempty"`
	VotedFor        CardID      `json:"votedFor,omitempty"`
	VotesFrom       []uuid.UUID `json:"votesFrom"`
}

// TurnScore is the score log entry appended when a turn finishes.
type TurnScore struct {
	Turn      int          `json:"turn"`
	StoryCard CardID       `json:"storyCard"`
	Result    TurnResult   `json:"result"`
	Entries   []ScoreEntry `json:"entries"`
}

// Entry returns the entry for playerID, if present.
func (ts TurnScore) Entry(playerID uuid.UUID) (ScoreEntry, bool) {
	for _, e := range ts.Entries {
		if e.PlayerID == playerID {
			return e, true
		}
	}
	return ScoreEntry{}, false
}
