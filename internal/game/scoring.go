// internal/game/scoring.go
package game

import (
	"github.com/google/uuid"
	"github.com/macqm/teexid/internal/models"
)

const (
	pointsStoryGuessed = 3 // storyteller and each correct voter, when some but not all guessed
	pointsAllOrNone    = 2 // every non-storyteller, when nobody or everybody guessed
	pointsPerDecoyVote = 1 // decoy submitter, per vote received
)

// tally is the frozen input of one turn's scoring.
type tally struct {
	storyteller uuid.UUID
	players     []uuid.UUID // roster, storyteller included
	storyCard   models.CardID
	submitted   map[uuid.UUID]models.CardID // decoys, storyteller excluded
	votes       map[uuid.UUID]models.CardID
}

// scoreTurn computes every player's delta. It only reads maps, so the order
// votes were cast in cannot affect the outcome.
func scoreTurn(t tally) (map[uuid.UUID]int, models.TurnResult) {
	deltas := make(map[uuid.UUID]int, len(t.players))
	for _, id := range t.players {
		deltas[id] = 0
	}

	correct := 0
	for _, card := range t.votes {
		if card == t.storyCard {
			correct++
		}
	}

	var result models.TurnResult
	switch {
	case correct == 0 || correct == len(t.votes):
		result = models.ResultEveryoneGuessed
		if correct == 0 {
			result = models.ResultNobodyGuessed
		}
		for _, id := range t.players {
			if id != t.storyteller {
				deltas[id] += pointsAllOrNone
			}
		}
	default:
		result = models.ResultStoryGuessed
		deltas[t.storyteller] += pointsStoryGuessed
		for voter, card := range t.votes {
			if card == t.storyCard {
				deltas[voter] += pointsStoryGuessed
			}
		}
	}

	owner := make(map[models.CardID]uuid.UUID, len(t.submitted))
	for id, card := range t.submitted {
		owner[card] = id
	}
	for _, card := range t.votes {
		if card == t.storyCard {
			continue
		}
		if id, ok := owner[card]; ok {
			deltas[id] += pointsPerDecoyVote
		}
	}

	return deltas, result
}
