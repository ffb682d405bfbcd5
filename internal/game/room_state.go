// internal/game/room_state.go
package game

import (
	"slices"

	"github.com/google/uuid"
	"github.com/macqm/teexid/internal/models"
)

// stateFor builds the snapshot a given viewer is allowed to see. Assumes it runs on the worker.
//
// The storyteller sees the decoys as they arrive. Voters see the shuffled table
// without their own card. The story card is revealed to everyone once the turn is over.
func (r *Room) stateFor(viewer uuid.UUID) models.RoomStateUpdated {
	st := models.RoomState{
		GameState:      r.gameState,
		TurnState:      r.turnState,
		TurnNumber:     r.turnNumber,
		Players:        make([]models.PlayerView, 0, len(r.players)),
		Story:          r.story,
		CardsSubmitted: []models.CardID{},
		Scores:         slices.Clone(r.scoreLog),
	}
	if st.Scores == nil {
		st.Scores = []models.TurnScore{}
	}
	if r.storyPlayerID != uuid.Nil {
		id := r.storyPlayerID
		st.StoryPlayerID = &id
	}
	for _, p := range r.players {
		st.Players = append(st.Players, p.view(r.storyPlayerID))
	}

	isTeller := viewer != uuid.Nil && viewer == r.storyPlayerID
	switch r.turnState {
	case models.TurnGuessing:
		if isTeller {
			for _, p := range r.players {
				if card, ok := r.submitted[p.ID]; ok {
					st.CardsSubmitted = append(st.CardsSubmitted, card)
				}
			}
		}
	case models.TurnVoting:
		own, hasOwn := r.submitted[viewer]
		for _, card := range r.votePool {
			if hasOwn && card == own {
				continue
			}
			st.CardsSubmitted = append(st.CardsSubmitted, card)
		}
	case models.TurnFinished:
		st.CardsSubmitted = append(st.CardsSubmitted, r.votePool...)
	}

	if r.storyCard != 0 && (isTeller || r.turnState == models.TurnFinished) {
		st.StoryCard = r.storyCard
	}
	st.SubmittedCard = r.submitted[viewer]
	st.VotedForCard = r.votes[viewer]
	if r.turnState == models.TurnFinished && len(r.scoreLog) > 0 {
		if last := r.scoreLog[len(r.scoreLog)-1]; last.Turn == r.turnNumber {
			st.TurnResult = last.Result
		}
	}

	return models.RoomStateUpdated{RoomName: r.Name, State: st}
}

func (r *Room) summary() models.RoomSummary {
	s := models.RoomSummary{
		ID:         r.ID,
		Name:       r.Name,
		GameState:  r.gameState,
		TurnNumber: r.turnNumber,
		Players:    len(r.players),
		Failed:     r.failed.Load(),
	}
	for _, p := range r.players {
		if p.Connected {
			s.Connected++
		}
	}
	return s
}
