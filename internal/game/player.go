// internal/game/player.go
package game

import (
	"slices"

	"github.com/google/uuid"
	"github.com/macqm/teexid/internal/models"
)

// Player is a member of one room. Only the owning Room mutates it, on its worker.
type Player struct {
	ID        uuid.UUID
	Name      string
	Ready     bool
	Points    int
	Status    models.PlayerStatus
	Hand      []models.CardID
	Connected bool
}

func (p *Player) hasCard(id models.CardID) bool {
	return slices.Contains(p.Hand, id)
}

// removeCard drops id from the hand. Assumes hasCard(id).
func (p *Player) removeCard(id models.CardID) {
	if i := slices.Index(p.Hand, id); i >= 0 {
		p.Hand = slices.Delete(p.Hand, i, i+1)
	}
}

// handCopy returns the hand detached from the player so it can leave the worker.
func (p *Player) handCopy() []models.CardID {
	out := make([]models.CardID, len(p.Hand))
	copy(out, p.Hand)
	return out
}

func (p *Player) view(storyteller uuid.UUID) models.PlayerView {
	return models.PlayerView{
		ID:            p.ID,
		Name:          p.Name,
		Points:        p.Points,
		Status:        p.Status,
		Ready:         p.Ready,
		Connected:     p.Connected,
		IsStoryteller: p.ID == storyteller,
	}
}
