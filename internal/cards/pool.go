// internal/cards/pool.go
package cards

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/macqm/teexid/internal/models"
)

// ErrPoolExhausted is returned when a draw asks for more cards than remain available.
var ErrPoolExhausted = errors.New("card pool exhausted")

// Pool hands out card ids so that no id is issued twice while it is held.
// It is not safe for concurrent use; a room only touches it from its own worker.
type Pool struct {
	size    int
	rng     *rand.Rand
	stack   []models.CardID // draw from the end
	discard []models.CardID // released cards, reshuffled under the stack on demand
	issued  map[models.CardID]struct{}
}

// NewPool creates a shuffled pool of ids 1..size. A nil rng uses a time-seeded source.
func NewPool(size int, rng *rand.Rand) *Pool {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	p := &Pool{
		size:   size,
		rng:    rng,
		issued: make(map[models.CardID]struct{}, size),
	}
	p.Reset()
	return p
}

// Reset returns every card to the stack and reshuffles it.
func (p *Pool) Reset() {
	p.stack = make([]models.CardID, 0, p.size)
	for i := 1; i <= p.size; i++ {
		p.stack = append(p.stack, models.CardID(i))
	}
	p.discard = p.discard[:0]
	clear(p.issued)
	p.shuffle(p.stack)
}

// Draw issues n cards. Nothing is issued when fewer than n are available.
func (p *Pool) Draw(n int) ([]models.CardID, error) {
	if n <= 0 {
		return nil, nil
	}
	if avail := p.Available(); avail < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrPoolExhausted, n, avail)
	}
	if len(p.stack) < n {
		p.reshuffleDiscard()
	}

	drawn := make([]models.CardID, n)
	copy(drawn, p.stack[len(p.stack)-n:])
	p.stack = p.stack[:len(p.stack)-n]
	for _, id := range drawn {
		p.issued[id] = struct{}{}
	}
	return drawn, nil
}

// Release makes issued cards available again. Ids that are not currently issued are ignored.
func (p *Pool) Release(ids ...models.CardID) {
	for _, id := range ids {
		if _, ok := p.issued[id]; !ok {
			continue
		}
		delete(p.issued, id)
		p.discard = append(p.discard, id)
	}
}

// IsIssued reports whether id is currently held outside the pool.
func (p *Pool) IsIssued(id models.CardID) bool {
	_, ok := p.issued[id]
	return ok
}

// Available is the number of cards that can still be drawn.
func (p *Pool) Available() int { return len(p.stack) + len(p.discard) }

// Issued is the number of cards currently held outside the pool.
func (p *Pool) Issued() int { return len(p.issued) }

// Size is the total deck size.
func (p *Pool) Size() int { return p.size }

// reshuffleDiscard shuffles the discard pile and puts it under the remaining stack.
func (p *Pool) reshuffleDiscard() {
	p.shuffle(p.discard)
	merged := make([]models.CardID, 0, len(p.discard)+len(p.stack))
	merged = append(merged, p.discard...)
	merged = append(merged, p.stack...)
	p.stack = merged
	p.discard = p.discard[:0]
}

func (p *Pool) shuffle(ids []models.CardID) {
	p.rng.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
}
