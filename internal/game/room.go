// internal/game/room.go
package game

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/macqm/teexid/internal/cards"
	"github.com/macqm/teexid/internal/models"
	"github.com/sirupsen/logrus"
)

// SendFunc delivers one message to every live connection of a player.
// Rooms call it from their worker, so it must not block.
type SendFunc func(playerID uuid.UUID, msg models.OutboundMessage)

// Sender is a single connection that can receive a snapshot.
type Sender interface {
	Send(msg models.OutboundMessage) bool
}

// ActionRecorder receives every accepted room action for auditing.
type ActionRecorder interface {
	RecordAction(ctx context.Context, rec models.RoomActionRecord) error
}

const (
	maxNameLength = 32
	taskQueueSize = 64
)

type delivery struct {
	playerID uuid.UUID
	msg      models.OutboundMessage
}

// Room is one game session. All fields below the worker block are owned by
// the room's worker goroutine and must only be touched from a task.
type Room struct {
	ID   uuid.UUID
	Name string

	opts     Options
	send     SendFunc
	recorder ActionRecorder
	logger   logrus.FieldLogger

	tasks      chan task
	quit       chan struct{}
	stopOnce   sync.Once
	lastActive atomic.Int64
	failed     atomic.Bool

	rng     *rand.Rand
	pool    *cards.Pool
	players []*Player
	byID    map[uuid.UUID]*Player

	gameState     models.GameState
	turnState     models.TurnState
	turnNumber    int
	storyPlayerID uuid.UUID
	story         string
	storyCard     models.CardID
	submitted     map[uuid.UUID]models.CardID
	submittedBy   map[models.CardID]uuid.UUID
	votes         map[uuid.UUID]models.CardID
	votePool      []models.CardID
	scoreLog      []models.TurnScore

	actionIndex int
	outbox      []delivery
	records     []models.RoomActionRecord
	stateDirty  bool
}

// NewRoom creates a room and starts its worker. send must be non-nil; recorder may be nil.
func NewRoom(name string, opts Options, send SendFunc, recorder ActionRecorder, logger logrus.FieldLogger) *Room {
	r := newRoom(name, opts, send, recorder, logger)
	go r.run()
	return r
}

func newRoom(name string, opts Options, send SendFunc, recorder ActionRecorder, logger logrus.FieldLogger) *Room {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	id := uuid.New()

	r := &Room{
		ID:        id,
		Name:      name,
		opts:      opts,
		send:      send,
		recorder:  recorder,
		logger:    logger.WithFields(logrus.Fields{"room": name, "room_id": id}),
		tasks:     make(chan task, taskQueueSize),
		quit:      make(chan struct{}),
		rng:       rng,
		pool:      cards.NewPool(opts.DeckSize, rng),
		byID:      make(map[uuid.UUID]*Player),
		gameState: models.GameWaiting,
		turnState: models.TurnWaiting,
	}
	r.clearTurn()
	r.lastActive.Store(time.Now().UnixNano())
	return r
}

// clearTurn drops the per-turn table. Cards are not released here.
func (r *Room) clearTurn() {
	r.story = ""
	r.storyCard = 0
	r.submitted = make(map[uuid.UUID]models.CardID)
	r.submittedBy = make(map[models.CardID]uuid.UUID)
	r.votes = make(map[uuid.UUID]models.CardID)
	r.votePool = nil
}

func (r *Room) queue(playerID uuid.UUID, msgType string, payload interface{}) {
	r.outbox = append(r.outbox, delivery{playerID: playerID, msg: models.OutboundMessage{Type: msgType, Payload: payload}})
}

func (r *Room) queueAll(msgType string, payload interface{}) {
	for _, p := range r.players {
		r.queue(p.ID, msgType, payload)
	}
}

func (r *Room) queueHand(p *Player) {
	r.queue(p.ID, models.EventCardsDealt, models.CardsDealt{Cards: p.handCopy()})
}

// touch marks the room state as changed; every member gets a fresh snapshot when the task completes.
func (r *Room) touch() {
	r.stateDirty = true
}

func (r *Room) record(actor uuid.UUID, actionType string, payload map[string]interface{}) {
	r.actionIndex++
	r.records = append(r.records, models.RoomActionRecord{
		RoomID:        r.ID,
		RoomName:      r.Name,
		ActionIndex:   r.actionIndex,
		ActorID:       actor,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     time.Now().UnixMilli(),
	})
}

// flush sends everything a successful task queued, then hands the audit records off asynchronously.
func (r *Room) flush() {
	if r.stateDirty || len(r.outbox) > 0 || len(r.records) > 0 {
		r.lastActive.Store(time.Now().UnixNano())
	}
	if r.stateDirty {
		for _, p := range r.players {
			r.queue(p.ID, models.EventRoomStateUpdated, r.stateFor(p.ID))
		}
	}
	for _, d := range r.outbox {
		r.send(d.playerID, d.msg)
	}

	if r.recorder != nil && len(r.records) > 0 {
		recs := make([]models.RoomActionRecord, len(r.records))
		copy(recs, r.records)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for _, rec := range recs {
				if err := r.recorder.RecordAction(ctx, rec); err != nil {
					r.logger.Warnf("Failed to record action %s #%d: %v", rec.ActionType, rec.ActionIndex, err)
				}
			}
		}()
	}
	r.discard()
}

// discard drops everything queued by the current task.
func (r *Room) discard() {
	r.outbox = r.outbox[:0]
	r.records = r.records[:0]
	r.stateDirty = false
}

func (r *Room) member(id uuid.UUID) (*Player, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, ErrPlayerNotInRoom
	}
	return p, nil
}

func (r *Room) playerIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(r.players))
	for i, p := range r.players {
		ids[i] = p.ID
	}
	return ids
}

func (r *Room) storytellerIndex() int {
	for i, p := range r.players {
		if p.ID == r.storyPlayerID {
			return i
		}
	}
	return -1
}
