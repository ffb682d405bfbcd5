// internal/game/room_worker.go
package game

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/macqm/teexid/internal/models"
	"github.com/sirupsen/logrus"
)

type task struct {
	name string
	fn   func() error
	done chan error
}

// run is the room's worker loop. Every mutation and every snapshot read goes through it.
func (r *Room) run() {
	for {
		select {
		case t := <-r.tasks:
			t.done <- r.runTask(t)
		case <-r.quit:
			return
		}
	}
}

func (r *Room) runTask(t task) (err error) {
	if r.failed.Load() {
		return fmt.Errorf("%w: %s", ErrRoomFailed, r.Name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.failed.Store(true)
			r.discard()
			r.logger.WithFields(logrus.Fields{"task": t.name, "panic": rec}).Error("Room task panicked, room marked failed")
			err = fmt.Errorf("%w: %s", ErrRoomFailed, r.Name)
		}
	}()

	if err := t.fn(); err != nil {
		r.discard()
		return err
	}
	r.flush()
	return nil
}

// do queues fn on the worker and waits for its result.
func (r *Room) do(ctx context.Context, name string, fn func() error) error {
	t := task{name: name, fn: fn, done: make(chan error, 1)}
	select {
	case r.tasks <- t:
	case <-r.quit:
		return fmt.Errorf("%w: %s was closed", ErrRoomNotFound, r.Name)
	case <-ctx.Done():
		return ctx.Err()
	}

	// Once queued the task will run, so its result is awaited even if ctx ends.
	select {
	case err := <-t.done:
		return err
	case <-r.quit:
		return fmt.Errorf("%w: %s was closed", ErrRoomNotFound, r.Name)
	}
}

// Stop terminates the worker. Pending and later calls fail with ErrRoomNotFound.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

// Failed reports whether a task crashed the room.
func (r *Room) Failed() bool { return r.failed.Load() }

// LastActive is the time of the last task that changed the room.
func (r *Room) LastActive() time.Time { return time.Unix(0, r.lastActive.Load()) }

func (r *Room) Join(ctx context.Context, playerID uuid.UUID, name string) error {
	return r.do(ctx, models.MsgJoinRoom, func() error { return r.join(playerID, name) })
}

// CanJoin reports whether Join would succeed right now. The room is not changed.
func (r *Room) CanJoin(ctx context.Context, playerID uuid.UUID, name string) error {
	return r.do(ctx, "can_join", func() error {
		_, _, err := r.checkJoin(playerID, name)
		return err
	})
}

// MemberName returns the name a member is seated under.
func (r *Room) MemberName(ctx context.Context, playerID uuid.UUID) (string, error) {
	var name string
	err := r.do(ctx, "member_name", func() error {
		p, err := r.member(playerID)
		if err != nil {
			return err
		}
		name = p.Name
		return nil
	})
	return name, err
}

func (r *Room) Leave(ctx context.Context, playerID uuid.UUID) error {
	return r.do(ctx, models.MsgLeaveRoom, func() error { return r.leave(playerID) })
}

func (r *Room) UpdateName(ctx context.Context, playerID uuid.UUID, name string) error {
	return r.do(ctx, models.MsgUpdateName, func() error { return r.updateName(playerID, name) })
}

func (r *Room) MarkReady(ctx context.Context, playerID uuid.UUID) error {
	return r.do(ctx, models.MsgMarkReady, func() error { return r.markReady(playerID) })
}

func (r *Room) StartGame(ctx context.Context, playerID uuid.UUID) error {
	return r.do(ctx, models.MsgStartGame, func() error { return r.startGame(playerID) })
}

func (r *Room) SubmitStory(ctx context.Context, playerID uuid.UUID, story string, card models.CardID) error {
	return r.do(ctx, models.MsgSubmitStory, func() error { return r.submitStory(playerID, story, card) })
}

func (r *Room) SubmitStoryCard(ctx context.Context, playerID uuid.UUID, card models.CardID) error {
	return r.do(ctx, models.MsgSubmitStoryCard, func() error { return r.submitStoryCard(playerID, card) })
}

func (r *Room) Vote(ctx context.Context, playerID uuid.UUID, card models.CardID) error {
	return r.do(ctx, models.MsgVote, func() error { return r.vote(playerID, card) })
}

func (r *Room) AdvanceTurn(ctx context.Context, playerID uuid.UUID) error {
	return r.do(ctx, models.MsgAdvanceTurn, func() error { return r.advanceTurn(playerID) })
}

func (r *Room) RestartGame(ctx context.Context, playerID uuid.UUID) error {
	return r.do(ctx, models.MsgRestartGame, func() error { return r.restartGame(playerID) })
}

// SetConnected records a player's presence and tells the room when it changes.
func (r *Room) SetConnected(ctx context.Context, playerID uuid.UUID, connected bool) error {
	return r.do(ctx, "set_connected", func() error { return r.setConnected(playerID, connected) })
}

// Sync sends a full snapshot (room state and own hand) to a single connection of a member.
// It is read on the worker, so the connection never sees a half-applied action.
func (r *Room) Sync(ctx context.Context, playerID uuid.UUID, conn Sender) error {
	return r.do(ctx, "sync", func() error {
		p, err := r.member(playerID)
		if err != nil {
			return err
		}
		conn.Send(models.OutboundMessage{Type: models.EventRoomStateUpdated, Payload: r.stateFor(playerID)})
		conn.Send(models.OutboundMessage{Type: models.EventCardsDealt, Payload: models.CardsDealt{Cards: p.handCopy()}})
		return nil
	})
}

// State returns the snapshot viewer would receive. A zero viewer gets the public view.
func (r *Room) State(ctx context.Context, viewer uuid.UUID) (models.RoomState, error) {
	var st models.RoomState
	err := r.do(ctx, "state", func() error {
		st = r.stateFor(viewer).State
		return nil
	})
	return st, err
}

// Hand returns a copy of a member's hand.
func (r *Room) Hand(ctx context.Context, playerID uuid.UUID) ([]models.CardID, error) {
	var hand []models.CardID
	err := r.do(ctx, "hand", func() error {
		p, err := r.member(playerID)
		if err != nil {
			return err
		}
		hand = p.handCopy()
		return nil
	})
	return hand, err
}

func (r *Room) Summary(ctx context.Context) (models.RoomSummary, error) {
	var s models.RoomSummary
	err := r.do(ctx, "summary", func() error {
		s = r.summary()
		return nil
	})
	return s, err
}
