// internal/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/macqm/teexid/internal/game"
	"github.com/macqm/teexid/internal/models"
	"github.com/sirupsen/logrus"
)

// playerNamespace turns free-form client ids into stable UUIDs.
var playerNamespace = uuid.MustParse("6f1c34a2-5d0b-4c47-9a86-2b4f1a9e7c10")

// TokenVerifier checks an identify token and returns the player it was issued to.
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// Dispatcher routes inbound messages from connections to the owning room.
type Dispatcher struct {
	conns    *Connections
	dir      *game.Directory
	verifier TokenVerifier
	logger   logrus.FieldLogger

	// locks serializes the actions of one player identity across all of its connections,
	// so a join that moves between rooms is never interleaved with another action.
	// Entries live only while someone holds or waits for them.
	locksMu sync.Mutex
	locks   map[uuid.UUID]*playerLock
}

// New creates a dispatcher. verifier may be nil, in which case identify trusts the player id.
func New(conns *Connections, dir *game.Directory, verifier TokenVerifier, logger logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		conns:    conns,
		dir:      dir,
		verifier: verifier,
		logger:   logger,
		locks:    make(map[uuid.UUID]*playerLock),
	}
}

// PlayerID maps a client supplied id to a player identity. UUIDs are used as is.
func PlayerID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: playerId is required", game.ErrInvalidPayload)
	}
	if id, err := uuid.Parse(raw); err == nil && id != uuid.Nil {
		return id, nil
	}
	return uuid.NewSHA1(playerNamespace, []byte(raw)), nil
}

type playerLock struct {
	mu   sync.Mutex
	refs int
}

// lockPlayer blocks until id's actions are serialized behind the caller and returns the release func.
func (d *Dispatcher) lockPlayer(id uuid.UUID) func() {
	d.locksMu.Lock()
	l, ok := d.locks[id]
	if !ok {
		l = &playerLock{}
		d.locks[id] = l
	}
	l.refs++
	d.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, id)
		}
		d.locksMu.Unlock()
	}
}

// Handle decodes one raw frame and routes it. Failures are reported to conn only.
func (d *Dispatcher) Handle(ctx context.Context, conn Conn, data []byte) {
	var msg models.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		d.reject(conn, "", fmt.Errorf("%w: malformed message: %v", game.ErrInvalidPayload, err))
		return
	}
	if err := d.Route(ctx, conn, msg); err != nil {
		d.reject(conn, msg.Type, err)
	}
}

func (d *Dispatcher) reject(conn Conn, msgType string, err error) {
	d.logger.WithFields(logrus.Fields{
		"conn": conn.ID(),
		"type": msgType,
		"code": game.ErrorCode(err),
	}).Debugf("Rejected message: %v", err)
	conn.Send(game.ErrorMessage(err))
}

func decode(msg models.InboundMessage, v interface{}) error {
	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", game.ErrInvalidPayload, msg.Type, err)
	}
	return nil
}

// Route applies one inbound message on behalf of conn.
func (d *Dispatcher) Route(ctx context.Context, conn Conn, msg models.InboundMessage) error {
	switch msg.Type {
	case models.MsgPing:
		conn.Send(models.OutboundMessage{Type: models.EventPong, Payload: struct{}{}})
		return nil
	case models.MsgIdentify:
		var p models.IdentifyPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		return d.identifyWithToken(ctx, conn, p)
	}

	playerID, ok := d.conns.PlayerOf(conn)
	if !ok {
		return fmt.Errorf("%w: send identify before %s", game.ErrNotIdentified, msg.Type)
	}

	unlock := d.lockPlayer(playerID)
	defer unlock()

	switch msg.Type {
	case models.MsgJoinRoom:
		var p models.JoinRoomPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		return d.joinRoom(ctx, playerID, p)
	case models.MsgLeaveRoom:
		return d.leaveRoom(ctx, playerID)
	}

	room, err := d.dir.FindByPlayer(playerID)
	if err != nil {
		return err
	}

	switch msg.Type {
	case models.MsgUpdateName:
		var p models.UpdateNamePayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		return room.UpdateName(ctx, playerID, p.NewName)
	case models.MsgMarkReady:
		return room.MarkReady(ctx, playerID)
	case models.MsgStartGame:
		return room.StartGame(ctx, playerID)
	case models.MsgSubmitStory:
		var p models.SubmitStoryPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		return room.SubmitStory(ctx, playerID, p.Story, p.CardID)
	case models.MsgSubmitStoryCard:
		var p models.CardPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		return room.SubmitStoryCard(ctx, playerID, p.CardID)
	case models.MsgVote:
		var p models.CardPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		return room.Vote(ctx, playerID, p.CardID)
	case models.MsgAdvanceTurn:
		return room.AdvanceTurn(ctx, playerID)
	case models.MsgRestartGame:
		return room.RestartGame(ctx, playerID)
	default:
		return fmt.Errorf("%w: unknown message type %q", game.ErrInvalidPayload, msg.Type)
	}
}

func (d *Dispatcher) identifyWithToken(ctx context.Context, conn Conn, p models.IdentifyPayload) error {
	playerID, err := PlayerID(p.PlayerID)
	if err != nil {
		return err
	}
	if d.verifier != nil {
		subject, err := d.verifier.Verify(p.Token)
		if err != nil {
			return fmt.Errorf("%w: %v", game.ErrNotIdentified, err)
		}
		if subject != playerID {
			return fmt.Errorf("%w: token was issued to another player", game.ErrNotIdentified)
		}
	}
	return d.Identify(ctx, conn, playerID)
}

// Identify binds conn to a trusted player identity. When the player already sits in a
// room, the room learns it is connected and this connection alone gets a full snapshot.
func (d *Dispatcher) Identify(ctx context.Context, conn Conn, playerID uuid.UUID) error {
	if prev, ok := d.conns.PlayerOf(conn); ok {
		if prev == playerID {
			return d.resync(ctx, conn, playerID, false)
		}
		d.Disconnect(conn)
	}

	first := d.conns.Attach(conn, playerID)
	d.logger.WithFields(logrus.Fields{"conn": conn.ID(), "player": playerID, "first": first}).Debug("Connection identified")
	return d.resync(ctx, conn, playerID, first)
}

func (d *Dispatcher) resync(ctx context.Context, conn Conn, playerID uuid.UUID, first bool) error {
	room, err := d.dir.FindByPlayer(playerID)
	if err != nil {
		return nil
	}
	if first {
		if err := room.SetConnected(ctx, playerID, true); err != nil {
			return err
		}
	}
	return room.Sync(ctx, playerID, conn)
}

// joinRoom moves the player into the named room, leaving the previous one when allowed.
// A rejected join leaves the player where they were.
func (d *Dispatcher) joinRoom(ctx context.Context, playerID uuid.UUID, p models.JoinRoomPayload) error {
	room, err := d.dir.Find(p.RoomName)
	if errors.Is(err, game.ErrRoomNotFound) {
		// Never create a room for a join that is bound to fail.
		if err := game.ValidateName(p.PlayerName); err != nil {
			return err
		}
		room, err = d.dir.FindOrCreate(p.RoomName)
	}
	if err != nil {
		return err
	}
	if err := room.CanJoin(ctx, playerID, p.PlayerName); err != nil {
		return err
	}

	var prev *game.Room
	var prevName string
	if old, err := d.dir.FindByPlayer(playerID); err == nil && old != room {
		name, err := old.MemberName(ctx, playerID)
		if err == nil {
			err = old.Leave(ctx, playerID)
		}
		switch {
		case err == nil:
			prev, prevName = old, name
		case !staleRoom(err):
			return err
		}
		d.dir.Unbind(playerID, old)
	}

	if err := room.Join(ctx, playerID, p.PlayerName); err != nil {
		if prev != nil {
			d.reseat(playerID, prev, prevName)
		}
		return err
	}
	d.dir.Bind(playerID, room)
	d.logger.WithFields(logrus.Fields{"player": playerID, "room": room.Name}).Info("Player joined room")
	return nil
}

// staleRoom reports errors meaning the player's recorded room no longer holds them.
func staleRoom(err error) bool {
	return errors.Is(err, game.ErrPlayerNotInRoom) ||
		errors.Is(err, game.ErrRoomFailed) ||
		errors.Is(err, game.ErrRoomNotFound)
}

// reseat puts a player back in the room they left when the room they were moving to
// turned them away in the meantime.
func (d *Dispatcher) reseat(playerID uuid.UUID, room *game.Room, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := room.Join(ctx, playerID, name); err != nil {
		d.logger.WithFields(logrus.Fields{"player": playerID, "room": room.Name}).Warnf("Failed to restore seat after rejected join: %v", err)
		return
	}
	d.dir.Bind(playerID, room)
}

func (d *Dispatcher) leaveRoom(ctx context.Context, playerID uuid.UUID) error {
	room, err := d.dir.FindByPlayer(playerID)
	if err != nil {
		return err
	}
	if err := room.Leave(ctx, playerID); err != nil {
		return err
	}
	d.dir.Unbind(playerID, room)
	return nil
}

// Disconnect drops conn. The player keeps their seat; the room only hears about it
// once the last connection is gone.
func (d *Dispatcher) Disconnect(conn Conn) {
	playerID, last, ok := d.conns.Detach(conn)
	if !ok || !last {
		return
	}
	room, err := d.dir.FindByPlayer(playerID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := room.SetConnected(ctx, playerID, false); err != nil {
		d.logger.WithFields(logrus.Fields{"player": playerID, "room": room.Name}).Warnf("Failed to mark player disconnected: %v", err)
	}
}
