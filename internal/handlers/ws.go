// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/macqm/teexid/internal/dispatch"
	"github.com/macqm/teexid/internal/game"
	"github.com/macqm/teexid/internal/middleware"
	"github.com/macqm/teexid/internal/models"
	"github.com/sirupsen/logrus"
)

// Subprotocol is the websocket subprotocol clients must request.
const Subprotocol = "teexid"

const (
	outboxSize   = 64
	readLimit    = 64 << 10
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pingTimeout  = 15 * time.Second
)

// wsConn is one websocket client as seen by the dispatcher. Outbound messages are queued
// on out and written by writePump, so Send never blocks a room.
type wsConn struct {
	id     string
	remote string
	out    chan models.OutboundMessage
}

func newWSConn(remote string) *wsConn {
	return &wsConn{
		id:     uuid.NewString(),
		remote: remote,
		out:    make(chan models.OutboundMessage, outboxSize),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues msg and reports false when the client is too far behind.
func (c *wsConn) Send(msg models.OutboundMessage) bool {
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// wsHandler upgrades the request and pumps messages between the client and the dispatcher.
// A valid handshake token identifies the connection up front; without one the client must
// send identify before anything else.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	remote := middleware.RealIP(r)

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: s.Origins,
	})
	if err != nil {
		s.Logger.Warnf("websocket accept error from %s: %v", remote, err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != Subprotocol {
		c.Close(BadSubprotocolError, "client must speak the teexid subprotocol")
		return
	}
	c.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := newWSConn(remote)
	defer s.Dispatcher.Disconnect(conn)

	if token := handshakeToken(r); token != "" && s.Keys != nil {
		playerID, err := s.Keys.Verify(token)
		if err != nil {
			s.Logger.WithField("remote", remote).Infof("Rejected websocket handshake token: %v", err)
			c.Close(InvalidAuthTokenError, "invalid auth token")
			return
		}
		if err := s.Dispatcher.Identify(ctx, conn, playerID); err != nil {
			conn.Send(game.ErrorMessage(err))
		}
	}

	middleware.LogWebSocketConnect(s.Logger, remote, r.URL.Path)
	go writePump(ctx, cancel, c, conn, s.Logger)

	err = readMessages(ctx, c, conn, s.Dispatcher, s.Logger)
	middleware.LogWebSocketDisconnect(s.Logger, remote, r.URL.Path, err)
	c.Close(websocket.StatusNormalClosure, "")
}

// readMessages feeds text frames to the dispatcher until the connection closes.
// A normal closure returns nil.
func readMessages(ctx context.Context, c *websocket.Conn, conn *wsConn, d *dispatch.Dispatcher, logger logrus.FieldLogger) error {
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			logger.Debugf("Ignoring non-text frame from %s", conn.remote)
			continue
		}
		d.Handle(ctx, conn, data)
	}
}

// writePump drains conn.out onto the socket and keeps the connection alive with pings.
// Any write failure cancels the connection context so the read side stops too.
func writePump(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, conn *wsConn, logger logrus.FieldLogger) {
	defer cancel()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-conn.out:
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("Failed to marshal %s for %s: %v", msg.Type, conn.remote, err)
				continue
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			writeCancel()
			if err != nil {
				logger.Debugf("Failed to write to websocket %s: %v", conn.remote, err)
				return
			}
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			pingCancel()
			if err != nil {
				logger.Debugf("Ping to %s failed, assuming disconnect: %v", conn.remote, err)
				return
			}
		}
	}
}
