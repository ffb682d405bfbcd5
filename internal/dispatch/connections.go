// internal/dispatch/connections.go
package dispatch

import (
	"sync"

	"github.com/google/uuid"
	"github.com/macqm/teexid/internal/game"
	"github.com/macqm/teexid/internal/models"
	"github.com/sirupsen/logrus"
)

// Conn is one live client connection. Send must never block.
type Conn interface {
	game.Sender
	ID() string
}

// Connections maps player identities to their live connections. A player may hold several.
type Connections struct {
	logger logrus.FieldLogger

	mu       sync.RWMutex
	byPlayer map[uuid.UUID]map[string]Conn
	byConn   map[string]uuid.UUID
}

func NewConnections(logger logrus.FieldLogger) *Connections {
	return &Connections{
		logger:   logger,
		byPlayer: make(map[uuid.UUID]map[string]Conn),
		byConn:   make(map[string]uuid.UUID),
	}
}

// Attach binds conn to playerID and reports whether it is the player's only connection.
func (c *Connections) Attach(conn Conn, playerID uuid.UUID) (first bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.byPlayer[playerID]
	if !ok {
		set = make(map[string]Conn)
		c.byPlayer[playerID] = set
	}
	set[conn.ID()] = conn
	c.byConn[conn.ID()] = playerID
	return len(set) == 1
}

// Detach forgets conn. last is true when the player has no connection left.
func (c *Connections) Detach(conn Conn) (playerID uuid.UUID, last bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	playerID, ok = c.byConn[conn.ID()]
	if !ok {
		return uuid.Nil, false, false
	}
	delete(c.byConn, conn.ID())
	set := c.byPlayer[playerID]
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(c.byPlayer, playerID)
		return playerID, true, true
	}
	return playerID, false, true
}

// PlayerOf returns the identity conn was bound to.
func (c *Connections) PlayerOf(conn Conn) (uuid.UUID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byConn[conn.ID()]
	return id, ok
}

// Count returns how many live connections a player has.
func (c *Connections) Count(playerID uuid.UUID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byPlayer[playerID])
}

// Deliver fans msg out to every connection of playerID. It is the rooms' SendFunc.
func (c *Connections) Deliver(playerID uuid.UUID, msg models.OutboundMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, conn := range c.byPlayer[playerID] {
		if !conn.Send(msg) {
			c.logger.WithFields(logrus.Fields{
				"player": playerID,
				"conn":   id,
				"type":   msg.Type,
			}).Warn("Dropped outbound message")
		}
	}
}
