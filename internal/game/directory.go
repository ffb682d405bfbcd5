// internal/game/directory.go
package game

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/macqm/teexid/internal/models"
	"github.com/sirupsen/logrus"
)

const maxRoomNameLength = 64

// Directory owns every live room, keyed by case-insensitive name, and knows which room each player belongs to.
type Directory struct {
	opts     Options
	send     SendFunc
	recorder ActionRecorder
	logger   logrus.FieldLogger

	mu      sync.Mutex
	rooms   map[string]*Room
	members map[uuid.UUID]*Room
}

// NewDirectory creates an empty directory. Rooms it creates deliver through send.
func NewDirectory(opts Options, send SendFunc, recorder ActionRecorder, logger logrus.FieldLogger) *Directory {
	return &Directory{
		opts:     opts,
		send:     send,
		recorder: recorder,
		logger:   logger,
		rooms:    make(map[string]*Room),
		members:  make(map[uuid.UUID]*Room),
	}
}

func roomKey(name string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", fmt.Errorf("%w: room name is required", ErrInvalidPayload)
	}
	if utf8.RuneCountInString(name) > maxRoomNameLength {
		return "", "", fmt.Errorf("%w: room name is longer than %d characters", ErrInvalidPayload, maxRoomNameLength)
	}
	return strings.ToLower(name), name, nil
}

// FindOrCreate returns the room with the given name, creating it on first use.
func (d *Directory) FindOrCreate(name string) (*Room, error) {
	key, display, err := roomKey(name)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.rooms[key]; ok {
		return r, nil
	}
	r := NewRoom(display, d.opts, d.send, d.recorder, d.logger)
	d.rooms[key] = r
	d.logger.WithFields(logrus.Fields{"room": display, "room_id": r.ID}).Info("Room created")
	return r, nil
}

// Find returns an existing room.
func (d *Directory) Find(name string) (*Room, error) {
	key, _, err := roomKey(name)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rooms[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRoomNotFound, strings.TrimSpace(name))
	}
	return r, nil
}

// FindByPlayer returns the room the player currently belongs to.
func (d *Directory) FindByPlayer(playerID uuid.UUID) (*Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.members[playerID]
	if !ok {
		return nil, ErrPlayerNotInRoom
	}
	return r, nil
}

// Bind records that playerID is a member of r, replacing any previous membership.
func (d *Directory) Bind(playerID uuid.UUID, r *Room) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[playerID] = r
}

// Unbind drops the membership only if it still points at r.
func (d *Directory) Unbind(playerID uuid.UUID, r *Room) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.members[playerID] == r {
		delete(d.members, playerID)
	}
}

// Rooms returns every live room ordered by name.
func (d *Directory) Rooms() []*Room {
	d.mu.Lock()
	out := make([]*Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, r)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}

// Summaries lists every room. Failed rooms are listed without asking their worker.
func (d *Directory) Summaries(ctx context.Context) []models.RoomSummary {
	rooms := d.Rooms()
	out := make([]models.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		if r.Failed() {
			out = append(out, models.RoomSummary{ID: r.ID, Name: r.Name, Failed: true})
			continue
		}
		s, err := r.Summary(ctx)
		if err != nil {
			d.logger.Debugf("Skipping room %s in listing: %v", r.Name, err)
			continue
		}
		out = append(out, s)
	}
	return out
}

// Reap stops and removes rooms that have been idle since before cutoff, or that failed.
func (d *Directory) Reap(cutoff time.Time) int {
	var reaped []*Room

	d.mu.Lock()
	for key, r := range d.rooms {
		if r.Failed() || r.LastActive().Before(cutoff) {
			delete(d.rooms, key)
			reaped = append(reaped, r)
		}
	}
	for playerID, r := range d.members {
		for _, gone := range reaped {
			if r == gone {
				delete(d.members, playerID)
				break
			}
		}
	}
	d.mu.Unlock()

	for _, r := range reaped {
		r.Stop()
		d.logger.WithFields(logrus.Fields{"room": r.Name, "room_id": r.ID, "failed": r.Failed()}).Info("Room reaped")
	}
	return len(reaped)
}

// RunReaper removes idle rooms until ctx is done. It returns at once when RoomTimeout is zero.
func (d *Directory) RunReaper(ctx context.Context) {
	if d.opts.RoomTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(d.opts.RoomTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.Reap(now.Add(-d.opts.RoomTimeout))
		}
	}
}

// Close stops every room.
func (d *Directory) Close() {
	d.mu.Lock()
	rooms := d.rooms
	d.rooms = make(map[string]*Room)
	d.members = make(map[uuid.UUID]*Room)
	d.mu.Unlock()

	for _, r := range rooms {
		r.Stop()
	}
}
