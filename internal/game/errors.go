// internal/game/errors.go
package game

import (
	"errors"

	"github.com/macqm/teexid/internal/cards"
	"github.com/macqm/teexid/internal/models"
)

var (
	ErrNotIdentified      = errors.New("connection is not identified")
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full")
	ErrGameAlreadyStarted = errors.New("game already started")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrPoolExhausted      = cards.ErrPoolExhausted
	ErrPlayerNotInRoom    = errors.New("player is not in a room")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrRoomFailed         = errors.New("room failed")
)

// errorCodes is checked in order; the first match names the error on the wire.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotIdentified, "not_identified"},
	{ErrRoomNotFound, "room_not_found"},
	{ErrRoomFull, "room_full"},
	{ErrGameAlreadyStarted, "game_already_started"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrPoolExhausted, "pool_exhausted"},
	{ErrPlayerNotInRoom, "player_not_in_room"},
	{ErrInvalidPayload, "invalid_payload"},
	{ErrRoomFailed, "room_failed"},
}

// ErrorCode maps err to the error type reported to clients.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal_error"
}

// ErrorMessage builds the error event sent back to the acting connection.
func ErrorMessage(err error) models.OutboundMessage {
	return models.OutboundMessage{
		Type: models.EventError,
		Payload: models.ErrorPayload{
			Type:    ErrorCode(err),
			Message: err.Error(),
		},
	}
}
