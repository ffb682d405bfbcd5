// internal/models/room_action.go
package models

import "github.com/google/uuid"

// Action types written to the audit queue.
const (
	ActionJoin        = "join"
	ActionLeave       = "leave"
	ActionStartGame   = "start_game"
	ActionSubmitStory = "submit_story"
	ActionSubmitCard  = "submit_story_card"
	ActionVote        = "vote"
	ActionTurnScored  = "turn_scored"
	ActionAdvanceTurn = "advance_turn"
	ActionGameEnd     = "game_finished"
	ActionRestartGame = "restart_game"
)

// RoomActionRecord holds what the historian needs to persist one accepted room action.
type RoomActionRecord struct {
	RoomID        uuid.UUID              `json:"room_id"`
	RoomName      string                 `json:"room_name"`
	ActionIndex   int                    `json:"action_index"`
	ActorID       uuid.UUID              `json:"actor_id"`
	ActionType    string                 `json:"action_type"`
	ActionPayload map[string]interface{} `json:"action_payload"`
	Timestamp     int64                  `json:"timestamp"`
}
