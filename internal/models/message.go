// internal/models/message.go
package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Inbound message types.
const (
	MsgIdentify        = "identify"
	MsgJoinRoom        = "join_room"
	MsgLeaveRoom       = "leave_room"
	MsgUpdateName      = "update_name"
	MsgMarkReady       = "mark_ready"
	MsgStartGame       = "start_game"
	MsgSubmitStory     = "submit_story"
	MsgSubmitStoryCard = "submit_story_card"
	MsgVote            = "vote"
	MsgAdvanceTurn     = "advance_turn"
	MsgRestartGame     = "restart_game"
	MsgPing            = "ping"
)

// Outbound event types.
const (
	EventPong             = "pong"
	EventJoinRoom         = "on_join_room"
	EventLeaveRoom        = "on_leave_room"
	EventNameUpdated      = "on_name_updated"
	EventRoomStateUpdated = "on_room_state_updated"
	EventCardsDealt       = "on_cards_dealt"
	EventRoundEnded       = "on_round_ended"
	EventError            = "error"
)

// InboundMessage is the envelope received from a client. Payload is decoded once the type is known.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundMessage is the envelope sent to a client.
type OutboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type IdentifyPayload struct {
	PlayerID string `json:"playerId"`
	Token    string `json:"token,omitempty"`
}

type JoinRoomPayload struct {
	RoomName   string `json:"roomName"`
	PlayerName string `json:"playerName"`
}

type UpdateNamePayload struct {
	NewName string `json:"newName"`
}

type SubmitStoryPayload struct {
	Story  string `json:"story"`
	CardID CardID `json:"cardId"`
}

// CardPayload carries a single card for submit_story_card and vote.
type CardPayload struct {
	CardID CardID `json:"cardId"`
}

type JoinRoomResult struct {
	RoomName   string `json:"roomName"`
	PlayerName string `json:"playerName"`
	Success    bool   `json:"success"`
}

type LeaveRoomResult struct {
	RoomName string `json:"roomName"`
}

type NameUpdated struct {
	Name string `json:"name"`
}

type CardsDealt struct {
	Cards []CardID `json:"cards"`
}

type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PlayerView is the public part of a player, safe to show to every room member.
type PlayerView struct {
	ID            uuid.UUID    `json:"id"`
	Name          string       `json:"name"`
	Points        int          `json:"points"`
	Status        PlayerStatus `json:"status"`
	Ready         bool         `json:"ready"`
	Connected     bool         `json:"connected"`
	IsStoryteller bool         `json:"isStoryteller"`
}

// RoomState is a snapshot of a room as seen by one viewer.
type RoomState struct {
	GameState      GameState    `json:"gameState"`
	TurnState      TurnState    `json:"turnState"`
	TurnNumber     int          `json:"turnNumber"`
	StoryPlayerID  *uuid.UUID   `json:"storyPlayerId,omitempty"`
	Players        []PlayerView `json:"players"`
	Story          string       `json:"story"`
	StoryCard      CardID       `json:"storyCard,omitempty"`
	CardsSubmitted []CardID     `json:"cardsSubmitted"`
	SubmittedCard  CardID       `json:"submittedCard,omitempty"`
	VotedForCard   CardID       `json:"votedForCard,omitempty"`
	TurnResult     TurnResult   `json:"turnResult,omitempty"`
	Scores         []TurnScore  `json:"scores"`
}

type RoomStateUpdated struct {
	RoomName string    `json:"roomName"`
	State    RoomState `json:"state"`
}

// VoteView reveals one vote once a turn is over.
type VoteView struct {
	VoterID   uuid.UUID `json:"voterId"`
	VoterName string    `json:"voterName"`
	CardID    CardID    `json:"cardId"`
}

// SubmissionView reveals who played which card once a turn is over.
type SubmissionView struct {
	PlayerID   uuid.UUID `json:"playerId"`
	PlayerName string    `json:"playerName"`
	CardID     CardID    `json:"cardId"`
	IsStory    bool      `json:"isStory"`
	Votes      int       `json:"votes"`
}

type RoundEnded struct {
	Turn            int              `json:"turn"`
	StoryCard       CardID           `json:"storyCard"`
	StoryPlayerName string           `json:"storyPlayerName"`
	Result          TurnResult       `json:"result"`
	Scores          []ScoreEntry     `json:"scores"`
	Votes           []VoteView       `json:"votes"`
	CardsSubmitted  []SubmissionView `json:"cardsSubmitted"`
}

// RoomSummary is the directory listing entry for a room.
type RoomSummary struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	GameState  GameState `json:"gameState"`
	TurnNumber int       `json:"turnNumber"`
	Players    int       `json:"players"`
	Connected  int       `json:"connected"`
	Failed     bool      `json:"failed,omitempty"`
}
