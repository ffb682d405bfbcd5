// internal/models/state.go
package models

// CardID identifies a single card of a room's deck. Ids start at 1.
type CardID int

// GameState is the room-level lifecycle of a game.
type GameState string

const (
	GameWaiting  GameState = "waiting"
	GamePlaying  GameState = "playing"
	GameFinished GameState = "finished"
)

// TurnState is the sub-state of the current turn.
type TurnState string

const (
	TurnWaiting         TurnState = "waiting"
	TurnWaitingForStory TurnState = "waiting_for_story"
	TurnGuessing        TurnState = "guessing"
	TurnVoting          TurnState = "voting"
	TurnFinished        TurnState = "finished"
)

// PlayerStatus is the per-turn role progress of a player. Only room transitions write it.
type PlayerStatus string

const (
	StatusUnknown        PlayerStatus = "unknown"
	StatusStoryTelling   PlayerStatus = "story_telling"
	StatusStorySubmitted PlayerStatus = "story_submitted"
	StatusPickingCard    PlayerStatus = "picking_card"
	StatusSubmittedCard  PlayerStatus = "submitted_card"
	StatusVoting         PlayerStatus = "voting"
	StatusVoteSubmitted  PlayerStatus = "vote_submitted"
	StatusFinished       PlayerStatus = "finished"
)

// TurnResult classifies how a finished turn was scored.
type TurnResult string

const (
	ResultNobodyGuessed   TurnResult = "nobody_guessed"
	ResultEveryoneGuessed TurnResult = "everyone_guessed"
	ResultStoryGuessed    TurnResult = "story_guessed"
)
