// internal/database/rooms.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/macqm/teexid/internal/models"
)

// Store persists room action logs and final scores.
type Store struct {
	db TxBeginner
}

func NewStore(db TxBeginner) *Store {
	return &Store{db: db}
}

// SaveActions writes a batch of actions in one transaction. Replayed actions are ignored,
// so a batch may be retried after a partial failure.
func (s *Store) SaveActions(ctx context.Context, recs []models.RoomActionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range recs {
			if err := insertRoomActionTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insertRoomActionTx %s #%d: %w", rec.RoomID, rec.ActionIndex, err)
			}
		}
		return nil
	})
}

// MarkAbandoned flags a room whose game never finished.
func (s *Store) MarkAbandoned(ctx context.Context, roomID uuid.UUID) error {
	return BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			UPDATE rooms
			SET status = 'abandoned', ended_at = NOW()
			WHERE id = $1 AND status = 'active'
		`
		_, err := tx.Exec(ctx, q, roomID)
		return err
	})
}

func insertRoomActionTx(ctx context.Context, tx pgx.Tx, rec models.RoomActionRecord) error {
	at := time.UnixMilli(rec.Timestamp)

	upsertRoomQ := `
		INSERT INTO rooms (id, name, status, last_action_at)
		VALUES ($1, $2, 'active', $3)
		ON CONFLICT (id)
		DO UPDATE SET last_action_at = GREATEST(rooms.last_action_at, EXCLUDED.last_action_at)
	`
	if _, err := tx.Exec(ctx, upsertRoomQ, rec.RoomID, rec.RoomName, at); err != nil {
		return err
	}

	jsonPayload, err := json.Marshal(rec.ActionPayload)
	if err != nil {
		return err
	}
	var actor *uuid.UUID
	if rec.ActorID != uuid.Nil {
		actor = &rec.ActorID
	}
	actionInsertQ := `
		INSERT INTO room_actions (
			room_id, action_index, actor_id, action_type, action_payload, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, action_index) DO NOTHING
	`
	tag, err := tx.Exec(ctx, actionInsertQ, rec.RoomID, rec.ActionIndex, actor, rec.ActionType, jsonPayload, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	switch rec.ActionType {
	case models.ActionGameEnd:
		return finishRoomTx(ctx, tx, rec)
	case models.ActionRestartGame, models.ActionStartGame:
		_, err := tx.Exec(ctx, `UPDATE rooms SET status = 'active', ended_at = NULL WHERE id = $1`, rec.RoomID)
		return err
	}
	return nil
}

func finishRoomTx(ctx context.Context, tx pgx.Tx, rec models.RoomActionRecord) error {
	finalizeQ := `
		UPDATE rooms
		SET status = 'finished', ended_at = $2
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, finalizeQ, rec.RoomID, time.UnixMilli(rec.Timestamp)); err != nil {
		return err
	}

	scores := ScoresFromPayload(rec.ActionPayload)
	winners := Winners(scores)
	for playerID, score := range scores {
		q := `
			INSERT INTO room_results (room_id, action_index, player_id, score, did_win)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (room_id, action_index, player_id)
			DO UPDATE SET score = $4, did_win = $5
		`
		if _, err := tx.Exec(ctx, q, rec.RoomID, rec.ActionIndex, playerID, score, winners[playerID]); err != nil {
			return err
		}
	}
	return nil
}

// ScoresFromPayload reads the "scores" map of a game_finished action. Entries with
// malformed ids or scores are skipped.
func ScoresFromPayload(payload map[string]interface{}) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int)
	raw, ok := payload["scores"].(map[string]interface{})
	if !ok {
		return out
	}
	for k, v := range raw {
		id, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			out[id] = int(n)
		case int:
			out[id] = n
		case json.Number:
			if i, err := n.Int64(); err == nil {
				out[id] = int(i)
			}
		}
	}
	return out
}

// Winners marks every player holding the top score.
func Winners(scores map[uuid.UUID]int) map[uuid.UUID]bool {
	best, found := 0, false
	for _, s := range scores {
		if !found || s > best {
			best, found = s, true
		}
	}
	out := make(map[uuid.UUID]bool, len(scores))
	for id, s := range scores {
		out[id] = found && s == best
	}
	return out
}
