package database

import (
	"context"
	"fmt"
	"time"

	"offlinesync/internal/domain"
	"offlinesync/internal/models"
)

func (db *DB) RecordDeadLetter(ctx context.Context, action models.PendingAction, reason string) error {
	query := `INSERT INTO dead_letters (action_id, action_type, key, payload, attempts, enqueued_at, reason, dropped_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		action.ID,
		action.Type,
		action.Key,
		string(action.Payload),
		action.Attempts,
		action.Timestamp,
		reason,
		time.Now().UTC(),
	)
	if err != nil {
		return domain.NewError(domain.KindStorage, "record dead letter", err)
	}
	return nil
}

// ListDeadLetters returns the newest entries first. limit <= 0 returns all.
func (db *DB) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	query := `SELECT id, action_id, action_type, key, payload, attempts, enqueued_at, reason, dropped_at
              FROM dead_letters ORDER BY id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letters: %w", err)
	}
	defer rows.Close()

	var letters []models.DeadLetter
	for rows.Next() {
		var (
			dl      models.DeadLetter
			payload string
		)
		err := rows.Scan(
			&dl.ID, &dl.Action.ID, &dl.Action.Type, &dl.Action.Key, &payload, &dl.Action.Attempts, &dl.Action.Timestamp, &dl.Reason, &dl.DroppedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		if payload != "" {
			dl.Action.Payload = []byte(payload)
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

// PurgeDeadLetters deletes entries dropped before cutoff and returns how many went.
func (db *DB) PurgeDeadLetters(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM dead_letters WHERE dropped_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead letters: %w", err)
	}
	return result.RowsAffected()
}
