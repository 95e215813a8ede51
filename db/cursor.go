package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Stage cursor keys (C1 Sequence Cursor, spec §4.1 and §12).
const (
	CursorDiffLogProcessed = "diff_log_processed_seq"
	CursorQueuedDownloads  = "queued_downloads_seq"
	CursorChangeFollower   = "change_follower_seq"
)

// GetCursor returns the latest durable sequence for stage, or (0, false) if
// the stage has never advanced.
func GetCursor(ctx context.Context, q Querier, stage string) (seq int64, ok bool, err error) {
	row := q.QueryRow(ctx, `SELECT value FROM internal_state WHERE key = $1`, stage)
	err = row.Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("db: failed to read cursor %q: %w", stage, err)
	}
	return seq, true, nil
}

// SetCursor upserts the latest durable sequence for stage. Per spec §4.1
// this must be called inside the same transaction that durably wrote the
// stage's outputs for seq.
func SetCursor(ctx context.Context, q Querier, stage string, seq int64) error {
	_, err := q.Exec(ctx, `
		INSERT INTO internal_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, stage, seq)
	if err != nil {
		return fmt.Errorf("db: failed to set cursor %q: %w", stage, err)
	}
	return nil
}
