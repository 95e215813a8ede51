package db

import (
	"context"
	"fmt"
)

// RawChange is an immutable (seq, raw_json) row (data model §3).
type RawChange struct {
	Seq     int64
	RawJSON []byte
}

// InsertChange upserts a raw change by seq (spec §4.2: "Restart must never
// replay already-inserted sequences (upsert on seq)").
func InsertChange(ctx context.Context, q Querier, seq int64, rawJSON []byte) error {
	_, err := q.Exec(ctx, `
		INSERT INTO change_log (seq, raw_json) VALUES ($1, $2)
		ON CONFLICT (seq) DO UPDATE SET raw_json = EXCLUDED.raw_json
	`, seq, rawJSON)
	if err != nil {
		return fmt.Errorf("db: failed to insert change at seq %d: %w", seq, err)
	}
	return nil
}

// QueryChangesAfterSeq returns up to limit raw changes with seq strictly
// greater than afterSeq, ordered ascending (spec §4.4's page loop).
func QueryChangesAfterSeq(ctx context.Context, q Querier, afterSeq, limit int64) ([]RawChange, error) {
	rows, err := q.Query(ctx, `
		SELECT seq, raw_json FROM change_log
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("db: failed to query changes after seq %d: %w", afterSeq, err)
	}
	defer rows.Close()

	var out []RawChange
	for rows.Next() {
		var c RawChange
		if err := rows.Scan(&c.Seq, &c.RawJSON); err != nil {
			return nil, fmt.Errorf("db: failed to scan change row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: error iterating change rows: %w", err)
	}
	return out, nil
}

// QueryLatestChangeSeq returns the highest seq present in change_log, with
// ok false when the table is empty. The change follower does not use it: it
// resumes the upstream feed from its change_follower_seq cursor.
func QueryLatestChangeSeq(ctx context.Context, q Querier) (seq int64, ok bool, err error) {
	row := q.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM change_log`)
	if err := row.Scan(&seq); err != nil {
		return 0, false, fmt.Errorf("db: failed to query latest change seq: %w", err)
	}
	return seq, seq > 0, nil
}
