package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DiffKind enumerates the diff-log entry kinds (data model §3), carried
// over verbatim from original_source/postgres_db/src/custom_types/diff_log.rs.
type DiffKind string

const (
	KindCreatePackage          DiffKind = "create_package"
	KindUpdatePackage          DiffKind = "update_package"
	KindPatchPackageReferences DiffKind = "patch_package_references"
	KindDeletePackage          DiffKind = "delete_package"
	KindCreateVersion          DiffKind = "create_version"
	KindUpdateVersion          DiffKind = "update_version"
	KindDeleteVersion          DiffKind = "delete_version"
)

// DiffLogEntry is one append-only diff-log row. ID is the table's own
// strictly-increasing BIGSERIAL primary key, distinct from Seq (the source
// change's sequence, which several entries can share) — the download queue
// (C5) cursors on ID so a page boundary can never land mid-seq and skip a
// sibling entry.
type DiffLogEntry struct {
	ID          int64
	Seq         int64
	Ordinal     int // order of insertion within Seq (spec §4.4 step 5 / P4)
	PackageName string
	Kind        DiffKind
	Payload     []byte // canonical JSON
}

// InsertDiffLogEntries appends entries in order, one INSERT per entry, with
// each entry's ordinal set to its index in entries. Callers are expected to have already ordered entries per spec
// §4.4 step 5 (package-scope first, then versions ascending by semver).
func InsertDiffLogEntries(ctx context.Context, q Querier, entries []DiffLogEntry) error {
	for i, e := range entries {
		_, err := q.Exec(ctx, `
			INSERT INTO diff_log (seq, ordinal, package_name, kind, payload)
			VALUES ($1, $2, $3, $4, $5)
		`, e.Seq, i, e.PackageName, string(e.Kind), e.Payload)
		if err != nil {
			return fmt.Errorf("db: failed to insert diff log entry %d for seq %d: %w", i, e.Seq, err)
		}
	}
	return nil
}

// QueryDiffLogAfterSeq returns diff-log entries with seq strictly greater
// than afterSeq, ordered by (seq, ordinal) — used by the diff-log builder's
// own replay tests; the download queue (C5) uses QueryDiffLogAfterID
// instead, since its cursor must never land mid-seq.
func QueryDiffLogAfterSeq(ctx context.Context, q Querier, afterSeq int64, limit int64) ([]DiffLogEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, seq, ordinal, package_name, kind, payload FROM diff_log
		WHERE seq > $1
		ORDER BY seq ASC, ordinal ASC
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("db: failed to query diff log after seq %d: %w", afterSeq, err)
	}
	defer rows.Close()
	return scanDiffLogRows(rows)
}

// QueryDiffLogAfterID returns diff-log entries with id strictly greater
// than afterID, ordered ascending — the download queue's (C5) page source.
func QueryDiffLogAfterID(ctx context.Context, q Querier, afterID int64, limit int64) ([]DiffLogEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, seq, ordinal, package_name, kind, payload FROM diff_log
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("db: failed to query diff log after id %d: %w", afterID, err)
	}
	defer rows.Close()
	return scanDiffLogRows(rows)
}

func scanDiffLogRows(rows pgx.Rows) ([]DiffLogEntry, error) {
	var out []DiffLogEntry
	for rows.Next() {
		var e DiffLogEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.Seq, &e.Ordinal, &e.PackageName, &kind, &e.Payload); err != nil {
			return nil, fmt.Errorf("db: failed to scan diff log row: %w", err)
		}
		e.Kind = DiffKind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: error iterating diff log rows: %w", err)
	}
	return out, nil
}

// HashStateRow is the persisted form of the per-package hash state
// (data model §3).
type HashStateRow struct {
	PackageName string
	PackHash    *string
	Deleted     bool
}

// GetHashState loads the current package row, if any.
func GetHashState(ctx context.Context, q Querier, packageName string) (*HashStateRow, error) {
	row := q.QueryRow(ctx, `SELECT name, pack_hash, deleted FROM packages WHERE name = $1`, packageName)
	var s HashStateRow
	err := row.Scan(&s.PackageName, &s.PackHash, &s.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: failed to load hash state for %q: %w", packageName, err)
	}
	return &s, nil
}

// UpsertHashState writes the package-scope hash state.
func UpsertHashState(ctx context.Context, q Querier, s HashStateRow) error {
	_, err := q.Exec(ctx, `
		INSERT INTO packages (name, pack_hash, deleted) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET pack_hash = EXCLUDED.pack_hash, deleted = EXCLUDED.deleted
	`, s.PackageName, s.PackHash, s.Deleted)
	if err != nil {
		return fmt.Errorf("db: failed to upsert hash state for %q: %w", s.PackageName, err)
	}
	return nil
}

// VersionHashStateRow is the persisted form of one package's per-version
// hash-state entry.
type VersionHashStateRow struct {
	PackageName string
	Semver      string
	PackHash    string
	Deleted     bool
	TarballURL  string
}

// GetVersionHashStates loads every version hash-state row for a package.
func GetVersionHashStates(ctx context.Context, q Querier, packageName string) ([]VersionHashStateRow, error) {
	rows, err := q.Query(ctx, `
		SELECT package_name, semver, pack_hash, deleted, COALESCE(tarball_url, '') FROM versions
		WHERE package_name = $1
	`, packageName)
	if err != nil {
		return nil, fmt.Errorf("db: failed to load version hash states for %q: %w", packageName, err)
	}
	defer rows.Close()

	var out []VersionHashStateRow
	for rows.Next() {
		var v VersionHashStateRow
		if err := rows.Scan(&v.PackageName, &v.Semver, &v.PackHash, &v.Deleted, &v.TarballURL); err != nil {
			return nil, fmt.Errorf("db: failed to scan version hash state row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpsertVersionHashState writes a single version's hash state.
func UpsertVersionHashState(ctx context.Context, q Querier, v VersionHashStateRow) error {
	_, err := q.Exec(ctx, `
		INSERT INTO versions (package_name, semver, pack_hash, deleted, tarball_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (package_name, semver) DO UPDATE SET
			pack_hash = EXCLUDED.pack_hash,
			deleted = EXCLUDED.deleted,
			tarball_url = EXCLUDED.tarball_url
	`, v.PackageName, v.Semver, v.PackHash, v.Deleted, v.TarballURL)
	if err != nil {
		return fmt.Errorf("db: failed to upsert version hash state for %s@%s: %w", v.PackageName, v.Semver, err)
	}
	return nil
}
