package difflog

import (
	"context"

	"github.com/a-h/npm-mirror/db"
)

// HashStore is the narrow slice of db.DB the builder needs per page. It
// exists so tests can swap in a map-backed fake instead of a real Postgres
// connection (the teacher's own storage tests split the same way: fast unit
// tests against a fake, slow integration tests against the real backend).
type HashStore interface {
	GetHashState(ctx context.Context, packageName string) (*db.HashStateRow, error)
	UpsertHashState(ctx context.Context, s db.HashStateRow) error
	GetVersionHashStates(ctx context.Context, packageName string) ([]db.VersionHashStateRow, error)
	UpsertVersionHashState(ctx context.Context, v db.VersionHashStateRow) error
	InsertDiffLogEntries(ctx context.Context, entries []db.DiffLogEntry) error
}

// querierHashStore adapts a db.Querier (a live transaction or pool) to
// HashStore by delegating to the db package's free functions.
type querierHashStore struct {
	q db.Querier
}

func (s querierHashStore) GetHashState(ctx context.Context, packageName string) (*db.HashStateRow, error) {
	return db.GetHashState(ctx, s.q, packageName)
}

func (s querierHashStore) UpsertHashState(ctx context.Context, st db.HashStateRow) error {
	return db.UpsertHashState(ctx, s.q, st)
}

func (s querierHashStore) GetVersionHashStates(ctx context.Context, packageName string) ([]db.VersionHashStateRow, error) {
	return db.GetVersionHashStates(ctx, s.q, packageName)
}

func (s querierHashStore) UpsertVersionHashState(ctx context.Context, v db.VersionHashStateRow) error {
	return db.UpsertVersionHashState(ctx, s.q, v)
}

func (s querierHashStore) InsertDiffLogEntries(ctx context.Context, entries []db.DiffLogEntry) error {
	return db.InsertDiffLogEntries(ctx, s.q, entries)
}
