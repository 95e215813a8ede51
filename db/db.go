// Package db provides the pipeline's connection to the relational store
// (spec §6): schema initialization, the stage cursor, the change log, the
// diff log, and the download-task/downloaded-tarball tables.
//
// Grounded on the teacher's db/db.go (embed-schema + Init pattern) and
// store/store.go (pgxpool construction for the postgres backend).
package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// DB wraps a pgx connection pool with the pipeline's table accessors.
type DB struct {
	Pool *pgxpool.Pool
}

// Connect opens a connection pool to databaseURL and ensures the schema
// exists. databaseURL is read by every cmd/* binary from DATABASE_URL
// (spec §6).
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: failed to create connection pool: %w", err)
	}
	d := &DB{Pool: pool}
	if err := d.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) init(ctx context.Context) error {
	if _, err := d.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("db: failed to initialize schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() { d.Pool.Close() }

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every table
// accessor in this package works identically whether called standalone or
// inside a WithTx transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// WithTx runs fn inside a single transaction, following spec §6's
// "ON_ERROR_STOP" atomicity contract: any error returned by fn rolls the
// transaction back; a nil error commits it. Cursor advancement (spec §4.1)
// must happen inside the same fn call that writes the stage's outputs, so
// that a crash between the two is impossible. fn receives a Querier rather
// than a concrete pgx.Tx so callers can swap in a fake for unit tests.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("db: failed to commit transaction: %w", err)
	}
	return nil
}
