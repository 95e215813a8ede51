// Package difflog implements the C4 Diff-Log Builder: the pipeline's core
// component. It normalizes raw changes (via packument), diffs them against
// prior per-package hash state, and appends the resulting mutation entries
// to the diff log — all inside one transaction per page, advancing the
// stage cursor only on success.
//
// Grounded on original_source/diff_log_builder/src/main.rs (the page loop,
// PAGE_SIZE, transaction-per-page, panic-without-advancing-cursor contract).
package difflog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/a-h/npm-mirror/db"
	"github.com/a-h/npm-mirror/packument"
)

// PageSize mirrors original_source's PAGE_SIZE = 1024.
const PageSize = 1024

// Metrics receives progress signals from the builder. A nil Metrics is
// valid; every method is a no-op in that case.
type Metrics interface {
	StartSession(startSeqExclusive, totalSeqs int64)
	BatchComplete(firstSeq, lastSeq, numProcessed int64)
	Panic(seq int64, message string)
	EndSession(startSeqExclusive, endSeqInclusive int64)
}

// Builder drives the C4 page loop against a *db.DB.
type Builder struct {
	DB      *db.DB
	Log     *slog.Logger
	Metrics Metrics
}

func (b *Builder) logger() *slog.Logger {
	if b.Log != nil {
		return b.Log
	}
	return slog.Default()
}

func (b *Builder) metrics() Metrics {
	if b.Metrics != nil {
		return b.Metrics
	}
	return noopMetrics{}
}

// ProcessChange normalizes one raw change and diffs it against store,
// writing the updated hash state and any resulting diff-log entries. It is
// the unit the builder applies to every row of a page, and is exported
// un-wrapped so tests can drive it directly against a fake HashStore.
func ProcessChange(ctx context.Context, store HashStore, log *slog.Logger, change db.RawChange) error {
	ev, err := packument.ParseChangeEvent(change.RawJSON)
	if err != nil {
		return fmt.Errorf("seq %d: %w", change.Seq, err)
	}

	pkg, versions, err := packument.Normalize(change.Seq, ev.Doc, ev.Deleted, log)
	if err != nil {
		return fmt.Errorf("seq %d: %w", change.Seq, err)
	}

	priorPkg, err := store.GetHashState(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("seq %d: %w", change.Seq, err)
	}
	priorVersions, err := store.GetVersionHashStates(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("seq %d: %w", change.Seq, err)
	}

	entries, newPkgState, newVersionStates, err := diffChange(ev.ID, priorPkg, priorVersions, pkg, versions)
	if err != nil {
		return fmt.Errorf("seq %d: %w", change.Seq, err)
	}

	if err := store.UpsertHashState(ctx, newPkgState); err != nil {
		return fmt.Errorf("seq %d: %w", change.Seq, err)
	}
	for _, v := range newVersionStates {
		if err := store.UpsertVersionHashState(ctx, v); err != nil {
			return fmt.Errorf("seq %d: %w", change.Seq, err)
		}
	}

	if len(entries) == 0 {
		return nil
	}
	logEntries := make([]db.DiffLogEntry, len(entries))
	for i, e := range entries {
		logEntries[i] = db.DiffLogEntry{Seq: change.Seq, PackageName: e.PackageName, Kind: e.Kind, Payload: e.Payload}
	}
	if err := store.InsertDiffLogEntries(ctx, logEntries); err != nil {
		return fmt.Errorf("seq %d: %w", change.Seq, err)
	}
	return nil
}

// ProcessPage runs every change in a page through ProcessChange and advances
// the diff-log cursor, all inside a single transaction (spec §4.4: "each
// page is handled in a single transaction"). An error rolls back the whole
// page and leaves the cursor untouched, so a restart resumes at the same
// seq (the idempotence property, P1, depends on this).
func (b *Builder) ProcessPage(ctx context.Context, changes []db.RawChange) error {
	if len(changes) == 0 {
		return nil
	}
	lastSeq := changes[len(changes)-1].Seq

	err := b.DB.WithTx(ctx, func(ctx context.Context, q db.Querier) error {
		store := querierHashStore{q: q}
		for _, c := range changes {
			if err := ProcessChange(ctx, store, b.logger(), c); err != nil {
				return err
			}
		}
		return db.SetCursor(ctx, q, db.CursorDiffLogProcessed, lastSeq)
	})
	if err != nil {
		b.metrics().Panic(lastSeq, err.Error())
		return err
	}
	b.metrics().BatchComplete(changes[0].Seq, lastSeq, int64(len(changes)))
	return nil
}

// Run drives the full page loop to completion: load the cursor, process
// pages of up to PageSize changes in ascending seq, and stop once a page
// returns fewer than PageSize rows (spec §4.4).
func (b *Builder) Run(ctx context.Context) error {
	processedUpTo, _, err := db.GetCursor(ctx, b.DB.Pool, db.CursorDiffLogProcessed)
	if err != nil {
		return fmt.Errorf("difflog: failed to load cursor: %w", err)
	}
	startSeqExclusive := processedUpTo

	for {
		changes, err := db.QueryChangesAfterSeq(ctx, b.DB.Pool, processedUpTo, PageSize)
		if err != nil {
			return fmt.Errorf("difflog: failed to query changes: %w", err)
		}
		if len(changes) == 0 {
			break
		}
		if err := b.ProcessPage(ctx, changes); err != nil {
			return err
		}
		processedUpTo = changes[len(changes)-1].Seq
		if int64(len(changes)) < PageSize {
			break
		}
	}

	b.metrics().EndSession(startSeqExclusive, processedUpTo)
	return nil
}

type noopMetrics struct{}

func (noopMetrics) StartSession(int64, int64)         {}
func (noopMetrics) BatchComplete(int64, int64, int64) {}
func (noopMetrics) Panic(int64, string)               {}
func (noopMetrics) EndSession(int64, int64)           {}
