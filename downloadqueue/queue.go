// Package downloadqueue implements the C5 Download Queue: it scans new
// CreateVersion/UpdateVersion diff-log entries and turns each one's dist
// block into a download task, chunked-inserted and cursor-advanced in one
// transaction per page, following the diff-log builder's page-loop pattern.
//
// Grounded on original_source/postgres_db/src/download_queue.rs
// (ENQUEUE_CHUNK_SIZE chunking) and the page-loop driver pattern shared with
// the diff-log builder (original_source/diff_log_builder/src/main.rs, whose
// own comment notes the loop is "duplicated in download_queuer/src/main.rs").
package downloadqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/a-h/npm-mirror/db"
)

// PageSize bounds how many diff-log rows are read per transaction.
const PageSize = 1024

// distPayload is the shape of a version diff-log entry's payload that this
// package cares about — the `dist` sub-object of packument's canonical
// version record (packument/canon.go's canonicalVersion).
type distPayload struct {
	Dist struct {
		TarballURL   string  `json:"tarball_url"`
		Shasum       *string `json:"shasum"`
		UnpackedSize *int64  `json:"unpacked_size"`
		FileCount    *int32  `json:"file_count"`
		Integrity    *string `json:"integrity"`
		Signatures   []struct {
			KeyID string `json:"keyid"`
			Sig   string `json:"sig"`
		} `json:"signatures"`
	} `json:"dist"`
}

// Queue drives the C5 page loop against a *db.DB.
type Queue struct {
	DB  *db.DB
	Log *slog.Logger

	// Now returns the current time; overridable in tests.
	Now func() time.Time
}

func (q *Queue) logger() *slog.Logger {
	if q.Log != nil {
		return q.Log
	}
	return slog.Default()
}

func (q *Queue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

// taskFromEntry extracts a download task from a CreateVersion/UpdateVersion
// diff-log entry's payload, or (false, nil) if the entry isn't a version
// mutation or carries no tarball URL (e.g. a DeleteVersion's null payload).
func (q *Queue) taskFromEntry(e db.DiffLogEntry) (db.DownloadTask, bool, error) {
	if e.Kind != db.KindCreateVersion && e.Kind != db.KindUpdateVersion {
		return db.DownloadTask{}, false, nil
	}
	var payload distPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return db.DownloadTask{}, false, fmt.Errorf("downloadqueue: failed to parse payload for diff log entry %d: %w", e.ID, err)
	}
	if payload.Dist.TarballURL == "" {
		return db.DownloadTask{}, false, nil
	}

	var sigBytes []byte
	if len(payload.Dist.Signatures) > 0 {
		b, err := json.Marshal(payload.Dist.Signatures)
		if err != nil {
			return db.DownloadTask{}, false, fmt.Errorf("downloadqueue: failed to marshal signatures for %q: %w", payload.Dist.TarballURL, err)
		}
		sigBytes = b
	}

	task := db.FreshDownloadTask(
		payload.Dist.TarballURL,
		payload.Dist.Shasum,
		payload.Dist.UnpackedSize,
		payload.Dist.FileCount,
		payload.Dist.Integrity,
		sigBytes,
		q.now(),
	)
	return task, true, nil
}

// ProcessPage enqueues download tasks for every version mutation in
// entries and advances the cursor to the last entry's ID, all inside a
// single transaction (spec §4.5).
func (q *Queue) ProcessPage(ctx context.Context, entries []db.DiffLogEntry) (enqueued int64, err error) {
	if len(entries) == 0 {
		return 0, nil
	}
	lastID := entries[len(entries)-1].ID

	var tasks []db.DownloadTask
	for _, e := range entries {
		task, ok, err := q.taskFromEntry(e)
		if err != nil {
			return 0, err
		}
		if ok {
			tasks = append(tasks, task)
		}
	}

	err = q.DB.WithTx(ctx, func(ctx context.Context, tx db.Querier) error {
		n, err := db.EnqueueDownloads(ctx, tx, tasks)
		if err != nil {
			return err
		}
		enqueued = n
		return db.SetCursor(ctx, tx, db.CursorQueuedDownloads, lastID)
	})
	if err != nil {
		return 0, err
	}
	return enqueued, nil
}

// Run drives the full page loop to completion.
func (q *Queue) Run(ctx context.Context) error {
	processedUpTo, _, err := db.GetCursor(ctx, q.DB.Pool, db.CursorQueuedDownloads)
	if err != nil {
		return fmt.Errorf("downloadqueue: failed to load cursor: %w", err)
	}

	for {
		entries, err := db.QueryDiffLogAfterID(ctx, q.DB.Pool, processedUpTo, PageSize)
		if err != nil {
			return fmt.Errorf("downloadqueue: failed to query diff log: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		n, err := q.ProcessPage(ctx, entries)
		if err != nil {
			return err
		}
		q.logger().Info("enqueued download tasks", slog.Int64("count", n), slog.Int("page_entries", len(entries)))
		processedUpTo = entries[len(entries)-1].ID
		if int64(len(entries)) < PageSize {
			break
		}
	}
	return nil
}
