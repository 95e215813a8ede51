package db

import (
	"context"
	"fmt"
	"time"
)

// enqueueChunkSize matches original_source's ENQUEUE_CHUNK_SIZE: download
// tasks are enqueued in chunks of this size, each task in the chunk with
// its own INSERT statement.
const enqueueChunkSize = 2048

// DownloadTask is a queued tarball download (data model §3), carrying the
// integrity metadata the download worker (C6) verifies against.
type DownloadTask struct {
	URL string

	Shasum       *string
	UnpackedSize *int64
	FileCount    *int32
	Integrity    *string
	Signatures   []byte // canonical JSON of packument.DistSignature list

	QueueTime   time.Time
	NumFailures int32
	LastFailure *time.Time
	Success     bool
}

// FreshDownloadTask builds an un-attempted task for url, as produced by the
// download queue (C5) when it observes a new or changed version's dist block.
func FreshDownloadTask(url string, shasum *string, unpackedSize *int64, fileCount *int32, integrity *string, signatures []byte, queueTime time.Time) DownloadTask {
	return DownloadTask{
		URL:          url,
		Shasum:       shasum,
		UnpackedSize: unpackedSize,
		FileCount:    fileCount,
		Integrity:    integrity,
		Signatures:   signatures,
		QueueTime:    queueTime,
	}
}

// EnqueueDownloads inserts tasks in chunks of enqueueChunkSize, ignoring
// conflicts on URL (spec §4.5: re-observing a known tarball URL is a no-op).
// Returns the number of rows actually inserted.
func EnqueueDownloads(ctx context.Context, q Querier, tasks []DownloadTask) (int64, error) {
	var inserted int64
	for i := 0; i < len(tasks); i += enqueueChunkSize {
		end := min(i+enqueueChunkSize, len(tasks))
		n, err := enqueueChunk(ctx, q, tasks[i:end])
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

func enqueueChunk(ctx context.Context, q Querier, chunk []DownloadTask) (int64, error) {
	if len(chunk) == 0 {
		return 0, nil
	}
	var inserted int64
	for _, t := range chunk {
		tag, err := q.Exec(ctx, `
			INSERT INTO download_tasks
				(url, shasum, expected_size, integrity, signatures, queue_time, num_failures, last_failure, success)
			VALUES ($1, $2, $3, $4, $5, $6, 0, NULL, FALSE)
			ON CONFLICT (url) DO NOTHING
		`, t.URL, t.Shasum, t.UnpackedSize, t.Integrity, t.Signatures, t.QueueTime)
		if err != nil {
			return inserted, fmt.Errorf("db: failed to enqueue download task for %q: %w", t.URL, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// SelectDownloadTasks returns up to limit pending tasks (success = false),
// ordered by fewest failures then oldest queue time first (spec §4.6's
// worker-pool task selection).
func SelectDownloadTasks(ctx context.Context, q Querier, limit int64) ([]DownloadTask, error) {
	rows, err := q.Query(ctx, `
		SELECT url, shasum, expected_size, integrity, signatures, queue_time, num_failures, last_failure, success
		FROM download_tasks
		WHERE success = FALSE
		ORDER BY num_failures ASC, queue_time ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: failed to select download tasks: %w", err)
	}
	defer rows.Close()

	var out []DownloadTask
	for rows.Next() {
		var t DownloadTask
		if err := rows.Scan(&t.URL, &t.Shasum, &t.UnpackedSize, &t.Integrity, &t.Signatures, &t.QueueTime, &t.NumFailures, &t.LastFailure, &t.Success); err != nil {
			return nil, fmt.Errorf("db: failed to scan download task row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkDownloadFailure increments a task's failure counter and records the
// failure time, so retry selection naturally deprioritizes it.
func MarkDownloadFailure(ctx context.Context, q Querier, url string, failedAt time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE download_tasks SET num_failures = num_failures + 1, last_failure = $2 WHERE url = $1
	`, url, failedAt)
	if err != nil {
		return fmt.Errorf("db: failed to mark download failure for %q: %w", url, err)
	}
	return nil
}

// MarkDownloadSuccess flags a task as completed so it is no longer
// re-selected, and records the downloaded tarball (spec §4.6).
func MarkDownloadSuccess(ctx context.Context, q Querier, tarball DownloadedTarball) error {
	_, err := q.Exec(ctx, `UPDATE download_tasks SET success = TRUE WHERE url = $1`, tarball.URL)
	if err != nil {
		return fmt.Errorf("db: failed to mark download success for %q: %w", tarball.URL, err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO downloaded_tarballs (url, downloaded_at, local_path, shasum)
		VALUES ($1, $2, $3, $4)
	`, tarball.URL, tarball.DownloadedAt, tarball.LocalPath, tarball.Shasum)
	if err != nil {
		return fmt.Errorf("db: failed to record downloaded tarball for %q: %w", tarball.URL, err)
	}
	return nil
}

// DownloadedTarball is a completed download (data model §3).
type DownloadedTarball struct {
	URL          string
	DownloadedAt time.Time
	LocalPath    string
	Shasum       *string
}
