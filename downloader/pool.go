// Package downloader implements the C6 Download Worker Pool: a fixed-size
// pool of cooperatively-scheduled download workers draining the
// download_tasks table, with a single DB actor goroutine serializing result
// writes.
//
// Grounded on original_source/downloader/src/download_threadpool.rs (the
// task-channel / result-channel / worker-pool shape, and the
// close-channel-then-join shutdown contract) and the teacher's
// npm/download.Downloader (streaming HTTP client with shasum verification).
package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/a-h/npm-mirror/db"
	"github.com/a-h/npm-mirror/metrics"
)

// batchSize bounds how many tasks are selected from the DB per round.
const batchSize = 256

// Pool drives the C6 worker pool against a *db.DB.
type Pool struct {
	DB      *db.DB
	Log     *slog.Logger
	Client  *http.Client
	DestDir string
	Size    int

	// MaxFailures excludes tasks with num_failures >= MaxFailures from
	// selection when positive (spec §4.6: "configurable, default infinity
	// unless a retry flag is set").
	MaxFailures int64

	Metrics metrics.Metrics
}

func (p *Pool) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

func (p *Pool) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

// Run drains download_tasks in batches of batchSize, dispatching each batch
// to Size workers, until no selectable tasks remain or ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tasks, err := db.SelectDownloadTasks(ctx, p.DB.Pool, int64(batchSize))
		if err != nil {
			return fmt.Errorf("downloader: failed to select tasks: %w", err)
		}
		tasks = p.filterRetryable(tasks)
		if len(tasks) == 0 {
			return nil
		}
		if err := p.runBatch(ctx, tasks); err != nil {
			return err
		}
	}
}

func (p *Pool) filterRetryable(tasks []db.DownloadTask) []db.DownloadTask {
	if p.MaxFailures <= 0 {
		return tasks
	}
	out := tasks[:0]
	for _, t := range tasks {
		if int64(t.NumFailures) < p.MaxFailures {
			out = append(out, t)
		}
	}
	return out
}

type result struct {
	task    db.DownloadTask
	tarball db.DownloadedTarball
	err     *DownloadError
}

// runBatch dispatches tasks to Size workers over a shared task channel,
// collects results on a result channel drained by a single DB actor
// goroutine, and waits for everyone to finish. Closing the task channel
// drains the pool; each worker exits after its current task (spec §4.6's
// cancellation contract).
func (p *Pool) runBatch(ctx context.Context, tasks []db.DownloadTask) error {
	taskCh := make(chan db.DownloadTask)
	resultCh := make(chan result, len(tasks))

	g, gctx := errgroup.WithContext(ctx)

	size := p.Size
	if size < 1 {
		size = 1
	}
	for i := 0; i < size; i++ {
		g.Go(func() error {
			for t := range taskCh {
				tarball, derr := downloadTask(gctx, p.client(), t, p.DestDir)
				resultCh <- result{task: t, tarball: tarball, err: derr}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(taskCh)
		for _, t := range tasks {
			select {
			case taskCh <- t:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	dbErrCh := make(chan error, 1)
	go func() { dbErrCh <- p.runDBActor(ctx, resultCh, len(tasks)) }()

	workerErr := g.Wait()
	close(resultCh)
	dbErr := <-dbErrCh
	if workerErr != nil {
		return workerErr
	}
	return dbErr
}

// runDBActor is the only goroutine permitted to write download results, so
// concurrent workers never race on db.MarkDownloadSuccess/MarkDownloadFailure.
func (p *Pool) runDBActor(ctx context.Context, resultCh <-chan result, expected int) error {
	for i := 0; i < expected; i++ {
		r, ok := <-resultCh
		if !ok {
			return nil
		}
		if r.err != nil {
			p.logger().Warn("download failed", slog.String("url", r.task.URL), slog.String("kind", r.err.Kind.String()), slog.Any("error", r.err))
			p.Metrics.IncrementDownloads(ctx, "failure")
			if err := db.MarkDownloadFailure(ctx, p.DB.Pool, r.task.URL, time.Now()); err != nil {
				return fmt.Errorf("downloader: failed to record failure for %q: %w", r.task.URL, err)
			}
			continue
		}
		if err := db.MarkDownloadSuccess(ctx, p.DB.Pool, r.tarball); err != nil {
			return fmt.Errorf("downloader: failed to record success for %q: %w", r.task.URL, err)
		}
		p.Metrics.IncrementDownloads(ctx, "success")
		p.logger().Info("downloaded tarball", slog.String("url", r.task.URL), slog.String("path", r.tarball.LocalPath))
	}
	return nil
}
