// Package changefeed implements the C2 Change Follower: a long-lived
// consumer of the upstream registry's continuous _changes feed that
// durably appends each event to change_log and advances the
// change_follower_seq cursor in the same transaction.
//
// Grounded on original_source/changes_fetcher/src/main.rs (the
// listen-forever-then-sleep-300s loop, the since= resume URL, and the
// insert-change-per-event body) and the teacher's push/loghandler.go for
// its slog.Logger-carrying struct shape.
package changefeed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/npm-mirror/db"
	"github.com/a-h/npm-mirror/metrics"
	"github.com/a-h/npm-mirror/packument"
)

// ReconnectBackoff is the fixed delay between a dropped/ended feed
// connection and the next reconnect attempt (spec §4.2).
const ReconnectBackoff = 300 * time.Second

// scannerBufSize bounds a single NDJSON line; packuments with many
// versions can run past bufio.Scanner's 64KiB default.
const scannerBufSize = 16 * 1024 * 1024

// errInvariantViolation marks a fatal per-event invariant failure (spec
// §4.2: "_id", "_rev", and "_deleted" must agree with the wrapped doc).
// Run returns it unwrapped so callers can exit non-zero without retrying.
var errInvariantViolation = errors.New("changefeed: protocol invariant violation, stream tainted")

// Follower drives the reconnect loop against a single upstream host.
type Follower struct {
	DB      *db.DB
	Client  *http.Client
	BaseURL string // e.g. "https://replicate.npmjs.com"
	Log     *slog.Logger
	Metrics metrics.Metrics
}

func (f *Follower) logger() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return slog.Default()
}

func (f *Follower) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// Run loops forever, reconnecting ReconnectBackoff after every dropped or
// cleanly-ended feed connection, until ctx is cancelled or a fatal
// invariant violation is observed.
func (f *Follower) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := f.followOnce(ctx)
		if errors.Is(err, errInvariantViolation) {
			f.logger().Error("change stream invariant violated, stopping", slog.Any("error", err))
			return err
		}
		if err != nil {
			f.logger().Warn("change stream ended, reconnecting", slog.Any("error", err), slog.Duration("backoff", ReconnectBackoff))
		} else {
			f.logger().Info("change stream finished cleanly, reconnecting", slog.Duration("backoff", ReconnectBackoff))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ReconnectBackoff):
		}
	}
}

// followOnce opens a single continuous-feed connection, resuming from the
// last durably-written seq, and consumes it until it ends or errors.
func (f *Follower) followOnce(ctx context.Context) error {
	since, ok, err := db.GetCursor(ctx, f.DB.Pool, db.CursorChangeFollower)
	if err != nil {
		return err
	}

	url := feedURL(f.BaseURL, since, ok)
	f.logger().Info("connecting to change feed", slog.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("changefeed: failed to build request: %w", err)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return fmt.Errorf("changefeed: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("changefeed: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), scannerBufSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := f.handleLine(ctx, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// handleLine parses, verifies, and durably inserts a single feed event.
func (f *Follower) handleLine(ctx context.Context, line []byte) error {
	raw := append([]byte(nil), line...) // scanner reuses its buffer
	ev, skip, err := parseAndVerify(raw)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	f.logger().Debug("inserting change", slog.Int64("seq", ev.Seq), slog.String("id", ev.ID))
	if err := f.DB.WithTx(ctx, func(ctx context.Context, q db.Querier) error {
		if err := db.InsertChange(ctx, q, ev.Seq, raw); err != nil {
			return err
		}
		return db.SetCursor(ctx, q, db.CursorChangeFollower, ev.Seq)
	}); err != nil {
		return err
	}
	f.Metrics.IncrementChangesFollowed(ctx)
	return nil
}

// feedURL builds the continuous-feed URL, resuming from since when ok.
func feedURL(baseURL string, since int64, ok bool) string {
	url := baseURL + "/_changes?feed=continuous&style=main_only&include_docs=true"
	if ok {
		url += fmt.Sprintf("&since=%d", since)
	}
	return url
}

// parseAndVerify parses a raw feed line and checks its identity invariant.
// skip is true for the feed's terminal "last_seq" line, which carries no
// "seq"/"id" fields and is not an error.
func parseAndVerify(raw []byte) (ev packument.ChangeEvent, skip bool, err error) {
	ev, err = packument.ParseChangeEvent(raw)
	if err != nil {
		return ev, false, fmt.Errorf("changefeed: %w", err)
	}
	if ev.Seq == 0 {
		return ev, true, nil
	}
	if err := packument.VerifyIdentity(ev); err != nil {
		return ev, false, fmt.Errorf("%w: %w", errInvariantViolation, err)
	}
	return ev, false, nil
}
