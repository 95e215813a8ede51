package cluster

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Status is the C7 worker state machine (spec §4.7): Queued, Running (once
// squeue reports "R" and an SSH session has been opened to the allocated
// node), or Cancelled.
type Status int

const (
	StatusQueued Status = iota
	StatusRunning
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Worker tracks one submitted batch-queue job.
type Worker struct {
	JobID     string
	Status    Status
	StartedAt time.Time // valid only when Status == StatusRunning
	NodeID    string    // valid only when Status == StatusRunning
	Session   Ssh       // valid only when Status == StatusRunning

	// consecutiveHealthFailures counts unbroken is_network_up failures,
	// driving the health-driven resubmission supplement (SPEC_FULL §12).
	consecutiveHealthFailures int
}

// NewWorker starts tracking a freshly-submitted job in the Queued state.
func NewWorker(jobID string) *Worker {
	return &Worker{JobID: jobID, Status: StatusQueued}
}

// squeueFieldsRe splits squeue's space-padded columns (spec §6: "fields are
// separated by runs of spaces"), matching worker.rs's `awk -F ' +'`.
var squeueFieldsRe = regexp.MustCompile(`\s+`)

// parseSqueueStatusLine parses the "<status> <elapsed>" pair produced by
// `squeue -u $USER | grep <job_id> | awk -F ' +' '{print $6, $7}'`.
func parseSqueueStatusLine(line string) (status, elapsed string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	fields := squeueFieldsRe.Split(line, -1)
	if len(fields) != 2 {
		return "", "", false
	}
	return fields[0], fields[1], true
}

// parseElapsed parses squeue's elapsed-time column, either "H:M:S" or
// "M:S", and returns the start time it implies: now minus the elapsed
// duration. Grounded on
// job/worker.rs's parse_time (which subtracts from chrono::Utc::now()).
func parseElapsed(now time.Time, elapsed string) (time.Time, bool) {
	parts := strings.Split(elapsed, ":")
	var h, m, s int64
	var err error
	switch len(parts) {
	case 3:
		h, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		m, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		s, err = strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return time.Time{}, false
		}
	case 2:
		m, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		s, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return time.Time{}, false
		}
	default:
		return time.Time{}, false
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
	return now.Add(-d), true
}

// transitionToRunning applies a single squeue poll result to a Queued
// worker: "R" with a parseable elapsed time moves it to Running (without
// opening the SSH session — that's the controller's job, since it needs a
// Factory and the node id, fetched via a separate squeue column).
func (w *Worker) transitionToRunning(now time.Time, statusLine string) (startedAt time.Time, transitioned bool, err error) {
	if w.Status != StatusQueued {
		return time.Time{}, false, fmt.Errorf("cluster: worker %s is not queued", w.JobID)
	}
	status, elapsed, ok := parseSqueueStatusLine(statusLine)
	if !ok || status != "R" {
		return time.Time{}, false, nil
	}
	startedAt, ok = parseElapsed(now, elapsed)
	if !ok {
		return time.Time{}, false, nil
	}
	return startedAt, true, nil
}
