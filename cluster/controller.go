package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/a-h/npm-mirror/metrics"
)

// maxHealthFailures is how many consecutive failed health probes cancel and
// resubmit a Running worker (SPEC_FULL §12's health-driven resubmission).
const maxHealthFailures = 3

// healthProbeTimeout bounds each "curl -m 3" probe's surrounding context,
// matching worker.rs's is_network_up / spec §5's "3 s for probes".
const healthProbeTimeout = 3 * time.Second

// Controller submits, polls, and reaps a fleet of Worker jobs over a head
// node's SSH session (spec §4.7). It owns the head session; per-worker
// sessions to compute nodes are opened lazily on the Queued→Running
// transition via JumpFactory.
type Controller struct {
	Head        Ssh     // session to the head/login node: sbatch, squeue, scancel
	JumpFactory Factory // opens sessions to compute nodes, jumped through Head's host
	Log         *slog.Logger
	Metrics     metrics.Metrics

	// Now returns the current time; overridable in tests.
	Now func() time.Time

	mu      sync.Mutex
	workers map[string]*Worker
}

func (c *Controller) logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Submit runs sbatch against script and starts tracking the resulting job
// id as a Queued Worker.
func (c *Controller) Submit(ctx context.Context, script string) (*Worker, error) {
	out, err := c.Head.RunCommand(ctx, fmt.Sprintf("sbatch %s", script))
	if err != nil {
		return nil, fmt.Errorf("cluster: sbatch failed: %w", err)
	}
	jobID, err := parseSbatchJobID(out)
	if err != nil {
		return nil, err
	}

	w := NewWorker(jobID)
	c.mu.Lock()
	if c.workers == nil {
		c.workers = map[string]*Worker{}
	}
	c.workers[jobID] = w
	c.mu.Unlock()

	c.Metrics.IncrementClusterJobs(ctx, "submit")
	c.logger().Info("submitted cluster job", slog.String("job_id", jobID))
	return w, nil
}

// parseSbatchJobID extracts the job id from sbatch's "Submitted batch job
// <id>" stdout.
func parseSbatchJobID(out string) (string, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("cluster: empty sbatch output")
	}
	return fields[len(fields)-1], nil
}

// PollOnce advances every Queued worker whose squeue status line now
// reports "R", opening a jumped SSH session to its allocated node (spec
// §4.7: node id is squeue's 9th column).
func (c *Controller) PollOnce(ctx context.Context) error {
	c.mu.Lock()
	queued := make([]*Worker, 0, len(c.workers))
	for _, w := range c.workers {
		if w.Status == StatusQueued {
			queued = append(queued, w)
		}
	}
	c.mu.Unlock()

	for _, w := range queued {
		if err := c.pollWorker(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) pollWorker(ctx context.Context, w *Worker) error {
	statusLine, err := c.Head.RunCommand(ctx, fmt.Sprintf("squeue -u $USER | grep %s | awk -F ' +' '{print $6, $7}'", w.JobID))
	if err != nil {
		return fmt.Errorf("cluster: failed to poll job %s: %w", w.JobID, err)
	}
	startedAt, transitioned, err := w.transitionToRunning(c.now(), statusLine)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	nodeID, err := c.Head.RunCommand(ctx, fmt.Sprintf("squeue -u $USER | grep %s | awk -F ' +' '{print $9}'", w.JobID))
	if err != nil {
		return fmt.Errorf("cluster: failed to read node id for job %s: %w", w.JobID, err)
	}
	nodeID = strings.TrimSpace(nodeID)

	session, err := c.JumpFactory.SpawnJumped(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("cluster: failed to open session to node %s for job %s: %w", nodeID, w.JobID, err)
	}

	c.mu.Lock()
	w.Status = StatusRunning
	w.StartedAt = startedAt
	w.NodeID = nodeID
	w.Session = session
	w.consecutiveHealthFailures = 0
	c.mu.Unlock()

	c.logger().Info("worker transitioned to running",
		slog.String("job_id", w.JobID), slog.String("node_id", nodeID), slog.Time("started_at", startedAt))
	return nil
}

// Cancel scancels w's job and closes any open compute-node session.
func (c *Controller) Cancel(ctx context.Context, w *Worker) error {
	if _, err := c.Head.RunCommand(ctx, fmt.Sprintf("scancel %s", w.JobID)); err != nil {
		return fmt.Errorf("cluster: scancel failed for job %s: %w", w.JobID, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.Session != nil {
		w.Session.Close() //nolint:errcheck
		w.Session = nil
	}
	w.Status = StatusCancelled
	c.Metrics.IncrementClusterJobs(ctx, "cancel")
	c.logger().Info("cancelled cluster job", slog.String("job_id", w.JobID))
	return nil
}

// CheckHealth probes a Running worker's network with "curl -m 3
// https://ip.me" (worker.rs's is_network_up). After maxHealthFailures
// consecutive failures it cancels and resubmits the worker against the
// same script, returning the replacement.
func (c *Controller) CheckHealth(ctx context.Context, w *Worker, resubmitScript string) (replacement *Worker, err error) {
	if w.Status != StatusRunning {
		return nil, fmt.Errorf("cluster: worker %s is not running", w.JobID)
	}
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	_, err = w.Session.RunCommand(probeCtx, "curl -m 3 https://ip.me")

	c.mu.Lock()
	if err != nil {
		w.consecutiveHealthFailures++
	} else {
		w.consecutiveHealthFailures = 0
	}
	failures := w.consecutiveHealthFailures
	c.mu.Unlock()

	if failures < maxHealthFailures {
		return nil, nil
	}

	c.logger().Warn("worker network health check failed, resubmitting",
		slog.String("job_id", w.JobID), slog.Int("consecutive_failures", failures))
	if err := c.Cancel(ctx, w); err != nil {
		return nil, err
	}
	return c.Submit(ctx, resubmitScript)
}
