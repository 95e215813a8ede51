package cluster

import (
	"context"
	"testing"
	"time"
)

func newTestController(head *MockSsh, jumped *MockSsh) *Controller {
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return &Controller{
		Head:        head,
		JumpFactory: &MockFactory{Session: jumped},
		Now:         func() time.Time { return fixed },
	}
}

func TestController_Submit(t *testing.T) {
	head := NewMockSsh()
	head.Responses["sbatch job.sh"] = "Submitted batch job 42"
	c := newTestController(head, NewMockSsh())

	w, err := c.Submit(context.Background(), "job.sh")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if w.JobID != "42" {
		t.Errorf("JobID = %q, want %q", w.JobID, "42")
	}
	if w.Status != StatusQueued {
		t.Errorf("Status = %v, want Queued", w.Status)
	}
}

func TestController_PollOnce_TransitionsToRunning(t *testing.T) {
	head := NewMockSsh()
	head.Responses["sbatch job.sh"] = "Submitted batch job 42"
	head.Responses["squeue -u $USER | grep 42 | awk -F ' +' '{print $6, $7}'"] = "R 0:03:12"
	head.Responses["squeue -u $USER | grep 42 | awk -F ' +' '{print $9}'"] = "node-17"

	jumped := NewMockSsh()
	c := newTestController(head, jumped)

	w, err := c.Submit(context.Background(), "job.sh")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := c.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if w.Status != StatusRunning {
		t.Fatalf("Status = %v, want Running", w.Status)
	}
	if w.NodeID != "node-17" {
		t.Errorf("NodeID = %q, want %q", w.NodeID, "node-17")
	}
	wantStart := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC).Add(-(3*time.Minute + 12*time.Second))
	if !w.StartedAt.Equal(wantStart) {
		t.Errorf("StartedAt = %v, want %v", w.StartedAt, wantStart)
	}
}

func TestController_PollOnce_StaysQueuedWhilePending(t *testing.T) {
	head := NewMockSsh()
	head.Responses["sbatch job.sh"] = "Submitted batch job 42"
	head.Responses["squeue -u $USER | grep 42 | awk -F ' +' '{print $6, $7}'"] = "PD 0:00"

	c := newTestController(head, NewMockSsh())
	w, _ := c.Submit(context.Background(), "job.sh")
	if err := c.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if w.Status != StatusQueued {
		t.Errorf("Status = %v, want Queued", w.Status)
	}
}

func TestController_Cancel(t *testing.T) {
	head := NewMockSsh()
	head.Responses["scancel 42"] = ""
	jumped := NewMockSsh()
	c := newTestController(head, jumped)
	w := NewWorker("42")
	w.Status = StatusRunning
	w.Session = jumped

	if err := c.Cancel(context.Background(), w); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if w.Status != StatusCancelled {
		t.Errorf("Status = %v, want Cancelled", w.Status)
	}
	if !jumped.Closed {
		t.Error("expected the compute-node session to be closed")
	}
}

func TestController_CheckHealth_ResubmitsAfterRepeatedFailures(t *testing.T) {
	head := NewMockSsh()
	head.Responses["scancel 42"] = ""
	head.Responses["sbatch job.sh"] = "Submitted batch job 43"

	jumped := NewMockSsh()
	jumped.Errors["curl -m 3 https://ip.me"] = context.DeadlineExceeded

	c := newTestController(head, jumped)
	w := NewWorker("42")
	w.Status = StatusRunning
	w.Session = jumped

	var replacement *Worker
	for i := 0; i < maxHealthFailures; i++ {
		var err error
		replacement, err = c.CheckHealth(context.Background(), w, "job.sh")
		if err != nil {
			t.Fatalf("CheckHealth() error = %v", err)
		}
	}
	if replacement == nil {
		t.Fatal("expected a replacement worker after repeated health failures")
	}
	if replacement.JobID != "43" {
		t.Errorf("replacement.JobID = %q, want %q", replacement.JobID, "43")
	}
	if w.Status != StatusCancelled {
		t.Errorf("original worker Status = %v, want Cancelled", w.Status)
	}
}
