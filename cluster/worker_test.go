package cluster

import (
	"testing"
	"time"
)

func TestParseElapsed_HourMinSec(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	got, ok := parseElapsed(now, "0:03:12")
	if !ok {
		t.Fatal("expected parseElapsed to succeed")
	}
	want := now.Add(-(3*time.Minute + 12*time.Second))
	if !got.Equal(want) {
		t.Errorf("parseElapsed() = %v, want %v", got, want)
	}
}

func TestParseElapsed_MinSec(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	got, ok := parseElapsed(now, "3:12")
	if !ok {
		t.Fatal("expected parseElapsed to succeed")
	}
	want := now.Add(-(3*time.Minute + 12*time.Second))
	if !got.Equal(want) {
		t.Errorf("parseElapsed() = %v, want %v", got, want)
	}
}

func TestParseElapsed_Malformed(t *testing.T) {
	if _, ok := parseElapsed(time.Now(), "not-a-time"); ok {
		t.Error("expected parseElapsed to reject a malformed value")
	}
}

func TestParseSqueueStatusLine(t *testing.T) {
	status, elapsed, ok := parseSqueueStatusLine("R    0:03:12")
	if !ok || status != "R" || elapsed != "0:03:12" {
		t.Errorf("parseSqueueStatusLine() = (%q, %q, %v)", status, elapsed, ok)
	}
}

func TestParseSqueueStatusLine_Empty(t *testing.T) {
	if _, _, ok := parseSqueueStatusLine(""); ok {
		t.Error("expected empty squeue output to not parse")
	}
}

func TestWorker_TransitionToRunning(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := NewWorker("123")
	startedAt, transitioned, err := w.transitionToRunning(now, "R 0:03:12")
	if err != nil {
		t.Fatalf("transitionToRunning() error = %v", err)
	}
	if !transitioned {
		t.Fatal("expected the worker to transition to running")
	}
	want := now.Add(-(3*time.Minute + 12*time.Second))
	if !startedAt.Equal(want) {
		t.Errorf("startedAt = %v, want %v", startedAt, want)
	}
}

func TestWorker_TransitionToRunning_StillQueued(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := NewWorker("123")
	_, transitioned, err := w.transitionToRunning(now, "PD 0:00")
	if err != nil {
		t.Fatalf("transitionToRunning() error = %v", err)
	}
	if transitioned {
		t.Error("expected a PD (pending) worker to remain queued")
	}
}
