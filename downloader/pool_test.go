package downloader

import (
	"testing"

	"github.com/a-h/npm-mirror/db"
)

func TestFilterRetryable_UnlimitedByDefault(t *testing.T) {
	p := &Pool{}
	tasks := []db.DownloadTask{{URL: "a", NumFailures: 100}}
	if got := p.filterRetryable(tasks); len(got) != 1 {
		t.Errorf("expected unlimited retries to keep the task, got %d", len(got))
	}
}

func TestFilterRetryable_ExcludesExhausted(t *testing.T) {
	p := &Pool{MaxFailures: 3}
	tasks := []db.DownloadTask{
		{URL: "a", NumFailures: 0},
		{URL: "b", NumFailures: 2},
		{URL: "c", NumFailures: 3},
		{URL: "d", NumFailures: 10},
	}
	got := p.filterRetryable(tasks)
	if len(got) != 2 {
		t.Fatalf("expected 2 retryable tasks, got %d: %+v", len(got), got)
	}
	for _, task := range got {
		if task.NumFailures >= 3 {
			t.Errorf("task %q with %d failures should have been excluded", task.URL, task.NumFailures)
		}
	}
}
