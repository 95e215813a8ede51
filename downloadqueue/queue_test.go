package downloadqueue

import (
	"testing"

	"github.com/a-h/npm-mirror/db"
)

func TestTaskFromEntry_SkipsNonVersionMutations(t *testing.T) {
	q := &Queue{}
	entry := db.DiffLogEntry{ID: 1, Kind: db.KindCreatePackage, Payload: []byte(`{"kind":"normal"}`)}
	_, ok, err := q.taskFromEntry(entry)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected CreatePackage entries to be skipped")
	}
}

func TestTaskFromEntry_SkipsDeleteVersion(t *testing.T) {
	q := &Queue{}
	entry := db.DiffLogEntry{ID: 2, Kind: db.KindDeleteVersion, Payload: []byte(`null`)}
	_, ok, err := q.taskFromEntry(entry)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected DeleteVersion entries to be skipped")
	}
}

func TestTaskFromEntry_ExtractsTarballURL(t *testing.T) {
	q := &Queue{}
	payload := []byte(`{
		"dist": {
			"tarball_url": "https://registry.npmjs.org/left-pad/-/left-pad-1.3.0.tgz",
			"shasum": "abc123",
			"signatures": [{"keyid": "SHA256:xyz", "sig": "deadbeef"}]
		}
	}`)
	entry := db.DiffLogEntry{ID: 3, Kind: db.KindCreateVersion, Payload: payload}
	task, ok, err := q.taskFromEntry(entry)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a task to be extracted")
	}
	if task.URL != "https://registry.npmjs.org/left-pad/-/left-pad-1.3.0.tgz" {
		t.Errorf("task.URL = %q", task.URL)
	}
	if task.Shasum == nil || *task.Shasum != "abc123" {
		t.Errorf("task.Shasum = %v", task.Shasum)
	}
	if len(task.Signatures) == 0 {
		t.Error("expected signatures to be carried through as JSON")
	}
}

func TestTaskFromEntry_SkipsMissingTarballURL(t *testing.T) {
	q := &Queue{}
	entry := db.DiffLogEntry{ID: 4, Kind: db.KindUpdateVersion, Payload: []byte(`{"dist": {}}`)}
	_, ok, err := q.taskFromEntry(entry)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected entries with no tarball URL to be skipped")
	}
}
