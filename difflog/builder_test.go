package difflog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/a-h/npm-mirror/db"
)

// fakeStore is a map-backed HashStore for unit tests, standing in for a
// real transaction the way the teacher's storage tests stand a fake in for
// S3.
type fakeStore struct {
	packages map[string]db.HashStateRow
	versions map[string]map[string]db.VersionHashStateRow
	entries  []db.DiffLogEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		packages: make(map[string]db.HashStateRow),
		versions: make(map[string]map[string]db.VersionHashStateRow),
	}
}

func (f *fakeStore) GetHashState(_ context.Context, packageName string) (*db.HashStateRow, error) {
	s, ok := f.packages[packageName]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeStore) UpsertHashState(_ context.Context, s db.HashStateRow) error {
	f.packages[s.PackageName] = s
	return nil
}

func (f *fakeStore) GetVersionHashStates(_ context.Context, packageName string) ([]db.VersionHashStateRow, error) {
	m := f.versions[packageName]
	out := make([]db.VersionHashStateRow, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeStore) UpsertVersionHashState(_ context.Context, v db.VersionHashStateRow) error {
	m := f.versions[v.PackageName]
	if m == nil {
		m = make(map[string]db.VersionHashStateRow)
		f.versions[v.PackageName] = m
	}
	m[v.Semver] = v
	return nil
}

func (f *fakeStore) InsertDiffLogEntries(_ context.Context, entries []db.DiffLogEntry) error {
	f.entries = append(f.entries, entries...)
	return nil
}

func changeEventJSON(t *testing.T, id string, seq int64, deleted bool, doc map[string]any) []byte {
	t.Helper()
	docJSON, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	ev := map[string]any{
		"id":      id,
		"seq":     seq,
		"deleted": deleted,
		"doc":     json.RawMessage(docJSON),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func samplePackageDoc(id string) map[string]any {
	return map[string]any{
		"_id":       id,
		"_rev":      "1-abc",
		"dist-tags": map[string]string{"latest": "1.0.0"},
		"time":      map[string]string{"created": "2020-01-01T00:00:00Z", "modified": "2020-01-01T00:00:00Z", "1.0.0": "2020-01-01T00:00:00Z"},
		"versions": map[string]any{
			"1.0.0": map[string]any{
				"dist": map[string]any{"tarball": "https://example.com/pkg-1.0.0.tgz"},
			},
		},
	}
}

func TestProcessChange_CreateThenIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	raw := changeEventJSON(t, "left-pad", 1, false, samplePackageDoc("left-pad"))

	if err := ProcessChange(ctx, store, nil, db.RawChange{Seq: 1, RawJSON: raw}); err != nil {
		t.Fatal(err)
	}
	if len(store.entries) != 2 {
		t.Fatalf("expected CreatePackage + CreateVersion, got %d entries: %+v", len(store.entries), store.entries)
	}

	// Replaying the identical change at a later seq must be a no-op (P1).
	store.entries = nil
	raw2 := changeEventJSON(t, "left-pad", 2, false, samplePackageDoc("left-pad"))
	if err := ProcessChange(ctx, store, nil, db.RawChange{Seq: 2, RawJSON: raw2}); err != nil {
		t.Fatal(err)
	}
	if len(store.entries) != 0 {
		t.Errorf("expected no entries on replay, got %+v", store.entries)
	}
}

func TestProcessChange_VersionUpdateAlteredShasum(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	raw := changeEventJSON(t, "left-pad", 1, false, samplePackageDoc("left-pad"))
	if err := ProcessChange(ctx, store, nil, db.RawChange{Seq: 1, RawJSON: raw}); err != nil {
		t.Fatal(err)
	}
	packageHashBefore := store.packages["left-pad"].PackHash

	store.entries = nil
	doc := samplePackageDoc("left-pad")
	doc["versions"].(map[string]any)["1.0.0"].(map[string]any)["dist"] = map[string]any{
		"tarball": "https://example.com/pkg-1.0.0.tgz",
		"shasum":  "deadbeef",
	}
	raw2 := changeEventJSON(t, "left-pad", 2, false, doc)
	if err := ProcessChange(ctx, store, nil, db.RawChange{Seq: 2, RawJSON: raw2}); err != nil {
		t.Fatal(err)
	}

	if len(store.entries) != 1 || store.entries[0].Kind != db.KindUpdateVersion {
		t.Fatalf("expected a single UpdateVersion entry, got %+v", store.entries)
	}
	after := store.packages["left-pad"].PackHash
	if (packageHashBefore == nil) != (after == nil) || (packageHashBefore != nil && *packageHashBefore != *after) {
		t.Error("expected package hash to stay unchanged when only a version's dist changes")
	}
}

func TestProcessChange_PackageDeletion(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	raw := changeEventJSON(t, "left-pad", 1, false, samplePackageDoc("left-pad"))
	if err := ProcessChange(ctx, store, nil, db.RawChange{Seq: 1, RawJSON: raw}); err != nil {
		t.Fatal(err)
	}

	store.entries = nil
	delRaw := changeEventJSON(t, "left-pad", 2, true, map[string]any{"_id": "left-pad", "_rev": "2-def", "_deleted": true})
	if err := ProcessChange(ctx, store, nil, db.RawChange{Seq: 2, RawJSON: delRaw}); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range store.entries {
		if e.Kind == db.KindDeletePackage {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a DeletePackage entry, got %+v", store.entries)
	}
	if !store.packages["left-pad"].Deleted {
		t.Error("expected package hash state to be marked deleted")
	}
}
