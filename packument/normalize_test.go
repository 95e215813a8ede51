package packument

import (
	"testing"
)

const normalDoc = `{
  "_id": "left-pad",
  "_rev": "1-abc",
  "_deleted": false,
  "dist-tags": {"latest": "1.0.0", "next": "1.1.0-beta"},
  "time": {"created": "2020-01-01T00:00:00.000Z", "modified": "2020-01-02T00:00:00.000Z"},
  "versions": {
    "1.0.0": {
      "dependencies": {"b": "^1.0.0", "a": "^2.0.0"},
      "dist": {"tarball": "https://registry.npmjs.org/left-pad/-/left-pad-1.0.0.tgz", "shasum": "abc123"},
      "time": "2020-01-01T00:00:00.000Z",
      "license": "MIT"
    }
  }
}`

func TestNormalizeNormal(t *testing.T) {
	pkg, versions, err := Normalize(1, []byte(normalDoc), false, nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if pkg.Kind != Normal {
		t.Fatalf("expected Normal, got %v", pkg.Kind)
	}
	if pkg.Latest == nil || pkg.Latest.String() != "1.0.0" {
		t.Fatalf("expected latest=1.0.0, got %v", pkg.Latest)
	}
	if pkg.OtherDistTags["next"] != "1.1.0-beta" {
		t.Fatalf("expected other dist tag 'next' preserved, got %v", pkg.OtherDistTags)
	}
	v, ok := versions["1.0.0"]
	if !ok {
		t.Fatalf("expected version 1.0.0 present")
	}
	if len(v.ProdDependencies) != 2 {
		t.Fatalf("expected 2 prod dependencies, got %d", len(v.ProdDependencies))
	}
	// Dependency order matches the document's declaration order ("b" then
	// "a"), not alphabetical order.
	if v.ProdDependencies[0].Name != "b" || v.ProdDependencies[1].Name != "a" {
		t.Fatalf("expected dependency order [b, a] (input order), got %v", v.ProdDependencies)
	}
	if v.ExtraMetadata["license"] != "MIT" {
		t.Fatalf("expected license to land in extra_metadata, got %v", v.ExtraMetadata)
	}
}

func TestNormalizeDeleted(t *testing.T) {
	pkg, _, err := Normalize(2, []byte(`{"_id":"foo","_rev":"1","_deleted":true}`), true, nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if pkg.Kind != Deleted {
		t.Fatalf("expected Deleted, got %v", pkg.Kind)
	}
}

func TestNormalizeMissingData(t *testing.T) {
	pkg, _, err := Normalize(3, []byte(`{"_id":"foo","_rev":"1","_deleted":false}`), false, nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if pkg.Kind != MissingData {
		t.Fatalf("expected MissingData, got %v", pkg.Kind)
	}
}

func TestNormalizeUnpublished(t *testing.T) {
	doc := `{
		"_id": "foo", "_rev": "2", "_deleted": false,
		"time": {"created": "2020-01-01T00:00:00.000Z", "modified": "2020-02-01T00:00:00.000Z", "unpublished": "2020-02-01T00:00:00.000Z", "1.0.0": "2020-01-01T00:00:00.000Z"}
	}`
	pkg, versions, err := Normalize(4, []byte(doc), false, nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if pkg.Kind != Unpublished {
		t.Fatalf("expected Unpublished, got %v", pkg.Kind)
	}
	if versions != nil {
		t.Fatalf("expected no version records for an unpublished package")
	}
	if _, ok := pkg.ExtraVersionTimes["1.0.0"]; !ok {
		t.Fatalf("expected extra_version_times to carry the 1.0.0 entry, got %v", pkg.ExtraVersionTimes)
	}
}

func TestHashStability(t *testing.T) {
	// P3: field reordering in the input must not change the digest.
	docA := `{"_id":"p","_rev":"1","_deleted":false,"dist-tags":{"latest":"1.0.0"},"time":{"created":"2020-01-01T00:00:00.000Z","modified":"2020-01-01T00:00:00.000Z"}}`
	docB := `{"_rev":"1","dist-tags":{"latest":"1.0.0"},"_deleted":false,"time":{"modified":"2020-01-01T00:00:00.000Z","created":"2020-01-01T00:00:00.000Z"},"_id":"p"}`

	pkgA, _, err := Normalize(1, []byte(docA), false, nil)
	if err != nil {
		t.Fatal(err)
	}
	pkgB, _, err := Normalize(1, []byte(docB), false, nil)
	if err != nil {
		t.Fatal(err)
	}
	hashA, err := PackageHash(*pkgA)
	if err != nil {
		t.Fatal(err)
	}
	hashB, err := PackageHash(*pkgB)
	if err != nil {
		t.Fatal(err)
	}
	if hashA != hashB {
		t.Fatalf("expected stable hash across field reordering, got %s != %s", hashA, hashB)
	}
}

func TestInvariantMismatchIsError(t *testing.T) {
	_, _, err := Normalize(5, []byte(`{"_id":"foo","_rev":"1","_deleted":true}`), false, nil)
	if err == nil {
		t.Fatalf("expected an error when event deletion flag disagrees with the document")
	}
}
