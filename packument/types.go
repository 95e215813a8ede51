// Package packument implements the C3 Packument Normalizer: a pure
// transformation from a raw registry change document into a canonical
// package-scope record plus one record per published version, and the
// content-hash machinery ("pack hash") the diff-log builder uses to detect
// change.
package packument

import (
	"time"

	"github.com/a-h/npm-mirror/semver"
)

// Kind discriminates the PackageOnly tagged union (data model §3).
type Kind int

const (
	Normal Kind = iota
	Unpublished
	MissingData
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Normal:
		return "normal"
	case Unpublished:
		return "unpublished"
	case MissingData:
		return "missing_data"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// PackageOnly is the package-scope packument: everything about a package
// that is not specific to one version.
type PackageOnly struct {
	Kind Kind

	// Normal fields.
	Latest        *semver.Version
	OtherDistTags map[string]string

	// Normal and Unpublished share these.
	CreatedAt  time.Time
	ModifiedAt time.Time

	// Unpublished fields.
	UnpublishedBlob   map[string]any
	ExtraVersionTimes map[string]time.Time // keyed by raw version string; unparsable versions are skipped at the call site
}

// IsNormal reports whether p classifies as Normal.
func (p PackageOnly) IsNormal() bool { return p.Kind == Normal }

// DependencySpec is one (name, spec) pair, preserving input order as the
// spec's data model requires ("four lists of (name, spec)").
type DependencySpec struct {
	Name string
	Spec semver.Spec
	// Raw carries the spec string exactly as written, for round-tripping
	// through extra_metadata-style consumers without reparsing.
	Raw string
}

// Dist is the lifted dist block of a version record.
type Dist struct {
	TarballURL   string
	Shasum       *string
	UnpackedSize *int64
	FileCount    *int32
	Integrity    *string
	Signatures   []DistSignature
}

// DistSignature is one entry of dist.signatures.
type DistSignature struct {
	KeyID string
	Sig   string
}

// RepositoryInfo carries the raw repository field verbatim; no fields are
// parsed out of it (spec only asks that `repository` be kept as
// an optional field; we don't interpret its contents further — that's
// "correctness of analytics", explicitly out of scope).
type RepositoryInfo struct {
	Raw any
}

// VersionOnly is the version-scope packument for a single published
// version.
type VersionOnly struct {
	ProdDependencies     []DependencySpec
	DevDependencies      []DependencySpec
	PeerDependencies     []DependencySpec
	OptionalDependencies []DependencySpec

	Dist       Dist
	Repository *RepositoryInfo
	Time       time.Time

	// ExtraMetadata holds every other top-level field of the version
	// record verbatim, keyed by field name, sorted for canonical hashing.
	ExtraMetadata map[string]any
}
