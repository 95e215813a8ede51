package packument

import (
	"encoding/json"
	"time"
)

// canonical mirrors PackageOnly/VersionOnly with a fixed field order and
// explicit null encoding for absent optional values, so that
// encoding/json.Marshal (which serializes struct fields in declaration
// order and sorts map keys alphabetically) produces a byte-identical
// digest for semantically equal packuments regardless of how the upstream
// document ordered its own fields (P3).
type canonicalPackage struct {
	Kind              string             `json:"kind"`
	Latest            *string            `json:"latest"`
	CreatedAt         *time.Time         `json:"created_at"`
	ModifiedAt        *time.Time         `json:"modified_at"`
	OtherDistTags     map[string]string  `json:"other_dist_tags"`
	UnpublishedBlob   map[string]any     `json:"unpublished_blob"`
	ExtraVersionTimes map[string]string  `json:"extra_version_times"` // RFC3339, keyed by raw version
}

// Canonicalize builds the fixed-order representation of a package-scope
// packument used for hashing.
func (p PackageOnly) Canonicalize() any {
	c := canonicalPackage{Kind: p.Kind.String()}
	switch p.Kind {
	case Normal:
		if p.Latest != nil {
			s := p.Latest.String()
			c.Latest = &s
		}
		c.CreatedAt = timePtr(p.CreatedAt)
		c.ModifiedAt = timePtr(p.ModifiedAt)
		c.OtherDistTags = p.OtherDistTags
	case Unpublished:
		c.CreatedAt = timePtr(p.CreatedAt)
		c.ModifiedAt = timePtr(p.ModifiedAt)
		c.UnpublishedBlob = p.UnpublishedBlob
		if p.ExtraVersionTimes != nil {
			c.ExtraVersionTimes = make(map[string]string, len(p.ExtraVersionTimes))
			for k, v := range p.ExtraVersionTimes {
				c.ExtraVersionTimes[k] = v.UTC().Format(time.RFC3339Nano)
			}
		}
	case MissingData, Deleted:
		// No further fields: two MissingData (or two Deleted) packuments
		// always hash identically.
	}
	return c
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

type canonicalDependency struct {
	Name string `json:"name"`
	Raw  string `json:"raw"`
}

type canonicalDist struct {
	TarballURL   string                  `json:"tarball_url"`
	Shasum       *string                 `json:"shasum"`
	UnpackedSize *int64                  `json:"unpacked_size"`
	FileCount    *int32                  `json:"file_count"`
	Integrity    *string                 `json:"integrity"`
	Signatures   []canonicalDistSignature `json:"signatures"`
}

type canonicalDistSignature struct {
	KeyID string `json:"keyid"`
	Sig   string `json:"sig"`
}

type canonicalVersion struct {
	ProdDependencies     []canonicalDependency `json:"prod_dependencies"`
	DevDependencies      []canonicalDependency `json:"dev_dependencies"`
	PeerDependencies     []canonicalDependency `json:"peer_dependencies"`
	OptionalDependencies []canonicalDependency `json:"optional_dependencies"`
	Dist                 canonicalDist         `json:"dist"`
	Repository           any                   `json:"repository"`
	Time                 *time.Time            `json:"time"`
	ExtraMetadata        map[string]any        `json:"extra_metadata"`
}

func canonicalDeps(deps []DependencySpec) []canonicalDependency {
	if deps == nil {
		return []canonicalDependency{}
	}
	out := make([]canonicalDependency, len(deps))
	for i, d := range deps {
		out[i] = canonicalDependency{Name: d.Name, Raw: d.Raw}
	}
	return out
}

// Canonicalize builds the fixed-order representation of a version-scope
// packument used for hashing.
func (v VersionOnly) Canonicalize() any {
	c := canonicalVersion{
		ProdDependencies:     canonicalDeps(v.ProdDependencies),
		DevDependencies:      canonicalDeps(v.DevDependencies),
		PeerDependencies:     canonicalDeps(v.PeerDependencies),
		OptionalDependencies: canonicalDeps(v.OptionalDependencies),
		Dist: canonicalDist{
			TarballURL:   v.Dist.TarballURL,
			Shasum:       v.Dist.Shasum,
			UnpackedSize: v.Dist.UnpackedSize,
			FileCount:    v.Dist.FileCount,
			Integrity:    v.Dist.Integrity,
		},
		Time:          timePtr(v.Time),
		ExtraMetadata: v.ExtraMetadata,
	}
	for _, s := range v.Dist.Signatures {
		c.Dist.Signatures = append(c.Dist.Signatures, canonicalDistSignature{KeyID: s.KeyID, Sig: s.Sig})
	}
	if c.Dist.Signatures == nil {
		c.Dist.Signatures = []canonicalDistSignature{}
	}
	if v.Repository != nil {
		c.Repository = v.Repository.Raw
	}
	return c
}

// canonicalJSON marshals v to its canonical byte form. encoding/json
// serializes map[string]T keys in sorted order and struct fields in
// declaration order at every nesting depth, which is exactly the stable
// ordering canonical hashing needs.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
