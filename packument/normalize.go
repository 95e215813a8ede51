package packument

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/a-h/npm-mirror/semver"
)

// rawDoc is the shape of the npm registry's full packument document, the
// "doc" field of a change event. Field names match the registry's own
// vocabulary (camelCase, hyphenated dist-tags) rather than our internal
// model's — this is the single boundary where JSON dynamism is absorbed
// (DESIGN NOTES, spec §9).
type rawDoc struct {
	ID       string                     `json:"_id"`
	Rev      string                     `json:"_rev"`
	Deleted  bool                       `json:"_deleted"`
	DistTags map[string]string          `json:"dist-tags"`
	Time     map[string]string          `json:"time"`
	Versions map[string]json.RawMessage `json:"versions"`
}

type rawVersion struct {
	Dependencies         json.RawMessage `json:"dependencies"`
	DevDependencies      json.RawMessage `json:"devDependencies"`
	PeerDependencies     json.RawMessage `json:"peerDependencies"`
	OptionalDependencies json.RawMessage `json:"optionalDependencies"`
	Dist                 rawDist         `json:"dist"`
	Repository           json.RawMessage `json:"repository"`

	extra map[string]any // not populated; normalizeVersion collects extra fields into VersionOnly.ExtraMetadata
}

type rawDist struct {
	Tarball      string              `json:"tarball"`
	Shasum       *string             `json:"shasum"`
	UnpackedSize *int64              `json:"unpackedSize"`
	FileCount    *int32              `json:"fileCount"`
	Integrity    *string             `json:"integrity"`
	Signatures   []rawDistSignature  `json:"signatures"`
}

type rawDistSignature struct {
	KeyID string `json:"keyid"`
	Sig   string `json:"sig"`
}

// knownVersionFields lists the fields kept out of ExtraMetadata: those
// extracted into a typed struct field, plus "name", "version" and "time",
// which are dropped. Everything else falls through into ExtraMetadata
// verbatim.
var knownVersionFields = map[string]bool{
	"dependencies":         true,
	"devDependencies":      true,
	"peerDependencies":     true,
	"optionalDependencies": true,
	"dist":                 true,
	"repository":           true,
	"time":                 true,
	"name":                 true,
	"version":              true,
}

// ParseError records a normalization failure alongside the offending seq,
// per spec §4.3 ("parsing failures for required fields are reported with
// the offending seq and message").
type ParseError struct {
	Seq     int64
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("packument: seq %d: %s", e.Seq, e.Message)
}

// Normalize parses a raw change document into a package-scope packument and
// a set of version-scope packuments, keyed by their raw (unparsed) version
// string. It is a pure function: given the same doc and deletion flag, it
// always returns the same result (P2 determinism depends on this).
//
// eventDeleted is the change-event-level "deleted" flag (spec §4.2); it is
// consulted independently of the document's own `_deleted` field per the C2
// invariant check (the two must already agree by the time this is called).
func Normalize(seq int64, docJSON []byte, eventDeleted bool, log *slog.Logger) (*PackageOnly, map[string]VersionOnly, error) {
	if len(docJSON) == 0 || string(docJSON) == "null" {
		if eventDeleted {
			return &PackageOnly{Kind: Deleted}, nil, nil
		}
		return &PackageOnly{Kind: MissingData}, nil, nil
	}

	var doc rawDoc
	if err := json.Unmarshal(docJSON, &doc); err != nil {
		return nil, nil, &ParseError{Seq: seq, Message: fmt.Sprintf("failed to unmarshal document: %v", err)}
	}

	pkg, err := classify(doc, eventDeleted)
	if err != nil {
		return nil, nil, &ParseError{Seq: seq, Message: err.Error()}
	}
	if pkg.Kind != Normal {
		return pkg, nil, nil
	}

	versions := make(map[string]VersionOnly, len(doc.Versions))
	for rawVer, rawJSON := range doc.Versions {
		if _, err := semver.Parse(rawVer); err != nil {
			if log != nil {
				log.Warn("skipping unparsable version", slog.Int64("seq", seq), slog.String("version", rawVer), slog.Any("error", err))
			}
			continue
		}
		v, err := normalizeVersion(rawJSON, doc.Time[rawVer])
		if err != nil {
			return nil, nil, &ParseError{Seq: seq, Message: fmt.Sprintf("version %s: %v", rawVer, err)}
		}
		versions[rawVer] = v
	}
	return pkg, versions, nil
}

func normalizeVersion(rawJSON json.RawMessage, timeStr string) (VersionOnly, error) {
	var rv rawVersion
	if err := json.Unmarshal(rawJSON, &rv); err != nil {
		return VersionOnly{}, fmt.Errorf("failed to unmarshal version record: %w", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(rawJSON, &generic); err != nil {
		return VersionOnly{}, fmt.Errorf("failed to unmarshal version record as map: %w", err)
	}
	extra := make(map[string]any, len(generic))
	for k, v := range generic {
		if !knownVersionFields[k] {
			extra[k] = v
		}
	}

	prodDeps, err := depList(rv.Dependencies)
	if err != nil {
		return VersionOnly{}, fmt.Errorf("dependencies: %w", err)
	}
	devDeps, err := depList(rv.DevDependencies)
	if err != nil {
		return VersionOnly{}, fmt.Errorf("devDependencies: %w", err)
	}
	peerDeps, err := depList(rv.PeerDependencies)
	if err != nil {
		return VersionOnly{}, fmt.Errorf("peerDependencies: %w", err)
	}
	optionalDeps, err := depList(rv.OptionalDependencies)
	if err != nil {
		return VersionOnly{}, fmt.Errorf("optionalDependencies: %w", err)
	}

	v := VersionOnly{
		ProdDependencies:     prodDeps,
		DevDependencies:      devDeps,
		PeerDependencies:     peerDeps,
		OptionalDependencies: optionalDeps,
		Dist: Dist{
			TarballURL:   rv.Dist.Tarball,
			Shasum:       rv.Dist.Shasum,
			UnpackedSize: rv.Dist.UnpackedSize,
			FileCount:    rv.Dist.FileCount,
			Integrity:    rv.Dist.Integrity,
		},
		ExtraMetadata: extra,
	}
	for _, s := range rv.Dist.Signatures {
		v.Dist.Signatures = append(v.Dist.Signatures, DistSignature{KeyID: s.KeyID, Sig: s.Sig})
	}
	if len(rv.Repository) > 0 && string(rv.Repository) != "null" {
		var raw any
		if err := json.Unmarshal(rv.Repository, &raw); err == nil {
			v.Repository = &RepositoryInfo{Raw: raw}
		}
	}
	if timeStr != "" {
		if t, err := time.Parse(time.RFC3339, timeStr); err == nil {
			v.Time = t
		}
	}
	return v, nil
}

// depList converts a raw dependency object into an ordered (name, spec) list,
// preserving the upstream document's declaration order (spec §4.3: "input-
// order preserved"). encoding/json's map decoding discards key order, so this
// walks the raw object's token stream instead of decoding into a map.
func depList(raw json.RawMessage) ([]DependencySpec, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read dependency object: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %v", tok)
	}

	var out []DependencySpec
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to read dependency name: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string dependency name, got %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("dependency %q: failed to read spec: %w", name, err)
		}
		spec, err := semver.ParseSpec(value)
		if err != nil {
			spec = semver.Spec{Kind: semver.SpecTag, Value: value}
		}
		out = append(out, DependencySpec{Name: name, Spec: spec, Raw: value})
	}
	return out, nil
}
