// Package semver provides the ordered Semver type used to key per-version
// state throughout the pipeline. Parsing and comparison are delegated to
// Masterminds/semver/v3; this package adds the ordered prerelease/build
// decomposition the data model names and a total order suitable for sorted
// map keys.
package semver

import (
	"fmt"
	"strconv"
	"strings"

	mmsemver "github.com/Masterminds/semver/v3"
)

// Ident is one dot-separated prerelease or build identifier: either a
// numeric identifier (compared numerically) or an alphanumeric one
// (compared lexically), per the semver precedence rules.
type Ident struct {
	Str string
	Int int64
	// IsInt is true when the identifier is purely numeric.
	IsInt bool
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseIdent(s string) Ident {
	if isDigits(s) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Ident{Int: n, IsInt: true}
		}
	}
	return Ident{Str: s}
}

func (i Ident) String() string {
	if i.IsInt {
		return strconv.FormatInt(i.Int, 10)
	}
	return i.Str
}

// Version is the Semver data type from the spec: a major.minor.bug triple
// with ordered prerelease and build identifier lists.
type Version struct {
	Major, Minor, Bug int64
	Prerelease        []Ident
	Build              []Ident
}

// Parse parses a version string using Masterminds/semver/v3 and decomposes
// it into the ordered-identifier form the data model names.
func Parse(s string) (Version, error) {
	v, err := mmsemver.StrictNewVersion(s)
	if err != nil {
		// Fall back to the lenient parser: the registry is not always strict
		// (e.g. versions with leading zeros or missing patch components).
		v, err = mmsemver.NewVersion(s)
		if err != nil {
			return Version{}, fmt.Errorf("semver: invalid version %q: %w", s, err)
		}
	}
	out := Version{
		Major: int64(v.Major()),
		Minor: int64(v.Minor()),
		Bug:   int64(v.Patch()),
	}
	if pre := v.Prerelease(); pre != "" {
		for _, part := range strings.Split(pre, ".") {
			out.Prerelease = append(out.Prerelease, parseIdent(part))
		}
	}
	if build := v.Metadata(); build != "" {
		for _, part := range strings.Split(build, ".") {
			out.Build = append(out.Build, Ident{Str: part})
		}
	}
	return out, nil
}

// MustParse panics on an invalid version; used only in tests and literals.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String formats the version canonically (P7: Parse(String(v)) == v).
func (v Version) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d.%d.%d", v.Major, v.Minor, v.Bug)
	if len(v.Prerelease) > 0 {
		sb.WriteByte('-')
		for i, id := range v.Prerelease {
			if i > 0 {
				sb.WriteByte('.')
			}
			sb.WriteString(id.String())
		}
	}
	if len(v.Build) > 0 {
		sb.WriteByte('+')
		for i, id := range v.Build {
			if i > 0 {
				sb.WriteByte('.')
			}
			sb.WriteString(id.String())
		}
	}
	return sb.String()
}

// MarshalText implements encoding.TextMarshaler so Version can be used as a
// map key in canonical JSON output (Go only serializes string-keyed maps).
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func compareIdentLists(a, b []Ident) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareIdent(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareIdent(a, b Ident) int {
	switch {
	case a.IsInt && b.IsInt:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		default:
			return 0
		}
	case a.IsInt && !b.IsInt:
		// Numeric identifiers have lower precedence than alphanumeric ones.
		return -1
	case !a.IsInt && b.IsInt:
		return 1
	default:
		return strings.Compare(a.Str, b.Str)
	}
}

// Compare returns -1, 0, or 1 following semver precedence rules: build
// metadata is ignored, a prerelease version has lower precedence than its
// associated normal version, and otherwise-equal prereleases compare by
// identifier.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmp64(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmp64(v.Minor, o.Minor)
	case v.Bug != o.Bug:
		return cmp64(v.Bug, o.Bug)
	}
	switch {
	case len(v.Prerelease) == 0 && len(o.Prerelease) == 0:
		return 0
	case len(v.Prerelease) == 0:
		return 1 // no prerelease > has prerelease
	case len(o.Prerelease) == 0:
		return -1
	default:
		return compareIdentLists(v.Prerelease, o.Prerelease)
	}
}

func cmp64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether v orders strictly before o; convenient for
// slices.SortFunc and sorted-map iteration (spec's "ascending Semver order").
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// Equal reports whether v and o have the same major, minor, bug and
// prerelease identifiers. Build metadata is ignored, so two versions that
// differ only in build are Equal (String, by contrast, includes the build).
func (v Version) Equal(o Version) bool {
	return v.Major == o.Major && v.Minor == o.Minor && v.Bug == o.Bug &&
		compareIdentLists(v.Prerelease, o.Prerelease) == 0
}
