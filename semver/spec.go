package semver

import (
	"fmt"
	"strings"
)

// SpecKind discriminates the Spec tagged union (data model §3).
type SpecKind int

const (
	SpecRange SpecKind = iota
	SpecTag
	SpecGit
	SpecRemote
	SpecAlias
	SpecFile
	SpecDirectory
)

func (k SpecKind) String() string {
	switch k {
	case SpecRange:
		return "range"
	case SpecTag:
		return "tag"
	case SpecGit:
		return "git"
	case SpecRemote:
		return "remote"
	case SpecAlias:
		return "alias"
	case SpecFile:
		return "file"
	case SpecDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Spec is a dependency specification: a tagged union of the forms npm
// package.json dependency values can take.
type Spec struct {
	Kind SpecKind

	// Populated when Kind == SpecRange.
	Constraint Constraint

	// Populated when Kind is Tag, Git, Remote, File, or Directory.
	Value string

	// Populated when Kind == SpecAlias: the aliased package name, an
	// optional resolved package id (filled in downstream, hence a pointer),
	// and the underlying Range or Tag subspec.
	AliasName    string
	AliasPkgID   *int64
	AliasSubspec *Spec
}

// ParseSpec parses a raw npm dependency specifier string into a Spec.
func ParseSpec(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Spec{Kind: SpecRange, Constraint: Constraint{{{Op: Any}}}}, nil
	case strings.HasPrefix(raw, "npm:"):
		return parseAlias(raw)
	case strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://"):
		return Spec{Kind: SpecRemote, Value: raw}, nil
	case strings.HasPrefix(raw, "file:"):
		return Spec{Kind: SpecFile, Value: strings.TrimPrefix(raw, "file:")}, nil
	case strings.HasPrefix(raw, "git+") || strings.HasPrefix(raw, "git://") ||
		strings.Contains(raw, "github:") || looksLikeGitShorthand(raw):
		return Spec{Kind: SpecGit, Value: raw}, nil
	default:
		if c, err := ParseConstraint(raw); err == nil {
			return Spec{Kind: SpecRange, Constraint: c}, nil
		}
		// Not a parseable range: treat as a dist-tag (e.g. "latest", "next").
		return Spec{Kind: SpecTag, Value: raw}, nil
	}
}

func looksLikeGitShorthand(raw string) bool {
	// "user/repo" or "user/repo#branch", distinguished from a bare tag by
	// the presence of a slash (dist-tags never contain one).
	return strings.Contains(raw, "/") && !strings.Contains(raw, " ")
}

func parseAlias(raw string) (Spec, error) {
	rest := strings.TrimPrefix(raw, "npm:")
	at := strings.LastIndex(rest, "@")
	if at <= 0 {
		return Spec{}, fmt.Errorf("semver: invalid alias spec %q", raw)
	}
	name := rest[:at]
	subspecRaw := rest[at+1:]
	sub, err := ParseSpec(subspecRaw)
	if err != nil {
		return Spec{}, err
	}
	if sub.Kind != SpecRange && sub.Kind != SpecTag {
		return Spec{}, fmt.Errorf("semver: alias subspec must be a range or tag, got %s", sub.Kind)
	}
	return Spec{Kind: SpecAlias, AliasName: name, AliasSubspec: &sub}, nil
}

// ComparatorOp is one comparator operator.
type ComparatorOp int

const (
	Any ComparatorOp = iota
	Eq
	Gt
	Gte
	Lt
	Lte
)

// Comparator is a single version comparator, e.g. ">=1.2.3".
type Comparator struct {
	Op      ComparatorOp
	Version Version
}

// Satisfies reports whether v satisfies the comparator.
func (c Comparator) Satisfies(v Version) bool {
	switch c.Op {
	case Any:
		return true
	case Eq:
		return v.Compare(c.Version) == 0
	case Gt:
		return v.Compare(c.Version) > 0
	case Gte:
		return v.Compare(c.Version) >= 0
	case Lt:
		return v.Compare(c.Version) < 0
	case Lte:
		return v.Compare(c.Version) <= 0
	default:
		return false
	}
}

// Constraint is a disjunction of conjunctions of comparators: it is
// satisfied if any one of its conjunct groups is satisfied, and a conjunct
// group is satisfied if every comparator in it is satisfied.
type Constraint [][]Comparator

// Satisfies reports whether v satisfies the constraint.
func (c Constraint) Satisfies(v Version) bool {
	for _, conjunct := range c {
		all := true
		for _, comp := range conjunct {
			if !comp.Satisfies(v) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// ParseConstraint parses an npm-style range string ("^1.2.3", ">=1.0.0
// <2.0.0", "1.x || 2.x", "*") into a Constraint.
func ParseConstraint(raw string) (Constraint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return Constraint{{{Op: Any}}}, nil
	}
	var out Constraint
	for _, disjunct := range strings.Split(raw, "||") {
		conjunct, err := parseConjunct(strings.TrimSpace(disjunct))
		if err != nil {
			return nil, err
		}
		out = append(out, conjunct)
	}
	return out, nil
}

func parseConjunct(raw string) ([]Comparator, error) {
	fields := strings.Fields(raw)
	var out []Comparator
	for _, f := range fields {
		c, err := parseComparatorOrShorthand(f)
		if err != nil {
			return nil, err
		}
		out = append(out, c...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("semver: empty constraint")
	}
	return out, nil
}

// parseComparatorOrShorthand handles a single whitespace-delimited token,
// which may expand to more than one comparator (e.g. "^1.2.3" becomes
// [>=1.2.3, <2.0.0]).
func parseComparatorOrShorthand(tok string) ([]Comparator, error) {
	switch {
	case strings.HasPrefix(tok, "^"):
		v, err := Parse(tok[1:])
		if err != nil {
			return nil, err
		}
		return caretRange(v), nil
	case strings.HasPrefix(tok, "~"):
		v, err := Parse(tok[1:])
		if err != nil {
			return nil, err
		}
		return tildeRange(v), nil
	case strings.HasPrefix(tok, ">="):
		v, err := Parse(tok[2:])
		return []Comparator{{Op: Gte, Version: v}}, err
	case strings.HasPrefix(tok, "<="):
		v, err := Parse(tok[2:])
		return []Comparator{{Op: Lte, Version: v}}, err
	case strings.HasPrefix(tok, ">"):
		v, err := Parse(tok[1:])
		return []Comparator{{Op: Gt, Version: v}}, err
	case strings.HasPrefix(tok, "<"):
		v, err := Parse(tok[1:])
		return []Comparator{{Op: Lt, Version: v}}, err
	case strings.HasPrefix(tok, "="):
		v, err := Parse(tok[1:])
		return []Comparator{{Op: Eq, Version: v}}, err
	case strings.HasSuffix(tok, ".x") || strings.HasSuffix(tok, ".X") || strings.HasSuffix(tok, ".*"):
		// X-range: "1.x" becomes [>=1.0.0, <2.0.0], "1.2.x" becomes [>=1.2.0, <1.3.0].
		base := tok[:len(tok)-2]
		v, err := Parse(base)
		if err != nil {
			return nil, err
		}
		upper := Version{Major: v.Major + 1}
		if strings.Contains(base, ".") {
			upper = Version{Major: v.Major, Minor: v.Minor + 1}
		}
		return []Comparator{{Op: Gte, Version: v}, {Op: Lt, Version: upper}}, nil
	default:
		v, err := Parse(tok)
		if err != nil {
			return nil, err
		}
		return []Comparator{{Op: Eq, Version: v}}, nil
	}
}

func caretRange(v Version) []Comparator {
	upper := v
	switch {
	case v.Major > 0:
		upper = Version{Major: v.Major + 1}
	case v.Minor > 0:
		upper = Version{Minor: v.Minor + 1}
	default:
		upper = Version{Bug: v.Bug + 1}
	}
	return []Comparator{{Op: Gte, Version: v}, {Op: Lt, Version: upper}}
}

func tildeRange(v Version) []Comparator {
	upper := Version{Major: v.Major, Minor: v.Minor + 1}
	return []Comparator{{Op: Gte, Version: v}, {Op: Lt, Version: upper}}
}
