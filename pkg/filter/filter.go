// Package filter implements Filter (a boolean criterion over
// ArchivePaths) and Predicate (an intersectable, satisfaction-tracking
// set of Filters).
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/marmos91/sruth/pkg/archivepath"
)

// Kind discriminates the shape of a Filter.
type Kind int

const (
	// KindEverything matches every ArchivePath.
	KindEverything Kind = iota
	// KindNothing matches no ArchivePath.
	KindNothing
	// KindPrefix matches ArchivePaths with a given prefix.
	KindPrefix
	// KindRegex matches ArchivePaths against a compiled regular
	// expression.
	KindRegex
	// KindAnd is the intersection of its Children, produced by Reduce.
	KindAnd
)

// Filter is a predicate over ArchivePath: matches EVERYTHING, NOTHING, a
// prefix, a regex, or (via Reduce) the intersection of several filters.
type Filter struct {
	kind     Kind
	prefix   string
	pattern  string
	compiled *regexp.Regexp
	children []Filter
}

// Everything returns the filter matching every ArchivePath.
func Everything() Filter { return Filter{kind: KindEverything} }

// Nothing returns the filter matching no ArchivePath.
func Nothing() Filter { return Filter{kind: KindNothing} }

// NewPrefix returns a filter matching ArchivePaths with the given prefix.
func NewPrefix(prefix string) Filter {
	return Filter{kind: KindPrefix, prefix: prefix}
}

// NewRegex compiles pattern and returns a filter matching ArchivePaths
// against it. Returns an error (data-corruption class, §7) if pattern
// does not compile.
func NewRegex(pattern string) (Filter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Filter{}, fmt.Errorf("filter: invalid regex %q: %w", pattern, err)
	}
	return Filter{kind: KindRegex, pattern: pattern, compiled: re}, nil
}

// Kind returns the filter's shape.
func (f Filter) Kind() Kind { return f.kind }

// Prefix returns the prefix string for a KindPrefix filter.
func (f Filter) Prefix() string { return f.prefix }

// Pattern returns the regex source for a KindRegex filter.
func (f Filter) Pattern() string { return f.pattern }

// Children returns the intersected filters of a KindAnd filter.
func (f Filter) Children() []Filter { return f.children }

// FromParts reconstructs a Filter from its decomposed fields. Used by
// pkg/wire to rebuild a Filter received over the network, where
// round-tripping through the public constructors would lose KindAnd's
// children.
func FromParts(kind Kind, prefix, pattern string, children []Filter) (Filter, error) {
	switch kind {
	case KindEverything:
		return Everything(), nil
	case KindNothing:
		return Nothing(), nil
	case KindPrefix:
		return NewPrefix(prefix), nil
	case KindRegex:
		return NewRegex(pattern)
	case KindAnd:
		return Filter{kind: KindAnd, children: children}, nil
	default:
		return Filter{}, fmt.Errorf("filter: unknown kind %d", kind)
	}
}

// Matches reports whether p satisfies f.
func (f Filter) Matches(p archivepath.ArchivePath) bool {
	switch f.kind {
	case KindEverything:
		return true
	case KindNothing:
		return false
	case KindPrefix:
		return strings.HasPrefix(p.String(), f.prefix)
	case KindRegex:
		if f.compiled == nil {
			re, err := regexp.Compile(f.pattern)
			if err != nil {
				return false
			}
			f.compiled = re
		}
		return f.compiled.MatchString(p.String())
	case KindAnd:
		for _, c := range f.children {
			if !c.Matches(p) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Reduce intersects filters into a single Filter closed under
// intersection: EVERYTHING is absorbed, NOTHING short-circuits the whole
// result to NOTHING, and a single remaining filter is returned unwrapped.
func Reduce(filters ...Filter) Filter {
	var kept []Filter
	for _, f := range filters {
		switch f.kind {
		case KindEverything:
			continue
		case KindNothing:
			return Nothing()
		case KindAnd:
			kept = append(kept, f.children...)
		default:
			kept = append(kept, f)
		}
	}

	switch len(kept) {
	case 0:
		return Everything()
	case 1:
		return kept[0]
	default:
		return Filter{kind: KindAnd, children: kept}
	}
}

// Equal reports whether f and g describe the same filter, used to
// recognize "the filter this Notice's payload satisfied" when narrowing
// a Predicate.
func (f Filter) Equal(g Filter) bool {
	if f.kind != g.kind {
		return false
	}
	switch f.kind {
	case KindPrefix:
		return f.prefix == g.prefix
	case KindRegex:
		return f.pattern == g.pattern
	case KindAnd:
		if len(f.children) != len(g.children) {
			return false
		}
		for i := range f.children {
			if !f.children[i].Equal(g.children[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String returns a human-readable rendering, used for logging.
func (f Filter) String() string {
	switch f.kind {
	case KindEverything:
		return "EVERYTHING"
	case KindNothing:
		return "NOTHING"
	case KindPrefix:
		return fmt.Sprintf("prefix(%s)", f.prefix)
	case KindRegex:
		return fmt.Sprintf("regex(%s)", f.pattern)
	case KindAnd:
		parts := make([]string, len(f.children))
		for i, c := range f.children {
			parts[i] = c.String()
		}
		return "and(" + strings.Join(parts, ", ") + ")"
	default:
		return "unknown"
	}
}
