package filter

import (
	"sync"

	"github.com/marmos91/sruth/pkg/archivepath"
)

// Predicate is a node's declarative interest: a mutable collection of
// Filters plus the set of filters already satisfied. Once a filter is
// satisfied it is not re-requested, even though Matches may still report
// true for other, unsatisfied filters.
//
// Predicate is safe for concurrent use; the ClearingHouse owns the single
// local instance and Peers hold non-owning references to it.
type Predicate struct {
	mu        sync.Mutex
	entries   []entry
	onChanged func()
}

type entry struct {
	filter    Filter
	satisfied bool
}

// New builds a Predicate from the given filters, none yet satisfied.
func New(filters ...Filter) *Predicate {
	p := &Predicate{}
	for _, f := range filters {
		p.entries = append(p.entries, entry{filter: f})
	}
	return p
}

// OnChanged registers fn to be called (from whichever goroutine mutated
// the predicate) whenever a filter is newly marked satisfied. Only one
// callback is retained; the ClearingHouse uses it to log the change.
func (p *Predicate) OnChanged(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChanged = fn
}

// IsNothing reports whether this predicate is the source predicate
// (matches nothing, so the owning peer never issues Requests).
func (p *Predicate) IsNothing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.filter.kind != KindNothing {
			return false
		}
	}
	return true
}

// Matches reports whether path is matched by any unsatisfied filter.
func (p *Predicate) Matches(path archivepath.ArchivePath) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if !e.satisfied && e.filter.Matches(path) {
			return true
		}
	}
	return false
}

// MarkSatisfied marks the filter equal to matched as satisfied, so it is
// no longer considered by Matches or re-requested. It is a no-op if no
// entry equals matched. Fires the OnChanged callback, if any, on an
// actual state transition.
func (p *Predicate) MarkSatisfied(matched Filter) {
	p.mu.Lock()
	changed := false
	for i, e := range p.entries {
		if !e.satisfied && e.filter.Equal(matched) {
			p.entries[i].satisfied = true
			changed = true
		}
	}
	cb := p.onChanged
	p.mu.Unlock()

	if changed && cb != nil {
		cb()
	}
}

// Snapshot returns every filter, satisfied or not, in stable order. Used
// to serialize the full predicate at handshake.
func (p *Predicate) Snapshot() []Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Filter, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.filter
	}
	return out
}

// UnsatisfiedFilters returns a copy of every filter not yet satisfied, in
// stable order.
func (p *Predicate) UnsatisfiedFilters() []Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Filter
	for _, e := range p.entries {
		if !e.satisfied {
			out = append(out, e.filter)
		}
	}
	return out
}

// MatchingUnsatisfiedFilter returns the first unsatisfied filter matching
// path, and true, or the zero Filter and false if none match. Peers pass
// the result to MarkSatisfied when a matching file completes.
func (p *Predicate) MatchingUnsatisfiedFilter(path archivepath.ArchivePath) (Filter, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if !e.satisfied && e.filter.Matches(path) {
			return e.filter, true
		}
	}
	return Filter{}, false
}
