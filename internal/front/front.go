// Package front implements the ordered set of Morton codes tracking
// which nodes are currently drawn. The traversal driver (package
// traversal) is documented as the front's sole mutator and runs
// single-threaded between frames, so Front carries no internal
// locking.
package front

import (
	"sort"

	"github.com/oocpc/engine/internal/morton"
)

// Front is an ordered set of Morton codes. Iteration order is
// ascending Morton value, i.e. depth-first-left order.
type Front struct {
	codes []morton.MediumCode
}

// New returns an empty front.
func New() *Front {
	return &Front{}
}

func (f *Front) search(m morton.MediumCode) int {
	return sort.Search(len(f.codes), func(i int) bool { return f.codes[i] >= m })
}

// Contains reports whether m is currently in the front.
func (f *Front) Contains(m morton.MediumCode) bool {
	i := f.search(m)
	return i < len(f.codes) && f.codes[i] == m
}

// Insert adds m to the front. A no-op if m is already present.
func (f *Front) Insert(m morton.MediumCode) {
	i := f.search(m)
	if i < len(f.codes) && f.codes[i] == m {
		return
	}
	f.codes = append(f.codes, 0)
	copy(f.codes[i+1:], f.codes[i:])
	f.codes[i] = m
}

// Remove deletes m from the front. A no-op if m is absent.
func (f *Front) Remove(m morton.MediumCode) {
	i := f.search(m)
	if i >= len(f.codes) || f.codes[i] != m {
		return
	}
	f.codes = append(f.codes[:i], f.codes[i+1:]...)
}

// Len returns the number of entries in the front.
func (f *Front) Len() int { return len(f.codes) }

// Iter calls fn for every entry in ascending Morton order. fn must not
// mutate the front while iterating.
func (f *Front) Iter(fn func(m morton.MediumCode)) {
	for _, c := range f.codes {
		fn(c)
	}
}

// Snapshot returns a copy of the front's current entries, in ascending
// order, safe to range over while the caller mutates the front.
func (f *Front) Snapshot() []morton.MediumCode {
	out := make([]morton.MediumCode, len(f.codes))
	copy(out, f.codes)
	return out
}

// HasAllSiblings reports whether every one of m's siblings that could
// possibly exist (per childrenMask, m's parent's children bitmask) is
// present in the front. Used by the traversal driver's prune test
// (spec §4.K): a parent may only be pruned in if all of its resident
// children are currently drawn.
func HasAllSiblings(f *Front, m morton.MediumCode, childrenMask uint8) bool {
	parent := m.Parent()
	for o := 0; o < 8; o++ {
		if childrenMask&(1<<uint(o)) == 0 {
			continue
		}
		if !f.Contains(parent.Child(morton.Octant(o))) {
			return false
		}
	}
	return true
}
