// Package node defines the octree node representation and the
// reproducible subsampling used to build inner nodes from their
// children.
package node

import (
	"math/rand"

	"github.com/oocpc/engine/internal/morton"
	"github.com/oocpc/engine/internal/point"
)

// Node holds one octree node: its Morton code, its sample array, the
// child-present bitmask, and a dirty flag. Leaf and inner nodes share
// this one representation; is_leaf is children_mask == 0. Parent
// back-references are never stored: a parent is found by
// Code.Parent() and a store lookup, which breaks the reference cycle
// and keeps nodes value-typed.
type Node struct {
	Code         morton.MediumCode
	Samples      []point.Point
	ChildrenMask uint8
	Dirty        bool
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool { return n.ChildrenMask == 0 }

// HasChild reports whether octant o is present.
func (n *Node) HasChild(o morton.Octant) bool {
	return n.ChildrenMask&(1<<uint(o)) != 0
}

// SetChild marks octant o as present.
func (n *Node) SetChild(o morton.Octant) {
	n.ChildrenMask |= 1 << uint(o)
}

// NewLeaf builds a leaf node from points already known to belong to
// code's cell, truncating to at most maxSamples via uniform random
// downsampling seeded by code so that the result is reproducible.
func NewLeaf(code morton.MediumCode, pts []point.Point, maxSamples int) *Node {
	var samples []point.Point
	if len(pts) > maxSamples {
		samples = subsample(pts, maxSamples, seedFor(code))
	} else {
		samples = append([]point.Point(nil), pts...)
	}
	return &Node{Code: code, Samples: samples}
}

// NewInner builds an inner node at code from the concatenated sample
// arrays of its present children. The sample count is
// clamp(1, floor(total/8), maxSamples), and the indices are chosen
// without replacement using a PRNG seeded from code, so that
// construction is reproducible given the same sorted input.
func NewInner(code morton.MediumCode, childSamples [][]point.Point, maxSamples int) *Node {
	n := &Node{Code: code}
	total := 0
	for i, cs := range childSamples {
		if len(cs) > 0 {
			n.SetChild(morton.Octant(i))
			total += len(cs)
		}
	}

	k := total / 8
	if k < 1 {
		k = 1
	}
	if k > maxSamples {
		k = maxSamples
	}
	if k > total {
		k = total
	}

	pool := make([]point.Point, 0, total)
	for _, cs := range childSamples {
		pool = append(pool, cs...)
	}
	n.Samples = subsample(pool, k, seedFor(code))
	return n
}

// seedFor derives a deterministic PRNG seed from a Morton code.
func seedFor(code morton.MediumCode) int64 {
	return int64(code)
}

// subsample picks k points without replacement from pts using a PRNG
// seeded by seed. If k >= len(pts), a copy of pts is returned.
func subsample(pts []point.Point, k int, seed int64) []point.Point {
	if k >= len(pts) {
		out := make([]point.Point, len(pts))
		copy(out, pts)
		return out
	}
	r := rand.New(rand.NewSource(seed))
	idx := r.Perm(len(pts))[:k]
	out := make([]point.Point, k)
	for i, j := range idx {
		out[i] = pts[j]
	}
	return out
}
