// Package morton implements the sentinel-prefixed interleaved path keys
// used to address octree nodes. Two width variants are provided,
// mirroring the "shallow" and "medium" Morton codes of the reference
// engine: ShallowCode packs into a uint32 and supports up to 10 levels;
// MediumCode packs into a uint64 and supports up to 20 levels.
package morton

import (
	"math/bits"

	"github.com/oocpc/engine/pkg/occerr"
)

// Octant identifies one of the eight children of a node, 0..7.
type Octant uint8

// ShallowMaxLevel is the deepest level a ShallowCode can address.
const ShallowMaxLevel = 10

// MediumMaxLevel is the deepest level a MediumCode can address.
const MediumMaxLevel = 20

// ShallowCode is a sentinel-prefixed interleaved path key packed into a
// uint32 (3*10 data bits + 1 sentinel bit = 31 bits).
type ShallowCode uint32

// MediumCode is a sentinel-prefixed interleaved path key packed into a
// uint64 (3*20 data bits + 1 sentinel bit = 61 bits).
type MediumCode uint64

// RootShallow is the sentinel-only code for the root of a shallow tree.
const RootShallow ShallowCode = 1

// RootMedium is the sentinel-only code for the root of a medium tree.
const RootMedium MediumCode = 1

// encode interleaves the low `lvl` bits of x, y, z per level into 3-bit
// octant groups (z occupies the high bit of the group, y the middle
// bit, x the low bit) and ORs in the sentinel bit at position 3*lvl.
// This bit assignment is what makes ascending code order equal
// depth-first-left traversal order; see the package tests for a worked
// example.
func encode(x, y, z uint64, lvl uint8) uint64 {
	var code uint64
	for b := int(lvl) - 1; b >= 0; b-- {
		xb := (x >> uint(b)) & 1
		yb := (y >> uint(b)) & 1
		zb := (z >> uint(b)) & 1
		octant := (zb << 2) | (yb << 1) | xb
		code = (code << 3) | octant
	}
	return code | (uint64(1) << (3 * uint(lvl)))
}

// decode extracts (x, y, z, lvl) from a packed code.
func decode(code uint64) (x, y, z uint64, lvl uint8) {
	lvl = level(code)
	for g := 0; g < int(lvl); g++ {
		shift := uint(g * 3)
		octant := (code >> shift) & 7
		zb := (octant >> 2) & 1
		yb := (octant >> 1) & 1
		xb := octant & 1
		x |= xb << uint(g)
		y |= yb << uint(g)
		z |= zb << uint(g)
	}
	return
}

// level returns floor(log2(code)) / 3, i.e. the bit position of the
// sentinel divided by 3.
func level(code uint64) uint8 {
	if code == 0 {
		return 0
	}
	return uint8((bits.Len64(code) - 1) / 3)
}

func isDescendantOf(c, ancestor uint64) bool {
	cl, al := level(c), level(ancestor)
	if cl <= al {
		return false
	}
	shift := uint(3 * (cl - al))
	return (c >> shift) == ancestor
}

// ---------------------------------------------------------------------
// ShallowCode
// ---------------------------------------------------------------------

// NewShallow builds a ShallowCode for the leaf cell containing
// (x, y, z) at level lvl, where x, y, z are integer cell indices in
// [0, 2^lvl). Fails with occerr.CodeOverflowMorton if lvl exceeds
// ShallowMaxLevel or a coordinate does not fit in lvl bits.
func NewShallow(x, y, z uint32, lvl uint8) (ShallowCode, error) {
	if lvl > ShallowMaxLevel {
		return 0, occerr.Newf(occerr.CodeOverflowMorton, "level %d exceeds shallow max %d", lvl, ShallowMaxLevel)
	}
	limit := uint32(1) << lvl
	if x >= limit || y >= limit || z >= limit {
		return 0, occerr.Newf(occerr.CodeOverflowMorton, "coordinate (%d,%d,%d) does not fit in %d bits", x, y, z, lvl)
	}
	return ShallowCode(encode(uint64(x), uint64(y), uint64(z), lvl)), nil
}

// Level returns the depth of the code (0 for the root).
func (c ShallowCode) Level() uint8 { return level(uint64(c)) }

// Decode returns the integer cell coordinates and level encoded in c.
func (c ShallowCode) Decode() (x, y, z uint32, lvl uint8) {
	xx, yy, zz, l := decode(uint64(c))
	return uint32(xx), uint32(yy), uint32(zz), l
}

// Parent returns the code of c's parent. The root has no parent; callers
// must check c.Level() > 0 first.
func (c ShallowCode) Parent() ShallowCode { return c >> 3 }

// FirstChild returns the code of c's octant-0 child.
func (c ShallowCode) FirstChild() ShallowCode { return c.Child(0) }

// Child returns the code of c's child in the given octant.
func (c ShallowCode) Child(o Octant) ShallowCode {
	return (c << 3) | ShallowCode(o&7)
}

// Octant returns the octant of c within its parent. Undefined for the
// root.
func (c ShallowCode) Octant() Octant { return Octant(c & 7) }

// IsDescendantOf reports whether c is a strict descendant of ancestor.
func (c ShallowCode) IsDescendantOf(ancestor ShallowCode) bool {
	return isDescendantOf(uint64(c), uint64(ancestor))
}

// IsRoot reports whether c is the tree root.
func (c ShallowCode) IsRoot() bool { return c == RootShallow }

// ---------------------------------------------------------------------
// MediumCode
// ---------------------------------------------------------------------

// NewMedium builds a MediumCode for the leaf cell containing (x, y, z)
// at level lvl, where x, y, z are integer cell indices in [0, 2^lvl).
// Fails with occerr.CodeOverflowMorton if lvl exceeds MediumMaxLevel or
// a coordinate does not fit in lvl bits.
func NewMedium(x, y, z uint64, lvl uint8) (MediumCode, error) {
	if lvl > MediumMaxLevel {
		return 0, occerr.Newf(occerr.CodeOverflowMorton, "level %d exceeds medium max %d", lvl, MediumMaxLevel)
	}
	limit := uint64(1) << lvl
	if x >= limit || y >= limit || z >= limit {
		return 0, occerr.Newf(occerr.CodeOverflowMorton, "coordinate (%d,%d,%d) does not fit in %d bits", x, y, z, lvl)
	}
	return MediumCode(encode(x, y, z, lvl)), nil
}

// Level returns the depth of the code (0 for the root).
func (c MediumCode) Level() uint8 { return level(uint64(c)) }

// Decode returns the integer cell coordinates and level encoded in c.
func (c MediumCode) Decode() (x, y, z uint64, lvl uint8) {
	return decode(uint64(c))
}

// Parent returns the code of c's parent. The root has no parent; callers
// must check c.Level() > 0 first.
func (c MediumCode) Parent() MediumCode { return c >> 3 }

// FirstChild returns the code of c's octant-0 child.
func (c MediumCode) FirstChild() MediumCode { return c.Child(0) }

// Child returns the code of c's child in the given octant.
func (c MediumCode) Child(o Octant) MediumCode {
	return (c << 3) | MediumCode(o&7)
}

// Octant returns the octant of c within its parent. Undefined for the
// root.
func (c MediumCode) Octant() Octant { return Octant(c & 7) }

// IsDescendantOf reports whether c is a strict descendant of ancestor.
func (c MediumCode) IsDescendantOf(ancestor MediumCode) bool {
	return isDescendantOf(uint64(c), uint64(ancestor))
}

// IsRoot reports whether c is the tree root.
func (c MediumCode) IsRoot() bool { return c == RootMedium }
