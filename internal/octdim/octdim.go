// Package octdim maps a world-space axis-aligned bounding box and a
// maximum subdivision level to Morton-addressable leaf cells.
package octdim

import (
	"math"

	"github.com/oocpc/engine/internal/morton"
	"github.com/oocpc/engine/pkg/occerr"
)

// Vec3 is a plain 3-component vector, used for origins, sizes, and
// world-space points.
type Vec3 struct {
	X, Y, Z float64
}

// Dim is the mapping from a world AABB, subdivided max_level deep, to
// Morton codes. All input points must satisfy
// Origin <= p < Origin + Size once the caller's pre-scale has been
// applied (the external sorter performs that scale; see package
// sorter).
type Dim struct {
	Origin   Vec3
	Size     Vec3
	MaxLevel uint8
}

// New validates and constructs a Dim.
func New(origin, size Vec3, maxLevel uint8) (Dim, error) {
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return Dim{}, occerr.Newf(occerr.CodeCorruptInput, "non-positive size %+v", size)
	}
	if maxLevel > morton.MediumMaxLevel {
		return Dim{}, occerr.Newf(occerr.CodeOverflowMorton, "max_level %d exceeds medium width %d", maxLevel, morton.MediumMaxLevel)
	}
	return Dim{Origin: origin, Size: size, MaxLevel: maxLevel}, nil
}

// LeafSize returns Size / 2^MaxLevel, the extent of one leaf cell.
func (d Dim) LeafSize() Vec3 {
	div := float64(uint64(1) << d.MaxLevel)
	return Vec3{X: d.Size.X / div, Y: d.Size.Y / div, Z: d.Size.Z / div}
}

// MortonOf maps world point p to the Morton code of the leaf cell
// containing it at level lvl (lvl <= MaxLevel). Returns
// occerr.CodeCorruptInput if p falls outside [Origin, Origin+Size).
func (d Dim) MortonOf(p Vec3, lvl uint8) (morton.MediumCode, error) {
	if p.X < d.Origin.X || p.Y < d.Origin.Y || p.Z < d.Origin.Z ||
		p.X >= d.Origin.X+d.Size.X || p.Y >= d.Origin.Y+d.Size.Y || p.Z >= d.Origin.Z+d.Size.Z {
		return 0, occerr.Newf(occerr.CodeCorruptInput, "point %+v outside dim bounds [%+v, %+v)", p, d.Origin, Vec3{d.Origin.X + d.Size.X, d.Origin.Y + d.Size.Y, d.Origin.Z + d.Size.Z})
	}

	cellsPerAxis := float64(uint64(1) << lvl)
	cx := uint64(math.Floor((p.X - d.Origin.X) / d.Size.X * cellsPerAxis))
	cy := uint64(math.Floor((p.Y - d.Origin.Y) / d.Size.Y * cellsPerAxis))
	cz := uint64(math.Floor((p.Z - d.Origin.Z) / d.Size.Z * cellsPerAxis))

	// Floating point rounding can push a coordinate exactly at the
	// upper bound one cell past the last valid index.
	limit := uint64(1)<<lvl - 1
	if cx > limit {
		cx = limit
	}
	if cy > limit {
		cy = limit
	}
	if cz > limit {
		cz = limit
	}

	return morton.NewMedium(cx, cy, cz, lvl)
}

// CellAABB returns the world-space bounding box of the cell addressed
// by code.
func (d Dim) CellAABB(code morton.MediumCode) (lo, hi Vec3) {
	cx, cy, cz, lvl := code.Decode()
	cellsPerAxis := float64(uint64(1) << lvl)
	cellSize := Vec3{X: d.Size.X / cellsPerAxis, Y: d.Size.Y / cellsPerAxis, Z: d.Size.Z / cellsPerAxis}
	lo = Vec3{
		X: d.Origin.X + float64(cx)*cellSize.X,
		Y: d.Origin.Y + float64(cy)*cellSize.Y,
		Z: d.Origin.Z + float64(cz)*cellSize.Z,
	}
	hi = Vec3{X: lo.X + cellSize.X, Y: lo.Y + cellSize.Y, Z: lo.Z + cellSize.Z}
	return
}
