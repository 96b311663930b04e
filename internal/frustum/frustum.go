// Package frustum implements the view-projection culling and
// screen-space error test the traversal driver uses to decide whether
// a node should be drawn, skipped, or expanded.
package frustum

import (
	"math"

	"github.com/oocpc/engine/internal/octdim"
)

// Mat4 is a 4x4 matrix in row-major order, m[row*4+col].
type Mat4 [16]float64

// Plane is ax + by + cz + d, inward-facing: a point is outside the
// frustum on this plane when the plane equation evaluates negative.
type Plane struct {
	A, B, C, D float64
}

func (p Plane) eval(x, y, z float64) float64 {
	return p.A*x + p.B*y + p.C*z + p.D
}

func (p Plane) normalize() Plane {
	n := math.Sqrt(p.A*p.A + p.B*p.B + p.C*p.C)
	if n == 0 {
		return p
	}
	return Plane{A: p.A / n, B: p.B / n, C: p.C / n, D: p.D / n}
}

// PlanesFromViewProj extracts the six frustum planes from a
// view-projection matrix using the standard Gribb-Hartmann row
// extraction: left/right/bottom/top/near/far are row4 +/- row{1,2,3}.
func PlanesFromViewProj(m Mat4) [6]Plane {
	row := func(i int) (float64, float64, float64, float64) {
		return m[i*4+0], m[i*4+1], m[i*4+2], m[i*4+3]
	}
	r0a, r0b, r0c, r0d := row(0)
	r1a, r1b, r1c, r1d := row(1)
	r2a, r2b, r2c, r2d := row(2)
	r3a, r3b, r3c, r3d := row(3)

	planes := [6]Plane{
		{A: r3a + r0a, B: r3b + r0b, C: r3c + r0c, D: r3d + r0d}, // left
		{A: r3a - r0a, B: r3b - r0b, C: r3c - r0c, D: r3d - r0d}, // right
		{A: r3a + r1a, B: r3b + r1b, C: r3c + r1c, D: r3d + r1d}, // bottom
		{A: r3a - r1a, B: r3b - r1b, C: r3c - r1c, D: r3d - r1d}, // top
		{A: r3a + r2a, B: r3b + r2b, C: r3c + r2c, D: r3d + r2d}, // near
		{A: r3a - r2a, B: r3b - r2b, C: r3c - r2c, D: r3d - r2d}, // far
	}
	for i := range planes {
		planes[i] = planes[i].normalize()
	}
	return planes
}

// corners returns the 8 corners of lo/hi in a fixed order.
func corners(lo, hi octdim.Vec3) [8]octdim.Vec3 {
	return [8]octdim.Vec3{
		{X: lo.X, Y: lo.Y, Z: lo.Z},
		{X: hi.X, Y: lo.Y, Z: lo.Z},
		{X: lo.X, Y: hi.Y, Z: lo.Z},
		{X: hi.X, Y: hi.Y, Z: lo.Z},
		{X: lo.X, Y: lo.Y, Z: hi.Z},
		{X: hi.X, Y: lo.Y, Z: hi.Z},
		{X: lo.X, Y: hi.Y, Z: hi.Z},
		{X: hi.X, Y: hi.Y, Z: hi.Z},
	}
}

// IsCullable reports whether the AABB [lo, hi) is entirely outside the
// view frustum: true iff all 8 corners are outside some single plane.
func IsCullable(planes [6]Plane, lo, hi octdim.Vec3) bool {
	cs := corners(lo, hi)
	for _, pl := range planes {
		allOutside := true
		for _, c := range cs {
			if pl.eval(c.X, c.Y, c.Z) >= 0 {
				allOutside = false
				break
			}
		}
		if allOutside {
			return true
		}
	}
	return false
}

// View is the current view-projection state the renderer supplies each
// frame: the matrix used to derive frustum planes and project corners,
// and the screen-space error threshold tau.
type View struct {
	ViewProj Mat4
	Planes   [6]Plane
	Tau      float64
}

// NewView derives frustum planes from a view-projection matrix.
func NewView(viewProj Mat4, tau float64) View {
	return View{ViewProj: viewProj, Planes: PlanesFromViewProj(viewProj), Tau: tau}
}

func (v View) project(p octdim.Vec3) (x, y float64, ok bool) {
	w := v.ViewProj[12]*p.X + v.ViewProj[13]*p.Y + v.ViewProj[14]*p.Z + v.ViewProj[15]
	if w == 0 {
		return 0, 0, false
	}
	x = (v.ViewProj[0]*p.X + v.ViewProj[1]*p.Y + v.ViewProj[2]*p.Z + v.ViewProj[3]) / w
	y = (v.ViewProj[4]*p.X + v.ViewProj[5]*p.Y + v.ViewProj[6]*p.Z + v.ViewProj[7]) / w
	return x, y, true
}

// ProjectedDiagonalSq projects two space diagonals of [lo, hi) into
// NDC space and returns the larger squared length.
func ProjectedDiagonalSq(v View, lo, hi octdim.Vec3) float64 {
	cs := corners(lo, hi)
	diag := func(i, j int) float64 {
		x0, y0, ok0 := v.project(cs[i])
		x1, y1, ok1 := v.project(cs[j])
		if !ok0 || !ok1 {
			return math.Inf(1)
		}
		dx, dy := x1-x0, y1-y0
		return dx*dx + dy*dy
	}
	// corner 0 and corner 7 is one space diagonal; corner 1 and corner 6
	// is the other. Either pair bounds the AABB's screen-space extent.
	a := diag(0, 7)
	b := diag(1, 6)
	if a > b {
		return a
	}
	return b
}

// IsRenderable reports whether [lo, hi) is small enough on screen to
// stop subdividing: true iff ProjectedDiagonalSq is <= tau. A diagonal
// exactly equal to tau counts as renderable, not branched.
func IsRenderable(v View, lo, hi octdim.Vec3) bool {
	return ProjectedDiagonalSq(v, lo, hi) <= v.Tau
}
