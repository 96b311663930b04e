package frustum

import (
	"testing"

	"github.com/oocpc/engine/internal/octdim"
	"github.com/stretchr/testify/assert"
)

// identity returns an identity matrix, i.e. NDC space equals world
// space: the canonical [-1, 1]^3 cube is exactly the view frustum.
func identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

func TestIsCullableOutsideFrustum(t *testing.T) {
	planes := PlanesFromViewProj(identity())
	// entirely beyond the right plane (x <= 1)
	cullable := IsCullable(planes, octdim.Vec3{X: 2, Y: -0.1, Z: -0.1}, octdim.Vec3{X: 3, Y: 0.1, Z: 0.1})
	assert.True(t, cullable)
}

func TestIsCullableIntersectingFrustum(t *testing.T) {
	planes := PlanesFromViewProj(identity())
	cullable := IsCullable(planes, octdim.Vec3{X: -0.5, Y: -0.5, Z: -0.5}, octdim.Vec3{X: 0.5, Y: 0.5, Z: 0.5})
	assert.False(t, cullable)
}

func TestIsCullableStraddlingPlaneIsNotCullable(t *testing.T) {
	planes := PlanesFromViewProj(identity())
	// straddles the right plane but has corners on both sides
	cullable := IsCullable(planes, octdim.Vec3{X: 0.9, Y: -0.1, Z: -0.1}, octdim.Vec3{X: 1.1, Y: 0.1, Z: 0.1})
	assert.False(t, cullable)
}

func TestIsRenderableExactTauIsRenderable(t *testing.T) {
	v := NewView(identity(), 0)
	// a degenerate AABB (zero extent) has projected diagonal 0, which
	// must count as renderable under a tau of exactly 0.
	assert.True(t, IsRenderable(v, octdim.Vec3{X: 0, Y: 0, Z: 0}, octdim.Vec3{X: 0, Y: 0, Z: 0}))
}

func TestIsRenderableLargeBoxIsNotRenderableUnderSmallTau(t *testing.T) {
	v := NewView(identity(), 0.001)
	assert.False(t, IsRenderable(v, octdim.Vec3{X: -1, Y: -1, Z: -1}, octdim.Vec3{X: 1, Y: 1, Z: 1}))
}

func TestProjectedDiagonalSqPicksLargerDiagonal(t *testing.T) {
	v := NewView(identity(), 0)
	d := ProjectedDiagonalSq(v, octdim.Vec3{X: -1, Y: -1, Z: -1}, octdim.Vec3{X: 1, Y: 1, Z: 1})
	assert.InDelta(t, 8.0, d, 1e-9) // (2,2) diagonal in NDC: dx^2+dy^2 = 4+4
}
