package octdim

import (
	"testing"

	"github.com/oocpc/engine/pkg/occerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeafSize(t *testing.T) {
	d, err := New(Vec3{}, Vec3{X: 8, Y: 8, Z: 8}, 3)
	require.NoError(t, err)
	assert.Equal(t, Vec3{X: 1, Y: 1, Z: 1}, d.LeafSize())
}

func TestMortonOfEightCornerCube(t *testing.T) {
	d, err := New(Vec3{}, Vec3{X: 1, Y: 1, Z: 1}, 1)
	require.NoError(t, err)

	corners := []Vec3{
		{0, 0, 0}, {1 - 1e-9, 0, 0}, {0, 1 - 1e-9, 0}, {1 - 1e-9, 1 - 1e-9, 0},
		{0, 0, 1 - 1e-9}, {1 - 1e-9, 0, 1 - 1e-9}, {0, 1 - 1e-9, 1 - 1e-9}, {1 - 1e-9, 1 - 1e-9, 1 - 1e-9},
	}

	var prev uint64
	for i, c := range corners {
		code, err := d.MortonOf(c, 1)
		require.NoError(t, err)
		if i > 0 {
			assert.Greater(t, uint64(code), prev)
		}
		prev = uint64(code)
	}
}

func TestMortonOfOutOfBounds(t *testing.T) {
	d, err := New(Vec3{}, Vec3{X: 1, Y: 1, Z: 1}, 2)
	require.NoError(t, err)

	_, err = d.MortonOf(Vec3{X: 1.5, Y: 0, Z: 0}, 2)
	require.Error(t, err)
	assert.Equal(t, occerr.CodeCorruptInput, occerr.CodeOf(err))

	_, err = d.MortonOf(Vec3{X: -0.1, Y: 0, Z: 0}, 2)
	require.Error(t, err)
}

func TestCellAABBRoundTrip(t *testing.T) {
	d, err := New(Vec3{X: 10, Y: 10, Z: 10}, Vec3{X: 4, Y: 4, Z: 4}, 2)
	require.NoError(t, err)

	p := Vec3{X: 11.5, Y: 10.5, Z: 13.9}
	code, err := d.MortonOf(p, 2)
	require.NoError(t, err)

	lo, hi := d.CellAABB(code)
	assert.LessOrEqual(t, lo.X, p.X)
	assert.Greater(t, hi.X, p.X)
	assert.LessOrEqual(t, lo.Y, p.Y)
	assert.Greater(t, hi.Y, p.Y)
	assert.LessOrEqual(t, lo.Z, p.Z)
	assert.Greater(t, hi.Z, p.Z)
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	_, err := New(Vec3{}, Vec3{X: 0, Y: 1, Z: 1}, 1)
	require.Error(t, err)
}

func TestNewRejectsOverflowLevel(t *testing.T) {
	_, err := New(Vec3{}, Vec3{X: 1, Y: 1, Z: 1}, 200)
	require.Error(t, err)
	assert.Equal(t, occerr.CodeOverflowMorton, occerr.CodeOf(err))
}
