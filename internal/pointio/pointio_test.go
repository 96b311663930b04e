package pointio

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/pkg/occerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plyPosOnly = `ply
format ascii 1.0
element vertex 3
property float x
property float y
property float z
end_header
0 0 0
1 2 3
4.5 -1.5 0.25
`

const plyFull = `ply
format ascii 1.0
comment generated for testing
element vertex 2
property float x
property float y
property float z
property float nx
property float ny
property float nz
property uchar red
property uchar green
property uchar blue
end_header
1 1 1 0 1 0 255 0 128
2 2 2 1 0 0 0 255 0
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadPosOnly(t *testing.T) {
	path := writeTemp(t, "pos.ply", plyPosOnly)

	var pts []point.Point
	err := Read(path, func(p point.Point) { pts = append(pts, p) })
	require.NoError(t, err)

	require.Len(t, pts, 3)
	assert.Equal(t, point.Point{X: 0, Y: 0, Z: 0}, pts[0])
	assert.Equal(t, point.Point{X: 1, Y: 2, Z: 3}, pts[1])
	assert.Equal(t, float32(4.5), pts[2].X)
}

func TestReadNormalAndColorScaled(t *testing.T) {
	path := writeTemp(t, "full.ply", plyFull)

	var pts []point.Point
	err := Read(path, func(p point.Point) { pts = append(pts, p) })
	require.NoError(t, err)

	require.Len(t, pts, 2)
	assert.Equal(t, float32(0), pts[0].NX)
	assert.Equal(t, float32(1), pts[0].NY)
	assert.InDelta(t, 1.0, pts[0].R, 1e-6)
	assert.InDelta(t, 0.0, pts[0].G, 1e-6)
	assert.InDelta(t, 128.0/255.0, pts[0].B, 1e-6)
}

func TestReadMissingXYZFails(t *testing.T) {
	bad := `ply
format ascii 1.0
element vertex 1
property float x
property float y
end_header
1 2
`
	path := writeTemp(t, "bad.ply", bad)
	err := Read(path, func(point.Point) {})
	require.Error(t, err)
	assert.Equal(t, occerr.CodeCorruptInput, occerr.CodeOf(err))
}

func TestReadNotAPlyFile(t *testing.T) {
	path := writeTemp(t, "notply.txt", "hello\nworld\n")
	err := Read(path, func(point.Point) {})
	require.Error(t, err)
	assert.Equal(t, occerr.CodeCorruptInput, occerr.CodeOf(err))
}

func TestReadFromReaderMatchesRead(t *testing.T) {
	var pts []point.Point
	err := ReadFrom(strings.NewReader(plyPosOnly), func(p point.Point) { pts = append(pts, p) })
	require.NoError(t, err)
	assert.Len(t, pts, 3)
}

func TestStreamWriterReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sorted.bin")
	w, err := CreateStreamWriter(path, point.LayoutPosNormal)
	require.NoError(t, err)

	pts := []point.Point{
		{X: 1, Y: 2, Z: 3, NX: 0.1, NY: 0.2, NZ: 0.3},
		{X: 4, Y: 5, Z: 6, NX: 0.4, NY: 0.5, NZ: 0.6},
	}
	for _, p := range pts {
		require.NoError(t, w.Write(p))
	}
	require.NoError(t, w.Close())

	r, err := OpenStreamReader(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, uint64(2), r.Count)
	assert.Equal(t, point.LayoutPosNormal, r.Layout)

	for _, want := range pts {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamReaderRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	require.NoError(t, os.WriteFile(path, []byte("NOTAVALIDHEADERNOPE"), 0o644))

	_, err := OpenStreamReader(path)
	require.Error(t, err)
	assert.Equal(t, occerr.CodeCorruptInput, occerr.CodeOf(err))
}
