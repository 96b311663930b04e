package sorter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/oocpc/engine/internal/octdim"
	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/internal/pointio"
	"github.com/oocpc/engine/pkg/occerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePLY(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	header := []string{
		"ply",
		"format ascii 1.0",
		"element vertex " + itoa(len(lines)),
		"property float x",
		"property float y",
		"property float z",
		"end_header",
	}
	content := ""
	for _, l := range append(header, lines...) {
		content += l + "\n"
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func readAllPoints(t *testing.T, path string) []point.Point {
	t.Helper()
	r, err := pointio.OpenStreamReader(path)
	require.NoError(t, err)
	defer r.Close()

	var pts []point.Point
	for {
		p, err := r.Next()
		if err != nil {
			break
		}
		pts = append(pts, p)
	}
	return pts
}

func TestSortEmptyManifest(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		OutputPath:     filepath.Join(dir, "out.bin"),
		DescriptorPath: filepath.Join(dir, "out.json"),
		WorkDir:        filepath.Join(dir, "work"),
		Level:          4,
		MaxLevel:       10,
		MemQuota:       1 << 20,
		Layout:         point.LayoutPos,
	}

	res, err := Sort(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.Count)

	desc, err := ReadDescriptor(cfg.DescriptorPath)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), desc.Count)
	assert.Equal(t, "v1", desc.Version)
}

func TestSortQuotaTooSmall(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		OutputPath:     filepath.Join(dir, "out.bin"),
		DescriptorPath: filepath.Join(dir, "out.json"),
		WorkDir:        filepath.Join(dir, "work"),
		MemQuota:       1,
		Layout:         point.LayoutPosNormalColor,
	}
	_, err := Sort(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, occerr.CodeQuotaTooSmall, occerr.CodeOf(err))
}

func TestSortMissingInputFileIsCorruptInput(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Manifest:       []string{filepath.Join(dir, "does-not-exist.ply")},
		OutputPath:     filepath.Join(dir, "out.bin"),
		DescriptorPath: filepath.Join(dir, "out.json"),
		WorkDir:        filepath.Join(dir, "work"),
		Level:          4,
		MaxLevel:       10,
		MemQuota:       1 << 20,
		Layout:         point.LayoutPos,
	}
	_, err := Sort(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, occerr.CodeCorruptInput, occerr.CodeOf(err))
}

func TestSortSingleChunkSkipsMerge(t *testing.T) {
	dir := t.TempDir()
	path := writePLY(t, dir, "in.ply", []string{
		"0 0 0",
		"9 9 9",
		"3 1 2",
		"5 5 5",
	})

	cfg := Config{
		Manifest:       []string{path},
		OutputPath:     filepath.Join(dir, "out.bin"),
		DescriptorPath: filepath.Join(dir, "out.json"),
		WorkDir:        filepath.Join(dir, "work"),
		Level:          4,
		MaxLevel:       8,
		TotalBytes:     1 << 10, // small enough that k == 1
		MemQuota:       1 << 20,
		Layout:         point.LayoutPos,
	}

	res, err := Sort(context.Background(), cfg)
	require.NoError(t, err)
	assert.EqualValues(t, 4, res.Count)

	pts := readAllPoints(t, cfg.OutputPath)
	require.Len(t, pts, 4)
	assertSortedByMorton(t, pts, res.Dim, cfg.Level)
}

func TestSortMultiChunkMergeProducesGloballySortedStream(t *testing.T) {
	dir := t.TempDir()
	lines := make([]string, 0, 40)
	// Spread points across the cube so chunks, sorted independently,
	// overlap in Morton range and force a real merge.
	for i := 0; i < 40; i++ {
		x := (i * 7) % 10
		y := (i * 3) % 10
		z := (i * 11) % 10
		lines = append(lines, itoa(x)+" "+itoa(y)+" "+itoa(z))
	}
	path := writePLY(t, dir, "in.ply", lines)

	recordSize := point.LayoutPos.SerializedSize()
	cfg := Config{
		Manifest:       []string{path},
		OutputPath:     filepath.Join(dir, "out.bin"),
		DescriptorPath: filepath.Join(dir, "out.json"),
		WorkDir:        filepath.Join(dir, "work"),
		Level:          5,
		MaxLevel:       8,
		TotalBytes:     int64(40 * recordSize),
		MemQuota:       int64(8 * recordSize), // forces several small chunks
		Layout:         point.LayoutPos,
		Workers:        4,
	}

	res, err := Sort(context.Background(), cfg)
	require.NoError(t, err)
	assert.EqualValues(t, 40, res.Count)

	pts := readAllPoints(t, cfg.OutputPath)
	require.Len(t, pts, 40)
	assertSortedByMorton(t, pts, res.Dim, cfg.Level)

	entries, err := os.ReadDir(cfg.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "intermediate chunk files should be removed after a successful merge")

	desc, err := ReadDescriptor(cfg.DescriptorPath)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), desc.Count)
	assert.Equal(t, "pos", desc.Attributes)
	assert.Equal(t, 0.0, desc.Origin.X)
}

func TestSortColinearInputProducesValidDim(t *testing.T) {
	dir := t.TempDir()
	// spec.md §8 scenario 2: four points colinear along X, y = z = 0.
	// extent.Y and extent.Z measure zero; Sort must still derive a
	// usable OctreeDim instead of handing octdim.New a degenerate axis.
	path := writePLY(t, dir, "in.ply", []string{
		"0 0 0",
		"0.25 0 0",
		"0.5 0 0",
		"0.75 0 0",
	})

	cfg := Config{
		Manifest:       []string{path},
		OutputPath:     filepath.Join(dir, "out.bin"),
		DescriptorPath: filepath.Join(dir, "out.json"),
		WorkDir:        filepath.Join(dir, "work"),
		Level:          2,
		MaxLevel:       8,
		TotalBytes:     1 << 10,
		MemQuota:       1 << 20,
		Layout:         point.LayoutPos,
	}

	res, err := Sort(context.Background(), cfg)
	require.NoError(t, err)
	assert.EqualValues(t, 4, res.Count)
	assert.Greater(t, res.Dim.Size.X, 0.0)
	assert.Greater(t, res.Dim.Size.Y, 0.0)
	assert.Greater(t, res.Dim.Size.Z, 0.0)

	pts := readAllPoints(t, cfg.OutputPath)
	require.Len(t, pts, 4)
	assertSortedByMorton(t, pts, res.Dim, cfg.Level)
}

func assertSortedByMorton(t *testing.T, pts []point.Point, dim octdim.Dim, level uint8) {
	t.Helper()
	for i := 1; i < len(pts); i++ {
		prev, err := dim.MortonOf(octdim.Vec3{X: float64(pts[i-1].X), Y: float64(pts[i-1].Y), Z: float64(pts[i-1].Z)}, level)
		require.NoError(t, err)
		cur, err := dim.MortonOf(octdim.Vec3{X: float64(pts[i].X), Y: float64(pts[i].Y), Z: float64(pts[i].Z)}, level)
		require.NoError(t, err)
		assert.LessOrEqual(t, prev, cur, "points must be non-decreasing by morton code")
	}
}
