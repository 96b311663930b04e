package builder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/oocpc/engine/internal/memgov"
	"github.com/oocpc/engine/internal/morton"
	"github.com/oocpc/engine/internal/octdim"
	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/internal/pointio"
	"github.com/oocpc/engine/internal/storage"
	"github.com/oocpc/engine/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, layout point.Layout) *store.Store {
	t.Helper()
	backend, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	gov, err := memgov.New(memgov.Config{Quota: 1 << 30, SoftThreshold: 1 << 30}, int64(layout.SerializedSize()))
	require.NoError(t, err)
	return store.New(store.Config{Layout: layout, Backend: backend, Governor: gov})
}

func writeUnitCubeStream(t *testing.T, dim octdim.Dim, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sorted.bin")
	w, err := pointio.CreateStreamWriter(path, point.LayoutPos)
	require.NoError(t, err)

	// Spread n points across distinct leaf cells in ascending Morton
	// order so the stream is already sorted, the way the external
	// sorter would have produced it.
	for i := 0; i < n; i++ {
		frac := (float64(i) + 0.5) / float64(n)
		p := point.Point{X: float32(frac), Y: float32(frac), Z: float32(frac)}
		require.NoError(t, w.Write(p))
	}
	require.NoError(t, w.Close())
	return path
}

func TestBuildEmptyStreamProducesNoRoot(t *testing.T) {
	dim, err := octdim.New(octdim.Vec3{}, octdim.Vec3{X: 1, Y: 1, Z: 1}, 3)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "empty.bin")
	w, err := pointio.CreateStreamWriter(path, point.LayoutPos)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	st := newTestStore(t, point.LayoutPos)
	result, err := Build(context.Background(), Config{
		StreamPath:        path,
		Dim:               dim,
		Store:             st,
		WorkItemSize:      8,
		MaxSamplesPerNode: 4,
		Workers:           2,
	})
	require.NoError(t, err)
	require.False(t, result.HasRoot)
}

func TestBuildSingleRangeProducesRoot(t *testing.T) {
	dim, err := octdim.New(octdim.Vec3{}, octdim.Vec3{X: 1, Y: 1, Z: 1}, 3)
	require.NoError(t, err)
	path := writeUnitCubeStream(t, dim, 20)

	st := newTestStore(t, point.LayoutPos)
	result, err := Build(context.Background(), Config{
		StreamPath:        path,
		Dim:               dim,
		Store:             st,
		WorkItemSize:      1 << 16, // one range, no boundary splitting
		MaxSamplesPerNode: 4,
		Workers:           2,
	})
	require.NoError(t, err)
	require.True(t, result.HasRoot)
	require.Equal(t, morton.RootMedium, result.Root)

	root, err := st.Get(context.Background(), morton.RootMedium)
	require.NoError(t, err)
	require.NotZero(t, root.ChildrenMask)
}

func TestBuildManySmallRangesStitchesBoundaryLeaves(t *testing.T) {
	dim, err := octdim.New(octdim.Vec3{}, octdim.Vec3{X: 1, Y: 1, Z: 1}, 3)
	require.NoError(t, err)
	path := writeUnitCubeStream(t, dim, 40)

	st := newTestStore(t, point.LayoutPos)
	result, err := Build(context.Background(), Config{
		StreamPath:        path,
		Dim:               dim,
		Store:             st,
		WorkItemSize:      3, // forces many ranges, heavy boundary stitching
		MaxSamplesPerNode: 4,
		Workers:           4,
	})
	require.NoError(t, err)
	require.True(t, result.HasRoot)

	root, err := st.Get(context.Background(), morton.RootMedium)
	require.NoError(t, err)
	require.Positive(t, root.Count())
	for _, n := range root.Nodes {
		if n != nil {
			require.LessOrEqual(t, len(n.Samples), 4)
		}
	}
}
