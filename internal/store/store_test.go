package store

import (
	"context"
	"testing"

	"github.com/oocpc/engine/internal/memgov"
	"github.com/oocpc/engine/internal/morton"
	"github.com/oocpc/engine/internal/node"
	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/internal/storage"
	"github.com/oocpc/engine/pkg/compression"
	"github.com/oocpc/engine/pkg/occerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, gov *memgov.Governor) *Store {
	t.Helper()
	dir := t.TempDir()
	backend, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	return New(Config{
		Layout:     point.LayoutPos,
		Backend:    backend,
		Compressor: compression.Default(),
		Governor:   gov,
	})
}

func sampleGroup(t *testing.T, parent uint64) *Group {
	t.Helper()
	g := &Group{ParentMorton: morton.MediumCode(parent)}
	child := &node.Node{Code: morton.MediumCode(parent).Child(0), Samples: []point.Point{{X: 1, Y: 2, Z: 3}}}
	g.Put(child)
	child2 := &node.Node{Code: morton.MediumCode(parent).Child(5), Samples: []point.Point{{X: 4, Y: 5, Z: 6}, {X: 7, Y: 8, Z: 9}}}
	g.Put(child2)
	return g
}

func TestPutThenGetRoundTrip(t *testing.T) {
	s := newTestStore(t, nil)
	orig := sampleGroup(t, uint64(morton.RootMedium.Child(2).Child(3)) /* arbitrary non-root parent */)

	require.NoError(t, s.Put(orig))

	got, err := s.Get(context.Background(), orig.ParentMorton)
	require.NoError(t, err)
	assert.Equal(t, orig.ChildrenMask, got.ChildrenMask)
	assert.True(t, got.HasChildAt(0))
	assert.True(t, got.HasChildAt(5))
}

func TestReleaseThenGetEqualNodeSet(t *testing.T) {
	s := newTestStore(t, nil)
	parent := morton.RootMedium.Child(1)
	orig := sampleGroup(t, uint64(parent))
	require.NoError(t, s.Put(orig))

	require.NoError(t, s.Release(orig.ParentMorton))

	got, err := s.Get(context.Background(), orig.ParentMorton)
	require.NoError(t, err)
	assert.Equal(t, orig.ChildrenMask, got.ChildrenMask)
	for o := 0; o < 8; o++ {
		if orig.Nodes[o] == nil {
			assert.Nil(t, got.Nodes[o])
			continue
		}
		require.NotNil(t, got.Nodes[o])
		assert.Equal(t, orig.Nodes[o].Code, got.Nodes[o].Code)
		assert.Equal(t, orig.Nodes[o].Samples, got.Nodes[o].Samples)
	}
}

func TestGetMissingGroupNotFound(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.Get(context.Background(), morton.MediumCode(12345))
	require.Error(t, err)
	assert.Equal(t, occerr.CodeNotFound, occerr.CodeOf(err))
}

func TestReleaseNonResidentIsNoop(t *testing.T) {
	s := newTestStore(t, nil)
	assert.NoError(t, s.Release(morton.MediumCode(999)))
}

func TestRangeHitsHotAndCold(t *testing.T) {
	s := newTestStore(t, nil)

	a := sampleGroup(t, uint64(morton.RootMedium.Child(0)))
	b := sampleGroup(t, uint64(morton.RootMedium.Child(1)))
	require.NoError(t, s.Put(a))
	require.NoError(t, s.Put(b))
	require.NoError(t, s.Release(a.ParentMorton)) // pushes a to cold store

	keys, err := s.Range(context.Background(), morton.MediumCode(0), ^morton.MediumCode(0))
	require.NoError(t, err)
	assert.Contains(t, keys, a.ParentMorton)
	assert.Contains(t, keys, b.ParentMorton)
}

func TestPutAccountsBytesWithGovernor(t *testing.T) {
	gov, err := memgov.New(memgov.Config{Quota: 1 << 20, SoftThreshold: 1 << 20}, 1)
	require.NoError(t, err)
	s := newTestStore(t, gov)

	g := sampleGroup(t, uint64(morton.RootMedium.Child(3)))
	require.NoError(t, s.Put(g))
	assert.Greater(t, gov.Accounted(), int64(0))

	require.NoError(t, s.Release(g.ParentMorton))
	assert.Equal(t, int64(0), gov.Accounted())
}

func TestFlushAllPersistsDirtyGroups(t *testing.T) {
	s := newTestStore(t, nil)
	g := sampleGroup(t, uint64(morton.RootMedium.Child(6)))
	require.NoError(t, s.Put(g))

	require.NoError(t, s.FlushAll(context.Background()))

	// a fresh store pointed at the same backend must see the group
	s2 := New(Config{Layout: point.LayoutPos, Backend: s.backend, Compressor: compression.Default()})
	got, err := s2.Get(context.Background(), g.ParentMorton)
	require.NoError(t, err)
	assert.Equal(t, g.ChildrenMask, got.ChildrenMask)
}
