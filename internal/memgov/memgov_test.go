package memgov

import (
	"testing"

	"github.com/oocpc/engine/pkg/occerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGroup struct {
	size     int64
	released bool
	failNext bool
}

func (f *fakeGroup) Release() (int64, error) {
	if f.failNext {
		f.failNext = false
		return 0, occerr.New(occerr.CodeStoreIO, "simulated release failure")
	}
	f.released = true
	return f.size, nil
}

func TestNewRejectsQuotaBelowMinRecord(t *testing.T) {
	_, err := New(Config{Quota: 10}, 100)
	require.Error(t, err)
	assert.Equal(t, occerr.CodeQuotaTooSmall, occerr.CodeOf(err))
}

func TestAllocateWithinSoftThreshold(t *testing.T) {
	g, err := New(Config{Quota: 1000, SoftThreshold: 800}, 1)
	require.NoError(t, err)

	require.NoError(t, g.Allocate(500))
	assert.Equal(t, int64(500), g.Accounted())
}

func TestAllocateTriggersLRURelease(t *testing.T) {
	g, err := New(Config{Quota: 1000, SoftThreshold: 500}, 1)
	require.NoError(t, err)

	victim := &fakeGroup{size: 400}
	g.Touch(victim)
	require.NoError(t, g.Allocate(400))
	assert.Equal(t, int64(400), g.Accounted())

	require.NoError(t, g.Allocate(300))
	assert.True(t, victim.released, "allocation past soft threshold must release LRU entries")
	assert.Equal(t, int64(300), g.Accounted())
}

func TestAllocateOutOfBudget(t *testing.T) {
	g, err := New(Config{Quota: 100, SoftThreshold: 100}, 1)
	require.NoError(t, err)

	_, allocErr := 0, g.Allocate(50)
	require.NoError(t, allocErr)

	err = g.Allocate(100)
	require.Error(t, err)
	assert.Equal(t, occerr.CodeOutOfBudget, occerr.CodeOf(err))
	// failed allocation never loses budget
	assert.Equal(t, int64(50), g.Accounted())
}

func TestReleaseDecrementsAccounted(t *testing.T) {
	g, err := New(Config{Quota: 1000, SoftThreshold: 1000}, 1)
	require.NoError(t, err)

	require.NoError(t, g.Allocate(300))
	g.Release(100)
	assert.Equal(t, int64(200), g.Accounted())
}

func TestReleaseNeverUnderflows(t *testing.T) {
	g, err := New(Config{Quota: 1000, SoftThreshold: 1000}, 1)
	require.NoError(t, err)

	g.Release(50)
	assert.Equal(t, int64(0), g.Accounted())
}

func TestTouchAndForget(t *testing.T) {
	g, err := New(Config{Quota: 1000, SoftThreshold: 100}, 1)
	require.NoError(t, err)

	victim := &fakeGroup{size: 200}
	g.Touch(victim)
	g.Forget(victim)

	require.NoError(t, g.Allocate(150))
	assert.False(t, victim.released, "forgotten entry must not be swept")
}
