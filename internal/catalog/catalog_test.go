package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func TestCreateAndGetRun(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRepository(db)
	ctx := context.Background()

	run := &BuildRun{
		RunUUID:  uuid.NewString(),
		Manifest: `["a.ply","b.ply"]`,
		MaxLevel: 10,
	}
	require.NoError(t, repo.CreateRun(ctx, run))
	assert.Equal(t, StatusPending, run.Status)
	assert.Equal(t, -1, run.WatermarkLevel)

	got, err := repo.GetRun(ctx, run.RunUUID)
	require.NoError(t, err)
	assert.Equal(t, run.Manifest, got.Manifest)
	assert.Equal(t, -1, got.WatermarkLevel)
}

func TestGetRunNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRepository(db)

	_, err := repo.GetRun(context.Background(), "missing")
	require.Error(t, err)
}

func TestUpdateWatermarkAdvances(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRepository(db)
	ctx := context.Background()

	run := &BuildRun{RunUUID: uuid.NewString(), MaxLevel: 8}
	require.NoError(t, repo.CreateRun(ctx, run))

	require.NoError(t, repo.UpdateWatermark(ctx, run.RunUUID, 3))
	got, err := repo.GetRun(ctx, run.RunUUID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.WatermarkLevel)
}

func TestUpdateWatermarkMissingRunIsNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRepository(db)

	err := repo.UpdateWatermark(context.Background(), "missing", 1)
	require.Error(t, err)
}

func TestMarkStatusCompletedSetsFinishedAt(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRepository(db)
	ctx := context.Background()

	run := &BuildRun{RunUUID: uuid.NewString()}
	require.NoError(t, repo.CreateRun(ctx, run))

	require.NoError(t, repo.MarkStatus(ctx, run.RunUUID, StatusCompleted, ""))
	got, err := repo.GetRun(ctx, run.RunUUID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)
}

func TestListRecentOrdersDescending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.CreateRun(ctx, &BuildRun{RunUUID: uuid.NewString()}))
	}

	runs, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Greater(t, runs[0].ID, runs[1].ID)
}
