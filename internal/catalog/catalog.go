// Package catalog tracks build runs across invocations: one row per
// sort-and-build pipeline execution, with enough state to detect a
// resumed build's highest already-populated level (spec.md §9).
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oocpc/engine/pkg/occerr"
	"gorm.io/gorm"
)

// Status is a build run's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// BuildRun is one execution of the sort-and-build pipeline.
type BuildRun struct {
	ID               uint `gorm:"primarykey"`
	RunUUID          string `gorm:"uniqueIndex;size:36"`
	Manifest         string `gorm:"type:text"` // input file paths, comma-separated
	DescriptorPath   string `gorm:"size:512"`
	DatabasePath     string `gorm:"size:512"`
	MaxLevel         uint8
	Status           Status `gorm:"size:16;index"`
	WatermarkLevel   int    // highest level whose sibling groups are all known persisted; -1 = none yet
	ErrorMessage     string `gorm:"type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	FinishedAt       *time.Time
}

// TableName overrides GORM's pluralization, matching the teacher's
// explicit table naming for its own models.
func (BuildRun) TableName() string { return "oct_build_runs" }

// Repository is the persistence boundary for build-run tracking.
type Repository interface {
	CreateRun(ctx context.Context, run *BuildRun) error
	GetRun(ctx context.Context, runUUID string) (*BuildRun, error)
	UpdateWatermark(ctx context.Context, runUUID string, level int) error
	MarkStatus(ctx context.Context, runUUID string, status Status, errMsg string) error
	ListRecent(ctx context.Context, limit int) ([]BuildRun, error)
}

// GormRepository implements Repository over any GORM dialect.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository constructs a GormRepository. AutoMigrate must have
// been run once against db (see Migrate).
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Migrate creates or updates the catalog schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&BuildRun{}); err != nil {
		return occerr.Wrap(occerr.CodeStoreIO, "migrating catalog schema", err)
	}
	return nil
}

func (r *GormRepository) CreateRun(ctx context.Context, run *BuildRun) error {
	if run.WatermarkLevel == 0 {
		run.WatermarkLevel = -1
	}
	if run.Status == "" {
		run.Status = StatusPending
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return occerr.Wrap(occerr.CodeStoreIO, "creating build run", err)
	}
	return nil
}

func (r *GormRepository) GetRun(ctx context.Context, runUUID string) (*BuildRun, error) {
	var run BuildRun
	err := r.db.WithContext(ctx).Where("run_uuid = ?", runUUID).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, occerr.Newf(occerr.CodeNotFound, "build run %s not found", runUUID)
		}
		return nil, occerr.Wrap(occerr.CodeStoreIO, "loading build run", err)
	}
	return &run, nil
}

// UpdateWatermark advances run's watermark level. The builder calls
// this after every level's sibling groups are fully persisted, so a
// later resumed run can skip straight to WatermarkLevel+1.
func (r *GormRepository) UpdateWatermark(ctx context.Context, runUUID string, level int) error {
	res := r.db.WithContext(ctx).
		Model(&BuildRun{}).
		Where("run_uuid = ?", runUUID).
		Update("watermark_level", level)
	if res.Error != nil {
		return occerr.Wrap(occerr.CodeStoreIO, "updating watermark", res.Error)
	}
	if res.RowsAffected == 0 {
		return occerr.Newf(occerr.CodeNotFound, "build run %s not found", runUUID)
	}
	return nil
}

func (r *GormRepository) MarkStatus(ctx context.Context, runUUID string, status Status, errMsg string) error {
	updates := map[string]interface{}{"status": status, "error_message": errMsg}
	if status == StatusCompleted || status == StatusFailed || status == StatusCancelled {
		now := time.Now()
		updates["finished_at"] = &now
	}
	res := r.db.WithContext(ctx).
		Model(&BuildRun{}).
		Where("run_uuid = ?", runUUID).
		Updates(updates)
	if res.Error != nil {
		return occerr.Wrap(occerr.CodeStoreIO, "updating build run status", res.Error)
	}
	if res.RowsAffected == 0 {
		return occerr.Newf(occerr.CodeNotFound, "build run %s not found", runUUID)
	}
	return nil
}

func (r *GormRepository) ListRecent(ctx context.Context, limit int) ([]BuildRun, error) {
	var runs []BuildRun
	err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, occerr.Wrap(occerr.CodeStoreIO, "listing build runs", err)
	}
	return runs, nil
}

// fmtLevel is a tiny helper so log call sites can format a watermark
// that may legitimately be -1 (no level populated yet).
func fmtLevel(level int) string {
	if level < 0 {
		return "none"
	}
	return fmt.Sprintf("%d", level)
}
