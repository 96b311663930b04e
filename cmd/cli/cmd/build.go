package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oocpc/engine/internal/builder"
	"github.com/oocpc/engine/internal/catalog"
	"github.com/oocpc/engine/internal/memgov"
	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/internal/sorter"
	"github.com/oocpc/engine/internal/storage"
	"github.com/oocpc/engine/internal/store"
	"github.com/oocpc/engine/pkg/config"
	"github.com/oocpc/engine/pkg/occerr"
	"github.com/oocpc/engine/pkg/utils"
)

var (
	buildManifest string
	buildRunUUID  string
)

// buildCmd sorts the input manifest and builds an octree over it,
// tracking the run in the catalog.
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Sort input point files and build an octree",
	Long: `build runs the two-phase pipeline: an external sort that derives a
world bounding box and produces a single Morton-ordered point stream,
followed by parallel bottom-up octree construction over that stream.
Progress is tracked in the build-run catalog so a failed or cancelled
run can be identified.`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	binName := BinName()
	buildCmd.Example = `  # Build an octree from two input point files
  ` + binName + ` build --manifest a.ply,b.ply --run my-run`

	buildCmd.Flags().StringVar(&buildManifest, "manifest", "", "Comma-separated input point file paths (required)")
	buildCmd.Flags().StringVar(&buildRunUUID, "run", "", "Run identifier (auto-generated if empty)")
	buildCmd.MarkFlagRequired("manifest")
}

// openCatalog opens and migrates the catalog database described by c.
func openCatalog(c *config.Config) (*catalog.GormRepository, error) {
	db, err := catalog.NewGormDB(catalog.DBConfig{
		Driver:   catalog.Driver(c.Catalog.Driver),
		Host:     c.Catalog.Host,
		Port:     c.Catalog.Port,
		Database: c.Catalog.Database,
		User:     c.Catalog.User,
		Password: c.Catalog.Password,
		MaxConns: c.Catalog.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	if err := catalog.Migrate(db); err != nil {
		return nil, err
	}
	return catalog.NewGormRepository(db), nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	c := GetConfig()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	manifest := strings.Split(buildManifest, ",")
	for i, p := range manifest {
		manifest[i] = strings.TrimSpace(p)
		if _, err := os.Stat(manifest[i]); err != nil {
			return occerr.Wrap(occerr.CodeCorruptInput, fmt.Sprintf("input file %q not found", manifest[i]), err)
		}
	}

	runUUID := buildRunUUID
	if runUUID == "" {
		runUUID = uuid.NewString()
	}
	runDir := c.RunDir(runUUID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return occerr.Wrap(occerr.CodeNoSpace, "creating run directory", err)
	}

	repo, err := openCatalog(c)
	if err != nil {
		return err
	}

	streamPath := filepath.Join(runDir, "points.stream")
	descriptorPath := filepath.Join(runDir, "descriptor.json")
	databasePath := filepath.Join(runDir, "store")

	run := &catalog.BuildRun{
		RunUUID:        runUUID,
		Manifest:       strings.Join(manifest, ","),
		DescriptorPath: descriptorPath,
		DatabasePath:   databasePath,
		MaxLevel:       c.Build.MaxLevel,
	}
	if err := repo.CreateRun(ctx, run); err != nil {
		return err
	}
	if err := repo.MarkStatus(ctx, runUUID, catalog.StatusRunning, ""); err != nil {
		return err
	}

	result, buildErr := doBuild(ctx, log, c, manifest, runDir, streamPath, descriptorPath, databasePath, repo, runUUID)
	if buildErr != nil {
		status := catalog.StatusFailed
		if occerr.CodeOf(buildErr) == occerr.CodeCancelled {
			status = catalog.StatusCancelled
		}
		if err := repo.MarkStatus(ctx, runUUID, status, buildErr.Error()); err != nil {
			log.Warn("failed to record run failure: %v", err)
		}
		return buildErr
	}

	if err := repo.MarkStatus(ctx, runUUID, catalog.StatusCompleted, ""); err != nil {
		log.Warn("failed to mark run completed: %v", err)
	}

	log.Info("build complete: run=%s has_root=%v root=%v leaf_groups=%d", runUUID, result.HasRoot, result.Root, result.LeafGroups)
	return nil
}

// doBuild runs the sort phase followed by the construction phase,
// wiring the builder's per-level callback into the run's catalog
// watermark so a later resumed run can identify how far construction
// got.
func doBuild(
	ctx context.Context,
	log utils.Logger,
	c *config.Config,
	manifest []string,
	runDir, streamPath, descriptorPath, databasePath string,
	repo catalog.Repository,
	runUUID string,
) (*builder.Result, error) {
	layout := point.LayoutPosNormalColor
	workDir := filepath.Join(runDir, "sort-work")

	var totalBytes int64
	for _, p := range manifest {
		info, err := os.Stat(p)
		if err != nil {
			return nil, occerr.Wrap(occerr.CodeCorruptInput, "statting input file", err)
		}
		totalBytes += info.Size()
	}

	sortResult, err := sorter.Sort(ctx, sorter.Config{
		Manifest:       manifest,
		OutputPath:     streamPath,
		DescriptorPath: descriptorPath,
		WorkDir:        workDir,
		DatabasePath:   databasePath,
		Level:          c.Build.MaxLevel,
		MaxLevel:       c.Build.MaxLevel,
		TotalBytes:     totalBytes,
		MemQuota:       c.Resource.MemQuotaBytes,
		Layout:         layout,
		Workers:        c.Resource.Workers,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	os.RemoveAll(workDir)

	backend, err := storage.NewStorage(storage.Config{Type: string(storage.StorageTypeLocal), LocalPath: databasePath})
	if err != nil {
		return nil, err
	}

	governor, err := memgov.New(memgov.Config{
		Quota:         c.Resource.MemQuotaBytes,
		SoftThreshold: c.Resource.SoftThresholdBytes,
		Logger:        log,
	}, int64(layout.SerializedSize()))
	if err != nil {
		return nil, err
	}

	groupStore := store.New(store.Config{
		Layout:   layout,
		Backend:  backend,
		Governor: governor,
		Logger:   log,
	})

	return builder.Build(ctx, builder.Config{
		StreamPath:        streamPath,
		Dim:               sortResult.Dim,
		Store:             groupStore,
		Governor:          governor,
		WorkItemSize:      c.Build.WorkItemSize,
		MaxSamplesPerNode: c.Build.MaxSamplesPerNode,
		Workers:           c.Resource.Workers,
		Logger:            log,
		OnLevelComplete: func(level int, groupsWritten int) error {
			log.Info("level %d complete: %d sibling groups written", level, groupsWritten)
			return repo.UpdateWatermark(ctx, runUUID, level)
		},
	})
}
