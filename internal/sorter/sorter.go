// Package sorter implements the external sorter: it streams one or
// more input point files too large to fit in memory, derives a world
// OctreeDim from their combined bounds, and produces a single binary
// stream sorted ascending by Morton code plus a sidecar descriptor.
package sorter

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/oocpc/engine/internal/morton"
	"github.com/oocpc/engine/internal/octdim"
	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/internal/pointio"
	"github.com/oocpc/engine/pkg/occerr"
	"github.com/oocpc/engine/pkg/telemetry"
	"github.com/oocpc/engine/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer(telemetry.TracerName)

// Config describes one sort run.
type Config struct {
	// Manifest lists input point file paths, read in this order.
	Manifest []string
	// OutputPath is the final sorted point stream.
	OutputPath string
	// DescriptorPath is the sidecar descriptor written alongside it.
	DescriptorPath string
	// WorkDir holds intermediate sorted_chunk_N files. Cleaned up on
	// success.
	WorkDir string
	// DatabasePath is recorded in the descriptor as the store location
	// a later build run will populate; the sorter does not touch it.
	DatabasePath string

	// Level is the target Morton level L that points are sorted by.
	Level uint8
	// MaxLevel bounds the OctreeDim derived from the input bounds.
	MaxLevel uint8

	// TotalBytes is the caller's estimate of total input size (T).
	TotalBytes int64
	// MemQuota is the memory budget for one chunk pass (Q).
	MemQuota int64

	Layout  point.Layout
	Workers int
	Logger  utils.Logger
}

// Result summarizes a completed sort.
type Result struct {
	Dim        octdim.Dim
	Scale      float64
	Count      uint64
	Descriptor Descriptor
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (c Config) logger() utils.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return &utils.NullLogger{}
}

// Sort runs the two-pass external sort described by the sorter
// contract: a bounds-and-scale pass followed by a chunk-and-merge pass.
func Sort(ctx context.Context, cfg Config) (*Result, error) {
	logger := cfg.logger()
	recordSize := int64(cfg.Layout.SerializedSize())
	if cfg.MemQuota < recordSize {
		return nil, occerr.Newf(occerr.CodeQuotaTooSmall, "memory quota %d is smaller than one record (%d bytes)", cfg.MemQuota, recordSize)
	}

	if len(cfg.Manifest) == 0 {
		logger.Info("sorting empty manifest")
		return sortEmpty(cfg)
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, occerr.Wrap(occerr.CodeNoSpace, "creating sorter work directory", err)
	}

	logger.Info("computing input bounds over %d files", len(cfg.Manifest))
	origin, extent, err := computeBounds(cfg.Manifest)
	if err != nil {
		return nil, err
	}

	// Pad any axis with zero (or negative, from floating-point noise)
	// measured extent to a minimal unit extent before scaling. This
	// covers not just a single point / fully coincident points, but
	// also planar and colinear inputs, where one or two axes collapse
	// to zero while the others carry the real extent (spec.md §8's
	// colinear-X scenario: four points sharing y=z=0). Each axis is
	// padded independently so octdim.New never sees a degenerate size.
	if extent.X <= 0 {
		extent.X = 1
	}
	if extent.Y <= 0 {
		extent.Y = 1
	}
	if extent.Z <= 0 {
		extent.Z = 1
	}

	// Inflate the measured extent slightly so the single input point
	// that defines the upper bound on each axis maps strictly inside
	// [origin, origin+size) rather than landing exactly on the edge.
	const boundsMargin = 1.0 + 1e-6
	extent.X *= boundsMargin
	extent.Y *= boundsMargin
	extent.Z *= boundsMargin

	maxDim := math.Max(extent.X, math.Max(extent.Y, extent.Z))
	scale := 1.0 / maxDim
	scaledSize := octdim.Vec3{X: extent.X * scale, Y: extent.Y * scale, Z: extent.Z * scale}

	dim, err := octdim.New(octdim.Vec3{}, scaledSize, cfg.MaxLevel)
	if err != nil {
		return nil, err
	}

	k := 1
	if cfg.TotalBytes > cfg.MemQuota {
		k = int(ceilDiv(cfg.TotalBytes, cfg.MemQuota))
	}
	pointsPerChunk := (cfg.MemQuota / int64(k)) / recordSize
	if pointsPerChunk < 1 {
		pointsPerChunk = 1
	}

	logger.Info("sorting into %d chunks (%d points per chunk)", k, pointsPerChunk)
	ctx, chunkSpan := tracer.Start(ctx, "sorter.chunk_and_sort",
		trace.WithAttributes(attribute.Int("oocpc.chunk_count", k)))
	chunkPaths, count, err := chunkAndSort(ctx, cfg, origin, scale, dim, pointsPerChunk)
	chunkSpan.End()
	if err != nil {
		return nil, err
	}

	if len(chunkPaths) > 1 {
		logger.Info("merging %d sorted chunks", len(chunkPaths))
	}
	_, mergeSpan := tracer.Start(ctx, "sorter.assemble_output",
		trace.WithAttributes(attribute.Int("oocpc.chunks_merged", len(chunkPaths))))
	err = assembleOutput(cfg, chunkPaths, dim, cfg.Level)
	mergeSpan.End()
	if err != nil {
		return nil, err
	}

	logger.Info("sorted %d points", count)
	desc := buildDescriptor(cfg.OutputPath, cfg.DatabasePath, dim, scale, cfg.Layout, count)
	if err := WriteDescriptor(cfg.DescriptorPath, desc); err != nil {
		return nil, err
	}

	return &Result{Dim: dim, Scale: scale, Count: count, Descriptor: desc}, nil
}

// sortEmpty handles an empty manifest: an empty sorted output and a
// zero-count descriptor.
func sortEmpty(cfg Config) (*Result, error) {
	w, err := pointio.CreateStreamWriter(cfg.OutputPath, cfg.Layout)
	if err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	dim, err := octdim.New(octdim.Vec3{}, octdim.Vec3{X: 1, Y: 1, Z: 1}, cfg.MaxLevel)
	if err != nil {
		return nil, err
	}
	desc := buildDescriptor(cfg.OutputPath, cfg.DatabasePath, dim, 1, cfg.Layout, 0)
	if err := WriteDescriptor(cfg.DescriptorPath, desc); err != nil {
		return nil, err
	}
	return &Result{Dim: dim, Scale: 1, Count: 0, Descriptor: desc}, nil
}

// computeBounds streams every input file once and returns the global
// AABB as (origin, extent).
func computeBounds(manifest []string) (octdim.Vec3, octdim.Vec3, error) {
	min := octdim.Vec3{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max := octdim.Vec3{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	seen := false

	for _, path := range manifest {
		err := pointio.Read(path, func(p point.Point) {
			seen = true
			x, y, z := float64(p.X), float64(p.Y), float64(p.Z)
			min.X, max.X = math.Min(min.X, x), math.Max(max.X, x)
			min.Y, max.Y = math.Min(min.Y, y), math.Max(max.Y, y)
			min.Z, max.Z = math.Min(min.Z, z), math.Max(max.Z, z)
		})
		if err != nil {
			return octdim.Vec3{}, octdim.Vec3{}, err
		}
	}
	if !seen {
		return octdim.Vec3{}, octdim.Vec3{}, nil
	}
	return min, octdim.Vec3{X: max.X - min.X, Y: max.Y - min.Y, Z: max.Z - min.Z}, nil
}

// chunkAndSort streams every input point a second time, rewrites it
// into scaled space, buffers pointsPerChunk at a time, and sorts and
// writes each buffer as an independent chunk file. Chunks are sorted
// and flushed to disk concurrently, bounded by cfg.workers().
func chunkAndSort(ctx context.Context, cfg Config, origin octdim.Vec3, scale float64, dim octdim.Dim, pointsPerChunk int64) ([]string, uint64, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers())

	var chunkPathsMu sync.Mutex
	var chunkPaths []string
	var total uint64

	buf := make([]point.Point, 0, pointsPerChunk)
	chunkIdx := 0

	flush := func(points []point.Point, idx int) {
		path := filepath.Join(cfg.WorkDir, fmt.Sprintf("sorted_chunk_%d", idx))
		chunkPathsMu.Lock()
		for len(chunkPaths) <= idx {
			chunkPaths = append(chunkPaths, "")
		}
		chunkPaths[idx] = path
		chunkPathsMu.Unlock()

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return sortAndWriteChunk(path, cfg.Layout, dim, cfg.Level, points)
		})
	}

	var streamErr error
	for _, path := range cfg.Manifest {
		if streamErr != nil {
			break
		}
		streamErr = pointio.Read(path, func(p point.Point) {
			if streamErr != nil {
				return
			}
			scaled := point.Point{
				X: float32((float64(p.X) - origin.X) * scale),
				Y: float32((float64(p.Y) - origin.Y) * scale),
				Z: float32((float64(p.Z) - origin.Z) * scale),
				NX: p.NX, NY: p.NY, NZ: p.NZ,
				R: p.R, G: p.G, B: p.B,
			}
			buf = append(buf, scaled)
			total++
			if int64(len(buf)) >= pointsPerChunk {
				flush(buf, chunkIdx)
				chunkIdx++
				buf = make([]point.Point, 0, pointsPerChunk)
			}
		})
	}
	if streamErr != nil {
		g.Wait()
		return nil, 0, streamErr
	}
	if len(buf) > 0 {
		flush(buf, chunkIdx)
		chunkIdx++
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return chunkPaths, total, nil
}

// sortAndWriteChunk stable-sorts points by Morton code (preserving
// input order for ties) and writes them to path as a sorted chunk
// stream.
func sortAndWriteChunk(path string, layout point.Layout, dim octdim.Dim, level uint8, points []point.Point) error {
	type keyed struct {
		code morton.MediumCode
		p    point.Point
	}
	items := make([]keyed, len(points))
	for i, p := range points {
		code, err := dim.MortonOf(octdim.Vec3{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}, level)
		if err != nil {
			return err
		}
		items[i] = keyed{code: code, p: p}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].code < items[j].code })

	w, err := pointio.CreateStreamWriter(path, layout)
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := w.Write(it.p); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// assembleOutput writes the final sorted stream. With one chunk, the
// chunk file already is the final stream and is moved into place;
// otherwise a k-way merge produces it.
func assembleOutput(cfg Config, chunkPaths []string, dim octdim.Dim, level uint8) error {
	if len(chunkPaths) == 0 {
		w, err := pointio.CreateStreamWriter(cfg.OutputPath, cfg.Layout)
		if err != nil {
			return err
		}
		return w.Close()
	}
	if len(chunkPaths) == 1 {
		if err := os.Rename(chunkPaths[0], cfg.OutputPath); err != nil {
			return occerr.Wrap(occerr.CodeNoSpace, "moving single sorted chunk into place", err)
		}
		return nil
	}

	out, err := pointio.CreateStreamWriter(cfg.OutputPath, cfg.Layout)
	if err != nil {
		return err
	}
	if err := mergeChunks(chunkPaths, dim, level, out); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	for _, p := range chunkPaths {
		os.Remove(p)
	}
	return nil
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
