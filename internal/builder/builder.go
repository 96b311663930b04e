// Package builder implements the parallel bottom-up construction of an
// octree from a sorted point stream: parallel leaf assembly followed
// by level-by-level inner node construction up to a single root.
package builder

import (
	"context"
	"sync"

	"github.com/oocpc/engine/internal/memgov"
	"github.com/oocpc/engine/internal/morton"
	"github.com/oocpc/engine/internal/node"
	"github.com/oocpc/engine/internal/octdim"
	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/internal/pointio"
	"github.com/oocpc/engine/internal/store"
	"github.com/oocpc/engine/pkg/occerr"
	"github.com/oocpc/engine/pkg/telemetry"
	"github.com/oocpc/engine/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer(telemetry.TracerName)

// Config describes one build run.
type Config struct {
	StreamPath string
	Dim        octdim.Dim
	Store      *store.Store
	Governor   *memgov.Governor

	// WorkItemSize is the number of points (S) each leaf-assembly
	// worker reads per range.
	WorkItemSize uint64
	// MaxSamplesPerNode is the per-node sample cap (M).
	MaxSamplesPerNode int
	Workers           int

	Logger utils.Logger

	// OnLevelComplete, if set, is called after each inner level's
	// sibling groups are fully persisted (level 0 is leaf assembly).
	// A catalog can use this to advance a build run's watermark so a
	// later resumed run can skip straight past already-populated
	// levels (spec.md §9).
	OnLevelComplete func(level int, groupsWritten int) error
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return 4
}

func (c Config) logger() utils.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return &utils.NullLogger{}
}

// Result summarizes a completed build.
type Result struct {
	Root       morton.MediumCode
	HasRoot    bool
	LeafGroups int
}

// Build runs leaf assembly followed by bottom-up inner construction
// and returns the root's Morton code.
func Build(ctx context.Context, cfg Config) (*Result, error) {
	logger := cfg.logger()

	leafParents, err := assembleLeaves(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("leaf assembly produced %d sibling groups", len(leafParents))
	if cfg.OnLevelComplete != nil {
		if err := cfg.OnLevelComplete(0, len(leafParents)); err != nil {
			return nil, err
		}
	}
	if len(leafParents) == 0 {
		return &Result{}, nil
	}

	parents := leafParents
	for level := 0; ; level++ {
		if err := ctx.Err(); err != nil {
			cfg.Store.FlushAll(context.Background())
			return nil, occerr.Wrap(occerr.CodeCancelled, "build cancelled during inner construction", err)
		}

		levelCtx, span := tracer.Start(ctx, "builder.level",
			trace.WithAttributes(
				attribute.Int("oocpc.level_index", level),
				attribute.Int("oocpc.parent_count", len(parents)),
			))
		next, root, err := buildLevel(levelCtx, cfg, parents)
		span.End()
		if err != nil {
			return nil, err
		}
		if root != nil {
			// The root has no parent group of its own; it is stored
			// under a singleton group keyed by 0 (see
			// store.GroupKeyFor) so traversal can fetch it uniformly.
			rootGroup := &store.Group{ParentMorton: store.GroupKeyFor(root.Code)}
			rootGroup.Put(root)
			if err := cfg.Store.Put(rootGroup); err != nil {
				return nil, err
			}
			logger.Info("root published at %v", root.Code)
			return &Result{Root: root.Code, HasRoot: true, LeafGroups: len(leafParents)}, nil
		}
		if cfg.OnLevelComplete != nil {
			if err := cfg.OnLevelComplete(level+1, len(next)); err != nil {
				return nil, err
			}
		}
		parents = next
	}
}

// leafGroup is one run of consecutive sorted points sharing a single
// leaf Morton code.
type leafGroup struct {
	code morton.MediumCode
	pts  []point.Point
}

// leafEntry is either an already-finalized interior leaf node, or the
// raw points of a group that touched a work-item range boundary and
// must be resolved against its neighbors before it can be finalized.
type leafEntry struct {
	node *node.Node
	code morton.MediumCode
	pts  []point.Point
}

// assembleLeaves streams the sorted input in disjoint ranges, builds
// leaf nodes in parallel, stitches range-boundary leaves back together,
// and persists the resulting sibling groups. It returns the distinct
// parent Morton codes whose groups were just populated.
func assembleLeaves(ctx context.Context, cfg Config) ([]morton.MediumCode, error) {
	head, err := pointio.OpenStreamReader(cfg.StreamPath)
	if err != nil {
		return nil, err
	}
	total := head.Count
	head.Close()
	if total == 0 {
		return nil, nil
	}

	workItem := cfg.WorkItemSize
	if workItem == 0 {
		workItem = 1 << 16
	}
	numRanges := int((total + workItem - 1) / workItem)

	outputs := make([][]leafEntry, numRanges)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers())

	for idx := 0; idx < numRanges; idx++ {
		idx := idx
		start := uint64(idx) * workItem
		count := workItem
		if start+count > total {
			count = total - start
		}
		g.Go(func() error {
			entries, err := readRange(gctx, cfg, start, count)
			if err != nil {
				return err
			}
			outputs[idx] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Stitch range-boundary entries: consecutive pending entries
	// sharing the same leaf code, wherever they originated, are the
	// same leaf split across a work-item boundary.
	var resolved []*node.Node
	var pending []point.Point
	var pendingCode morton.MediumCode
	havePending := false

	flushPending := func() {
		if havePending {
			resolved = append(resolved, node.NewLeaf(pendingCode, pending, cfg.MaxSamplesPerNode))
			havePending = false
			pending = nil
		}
	}

	for _, entries := range outputs {
		for _, e := range entries {
			if e.node != nil {
				flushPending()
				resolved = append(resolved, e.node)
				continue
			}
			if havePending && pendingCode == e.code {
				pending = append(pending, e.pts...)
				continue
			}
			flushPending()
			pendingCode = e.code
			pending = append([]point.Point{}, e.pts...)
			havePending = true
		}
	}
	flushPending()

	return persistSiblingGroups(cfg, resolved)
}

// readRange reads count points starting at start, groups them into
// runs of equal leaf code, finalizes every run strictly interior to
// the range, and returns raw (unfinalized) entries for the first and
// last run, which may continue into an adjacent range.
func readRange(ctx context.Context, cfg Config, start, count uint64) ([]leafEntry, error) {
	if count == 0 {
		return nil, nil
	}
	r, err := pointio.OpenStreamReaderAt(cfg.StreamPath, start)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var groups []leafGroup
	for i := uint64(0); i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, occerr.Wrap(occerr.CodeCancelled, "build cancelled during leaf assembly", err)
		}
		p, err := r.Next()
		if err != nil {
			return nil, occerr.Wrap(occerr.CodeCorruptInput, "reading point during leaf assembly", err)
		}
		code, err := cfg.Dim.MortonOf(octdim.Vec3{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}, cfg.Dim.MaxLevel)
		if err != nil {
			return nil, err
		}
		if n := len(groups); n > 0 && groups[n-1].code == code {
			groups[n-1].pts = append(groups[n-1].pts, p)
		} else {
			groups = append(groups, leafGroup{code: code, pts: []point.Point{p}})
		}
	}

	entries := make([]leafEntry, len(groups))
	for i, grp := range groups {
		if i == 0 || i == len(groups)-1 {
			entries[i] = leafEntry{code: grp.code, pts: grp.pts}
			continue
		}
		entries[i] = leafEntry{node: node.NewLeaf(grp.code, grp.pts, cfg.MaxSamplesPerNode), code: grp.code}
	}
	return entries, nil
}

// persistSiblingGroups walks nodes (already in ascending Morton order)
// and assembles them into sibling groups by shared parent, Put-ing each
// group to the store as soon as the run of children for that parent
// ends. Returns the distinct parent Morton codes written.
func persistSiblingGroups(cfg Config, nodes []*node.Node) ([]morton.MediumCode, error) {
	var parents []morton.MediumCode
	var cur *store.Group
	var curParent morton.MediumCode

	flush := func() error {
		if cur == nil {
			return nil
		}
		if err := cfg.Store.Put(cur); err != nil {
			return err
		}
		parents = append(parents, curParent)
		return nil
	}

	for _, n := range nodes {
		p := n.Code.Parent()
		if cur == nil || p != curParent {
			if err := flush(); err != nil {
				return nil, err
			}
			curParent = p
			cur = &store.Group{ParentMorton: p}
		}
		cur.Put(n)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return parents, nil
}

// buildLevel consumes one level's worklist of parent Morton codes,
// building an inner node for each from its already-resident sibling
// group, persisting that group (it will not be modified again), and
// grouping the new inner nodes under their own parents for the next
// level up. If the root's own code appears in parents, it is returned
// directly instead of being grouped.
func buildLevel(ctx context.Context, cfg Config, parents []morton.MediumCode) ([]morton.MediumCode, *node.Node, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers())

	var mu sync.Mutex
	byGrandparent := map[morton.MediumCode][]*node.Node{}
	var root *node.Node

	for _, parent := range parents {
		parent := parent
		g.Go(func() error {
			group, err := cfg.Store.Get(gctx, parent)
			if err != nil {
				return err
			}

			childSamples := make([][]point.Point, 8)
			for o := 0; o < 8; o++ {
				if group.Nodes[o] != nil {
					childSamples[o] = group.Nodes[o].Samples
				}
			}
			inner := node.NewInner(parent, childSamples, cfg.MaxSamplesPerNode)

			// This group will not be read again once its parent inner
			// node is built; persist and evict it now.
			if err := cfg.Store.Release(parent); err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if parent.IsRoot() {
				root = inner
				return nil
			}
			gp := parent.Parent()
			byGrandparent[gp] = append(byGrandparent[gp], inner)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if root != nil {
		return nil, root, nil
	}

	next := make([]morton.MediumCode, 0, len(byGrandparent))
	for gp, members := range byGrandparent {
		group := &store.Group{ParentMorton: gp}
		for _, m := range members {
			group.Put(m)
		}
		if err := cfg.Store.Put(group); err != nil {
			return nil, nil, err
		}
		next = append(next, gp)
	}
	return next, nil, nil
}
