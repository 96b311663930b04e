// Package traversal implements the top-down initial traversal and the
// per-frame front update that incrementally keeps the front in sync
// with a moving viewpoint, emitting draw batches to a renderer.
package traversal

import (
	"context"
	"time"

	"github.com/oocpc/engine/internal/front"
	"github.com/oocpc/engine/internal/frustum"
	"github.com/oocpc/engine/internal/morton"
	"github.com/oocpc/engine/internal/node"
	"github.com/oocpc/engine/internal/octdim"
	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/internal/store"
	"github.com/oocpc/engine/pkg/occerr"
	"github.com/oocpc/engine/pkg/telemetry"
	"github.com/oocpc/engine/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer(telemetry.TracerName)

// Renderer is the external draw-batch sink. The driver does not own
// the renderer's lifetime.
type Renderer interface {
	SetupFrame(viewProj frustum.Mat4)
	Emit(batch []point.Point)
	EndFrame()
}

// Config configures a Driver.
type Config struct {
	Store  *store.Store
	Dim    octdim.Dim
	Front  *front.Front
	Logger utils.Logger
}

// Driver owns the front and runs the traversal single-threaded between
// frames, per spec.md §4.J's stated sole-mutator invariant.
type Driver struct {
	store  *store.Store
	dim    octdim.Dim
	front  *front.Front
	logger utils.Logger
}

// New constructs a Driver. If cfg.Front is nil, a fresh empty front is
// used.
func New(cfg Config) *Driver {
	f := cfg.Front
	if f == nil {
		f = front.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Driver{store: cfg.Store, dim: cfg.Dim, front: f, logger: logger}
}

// Front returns the driver's front, for inspection or persistence
// between sessions.
func (d *Driver) Front() *front.Front { return d.front }

// node fetches the node at code, regardless of whether it is the root
// or an ordinary child, via store.GroupKeyFor.
func (d *Driver) node(ctx context.Context, code morton.MediumCode) (*node.Node, error) {
	group, err := d.store.Get(ctx, store.GroupKeyFor(code))
	if err != nil {
		return nil, err
	}
	n := group.Nodes[code.Octant()]
	if n == nil {
		return nil, occerr.Newf(occerr.CodeNotFound, "node %d absent from its sibling group", uint64(code))
	}
	return n, nil
}

func (d *Driver) aabb(code morton.MediumCode) (octdim.Vec3, octdim.Vec3) {
	return d.dim.CellAABB(code)
}

// InitialTraversal performs the frame-0 DFS from the root: cullable
// subtrees are recorded in the front without descending; renderable
// nodes and leaves are emitted and fronted; everything else descends
// into resident children, prefetching absent ones.
func (d *Driver) InitialTraversal(ctx context.Context, view frustum.View, r Renderer) error {
	ctx, span := tracer.Start(ctx, "traversal.initial")
	defer span.End()

	r.SetupFrame(view.ViewProj)
	if err := d.visit(ctx, morton.RootMedium, view, r); err != nil {
		r.EndFrame()
		return err
	}
	r.EndFrame()
	return nil
}

func (d *Driver) visit(ctx context.Context, code morton.MediumCode, view frustum.View, r Renderer) error {
	if err := ctx.Err(); err != nil {
		return occerr.Wrap(occerr.CodeCancelled, "initial traversal cancelled", err)
	}

	lo, hi := d.aabb(code)
	if frustum.IsCullable(view.Planes, lo, hi) {
		d.front.Insert(code)
		return nil
	}

	n, err := d.node(ctx, code)
	if err != nil {
		return err
	}

	if n.IsLeaf() || frustum.IsRenderable(view, lo, hi) {
		r.Emit(n.Samples)
		d.front.Insert(code)
		return nil
	}

	// code's children all live in one sibling group keyed by code
	// itself (store.GroupKeyFor(child) == code for every child of
	// code); a single prefetch warms the whole group concurrently with
	// whichever child is visited first below.
	d.store.Prefetch(code)

	for o := 0; o < 8; o++ {
		octant := morton.Octant(o)
		if !n.HasChild(octant) {
			continue
		}
		if err := d.visit(ctx, code.Child(octant), view, r); err != nil {
			return err
		}
	}
	return nil
}

// Frame runs one per-frame front update: iterate the front in order,
// re-test each entry's cullability, attempt to prune siblings up into
// their parent, attempt to branch an unrenderable non-leaf down into
// its children, or simply keep it. deadline, if non-zero, stops further
// branching once exceeded; pending branches are deferred (left fronted
// as-is) rather than lost.
func (d *Driver) Frame(ctx context.Context, view frustum.View, deadline time.Time, r Renderer) error {
	ctx, span := tracer.Start(ctx, "traversal.frame",
		trace.WithAttributes(attribute.Int("oocpc.front_size", d.front.Len())))
	defer span.End()

	r.SetupFrame(view.ViewProj)

	entries := d.front.Snapshot()
	deadlineExceeded := false

	for _, m := range entries {
		if !d.front.Contains(m) {
			// Already consumed by an earlier prune/branch this frame.
			continue
		}
		if err := ctx.Err(); err != nil {
			r.EndFrame()
			return occerr.Wrap(occerr.CodeCancelled, "frame update cancelled", err)
		}

		lo, hi := d.aabb(m)
		if frustum.IsCullable(view.Planes, lo, hi) {
			// Culled: stays fronted, nothing emitted.
			continue
		}

		if !deadlineExceeded && !deadline.IsZero() && !time.Now().Before(deadline) {
			deadlineExceeded = true
		}

		n, err := d.node(ctx, m)
		if err != nil {
			r.EndFrame()
			return err
		}

		if !deadlineExceeded {
			pruned, err := d.tryPrune(ctx, m, view, r)
			if err != nil {
				r.EndFrame()
				return err
			}
			if pruned {
				continue
			}

			if !n.IsLeaf() && !frustum.IsRenderable(view, lo, hi) {
				if err := d.branch(ctx, m, n, view, r); err != nil {
					r.EndFrame()
					return err
				}
				continue
			}
		}

		r.Emit(n.Samples)
	}

	r.EndFrame()
	return nil
}

// tryPrune implements the per-frame prune test: if every one of m's
// siblings (per the parent's children mask) is currently fronted and
// the parent is renderable or cullable, collapse all siblings into the
// parent.
func (d *Driver) tryPrune(ctx context.Context, m morton.MediumCode, view frustum.View, r Renderer) (bool, error) {
	if m.IsRoot() {
		return false, nil
	}
	parentCode := m.Parent()
	parent, err := d.node(ctx, parentCode)
	if err != nil {
		return false, err
	}
	if !front.HasAllSiblings(d.front, m, parent.ChildrenMask) {
		return false, nil
	}

	lo, hi := d.aabb(parentCode)
	renderable := frustum.IsRenderable(view, lo, hi)
	cullable := frustum.IsCullable(view.Planes, lo, hi)
	if !renderable && !cullable {
		return false, nil
	}

	for o := 0; o < 8; o++ {
		octant := morton.Octant(o)
		if parent.HasChild(octant) {
			d.front.Remove(parentCode.Child(octant))
		}
	}
	d.front.Insert(parentCode)
	if renderable {
		r.Emit(parent.Samples)
	}
	return true, nil
}

// branch implements the per-frame branch test: replace m with its
// existing children, loading any absent sibling group, and emit each
// newly inserted child that is renderable or a leaf.
func (d *Driver) branch(ctx context.Context, m morton.MediumCode, n *node.Node, view frustum.View, r Renderer) error {
	d.front.Remove(m)
	for o := 0; o < 8; o++ {
		octant := morton.Octant(o)
		if !n.HasChild(octant) {
			continue
		}
		childCode := m.Child(octant)
		child, err := d.node(ctx, childCode)
		if err != nil {
			return err
		}
		d.front.Insert(childCode)

		lo, hi := d.aabb(childCode)
		if child.IsLeaf() || frustum.IsRenderable(view, lo, hi) {
			r.Emit(child.Samples)
		}
	}
	return nil
}
