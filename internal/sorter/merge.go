package sorter

import (
	"container/heap"
	"io"

	"github.com/oocpc/engine/internal/morton"
	"github.com/oocpc/engine/internal/octdim"
	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/internal/pointio"
	"github.com/oocpc/engine/pkg/occerr"
)

// mergeItem holds the current head point of one sorted chunk's stream,
// plus the chunk's position in the original input order (used to break
// ties between equal Morton codes originating from different chunks).
type mergeItem struct {
	code  morton.MediumCode
	point point.Point
	chunk int
}

// mergeHeap is a min-heap over mergeItems, ordered by Morton code and
// then by chunk index. Because every chunk contributes at most one
// pending item at a time, and chunks were carved out of the input in
// order, "lower chunk index" is exactly "earlier in the original
// stream" — the same tie-break a k-way merge of sorted runs needs to
// stay stable.
type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if h[i].code != h[j].code {
		return h[i].code < h[j].code
	}
	return h[i].chunk < h[j].chunk
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(*mergeItem)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// mergeChunks performs a k-way merge of the sorted chunk files at
// chunkPaths into out, keyed by morton_of(p, level) under dim. Callers
// must have already verified len(chunkPaths) > 1; a single chunk is
// already the final sorted stream.
func mergeChunks(chunkPaths []string, dim octdim.Dim, level uint8, out *pointio.StreamWriter) error {
	readers := make([]*pointio.StreamReader, len(chunkPaths))
	defer func() {
		for _, r := range readers {
			if r != nil {
				r.Close()
			}
		}
	}()

	h := make(mergeHeap, 0, len(chunkPaths))
	for i, p := range chunkPaths {
		r, err := pointio.OpenStreamReader(p)
		if err != nil {
			return err
		}
		readers[i] = r

		item, err := nextItem(r, dim, level, i)
		if err != nil {
			return err
		}
		if item != nil {
			h = append(h, item)
		}
	}
	heap.Init(&h)

	for h.Len() > 0 {
		top := h[0]
		if err := out.Write(top.point); err != nil {
			return err
		}

		next, err := nextItem(readers[top.chunk], dim, level, top.chunk)
		if err != nil {
			return err
		}
		if next == nil {
			heap.Pop(&h)
			continue
		}
		h[0] = next
		heap.Fix(&h, 0)
	}
	return nil
}

// nextItem pulls the next point from r, tags it with its Morton code,
// and returns nil (no error) once r is exhausted.
func nextItem(r *pointio.StreamReader, dim octdim.Dim, level uint8, chunk int) (*mergeItem, error) {
	p, err := r.Next()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	code, err := dim.MortonOf(octdim.Vec3{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}, level)
	if err != nil {
		return nil, occerr.Wrap(occerr.CodeCorruptInput, "re-deriving morton code during merge", err)
	}
	return &mergeItem{code: code, point: p, chunk: chunk}, nil
}
