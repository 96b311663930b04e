package store

import (
	"encoding/binary"

	"github.com/oocpc/engine/internal/morton"
	"github.com/oocpc/engine/internal/node"
	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/pkg/occerr"
)

// Group is the unit of disk and cache residency: the set of up to
// eight co-parent children, keyed by their shared parent Morton code.
// A node is resident if and only if its sibling group is resident.
type Group struct {
	ParentMorton morton.MediumCode
	Nodes        [8]*node.Node // index by octant; nil where absent
	ChildrenMask uint8
	Dirty        bool
}

// Put installs n in the group under its own octant (derived from
// n.Code relative to ParentMorton).
func (g *Group) Put(n *node.Node) {
	o := n.Code.Octant()
	g.Nodes[o] = n
	g.ChildrenMask |= 1 << uint(o)
	g.Dirty = true
}

// HasChildAt reports whether octant o is present in g.
func (g *Group) HasChildAt(o int) bool {
	return g.ChildrenMask&(1<<uint(o)) != 0
}

// Count returns the number of present children.
func (g *Group) Count() int {
	n := 0
	for i := 0; i < 8; i++ {
		if g.ChildrenMask&(1<<uint(i)) != 0 {
			n++
		}
	}
	return n
}

// ByteSize estimates the resident footprint of g for memory governor
// accounting: header plus each node's sample array.
func (g *Group) ByteSize(layout point.Layout) int64 {
	size := int64(8 + 1 + 1) // parent_morton + children_mask + count
	for _, n := range g.Nodes {
		if n == nil {
			continue
		}
		size += 4                                              // length prefix
		size += 8 + 4 + int64(len(n.Samples)*layout.SerializedSize()) // morton + n_samples + samples
	}
	return size
}

// Encode serializes g per the sibling-group store wire format:
// {parent_morton: u64, children_mask: u8, count: u8, lengths[count]: u32}
// followed by count node blobs, each
// {morton: u64, n_samples: u32, samples: n_samples x Point}.
func (g *Group) Encode(layout point.Layout) []byte {
	count := g.Count()
	blobs := make([][]byte, 0, count)
	for _, n := range g.Nodes {
		if n == nil {
			continue
		}
		blob := make([]byte, 0, 12+len(n.Samples)*layout.SerializedSize())
		blob = appendU64(blob, uint64(n.Code))
		blob = appendU32(blob, uint32(len(n.Samples)))
		for _, p := range n.Samples {
			blob = layout.Write(blob, p)
		}
		blobs = append(blobs, blob)
	}

	out := make([]byte, 0, 10+4*count+sumLens(blobs))
	out = appendU64(out, uint64(g.ParentMorton))
	out = append(out, g.ChildrenMask, byte(count))
	for _, b := range blobs {
		out = appendU32(out, uint32(len(b)))
	}
	for _, b := range blobs {
		out = append(out, b...)
	}
	return out
}

// DecodeGroup parses a group blob produced by Group.Encode.
func DecodeGroup(buf []byte, layout point.Layout) (*Group, error) {
	if len(buf) < 10 {
		return nil, occerr.Newf(occerr.CodeStoreIO, "group blob too short: %d bytes", len(buf))
	}
	parentMorton := morton.MediumCode(binary.LittleEndian.Uint64(buf[0:8]))
	mask := buf[8]
	count := int(buf[9])
	off := 10

	if off+4*count > len(buf) {
		return nil, occerr.Newf(occerr.CodeStoreIO, "group blob truncated length table: need %d bytes, have %d", off+4*count, len(buf))
	}
	lengths := make([]uint32, count)
	for i := 0; i < count; i++ {
		lengths[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}

	g := &Group{ParentMorton: parentMorton, ChildrenMask: mask}
	for i := 0; i < count; i++ {
		length := int(lengths[i])
		if off+length > len(buf) {
			return nil, occerr.Newf(occerr.CodeStoreIO, "group blob truncated node %d: need %d bytes, have %d", i, off+length, len(buf))
		}
		blob := buf[off : off+length]
		off += length

		if len(blob) < 12 {
			return nil, occerr.Newf(occerr.CodeStoreIO, "node blob too short: %d bytes", len(blob))
		}
		nodeCode := morton.MediumCode(binary.LittleEndian.Uint64(blob[0:8]))
		nSamples := binary.LittleEndian.Uint32(blob[8:12])
		cursor := blob[12:]

		samples := make([]point.Point, 0, nSamples)
		for s := uint32(0); s < nSamples; s++ {
			p, n, err := layout.Read(cursor)
			if err != nil {
				return nil, err
			}
			samples = append(samples, p)
			cursor = cursor[n:]
		}
		n := &node.Node{Code: nodeCode, Samples: samples}
		n.ChildrenMask = 0 // reconstructed by the caller from the hierarchy, not persisted per-node
		g.Nodes[nodeCode.Octant()] = n
	}
	return g, nil
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func sumLens(blobs [][]byte) int {
	n := 0
	for _, b := range blobs {
		n += len(b)
	}
	return n
}
