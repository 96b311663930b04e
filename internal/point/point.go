// Package point defines the fixed-size point record and its binary
// serialization, and the per-run attribute layout that governs which
// optional fields a stream carries.
package point

import (
	"encoding/binary"
	"math"

	"github.com/oocpc/engine/pkg/occerr"
)

// Attr is a bit flag selecting an optional point attribute.
type Attr uint8

const (
	// AttrNormal includes the nx, ny, nz fields.
	AttrNormal Attr = 1 << iota
	// AttrColor includes the red, green, blue fields.
	AttrColor
)

// Layout fixes which optional attributes a run of points carries. All
// points serialized together must share one Layout; a reader or writer
// encountering a mismatched layout fails with occerr.CodeAttributeMismatch.
type Layout struct {
	attrs Attr
}

// NewLayout builds a Layout from a set of attribute flags.
func NewLayout(attrs Attr) Layout { return Layout{attrs: attrs} }

// LayoutPos is the minimal layout: position only.
var LayoutPos = NewLayout(0)

// LayoutPosNormal carries position and normal.
var LayoutPosNormal = NewLayout(AttrNormal)

// LayoutPosNormalColor carries position, normal, and color.
var LayoutPosNormalColor = NewLayout(AttrNormal | AttrColor)

// HasNormal reports whether l carries a normal.
func (l Layout) HasNormal() bool { return l.attrs&AttrNormal != 0 }

// HasColor reports whether l carries a color.
func (l Layout) HasColor() bool { return l.attrs&AttrColor != 0 }

// Code returns the wire-format record_layout tag for l.
func (l Layout) Code() uint16 { return uint16(l.attrs) }

// LayoutFromCode reconstructs a Layout from a wire record_layout tag.
func LayoutFromCode(code uint16) Layout { return Layout{attrs: Attr(code)} }

// String names the layout the way the descriptor's "attributes" field
// does: one of "pos", "pos+normal", "pos+normal+color".
func (l Layout) String() string {
	switch {
	case l.HasNormal() && l.HasColor():
		return "pos+normal+color"
	case l.HasNormal():
		return "pos+normal"
	default:
		return "pos"
	}
}

// SerializedSize returns the exact byte length of a record under l.
func (l Layout) SerializedSize() int {
	n := 12 // pos: 3 x float32
	if l.HasNormal() {
		n += 12
	}
	if l.HasColor() {
		n += 12
	}
	return n
}

// Point is a fixed-size point record: position, optional normal,
// optional color. Fields absent from a run's Layout are always zero on
// a freshly decoded Point.
type Point struct {
	X, Y, Z    float32
	NX, NY, NZ float32
	R, G, B    float32
}

// Write appends the serialized form of p under layout l to buf and
// returns the extended slice. buf must have had at least
// l.SerializedSize() bytes of spare capacity for allocation-free use.
func (l Layout) Write(buf []byte, p Point) []byte {
	var tmp [4]byte
	putF32 := func(v float32) {
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
		buf = append(buf, tmp[:]...)
	}
	putF32(p.X)
	putF32(p.Y)
	putF32(p.Z)
	if l.HasNormal() {
		putF32(p.NX)
		putF32(p.NY)
		putF32(p.NZ)
	}
	if l.HasColor() {
		putF32(p.R)
		putF32(p.G)
		putF32(p.B)
	}
	return buf
}

// Read decodes one record of layout l from the front of buf, returning
// the point and the number of bytes consumed. buf must hold at least
// l.SerializedSize() bytes.
func (l Layout) Read(buf []byte) (Point, int, error) {
	size := l.SerializedSize()
	if len(buf) < size {
		return Point{}, 0, occerr.Newf(occerr.CodeCorruptInput, "short point record: need %d bytes, have %d", size, len(buf))
	}
	var p Point
	off := 0
	getF32 := func() float32 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		return v
	}
	p.X = getF32()
	p.Y = getF32()
	p.Z = getF32()
	if l.HasNormal() {
		p.NX = getF32()
		p.NY = getF32()
		p.NZ = getF32()
	}
	if l.HasColor() {
		p.R = getF32()
		p.G = getF32()
		p.B = getF32()
	}
	return p, off, nil
}

// CheckLayout fails with occerr.CodeAttributeMismatch if attrs does not
// match the layout a run was fixed to at construction time. A run may
// mix layouts only by failing fast, never by silently truncating.
func CheckLayout(fixed Layout, attrs Attr) error {
	if fixed.attrs != attrs {
		return occerr.Newf(occerr.CodeAttributeMismatch, "record layout mismatch: run is %q, record is %q", fixed.String(), Layout{attrs: attrs}.String())
	}
	return nil
}
