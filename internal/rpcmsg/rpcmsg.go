// Package rpcmsg defines the wire messages exchanged between a
// renderer client and the draw service, and the gob-based codec that
// (de)serializes them over gRPC in place of a protobuf toolchain.
package rpcmsg

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/oocpc/engine/internal/frustum"
	"google.golang.org/grpc/encoding"
)

// ViewState is one client-submitted viewpoint: the view-projection
// matrix and the screen-space error threshold (tau) governing LOD
// selection, per spec.md §4.I.
type ViewState struct {
	ViewProj frustum.Mat4
	Tau      float64
	// DeadlineMillis bounds how long the server may spend branching the
	// front for this frame; zero means no deadline.
	DeadlineMillis int64
}

// DrawPoint is one rendered sample, flattened out of internal/point.Point
// for wire transfer.
type DrawPoint struct {
	X, Y, Z    float32
	NX, NY, NZ float32
	R, G, B    float32
}

// DrawBatch is a chunk of at most the server's MaxBatch samples of one
// emitted node, streamed back to the client. A draw stream for one
// frame ends with a batch whose Final flag is set.
type DrawBatch struct {
	Points []DrawPoint
	// Final marks the last batch of a frame so a client driving a
	// bidi-free unary-request/streaming-response call knows when the
	// frame's picture is complete.
	Final bool
}

// CodecName is registered with grpc's encoding package in place of
// "proto"; RegisterCodec must be called once before dialing or serving.
const CodecName = "gob"

// gobCodec implements grpc/encoding.Codec using encoding/gob. The
// draw service has no cross-language client, so gob's Go-only wire
// format is not a constraint, and it saves hand-writing or generating
// protobuf message types for three small structs.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("gob unmarshal: %w", err)
	}
	return nil
}

func (gobCodec) Name() string { return CodecName }

// RegisterCodec installs the gob codec under CodecName. Call once from
// both the server and client process before any RPC.
func RegisterCodec() {
	encoding.RegisterCodec(gobCodec{})
}
