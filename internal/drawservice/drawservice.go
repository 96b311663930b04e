// Package drawservice exposes internal/traversal over gRPC: one
// bidirectional-free streaming RPC that takes a ViewState and streams
// back the DrawBatches the traversal driver emits for that frame.
//
// There is no generated protobuf stub here: the service is described
// by a hand-built grpc.ServiceDesc and carried over rpcmsg's gob codec,
// since the draw service has no non-Go client and three small message
// types don't justify standing up a protoc toolchain.
package drawservice

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/oocpc/engine/internal/frustum"
	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/internal/rpcmsg"
	"github.com/oocpc/engine/internal/traversal"
	"github.com/oocpc/engine/pkg/occerr"
	"github.com/oocpc/engine/pkg/utils"
	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "oocpc.drawservice.DrawService"

// Server drives a traversal.Driver on behalf of remote clients,
// serializing frames the same way the in-process loop would: each
// DrawBatches call is one InitialTraversal-or-Frame step against the
// driver's single shared front.
type Server struct {
	driver   *traversal.Driver
	maxBatch int
	logger   utils.Logger

	// mu serializes DrawBatches calls: the traversal driver is only
	// safe for a single mutator at a time (spec.md §4.J).
	mu          sync.Mutex
	initialized bool
}

// Config configures a Server.
type Config struct {
	Driver *traversal.Driver
	// MaxBatch caps how many points are sent per DrawBatch message; a
	// node's full sample set is split into chunks of this size so a
	// single oversized node cannot stall the stream.
	MaxBatch int
	Logger   utils.Logger
}

// NewServer constructs a Server. The first DrawBatches call runs the
// driver's initial traversal; every subsequent call runs an incremental
// frame update.
func NewServer(cfg Config) *Server {
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 4096
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Server{driver: cfg.Driver, maxBatch: maxBatch, logger: logger}
}

// streamRenderer adapts traversal.Renderer onto a grpc.ServerStream,
// splitting each emitted node's samples into MaxBatch-sized DrawBatch
// messages.
type streamRenderer struct {
	stream   grpc.ServerStream
	maxBatch int
	err      error
}

func (r *streamRenderer) SetupFrame(frustum.Mat4) {}

func (r *streamRenderer) Emit(batch []point.Point) {
	if r.err != nil {
		return
	}
	for len(batch) > 0 {
		n := len(batch)
		if n > r.maxBatch {
			n = r.maxBatch
		}
		chunk := batch[:n]
		batch = batch[n:]
		msg := rpcmsg.DrawBatch{Points: toWirePoints(chunk)}
		if err := r.stream.SendMsg(&msg); err != nil {
			r.err = err
			return
		}
	}
}

func (r *streamRenderer) EndFrame() {
	if r.err != nil {
		return
	}
	r.err = r.stream.SendMsg(&rpcmsg.DrawBatch{Final: true})
}

func toWirePoints(pts []point.Point) []rpcmsg.DrawPoint {
	out := make([]rpcmsg.DrawPoint, len(pts))
	for i, p := range pts {
		out[i] = rpcmsg.DrawPoint{
			X: p.X, Y: p.Y, Z: p.Z,
			NX: p.NX, NY: p.NY, NZ: p.NZ,
			R: p.R, G: p.G, B: p.B,
		}
	}
	return out
}

// drawBatches implements the DrawBatches streaming RPC: receive one
// ViewState, run one traversal step, stream back its draw batches.
func (s *Server) drawBatches(stream grpc.ServerStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var req rpcmsg.ViewState
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}

	view := frustum.NewView(req.ViewProj, req.Tau)
	var deadline time.Time
	if req.DeadlineMillis > 0 {
		deadline = time.Now().Add(time.Duration(req.DeadlineMillis) * time.Millisecond)
	}

	r := &streamRenderer{stream: stream, maxBatch: s.maxBatch}
	ctx := stream.Context()

	var err error
	if !s.initialized {
		err = s.driver.InitialTraversal(ctx, view, r)
		s.initialized = true
	} else {
		err = s.driver.Frame(ctx, view, deadline, r)
	}
	if err != nil {
		return err
	}
	if r.err != nil {
		return occerr.Wrap(occerr.CodeStoreIO, "streaming draw batch", r.err)
	}
	return nil
}

func drawBatchesHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(*Server).drawBatches(stream)
}

// ServiceDesc is the hand-built grpc.ServiceDesc registering the
// DrawBatches streaming method, in place of a protoc-generated one.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "DrawBatches",
			Handler:       drawBatchesHandler,
			ServerStreams: true,
			ClientStreams: false,
		},
	},
}

// Register attaches the draw service to an existing *grpc.Server.
func Register(gs *grpc.Server, srv *Server) {
	gs.RegisterService(&ServiceDesc, srv)
}

// Client calls the draw service's single RPC.
type Client struct {
	cc *grpc.ClientConn
}

// NewClient wraps an established connection.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

// DrawBatches issues one DrawBatches call and streams the resulting
// batches to handle, invoked once per batch in arrival order.
func (c *Client) DrawBatches(ctx context.Context, view rpcmsg.ViewState, handle func(rpcmsg.DrawBatch) error) error {
	desc := &ServiceDesc.Streams[0]
	stream, err := c.cc.NewStream(ctx, desc, "/"+ServiceName+"/DrawBatches")
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&view); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		var batch rpcmsg.DrawBatch
		if err := stream.RecvMsg(&batch); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := handle(batch); err != nil {
			return err
		}
		if batch.Final {
			return nil
		}
	}
}
