package cmd

import (
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/oocpc/engine/internal/drawservice"
	"github.com/oocpc/engine/internal/memgov"
	"github.com/oocpc/engine/internal/octdim"
	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/internal/rpcmsg"
	"github.com/oocpc/engine/internal/sorter"
	"github.com/oocpc/engine/internal/storage"
	"github.com/oocpc/engine/internal/store"
	"github.com/oocpc/engine/internal/traversal"
	"github.com/oocpc/engine/pkg/occerr"
)

var serveRunUUID string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a built octree over the draw-batches gRPC stream",
	Long: `serve loads the descriptor and sibling-group store produced by a
completed build run and exposes it as a server-streaming gRPC draw
service: a client sends one ViewState and receives a stream of point
batches terminated by a final marker, repeated once per rendered
frame.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	binName := BinName()
	serveCmd.Example = `  # Serve a completed build run
  ` + binName + ` serve --run my-run`

	serveCmd.Flags().StringVar(&serveRunUUID, "run", "", "Run identifier to serve (required)")
	serveCmd.MarkFlagRequired("run")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	c := GetConfig()
	runDir := c.RunDir(serveRunUUID)

	descriptorPath := runDir + "/descriptor.json"
	if _, err := os.Stat(descriptorPath); err != nil {
		return occerr.Wrap(occerr.CodeNotFound, "locating run descriptor", err)
	}
	desc, err := sorter.ReadDescriptor(descriptorPath)
	if err != nil {
		return err
	}

	dim, err := octdim.New(
		octdim.Vec3{X: desc.Origin.X, Y: desc.Origin.Y, Z: desc.Origin.Z},
		octdim.Vec3{X: desc.Size.X, Y: desc.Size.Y, Z: desc.Size.Z},
		desc.Depth,
	)
	if err != nil {
		return err
	}

	backend, err := storage.NewStorage(storage.Config{Type: string(storage.StorageTypeLocal), LocalPath: desc.Database})
	if err != nil {
		return err
	}

	layout := point.LayoutPosNormalColor
	governor, err := memgov.New(memgov.Config{
		Quota:         c.Resource.MemQuotaBytes,
		SoftThreshold: c.Resource.SoftThresholdBytes,
		Logger:        log,
	}, int64(layout.SerializedSize()))
	if err != nil {
		return err
	}

	groupStore := store.New(store.Config{
		Layout:   layout,
		Backend:  backend,
		Governor: governor,
		Logger:   log,
	})

	driver := traversal.New(traversal.Config{
		Store:  groupStore,
		Dim:    dim,
		Logger: log,
	})

	rpcmsg.RegisterCodec()

	drawServer := drawservice.NewServer(drawservice.Config{
		Driver:   driver,
		MaxBatch: c.Serve.MaxBatchSize,
		Logger:   log,
	})

	lis, err := net.Listen("tcp", c.Serve.Addr)
	if err != nil {
		return occerr.Wrap(occerr.CodeStoreIO, "binding serve address", err)
	}

	gs := grpc.NewServer()
	drawservice.Register(gs, drawServer)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("shutting down draw service...")
		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			gs.Stop()
		}
	}()

	log.Info("serving run %s on %s", serveRunUUID, c.Serve.Addr)
	if err := gs.Serve(lis); err != nil {
		return occerr.Wrap(occerr.CodeStoreIO, "draw service stopped", err)
	}
	return nil
}
