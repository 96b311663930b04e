package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oocpc/engine/pkg/config"
	"github.com/oocpc/engine/pkg/occerr"
	"github.com/oocpc/engine/pkg/telemetry"
	"github.com/oocpc/engine/pkg/utils"
)

var (
	verbose    bool
	configPath string

	logger  utils.Logger
	cfg     *config.Config
	otelOff telemetry.ShutdownFunc
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "oocpc",
	Short: "Out-of-core octree engine for massive point clouds",
	Long: `oocpc sorts, builds, and serves level-of-detail octrees for point
clouds too large to fit in memory: a Morton-indexed out-of-core store
backs a parallel bottom-up builder and a frustum-driven traversal
service.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := utils.LevelInfo
		if verbose {
			logLevel = utils.LevelDebug
		}
		logger = utils.NewDefaultLogger(logLevel, os.Stdout)

		loaded, err := config.Load(configPath)
		if err != nil {
			return occerr.Wrap(occerr.CodeCorruptInput, "loading configuration", err)
		}
		cfg = loaded

		shutdown, err := telemetry.Init(context.Background())
		if err != nil {
			logger.Warn("telemetry init failed, continuing without tracing: %v", err)
			shutdown = func(context.Context) error { return nil }
		}
		otelOff = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if otelOff != nil {
			return otelOff(context.Background())
		}
		return nil
	},
}

// Execute runs the root command and exits with the code spec.md §6
// assigns to the returned error's taxonomy code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a command error to spec.md §6's process exit codes:
// 0 ok, 2 bad arguments, 3 corrupt input, 4 I/O, 5 out of budget, 6
// cancelled. A plain (non-occerr) error, such as an unrecognized flag
// from cobra itself, is treated as a bad-argument error.
func exitCodeFor(err error) int {
	switch occerr.CodeOf(err) {
	case occerr.CodeCorruptInput, occerr.CodeAttributeMismatch, occerr.CodeOverflowMorton:
		return 3
	case occerr.CodeStoreIO, occerr.CodeNoSpace, occerr.CodeNotFound:
		return 4
	case occerr.CodeQuotaTooSmall, occerr.CodeOutOfBudget:
		return 5
	case occerr.CodeCancelled:
		return 6
	default:
		return 2
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (defaults to ./config.yaml)")

	binName := BinName()
	rootCmd.Example = `  # Sort and build an octree from a manifest of input point files
  ` + binName + ` build --manifest a.ply,b.ply --run my-run

  # Serve the draw service over gRPC
  ` + binName + ` serve --run my-run

  # List recent build runs
  ` + binName + ` inspect`
}

// GetLogger returns the configured logger.
func GetLogger() utils.Logger {
	return logger
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	return cfg
}

// BinName returns the base name of the current executable.
func BinName() string {
	return filepath.Base(os.Args[0])
}
