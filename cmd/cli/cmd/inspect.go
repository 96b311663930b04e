package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oocpc/engine/internal/catalog"
)

var inspectLimit int

// inspectCmd lists or shows build runs tracked in the catalog.
var inspectCmd = &cobra.Command{
	Use:   "inspect [run]",
	Short: "List recent build runs, or show one run's detail",
	Long: `inspect with no arguments lists the most recent build runs and their
status and watermark level. Given a run identifier, it prints that
run's full record, including its error message if it failed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	binName := BinName()
	inspectCmd.Example = `  # List the 20 most recent build runs
  ` + binName + ` inspect

  # Show one run's detail
  ` + binName + ` inspect my-run`

	inspectCmd.Flags().IntVar(&inspectLimit, "limit", 20, "Number of runs to list")
}

func runInspect(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	c := GetConfig()
	ctx := cmd.Context()

	repo, err := openCatalog(c)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		run, err := repo.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		printRun(*run)
		return nil
	}

	runs, err := repo.ListRecent(ctx, inspectLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		log.Info("no build runs recorded")
		return nil
	}
	fmt.Printf("%-36s  %-10s  %9s  %s\n", "RUN", "STATUS", "WATERMARK", "CREATED")
	for _, run := range runs {
		fmt.Printf("%-36s  %-10s  %9s  %s\n", run.RunUUID, run.Status, watermarkLabel(run.WatermarkLevel), run.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// watermarkLabel renders a watermark level for display, treating -1
// (no level populated yet) specially.
func watermarkLabel(level int) string {
	if level < 0 {
		return "none"
	}
	return fmt.Sprintf("%d", level)
}

func printRun(run catalog.BuildRun) {
	fmt.Printf("run:        %s\n", run.RunUUID)
	fmt.Printf("status:     %s\n", run.Status)
	fmt.Printf("manifest:   %s\n", run.Manifest)
	fmt.Printf("descriptor: %s\n", run.DescriptorPath)
	fmt.Printf("database:   %s\n", run.DatabasePath)
	fmt.Printf("max level:  %d\n", run.MaxLevel)
	fmt.Printf("watermark:  %s\n", watermarkLabel(run.WatermarkLevel))
	fmt.Printf("created:    %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	if run.ErrorMessage != "" {
		fmt.Printf("error:      %s\n", run.ErrorMessage)
	}
}
