package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/qbs784/auto-binwalk/pkg/store"
	"github.com/qbs784/auto-binwalk/pkg/types"
)

var (
	reportDatastore string
	reportRunID     int64
	reportColor     string
)

// styles holds color formatters for run reports.
type styles struct {
	heading *color.Color
	ok      *color.Color
	failed  *color.Color
	detail  *color.Color
}

func newStyles() *styles {
	return &styles{
		heading: color.New(color.Bold),
		ok:      color.New(color.FgHiGreen),
		failed:  color.New(color.FgHiRed),
		detail:  color.New(color.FgHiBlue),
	}
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show recorded batch runs",
	Long:  "Read batch runs from the datastore and print a per-image summary",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportDatastore, "datastore", "", "Run-history database path (overrides config)")
	reportCmd.Flags().Int64Var(&reportRunID, "run", 0, "Run ID to show in detail (0 = latest)")
	reportCmd.Flags().StringVar(&reportColor, "color", "auto", "Color output: auto, always, never")
}

func runReport(cmd *cobra.Command, args []string) error {
	if reportDatastore != "" {
		cfg.Datastore = reportDatastore
	}
	if _, err := os.Stat(cfg.Datastore); err != nil {
		return fmt.Errorf("datastore not found: %s", cfg.Datastore)
	}

	switch reportColor {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	default: // "auto"
		color.NoColor = !term.IsTerminal(int(os.Stdout.Fd())) || os.Getenv("NO_COLOR") != ""
	}
	s := newStyles()

	st, err := store.New(store.Config{Path: cfg.Datastore})
	if err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer st.Close()

	runs, err := st.ListRuns()
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No recorded runs.")
		return nil
	}

	runID := reportRunID
	if runID == 0 {
		runID = runs[0].ID
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", s.heading.Sprint("Recorded runs:"))
	for _, info := range runs {
		fmt.Fprintf(out, "  %d  %s  %d/%d succeeded\n",
			info.ID, info.StartedAt.Format(time.RFC3339), info.Succeeded, info.Total)
	}

	run, err := st.GetRun(runID)
	if err != nil {
		return fmt.Errorf("loading run %d: %w", runID, err)
	}

	fmt.Fprintf(out, "\n%s\n", s.heading.Sprintf("Run %d (%d/%d succeeded):", runID, run.Succeeded, run.Total))
	printRun(out, run, s)
	return nil
}

func printRun(out io.Writer, run *types.BatchRun, s *styles) {
	images := make([]string, 0, len(run.PerImage))
	for image := range run.PerImage {
		images = append(images, image)
	}
	sort.Strings(images)

	for _, image := range images {
		outcome := run.PerImage[image]

		status := s.ok.Sprint("done")
		if outcome.State == types.StateDoneWithError {
			status = s.failed.Sprint("failed")
		}
		fmt.Fprintf(out, "  %s [%s] backend=%s findings=%d\n",
			image, status, outcome.Result.Backend, len(outcome.Result.ScanFindings))

		if outcome.Summary != nil {
			fmt.Fprintf(out, "      %s extraction=%t rootfs=%t dirs=%v\n",
				s.detail.Sprint("structure:"),
				outcome.Summary.ExtractionSucceeded,
				outcome.Summary.RootFilesystemFound,
				outcome.Summary.TopLevelDirs)
			for _, a := range outcome.Summary.SuspiciousArchives {
				fmt.Fprintf(out, "      %s %s (%d bytes, %s)\n",
					s.failed.Sprint("suspicious:"), a.Name, a.Size, a.Kind)
			}
		}
		if outcome.Result.Error != "" {
			fmt.Fprintf(out, "      %s %s\n", s.failed.Sprint("error:"), outcome.Result.Error)
		}
	}
}
