package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbs784/auto-binwalk/pkg/backend"
	"github.com/qbs784/auto-binwalk/pkg/batch"
	"github.com/qbs784/auto-binwalk/pkg/report"
	"github.com/qbs784/auto-binwalk/pkg/store"
)

var (
	analyzeInputDir  string
	analyzeOutputDir string
	analyzeScanOnly  bool
	analyzeBinwalk   string
	analyzeDatastore string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze all firmware images in the input directory",
	Long: `Scan and extract every firmware image in the input directory, classify
each extraction tree, write per-image reports, and record the run in the
datastore. Individual image failures are recorded and never abort the batch.`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeInputDir, "input", "", "Input directory of firmware images (overrides config)")
	analyzeCmd.Flags().StringVar(&analyzeOutputDir, "output", "", "Output directory (overrides config)")
	analyzeCmd.Flags().BoolVar(&analyzeScanOnly, "scan-only", false, "Signature scan only, no extraction")
	analyzeCmd.Flags().StringVar(&analyzeBinwalk, "binwalk", "", "Path to the binwalk binary (overrides config)")
	analyzeCmd.Flags().StringVar(&analyzeDatastore, "datastore", "", "Run-history database path (overrides config)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if analyzeInputDir != "" {
		cfg.InputDir = analyzeInputDir
	}
	if analyzeOutputDir != "" {
		cfg.OutputDir = analyzeOutputDir
	}
	if analyzeBinwalk != "" {
		cfg.Binwalk.Binary = analyzeBinwalk
	}
	if analyzeDatastore != "" {
		cfg.Datastore = analyzeDatastore
	}
	if analyzeScanOnly {
		cfg.ScanOnly = true
	}

	if _, err := os.Stat(cfg.InputDir); err != nil {
		return fmt.Errorf("input directory does not exist: %s", cfg.InputDir)
	}

	emitter, err := report.NewEmitter(filepath.Join(cfg.OutputDir, "reports"))
	if err != nil {
		return fmt.Errorf("creating report emitter: %w", err)
	}

	orchestrator := batch.New(batch.Config{
		InputDir:  cfg.InputDir,
		OutputDir: cfg.OutputDir,
		Extension: cfg.Extension,
		ScanOnly:  cfg.ScanOnly,
		NewStructured: func() (backend.Backend, error) {
			return backend.NewStructured(backend.StructuredConfig{DatabasePath: cfg.SignatureDB})
		},
		Command: backend.NewCommand(backend.CommandConfig{
			Binary:         cfg.Binwalk.Binary,
			ScanTimeout:    cfg.Binwalk.ScanTimeout.Std(),
			ExtractTimeout: cfg.Binwalk.ExtractTimeout.Std(),
		}),
		Emitter: emitter,
	})

	startedAt := time.Now()
	run, err := orchestrator.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("running batch: %w", err)
	}

	if cfg.Datastore != "" {
		s, err := store.New(store.Config{Path: cfg.Datastore})
		if err != nil {
			return fmt.Errorf("opening datastore: %w", err)
		}
		defer s.Close()

		runID, err := s.SaveRun(startedAt, run)
		if err != nil {
			return fmt.Errorf("saving run: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run %d recorded in %s\n", runID, cfg.Datastore)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Batch complete: %d/%d succeeded\n", run.Succeeded, run.Total)
	fmt.Fprintf(cmd.OutOrStdout(), "Reports written to: %s\n", filepath.Join(cfg.OutputDir, "reports"))
	return nil
}
