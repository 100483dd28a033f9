// Package autobinwalk provides firmware image decomposition as a library.
//
// It scans binary images for embedded components (filesystems, compressed
// streams, kernels), carves and extracts them, and classifies the resulting
// directory tree.
//
// # Basic Usage
//
// Create an analyzer and scan an image:
//
//	analyzer, err := autobinwalk.NewAnalyzer()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := analyzer.Scan(ctx, "/firmware/router-fw.bin")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, f := range result.ScanFindings {
//	    fmt.Printf("0x%X  %s\n", f.Offset, f.Description)
//	}
//
// # Extraction
//
// Extract components and classify the extraction tree:
//
//	result, err := analyzer.Extract(ctx, "/firmware/router-fw.bin", "/tmp/out")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	summary := analyzer.Classify(result.ExtractDir, "router-fw.bin")
//	fmt.Printf("root filesystem found: %t\n", summary.RootFilesystemFound)
//
// # Batch Analysis
//
// Process a whole directory of images, with automatic fallback to the
// binwalk command line tool when the in-process engine is unavailable:
//
//	run, err := analyzer.AnalyzeDirectory(ctx, "/firmware", "/tmp/results")
//	fmt.Printf("%d/%d succeeded\n", run.Succeeded, run.Total)
package autobinwalk

import (
	"context"
	"fmt"
	"time"

	"github.com/qbs784/auto-binwalk/pkg/backend"
	"github.com/qbs784/auto-binwalk/pkg/batch"
	"github.com/qbs784/auto-binwalk/pkg/classify"
	"github.com/qbs784/auto-binwalk/pkg/types"
)

// Re-export commonly used types for convenience.
// Users can import just "github.com/qbs784/auto-binwalk" without subpackages.
type (
	// AnalysisResult is the outcome of analyzing one image.
	AnalysisResult = types.AnalysisResult

	// ScanFinding is one signature hit inside an image.
	ScanFinding = types.ScanFinding

	// ExtractionFinding is a scan finding with a per-component success flag.
	ExtractionFinding = types.ExtractionFinding

	// StructuralSummary describes the shape of an extraction tree.
	StructuralSummary = types.StructuralSummary

	// BatchRun aggregates one pass over a directory of images.
	BatchRun = types.BatchRun
)

// Re-export backend kind constants.
const (
	BackendStructured = types.BackendStructured
	BackendCommand    = types.BackendCommand
)

// Analyzer decomposes firmware images.
type Analyzer struct {
	structured *backend.StructuredBackend
	config     *analyzerConfig
}

// analyzerConfig holds analyzer configuration.
type analyzerConfig struct {
	databasePath   string
	binwalkBinary  string
	scanTimeout    time.Duration
	extractTimeout time.Duration
	scanOnly       bool
}

// Option configures an Analyzer.
type Option func(*analyzerConfig)

// WithSignatureDatabase uses the signature database at path instead of the
// conventional per-user location.
func WithSignatureDatabase(path string) Option {
	return func(c *analyzerConfig) {
		c.databasePath = path
	}
}

// WithBinwalk sets the binwalk executable used by the command fallback.
// Default "binwalk".
func WithBinwalk(binary string) Option {
	return func(c *analyzerConfig) {
		c.binwalkBinary = binary
	}
}

// WithTimeouts bounds the command fallback's scan and extract invocations.
// Defaults are 60s and 300s.
func WithTimeouts(scan, extract time.Duration) Option {
	return func(c *analyzerConfig) {
		c.scanTimeout = scan
		c.extractTimeout = extract
	}
}

// WithScanOnly makes AnalyzeDirectory skip extraction and classification.
func WithScanOnly() Option {
	return func(c *analyzerConfig) {
		c.scanOnly = true
	}
}

// NewAnalyzer creates an Analyzer backed by the in-process signature
// engine. A missing signature database is synthesized from the embedded
// default on first use.
func NewAnalyzer(opts ...Option) (*Analyzer, error) {
	config := &analyzerConfig{}
	for _, opt := range opts {
		opt(config)
	}

	structured, err := backend.NewStructured(backend.StructuredConfig{DatabasePath: config.databasePath})
	if err != nil {
		return nil, fmt.Errorf("creating signature engine: %w", err)
	}

	return &Analyzer{structured: structured, config: config}, nil
}

// Scan runs a signature-only pass over one image.
func (a *Analyzer) Scan(ctx context.Context, imagePath string) (*AnalysisResult, error) {
	return a.structured.Scan(ctx, imagePath)
}

// Extract scans one image and materializes its components under targetDir.
func (a *Analyzer) Extract(ctx context.Context, imagePath, targetDir string) (*AnalysisResult, error) {
	return a.structured.Extract(ctx, imagePath, targetDir)
}

// Classify summarizes the extraction tree one image produced. imageName is
// the image's base name, matching the extraction root naming.
func (a *Analyzer) Classify(extractDir, imageName string) *StructuralSummary {
	return classify.Classify(extractDir, imageName)
}

// AnalyzeDirectory processes every .bin image under inputDir, writing
// extraction trees under outputDir. Images are analyzed with the in-process
// engine, falling back per image to the binwalk command line tool.
func (a *Analyzer) AnalyzeDirectory(ctx context.Context, inputDir, outputDir string) (*BatchRun, error) {
	orchestrator := batch.New(batch.Config{
		InputDir:  inputDir,
		OutputDir: outputDir,
		ScanOnly:  a.config.scanOnly,
		NewStructured: func() (backend.Backend, error) {
			return a.structured, nil
		},
		Command: backend.NewCommand(backend.CommandConfig{
			Binary:         a.config.binwalkBinary,
			ScanTimeout:    a.config.scanTimeout,
			ExtractTimeout: a.config.extractTimeout,
		}),
	})
	return orchestrator.Run(ctx)
}
