// Package batch drives the analysis backends and the classifier over a set
// of firmware images. Images are processed strictly sequentially; failures
// are isolated per image and recorded, never propagated to halt the batch.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/qbs784/auto-binwalk/pkg/backend"
	"github.com/qbs784/auto-binwalk/pkg/classify"
	"github.com/qbs784/auto-binwalk/pkg/types"
)

// Emitter receives each image's finished record pair. Implementations
// persist them; the orchestrator only hands them over.
type Emitter interface {
	Emit(imageName string, result *types.AnalysisResult, summary *types.StructuralSummary) error
}

// Config configures one batch run.
type Config struct {
	// InputDir is scanned (non-recursively) for firmware images.
	InputDir string

	// OutputDir receives per-image extraction trees under extracted/<stem>.
	OutputDir string

	// Extension filters input files. Default ".bin".
	Extension string

	// ScanOnly skips extraction and classification.
	ScanOnly bool

	// NewStructured constructs the preferred backend. Construction is
	// attempted once per run; on failure the command variant serves every
	// image. Default: backend.NewStructured with host defaults.
	NewStructured func() (backend.Backend, error)

	// Command is the fallback backend. Default: backend.NewCommand.
	Command backend.Backend

	// Emitter receives finished records. Nil disables emission.
	Emitter Emitter
}

// Orchestrator runs the per-image state machine
// PENDING → ANALYZING → (DONE | DONE_WITH_ERROR).
type Orchestrator struct {
	cfg Config

	structured      backend.Backend
	structuredTried bool
}

// New returns an orchestrator with config defaults applied.
func New(cfg Config) *Orchestrator {
	if cfg.Extension == "" {
		cfg.Extension = ".bin"
	}
	if cfg.NewStructured == nil {
		cfg.NewStructured = func() (backend.Backend, error) {
			return backend.NewStructured(backend.StructuredConfig{})
		}
	}
	if cfg.Command == nil {
		cfg.Command = backend.NewCommand(backend.CommandConfig{})
	}
	return &Orchestrator{cfg: cfg}
}

// Run processes every image in the input directory and returns the
// aggregate tally. Individual images may fail; the batch itself only fails
// when the input directory cannot be read at all.
func (o *Orchestrator) Run(ctx context.Context) (*types.BatchRun, error) {
	images, err := o.discoverImages()
	if err != nil {
		return nil, err
	}

	run := types.NewBatchRun()
	if len(images) == 0 {
		log.Warn().Str("dir", o.cfg.InputDir).Str("ext", o.cfg.Extension).Msg("no input images found")
		return run, nil
	}

	for i, imagePath := range images {
		name := filepath.Base(imagePath)
		log.Info().Msgf("processing %d/%d: %s", i+1, len(images), name)
		run.Record(name, o.analyzeImage(ctx, imagePath))
	}

	log.Info().Msgf("batch complete: %d/%d succeeded", run.Succeeded, run.Total)
	return run, nil
}

// discoverImages lists input files with the configured extension, in
// lexical order.
func (o *Orchestrator) discoverImages() ([]string, error) {
	entries, err := os.ReadDir(o.cfg.InputDir)
	if err != nil {
		return nil, fmt.Errorf("reading input directory: %w", err)
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), o.cfg.Extension) {
			continue
		}
		images = append(images, filepath.Join(o.cfg.InputDir, entry.Name()))
	}
	return images, nil
}

// analyzeImage runs one image through backend analysis, classification and
// emission. Always returns an outcome; errors end up in the result's Error
// field.
func (o *Orchestrator) analyzeImage(ctx context.Context, imagePath string) *types.ImageOutcome {
	name := filepath.Base(imagePath)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	extractDir := filepath.Join(o.cfg.OutputDir, "extracted", stem)

	outcome := &types.ImageOutcome{State: types.StateAnalyzing}
	outcome.Result = o.runBackends(ctx, imagePath, extractDir)

	if outcome.Result.ExtractDir != "" {
		outcome.Summary = classify.Classify(outcome.Result.ExtractDir, name)
	}

	if o.cfg.Emitter != nil {
		if err := o.cfg.Emitter.Emit(name, outcome.Result, outcome.Summary); err != nil {
			log.Error().Err(err).Str("image", name).Msg("emitting records failed")
			if outcome.Result.Error == "" {
				outcome.Result.Error = fmt.Sprintf("emitting records: %v", err)
			}
		}
	}

	if outcome.Result.Failed() {
		outcome.State = types.StateDoneWithError
		log.Warn().Str("image", name).Str("error", outcome.Result.Error).Msg("image finished with error")
	} else {
		outcome.State = types.StateDone
	}
	return outcome
}

// runBackends tries the structured variant first and retries the same
// image once on the command variant when the structured call fails. A call
// that succeeds with zero findings is a valid result, not a failure.
func (o *Orchestrator) runBackends(ctx context.Context, imagePath, extractDir string) *types.AnalysisResult {
	if primary := o.structuredBackend(); primary != nil {
		result, err := o.call(ctx, primary, imagePath, extractDir)
		if err == nil {
			return result
		}
		log.Warn().Err(err).Str("image", filepath.Base(imagePath)).
			Msg("structured backend failed, retrying with command backend")
	}

	result, err := o.call(ctx, o.cfg.Command, imagePath, extractDir)
	if err != nil {
		// Both variants failed this image; record the last error verbatim.
		result = &types.AnalysisResult{
			SourceFile: imagePath,
			Backend:    o.cfg.Command.Kind(),
			Error:      err.Error(),
		}
		if !o.cfg.ScanOnly {
			result.ExtractDir = extractDir
		}
	}
	return result
}

// structuredBackend constructs the structured variant on first use. A
// construction failure makes the fallback sticky for the remainder of the
// run; per-image call failures do not.
func (o *Orchestrator) structuredBackend() backend.Backend {
	if !o.structuredTried {
		o.structuredTried = true
		b, err := o.cfg.NewStructured()
		if err != nil {
			log.Warn().Err(err).Msg("structured backend unavailable, using command backend for this run")
		} else {
			o.structured = b
		}
	}
	return o.structured
}

func (o *Orchestrator) call(ctx context.Context, b backend.Backend, imagePath, extractDir string) (*types.AnalysisResult, error) {
	if o.cfg.ScanOnly {
		return b.Scan(ctx, imagePath)
	}
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating extraction directory: %w", err)
	}
	return b.Extract(ctx, imagePath, extractDir)
}
