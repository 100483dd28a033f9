package backend

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/qbs784/auto-binwalk/pkg/sigscan"
	"github.com/qbs784/auto-binwalk/pkg/types"
)

// Process-wide compatibility patch state. The signature engine expects a
// host database that system installs historically provided; when it is
// missing, the first structured-backend construction materializes the
// embedded stand-in. Applied at most once per process.
var (
	compatMu      sync.Mutex
	compatApplied bool
)

// ensureSignatureDatabase applies the one-time database stand-in if the
// host copy is missing. Idempotent; later constructions skip it.
func ensureSignatureDatabase(path string) error {
	compatMu.Lock()
	defer compatMu.Unlock()

	if compatApplied {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		compatApplied = true
		return nil
	}

	log.Info().Str("path", path).Msg("signature database missing, writing embedded stand-in")
	if err := sigscan.WriteDefaultDatabase(path); err != nil {
		return fmt.Errorf("synthesizing signature database: %w", err)
	}
	compatApplied = true
	return nil
}

// resetCompat clears the patch flag. Test hook only.
func resetCompat() {
	compatMu.Lock()
	compatApplied = false
	compatMu.Unlock()
}

// StructuredConfig configures the in-process backend.
type StructuredConfig struct {
	// DatabasePath overrides the host signature database location.
	// Empty means the conventional per-user path.
	DatabasePath string
}

// StructuredBackend analyzes images with the in-process signature engine.
type StructuredBackend struct {
	engine *sigscan.Engine
}

// NewStructured constructs the in-process backend, applying the signature
// database stand-in on first use if the host copy is missing. A returned
// error means the variant is unavailable for this run.
func NewStructured(cfg StructuredConfig) (*StructuredBackend, error) {
	path := cfg.DatabasePath
	if path == "" {
		var err error
		path, err = sigscan.DefaultDatabasePath()
		if err != nil {
			return nil, err
		}
	}

	if err := ensureSignatureDatabase(path); err != nil {
		return nil, err
	}

	engine, err := sigscan.NewEngine(path)
	if err != nil {
		return nil, fmt.Errorf("loading signature engine: %w", err)
	}

	log.Debug().Int("signatures", engine.SignatureCount()).Msg("structured backend ready")
	return &StructuredBackend{engine: engine}, nil
}

// Kind implements Backend.
func (b *StructuredBackend) Kind() types.BackendKind {
	return types.BackendStructured
}

// Scan runs a signature-only pass over the image.
func (b *StructuredBackend) Scan(ctx context.Context, imagePath string) (*types.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches, err := b.engine.ScanFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("structured scan: %w", err)
	}

	return &types.AnalysisResult{
		SourceFile:   imagePath,
		Backend:      types.BackendStructured,
		ScanFindings: scanFindings(matches, imagePath),
	}, nil
}

// Extract scans the image and materializes components under targetDir.
// Finding order follows the engine's scan order; the Extracted flag is the
// engine's own per-component success signal.
func (b *StructuredBackend) Extract(ctx context.Context, imagePath, targetDir string) (*types.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	components, err := b.engine.ExtractFile(imagePath, targetDir)
	if err != nil {
		return nil, fmt.Errorf("structured extract: %w", err)
	}

	result := &types.AnalysisResult{
		SourceFile: imagePath,
		Backend:    types.BackendStructured,
		ExtractDir: targetDir,
	}
	for _, c := range components {
		finding := types.ScanFinding{
			Offset:      c.Offset,
			Description: c.Signature.Description,
			SourcePath:  imagePath,
		}
		result.ScanFindings = append(result.ScanFindings, finding)
		result.ExtractionFindings = append(result.ExtractionFindings, types.ExtractionFinding{
			ScanFinding: finding,
			Extracted:   c.Extracted,
		})
	}
	result.ScanFindings = types.DedupeScanFindings(result.ScanFindings)
	return result, nil
}

func scanFindings(matches []sigscan.Match, imagePath string) []types.ScanFinding {
	findings := make([]types.ScanFinding, 0, len(matches))
	for _, m := range matches {
		findings = append(findings, types.ScanFinding{
			Offset:      m.Offset,
			Description: m.Signature.Description,
			SourcePath:  imagePath,
		})
	}
	return types.DedupeScanFindings(findings)
}
