package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbs784/auto-binwalk/pkg/backend"
	"github.com/qbs784/auto-binwalk/pkg/types"
)

// stubBackend is a canned Backend for orchestration tests.
type stubBackend struct {
	kind      types.BackendKind
	callErr   error  // returned from Scan/Extract
	resultErr string // recorded inside the returned result

	scanCalls    int
	extractCalls int
}

func (s *stubBackend) Kind() types.BackendKind { return s.kind }

func (s *stubBackend) Scan(_ context.Context, imagePath string) (*types.AnalysisResult, error) {
	s.scanCalls++
	if s.callErr != nil {
		return nil, s.callErr
	}
	return &types.AnalysisResult{SourceFile: imagePath, Backend: s.kind, Error: s.resultErr}, nil
}

func (s *stubBackend) Extract(_ context.Context, imagePath, targetDir string) (*types.AnalysisResult, error) {
	s.extractCalls++
	if s.callErr != nil {
		return nil, s.callErr
	}
	return &types.AnalysisResult{
		SourceFile: imagePath,
		Backend:    s.kind,
		ExtractDir: targetDir,
		Error:      s.resultErr,
	}, nil
}

// recordingEmitter captures emissions and optionally fails.
type recordingEmitter struct {
	images []string
	err    error
}

func (e *recordingEmitter) Emit(imageName string, result *types.AnalysisResult, summary *types.StructuralSummary) error {
	e.images = append(e.images, imageName)
	return e.err
}

// writeImages populates a directory with empty .bin files plus one decoy
// that must be ignored.
func writeImages(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte{0}, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("docs"), 0o644))
	return dir
}

func newStubOrchestrator(t *testing.T, inputDir string, structured, command *stubBackend, emitter Emitter) *Orchestrator {
	t.Helper()
	return New(Config{
		InputDir:  inputDir,
		OutputDir: t.TempDir(),
		NewStructured: func() (backend.Backend, error) {
			return structured, nil
		},
		Command: command,
		Emitter: emitter,
	})
}

func TestRunSucceedsPerImage(t *testing.T) {
	inputDir := writeImages(t, "alpha.bin", "beta.bin")
	structured := &stubBackend{kind: types.BackendStructured}
	command := &stubBackend{kind: types.BackendCommand}
	emitter := &recordingEmitter{}

	run, err := newStubOrchestrator(t, inputDir, structured, command, emitter).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, run.Total)
	assert.Equal(t, 2, run.Succeeded)
	assert.Equal(t, 0, run.Failed())
	assert.Equal(t, 2, structured.extractCalls)
	assert.Equal(t, 0, command.extractCalls)
	assert.Equal(t, []string{"alpha.bin", "beta.bin"}, emitter.images)

	for _, name := range []string{"alpha.bin", "beta.bin"} {
		outcome := run.PerImage[name]
		require.NotNil(t, outcome)
		assert.Equal(t, types.StateDone, outcome.State)
		assert.Equal(t, types.BackendStructured, outcome.Result.Backend)
		require.NotNil(t, outcome.Summary)
	}
}

func TestRunRetriesCommandPerImage(t *testing.T) {
	inputDir := writeImages(t, "alpha.bin", "beta.bin")
	structured := &stubBackend{kind: types.BackendStructured, callErr: errors.New("scan engine wedged")}
	command := &stubBackend{kind: types.BackendCommand}

	run, err := newStubOrchestrator(t, inputDir, structured, command, nil).Run(context.Background())
	require.NoError(t, err)

	// Each image tries the structured variant first, then falls back.
	assert.Equal(t, 2, structured.extractCalls)
	assert.Equal(t, 2, command.extractCalls)
	assert.Equal(t, 2, run.Succeeded)
	assert.Equal(t, types.BackendCommand, run.PerImage["alpha.bin"].Result.Backend)
}

func TestRunConstructorFailureIsSticky(t *testing.T) {
	inputDir := writeImages(t, "alpha.bin", "beta.bin", "gamma.bin")
	command := &stubBackend{kind: types.BackendCommand}

	constructions := 0
	o := New(Config{
		InputDir:  inputDir,
		OutputDir: t.TempDir(),
		NewStructured: func() (backend.Backend, error) {
			constructions++
			return nil, errors.New("signature database unavailable")
		},
		Command: command,
	})

	run, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, constructions)
	assert.Equal(t, 3, command.extractCalls)
	assert.Equal(t, 3, run.Succeeded)
}

func TestRunRecordsImageFailure(t *testing.T) {
	inputDir := writeImages(t, "corrupt.bin", "good.bin")
	structured := &stubBackend{kind: types.BackendStructured, resultErr: "binwalk exited with code 1"}
	command := &stubBackend{kind: types.BackendCommand}

	run, err := newStubOrchestrator(t, inputDir, structured, command, nil).Run(context.Background())
	require.NoError(t, err)

	// A result carrying an error is final; the command variant is not
	// consulted.
	assert.Equal(t, 0, command.extractCalls)
	assert.Equal(t, 0, run.Succeeded)
	assert.Equal(t, 2, run.Failed())
	assert.Equal(t, types.StateDoneWithError, run.PerImage["corrupt.bin"].State)
	assert.Equal(t, "binwalk exited with code 1", run.PerImage["corrupt.bin"].Result.Error)
}

func TestRunBothBackendsFail(t *testing.T) {
	inputDir := writeImages(t, "alpha.bin")
	structured := &stubBackend{kind: types.BackendStructured, callErr: errors.New("structured down")}
	command := &stubBackend{kind: types.BackendCommand, callErr: errors.New("binwalk not installed")}

	run, err := newStubOrchestrator(t, inputDir, structured, command, nil).Run(context.Background())
	require.NoError(t, err)

	outcome := run.PerImage["alpha.bin"]
	require.NotNil(t, outcome)
	assert.Equal(t, types.StateDoneWithError, outcome.State)
	assert.Equal(t, "binwalk not installed", outcome.Result.Error)
	assert.Equal(t, 0, run.Succeeded)
	assert.Equal(t, 1, run.Total)
}

func TestRunEmitterFailureFlipsState(t *testing.T) {
	inputDir := writeImages(t, "alpha.bin")
	structured := &stubBackend{kind: types.BackendStructured}
	emitter := &recordingEmitter{err: errors.New("disk full")}

	run, err := newStubOrchestrator(t, inputDir, structured, &stubBackend{kind: types.BackendCommand}, emitter).Run(context.Background())
	require.NoError(t, err)

	outcome := run.PerImage["alpha.bin"]
	assert.Equal(t, types.StateDoneWithError, outcome.State)
	assert.Contains(t, outcome.Result.Error, "disk full")
}

func TestRunScanOnlySkipsClassification(t *testing.T) {
	inputDir := writeImages(t, "alpha.bin")
	structured := &stubBackend{kind: types.BackendStructured}

	outputDir := t.TempDir()
	o := New(Config{
		InputDir:  inputDir,
		OutputDir: outputDir,
		ScanOnly:  true,
		NewStructured: func() (backend.Backend, error) {
			return structured, nil
		},
		Command: &stubBackend{kind: types.BackendCommand},
	})

	run, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, structured.scanCalls)
	assert.Equal(t, 0, structured.extractCalls)
	assert.Nil(t, run.PerImage["alpha.bin"].Summary)

	// No extraction tree is laid out in scan-only mode.
	_, statErr := os.Stat(filepath.Join(outputDir, "extracted"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunEmptyInputDirectory(t *testing.T) {
	o := New(Config{InputDir: t.TempDir(), OutputDir: t.TempDir()})

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, run.Total)
	assert.Empty(t, run.PerImage)
}

func TestRunMissingInputDirectory(t *testing.T) {
	o := New(Config{InputDir: filepath.Join(t.TempDir(), "nope")})

	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading input directory")
}

func TestRunExtensionFilterIsCaseInsensitive(t *testing.T) {
	inputDir := writeImages(t, "upper.BIN", "lower.bin")
	structured := &stubBackend{kind: types.BackendStructured}

	run, err := newStubOrchestrator(t, inputDir, structured, &stubBackend{kind: types.BackendCommand}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, run.Total)
}
