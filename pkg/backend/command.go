package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qbs784/auto-binwalk/pkg/types"
)

// Default timeouts for external binwalk invocations.
const (
	DefaultScanTimeout    = 60 * time.Second
	DefaultExtractTimeout = 300 * time.Second
)

// CommandConfig configures the external-process backend.
type CommandConfig struct {
	// Binary is the binwalk executable name or path. Default "binwalk".
	Binary string

	ScanTimeout    time.Duration
	ExtractTimeout time.Duration
}

// CommandBackend analyzes images by invoking binwalk as an external
// process. Exit code, stdout and stderr of every invocation are captured
// verbatim into the result for audit; a non-zero exit is recorded, not
// raised.
type CommandBackend struct {
	binary         string
	scanTimeout    time.Duration
	extractTimeout time.Duration
}

// NewCommand constructs the external-process backend with defaults applied.
func NewCommand(cfg CommandConfig) *CommandBackend {
	b := &CommandBackend{
		binary:         cfg.Binary,
		scanTimeout:    cfg.ScanTimeout,
		extractTimeout: cfg.ExtractTimeout,
	}
	if b.binary == "" {
		b.binary = "binwalk"
	}
	if b.scanTimeout <= 0 {
		b.scanTimeout = DefaultScanTimeout
	}
	if b.extractTimeout <= 0 {
		b.extractTimeout = DefaultExtractTimeout
	}
	return b
}

// Kind implements Backend.
func (b *CommandBackend) Kind() types.BackendKind {
	return types.BackendCommand
}

// Scan invokes `binwalk <image>` with a bounded timeout and parses the
// signature table from stdout.
func (b *CommandBackend) Scan(ctx context.Context, imagePath string) (*types.AnalysisResult, error) {
	result := &types.AnalysisResult{
		SourceFile: imagePath,
		Backend:    types.BackendCommand,
	}

	inv, err := b.run(ctx, b.scanTimeout, imagePath)
	result.Commands = append(result.Commands, inv)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	if inv.ExitCode != 0 {
		result.Error = fmt.Sprintf("binwalk exited with code %d", inv.ExitCode)
	}

	result.ScanFindings = types.DedupeScanFindings(ParseScanOutput(inv.Stdout, imagePath))
	return result, nil
}

// Extract invokes `binwalk --extract --matryoshka <image> --directory <dir>`
// with a bounded timeout. The CLI exposes no per-component success signal,
// so the Extracted flag reflects the invocation's exit status.
func (b *CommandBackend) Extract(ctx context.Context, imagePath, targetDir string) (*types.AnalysisResult, error) {
	result := &types.AnalysisResult{
		SourceFile: imagePath,
		Backend:    types.BackendCommand,
		ExtractDir: targetDir,
	}

	inv, err := b.run(ctx, b.extractTimeout, "--extract", "--matryoshka", imagePath, "--directory", targetDir)
	result.Commands = append(result.Commands, inv)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	if inv.ExitCode != 0 {
		result.Error = fmt.Sprintf("binwalk exited with code %d", inv.ExitCode)
	}

	result.ScanFindings = types.DedupeScanFindings(ParseScanOutput(inv.Stdout, imagePath))
	for _, f := range result.ScanFindings {
		result.ExtractionFindings = append(result.ExtractionFindings, types.ExtractionFinding{
			ScanFinding: f,
			Extracted:   inv.ExitCode == 0,
		})
	}
	return result, nil
}

// run executes one binwalk invocation, capturing output verbatim. The
// returned error is non-nil only when the process could not run or timed
// out; exit codes are reported through the invocation record.
func (b *CommandBackend) run(ctx context.Context, timeout time.Duration, args ...string) (types.CommandInvocation, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	inv := types.CommandInvocation{
		Args:     append([]string{b.binary}, args...),
		ExitCode: -1,
	}

	log.Debug().Strs("args", inv.Args).Msg("running binwalk")
	err := cmd.Run()
	inv.Stdout = stdout.String()
	inv.Stderr = stderr.String()

	if ctx.Err() == context.DeadlineExceeded {
		return inv, fmt.Errorf("binwalk timed out after %s", timeout)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		inv.ExitCode = 0
	case errors.As(err, &exitErr):
		inv.ExitCode = exitErr.ExitCode()
	default:
		return inv, fmt.Errorf("running binwalk: %w", err)
	}
	return inv, nil
}

// ParseScanOutput turns binwalk's stdout table into ordered findings.
// The table looks like:
//
//	DECIMAL       HEXADECIMAL     DESCRIPTION
//	--------------------------------------------------------------------------------
//	0             0x0             uImage header, header size: 64 bytes, ...
//
// Lines that do not start with a decimal offset are skipped, so headers,
// separators and blank lines fall out naturally.
func ParseScanOutput(stdout, sourcePath string) []types.ScanFinding {
	var findings []types.ScanFinding
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		offset, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		// Second column must be the hex form of the same offset.
		hexOff, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
		if err != nil || hexOff != offset {
			continue
		}

		findings = append(findings, types.ScanFinding{
			Offset:      offset,
			Description: strings.Join(fields[2:], " "),
			SourcePath:  sourcePath,
		})
	}
	return findings
}
