package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbs784/auto-binwalk/pkg/config"
	"github.com/qbs784/auto-binwalk/pkg/store"
)

func TestAnalyzeCommand_Exists(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"analyze"})
	require.NoError(t, err)
	assert.Equal(t, "analyze", cmd.Name())
}

func TestAnalyzeCommand_Flags(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"analyze"})
	require.NoError(t, err)

	for _, name := range []string{"input", "output", "binwalk", "datastore"} {
		flag := cmd.Flags().Lookup(name)
		require.NotNil(t, flag, "--%s flag should exist", name)
		assert.Equal(t, "", flag.DefValue)
	}

	scanOnly := cmd.Flags().Lookup("scan-only")
	require.NotNil(t, scanOnly, "--scan-only flag should exist")
	assert.Equal(t, "false", scanOnly.DefValue)
}

// writeFirmwareImage writes a .bin image containing a gzip stream so the
// in-process backend has something to find.
func writeFirmwareImage(t *testing.T, dir string) {
	t.Helper()

	var buf bytes.Buffer
	buf.Write(make([]byte, 32))
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte("rootfs payload"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "fw.bin"), buf.Bytes(), 0o644))
}

func TestRunAnalyze(t *testing.T) {
	tmpDir := t.TempDir()
	inputDir := filepath.Join(tmpDir, "database")
	outputDir := filepath.Join(tmpDir, "results")
	require.NoError(t, os.MkdirAll(inputDir, 0o755))
	writeFirmwareImage(t, inputDir)

	// Reset flags and config for test
	analyzeInputDir = ""
	analyzeOutputDir = ""
	analyzeScanOnly = false
	analyzeBinwalk = ""
	analyzeDatastore = ""
	cfg = config.Default()
	cfg.InputDir = inputDir
	cfg.OutputDir = outputDir
	cfg.SignatureDB = filepath.Join(tmpDir, "signatures.yaml")
	cfg.Datastore = filepath.Join(tmpDir, "runs.db")
	cfg.LogFile = ""

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())

	err := runAnalyze(cmd, []string{})
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Batch complete: 1/1 succeeded")
	assert.Contains(t, output, "recorded in")

	// Per-image reports land under <output>/reports.
	for _, name := range []string{"fw_analysis.json", "fw_analysis.txt"} {
		_, err := os.Stat(filepath.Join(outputDir, "reports", name))
		assert.NoError(t, err, "%s should be written", name)
	}

	// The extraction tree lands under <output>/extracted/<stem>.
	_, err = os.Stat(filepath.Join(outputDir, "extracted", "fw", "_fw.bin.extracted"))
	assert.NoError(t, err)

	// The run is recorded in the datastore.
	s, err := store.New(store.Config{Path: cfg.Datastore})
	require.NoError(t, err)
	defer s.Close()

	runs, err := s.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Total)
	assert.Equal(t, 1, runs[0].Succeeded)
}

func TestRunAnalyzeMissingInputDir(t *testing.T) {
	analyzeInputDir = ""
	analyzeOutputDir = ""
	analyzeScanOnly = false
	analyzeBinwalk = ""
	analyzeDatastore = ""
	cfg = config.Default()
	cfg.InputDir = filepath.Join(t.TempDir(), "nope")

	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetContext(context.Background())

	err := runAnalyze(cmd, []string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input directory does not exist")
}
