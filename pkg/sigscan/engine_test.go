package sigscan

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signatures.yaml")
	require.NoError(t, WriteDefaultDatabase(path))
	engine, err := NewEngine(path)
	require.NoError(t, err)
	return engine
}

// buildImage assembles a synthetic firmware image: zero padding, a gzip
// stream, more padding, then a bare squashfs magic. Returns the image and
// the two component offsets.
func buildImage(t *testing.T) (image []byte, gzOffset, sqOffset uint64) {
	t.Helper()

	var buf bytes.Buffer
	buf.Write(make([]byte, 64))

	gzOffset = uint64(buf.Len())
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte("kernel payload"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	buf.Write(make([]byte, 16))
	sqOffset = uint64(buf.Len())
	buf.WriteString("hsqs")
	buf.Write(make([]byte, 32))

	return buf.Bytes(), gzOffset, sqOffset
}

func TestScanFileFindsComponents(t *testing.T) {
	engine := newTestEngine(t)
	image, gzOffset, sqOffset := buildImage(t)

	imagePath := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(imagePath, image, 0o644))

	matches, err := engine.ScanFile(imagePath)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, gzOffset, matches[0].Offset)
	assert.Equal(t, "gzip", matches[0].Signature.Name)
	assert.Equal(t, sqOffset, matches[1].Offset)
	assert.Equal(t, "squashfs", matches[1].Signature.Name)
}

func TestScanFileNoFindings(t *testing.T) {
	engine := newTestEngine(t)

	imagePath := filepath.Join(t.TempDir(), "blank.bin")
	require.NoError(t, os.WriteFile(imagePath, make([]byte, 1024), 0o644))

	matches, err := engine.ScanFile(imagePath)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestExtractFileCarvesAndExpands(t *testing.T) {
	engine := newTestEngine(t)
	image, gzOffset, sqOffset := buildImage(t)

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "fw.bin")
	require.NoError(t, os.WriteFile(imagePath, image, 0o644))
	targetDir := filepath.Join(dir, "out")

	components, err := engine.ExtractFile(imagePath, targetDir)
	require.NoError(t, err)
	require.Len(t, components, 2)

	root := filepath.Join(targetDir, "_fw.bin.extracted")

	// gzip component: carved and inflated.
	assert.Equal(t, gzOffset, components[0].Offset)
	assert.True(t, components[0].Extracted)
	assert.Equal(t, filepath.Join(root, fmt.Sprintf("%X.gz", gzOffset)), components[0].Path)

	inflated, err := os.ReadFile(filepath.Join(root, fmt.Sprintf("%X", gzOffset)))
	require.NoError(t, err)
	assert.Equal(t, "kernel payload", string(inflated))

	// squashfs component: carved only, no expander.
	assert.Equal(t, sqOffset, components[1].Offset)
	assert.True(t, components[1].Extracted)
	carved, err := os.ReadFile(components[1].Path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(carved, []byte("hsqs")))
}

func TestExtractFileZeroFindings(t *testing.T) {
	engine := newTestEngine(t)

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "blank.bin")
	require.NoError(t, os.WriteFile(imagePath, make([]byte, 256), 0o644))

	components, err := engine.ExtractFile(imagePath, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Empty(t, components)

	// No extraction root is created for an empty scan.
	_, statErr := os.Stat(filepath.Join(dir, "out", "_blank.bin.extracted"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractFileExpandsZipMembers(t *testing.T) {
	engine := newTestEngine(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("etc/version.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("v1.2.3"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "fw.bin")
	require.NoError(t, os.WriteFile(imagePath, buf.Bytes(), 0o644))

	components, err := engine.ExtractFile(imagePath, filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.Len(t, components, 1)
	assert.True(t, components[0].Extracted)

	member := filepath.Join(dir, "out", "_fw.bin.extracted", "0-zip-root", "etc", "version.txt")
	content, err := os.ReadFile(member)
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", string(content))
}

func TestMemberPathRejectsEscapes(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"../evil", "/etc/passwd", "..", "a/../../evil"} {
		_, err := memberPath(dir, name)
		assert.Error(t, err, "name %q must be rejected", name)
	}

	dest, err := memberPath(dir, "bin/busybox")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bin", "busybox"), dest)
}
