package sigscan

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bodgit/sevenzip"
)

// Match is one signature hit at an offset inside an image.
type Match struct {
	Offset    uint64
	Signature Signature
}

// Component is one carved (and possibly expanded) region of an image.
type Component struct {
	Match
	Path      string // carved file path, empty when carving failed
	Extracted bool   // carving and, where supported, expansion succeeded
}

// Engine scans binary images against a signature database and carves the
// components it finds. Expansion of carved components is limited to codecs
// the host toolchain provides; everything else is left carved for a later
// pass.
type Engine struct {
	sigs []Signature
}

// NewEngine loads the signature database at dbPath and returns a ready
// engine.
func NewEngine(dbPath string) (*Engine, error) {
	sigs, err := LoadDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	return &Engine{sigs: sigs}, nil
}

// SignatureCount returns the number of loaded signatures.
func (e *Engine) SignatureCount() int {
	return len(e.sigs)
}

// ScanFile reads an image and returns all signature hits ordered by offset.
func (e *Engine) ScanFile(path string) ([]Match, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return e.scan(content), nil
}

func (e *Engine) scan(content []byte) []Match {
	var matches []Match
	for _, sig := range e.sigs {
		from := 0
		for {
			i := bytes.Index(content[from:], sig.magic)
			if i < 0 {
				break
			}
			off := from + i
			matches = append(matches, Match{Offset: uint64(off), Signature: sig})
			from = off + 1
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Offset != matches[j].Offset {
			return matches[i].Offset < matches[j].Offset
		}
		return matches[i].Signature.Name < matches[j].Signature.Name
	})
	return matches
}

// ExtractFile scans an image and materializes each component under
// targetDir, inside an `_<image-name>.extracted` directory (the same
// convention binwalk uses). Components are carved from their offset to the
// next hit or end of image; gzip, zip and 7z components are additionally
// expanded, one level deep only.
func (e *Engine) ExtractFile(path, targetDir string) ([]Component, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}

	matches := e.scan(content)
	if len(matches) == 0 {
		return nil, nil
	}

	root := filepath.Join(targetDir, "_"+filepath.Base(path)+".extracted")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating extraction root: %w", err)
	}

	components := make([]Component, 0, len(matches))
	for i, m := range matches {
		end := uint64(len(content))
		if i+1 < len(matches) {
			end = matches[i+1].Offset
		}
		components = append(components, e.carve(content[m.Offset:end], m, root))
	}
	return components, nil
}

// carve writes one component region to disk and expands it when a codec
// is available for the signature.
func (e *Engine) carve(region []byte, m Match, root string) Component {
	c := Component{Match: m}

	name := fmt.Sprintf("%X", m.Offset)
	if m.Signature.Extension != "" {
		name += "." + m.Signature.Extension
	}
	dest := filepath.Join(root, name)
	if err := os.WriteFile(dest, region, 0o644); err != nil {
		return c
	}
	c.Path = dest

	switch m.Signature.Name {
	case "gzip":
		c.Extracted = expandGzip(region, filepath.Join(root, fmt.Sprintf("%X", m.Offset))) == nil
	case "zip":
		c.Extracted = expandZip(region, memberDir(root, m)) == nil
	case "sevenzip":
		c.Extracted = expandSevenZip(dest, memberDir(root, m)) == nil
	default:
		// No expander; the carved file itself is the result.
		c.Extracted = true
	}
	return c
}

func memberDir(root string, m Match) string {
	return filepath.Join(root, fmt.Sprintf("%X-%s-root", m.Offset, m.Signature.Name))
}

// expandGzip inflates the single gzip stream at the start of region.
// Trailing bytes beyond the stream belong to the next component and are
// ignored.
func expandGzip(region []byte, dest string) error {
	zr, err := gzip.NewReader(bytes.NewReader(region))
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer zr.Close()
	zr.Multistream(false)

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, zr); err != nil {
		os.Remove(dest)
		return fmt.Errorf("inflating gzip stream: %w", err)
	}
	return nil
}

// expandZip extracts all members of a zip component under dir.
func expandZip(region []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(region), int64(len(region)))
	if err != nil {
		return fmt.Errorf("opening zip: %w", err)
	}

	for _, f := range zr.File {
		if err := writeZipMember(f, dir); err != nil {
			return err
		}
	}
	return nil
}

func writeZipMember(f *zip.File, dir string) error {
	dest, err := memberPath(dir, f.Name)
	if err != nil {
		return err
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating member directory: %w", err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening member %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o400)
	if err != nil {
		return fmt.Errorf("creating member %s: %w", f.Name, err)
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// expandSevenZip extracts all members of a 7z component under dir.
func expandSevenZip(archivePath, dir string) error {
	r, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening 7z: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		dest, err := memberPath(dir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("creating member directory: %w", err)
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening member %s: %w", f.Name, err)
		}
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o400)
		if err != nil {
			rc.Close()
			return fmt.Errorf("creating member %s: %w", f.Name, err)
		}
		_, err = io.Copy(out, rc)
		out.Close()
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// memberPath resolves an archive member name under dir, rejecting names
// that would escape it. Member names come from untrusted input.
func memberPath(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("member name escapes archive: %s", name)
	}
	return filepath.Join(dir, clean), nil
}
