// Package classify inspects the directory tree an extraction pass produced
// and summarizes its structure. Every path under an extraction root is
// attacker-influenced input: traversal errors skip the offending subtree
// and classification always runs to completion.
package classify

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/qbs784/auto-binwalk/pkg/types"
)

// RootFSMarker is the conventional directory name indicating a fully
// expanded embedded-Linux root filesystem.
const RootFSMarker = "squashfs-root"

// suspiciousExtensions marks top-level files that are nested compressed
// containers: either a second decomposition pass is needed or the primary
// scan missed a component.
var suspiciousExtensions = map[string]string{
	".squashfs": "compressed_archive",
	".gz":       "compressed_archive",
	".7z":       "compressed_archive",
}

// executableNames are file names treated as executables regardless of
// permission bits.
var executableNames = map[string]bool{
	"busybox": true,
	"init":    true,
}

// configExtensions and libraryExtensions drive file-type tallies.
var (
	configExtensions  = map[string]bool{".conf": true, ".cfg": true, ".ini": true, ".xml": true}
	libraryExtensions = map[string]bool{".so": true, ".a": true}
)

// Classify summarizes the extraction output for one image. imageName is
// the image file base name (e.g. "router-fw.bin"); the extraction root is
// expected at `_<imageName>.extracted` beneath extractDir. A missing or
// differently named root yields ExtractionSucceeded == false, never an
// error.
func Classify(extractDir, imageName string) *types.StructuralSummary {
	summary := types.NewStructuralSummary()

	root := filepath.Join(extractDir, "_"+imageName+".extracted")
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return summary
	}
	summary.ExtractionSucceeded = true

	flagSuspiciousArchives(root, summary)

	marker := filepath.Join(root, RootFSMarker)
	if info, err := os.Stat(marker); err == nil && info.IsDir() {
		summary.RootFilesystemFound = true
		summary.TopLevelDirs = topLevelDirs(marker)
		countFileTypes(marker, summary.FileTypeCounts)
	}

	return summary
}

// flagSuspiciousArchives records nested compressed containers at the top
// level of the extraction root. Not recursive.
func flagSuspiciousArchives(root string, summary *types.StructuralSummary) {
	entries, err := os.ReadDir(root)
	if err != nil {
		log.Warn().Err(err).Str("root", root).Msg("cannot list extraction root")
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		kind, ok := suspiciousExtensions[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		summary.SuspiciousArchives = append(summary.SuspiciousArchives, types.SuspiciousArchive{
			Name: entry.Name(),
			Size: info.Size(),
			Kind: kind,
		})
	}
}

// topLevelDirs returns the immediate child directory names of the root
// filesystem marker, sorted.
func topLevelDirs(marker string) []string {
	entries, err := os.ReadDir(marker)
	if err != nil {
		return nil
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	sort.Strings(dirs)
	return dirs
}

// countFileTypes tallies everything beneath the root filesystem marker by
// category. Unreadable subtrees are skipped, leaving a partial but valid
// tally.
func countFileTypes(marker string, counts map[string]int) {
	err := filepath.WalkDir(marker, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("skipping unreadable entry")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == marker {
			return nil
		}

		counts[categorize(d)]++
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("marker", marker).Msg("file-type tally incomplete")
	}
}

// categorize assigns one directory entry to a tally category. Library and
// config extensions win over permission bits, so an executable .so still
// counts as a library. Executability requires actual mode bits or a known
// executable name, never the containing directory's name.
func categorize(d fs.DirEntry) string {
	if d.IsDir() {
		return types.CategoryDirectories
	}

	name := d.Name()
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case libraryExtensions[ext] || strings.Contains(name, ".so."):
		return types.CategoryLibraries
	case configExtensions[ext]:
		return types.CategoryConfigs
	case executableNames[name]:
		return types.CategoryExecutables
	}

	info, err := d.Info()
	if err == nil && info.Mode().Perm()&0o111 != 0 {
		return types.CategoryExecutables
	}
	return types.CategoryOther
}
