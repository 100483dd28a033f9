// Package report serializes finished analysis records into per-image
// artifacts: one machine-readable JSON record and one human-readable text
// record, both named deterministically from the image's base name.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qbs784/auto-binwalk/pkg/types"
)

// findingPreviewLimit caps how many findings the text record lists before
// summarizing the remainder.
const findingPreviewLimit = 10

// Record is the machine-readable per-image artifact.
type Record struct {
	FirmwareName string                   `json:"firmware_name"`
	AnalyzedAt   time.Time                `json:"analysis_timestamp"`
	Backend      types.BackendKind        `json:"analysis_method"`
	Result       *types.AnalysisResult    `json:"result"`
	Summary      *types.StructuralSummary `json:"structure,omitempty"`
}

// Emitter writes per-image records under a reports directory.
type Emitter struct {
	dir string
	now func() time.Time
}

// NewEmitter creates the reports directory if needed.
func NewEmitter(dir string) (*Emitter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating reports directory: %w", err)
	}
	return &Emitter{dir: dir, now: time.Now}, nil
}

// Emit writes `<stem>_analysis.json` and `<stem>_analysis.txt` for one
// image.
func (e *Emitter) Emit(imageName string, result *types.AnalysisResult, summary *types.StructuralSummary) error {
	stem := strings.TrimSuffix(imageName, filepath.Ext(imageName))
	record := Record{
		FirmwareName: stem,
		AnalyzedAt:   e.now(),
		Backend:      result.Backend,
		Result:       result,
		Summary:      summary,
	}

	if err := e.writeJSON(stem, record); err != nil {
		return err
	}
	if err := e.writeText(stem, record); err != nil {
		return err
	}

	log.Info().Str("image", imageName).Str("dir", e.dir).Msg("analysis records written")
	return nil
}

func (e *Emitter) writeJSON(stem string, record Record) error {
	path := filepath.Join(e.dir, stem+"_analysis.json")
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing JSON record: %w", err)
	}
	return nil
}

func (e *Emitter) writeText(stem string, record Record) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Firmware analysis report: %s\n", record.FirmwareName)
	fmt.Fprintf(&b, "Analyzed at: %s\n", record.AnalyzedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Backend: %s\n", record.Backend)
	b.WriteString(strings.Repeat("=", 80) + "\n\n")

	writeScanSection(&b, record.Result)
	writeExtractionSection(&b, record.Result)
	writeCommandSection(&b, record.Result)
	writeStructureSection(&b, record.Summary)

	if record.Result.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", record.Result.Error)
	}

	path := filepath.Join(e.dir, stem+"_analysis.txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing text record: %w", err)
	}
	return nil
}

func writeScanSection(b *strings.Builder, result *types.AnalysisResult) {
	sectionHeader(b, "SIGNATURE SCAN")
	fmt.Fprintf(b, "Found %d results:\n", len(result.ScanFindings))
	for i, f := range result.ScanFindings {
		if i == findingPreviewLimit {
			fmt.Fprintf(b, "  ... %d more results\n", len(result.ScanFindings)-findingPreviewLimit)
			break
		}
		fmt.Fprintf(b, "  %d. Offset: %d, Description: %s\n", i+1, f.Offset, f.Description)
	}
	b.WriteString("\n")
}

func writeExtractionSection(b *strings.Builder, result *types.AnalysisResult) {
	if result.ExtractDir == "" {
		return
	}
	sectionHeader(b, "EXTRACTION")
	fmt.Fprintf(b, "Found %d results:\n", len(result.ExtractionFindings))
	for i, f := range result.ExtractionFindings {
		if i == findingPreviewLimit {
			fmt.Fprintf(b, "  ... %d more results\n", len(result.ExtractionFindings)-findingPreviewLimit)
			break
		}
		fmt.Fprintf(b, "  %d. Offset: %d, Description: %s, Extracted: %t\n", i+1, f.Offset, f.Description, f.Extracted)
	}
	fmt.Fprintf(b, "Extract directory: %s\n\n", result.ExtractDir)
}

func writeCommandSection(b *strings.Builder, result *types.AnalysisResult) {
	if len(result.Commands) == 0 {
		return
	}
	sectionHeader(b, "COMMANDS")
	for _, c := range result.Commands {
		fmt.Fprintf(b, "Command: %s\n", strings.Join(c.Args, " "))
		fmt.Fprintf(b, "Return code: %d\n", c.ExitCode)
		if c.Stdout != "" {
			fmt.Fprintf(b, "Output:\n%s\n", c.Stdout)
		}
		if c.Stderr != "" {
			fmt.Fprintf(b, "Error output:\n%s\n", c.Stderr)
		}
	}
	b.WriteString("\n")
}

func writeStructureSection(b *strings.Builder, summary *types.StructuralSummary) {
	if summary == nil {
		return
	}
	sectionHeader(b, "STRUCTURE")
	fmt.Fprintf(b, "Extraction succeeded: %t\n", summary.ExtractionSucceeded)
	fmt.Fprintf(b, "Root filesystem found: %t\n", summary.RootFilesystemFound)
	if len(summary.TopLevelDirs) > 0 {
		fmt.Fprintf(b, "Top-level directories: %s\n", strings.Join(summary.TopLevelDirs, ", "))
	}
	if len(summary.FileTypeCounts) > 0 {
		b.WriteString("File counts:\n")
		for _, category := range []string{
			types.CategoryDirectories,
			types.CategoryExecutables,
			types.CategoryConfigs,
			types.CategoryLibraries,
			types.CategoryOther,
		} {
			fmt.Fprintf(b, "  %s: %d\n", category, summary.FileTypeCounts[category])
		}
	}
	for _, a := range summary.SuspiciousArchives {
		fmt.Fprintf(b, "Suspicious archive: %s (%d bytes, %s)\n", a.Name, a.Size, a.Kind)
	}
	b.WriteString("\n")
}

func sectionHeader(b *strings.Builder, title string) {
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("-", 40) + "\n")
}
