package types

// BackendKind identifies which backend variant produced a result.
type BackendKind string

const (
	// BackendStructured is the in-process decomposition engine.
	BackendStructured BackendKind = "structured"

	// BackendCommand is the external binwalk process.
	BackendCommand BackendKind = "command"
)

// ScanFinding is one signature hit inside a firmware image.
type ScanFinding struct {
	Offset      uint64 `json:"offset"`
	Description string `json:"description"`
	SourcePath  string `json:"source_path"`
}

// ExtractionFinding is a scan finding observed during an extraction pass,
// with the backend's own per-component success signal.
type ExtractionFinding struct {
	ScanFinding
	Extracted bool `json:"extracted"`
}

// CommandInvocation records one external process call verbatim for audit.
// Only populated by the command backend.
type CommandInvocation struct {
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// AnalysisResult is the backend-agnostic outcome of analyzing one image.
// It is created at the start of one image's analysis, populated only by
// the backend that produced it, and never shared across images.
type AnalysisResult struct {
	SourceFile         string              `json:"source_file"`
	Backend            BackendKind         `json:"backend"`
	ScanFindings       []ScanFinding       `json:"scan_findings"`
	ExtractionFindings []ExtractionFinding `json:"extraction_findings"`
	ExtractDir         string              `json:"extract_directory,omitempty"`
	Commands           []CommandInvocation `json:"commands,omitempty"`
	Error              string              `json:"error,omitempty"`
}

// Failed reports whether the analysis carries an unrecovered error.
// An empty finding list alone is a valid result, not a failure.
func (r *AnalysisResult) Failed() bool {
	return r.Error != ""
}

// DedupeScanFindings drops findings that repeat an (offset, description)
// pair already seen, preserving scan order.
func DedupeScanFindings(findings []ScanFinding) []ScanFinding {
	type key struct {
		offset      uint64
		description string
	}
	seen := make(map[key]bool, len(findings))
	out := findings[:0]
	for _, f := range findings {
		k := key{f.Offset, f.Description}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}
