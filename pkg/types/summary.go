package types

// File categories tallied by the classifier.
const (
	CategoryDirectories = "directories"
	CategoryExecutables = "executables"
	CategoryConfigs     = "configs"
	CategoryLibraries   = "libraries"
	CategoryOther       = "other"
)

// SuspiciousArchive is a nested compressed container left at the top level
// of an extraction root. Its presence means either a second decomposition
// pass is needed or the primary scan missed a component.
type SuspiciousArchive struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Kind string `json:"kind"`
}

// StructuralSummary describes the shape of one image's extraction output.
// Created once per image after extraction, read-only thereafter.
type StructuralSummary struct {
	ExtractionSucceeded bool                `json:"extraction_succeeded"`
	RootFilesystemFound bool                `json:"root_filesystem_found"`
	TopLevelDirs        []string            `json:"top_level_directories"`
	FileTypeCounts      map[string]int      `json:"file_type_counts"`
	SuspiciousArchives  []SuspiciousArchive `json:"suspicious_archives"`
}

// NewStructuralSummary returns a summary with all categories present at
// zero, so emitted records always carry the full tally table.
func NewStructuralSummary() *StructuralSummary {
	return &StructuralSummary{
		FileTypeCounts: map[string]int{
			CategoryDirectories: 0,
			CategoryExecutables: 0,
			CategoryConfigs:     0,
			CategoryLibraries:   0,
			CategoryOther:       0,
		},
	}
}
