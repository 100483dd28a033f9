// Package backend provides the two interchangeable analysis backends the
// pipeline drives: an in-process signature engine and the external binwalk
// tool. Both populate the same result model.
package backend

import (
	"context"

	"github.com/qbs784/auto-binwalk/pkg/types"
)

// Backend is the scan/extract capability set every variant implements.
// Scan locates signatures without modifying the image; Extract additionally
// materializes components under targetDir.
type Backend interface {
	Kind() types.BackendKind

	Scan(ctx context.Context, imagePath string) (*types.AnalysisResult, error)

	Extract(ctx context.Context, imagePath, targetDir string) (*types.AnalysisResult, error)
}
