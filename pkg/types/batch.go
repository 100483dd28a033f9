package types

// ImageState tracks one image through the batch state machine.
type ImageState string

const (
	StatePending       ImageState = "pending"
	StateAnalyzing     ImageState = "analyzing"
	StateDone          ImageState = "done"
	StateDoneWithError ImageState = "done_with_error"
)

// ImageOutcome pairs one image's analysis result with its structural
// summary. Summary is nil when extraction never produced output to classify.
type ImageOutcome struct {
	State   ImageState         `json:"state"`
	Result  *AnalysisResult    `json:"result"`
	Summary *StructuralSummary `json:"summary,omitempty"`
}

// BatchRun aggregates one orchestrator pass over an image set.
// Owned exclusively by the orchestrator; accumulates monotonically.
type BatchRun struct {
	Total     int                      `json:"total"`
	Succeeded int                      `json:"succeeded"`
	PerImage  map[string]*ImageOutcome `json:"per_image"`
}

// NewBatchRun returns an empty run ready to accumulate outcomes.
func NewBatchRun() *BatchRun {
	return &BatchRun{PerImage: make(map[string]*ImageOutcome)}
}

// Record stores one image's outcome and bumps the tallies.
func (b *BatchRun) Record(image string, outcome *ImageOutcome) {
	b.Total++
	if outcome.State == StateDone {
		b.Succeeded++
	}
	b.PerImage[image] = outcome
}

// Failed returns the number of images that finished with an error.
func (b *BatchRun) Failed() int {
	return b.Total - b.Succeeded
}
