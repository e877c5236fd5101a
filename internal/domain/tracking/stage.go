package tracking

// Stage labels shown next to a progress value.
const (
	StageCrawling    = "Crawling"
	StageAnalyzing   = "Analyzing"
	StageSummarizing = "Summarizing"
	StageBuilding    = "Building output"
)

// StageFor maps a progress percentage to its stage label. Both the synthetic
// estimator and the reducer use it so a given percentage always reads the same.
func StageFor(progress int) string {
	switch {
	case progress < 30:
		return StageCrawling
	case progress < 60:
		return StageAnalyzing
	case progress < 85:
		return StageSummarizing
	default:
		return StageBuilding
	}
}
