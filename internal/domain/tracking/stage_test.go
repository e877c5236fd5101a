package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageFor_Bands(t *testing.T) {
	tests := []struct {
		progress int
		want     string
	}{
		{0, StageCrawling},
		{29, StageCrawling},
		{30, StageAnalyzing},
		{59, StageAnalyzing},
		{60, StageSummarizing},
		{84, StageSummarizing},
		{85, StageBuilding},
		{95, StageBuilding},
		{100, StageBuilding},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StageFor(tt.progress), "progress %d", tt.progress)
	}
}
