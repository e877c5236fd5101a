package tracking

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func sampleRecord(status string) *JobRecord {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &JobRecord{
		ID:        uuid.New(),
		OwnerID:   "owner-1",
		Kind:      JobKindAITraining,
		Status:    status,
		Progress:  42,
		Input:     Input{URL: "https://example.com"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestReduce(t *testing.T) {
	tests := []struct {
		name   string
		record func() *JobRecord
		want   Outcome
	}{
		{
			name:   "nil record is not found",
			record: func() *JobRecord { return nil },
			want:   Outcome{NotFound: true},
		},
		{
			name:   "processing passes progress through and bands stage",
			record: func() *JobRecord { return sampleRecord("processing") },
			want:   Outcome{Status: JobStatusProcessing, Progress: 42, Stage: StageAnalyzing},
		},
		{
			name:   "status text is case insensitive",
			record: func() *JobRecord { return sampleRecord("PROCESSING") },
			want:   Outcome{Status: JobStatusProcessing, Progress: 42, Stage: StageAnalyzing},
		},
		{
			name:   "unknown status is still processing",
			record: func() *JobRecord { return sampleRecord("warming_up") },
			want:   Outcome{Status: JobStatusProcessing, Progress: 42, Stage: StageAnalyzing},
		},
		{
			name: "completed forces progress and surfaces result",
			record: func() *JobRecord {
				r := sampleRecord("Completed")
				r.Result = &Result{Summary: "X", FAQs: []FAQ{{Question: "q", Answer: "a", Category: "c"}}}
				return r
			},
			want: Outcome{
				Status:     JobStatusCompleted,
				Progress:   100,
				Summary:    "X",
				FAQs:       []FAQ{{Question: "q", Answer: "a", Category: "c"}},
				IsTerminal: true,
			},
		},
		{
			name: "failed surfaces error",
			record: func() *JobRecord {
				r := sampleRecord("failed")
				r.Error = "crawler blocked"
				return r
			},
			want: Outcome{Status: JobStatusFailed, Progress: 42, Error: "crawler blocked", IsTerminal: true, Cause: ErrRemoteJob},
		},
		{
			name:   "failed without message falls back",
			record: func() *JobRecord { return sampleRecord("FAILED") },
			want:   Outcome{Status: JobStatusFailed, Progress: 42, Error: DefaultFailureMessage, IsTerminal: true, Cause: ErrRemoteJob},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reduce(tt.record()))
		})
	}
}

func TestReduce_IsPureAndDoesNotMutate(t *testing.T) {
	rec := sampleRecord("completed")
	rec.Result = &Result{Summary: "S", FAQs: []FAQ{{Question: "q1"}, {Question: "q2"}}}
	before := rec.Clone()

	first := Reduce(rec)
	second := Reduce(rec)

	assert.Equal(t, first, second)
	assert.Equal(t, before, rec)

	// Mutating the outcome must not leak back into the record.
	first.FAQs[0].Question = "changed"
	assert.Equal(t, "q1", rec.Result.FAQs[0].Question)
}

func TestOutcome_Result(t *testing.T) {
	assert.Nil(t, Outcome{Status: JobStatusProcessing}.Result())

	res := Outcome{Status: JobStatusCompleted, Summary: "S", FAQs: []FAQ{{Question: "q"}}}.Result()
	assert.Equal(t, &Result{Summary: "S", FAQs: []FAQ{{Question: "q"}}}, res)
}
