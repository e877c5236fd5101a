package tracking

import (
	"time"

	"github.com/google/uuid"
)

// Document is an uploaded file whose text is fed to the worker instead of, or
// in addition to, a crawled URL.
type Document struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Input is what the owner submitted. It never changes after submission.
type Input struct {
	URL       string     `json:"url,omitempty"`
	Documents []Document `json:"documents,omitempty"`
}

// IsEmpty reports whether neither a URL nor any document was provided.
func (in Input) IsEmpty() bool { return in.URL == "" && len(in.Documents) == 0 }

func (in Input) clone() Input {
	out := Input{URL: in.URL}
	if in.Documents != nil {
		out.Documents = append([]Document(nil), in.Documents...)
	}
	return out
}

// FAQ is a single generated question/answer pair.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category"`
}

// Result is the worker output for a completed job.
type Result struct {
	Summary string `json:"summary"`
	FAQs    []FAQ  `json:"faqs"`
}

// Clone returns a deep copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := &Result{Summary: r.Summary}
	if r.FAQs != nil {
		out.FAQs = append([]FAQ(nil), r.FAQs...)
	}
	return out
}

// JobRecord is the persisted row describing one job. Status is kept as the raw
// stored text; Reduce normalizes it.
type JobRecord struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Kind      JobKind   `json:"kind"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Stage     string    `json:"stage,omitempty"`
	Input     Input     `json:"input"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJobRecord builds the initial processing record written at submission.
func NewJobRecord(id uuid.UUID, ownerID string, kind JobKind, input Input, now time.Time) *JobRecord {
	return &JobRecord{
		ID:        id,
		OwnerID:   ownerID,
		Kind:      kind,
		Status:    JobStatusProcessing.String(),
		Progress:  0,
		Stage:     StageFor(0),
		Input:     input.clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers can never share mutable state with a
// store.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Input = r.Input.clone()
	out.Result = r.Result.Clone()
	return &out
}

// Finished reports whether the stored status is terminal.
func (r *JobRecord) Finished() bool { return ParseJobStatus(r.Status).IsTerminal() }

// JobUpdate carries the mutable fields of a record. Nil fields are left
// untouched.
type JobUpdate struct {
	Status   *JobStatus
	Progress *int
	Stage    *string
	Result   *Result
	Error    *string
}

// FailedUpdate is the terminal failure the tracker writes, through FailJob,
// when it gives up on a job.
func FailedUpdate(msg string) JobUpdate {
	status := JobStatusFailed
	return JobUpdate{Status: &status, Error: &msg}
}

// Apply merges u into the record and stamps UpdatedAt. Identity, owner, kind,
// input and creation time are never touched.
func (r *JobRecord) Apply(u JobUpdate, now time.Time) {
	if u.Status != nil {
		r.Status = u.Status.String()
	}
	if u.Progress != nil {
		r.Progress = *u.Progress
	}
	if u.Stage != nil {
		r.Stage = *u.Stage
	}
	if u.Result != nil {
		r.Result = u.Result.Clone()
	}
	if u.Error != nil {
		r.Error = *u.Error
	}
	r.UpdatedAt = now
}
