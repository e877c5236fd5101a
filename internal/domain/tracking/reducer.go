package tracking

// DefaultFailureMessage is surfaced when a failed record carries no error text.
const DefaultFailureMessage = "job failed"

// Outcome is the view derived from a single job record.
type Outcome struct {
	Status     JobStatus
	Progress   int
	Stage      string
	Summary    string
	FAQs       []FAQ
	Error      string
	IsTerminal bool

	// Cause classifies a failed outcome. Failures reported by the worker wrap
	// ErrRemoteJob; local decisions carry their own sentinel.
	Cause error

	// NotFound is set, and nothing else, when there was no record to reduce.
	NotFound bool
}

// Result rebuilds the completed result carried by the outcome.
func (o Outcome) Result() *Result {
	if o.Status != JobStatusCompleted {
		return nil
	}
	return &Result{Summary: o.Summary, FAQs: append([]FAQ(nil), o.FAQs...)}
}

// Reduce maps a raw record to its derived view. It performs no I/O and never
// mutates rec.
func Reduce(rec *JobRecord) Outcome {
	if rec == nil {
		return Outcome{NotFound: true}
	}

	switch ParseJobStatus(rec.Status) {
	case JobStatusCompleted:
		out := Outcome{
			Status:     JobStatusCompleted,
			Progress:   100,
			IsTerminal: true,
		}
		if rec.Result != nil {
			out.Summary = rec.Result.Summary
			out.FAQs = append([]FAQ(nil), rec.Result.FAQs...)
		}
		return out

	case JobStatusFailed:
		msg := rec.Error
		if msg == "" {
			msg = DefaultFailureMessage
		}
		return Outcome{
			Status:     JobStatusFailed,
			Progress:   rec.Progress,
			Error:      msg,
			IsTerminal: true,
			Cause:      ErrRemoteJob,
		}

	default:
		// Processing, idle and unrecognized text all mean the worker still
		// owns the job.
		return Outcome{
			Status:   JobStatusProcessing,
			Progress: rec.Progress,
			Stage:    StageFor(rec.Progress),
		}
	}
}
