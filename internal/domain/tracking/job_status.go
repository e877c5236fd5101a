package tracking

import (
	"fmt"
	"slices"
	"strings"
)

// JobStatus represents where a tracked job sits in its lifecycle. Only the
// remote worker may move a job to JobStatusCompleted; the tracker itself only
// ever records failures.
type JobStatus string

const (
	// JobStatusIdle indicates nothing has been submitted yet.
	JobStatusIdle JobStatus = "idle"

	// JobStatusProcessing indicates the remote worker owns the job.
	JobStatusProcessing JobStatus = "processing"

	// JobStatusCompleted indicates the worker produced a result.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed indicates the job ended without a result.
	JobStatusFailed JobStatus = "failed"
)

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether no further transitions happen without a new
// submission.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// statusAliases maps every lowercase status text the workers emit to the
// status it stands for.
var statusAliases = map[string]JobStatus{
	"idle": JobStatusIdle,

	"processing":  JobStatusProcessing,
	"pending":     JobStatusProcessing,
	"queued":      JobStatusProcessing,
	"running":     JobStatusProcessing,
	"in_progress": JobStatusProcessing,

	"completed": JobStatusCompleted,
	"complete":  JobStatusCompleted,
	"done":      JobStatusCompleted,
	"succeeded": JobStatusCompleted,
	"success":   JobStatusCompleted,

	"failed":    JobStatusFailed,
	"error":     JobStatusFailed,
	"errored":   JobStatusFailed,
	"cancelled": JobStatusFailed,
	"canceled":  JobStatusFailed,
}

// ParseJobStatus converts stored status text to a JobStatus. Matching is
// case-insensitive and tolerates the aliases emitted by the workers. Unknown
// text yields the empty status.
func ParseJobStatus(s string) JobStatus {
	return statusAliases[strings.ToLower(strings.TrimSpace(s))]
}

// TerminalStatusTexts lists, sorted, every lowercase status text that
// ParseJobStatus maps to a terminal status. Stores match trimmed, lowercased
// stored text against it to guard conditional writes.
func TerminalStatusTexts() []string {
	texts := make([]string, 0, len(statusAliases))
	for text, status := range statusAliases {
		if status.IsTerminal() {
			texts = append(texts, text)
		}
	}
	slices.Sort(texts)
	return texts
}

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s JobStatus) ValidateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid job status transition from %q to %q", s, target)
	}
	return nil
}

func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusIdle:
		return target == JobStatusProcessing
	case JobStatusProcessing:
		return target == JobStatusProcessing || target == JobStatusCompleted || target == JobStatusFailed
	case JobStatusCompleted, JobStatusFailed:
		// A finished job only moves again through a brand new submission.
		return target == JobStatusProcessing
	default:
		return false
	}
}
