package tracking

import "strings"

// JobKind distinguishes the flows that share the tracker.
type JobKind string

const (
	// JobKindAITraining crawls a website (or reads uploaded documents),
	// summarizes it and generates FAQs.
	JobKindAITraining JobKind = "ai_training"

	// JobKindJobSearch scrapes job listings and enriches them with HR contacts.
	JobKindJobSearch JobKind = "job_search"
)

func (k JobKind) String() string { return string(k) }

// Valid reports whether k is a known kind.
func (k JobKind) Valid() bool {
	return k == JobKindAITraining || k == JobKindJobSearch
}

// ParseJobKind converts user input into a JobKind, returning the empty kind for
// unknown values.
func ParseJobKind(s string) JobKind {
	switch k := JobKind(strings.ToLower(strings.TrimSpace(s))); k {
	case JobKindAITraining, JobKindJobSearch:
		return k
	default:
		return ""
	}
}
