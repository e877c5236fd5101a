package tracking

import (
	"net/url"
	"strconv"
	"strings"
)

// ValidateSubmission checks a submission before anything is written.
func ValidateSubmission(kind JobKind, in Input) error {
	if !kind.Valid() {
		return &ValidationError{Field: "kind", Reason: "unknown job kind " + string(kind)}
	}
	if in.IsEmpty() {
		return &ValidationError{Field: "input", Reason: "a url or at least one document is required"}
	}

	if in.URL != "" {
		u, err := url.Parse(in.URL)
		if err != nil {
			return &ValidationError{Field: "url", Reason: err.Error()}
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{Field: "url", Reason: "must be an absolute http(s) url"}
		}
	}

	for i, doc := range in.Documents {
		if strings.TrimSpace(doc.Content) == "" {
			return &ValidationError{Field: "documents", Reason: "document " + docLabel(i, doc) + " is empty"}
		}
	}
	return nil
}

func docLabel(i int, doc Document) string {
	if doc.Name != "" {
		return doc.Name
	}
	return "#" + strconv.Itoa(i+1)
}
