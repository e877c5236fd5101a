package tracking

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureReason(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		want  string
	}{
		{name: "none", cause: nil, want: ""},
		{name: "worker reported", cause: ErrRemoteJob, want: "remote"},
		{name: "stalled", cause: ErrStalled, want: "stalled"},
		{name: "wrapped read failure", cause: fmt.Errorf("%w: dial tcp: timeout", ErrTransientRead), want: "network"},
		{name: "missing record", cause: ErrJobNotFound, want: "not_found"},
		{name: "cancelled", cause: ErrCancelled, want: "cancelled"},
		{name: "anything else", cause: errors.New("boom"), want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureReason(tt.cause))
		})
	}
}
