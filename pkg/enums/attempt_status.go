package enums

import "fmt"

// AttemptStatus tracks the lifecycle of a payment attempt. Status only moves
// forward: processing is the sole non-terminal state.
type AttemptStatus string

const (
	AttemptStatusProcessing AttemptStatus = "processing"
	AttemptStatusSucceeded  AttemptStatus = "succeeded"
	AttemptStatusFailed     AttemptStatus = "failed"
)

var validAttemptStatuses = []AttemptStatus{
	AttemptStatusProcessing,
	AttemptStatusSucceeded,
	AttemptStatusFailed,
}

// String implements fmt.Stringer.
func (a AttemptStatus) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AttemptStatus.
func (a AttemptStatus) IsValid() bool {
	for _, candidate := range validAttemptStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (a AttemptStatus) IsTerminal() bool {
	return a == AttemptStatusSucceeded || a == AttemptStatusFailed
}

// ParseAttemptStatus converts raw input into an AttemptStatus.
func ParseAttemptStatus(value string) (AttemptStatus, error) {
	for _, candidate := range validAttemptStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid attempt status %q", value)
}
