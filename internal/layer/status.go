package layer

import (
	"fmt"
	"strings"
)

// Status is the externally visible lifecycle of a layer job.
type Status string

const (
	StatusProcessing Status = "Processing"
	StatusFailed     Status = "Failed"
	StatusComplete   Status = "Complete"
)

var allStatuses = []Status{StatusProcessing, StatusFailed, StatusComplete}

// AllStatuses returns the known statuses in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// IsTerminal reports whether no further worker transitions apply.
func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusComplete
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus converts persisted or user-supplied text into a Status.
func ParseStatus(value string) (Status, error) {
	trimmed := strings.TrimSpace(value)
	for _, known := range allStatuses {
		if strings.EqualFold(trimmed, string(known)) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown layer status %q", value)
}
