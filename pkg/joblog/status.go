package joblog

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a job run.
//
// Valid transitions are INACTIVE -> ACTIVE -> SUCCESS | FAILED. SUCCESS and
// FAILED are terminal.
type Status string

const (
	StatusInactive Status = "INACTIVE"
	StatusActive   Status = "ACTIVE"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
)

// Statuses lists every persisted status in lifecycle order.
var Statuses = []Status{StatusInactive, StatusActive, StatusSuccess, StatusFailed}

// ParseStatus parses a status name, ignoring case and surrounding space.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusInactive, StatusActive, StatusSuccess, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusInactive:
		return next == StatusActive
	case StatusActive:
		return next == StatusSuccess || next == StatusFailed
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}
