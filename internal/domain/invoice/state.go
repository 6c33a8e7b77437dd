package invoice

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusReady      Status = "READY"
	StatusProcessing Status = "PROCESSING"
	StatusFailed     Status = "FAILED"
	StatusPaid       Status = "PAID"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusReady, StatusProcessing, StatusFailed, StatusPaid}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Statuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// transitions is the lifecycle graph. Self-loops on READY and FAILED allow re-validation;
// PAID is terminal.
var transitions = map[Status][]Status{
	StatusPending:    {StatusReady, StatusFailed, StatusProcessing},
	StatusReady:      {StatusReady, StatusFailed, StatusProcessing},
	StatusFailed:     {StatusReady, StatusFailed, StatusProcessing},
	StatusProcessing: {StatusPaid, StatusFailed},
	StatusPaid:       nil,
}

// CanTransition reports whether an invoice in status from may move to status to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// holdsRetryTime reports whether a status may carry a scheduled retry time.
func holdsRetryTime(s Status) bool {
	return s == StatusFailed || s == StatusProcessing
}
