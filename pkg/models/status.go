package models

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a relief request
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAssigned  Status = "ASSIGNED"
	StatusEnRoute   Status = "EN_ROUTE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// ActiveStatuses are the states that count against a responder's load
var ActiveStatuses = []Status{StatusAssigned, StatusEnRoute}

var forward = map[Status]Status{
	StatusPending:  StatusAssigned,
	StatusAssigned: StatusEnRoute,
	StatusEnRoute:  StatusCompleted,
}

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsActive reports whether a request in this state is an active task
func (s Status) IsActive() bool {
	return s == StatusAssigned || s == StatusEnRoute
}

// HoldsResponder reports whether a request in this state must reference a responder
func (s Status) HoldsResponder() bool {
	return s == StatusAssigned || s == StatusEnRoute || s == StatusCompleted
}

// Valid reports whether s is one of the known states
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusEnRoute, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to follows the lifecycle graph:
// PENDING -> ASSIGNED -> EN_ROUTE -> COMPLETED, and any non-terminal state -> CANCELLED.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return forward[from] == to
}

// CanReopen reports whether a manual editor may put the request back to PENDING.
func CanReopen(from Status) bool {
	return from.IsActive()
}

// ParseStatus accepts the canonical names as well as the display forms ("En Route").
func ParseStatus(s string) (Status, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	st := Status(norm)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}
