package assignment

import (
	"errors"
	"fmt"

	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// Sentinel errors for assignment outcomes, for callers that prefer errors.Is
// over switching on Outcome.Kind.
var (
	// ErrNotFound is returned when the request id is unknown.
	ErrNotFound = errors.New("relief request not found")

	// ErrAlreadyAssigned is returned when the request is no longer PENDING.
	ErrAlreadyAssigned = errors.New("relief request already assigned")

	// ErrNoCandidate is returned when no eligible responder exists right now.
	ErrNoCandidate = errors.New("no eligible responder available")

	// ErrUnauthorized is returned when the operator lacks the eligible-role privilege.
	ErrUnauthorized = errors.New("operator not allowed to assign")

	// ErrInvalidTransition is returned when a status change breaks the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Kind discriminates assignment outcomes.
type Kind int

const (
	kindUnknown Kind = iota
	KindAssigned
	KindAlreadyAssigned
	KindNoCandidate
	KindNotFound
	KindUnauthorized
	KindInvalidTransition
	KindUpdated
	KindUnchanged
)

var kindNames = map[Kind]string{
	kindUnknown:           "unknown",
	KindAssigned:          "assigned",
	KindAlreadyAssigned:   "already_assigned",
	KindNoCandidate:       "no_candidate",
	KindNotFound:          "not_found",
	KindUnauthorized:      "unauthorized",
	KindInvalidTransition: "invalid_transition",
	KindUpdated:           "updated",
	KindUnchanged:         "unchanged",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome reports what an assignment attempt did. Business results such as
// an already assigned request are outcomes, not errors.
type Outcome struct {
	Kind      Kind          `json:"outcome"`
	RequestID uint          `json:"request_id"`
	Status    models.Status `json:"status,omitempty"`
	// ResponderID is the responder now holding the request, if any.
	ResponderID uint `json:"responder_id,omitempty"`
	// PreviousResponderID is the responder a status change took the request from.
	PreviousResponderID uint `json:"previous_responder_id,omitempty"`
	OverCapacity        bool `json:"over_capacity,omitempty"`
}

// Succeeded reports whether the attempt changed the request. A status update
// to the current status is KindUnchanged and does not count.
func (o Outcome) Succeeded() bool {
	return o.Kind == KindAssigned || o.Kind == KindUpdated
}

// Err maps a non-success outcome to its sentinel error, or nil.
func (o Outcome) Err() error {
	switch o.Kind {
	case KindAlreadyAssigned:
		return fmt.Errorf("request %d is %s: %w", o.RequestID, o.Status, ErrAlreadyAssigned)
	case KindNoCandidate:
		return ErrNoCandidate
	case KindNotFound:
		return fmt.Errorf("request %d: %w", o.RequestID, ErrNotFound)
	case KindUnauthorized:
		return ErrUnauthorized
	case KindInvalidTransition:
		return fmt.Errorf("request %d is %s: %w", o.RequestID, o.Status, ErrInvalidTransition)
	}
	return nil
}
