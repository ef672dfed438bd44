// Package events publishes assignment notifications to responders.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// Assignment modes.
const (
	ModeAuto   = "auto"
	ModeSelf   = "self"
	ModeStatus = "status"
)

// AssignmentEvent is emitted after a request changed hands or state.
type AssignmentEvent struct {
	RequestID   uint `json:"request_id"`
	ResponderID uint `json:"responder_id,omitempty"`
	// PreviousResponderID is set when a cancel or reopen released the responder.
	PreviousResponderID uint               `json:"previous_responder_id,omitempty"`
	OperatorID          uint               `json:"operator_id"`
	RequestType         models.RequestType `json:"request_type"`
	Status              models.Status      `json:"status"`
	Mode                string             `json:"mode"`
	OverCapacity        bool               `json:"over_capacity,omitempty"`
	Location            models.Coordinates `json:"location"`
	At                  time.Time          `json:"at"`
}

// Recipient is the responder the event is addressed to: the current holder,
// or the one who just lost the request. Zero means nobody.
func (e AssignmentEvent) Recipient() uint {
	if e.ResponderID != 0 {
		return e.ResponderID
	}
	return e.PreviousResponderID
}

// Publisher delivers assignment events.
type Publisher interface {
	PublishAssignment(ctx context.Context, ev AssignmentEvent) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishAssignment(context.Context, AssignmentEvent) error { return nil }

// MockPublisher records events in memory; used in tests.
type MockPublisher struct {
	mu     sync.Mutex
	events []AssignmentEvent
	Err    error
}

// PublishAssignment records ev, or returns Err when set.
func (m *MockPublisher) PublishAssignment(_ context.Context, ev AssignmentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (m *MockPublisher) Events() []AssignmentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AssignmentEvent(nil), m.events...)
}
