package events

import (
	"time"

	"github.com/google/uuid"
)

// Queue update headline statuses, matched by subscribers.
const (
	StatusNextCalled     = "Next Called"
	StatusQueueEmpty     = "Queue Empty"
	StatusPatientSkipped = "Patient Skipped"
	StatusEmergencyAdded = "Emergency Patient Added"
)

// QueueEvent is published after every committed queue mutation. Subscribers
// treat it as a cache-invalidation hint and re-fetch authoritative state; the
// payload is not the source of truth.
type QueueEvent struct {
	DoctorID      uuid.UUID  `json:"doctor_id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	PatientID     *uuid.UUID `json:"patient_id,omitempty"`
	Status        string     `json:"status"`
	QueueStatus   string     `json:"queue_status,omitempty"`
	TokenNumber   *int       `json:"token_number,omitempty"`
	ActiveToken   *int       `json:"active_token,omitempty"`
	EmittedAt     time.Time  `json:"emitted_at"`
}

// Publisher delivers queue events to subscribers. Delivery is fire-and-forget:
// implementations must never fail the mutation that produced the event.
type Publisher interface {
	Publish(ev QueueEvent)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ev QueueEvent)

func (f PublisherFunc) Publish(ev QueueEvent) { f(ev) }

// Discard drops every event. Useful for tools that mutate the queue without
// any connected dashboards.
var Discard Publisher = PublisherFunc(func(QueueEvent) {})
