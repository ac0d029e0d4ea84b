package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrNoActiveAppointment = errors.New("no active appointment")
	ErrNoApprovedWaiting   = errors.New("no approved appointment waiting")

	// ErrStaleTransition means the appointment was no longer in the expected
	// queue state when the conditional update ran: another writer got there
	// first, or the caller requested an impossible transition.
	ErrStaleTransition = errors.New("appointment not in expected queue state")

	// ErrTokenTaken means a concurrent writer claimed the token number this
	// writer computed. The caller re-reads the max and retries.
	ErrTokenTaken = errors.New("token number already taken for this doctor and day")
)

// Transition is one conditional queue-state change. Nil fields are left
// untouched by the store; From gates the update so concurrent writers cannot
// both apply it.
type Transition struct {
	From        QueueStatus
	To          QueueStatus
	Status      *Status
	TokenNumber *int
	StartTime   *time.Time
	EndTime     *time.Time
	SkipReason  *string
}

// CreateAppointmentParams carries everything needed to create a booking in
// Pending/Pending. Used by the seeder and tests; intake itself is an external
// collaborator.
type CreateAppointmentParams struct {
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	DepartmentID *uuid.UUID
	ServiceDate  time.Time
	TimeSlot     string
}

// Repository contains all store interactions needed by the queue service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Queue reads, all scoped to (doctor, calendar day).
	ActiveAppointment(ctx context.Context, doctorID uuid.UUID, day time.Time) (*Appointment, error)
	NextApproved(ctx context.Context, doctorID uuid.UUID, day time.Time) (*Appointment, error)
	ListApproved(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error)
	MaxTokenForDay(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)
	CountAhead(ctx context.Context, doctorID uuid.UUID, day time.Time, token int) (int, error)

	// Patient dashboard read.
	ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)

	// Writes.
	CreatePendingAppointment(ctx context.Context, p CreateAppointmentParams) (*Appointment, error)
	CreateEmergencyAppointment(ctx context.Context, doctorID, patientID uuid.UUID, day time.Time, token, estimatedMinutes int) (*Appointment, error)
	ApplyTransition(ctx context.Context, id uuid.UUID, tr Transition) (*Appointment, error)

	// EnsureWalkInPatient returns the reserved walk-in identity used for
	// emergency insertions. Idempotent: every call yields the same record.
	EnsureWalkInPatient(ctx context.Context) (*Patient, error)
}
