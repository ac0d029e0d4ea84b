package queue

import (
	"time"

	"github.com/google/uuid"
)

// Status is the booking lifecycle: did the doctor accept the request.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusCancelled Status = "Cancelled"
	StatusCompleted Status = "Completed"
	StatusRejected  Status = "Rejected"
)

// QueueStatus is the walk-through-the-queue lifecycle, independent of Status.
type QueueStatus string

const (
	QueuePending   QueueStatus = "Pending"
	QueueApproved  QueueStatus = "Approved"
	QueueActive    QueueStatus = "Active"
	QueueCompleted QueueStatus = "Completed"
	QueueSkipped   QueueStatus = "Skipped"
	QueueCancelled QueueStatus = "Cancelled"
)

// Terminal reports whether an appointment in this queue state is done with the
// queue for good.
func (qs QueueStatus) Terminal() bool {
	switch qs {
	case QueueCompleted, QueueSkipped, QueueCancelled:
		return true
	}
	return false
}

// validPairs is the single source of truth for which (Status, QueueStatus)
// combinations the two lifecycle axes may hold at the same time. Every
// transition is checked against it so the axes cannot drift apart.
var validPairs = map[QueueStatus]map[Status]bool{
	QueuePending:   {StatusPending: true},
	QueueApproved:  {StatusConfirmed: true},
	QueueActive:    {StatusConfirmed: true},
	QueueCompleted: {StatusCompleted: true},
	QueueSkipped:   {StatusConfirmed: true},
	QueueCancelled: {StatusRejected: true, StatusCancelled: true},
}

// ValidPair reports whether the two axes are allowed to coexist.
func ValidPair(s Status, qs QueueStatus) bool {
	return validPairs[qs][s]
}

// EmergencyTimeSlot labels emergency insertions, which bypass the booked-slot path.
const EmergencyTimeSlot = "EMERGENCY"

// Appointment is one patient's claim on one doctor's time.
type Appointment struct {
	ID                uuid.UUID
	PatientID         uuid.UUID
	DoctorID          uuid.UUID
	DepartmentID      *uuid.UUID
	ServiceDate       time.Time // day granularity, scopes the queue
	TimeSlot          string    // display label, never used for ordering
	Status            Status
	QueueStatus       QueueStatus
	TokenNumber       *int // assigned once, unique per (doctor, day)
	IsEmergency       bool
	StartTime         *time.Time
	EndTime           *time.Time
	SkipReason        *string
	EstimatedDuration *int // minutes
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Token returns the assigned token number, or 0 when none has been assigned.
func (a *Appointment) Token() int {
	if a.TokenNumber == nil {
		return 0
	}
	return *a.TokenNumber
}

type Doctor struct {
	ID                uuid.UUID
	Name              string
	Specialty         *string
	AvgConsultMinutes int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Day truncates a timestamp to the calendar day containing it, in that
// timestamp's location. All queue scoping keys off this.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether two timestamps fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}

// QueueBoard is the doctor-facing view of today's queue.
type QueueBoard struct {
	DoctorID    uuid.UUID
	Day         time.Time
	ActiveToken int // 0 when nobody is being served
	Active      *Appointment
	Waiting     []Appointment // Approved entries in selection order
}

// PatientQueueEntry is one appointment on the patient dashboard with its
// derived queue position. PeopleAhead and EstimatedWaitMinutes are computed at
// read time from the store, never cached.
type PatientQueueEntry struct {
	Appointment          Appointment
	PeopleAhead          int
	EstimatedWaitMinutes int
}
