package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aflahtk001/hospital-booking-system/internal/queue"
)

type DecisionRequest struct {
	Decision string `json:"decision"` // Confirmed or Rejected
}

type SkipRequest struct {
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID                uuid.UUID  `json:"id"`
	PatientID         uuid.UUID  `json:"patient_id"`
	DoctorID          uuid.UUID  `json:"doctor_id"`
	DepartmentID      *uuid.UUID `json:"department_id,omitempty"`
	ServiceDate       string     `json:"service_date"`
	TimeSlot          string     `json:"time_slot"`
	Status            string     `json:"status"`
	QueueStatus       string     `json:"queue_status"`
	TokenNumber       *int       `json:"token_number,omitempty"`
	IsEmergency       bool       `json:"is_emergency"`
	StartTime         *time.Time `json:"start_time,omitempty"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	SkipReason        *string    `json:"skip_reason,omitempty"`
	EstimatedDuration *int       `json:"estimated_duration,omitempty"`
}

func newAppointmentResponse(a queue.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                a.ID,
		PatientID:         a.PatientID,
		DoctorID:          a.DoctorID,
		DepartmentID:      a.DepartmentID,
		ServiceDate:       a.ServiceDate.Format("2006-01-02"),
		TimeSlot:          a.TimeSlot,
		Status:            string(a.Status),
		QueueStatus:       string(a.QueueStatus),
		TokenNumber:       a.TokenNumber,
		IsEmergency:       a.IsEmergency,
		StartTime:         a.StartTime,
		EndTime:           a.EndTime,
		SkipReason:        a.SkipReason,
		EstimatedDuration: a.EstimatedDuration,
	}
}

type CallNextResponse struct {
	Message     string `json:"message"`
	ActiveToken int    `json:"active_token"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type EmergencyResponse struct {
	Message     string              `json:"message"`
	Appointment AppointmentResponse `json:"appointment"`
}

type QueueBoardResponse struct {
	DoctorID    uuid.UUID             `json:"doctor_id"`
	Day         string                `json:"day"`
	ActiveToken int                   `json:"active_token"`
	Active      *AppointmentResponse  `json:"active,omitempty"`
	Waiting     []AppointmentResponse `json:"waiting"`
}

type PatientQueueEntryResponse struct {
	Appointment          AppointmentResponse `json:"appointment"`
	PeopleAhead          int                 `json:"people_ahead"`
	EstimatedWaitMinutes int                 `json:"estimated_wait_minutes"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
