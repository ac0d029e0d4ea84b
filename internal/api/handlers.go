package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aflahtk001/hospital-booking-system/internal/queue"
)

func decisionHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := Subject(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no authenticated doctor")
			return
		}

		appointmentID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req DecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		updated, err := svc.ApproveOrReject(r.Context(), doctorID, appointmentID, queue.Status(req.Decision))
		if err != nil {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(*updated))
	}
}

func callNextHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := Subject(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no authenticated doctor")
			return
		}

		token, err := svc.CallNext(r.Context(), doctorID)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		message := "Next patient called"
		if token == 0 {
			message = "Queue is empty"
		}
		writeJSON(w, http.StatusOK, CallNextResponse{Message: message, ActiveToken: token})
	}
}

func skipHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := Subject(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no authenticated doctor")
			return
		}

		var req SkipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := svc.Skip(r.Context(), doctorID, req.Reason); err != nil {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{Message: "Patient skipped"})
	}
}

func emergencyHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := Subject(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no authenticated doctor")
			return
		}

		created, err := svc.InsertEmergency(r.Context(), doctorID)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, EmergencyResponse{
			Message:     "Emergency patient added to queue",
			Appointment: newAppointmentResponse(*created),
		})
	}
}

func doctorQueueHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := Subject(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no authenticated doctor")
			return
		}

		board, err := svc.DoctorQueue(r.Context(), doctorID)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		resp := QueueBoardResponse{
			DoctorID:    board.DoctorID,
			Day:         board.Day.Format("2006-01-02"),
			ActiveToken: board.ActiveToken,
			Waiting:     make([]AppointmentResponse, 0, len(board.Waiting)),
		}
		if board.Active != nil {
			active := newAppointmentResponse(*board.Active)
			resp.Active = &active
		}
		for _, a := range board.Waiting {
			resp.Waiting = append(resp.Waiting, newAppointmentResponse(a))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func patientQueueHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		// Patients read their own queue; doctors and admins may read any.
		subject, _ := Subject(r.Context())
		role := Role(r.Context())
		if subject != patientID && role != RoleDoctor && role != RoleAdmin {
			writeError(w, http.StatusUnauthorized, "not_authorized", "cannot read another patient's queue")
			return
		}

		entries, err := svc.PatientQueuePositions(r.Context(), patientID)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		resp := make([]PatientQueueEntryResponse, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, PatientQueueEntryResponse{
				Appointment:          newAppointmentResponse(e.Appointment),
				PeopleAhead:          e.PeopleAhead,
				EstimatedWaitMinutes: e.EstimatedWaitMinutes,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func handleQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, queue.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, queue.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, queue.ErrNotQueueOwner):
		writeError(w, http.StatusUnauthorized, "not_queue_owner", err.Error())
	case errors.Is(err, queue.ErrInvalidDecision):
		writeError(w, http.StatusBadRequest, "invalid_decision", err.Error())
	case errors.Is(err, queue.ErrNoActivePatient):
		writeError(w, http.StatusBadRequest, "no_active_patient", "no active patient to skip")
	case errors.Is(err, queue.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_queue_state", err.Error())
	case errors.Is(err, queue.ErrQueueBusy):
		writeError(w, http.StatusConflict, "queue_busy", "queue is busy, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
