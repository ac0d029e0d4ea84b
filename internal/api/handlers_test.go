package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aflahtk001/hospital-booking-system/internal/queue"
	"github.com/aflahtk001/hospital-booking-system/internal/ws"
)

const testSecret = "test-secret"

type stubLocker struct{}

func (stubLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type apiFixture struct {
	srv     *httptest.Server
	repo    *queue.MemoryRepository
	doctor  queue.Doctor
	patient queue.Patient
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	repo := queue.NewMemoryRepository()
	svc := queue.NewService(repo, stubLocker{}, nil, queue.Config{}, nil, nil)

	router := NewRouter(RouterConfig{
		Service:   svc,
		Hub:       ws.NewHub(nil),
		Logger:    nil,
		JWTSecret: testSecret,
		Env:       "test",
		Version:   "test",
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	doctor := queue.Doctor{ID: uuid.New(), Name: "Dr. Mateti", AvgConsultMinutes: 10}
	patient := queue.Patient{ID: uuid.New(), Name: "Asha Rao"}
	repo.AddDoctor(doctor)
	repo.AddPatient(patient)

	return &apiFixture{srv: srv, repo: repo, doctor: doctor, patient: patient}
}

func (f *apiFixture) token(t *testing.T, subject uuid.UUID, role string) string {
	t.Helper()

	token, err := SignToken(testSecret, subject, role, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *apiFixture) bookPending(t *testing.T) *queue.Appointment {
	t.Helper()

	appt, err := f.repo.CreatePendingAppointment(context.Background(), queue.CreateAppointmentParams{
		PatientID:   f.patient.ID,
		DoctorID:    f.doctor.ID,
		ServiceDate: time.Now(),
		TimeSlot:    "10:00-10:30",
	})
	require.NoError(t, err)
	return appt
}

func TestDecisionEndpointApproves(t *testing.T) {
	f := newAPIFixture(t)
	appt := f.bookPending(t)

	resp := f.do(t, http.MethodPut, "/api/doctor/appointments/"+appt.ID.String()+"/decision",
		f.token(t, f.doctor.ID, RoleDoctor), DecisionRequest{Decision: "Confirmed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[AppointmentResponse](t, resp)
	assert.Equal(t, "Confirmed", body.Status)
	assert.Equal(t, "Approved", body.QueueStatus)
	require.NotNil(t, body.TokenNumber)
	assert.Equal(t, 1, *body.TokenNumber)
}

func TestDecisionEndpointErrors(t *testing.T) {
	f := newAPIFixture(t)
	appt := f.bookPending(t)

	otherDoctor := queue.Doctor{ID: uuid.New(), Name: "Dr. Pillai"}
	f.repo.AddDoctor(otherDoctor)

	tests := []struct {
		name       string
		path       string
		bearer     string
		body       any
		wantStatus int
	}{
		{
			name:       "no token",
			path:       "/api/doctor/appointments/" + appt.ID.String() + "/decision",
			body:       DecisionRequest{Decision: "Confirmed"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "patient role",
			path:       "/api/doctor/appointments/" + appt.ID.String() + "/decision",
			bearer:     f.token(t, f.patient.ID, RolePatient),
			body:       DecisionRequest{Decision: "Confirmed"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "another doctor's appointment",
			path:       "/api/doctor/appointments/" + appt.ID.String() + "/decision",
			bearer:     f.token(t, otherDoctor.ID, RoleDoctor),
			body:       DecisionRequest{Decision: "Confirmed"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unknown appointment",
			path:       "/api/doctor/appointments/" + uuid.NewString() + "/decision",
			bearer:     f.token(t, f.doctor.ID, RoleDoctor),
			body:       DecisionRequest{Decision: "Confirmed"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "malformed appointment id",
			path:       "/api/doctor/appointments/not-a-uuid/decision",
			bearer:     f.token(t, f.doctor.ID, RoleDoctor),
			body:       DecisionRequest{Decision: "Confirmed"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unsupported decision",
			path:       "/api/doctor/appointments/" + appt.ID.String() + "/decision",
			bearer:     f.token(t, f.doctor.ID, RoleDoctor),
			body:       DecisionRequest{Decision: "Maybe"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPut, tt.path, tt.bearer, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestDecisionEndpointDoubleApproveConflicts(t *testing.T) {
	f := newAPIFixture(t)
	appt := f.bookPending(t)
	bearer := f.token(t, f.doctor.ID, RoleDoctor)
	path := "/api/doctor/appointments/" + appt.ID.String() + "/decision"

	resp := f.do(t, http.MethodPut, path, bearer, DecisionRequest{Decision: "Confirmed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPut, path, bearer, DecisionRequest{Decision: "Confirmed"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCallNextEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	bearer := f.token(t, f.doctor.ID, RoleDoctor)

	// Empty queue first.
	resp := f.do(t, http.MethodPut, "/api/doctor/queue/next", bearer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[CallNextResponse](t, resp)
	assert.Equal(t, "Queue is empty", body.Message)
	assert.Equal(t, 0, body.ActiveToken)

	appt := f.bookPending(t)
	resp = f.do(t, http.MethodPut, "/api/doctor/appointments/"+appt.ID.String()+"/decision",
		bearer, DecisionRequest{Decision: "Confirmed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/doctor/queue/next", bearer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode[CallNextResponse](t, resp)
	assert.Equal(t, "Next patient called", body.Message)
	assert.Equal(t, 1, body.ActiveToken)
}

func TestSkipEndpointWithoutActivePatient(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPut, "/api/doctor/queue/skip",
		f.token(t, f.doctor.ID, RoleDoctor), SkipRequest{Reason: "no-show"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSkipEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	bearer := f.token(t, f.doctor.ID, RoleDoctor)

	appt := f.bookPending(t)
	f.do(t, http.MethodPut, "/api/doctor/appointments/"+appt.ID.String()+"/decision",
		bearer, DecisionRequest{Decision: "Confirmed"})
	f.do(t, http.MethodPut, "/api/doctor/queue/next", bearer, nil)

	resp := f.do(t, http.MethodPut, "/api/doctor/queue/skip", bearer, SkipRequest{Reason: "no-show"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	skipped, err := f.repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.QueueSkipped, skipped.QueueStatus)
}

func TestEmergencyEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/doctor/queue/emergency",
		f.token(t, f.doctor.ID, RoleDoctor), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[EmergencyResponse](t, resp)
	assert.True(t, body.Appointment.IsEmergency)
	assert.Equal(t, queue.EmergencyTimeSlot, body.Appointment.TimeSlot)
	require.NotNil(t, body.Appointment.TokenNumber)
	assert.Equal(t, 1, *body.Appointment.TokenNumber)
}

func TestDoctorQueueEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	bearer := f.token(t, f.doctor.ID, RoleDoctor)

	for i := 0; i < 2; i++ {
		appt := f.bookPending(t)
		f.do(t, http.MethodPut, "/api/doctor/appointments/"+appt.ID.String()+"/decision",
			bearer, DecisionRequest{Decision: "Confirmed"})
	}
	f.do(t, http.MethodPut, "/api/doctor/queue/next", bearer, nil)

	resp := f.do(t, http.MethodGet, "/api/doctor/queue", bearer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[QueueBoardResponse](t, resp)
	assert.Equal(t, f.doctor.ID, body.DoctorID)
	assert.Equal(t, 1, body.ActiveToken)
	require.NotNil(t, body.Active)
	require.Len(t, body.Waiting, 1)
	require.NotNil(t, body.Waiting[0].TokenNumber)
	assert.Equal(t, 2, *body.Waiting[0].TokenNumber)
}

func TestPatientQueueEndpointAccess(t *testing.T) {
	f := newAPIFixture(t)

	other := queue.Patient{ID: uuid.New(), Name: "Binu Thomas"}
	f.repo.AddPatient(other)

	path := "/api/patients/" + f.patient.ID.String() + "/queue"

	// A patient reads their own queue.
	resp := f.do(t, http.MethodGet, path, f.token(t, f.patient.ID, RolePatient), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Another patient may not.
	resp = f.do(t, http.MethodGet, path, f.token(t, other.ID, RolePatient), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A doctor may read any patient's queue.
	resp = f.do(t, http.MethodGet, path, f.token(t, f.doctor.ID, RoleDoctor), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPatientQueueEndpointPositions(t *testing.T) {
	f := newAPIFixture(t)
	bearer := f.token(t, f.doctor.ID, RoleDoctor)

	ahead := queue.Patient{ID: uuid.New(), Name: "Binu Thomas"}
	f.repo.AddPatient(ahead)

	aheadAppt, err := f.repo.CreatePendingAppointment(context.Background(), queue.CreateAppointmentParams{
		PatientID:   ahead.ID,
		DoctorID:    f.doctor.ID,
		ServiceDate: time.Now(),
		TimeSlot:    "09:00-09:30",
	})
	require.NoError(t, err)
	f.do(t, http.MethodPut, "/api/doctor/appointments/"+aheadAppt.ID.String()+"/decision",
		bearer, DecisionRequest{Decision: "Confirmed"})

	mine := f.bookPending(t)
	f.do(t, http.MethodPut, "/api/doctor/appointments/"+mine.ID.String()+"/decision",
		bearer, DecisionRequest{Decision: "Confirmed"})

	resp := f.do(t, http.MethodGet, "/api/patients/"+f.patient.ID.String()+"/queue",
		f.token(t, f.patient.ID, RolePatient), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries := decode[[]PatientQueueEntryResponse](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].PeopleAhead)
	// doctor averages 10 minutes per consult
	assert.Equal(t, 10, entries[0].EstimatedWaitMinutes)
}

func TestExpiredTokenRejected(t *testing.T) {
	f := newAPIFixture(t)

	expired, err := SignToken(testSecret, f.doctor.ID, RoleDoctor, -time.Minute)
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/api/doctor/queue", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
