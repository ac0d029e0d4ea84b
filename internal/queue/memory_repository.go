package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-memory Repository with the same
// conditional-transition and token-uniqueness semantics as the Postgres store.
// Backs the service tests and the load simulator.
type MemoryRepository struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]*Doctor
	patients     map[uuid.UUID]*Patient
	appointments map[uuid.UUID]*Appointment
	walkIn       *Patient
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]*Doctor),
		patients:     make(map[uuid.UUID]*Patient),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

// AddDoctor registers a doctor. Test/seed helper, not part of Repository.
func (r *MemoryRepository) AddDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := d
	r.doctors[d.ID] = &cp
}

// AddPatient registers a patient. Test/seed helper, not part of Repository.
func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := p
	r.patients[p.ID] = &cp
}

func (r *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) ActiveAppointment(_ context.Context, doctorID uuid.UUID, day time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && SameDay(a.ServiceDate, day) && a.QueueStatus == QueueActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNoActiveAppointment
}

func (r *MemoryRepository) NextApproved(ctx context.Context, doctorID uuid.UUID, day time.Time) (*Appointment, error) {
	approved, err := r.ListApproved(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	if len(approved) == 0 {
		return nil, ErrNoApprovedWaiting
	}
	cp := approved[0]
	return &cp, nil
}

func (r *MemoryRepository) ListApproved(_ context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var approved []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && SameDay(a.ServiceDate, day) && a.QueueStatus == QueueApproved {
			approved = append(approved, *a)
		}
	}

	// selection order: emergencies first, then ascending token
	sort.Slice(approved, func(i, j int) bool {
		if approved[i].IsEmergency != approved[j].IsEmergency {
			return approved[i].IsEmergency
		}
		return approved[i].Token() < approved[j].Token()
	})

	return approved, nil
}

func (r *MemoryRepository) MaxTokenForDay(_ context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxTokenLocked(doctorID, day), nil
}

func (r *MemoryRepository) maxTokenLocked(doctorID uuid.UUID, day time.Time) int {
	max := 0
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && SameDay(a.ServiceDate, day) && a.Token() > max {
			max = a.Token()
		}
	}
	return max
}

func (r *MemoryRepository) tokenTakenLocked(doctorID uuid.UUID, day time.Time, token int, exclude uuid.UUID) bool {
	for _, a := range r.appointments {
		if a.ID != exclude && a.DoctorID == doctorID && SameDay(a.ServiceDate, day) && a.Token() == token {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) CountAhead(_ context.Context, doctorID uuid.UUID, day time.Time, token int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, a := range r.appointments {
		if a.DoctorID != doctorID || !SameDay(a.ServiceDate, day) {
			continue
		}
		if a.QueueStatus != QueueApproved && a.QueueStatus != QueueActive {
			continue
		}
		if a.TokenNumber != nil && *a.TokenNumber < token {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListForPatient(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			result = append(result, *a)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ServiceDate.Equal(result[j].ServiceDate) {
			return result[i].ServiceDate.After(result[j].ServiceDate)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

func (r *MemoryRepository) CreatePendingAppointment(_ context.Context, p CreateAppointmentParams) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	a := &Appointment{
		ID:           uuid.New(),
		PatientID:    p.PatientID,
		DoctorID:     p.DoctorID,
		DepartmentID: p.DepartmentID,
		ServiceDate:  Day(p.ServiceDate),
		TimeSlot:     p.TimeSlot,
		Status:       StatusPending,
		QueueStatus:  QueuePending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.appointments[a.ID] = a

	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) CreateEmergencyAppointment(_ context.Context, doctorID, patientID uuid.UUID, day time.Time, token, estimatedMinutes int) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tokenTakenLocked(doctorID, Day(day), token, uuid.Nil) {
		return nil, ErrTokenTaken
	}

	now := time.Now()
	a := &Appointment{
		ID:                uuid.New(),
		PatientID:         patientID,
		DoctorID:          doctorID,
		ServiceDate:       Day(day),
		TimeSlot:          EmergencyTimeSlot,
		Status:            StatusConfirmed,
		QueueStatus:       QueueApproved,
		TokenNumber:       &token,
		IsEmergency:       true,
		EstimatedDuration: &estimatedMinutes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	r.appointments[a.ID] = a

	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) ApplyTransition(_ context.Context, id uuid.UUID, tr Transition) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrStaleTransition
	}
	if a.QueueStatus != tr.From {
		return nil, ErrStaleTransition
	}

	if tr.TokenNumber != nil && r.tokenTakenLocked(a.DoctorID, a.ServiceDate, *tr.TokenNumber, a.ID) {
		return nil, ErrTokenTaken
	}

	a.QueueStatus = tr.To
	if tr.Status != nil {
		a.Status = *tr.Status
	}
	if tr.TokenNumber != nil {
		a.TokenNumber = tr.TokenNumber
	}
	if tr.StartTime != nil {
		a.StartTime = tr.StartTime
	}
	if tr.EndTime != nil {
		a.EndTime = tr.EndTime
	}
	if tr.SkipReason != nil {
		a.SkipReason = tr.SkipReason
	}
	a.UpdatedAt = time.Now()

	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) EnsureWalkInPatient(_ context.Context) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.walkIn == nil {
		email := WalkInEmail
		now := time.Now()
		r.walkIn = &Patient{
			ID:        uuid.New(),
			Name:      "Emergency Walk-In",
			Email:     &email,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.patients[r.walkIn.ID] = r.walkIn
	}

	cp := *r.walkIn
	return &cp, nil
}

// Appointments returns a snapshot of every stored appointment. Test helper.
func (r *MemoryRepository) Appointments() []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Appointment, 0, len(r.appointments))
	for _, a := range r.appointments {
		out = append(out, *a)
	}
	return out
}
