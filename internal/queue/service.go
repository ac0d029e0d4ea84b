package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/aflahtk001/hospital-booking-system/internal/events"
	"github.com/aflahtk001/hospital-booking-system/internal/observability/metrics"
	redisclient "github.com/aflahtk001/hospital-booking-system/internal/redis"
	"github.com/aflahtk001/hospital-booking-system/pkg/logging"
)

var (
	ErrNotQueueOwner   = errors.New("appointment belongs to another doctor")
	ErrInvalidDecision = errors.New("decision must be Confirmed or Rejected")
	ErrInvalidState    = errors.New("operation not valid in the appointment's current queue state")
	ErrNoActivePatient = errors.New("no active patient")
	ErrQueueBusy       = errors.New("queue is busy, please retry")
)

// Config tunes the controller's retry budget and the wait-time estimation
// defaults. Zero values fall back to sensible defaults in NewService.
type Config struct {
	LockRetries      int
	LockRetryDelay   time.Duration
	ConsultMinutes   int // fallback when a doctor has no average recorded
	EmergencyMinutes int // estimated duration stamped on emergency entries
}

// Service is the queue controller: every doctor-invoked mutation of an
// appointment's queue lifecycle goes through here as one atomic operation.
type Service struct {
	repo    Repository
	locker  redisclient.Locker
	pub     events.Publisher
	metrics *metrics.QueueMetrics
	log     *logging.Logger
	cfg     Config
	now     func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, pub events.Publisher, cfg Config, log *logging.Logger, m *metrics.QueueMetrics) *Service {
	if pub == nil {
		pub = events.Discard
	}
	if log == nil {
		log = logging.Default()
	}
	if cfg.LockRetries <= 0 {
		cfg.LockRetries = 5
	}
	if cfg.LockRetryDelay <= 0 {
		cfg.LockRetryDelay = 50 * time.Millisecond
	}
	if cfg.ConsultMinutes <= 0 {
		cfg.ConsultMinutes = 15
	}
	if cfg.EmergencyMinutes <= 0 {
		cfg.EmergencyMinutes = 15
	}
	return &Service{
		repo:    repo,
		locker:  locker,
		pub:     pub,
		metrics: m,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
	}
}

// ApproveOrReject applies the doctor's decision on a booking request.
// Confirmed moves Pending into the queue and assigns the next token for the
// appointment's (doctor, day) if none is set yet; Rejected cancels the queue
// entry from Pending or Approved. The caller must be the owning doctor.
func (s *Service) ApproveOrReject(ctx context.Context, doctorID, appointmentID uuid.UUID, decision Status) (*Appointment, error) {
	if decision != StatusConfirmed && decision != StatusRejected {
		return nil, ErrInvalidDecision
	}

	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != doctorID {
		return nil, ErrNotQueueOwner
	}

	if decision == StatusRejected {
		return s.reject(ctx, appt)
	}
	return s.approve(ctx, appt)
}

func (s *Service) reject(ctx context.Context, appt *Appointment) (*Appointment, error) {
	if appt.QueueStatus.Terminal() || appt.QueueStatus == QueueActive {
		s.metrics.ObserveOperation("reject", "invalid")
		return nil, ErrInvalidState
	}

	rejected := StatusRejected
	updated, err := s.repo.ApplyTransition(ctx, appt.ID, Transition{
		From:   appt.QueueStatus,
		To:     QueueCancelled,
		Status: &rejected,
	})
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			s.metrics.ObserveOperation("reject", "invalid")
			return nil, ErrInvalidState
		}
		s.metrics.ObserveOperation("reject", "error")
		return nil, fmt.Errorf("reject appointment: %w", err)
	}

	s.assertPair(updated)
	s.publish(events.QueueEvent{
		DoctorID:      updated.DoctorID,
		AppointmentID: &updated.ID,
		PatientID:     &updated.PatientID,
		Status:        string(updated.Status),
		QueueStatus:   string(updated.QueueStatus),
		TokenNumber:   updated.TokenNumber,
	})
	s.metrics.ObserveOperation("reject", "ok")
	return updated, nil
}

func (s *Service) approve(ctx context.Context, appt *Appointment) (*Appointment, error) {
	if appt.QueueStatus != QueuePending {
		s.metrics.ObserveOperation("approve", "invalid")
		return nil, ErrInvalidState
	}

	day := Day(appt.ServiceDate)
	var updated *Appointment

	// The read-max/write-max+1 sequence runs inside the doctor-day lock so
	// concurrent approvals cannot compute the same next token. The partial
	// unique index backstops a lost lock: ErrTokenTaken re-reads and retries.
	err := s.withLock(ctx, redisclient.TokenScope(appt.DoctorID, day), func(lockCtx context.Context) error {
		confirmed := StatusConfirmed
		for attempt := 0; attempt < s.cfg.LockRetries; attempt++ {
			token := appt.TokenNumber
			if token == nil {
				max, err := s.repo.MaxTokenForDay(lockCtx, appt.DoctorID, day)
				if err != nil {
					return err
				}
				next := max + 1
				token = &next
			}

			var err error
			updated, err = s.repo.ApplyTransition(lockCtx, appt.ID, Transition{
				From:        QueuePending,
				To:          QueueApproved,
				Status:      &confirmed,
				TokenNumber: token,
			})
			if errors.Is(err, ErrTokenTaken) {
				s.metrics.ObserveLockRetry()
				continue
			}
			return err
		}
		return ErrTokenTaken
	})
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			s.metrics.ObserveOperation("approve", "invalid")
			return nil, ErrInvalidState
		}
		if errors.Is(err, ErrTokenTaken) || errors.Is(err, ErrQueueBusy) {
			s.metrics.ObserveOperation("approve", "conflict")
			return nil, ErrQueueBusy
		}
		s.metrics.ObserveOperation("approve", "error")
		return nil, fmt.Errorf("approve appointment: %w", err)
	}

	s.assertPair(updated)
	s.publish(events.QueueEvent{
		DoctorID:      updated.DoctorID,
		AppointmentID: &updated.ID,
		PatientID:     &updated.PatientID,
		Status:        string(updated.Status),
		QueueStatus:   string(updated.QueueStatus),
		TokenNumber:   updated.TokenNumber,
	})
	s.metrics.ObserveOperation("approve", "ok")
	return updated, nil
}

// CallNext advances the doctor's queue by one position: the current Active
// appointment, if any, is completed, then the best Approved candidate
// (emergencies first, then smallest token) becomes Active. Returns the new
// active token, 0 when the queue is empty.
func (s *Service) CallNext(ctx context.Context, doctorID uuid.UUID) (int, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return 0, err
	}

	day := Day(s.now())
	activeToken := 0

	err := s.withLock(ctx, redisclient.QueueScope(doctorID), func(lockCtx context.Context) error {
		current, err := s.repo.ActiveAppointment(lockCtx, doctorID, day)
		switch {
		case err == nil:
			completed := StatusCompleted
			endTime := s.now()
			if _, err := s.repo.ApplyTransition(lockCtx, current.ID, Transition{
				From:    QueueActive,
				To:      QueueCompleted,
				Status:  &completed,
				EndTime: &endTime,
			}); err != nil && !errors.Is(err, ErrStaleTransition) {
				return fmt.Errorf("complete active appointment: %w", err)
			}
		case errors.Is(err, ErrNoActiveAppointment):
			// nobody being served, go straight to selection
		default:
			return err
		}

		for {
			next, err := s.repo.NextApproved(lockCtx, doctorID, day)
			if errors.Is(err, ErrNoApprovedWaiting) {
				zero := 0
				s.publish(events.QueueEvent{
					DoctorID:    doctorID,
					Status:      events.StatusQueueEmpty,
					ActiveToken: &zero,
				})
				return nil
			}
			if err != nil {
				return err
			}

			startTime := s.now()
			activated, err := s.repo.ApplyTransition(lockCtx, next.ID, Transition{
				From:      QueueApproved,
				To:        QueueActive,
				StartTime: &startTime,
			})
			if errors.Is(err, ErrStaleTransition) {
				// The candidate left Approved after selection (rejection runs
				// outside this lock). Pick again rather than fail the call.
				continue
			}
			if err != nil {
				return fmt.Errorf("activate next appointment: %w", err)
			}

			s.assertPair(activated)
			activeToken = activated.Token()
			s.publish(events.QueueEvent{
				DoctorID:      doctorID,
				AppointmentID: &activated.ID,
				PatientID:     &activated.PatientID,
				Status:        events.StatusNextCalled,
				QueueStatus:   string(activated.QueueStatus),
				TokenNumber:   activated.TokenNumber,
				ActiveToken:   &activeToken,
			})
			return nil
		}
	})
	if err != nil {
		s.metrics.ObserveOperation("call_next", "error")
		return 0, err
	}

	s.metrics.ObserveOperation("call_next", "ok")
	return activeToken, nil
}

// Skip moves the doctor's Active appointment to Skipped with the given reason.
// The patient does not re-enter the queue. Fails when nobody is being served.
func (s *Service) Skip(ctx context.Context, doctorID uuid.UUID, reason string) error {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return err
	}

	if reason == "" {
		reason = "No reason provided"
	}
	day := Day(s.now())

	err := s.withLock(ctx, redisclient.QueueScope(doctorID), func(lockCtx context.Context) error {
		current, err := s.repo.ActiveAppointment(lockCtx, doctorID, day)
		if errors.Is(err, ErrNoActiveAppointment) {
			return ErrNoActivePatient
		}
		if err != nil {
			return err
		}

		skipped, err := s.repo.ApplyTransition(lockCtx, current.ID, Transition{
			From:       QueueActive,
			To:         QueueSkipped,
			SkipReason: &reason,
		})
		if err != nil {
			if errors.Is(err, ErrStaleTransition) {
				return ErrNoActivePatient
			}
			return fmt.Errorf("skip active appointment: %w", err)
		}

		s.assertPair(skipped)
		zero := 0
		s.publish(events.QueueEvent{
			DoctorID:      doctorID,
			AppointmentID: &skipped.ID,
			PatientID:     &skipped.PatientID,
			Status:        events.StatusPatientSkipped,
			QueueStatus:   string(skipped.QueueStatus),
			TokenNumber:   skipped.TokenNumber,
			ActiveToken:   &zero,
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoActivePatient) {
			s.metrics.ObserveOperation("skip", "invalid")
		} else {
			s.metrics.ObserveOperation("skip", "error")
		}
		return err
	}

	s.metrics.ObserveOperation("skip", "ok")
	return nil
}

// InsertEmergency creates an Approved, emergency-flagged appointment for the
// reserved walk-in identity. The token comes from the same allocator as normal
// approvals, so it takes the next numeric slot; priority comes from the
// emergency tie-break, not the number.
func (s *Service) InsertEmergency(ctx context.Context, doctorID uuid.UUID) (*Appointment, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	walkIn, err := s.repo.EnsureWalkInPatient(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve walk-in identity: %w", err)
	}

	day := Day(s.now())
	var created *Appointment

	err = s.withLock(ctx, redisclient.TokenScope(doctorID, day), func(lockCtx context.Context) error {
		for attempt := 0; attempt < s.cfg.LockRetries; attempt++ {
			max, err := s.repo.MaxTokenForDay(lockCtx, doctorID, day)
			if err != nil {
				return err
			}

			created, err = s.repo.CreateEmergencyAppointment(lockCtx, doctorID, walkIn.ID, day, max+1, s.cfg.EmergencyMinutes)
			if errors.Is(err, ErrTokenTaken) {
				s.metrics.ObserveLockRetry()
				continue
			}
			return err
		}
		return ErrTokenTaken
	})
	if err != nil {
		if errors.Is(err, ErrTokenTaken) || errors.Is(err, ErrQueueBusy) {
			s.metrics.ObserveOperation("emergency", "conflict")
			return nil, ErrQueueBusy
		}
		s.metrics.ObserveOperation("emergency", "error")
		return nil, fmt.Errorf("insert emergency appointment: %w", err)
	}

	s.assertPair(created)
	s.publish(events.QueueEvent{
		DoctorID:      doctorID,
		AppointmentID: &created.ID,
		PatientID:     &created.PatientID,
		Status:        events.StatusEmergencyAdded,
		QueueStatus:   string(created.QueueStatus),
		TokenNumber:   created.TokenNumber,
	})
	s.metrics.ObserveOperation("emergency", "ok")
	return created, nil
}

// DoctorQueue returns today's board for the doctor: the waiting list in
// selection order and the currently served appointment. The active token is
// derived from the store's Active record, never cached.
func (s *Service) DoctorQueue(ctx context.Context, doctorID uuid.UUID) (*QueueBoard, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	day := Day(s.now())

	waiting, err := s.repo.ListApproved(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("list waiting appointments: %w", err)
	}

	board := &QueueBoard{
		DoctorID: doctorID,
		Day:      day,
		Waiting:  waiting,
	}

	active, err := s.repo.ActiveAppointment(ctx, doctorID, day)
	switch {
	case err == nil:
		board.Active = active
		board.ActiveToken = active.Token()
	case errors.Is(err, ErrNoActiveAppointment):
		// board.ActiveToken stays 0
	default:
		return nil, fmt.Errorf("load active appointment: %w", err)
	}

	return board, nil
}

// unassignedTokenCeiling stands in for a missing token when counting people
// ahead of a Pending appointment, so everyone queued counts.
const unassignedTokenCeiling = math.MaxInt32

// PatientQueuePositions returns the patient's appointments with queue position
// and estimated wait derived at read time.
func (s *Service) PatientQueuePositions(ctx context.Context, patientID uuid.UUID) ([]PatientQueueEntry, error) {
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return nil, err
	}

	appts, err := s.repo.ListForPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient appointments: %w", err)
	}

	doctors := make(map[uuid.UUID]*Doctor)
	entries := make([]PatientQueueEntry, 0, len(appts))

	for _, a := range appts {
		entry := PatientQueueEntry{Appointment: a}

		if a.QueueStatus == QueuePending || a.QueueStatus == QueueApproved {
			token := a.Token()
			if token == 0 {
				token = unassignedTokenCeiling
			}

			ahead, err := s.repo.CountAhead(ctx, a.DoctorID, a.ServiceDate, token)
			if err != nil {
				return nil, fmt.Errorf("count people ahead: %w", err)
			}

			doc, ok := doctors[a.DoctorID]
			if !ok {
				doc, err = s.repo.GetDoctorByID(ctx, a.DoctorID)
				if err != nil {
					return nil, err
				}
				doctors[a.DoctorID] = doc
			}

			avg := doc.AvgConsultMinutes
			if avg <= 0 {
				avg = s.cfg.ConsultMinutes
			}

			entry.PeopleAhead = ahead
			entry.EstimatedWaitMinutes = ahead * avg
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// withLock acquires the scope with a bounded retry budget; contention beyond
// the budget surfaces as ErrQueueBusy.
func (s *Service) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < s.cfg.LockRetries; attempt++ {
		if attempt > 0 {
			s.metrics.ObserveLockRetry()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.LockRetryDelay):
			}
		}

		err = s.locker.WithLock(ctx, key, fn)
		if !errors.Is(err, redisclient.ErrLockNotAcquired) {
			return err
		}
	}
	return ErrQueueBusy
}

// publish emits one event right after a committed mutation. Delivery problems
// never surface to the caller.
func (s *Service) publish(ev events.QueueEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("queue event publish panicked", "panic", r)
		}
	}()

	ev.EmittedAt = s.now()
	s.pub.Publish(ev)
	s.metrics.ObserveEvent()
}

// assertPair flags drift between the two status axes. The transition table
// should make this unreachable.
func (s *Service) assertPair(a *Appointment) {
	if a == nil {
		return
	}
	if !ValidPair(a.Status, a.QueueStatus) {
		s.log.Error("status axes drifted",
			"appointment_id", a.ID.String(),
			"status", string(a.Status),
			"queue_status", string(a.QueueStatus),
		)
	}
}
