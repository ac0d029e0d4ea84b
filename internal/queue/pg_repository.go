package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WalkInEmail is the stable identity of the synthetic patient bound to
// emergency insertions.
const WalkInEmail = "emergency@walk-in.local"

const appointmentColumns = `id, patient_id, doctor_id, department_id, service_date, time_slot,
	       status, queue_status, token_number, is_emergency, start_time, end_time,
	       skip_reason, estimated_duration, created_at, updated_at`

// querier is the subset of pgxpool.Pool the repository needs; pgxmock
// implements it for tests.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgRepository struct {
	pool querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func newPgRepositoryWithQuerier(q querier) *PgRepository {
	return &PgRepository{pool: q}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.AvgConsultMinutes,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.DepartmentID,
		&a.ServiceDate,
		&a.TimeSlot,
		&a.Status,
		&a.QueueStatus,
		&a.TokenNumber,
		&a.IsEmergency,
		&a.StartTime,
		&a.EndTime,
		&a.SkipReason,
		&a.EstimatedDuration,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, avg_consult_minutes, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ActiveAppointment(ctx context.Context, doctorID uuid.UUID, day time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND service_date = $2 AND queue_status = 'Active'
	`, doctorID, Day(day))
	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrNoActiveAppointment
	}
	return a, err
}

// NextApproved returns the call-next candidate: emergencies first, then the
// smallest token.
func (r *PgRepository) NextApproved(ctx context.Context, doctorID uuid.UUID, day time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND service_date = $2 AND queue_status = 'Approved'
		ORDER BY is_emergency DESC, token_number ASC
		LIMIT 1
	`, doctorID, Day(day))
	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrNoApprovedWaiting
	}
	return a, err
}

func (r *PgRepository) ListApproved(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND service_date = $2 AND queue_status = 'Approved'
		ORDER BY is_emergency DESC, token_number ASC
	`, doctorID, Day(day))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) MaxTokenForDay(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	var max int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(token_number), 0)
		FROM appointments
		WHERE doctor_id = $1 AND service_date = $2 AND token_number IS NOT NULL
	`, doctorID, Day(day)).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max token for day: %w", err)
	}
	return max, nil
}

func (r *PgRepository) CountAhead(ctx context.Context, doctorID uuid.UUID, day time.Time, token int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE doctor_id = $1 AND service_date = $2
		  AND queue_status IN ('Approved', 'Active')
		  AND token_number < $3
	`, doctorID, Day(day), token).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ahead: %w", err)
	}
	return n, nil
}

func (r *PgRepository) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY service_date DESC, created_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CreatePendingAppointment(ctx context.Context, p CreateAppointmentParams) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, doctor_id, department_id, service_date, time_slot,
			 status, queue_status, is_emergency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'Pending', 'Pending', false, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, p.PatientID, p.DoctorID, p.DepartmentID, Day(p.ServiceDate), p.TimeSlot)

	return scanAppointment(row)
}

func (r *PgRepository) CreateEmergencyAppointment(ctx context.Context, doctorID, patientID uuid.UUID, day time.Time, token, estimatedMinutes int) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, doctor_id, service_date, time_slot,
			 status, queue_status, token_number, is_emergency, estimated_duration,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'Confirmed', 'Approved', $6, true, $7, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, patientID, doctorID, Day(day), EmergencyTimeSlot, token, estimatedMinutes)

	a, err := scanAppointment(row)
	if err != nil && isUniqueViolation(err) {
		return nil, ErrTokenTaken
	}
	return a, err
}

// ApplyTransition performs the conditional read-modify-write: the row is only
// updated while it still holds tr.From, so losing writers see ErrStaleTransition
// instead of clobbering each other.
func (r *PgRepository) ApplyTransition(ctx context.Context, id uuid.UUID, tr Transition) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET queue_status = $2,
		    status       = COALESCE($3, status),
		    token_number = COALESCE($4, token_number),
		    start_time   = COALESCE($5, start_time),
		    end_time     = COALESCE($6, end_time),
		    skip_reason  = COALESCE($7, skip_reason),
		    updated_at   = now()
		WHERE id = $1
		  AND queue_status = $8
		RETURNING `+appointmentColumns+`
	`, id, tr.To, tr.Status, tr.TokenNumber, tr.StartTime, tr.EndTime, tr.SkipReason, tr.From)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrStaleTransition
		}
		if isUniqueViolation(err) {
			return nil, ErrTokenTaken
		}
		return nil, err
	}
	return a, nil
}

func (r *PgRepository) EnsureWalkInPatient(ctx context.Context) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, name, email, created_at, updated_at)
		VALUES ($1, 'Emergency Walk-In', $2, now(), now())
		ON CONFLICT (email) DO UPDATE SET updated_at = now()
		RETURNING id, name, email, created_at, updated_at
	`, uuid.New(), WalkInEmail)
	return scanPatient(row)
}
