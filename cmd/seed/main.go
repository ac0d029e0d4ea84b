package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aflahtk001/hospital-booking-system/internal/db"
	"github.com/aflahtk001/hospital-booking-system/internal/queue"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS doctors (
		id                  uuid PRIMARY KEY,
		name                text NOT NULL,
		specialty           text,
		avg_consult_minutes int NOT NULL DEFAULT 15,
		created_at          timestamptz NOT NULL DEFAULT now(),
		updated_at          timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS patients (
		id         uuid PRIMARY KEY,
		name       text NOT NULL,
		email      text UNIQUE,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id                 uuid PRIMARY KEY,
		patient_id         uuid NOT NULL REFERENCES patients (id),
		doctor_id          uuid NOT NULL REFERENCES doctors (id),
		department_id      uuid,
		service_date       date NOT NULL,
		time_slot          text NOT NULL,
		status             text NOT NULL,
		queue_status       text NOT NULL,
		token_number       int,
		is_emergency       boolean NOT NULL DEFAULT false,
		start_time         timestamptz,
		end_time           timestamptz,
		skip_reason        text,
		estimated_duration int,
		created_at         timestamptz NOT NULL DEFAULT now(),
		updated_at         timestamptz NOT NULL DEFAULT now()
	)`,
	// Backstop for token allocation: two appointments of the same doctor on
	// the same day can never share a token, even if the lock layer misbehaves.
	`CREATE UNIQUE INDEX IF NOT EXISTS appointments_doctor_day_token
		ON appointments (doctor_id, service_date, token_number)
		WHERE token_number IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS appointments_doctor_day_queue
		ON appointments (doctor_id, service_date, queue_status)`,
	`CREATE INDEX IF NOT EXISTS appointments_patient
		ON appointments (patient_id)`,
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := ensureSchema(context.Background(), pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(context.Background(), pool, 25)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	patientIDs, err := seedPatients(context.Background(), pool, 2000)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedPendingAppointments(context.Background(), pool, doctorIDs, patientIDs); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Println("seed complete")
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	log.Println("schema ensured")
	return nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		avg := gofakeit.Number(10, 25)

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, avg_consult_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, spec, avg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			tag, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
				ON CONFLICT (email) DO NOTHING
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			// a duplicate email means no row was written for this id
			if tag.RowsAffected() == 1 {
				ids = append(ids, id)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return ids, nil
}

// seedPendingAppointments books a handful of pending visits per doctor for
// today, so call-next and approval flows have material to work with right
// after seeding.
func seedPendingAppointments(ctx context.Context, pool *pgxpool.Pool, doctorIDs, patientIDs []uuid.UUID) error {
	if len(doctorIDs) == 0 || len(patientIDs) == 0 {
		return nil
	}

	slots := []string{
		"09:00-09:30", "09:30-10:00", "10:00-10:30", "10:30-11:00",
		"11:00-11:30", "11:30-12:00", "14:00-14:30", "14:30-15:00",
	}
	today := queue.Day(time.Now())

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	total := 0
	for _, doctorID := range doctorIDs {
		perDoctor := gofakeit.Number(3, len(slots))
		for i := 0; i < perDoctor; i++ {
			patientID := patientIDs[gofakeit.Number(0, len(patientIDs)-1)]

			_, err := tx.Exec(ctx, `
				INSERT INTO appointments
					(id, patient_id, doctor_id, service_date, time_slot,
					 status, queue_status, is_emergency, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, 'Pending', 'Pending', false, now(), now())
			`, uuid.New(), patientID, doctorID, today, slots[i%len(slots)])
			if err != nil {
				return err
			}
			total++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Printf("pending appointments seeded: %d", total)
	return nil
}
