package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/walkin-queue/internal/db"
	"github.com/clinicdesk/walkin-queue/internal/queue"
)

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

	doctorIDs, err := seedDoctors(context.Background(), pool, 12)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedAppointments(context.Background(), pool, doctorIDs, 25); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Println("seed complete")
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS doctors (
		id                   uuid PRIMARY KEY,
		name                 text NOT NULL,
		specialization       text NOT NULL,
		consultation_minutes int  NOT NULL DEFAULT 20,
		created_at           timestamptz NOT NULL DEFAULT now(),
		updated_at           timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id                   uuid PRIMARY KEY,
		patient_id           uuid NOT NULL,
		patient_name         text NOT NULL,
		doctor_id            uuid NOT NULL REFERENCES doctors(id),
		date                 text NOT NULL,
		time_slot            text NOT NULL DEFAULT '',
		status               text NOT NULL,
		arrived_at           timestamptz,
		queue_position       int NOT NULL DEFAULT 0,
		patients_before      int NOT NULL DEFAULT 0,
		patients_after       int NOT NULL DEFAULT 0,
		waiting_time         int NOT NULL DEFAULT 0,
		delay_minutes        int NOT NULL DEFAULT 0,
		consultation_minutes int NOT NULL DEFAULT 0,
		created_at           timestamptz NOT NULL DEFAULT now(),
		updated_at           timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_queue
		ON appointments (doctor_id, date, status)`,
	`CREATE TABLE IF NOT EXISTS delay_trackers (
		id                   uuid PRIMARY KEY,
		doctor_id            uuid NOT NULL REFERENCES doctors(id),
		doctor_name          text NOT NULL,
		date                 text NOT NULL,
		status               text NOT NULL,
		delay_minutes        int NOT NULL DEFAULT 0,
		active               boolean NOT NULL DEFAULT true,
		arrival_confirmed_at timestamptz NOT NULL,
		arrived_at           timestamptz,
		last_notified_at     timestamptz,
		waiting_patients     int NOT NULL DEFAULT 0,
		created_at           timestamptz NOT NULL DEFAULT now(),
		updated_at           timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_delay_trackers_active
		ON delay_trackers (doctor_id, date) WHERE active`,
	`CREATE TABLE IF NOT EXISTS reception_notifications (
		id          uuid PRIMARY KEY,
		type        text NOT NULL,
		doctor_id   uuid NOT NULL,
		doctor_name text NOT NULL,
		tracker_id  uuid NOT NULL,
		message     text NOT NULL,
		read        boolean NOT NULL DEFAULT false,
		created_at  timestamptz NOT NULL DEFAULT now()
	)`,
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	log.Println("schema ready")
	return nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specializations := []string{
		"General Practice",
		"Dermatology",
		"Cardiology",
		"Orthopedics",
		"Pediatrics",
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
		name := "Dr. " + gofakeit.Name()
		spec := specializations[gofakeit.Number(0, len(specializations)-1)]
		minutes := []int{10, 15, 20, 30}[gofakeit.Number(0, 3)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialization, consultation_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, spec, minutes)
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

// seedAppointments books perDoctor Scheduled appointments for today per
// doctor, spread over morning and afternoon slots. None are checked in;
// the queue forms as patients arrive.
func seedAppointments(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID, perDoctor int) error {
	today := time.Now().Format(queue.DateLayout)
	log.Printf("seeding %d appointments per doctor for %s", perDoctor, today)

	for _, doctorID := range doctorIDs {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := 0; i < perDoctor; i++ {
			hour := 9 + i/2
			minute := (i % 2) * 30
			slot := fmt.Sprintf("%02d:%02d", hour, minute)

			_, err := tx.Exec(ctx, `
				INSERT INTO appointments
					(id, patient_id, patient_name, doctor_id, date, time_slot, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			`, uuid.New(), uuid.New(), gofakeit.Name(), doctorID, today, slot, queue.StatusScheduled)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("appointments seeded")
	return nil
}
