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

type pgxIface interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	pool pgxIface
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	if pool == nil {
		panic("queue: pgx pool required")
	}
	return &PgRepository{pool: pool}
}

func newPgRepositoryWithIface(pool pgxIface) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const appointmentColumns = `id, patient_id, patient_name, doctor_id, date, time_slot, status,
			arrived_at, queue_position, patients_before, patients_after,
			waiting_time, delay_minutes, consultation_minutes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var arrivedAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PatientName,
		&a.DoctorID,
		&a.Date,
		&a.TimeSlot,
		&a.Status,
		&arrivedAt,
		&a.QueuePosition,
		&a.PatientsBefore,
		&a.PatientsAfter,
		&a.WaitingTime,
		&a.DelayMinutes,
		&a.ConsultationMinutes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.ArrivedAt = arrivedAt
	return &a, nil
}

const trackerColumns = `id, doctor_id, doctor_name, date, status, delay_minutes, active,
			arrival_confirmed_at, arrived_at, last_notified_at, waiting_patients,
			created_at, updated_at`

func scanTracker(row pgx.Row) (*DelayTracker, error) {
	var t DelayTracker
	var arrivedAt, lastNotifiedAt *time.Time

	err := row.Scan(
		&t.ID,
		&t.DoctorID,
		&t.DoctorName,
		&t.Date,
		&t.Status,
		&t.DelayMinutes,
		&t.Active,
		&t.ArrivalConfirmedAt,
		&arrivedAt,
		&lastNotifiedAt,
		&t.WaitingPatients,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTrackerNotFound
		}
		return nil, err
	}

	t.ArrivedAt = arrivedAt
	t.LastNotifiedAt = lastNotifiedAt
	return &t, nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification

	err := row.Scan(
		&n.ID,
		&n.Type,
		&n.DoctorID,
		&n.DoctorName,
		&n.TrackerID,
		&n.Message,
		&n.Read,
		&n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}

	return &n, nil
}

// Reads

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, specialization, consultation_minutes, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.Specialization, &d.ConsultationMinutes, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) ListWaiting(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND status = $3
		ORDER BY arrived_at
	`, doctorID, date, StatusWaiting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PgRepository) ListQueue(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND status = $3
		ORDER BY queue_position
	`, doctorID, date, StatusWaiting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
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

func (r *PgRepository) GetTracker(ctx context.Context, id uuid.UUID) (*DelayTracker, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+trackerColumns+`
		FROM delay_trackers
		WHERE id = $1
	`, id)
	return scanTracker(row)
}

func (r *PgRepository) GetActiveTracker(ctx context.Context, doctorID uuid.UUID, date string) (*DelayTracker, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+trackerColumns+`
		FROM delay_trackers
		WHERE doctor_id = $1 AND date = $2 AND active
	`, doctorID, date)
	return scanTracker(row)
}

func (r *PgRepository) ListTrackers(ctx context.Context, date string) ([]DelayTracker, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+trackerColumns+`
		FROM delay_trackers
		WHERE date = $1
		ORDER BY active DESC, created_at
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrackers(rows)
}

func (r *PgRepository) ListPendingTrackers(ctx context.Context, date string) ([]DelayTracker, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+trackerColumns+`
		FROM delay_trackers
		WHERE date = $1 AND active AND status = $2
	`, date, DoctorPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrackers(rows)
}

func collectTrackers(rows pgx.Rows) ([]DelayTracker, error) {
	var result []DelayTracker
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Writes

func (r *PgRepository) CommitCheckIn(ctx context.Context, commit CheckInCommit) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin check-in tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    arrived_at = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $4
	`, commit.AppointmentID, StatusWaiting, commit.ArrivedAt, StatusScheduled)
	if err != nil {
		return fmt.Errorf("mark appointment waiting: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}

	if err := applyAssignments(ctx, tx, commit.Assignments); err != nil {
		return err
	}

	if commit.NewTracker != nil {
		t := commit.NewTracker
		ct, err := tx.Exec(ctx, `
			INSERT INTO delay_trackers
				(id, doctor_id, doctor_name, date, status, delay_minutes, active,
				 arrival_confirmed_at, waiting_patients, created_at, updated_at)
			SELECT $1, $2, $3, $4, $5, $6, true, $7, $8, now(), now()
			WHERE NOT EXISTS (
				SELECT 1 FROM delay_trackers WHERE doctor_id = $2 AND date = $4 AND active
			)
		`, t.ID, t.DoctorID, t.DoctorName, t.Date, t.Status, t.DelayMinutes,
			t.ArrivalConfirmedAt, t.WaitingPatients)
		if err != nil {
			return fmt.Errorf("create delay tracker: %w", err)
		}
		if ct.RowsAffected() == 0 {
			// Another session created the tracker between our read and
			// this commit; the caller retries with a fresh read.
			return ErrConcurrentUpdate
		}
	} else {
		_, err := tx.Exec(ctx, `
			UPDATE delay_trackers
			SET waiting_patients = $2,
			    updated_at = now()
			WHERE id = $1
		`, commit.TrackerID, commit.WaitingCount)
		if err != nil {
			return fmt.Errorf("update tracker waiting count: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit check-in tx: %w", err)
	}
	return nil
}

func (r *PgRepository) CommitAdvance(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, assignments []QueueAssignment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin advance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    queue_position = 0,
		    patients_before = 0,
		    patients_after = 0,
		    waiting_time = 0,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
	`, id, to, from)
	if err != nil {
		return fmt.Errorf("advance appointment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}

	if err := applyAssignments(ctx, tx, assignments); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit advance tx: %w", err)
	}
	return nil
}

func (r *PgRepository) CommitTracker(ctx context.Context, commit TrackerCommit) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tracker tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t := commit.Tracker
	ct, err := tx.Exec(ctx, `
		UPDATE delay_trackers
		SET status = $2,
		    delay_minutes = $3,
		    active = $4,
		    arrived_at = $5,
		    last_notified_at = $6,
		    waiting_patients = $7,
		    updated_at = now()
		WHERE id = $1
	`, t.ID, t.Status, t.DelayMinutes, t.Active, t.ArrivedAt, t.LastNotifiedAt, t.WaitingPatients)
	if err != nil {
		return fmt.Errorf("update delay tracker: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrTrackerNotFound
	}

	if err := applyAssignments(ctx, tx, commit.Assignments); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tracker tx: %w", err)
	}
	return nil
}

func applyAssignments(ctx context.Context, tx pgx.Tx, assignments []QueueAssignment) error {
	for _, a := range assignments {
		ct, err := tx.Exec(ctx, `
			UPDATE appointments
			SET queue_position = $2,
			    patients_before = $3,
			    patients_after = $4,
			    waiting_time = $5,
			    delay_minutes = $6,
			    consultation_minutes = $7,
			    updated_at = now()
			WHERE id = $1
			  AND status = $8
		`, a.AppointmentID, a.Position, a.PatientsBefore, a.PatientsAfter,
			a.WaitingTime, a.DelayMinutes, a.ConsultationMinutes, StatusWaiting)
		if err != nil {
			return fmt.Errorf("apply assignment for %s: %w", a.AppointmentID, err)
		}
		if ct.RowsAffected() == 0 {
			// The appointment left Waiting since our snapshot.
			return ErrConcurrentUpdate
		}
	}
	return nil
}

func (r *PgRepository) MarkTrackerNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE delay_trackers
		SET last_notified_at = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark tracker notified: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrTrackerNotFound
	}
	return nil
}

func (r *PgRepository) CreateNotification(ctx context.Context, n Notification) error {
	id := n.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO reception_notifications
			(id, type, doctor_id, doctor_name, tracker_id, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, COALESCE($7, now()))
	`, id, n.Type, n.DoctorID, n.DoctorName, n.TrackerID, n.Message, nullableTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert reception notification: %w", err)
	}
	return nil
}

func (r *PgRepository) ListUnreadNotifications(ctx context.Context) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, type, doctor_id, doctor_name, tracker_id, message, read, created_at
		FROM reception_notifications
		WHERE NOT read
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) MarkNotificationRead(ctx context.Context, id uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE reception_notifications
		SET read = true
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *PgRepository) MarkAllNotificationsRead(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE reception_notifications
		SET read = true
		WHERE NOT read
	`)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
