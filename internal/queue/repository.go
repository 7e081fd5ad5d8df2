package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrDoctorNotFound       = errors.New("doctor not found")
	ErrTrackerNotFound      = errors.New("delay tracker not found")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrConcurrentUpdate     = errors.New("concurrent update conflict, retry with a fresh read")
	ErrValidation           = errors.New("validation failed")
	ErrNotificationNotFound = errors.New("notification not found")
)

// CheckInCommit is the atomic unit written when a patient physically
// arrives: the target's Scheduled→Waiting flip, the recomputed assignments
// for the whole waiting set, and the tracker upsert. All of it succeeds or
// none of it does.
type CheckInCommit struct {
	AppointmentID uuid.UUID
	ArrivedAt     time.Time
	Assignments   []QueueAssignment

	// NewTracker is set when no tracker is active for the doctor+date;
	// otherwise TrackerID identifies the active tracker whose advisory
	// WaitingPatients count becomes WaitingCount.
	NewTracker   *DelayTracker
	TrackerID    uuid.UUID
	WaitingCount int
}

// TrackerCommit is the atomic unit written on a tracker mutation: the new
// tracker fields plus, when the delay value changed, the recomputed
// assignments for every Waiting patient of that doctor+date.
type TrackerCommit struct {
	Tracker     DelayTracker
	Assignments []QueueAssignment
}

// Repository contains all store interactions needed by the service. Every
// mutating method is all-or-nothing: partial application of a commit would
// corrupt queue positions.
type Repository interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)

	// ListWaiting returns all Waiting appointments for one doctor on one
	// date, the full recomputation input.
	ListWaiting(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error)

	// ListQueue is the read side for display boards: Waiting appointments
	// ordered by stored queue position.
	ListQueue(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error)

	GetTracker(ctx context.Context, id uuid.UUID) (*DelayTracker, error)
	// GetActiveTracker returns ErrTrackerNotFound when no tracker is
	// active for the doctor+date.
	GetActiveTracker(ctx context.Context, doctorID uuid.UUID, date string) (*DelayTracker, error)
	ListTrackers(ctx context.Context, date string) ([]DelayTracker, error)
	ListPendingTrackers(ctx context.Context, date string) ([]DelayTracker, error)

	CommitCheckIn(ctx context.Context, commit CheckInCommit) error
	// CommitAdvance flips the appointment from→to with compare-and-swap
	// and applies the remaining waiting set's assignments in the same
	// transaction. A failed swap reports ErrConcurrentUpdate.
	CommitAdvance(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, assignments []QueueAssignment) error
	CommitTracker(ctx context.Context, commit TrackerCommit) error
	// MarkTrackerNotified stamps LastNotifiedAt for the reminder sweep.
	MarkTrackerNotified(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateNotification(ctx context.Context, n Notification) error
	ListUnreadNotifications(ctx context.Context) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID) error
	MarkAllNotificationsRead(ctx context.Context) error
}
