package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/walkin-queue/internal/config"
	redisclient "github.com/clinicdesk/walkin-queue/internal/redis"
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	events Publisher
	cfg    config.Config
	now    func() time.Time
}

// NewService wires the queue core. events may be nil when no dashboard
// broadcast is wanted (workers, tests).
func NewService(repo Repository, locker redisclient.Locker, events Publisher, cfg config.Config) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		events: events,
		cfg:    cfg,
		now:    time.Now,
	}
}

// CheckIn transitions a Scheduled appointment to Waiting at the moment the
// patient physically arrives, folds it into the doctor's waiting set, and
// commits the recomputed positions as one batch. The first check-in of the
// day also creates the doctor's delay tracker.
//
// The read-compute-commit runs under the doctor+date lock so that two
// receptionists checking in patients for the same doctor serialize; neither
// can compute positions from a snapshot the other is about to outdate.
func (s *Service) CheckIn(ctx context.Context, appointmentID uuid.UUID) ([]QueueAssignment, error) {
	appt, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: check-in requires status %q, appointment is %q",
			ErrInvalidTransition, StatusScheduled, appt.Status)
	}

	doctor, err := s.repo.GetDoctor(ctx, appt.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	duration := s.consultationMinutes(doctor)

	var assignments []QueueAssignment

	err = s.locker.WithQueueLock(ctx, appt.DoctorID, appt.Date, func(lockCtx context.Context) error {
		delay := 0
		tracker, err := s.repo.GetActiveTracker(lockCtx, appt.DoctorID, appt.Date)
		if err != nil && !errors.Is(err, ErrTrackerNotFound) {
			return fmt.Errorf("load active tracker: %w", err)
		}
		if tracker != nil {
			delay = tracker.DelayMinutes
		}

		waiting, err := s.repo.ListWaiting(lockCtx, appt.DoctorID, appt.Date)
		if err != nil {
			return fmt.Errorf("load waiting set: %w", err)
		}

		now := s.now()
		arrived := *appt
		arrived.Status = StatusWaiting
		arrived.ArrivedAt = &now

		assignments, err = Recalculate(append(waiting, arrived), delay, duration)
		if err != nil {
			return err
		}

		commit := CheckInCommit{
			AppointmentID: appt.ID,
			ArrivedAt:     now,
			Assignments:   assignments,
		}
		if tracker == nil {
			commit.NewTracker = &DelayTracker{
				ID:                 uuid.New(),
				DoctorID:           appt.DoctorID,
				DoctorName:         doctor.Name,
				Date:               appt.Date,
				Status:             DoctorPending,
				DelayMinutes:       0,
				Active:             true,
				ArrivalConfirmedAt: now,
				WaitingPatients:    len(waiting) + 1,
			}
		} else {
			commit.TrackerID = tracker.ID
			commit.WaitingCount = len(waiting) + 1
		}

		return s.repo.CommitCheckIn(lockCtx, commit)
	})
	if err != nil {
		return nil, mapLockErr(err)
	}

	s.publish(ctx, EventPatientCheckedIn, appt.DoctorID, appt.Date, len(assignments))
	return assignments, nil
}

// Advance moves an appointment Waiting→In Consultation or
// In Consultation→Completed. Leaving the Waiting state shrinks the queue,
// so the remaining patients are recomputed and committed with the status
// flip in one transaction.
func (s *Service) Advance(ctx context.Context, appointmentID uuid.UUID, newStatus AppointmentStatus) ([]QueueAssignment, error) {
	var from AppointmentStatus
	switch newStatus {
	case StatusInConsultation:
		from = StatusWaiting
	case StatusCompleted:
		from = StatusInConsultation
	default:
		return nil, fmt.Errorf("%w: cannot advance to %q", ErrValidation, newStatus)
	}

	appt, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != from {
		return nil, fmt.Errorf("%w: advancing to %q requires status %q, appointment is %q",
			ErrInvalidTransition, newStatus, from, appt.Status)
	}

	if from != StatusWaiting {
		if err := s.repo.CommitAdvance(ctx, appt.ID, from, newStatus, nil); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return s.leaveWaiting(ctx, appt, newStatus)
}

// Cancel aborts a Scheduled or Waiting appointment. Cancelled is absorbing.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID) ([]QueueAssignment, error) {
	appt, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	switch appt.Status {
	case StatusScheduled:
		if err := s.repo.CommitAdvance(ctx, appt.ID, StatusScheduled, StatusCancelled, nil); err != nil {
			return nil, err
		}
		return nil, nil
	case StatusWaiting:
		return s.leaveWaiting(ctx, appt, StatusCancelled)
	default:
		return nil, fmt.Errorf("%w: cannot cancel appointment in status %q", ErrInvalidTransition, appt.Status)
	}
}

// leaveWaiting removes appt from its doctor's waiting set, recomputes the
// remainder, and commits the flip plus assignments atomically.
func (s *Service) leaveWaiting(ctx context.Context, appt *Appointment, to AppointmentStatus) ([]QueueAssignment, error) {
	doctor, err := s.repo.GetDoctor(ctx, appt.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	duration := s.consultationMinutes(doctor)

	var assignments []QueueAssignment

	err = s.locker.WithQueueLock(ctx, appt.DoctorID, appt.Date, func(lockCtx context.Context) error {
		delay := 0
		tracker, err := s.repo.GetActiveTracker(lockCtx, appt.DoctorID, appt.Date)
		if err != nil && !errors.Is(err, ErrTrackerNotFound) {
			return fmt.Errorf("load active tracker: %w", err)
		}
		if tracker != nil {
			delay = tracker.DelayMinutes
		}

		waiting, err := s.repo.ListWaiting(lockCtx, appt.DoctorID, appt.Date)
		if err != nil {
			return fmt.Errorf("load waiting set: %w", err)
		}

		var remaining []Appointment
		for _, w := range waiting {
			if w.ID != appt.ID {
				remaining = append(remaining, w)
			}
		}

		assignments, err = Recalculate(remaining, delay, duration)
		if err != nil {
			return err
		}

		return s.repo.CommitAdvance(lockCtx, appt.ID, StatusWaiting, to, assignments)
	})
	if err != nil {
		return nil, mapLockErr(err)
	}

	s.publish(ctx, EventPatientAdvanced, appt.DoctorID, appt.Date, len(assignments))
	return assignments, nil
}

// SetDelay updates a tracker's delay minutes and recomputes the entire
// waiting set with the new value; the delay shifts every patient's wait,
// positioned or not. A Pending doctor with a positive delay becomes
// Delayed.
func (s *Service) SetDelay(ctx context.Context, trackerID uuid.UUID, minutes int) error {
	if minutes < 0 {
		return fmt.Errorf("%w: delay minutes must be >= 0, got %d", ErrValidation, minutes)
	}

	tracker, err := s.repo.GetTracker(ctx, trackerID)
	if err != nil {
		return err
	}
	if !tracker.Active {
		return fmt.Errorf("%w: tracker is resolved", ErrInvalidTransition)
	}

	doctor, err := s.repo.GetDoctor(ctx, tracker.DoctorID)
	if err != nil {
		return fmt.Errorf("load doctor: %w", err)
	}
	duration := s.consultationMinutes(doctor)

	err = s.locker.WithQueueLock(ctx, tracker.DoctorID, tracker.Date, func(lockCtx context.Context) error {
		t, err := s.repo.GetTracker(lockCtx, trackerID)
		if err != nil {
			return err
		}
		if !t.Active {
			return fmt.Errorf("%w: tracker is resolved", ErrInvalidTransition)
		}

		t.DelayMinutes = minutes
		if minutes > 0 && t.Status == DoctorPending {
			t.Status = DoctorDelayed
		}

		waiting, err := s.repo.ListWaiting(lockCtx, t.DoctorID, t.Date)
		if err != nil {
			return fmt.Errorf("load waiting set: %w", err)
		}

		assignments, err := Recalculate(waiting, minutes, duration)
		if err != nil {
			return err
		}

		return s.repo.CommitTracker(lockCtx, TrackerCommit{Tracker: *t, Assignments: assignments})
	})
	if err != nil {
		return mapLockErr(err)
	}

	s.notify(ctx, tracker, fmt.Sprintf(
		"%s delay updated to %d mins. All patient wait times recalculated.", tracker.DoctorName, minutes))
	s.publish(ctx, EventDelayChanged, tracker.DoctorID, tracker.Date, 0)
	return nil
}

// MarkArrived resolves a tracker: delay back to zero, tracker deactivated,
// and every Waiting patient's estimate recomputed with no delay. Queue
// order does not change, only wait-time values.
func (s *Service) MarkArrived(ctx context.Context, trackerID uuid.UUID) error {
	tracker, err := s.repo.GetTracker(ctx, trackerID)
	if err != nil {
		return err
	}
	if !tracker.Active {
		return fmt.Errorf("%w: tracker is resolved", ErrInvalidTransition)
	}

	doctor, err := s.repo.GetDoctor(ctx, tracker.DoctorID)
	if err != nil {
		return fmt.Errorf("load doctor: %w", err)
	}
	duration := s.consultationMinutes(doctor)

	err = s.locker.WithQueueLock(ctx, tracker.DoctorID, tracker.Date, func(lockCtx context.Context) error {
		t, err := s.repo.GetTracker(lockCtx, trackerID)
		if err != nil {
			return err
		}
		if !t.Active {
			return fmt.Errorf("%w: tracker is resolved", ErrInvalidTransition)
		}

		now := s.now()
		t.Status = DoctorArrived
		t.DelayMinutes = 0
		t.Active = false
		t.ArrivedAt = &now
		t.LastNotifiedAt = &now

		waiting, err := s.repo.ListWaiting(lockCtx, t.DoctorID, t.Date)
		if err != nil {
			return fmt.Errorf("load waiting set: %w", err)
		}

		assignments, err := Recalculate(waiting, 0, duration)
		if err != nil {
			return err
		}

		return s.repo.CommitTracker(lockCtx, TrackerCommit{Tracker: *t, Assignments: assignments})
	})
	if err != nil {
		return mapLockErr(err)
	}

	s.publish(ctx, EventDoctorArrived, tracker.DoctorID, tracker.Date, 0)
	return nil
}

// MarkDelayed flags the doctor as delayed without touching the delay
// minutes; the receptionist sets those separately through SetDelay.
func (s *Service) MarkDelayed(ctx context.Context, trackerID uuid.UUID) error {
	return s.setDoctorStatus(ctx, trackerID, DoctorDelayed)
}

// MarkNotAvailable flags the doctor as not available for the day.
func (s *Service) MarkNotAvailable(ctx context.Context, trackerID uuid.UUID) error {
	return s.setDoctorStatus(ctx, trackerID, DoctorNotAvailable)
}

func (s *Service) setDoctorStatus(ctx context.Context, trackerID uuid.UUID, status DoctorStatus) error {
	tracker, err := s.repo.GetTracker(ctx, trackerID)
	if err != nil {
		return err
	}
	if !tracker.Active {
		return fmt.Errorf("%w: tracker is resolved", ErrInvalidTransition)
	}

	err = s.locker.WithQueueLock(ctx, tracker.DoctorID, tracker.Date, func(lockCtx context.Context) error {
		t, err := s.repo.GetTracker(lockCtx, trackerID)
		if err != nil {
			return err
		}
		if !t.Active {
			return fmt.Errorf("%w: tracker is resolved", ErrInvalidTransition)
		}

		now := s.now()
		t.Status = status
		t.LastNotifiedAt = &now

		return s.repo.CommitTracker(lockCtx, TrackerCommit{Tracker: *t})
	})
	if err != nil {
		return mapLockErr(err)
	}

	s.notify(ctx, tracker, fmt.Sprintf(
		"%s is marked as %q. Please inform waiting patients.", tracker.DoctorName, status))
	return nil
}

// SweepReminders nags the reception desk about every doctor still Pending
// whose tracker has been silent for the configured threshold. At-least-once
// semantics: a failed notification is retried on the next sweep, and the
// LastNotifiedAt stamp keeps any tracker from firing twice in one window.
func (s *Service) SweepReminders(ctx context.Context) (int, error) {
	now := s.now()
	date := now.Format(DateLayout)

	trackers, err := s.repo.ListPendingTrackers(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("list pending trackers: %w", err)
	}

	fired := 0
	for _, t := range trackers {
		ref := t.ArrivalConfirmedAt
		if t.LastNotifiedAt != nil && t.LastNotifiedAt.After(ref) {
			ref = *t.LastNotifiedAt
		}
		if now.Sub(ref) < s.cfg.ReminderAfter {
			continue
		}

		n := Notification{
			Type:       NotificationDoctorDelay,
			DoctorID:   t.DoctorID,
			DoctorName: t.DoctorName,
			TrackerID:  t.ID,
			Message:    fmt.Sprintf("%s has not arrived yet. Please update their status.", t.DoctorName),
			CreatedAt:  now,
		}
		if err := s.repo.CreateNotification(ctx, n); err != nil {
			log.Printf("reminder notification for tracker %s failed: %v", t.ID, err)
			continue
		}
		if err := s.repo.MarkTrackerNotified(ctx, t.ID, now); err != nil {
			log.Printf("stamp tracker %s failed: %v", t.ID, err)
			continue
		}
		fired++
	}

	return fired, nil
}

// Queue returns the Waiting patients of a doctor on a date in stored queue
// order, the read side for display boards.
func (s *Service) Queue(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error) {
	if err := validDate(date); err != nil {
		return nil, err
	}
	return s.repo.ListQueue(ctx, doctorID, date)
}

// Trackers returns all trackers for a date, active first.
func (s *Service) Trackers(ctx context.Context, date string) ([]DelayTracker, error) {
	if err := validDate(date); err != nil {
		return nil, err
	}
	return s.repo.ListTrackers(ctx, date)
}

func (s *Service) UnreadNotifications(ctx context.Context) ([]Notification, error) {
	return s.repo.ListUnreadNotifications(ctx)
}

func (s *Service) MarkNotificationRead(ctx context.Context, id uuid.UUID) error {
	return s.repo.MarkNotificationRead(ctx, id)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context) error {
	return s.repo.MarkAllNotificationsRead(ctx)
}

func (s *Service) consultationMinutes(d *Doctor) int {
	if d.ConsultationMinutes > 0 {
		return d.ConsultationMinutes
	}
	return s.cfg.ConsultationFallback
}

func (s *Service) notify(ctx context.Context, t *DelayTracker, message string) {
	n := Notification{
		Type:       NotificationDoctorDelay,
		DoctorID:   t.DoctorID,
		DoctorName: t.DoctorName,
		TrackerID:  t.ID,
		Message:    message,
		CreatedAt:  s.now(),
	}
	if err := s.repo.CreateNotification(ctx, n); err != nil {
		log.Printf("reception notification failed: %v", err)
	}
}

func (s *Service) publish(ctx context.Context, typ EventType, doctorID uuid.UUID, date string, waiting int) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(QueueEvent{
		Type:     typ,
		DoctorID: doctorID,
		Date:     date,
		Waiting:  waiting,
		At:       s.now(),
	})
	if err != nil {
		log.Printf("marshal queue event %s failed: %v", typ, err)
		return
	}
	if err := s.events.Publish(ctx, QueueChannel(doctorID), payload); err != nil {
		log.Printf("publish queue event %s failed: %v", typ, err)
	}
}

func validDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", ErrValidation, date)
	}
	return nil
}

func mapLockErr(err error) error {
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return fmt.Errorf("%w: queue is busy", ErrConcurrentUpdate)
	}
	return err
}
