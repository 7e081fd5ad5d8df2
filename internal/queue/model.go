package queue

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled      AppointmentStatus = "Scheduled"
	StatusWaiting        AppointmentStatus = "Waiting"
	StatusInConsultation AppointmentStatus = "In Consultation"
	StatusCompleted      AppointmentStatus = "Completed"
	StatusCancelled      AppointmentStatus = "Cancelled"
)

type DoctorStatus string

const (
	DoctorPending      DoctorStatus = "Pending"
	DoctorArrived      DoctorStatus = "Arrived"
	DoctorDelayed      DoctorStatus = "Delayed"
	DoctorNotAvailable DoctorStatus = "Not Available"
)

// DateLayout is the calendar-day partition key format for all queues.
const DateLayout = "2006-01-02"

type Doctor struct {
	ID                  uuid.UUID
	Name                string
	Specialization      string
	ConsultationMinutes int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Appointment is one patient visit. Queue order is defined by ArrivedAt
// (physical check-in), never by TimeSlot (the booked time).
type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	PatientName string
	DoctorID    uuid.UUID
	Date        string // DateLayout
	TimeSlot    string // informational only
	Status      AppointmentStatus

	// Queue-derived fields, meaningful only while Status is Waiting.
	ArrivedAt           *time.Time
	QueuePosition       int
	PatientsBefore      int
	PatientsAfter       int
	WaitingTime         int // minutes
	DelayMinutes        int // delay used at last recompute
	ConsultationMinutes int // duration used at last recompute

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DelayTracker is the per-doctor-per-day record of arrival status and the
// delay minutes fed into wait-time recomputation. At most one tracker is
// active per doctor and date.
type DelayTracker struct {
	ID                 uuid.UUID
	DoctorID           uuid.UUID
	DoctorName         string
	Date               string // DateLayout
	Status             DoctorStatus
	DelayMinutes       int
	Active             bool
	ArrivalConfirmedAt time.Time // first patient check-in that created the tracker
	ArrivedAt          *time.Time
	LastNotifiedAt     *time.Time
	WaitingPatients    int // advisory count, not authoritative
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const NotificationDoctorDelay = "doctor_delay"

// Notification is an ephemeral message for the reception desk.
type Notification struct {
	ID         uuid.UUID
	Type       string
	DoctorID   uuid.UUID
	DoctorName string
	TrackerID  uuid.UUID
	Message    string
	Read       bool
	CreatedAt  time.Time
}

// QueueAssignment is one patient's recomputed queue slot. A recompute
// produces exactly one assignment per Waiting patient, with positions
// dense 1..N.
type QueueAssignment struct {
	AppointmentID       uuid.UUID
	Position            int // 1-indexed
	PatientsBefore      int
	PatientsAfter       int
	WaitingTime         int // minutes
	DelayMinutes        int
	ConsultationMinutes int
}
