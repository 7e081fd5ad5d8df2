package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventPatientCheckedIn EventType = "patient_checked_in"
	EventPatientAdvanced  EventType = "patient_advanced"
	EventDelayChanged     EventType = "delay_changed"
	EventDoctorArrived    EventType = "doctor_arrived"
)

// QueueEvent is broadcast after a committed recompute so that dashboards
// and display boards can refresh without polling. It carries no queue data
// itself; subscribers re-read the store.
type QueueEvent struct {
	Type     EventType `json:"type"`
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Waiting  int       `json:"waiting"`
	At       time.Time `json:"at"`
}

// Publisher delivers queue events to a channel. Delivery is best-effort;
// a publish failure never rolls back the committed state it describes.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// QueueChannel is the pub/sub channel carrying updates for one doctor.
func QueueChannel(doctorID uuid.UUID) string {
	return "queue:updates:" + doctorID.String()
}
