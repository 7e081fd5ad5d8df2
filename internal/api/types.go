package api

import (
	"time"

	"github.com/google/uuid"
)

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type SetDelayRequest struct {
	DelayMinutes int `json:"delay_minutes"`
}

type QueueSlotResponse struct {
	AppointmentID       uuid.UUID  `json:"appointment_id"`
	PatientID           uuid.UUID  `json:"patient_id,omitempty"`
	PatientName         string     `json:"patient_name,omitempty"`
	Position            int        `json:"queue_position"`
	PatientsBefore      int        `json:"patients_before"`
	PatientsAfter       int        `json:"patients_after"`
	WaitingTime         int        `json:"waiting_time"`
	DelayMinutes        int        `json:"delay_minutes"`
	ConsultationMinutes int        `json:"consultation_minutes"`
	ArrivedAt           *time.Time `json:"arrived_at,omitempty"`
}

type CheckInResponse struct {
	AppointmentID uuid.UUID           `json:"appointment_id"`
	Status        string              `json:"status"`
	Queue         []QueueSlotResponse `json:"queue"`
}

type StatusResponse struct {
	AppointmentID uuid.UUID           `json:"appointment_id"`
	Status        string              `json:"status"`
	Queue         []QueueSlotResponse `json:"queue"`
}

type TrackerResponse struct {
	ID                 uuid.UUID  `json:"id"`
	DoctorID           uuid.UUID  `json:"doctor_id"`
	DoctorName         string     `json:"doctor_name,omitempty"`
	Date               string     `json:"date"`
	Status             string     `json:"status"`
	DelayMinutes       int        `json:"delay_minutes"`
	Active             bool       `json:"active"`
	ArrivalConfirmedAt time.Time  `json:"arrival_confirmed_at"`
	ArrivedAt          *time.Time `json:"arrived_at,omitempty"`
	LastNotifiedAt     *time.Time `json:"last_notified_at,omitempty"`
	WaitingPatients    int        `json:"waiting_patients"`
}

type NotificationResponse struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	DoctorID   uuid.UUID `json:"doctor_id"`
	DoctorName string    `json:"doctor_name,omitempty"`
	TrackerID  uuid.UUID `json:"tracker_id"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
