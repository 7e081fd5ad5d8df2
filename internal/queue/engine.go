package queue

import (
	"fmt"
	"sort"
	"time"
)

// Recalculate assigns queue positions and wait-time estimates to the given
// waiting set. It is the single source of truth for the formula
//
//	waiting_time = delay_minutes + patients_before * consultation_minutes
//
// Order is ascending ArrivedAt; an appointment with no ArrivedAt sorts as
// time zero (front of the queue). Equal timestamps tie-break by appointment
// ID so that simultaneous check-ins always yield the same order.
//
// Pure computation: the input slice is not modified and nothing is written.
func Recalculate(waiting []Appointment, delayMinutes, consultationMinutes int) ([]QueueAssignment, error) {
	if delayMinutes < 0 {
		return nil, fmt.Errorf("%w: delay minutes must be >= 0, got %d", ErrValidation, delayMinutes)
	}
	if consultationMinutes < 0 {
		return nil, fmt.Errorf("%w: consultation minutes must be >= 0, got %d", ErrValidation, consultationMinutes)
	}

	sorted := make([]Appointment, len(waiting))
	copy(sorted, waiting)

	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := arrivalTime(sorted[i]), arrivalTime(sorted[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return sorted[i].ID.String() < sorted[j].ID.String()
	})

	total := len(sorted)
	assignments := make([]QueueAssignment, 0, total)

	for i, appt := range sorted {
		before := i
		assignments = append(assignments, QueueAssignment{
			AppointmentID:       appt.ID,
			Position:            i + 1,
			PatientsBefore:      before,
			PatientsAfter:       total - i - 1,
			WaitingTime:         delayMinutes + before*consultationMinutes,
			DelayMinutes:        delayMinutes,
			ConsultationMinutes: consultationMinutes,
		})
	}

	return assignments, nil
}

func arrivalTime(a Appointment) time.Time {
	if a.ArrivedAt == nil {
		return time.Time{}
	}
	return *a.ArrivedAt
}
