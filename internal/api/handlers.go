package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicdesk/walkin-queue/internal/queue"
	redisclient "github.com/clinicdesk/walkin-queue/internal/redis"
)

func checkInHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}

		assignments, err := svc.CheckIn(r.Context(), id)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, CheckInResponse{
			AppointmentID: id,
			Status:        string(queue.StatusWaiting),
			Queue:         assignmentSlots(assignments),
		})
	}
}

func updateAppointmentStatusHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		status := queue.AppointmentStatus(req.Status)
		var (
			assignments []queue.QueueAssignment
			err         error
		)
		switch status {
		case queue.StatusCancelled:
			assignments, err = svc.Cancel(r.Context(), id)
		case queue.StatusInConsultation, queue.StatusCompleted:
			assignments, err = svc.Advance(r.Context(), id, status)
		default:
			writeError(w, http.StatusBadRequest, "invalid_status", "status must be In Consultation, Completed or Cancelled")
			return
		}
		if err != nil {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, StatusResponse{
			AppointmentID: id,
			Status:        string(status),
			Queue:         assignmentSlots(assignments),
		})
	}
}

func queueHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(r.URL.Query().Get("doctor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		appts, err := svc.Queue(r.Context(), doctorID, r.URL.Query().Get("date"))
		if err != nil {
			handleQueueError(w, err)
			return
		}

		slots := make([]QueueSlotResponse, 0, len(appts))
		for _, a := range appts {
			slots = append(slots, QueueSlotResponse{
				AppointmentID:       a.ID,
				PatientID:           a.PatientID,
				PatientName:         a.PatientName,
				Position:            a.QueuePosition,
				PatientsBefore:      a.PatientsBefore,
				PatientsAfter:       a.PatientsAfter,
				WaitingTime:         a.WaitingTime,
				DelayMinutes:        a.DelayMinutes,
				ConsultationMinutes: a.ConsultationMinutes,
				ArrivedAt:           a.ArrivedAt,
			})
		}

		writeJSON(w, http.StatusOK, slots)
	}
}

func trackersHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trackers, err := svc.Trackers(r.Context(), r.URL.Query().Get("date"))
		if err != nil {
			handleQueueError(w, err)
			return
		}

		resp := make([]TrackerResponse, 0, len(trackers))
		for _, t := range trackers {
			resp = append(resp, trackerResponse(t))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func setDelayHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_tracker_id")
		if !ok {
			return
		}

		var req SetDelayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := svc.SetDelay(r.Context(), id, req.DelayMinutes); err != nil {
			handleQueueError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func updateTrackerStatusHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_tracker_id")
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		var err error
		switch queue.DoctorStatus(req.Status) {
		case queue.DoctorArrived:
			err = svc.MarkArrived(r.Context(), id)
		case queue.DoctorDelayed:
			err = svc.MarkDelayed(r.Context(), id)
		case queue.DoctorNotAvailable:
			err = svc.MarkNotAvailable(r.Context(), id)
		default:
			writeError(w, http.StatusBadRequest, "invalid_status", "status must be Arrived, Delayed or Not Available")
			return
		}
		if err != nil {
			handleQueueError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func notificationsHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notifs, err := svc.UnreadNotifications(r.Context())
		if err != nil {
			handleQueueError(w, err)
			return
		}

		resp := make([]NotificationResponse, 0, len(notifs))
		for _, n := range notifs {
			resp = append(resp, NotificationResponse{
				ID:         n.ID,
				Type:       n.Type,
				DoctorID:   n.DoctorID,
				DoctorName: n.DoctorName,
				TrackerID:  n.TrackerID,
				Message:    n.Message,
				CreatedAt:  n.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func markNotificationReadHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "invalid_notification_id")
		if !ok {
			return
		}

		if err := svc.MarkNotificationRead(r.Context(), id); err != nil {
			handleQueueError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func markAllNotificationsReadHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.MarkAllNotificationsRead(r.Context()); err != nil {
			handleQueueError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func parseID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func assignmentSlots(assignments []queue.QueueAssignment) []QueueSlotResponse {
	slots := make([]QueueSlotResponse, 0, len(assignments))
	for _, a := range assignments {
		slots = append(slots, QueueSlotResponse{
			AppointmentID:       a.AppointmentID,
			Position:            a.Position,
			PatientsBefore:      a.PatientsBefore,
			PatientsAfter:       a.PatientsAfter,
			WaitingTime:         a.WaitingTime,
			DelayMinutes:        a.DelayMinutes,
			ConsultationMinutes: a.ConsultationMinutes,
		})
	}
	return slots
}

func trackerResponse(t queue.DelayTracker) TrackerResponse {
	return TrackerResponse{
		ID:                 t.ID,
		DoctorID:           t.DoctorID,
		DoctorName:         t.DoctorName,
		Date:               t.Date,
		Status:             string(t.Status),
		DelayMinutes:       t.DelayMinutes,
		Active:             t.Active,
		ArrivalConfirmedAt: t.ArrivalConfirmedAt,
		ArrivedAt:          t.ArrivedAt,
		LastNotifiedAt:     t.LastNotifiedAt,
		WaitingPatients:    t.WaitingPatients,
	}
}

func handleQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, queue.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, queue.ErrTrackerNotFound):
		writeError(w, http.StatusNotFound, "tracker_not_found", err.Error())
	case errors.Is(err, queue.ErrNotificationNotFound):
		writeError(w, http.StatusNotFound, "notification_not_found", err.Error())
	case errors.Is(err, queue.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, queue.ErrConcurrentUpdate),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "queue_busy", "queue is being updated, please retry shortly")
	case errors.Is(err, queue.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
