package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/walkin-queue/internal/queue"
)

type stubService struct {
	checkIn   func(ctx context.Context, id uuid.UUID) ([]queue.QueueAssignment, error)
	advance   func(ctx context.Context, id uuid.UUID, st queue.AppointmentStatus) ([]queue.QueueAssignment, error)
	cancel    func(ctx context.Context, id uuid.UUID) ([]queue.QueueAssignment, error)
	queueFn   func(ctx context.Context, doctorID uuid.UUID, date string) ([]queue.Appointment, error)
	setDelay  func(ctx context.Context, id uuid.UUID, minutes int) error
	unreadFn  func(ctx context.Context) ([]queue.Notification, error)
	trackerOp func(ctx context.Context, id uuid.UUID) error
}

func (s *stubService) CheckIn(ctx context.Context, id uuid.UUID) ([]queue.QueueAssignment, error) {
	return s.checkIn(ctx, id)
}

func (s *stubService) Advance(ctx context.Context, id uuid.UUID, st queue.AppointmentStatus) ([]queue.QueueAssignment, error) {
	return s.advance(ctx, id, st)
}

func (s *stubService) Cancel(ctx context.Context, id uuid.UUID) ([]queue.QueueAssignment, error) {
	return s.cancel(ctx, id)
}

func (s *stubService) Queue(ctx context.Context, doctorID uuid.UUID, date string) ([]queue.Appointment, error) {
	return s.queueFn(ctx, doctorID, date)
}

func (s *stubService) Trackers(ctx context.Context, date string) ([]queue.DelayTracker, error) {
	return nil, nil
}

func (s *stubService) SetDelay(ctx context.Context, id uuid.UUID, minutes int) error {
	return s.setDelay(ctx, id, minutes)
}

func (s *stubService) MarkArrived(ctx context.Context, id uuid.UUID) error      { return s.trackerOp(ctx, id) }
func (s *stubService) MarkDelayed(ctx context.Context, id uuid.UUID) error      { return s.trackerOp(ctx, id) }
func (s *stubService) MarkNotAvailable(ctx context.Context, id uuid.UUID) error { return s.trackerOp(ctx, id) }

func (s *stubService) UnreadNotifications(ctx context.Context) ([]queue.Notification, error) {
	return s.unreadFn(ctx)
}

func (s *stubService) MarkNotificationRead(ctx context.Context, id uuid.UUID) error { return nil }
func (s *stubService) MarkAllNotificationsRead(ctx context.Context) error           { return nil }

func testRouter(svc QueueService) http.Handler {
	return NewRouter(RouterConfig{Service: svc, Env: "test", Version: "test"})
}

func TestCheckInHandlerReturnsQueue(t *testing.T) {
	apptID := uuid.New()
	svc := &stubService{
		checkIn: func(ctx context.Context, id uuid.UUID) ([]queue.QueueAssignment, error) {
			assert.Equal(t, apptID, id)
			return []queue.QueueAssignment{
				{AppointmentID: id, Position: 1, PatientsAfter: 1, WaitingTime: 10, DelayMinutes: 10, ConsultationMinutes: 15},
				{AppointmentID: uuid.New(), Position: 2, PatientsBefore: 1, WaitingTime: 25, DelayMinutes: 10, ConsultationMinutes: 15},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/appointments/"+apptID.String()+"/check-in", nil)
	rec := httptest.NewRecorder()
	testRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp CheckInResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apptID, resp.AppointmentID)
	assert.Equal(t, "Waiting", resp.Status)
	require.Len(t, resp.Queue, 2)
	assert.Equal(t, 1, resp.Queue[0].Position)
	assert.Equal(t, 25, resp.Queue[1].WaitingTime)
}

func TestCheckInHandlerRejectsBadID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/appointments/not-a-uuid/check-in", nil)
	rec := httptest.NewRecorder()
	testRouter(&stubService{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_appointment_id", resp.Error)
}

func TestUpdateStatusHandlerMapsTransitionConflict(t *testing.T) {
	svc := &stubService{
		advance: func(ctx context.Context, id uuid.UUID, st queue.AppointmentStatus) ([]queue.QueueAssignment, error) {
			return nil, queue.ErrInvalidTransition
		},
	}

	body := strings.NewReader(`{"status":"Completed"}`)
	req := httptest.NewRequest(http.MethodPost, "/appointments/"+uuid.NewString()+"/status", body)
	rec := httptest.NewRecorder()
	testRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_status_transition", resp.Error)
}

func TestUpdateStatusHandlerRoutesCancellation(t *testing.T) {
	cancelled := false
	svc := &stubService{
		cancel: func(ctx context.Context, id uuid.UUID) ([]queue.QueueAssignment, error) {
			cancelled = true
			return nil, nil
		},
	}

	body := strings.NewReader(`{"status":"Cancelled"}`)
	req := httptest.NewRequest(http.MethodPost, "/appointments/"+uuid.NewString()+"/status", body)
	rec := httptest.NewRecorder()
	testRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, cancelled)
}

func TestUpdateStatusHandlerRejectsUnknownStatus(t *testing.T) {
	body := strings.NewReader(`{"status":"Scheduled"}`)
	req := httptest.NewRequest(http.MethodPost, "/appointments/"+uuid.NewString()+"/status", body)
	rec := httptest.NewRecorder()
	testRouter(&stubService{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueHandlerRequiresDoctorID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/queue?date=2025-11-03", nil)
	rec := httptest.NewRecorder()
	testRouter(&stubService{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetDelayHandlerMapsConcurrentUpdate(t *testing.T) {
	svc := &stubService{
		setDelay: func(ctx context.Context, id uuid.UUID, minutes int) error {
			return queue.ErrConcurrentUpdate
		},
	}

	body := strings.NewReader(`{"delay_minutes":30}`)
	req := httptest.NewRequest(http.MethodPost, "/trackers/"+uuid.NewString()+"/delay", body)
	rec := httptest.NewRecorder()
	testRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queue_busy", resp.Error)
}

func TestTrackerStatusHandlerAccepts(t *testing.T) {
	var got uuid.UUID
	svc := &stubService{
		trackerOp: func(ctx context.Context, id uuid.UUID) error {
			got = id
			return nil
		},
	}

	trackerID := uuid.New()
	body := strings.NewReader(`{"status":"Arrived"}`)
	req := httptest.NewRequest(http.MethodPost, "/trackers/"+trackerID.String()+"/status", body)
	rec := httptest.NewRecorder()
	testRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, trackerID, got)
}

func TestNotificationsHandlerListsUnread(t *testing.T) {
	svc := &stubService{
		unreadFn: func(ctx context.Context) ([]queue.Notification, error) {
			return []queue.Notification{
				{ID: uuid.New(), Type: queue.NotificationDoctorDelay, Message: "Dr. Rao is running 30 minutes late"},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/notifications?unread=1", nil)
	rec := httptest.NewRecorder()
	testRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp []NotificationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, queue.NotificationDoctorDelay, resp[0].Type)
}
