package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clinicdesk/walkin-queue/internal/queue"
)

// QueueService is the surface of queue.Service the handlers use.
type QueueService interface {
	CheckIn(ctx context.Context, appointmentID uuid.UUID) ([]queue.QueueAssignment, error)
	Advance(ctx context.Context, appointmentID uuid.UUID, newStatus queue.AppointmentStatus) ([]queue.QueueAssignment, error)
	Cancel(ctx context.Context, appointmentID uuid.UUID) ([]queue.QueueAssignment, error)
	Queue(ctx context.Context, doctorID uuid.UUID, date string) ([]queue.Appointment, error)
	Trackers(ctx context.Context, date string) ([]queue.DelayTracker, error)
	SetDelay(ctx context.Context, trackerID uuid.UUID, minutes int) error
	MarkArrived(ctx context.Context, trackerID uuid.UUID) error
	MarkDelayed(ctx context.Context, trackerID uuid.UUID) error
	MarkNotAvailable(ctx context.Context, trackerID uuid.UUID) error
	UnreadNotifications(ctx context.Context) ([]queue.Notification, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID) error
	MarkAllNotificationsRead(ctx context.Context) error
}

type RouterConfig struct {
	Service QueueService
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/appointments/{id}/check-in", checkInHandler(cfg.Service))
	r.Post("/appointments/{id}/status", updateAppointmentStatusHandler(cfg.Service))
	r.Get("/queue", queueHandler(cfg.Service))

	r.Get("/trackers", trackersHandler(cfg.Service))
	r.Post("/trackers/{id}/delay", setDelayHandler(cfg.Service))
	r.Post("/trackers/{id}/status", updateTrackerStatusHandler(cfg.Service))

	r.Get("/notifications", notificationsHandler(cfg.Service))
	r.Post("/notifications/{id}/read", markNotificationReadHandler(cfg.Service))
	r.Post("/notifications/read-all", markAllNotificationsReadHandler(cfg.Service))

	return r
}
