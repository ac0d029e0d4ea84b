package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/aflahtk001/hospital-booking-system/internal/queue"
	"github.com/aflahtk001/hospital-booking-system/internal/ws"
	"github.com/aflahtk001/hospital-booking-system/pkg/logging"
)

type RouterConfig struct {
	Service   *queue.Service
	Hub       *ws.Hub
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Logger    *logging.Logger
	JWTSecret string
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	// Live queue updates; subscribers re-fetch state on every event
	r.Get("/ws/queue", cfg.Hub.HandleQueueSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(cfg.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(RoleDoctor))
			r.Put("/doctor/appointments/{id}/decision", decisionHandler(cfg.Service))
			r.Put("/doctor/queue/next", callNextHandler(cfg.Service))
			r.Put("/doctor/queue/skip", skipHandler(cfg.Service))
			r.Post("/doctor/queue/emergency", emergencyHandler(cfg.Service))
			r.Get("/doctor/queue", doctorQueueHandler(cfg.Service))
		})

		r.Get("/patients/{id}/queue", patientQueueHandler(cfg.Service))
	})

	return r
}
