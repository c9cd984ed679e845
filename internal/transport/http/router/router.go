// Package router assembles the HTTP surface: REST endpoints under /api/v1,
// the realtime gateway at /ws, health and metrics.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vedran77/pulsedm/internal/config"
	"github.com/vedran77/pulsedm/internal/metrics"
	"github.com/vedran77/pulsedm/internal/service"
	"github.com/vedran77/pulsedm/internal/transport/http/handlers"
	"github.com/vedran77/pulsedm/internal/transport/http/middleware"
)

type Deps struct {
	DM      *service.DMService
	Auth    middleware.Authenticator
	Gateway http.Handler
}

func New(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	if deps.Gateway != nil {
		r.Handle("/ws", deps.Gateway)
	}

	convHandler := handlers.NewConversationHandler(deps.DM)
	msgHandler := handlers.NewMessageHandler(deps.DM)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Auth))
		if !cfg.RateLimit.Disabled {
			r.Use(rateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window))
		}

		r.Get("/conversations", convHandler.List)
		r.Get("/conversations/{peerUserId}", convHandler.History)

		r.Post("/messages/send", msgHandler.Send)
		r.Put("/messages/mark-read/{peerUserId}", msgHandler.MarkRead)
		r.Get("/messages/unread-count", msgHandler.UnreadCount)
		r.Patch("/messages/{messageId}", msgHandler.Edit)
		r.Delete("/messages/{messageId}", msgHandler.Delete)
	})

	return r
}

// rateLimiter limits each authenticated user, falling back to the client IP.
func rateLimiter(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id := middleware.GetUserID(r.Context()); id != uuid.Nil {
				return "user:" + id.String(), nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			metrics.HTTPRateLimited.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"message":"Too many requests","error":{"code":"RATE_LIMITED"}}`))
		}),
	)
}
