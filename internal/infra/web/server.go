package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"storyboard-ai-generation/internal/domain/ports/repository"
	"storyboard-ai-generation/internal/infra/logging"
	"storyboard-ai-generation/internal/usecase"
)

// Server exposes the orchestration API: job submission and lifecycle,
// backend registration, and the operator queue view.
type Server struct {
	genUC    usecase.GenerationUseCase
	registry repository.BackendRegistry
	auth     *AuthManager
	secret   string
	log      *zerolog.Logger
}

func NewServer(genUC usecase.GenerationUseCase, registry repository.BackendRegistry, secret string, dev bool, logger *zerolog.Logger) *Server {
	return &Server{
		genUC:    genUC,
		registry: registry,
		auth:     NewAuthManager(secret, !dev, "", 30*time.Minute),
		secret:   secret,
		log:      logger,
	}
}

// Router builds the chi mux. /health and /metrics stay unauthenticated;
// everything under /api/v1 requires a session token.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(traceContext)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/v1/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/api/v1/auth/logout", s.handleLogout)

		r.Post("/api/v1/jobs", s.handleSubmitJob)
		r.Get("/api/v1/jobs", s.handleListJobs)
		r.Get("/api/v1/jobs/{id}", s.handleGetJob)
		r.Post("/api/v1/jobs/{id}/cancel", s.handleCancelJob)
		r.Post("/api/v1/jobs/{id}/retry", s.handleRetryJob)

		r.Post("/api/v1/backends", s.handleRegisterBackend)
		r.Get("/api/v1/backends", s.handleListBackends)
		r.Delete("/api/v1/backends/{id}", s.handleDeregisterBackend)
		r.Post("/api/v1/backends/{id}/health", s.handleCheckHealth)
		r.Get("/api/v1/backends/{id}/next", s.handleNextJob)

		r.Get("/api/v1/queue", s.handleQueueSnapshot)
	})
	return r
}

// traceContext carries the chi request id as the trace id so downstream
// logs correlate with the request.
func traceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			r = r.WithContext(logging.WithTraceID(r.Context(), reqID))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret == "" {
			s.log.Error().Msg("API auth secret is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
