// Package httpapi exposes the identity core over a JSON HTTP API.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkarpov/studenthub/internal/logging"
	"github.com/dkarpov/studenthub/internal/server/authz"
	"github.com/dkarpov/studenthub/internal/server/identity"
	"github.com/dkarpov/studenthub/internal/server/metrics"
	"github.com/dkarpov/studenthub/internal/server/models"
)

type Server struct {
	address string
	logger  logging.Logger
	router  http.Handler
}

func NewServer(address string, l logging.Logger, identities *identity.Service, gate *authz.Gate, reg *prometheus.Registry) *Server {
	logger := l.With("module", "http_server")

	h := &handler{
		identities: identities,
		gate:       gate,
		logger:     logger,
	}

	collector := metrics.NewCollector(reg)

	r := chi.NewRouter()
	r.Use(metricsMiddleware(collector))
	r.Handle("/metrics", metrics.Handler(reg))

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Get("/verify-email/{token}", h.verifyEmail)
		r.Post("/forgot-password", h.forgotPassword)
		r.Post("/reset-password/{token}", h.resetPassword)
		r.Post("/resend-verification", h.resendVerification)

		r.Group(func(r chi.Router) {
			r.Use(h.protect)
			r.Get("/me", h.me)
			r.Post("/logout", h.logout)
			r.Post("/change-password", h.changePassword)
		})
	})

	r.Route("/api/users", func(r chi.Router) {
		r.Use(h.protect)
		r.With(h.authorize(models.RoleAdmin)).Get("/", h.listUsers)
		r.Get("/{id}", h.getUser)
		r.Put("/{id}", h.updateUser)
	})

	return &Server{address: address, logger: logger, router: r}
}

// Handler returns the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.address,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "shutdown error", "error", err.Error())
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
