package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dkarpov/studenthub/internal/server/metrics"
	"github.com/dkarpov/studenthub/internal/server/models"
)

type ctxKey string

const identityKey ctxKey = "identity"

// identityFromContext returns the authenticated caller placed in the request
// context by the protect middleware.
func identityFromContext(ctx context.Context) (*models.Projection, bool) {
	ident, ok := ctx.Value(identityKey).(*models.Projection)
	return ident, ok
}

// protect resolves the Authorization header through the gate and stores the
// caller's projection in the request context. Requests without a resolvable
// session token are rejected.
func (h *handler) protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, err := h.gate.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize enforces role membership for routes nested under protect.
func (h *handler) authorize(allowedRoles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, _ := identityFromContext(r.Context())
			if err := h.gate.RequireRole(ident, allowedRoles...); err != nil {
				h.writeError(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// metricsMiddleware records a counter and latency sample per finished
// request, labelled by the matched chi route pattern rather than the raw
// path so token-bearing URLs do not explode cardinality.
func metricsMiddleware(collector *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			collector.RecordRequest(route, rec.status, time.Since(start))
		})
	}
}
