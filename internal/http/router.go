// Package httpapi assembles the HTTP surface: public health and metrics
// endpoints plus the authenticated access, consent and admin routes.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	accessHandler "phiguard/internal/access/handler"
	"phiguard/internal/admin"
	consentHandler "phiguard/internal/consent/handler"
	"phiguard/internal/platform/metrics"
	"phiguard/internal/platform/middleware"
	"phiguard/pkg/platform/httputil"
)

const (
	RoleAuditor = "auditor"
	RoleAdmin   = "admin"

	healthTimeout = 2 * time.Second
)

// HealthCheck pings one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the handlers and infrastructure the router mounts.
type Deps struct {
	Logger    *slog.Logger
	Validator middleware.TokenValidator
	Registry  *prometheus.Registry
	Access    *accessHandler.Handler
	Consent   *consentHandler.Handler
	Admin     *admin.Handler
	Health    []HealthCheck
}

// NewRouter wires every endpoint and wraps the result for tracing.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.Logger(d.Logger))

	r.Get("/healthz", healthHandler(d.Health))
	if d.Registry != nil {
		r.Handle("/metrics", metrics.Handler(d.Registry))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRequester(d.Validator, d.Logger))
		d.Access.Register(r)
		d.Consent.Register(r)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(d.Logger, RoleAuditor, RoleAdmin))
			d.Admin.RegisterAuditRead(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(d.Logger, RoleAdmin))
			d.Admin.RegisterMaintenance(r)
		})
	})

	return otelhttp.NewHandler(r, "phiguard",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		result := map[string]string{}
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				result[c.Name] = "unavailable"
				continue
			}
			result[c.Name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status": http.StatusText(status),
			"checks": result,
		})
	}
}
