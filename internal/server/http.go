// Package server assembles the edge gateway's HTTP handler.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"edge-guard/backend/internal/edge"
	healthhandler "edge-guard/backend/internal/health/handler"
	identityhandler "edge-guard/backend/internal/identity/handler"
	"edge-guard/backend/internal/telemetry"
)

// Deps holds the gateway's collaborators. Nil optional fields disable the feature they back.
type Deps struct {
	// Classifier is required; it decides public, probe and rate policy per route.
	Classifier edge.RouteClassifier
	Tokens     edge.TokenParser
	// Revocations may be nil when revocation is disabled.
	Revocations edge.RevocationChecker
	// Limiter may be nil when rate limiting is disabled.
	Limiter edge.Limiter

	Sanitizer edge.SanitizerConfig
	Origin    edge.OriginConfig
	Auth      edge.AuthConfig

	// AuthHandler serves /api/auth. Paths it does not handle go upstream.
	AuthHandler *identityhandler.Handler
	Health      *healthhandler.Handler
	// Upstream receives every request not served by the gateway itself.
	Upstream http.Handler

	Metrics        *edge.Metrics
	MetricsHandler http.Handler
	// Events receives request_rejected events. May be nil.
	Events telemetry.EventEmitter
}

// Pipeline returns the edge chain in its fixed order: classify, sanitize, origin, authenticate, rate limit.
func Pipeline(deps Deps) edge.Chain {
	chain := edge.NewChain(
		edge.Classify(deps.Classifier),
		edge.Sanitize(deps.Sanitizer),
		edge.NewOriginGuard(deps.Origin).Link(),
		edge.NewAuthFilter(deps.Auth, deps.Tokens, deps.Revocations).Link(),
		edge.RateLimit(deps.Limiter != nil, deps.Limiter),
	)
	if deps.Metrics != nil {
		chain = chain.OnDeny(deps.Metrics.Rejected)
	}
	if deps.Events != nil {
		chain = chain.OnDeny(RejectionEvents(deps.Events))
	}
	return chain
}

// NewRouter returns the gateway handler. Every request passes the edge pipeline before routing.
func NewRouter(deps Deps) http.Handler {
	upstream := upstreamOnly(deps.Upstream)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	if len(deps.Origin.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.Origin.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", edge.HeaderDeviceID},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(Pipeline(deps).Then)

	if deps.Health != nil {
		r.Mount("/actuator/health", deps.Health.Routes())
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	if deps.AuthHandler != nil {
		auth := deps.AuthHandler.Routes()
		auth.NotFound(upstream.ServeHTTP)
		auth.MethodNotAllowed(upstream.ServeHTTP)
		r.Mount("/api/auth", auth)
	}
	// chi builds the middleware stack only once a route exists, so the proxy is a route and
	// not a NotFound handler.
	r.Handle("/*", upstream)
	return r
}

// upstreamOnly forwards to next unless the request was classified as a probe. Probe paths are
// served by the gateway alone.
func upstreamOnly(next http.Handler) http.Handler {
	if next == nil {
		return http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if route, ok := edge.RouteFrom(r.Context()); ok && route.Probe {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
