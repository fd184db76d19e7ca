/**
 * @description
 * This file sets up the HTTP router for the donation-service. It defines the API
 * endpoints under /donations, associates them with their handlers, and applies the
 * middleware for CORS, authentication, logging and panic recovery.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the browser client.
 * - github.com/prometheus/client_golang: the /metrics endpoint.
 */

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions carries the deployment-specific router settings.
type RouterOptions struct {
	AllowedOrigins []string
	// TrustProxyHeaders rewrites RemoteAddr from X-Forwarded-For / X-Real-IP. Enable it
	// only behind a proxy that overwrites those headers, otherwise clients pick their own
	// rate limit key.
	TrustProxyHeaders bool
}

// DonationRoutes creates and returns the router for the donation service.
func DonationRoutes(h *DonationHandlers, auth *Authenticator, opts RouterOptions, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/donations", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))

		r.Get("/health", h.HealthHandler)

		r.With(auth.OptionalDonor).Post("/intent", h.CreateIntentHandler)

		// The provider calls these; authenticity comes from the payload signature.
		r.Post("/webhook", h.WebhookHandler)
		r.Post("/stripe/webhook", h.WebhookHandler)

		r.Get("/projects", h.ListProjectsHandler)
		r.Get("/projects/{slug}", h.GetProjectHandler)

		r.With(auth.RequireDonor).Get("/history", h.HistoryHandler)
	})

	return r
}
