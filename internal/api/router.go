package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/eufy-bridge/internal/auth"
	"github.com/nerrad567/eufy-bridge/internal/bridge"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Post("/auth/token", s.handleToken)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermDeviceRead)).Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/devices", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleListDevices)
				r.Route("/{serial}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleGetDevice)
					r.With(s.requirePermission(auth.PermDeviceCommand)).Post("/commands", s.handleCommand)
				})
			})

			r.With(s.requirePermission(auth.PermBridgeRefresh)).Post("/refresh", s.handleRefresh)
		})
	})

	return r
}

// handleHealth returns the bridge health report. Starting and stopping
// bridges answer 503 so load balancers hold traffic.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	report := s.bridge.Health()

	status := http.StatusOK
	if report.Status == bridge.HealthStarting || report.Status == bridge.HealthStopping {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
