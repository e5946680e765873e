package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Pairing
		r.Post("/discovery", s.handleDiscover)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleAddDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Delete("/", s.handleRemoveDevice)
				r.Post("/refresh", s.handleRefreshDevice)
				r.Post("/repair", s.handleRepairDevice)
				r.Post("/reboot", s.handleReboot)
				r.Put("/exclusive", s.handleSetExclusive)

				r.Get("/settings", s.handleGetSettings)
				r.Patch("/settings", s.handleUpdateSettings)

				r.Route("/zones", func(r chi.Router) {
					r.Put("/", s.handleSetZones)
					r.Post("/off", s.handleAllZonesOff)
					r.Put("/{zone}", s.handleSetZoneState)
					r.Put("/{zone}/name", s.handleSetZoneName)
				})
			})
		})
	})

	return r
}

// handleHealth returns the bridge health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.bridge.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          health.Status,
		"reason":          health.Reason,
		"version":         s.version,
		"devices_managed": health.DevicesManaged,
		"devices_failing": health.DevicesFailing,
		"statistics":      health.Statistics,
	})
}
