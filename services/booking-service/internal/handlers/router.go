package handlers

import (
	"net/http"

	"github.com/findmyvet/vetbook/libs/httpx"
	"github.com/findmyvet/vetbook/libs/runtime"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	Appointments *AppointmentHandler
	Availability *AvailabilityHandler
	// Authenticate guards every route that acts for a user.
	Authenticate httpx.Middleware
	// Idempotency wraps appointment creation. Nil disables replay.
	Idempotency httpx.Middleware
	Ready       []runtime.ReadyCheck
}

// NewRouter mounts the public API under /api/v1 next to /healthz and /readyz.
func NewRouter(cfg RouterConfig) http.Handler {
	r := runtime.NewBaseRouter(cfg.Ready...)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/appointments", func(r chi.Router) {
			r.Get("/code/{code}", cfg.Appointments.GetByCode)

			r.Group(func(r chi.Router) {
				r.Use(cfg.Authenticate)
				create := []func(http.Handler) http.Handler{}
				if cfg.Idempotency != nil {
					create = append(create, cfg.Idempotency)
				}
				r.With(create...).Post("/", cfg.Appointments.Create)
				r.Get("/", cfg.Appointments.List)
				r.Get("/{id}", cfg.Appointments.Get)
				r.Get("/{id}/calendar.ics", cfg.Appointments.Calendar)
				r.Patch("/{id}/reschedule", cfg.Appointments.Reschedule)
				r.Post("/{id}/cancel", cfg.Appointments.Cancel)
			})
		})

		r.Route("/availability", func(r chi.Router) {
			r.Post("/slots", cfg.Availability.Slots)
			r.Get("/next", cfg.Availability.Next)
			r.Get("/check/{slotID}", cfg.Availability.Check)
		})
	})
	return r
}
