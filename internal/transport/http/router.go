package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter wires all endpoints. Everything except the health probe sits
// behind authentication; authorization proper happens in the workflow facade
// so it gets audited.
func NewRouter(h *Handler, validator ActorValidator, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestTime)

	r.Get("/healthz", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(validator, logger))

		r.Post("/citizens", h.handleRegister)
		r.Get("/citizens/{id}", h.handleGetCitizen)
		for _, route := range transitionRoutes {
			r.Post(route.Pattern, h.handleTransition(route.Capability))
		}

		r.Get("/audit", h.handleAuditTrail)
		r.Post("/identity/verify", h.handleIdentityVerify)
	})

	return r
}
