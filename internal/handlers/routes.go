package handlers

import (
	"net/http"

	"github.com/ukydev/urban-services/internal/middleware"
	"github.com/ukydev/urban-services/internal/models"
)

// Routes holds everything the HTTP surface is built from.
type Routes struct {
	Auth     *AuthHandler
	Bookings *BookingHandler
	Partners *PartnerHandler
	Socket   http.Handler
	Metrics  http.Handler
}

// Register mounts the API on mux. Authentication is applied by the caller
// around the whole mux; role checks are applied per route here.
func (rt Routes) Register(mux *http.ServeMux) {
	allow := func(action string, h http.HandlerFunc) http.Handler {
		return middleware.RequirePermission(action)(h)
	}
	partnerOnly := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireRole(models.RolePartner)(h)
	}
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireRole(models.RoleOperator)(h)
	}

	mux.HandleFunc("POST /api/auth/register", rt.Auth.Register)
	mux.HandleFunc("POST /api/auth/login", rt.Auth.Login)
	mux.HandleFunc("GET /api/auth/me", rt.Auth.GetProfile)

	mux.Handle("POST /api/bookings", allow(models.PermCreateBooking, rt.Bookings.Create))
	mux.Handle("GET /api/bookings", allow(models.PermViewAllBookings, rt.Bookings.List))
	mux.Handle("GET /api/bookings/mine", allow(models.PermViewOwnBookings, rt.Bookings.List))
	mux.Handle("GET /api/bookings/available", allow(models.PermViewAvailable, rt.Bookings.Available))
	mux.HandleFunc("GET /api/bookings/{id}", rt.Bookings.Get)
	mux.Handle("PUT /api/bookings/{id}/status", allow(models.PermUpdateStatus, rt.Bookings.UpdateStatus))
	mux.Handle("PUT /api/bookings/{id}/assign-partner", adminOnly(rt.Bookings.AssignPartner))
	mux.Handle("PUT /api/bookings/{id}/location", partnerOnly(rt.Bookings.UpdateLocation))
	mux.Handle("POST /api/bookings/{id}/images", partnerOnly(rt.Bookings.AddImages))

	mux.Handle("GET /api/partners/me", partnerOnly(rt.Partners.Me))
	mux.Handle("PUT /api/partners/me/availability", partnerOnly(rt.Partners.SetAvailability))

	if rt.Socket != nil {
		mux.Handle("GET /ws", rt.Socket)
	}
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
