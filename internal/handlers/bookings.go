package handlers

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/urban-services/internal/booking"
	"github.com/ukydev/urban-services/internal/models"
)

// BookingHandler exposes the booking service over HTTP.
type BookingHandler struct {
	bookings *booking.Service
	resolver PartnerResolver
	log      logrus.FieldLogger
}

// NewBookingHandler creates a booking handler.
func NewBookingHandler(bookings *booking.Service, resolver PartnerResolver, log logrus.FieldLogger) *BookingHandler {
	return &BookingHandler{bookings: bookings, resolver: resolver, log: log}
}

func (h *BookingHandler) actor(w http.ResponseWriter, r *http.Request) (booking.Actor, bool) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return booking.Actor{}, false
	}
	actor, err := actorFor(r.Context(), h.resolver, claims)
	if err != nil {
		writeServiceError(w, h.log, err)
		return booking.Actor{}, false
	}
	return actor, true
}

// Create handles POST /api/bookings.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.CreateBookingRequest
	if !readJSON(w, r, &req) {
		return
	}
	details, err := h.bookings.Create(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, details)
}

// List handles GET /api/bookings and GET /api/bookings/mine. The service
// scopes the result to the caller's role.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	list, err := h.bookings.ListForActor(r.Context(), actor, statusFilter(r))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Available handles GET /api/bookings/available.
func (h *BookingHandler) Available(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	list, err := h.bookings.Available(r.Context(), actor)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Get handles GET /api/bookings/{id}.
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	details, err := h.bookings.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// UpdateStatus handles PUT /api/bookings/{id}/status.
func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.StatusUpdateRequest
	if !readJSON(w, r, &req) {
		return
	}
	details, err := h.bookings.UpdateStatus(r.Context(), actor, r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// AssignPartner handles PUT /api/bookings/{id}/assign-partner.
func (h *BookingHandler) AssignPartner(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.AssignPartnerRequest
	if !readJSON(w, r, &req) {
		return
	}
	details, err := h.bookings.AssignPartner(r.Context(), actor, r.PathValue("id"), req.PartnerID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// UpdateLocation handles PUT /api/bookings/{id}/location.
func (h *BookingHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var coords models.Coordinates
	if !readJSON(w, r, &coords) {
		return
	}
	details, err := h.bookings.UpdateLocation(r.Context(), actor, r.PathValue("id"), coords)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// AddImages handles POST /api/bookings/{id}/images.
func (h *BookingHandler) AddImages(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.AddImagesRequest
	if !readJSON(w, r, &req) {
		return
	}
	details, err := h.bookings.AddImages(r.Context(), actor, r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// statusFilter reads ?status=a,b.
func statusFilter(r *http.Request) []models.BookingStatus {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil
	}
	var out []models.BookingStatus
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, models.BookingStatus(s))
		}
	}
	return out
}
