package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/urban-services/internal/models"
)

// PartnerDirectory is the partner self-service surface.
type PartnerDirectory interface {
	PartnerResolver
	SetAvailability(ctx context.Context, userID string, available bool) (*models.Partner, error)
}

// PartnerHandler serves /api/partners/me.
type PartnerHandler struct {
	directory PartnerDirectory
	log       logrus.FieldLogger
}

// NewPartnerHandler creates a partner handler.
func NewPartnerHandler(directory PartnerDirectory, log logrus.FieldLogger) *PartnerHandler {
	return &PartnerHandler{directory: directory, log: log}
}

// Me returns the caller's partner profile.
func (h *PartnerHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}
	partner, err := h.directory.Resolve(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, partner)
}

// SetAvailability toggles whether the caller is taking jobs.
func (h *PartnerHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req models.AvailabilityRequest
	if !readJSON(w, r, &req) {
		return
	}
	partner, err := h.directory.SetAvailability(r.Context(), claims.UserID, req.Available)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	h.log.WithFields(logrus.Fields{"partner_id": partner.ID.Hex(), "available": req.Available}).Info("Partner availability changed")
	writeJSON(w, http.StatusOK, partner)
}
