package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/urban-services/internal/booking"
	"github.com/ukydev/urban-services/internal/middleware"
	"github.com/ukydev/urban-services/internal/models"
	"github.com/ukydev/urban-services/internal/partners"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxBodyBytes = 1 << 20

// PartnerResolver maps a user id to its partner profile.
type PartnerResolver interface {
	Resolve(ctx context.Context, userID string) (*models.Partner, error)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps domain errors onto HTTP status codes. Unknown
// errors are logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, partners.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrInvalidArgument), booking.IsInvalidTransition(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, booking.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.WithError(err).Error("Request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// readJSON decodes the request body into v, writing a 400 on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

// actorFor builds the booking actor for the authenticated user. Partner
// tokens without a partner id claim are resolved through the directory.
func actorFor(ctx context.Context, resolver PartnerResolver, claims *models.Claims) (booking.Actor, error) {
	actor := booking.Actor{UserID: claims.UserID, Role: claims.Role}
	if claims.Role != models.RolePartner {
		return actor, nil
	}
	if claims.PartnerID != "" {
		if id, err := primitive.ObjectIDFromHex(claims.PartnerID); err == nil {
			actor.PartnerID = &id
			return actor, nil
		}
	}
	partner, err := resolver.Resolve(ctx, claims.UserID)
	if errors.Is(err, partners.ErrNotFound) {
		return actor, nil
	}
	if err != nil {
		return actor, err
	}
	actor.PartnerID = &partner.ID
	return actor, nil
}

func claimsOrUnauthorized(w http.ResponseWriter, r *http.Request) (*models.Claims, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found")
	}
	return claims, ok
}
