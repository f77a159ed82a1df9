package db

import (
	"context"
	"errors"

	"github.com/ukydev/urban-services/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when no document has the requested id.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned by conditional updates when the document
	// exists but no longer matches the expected state.
	ErrConflict = errors.New("document changed concurrently")
	// ErrDuplicate is returned when an insert collides with a unique key.
	ErrDuplicate = errors.New("duplicate key")
)

// Expectation is the state a conditional booking update requires.
// A nil PartnerID means the booking must still be unassigned.
type Expectation struct {
	Status    models.BookingStatus
	PartnerID *primitive.ObjectID
}

// BookingFilter selects bookings for listing. Zero fields do not filter.
type BookingFilter struct {
	CustomerID  *primitive.ObjectID
	PartnerID   *primitive.ObjectID
	Unassigned  bool
	Statuses    []models.BookingStatus
	CategoryIDs []primitive.ObjectID
	Limit       int64
}

// BookingCollection defines the interface for booking persistence.
type BookingCollection interface {
	InsertBooking(ctx context.Context, booking models.Booking) (*models.Booking, error)
	FindBookingByID(ctx context.Context, id primitive.ObjectID) (*models.Booking, error)
	FindBookings(ctx context.Context, filter BookingFilter) ([]models.Booking, error)
	ApplyStatusChange(ctx context.Context, id primitive.ObjectID, expect Expectation, change models.StatusChange) (*models.Booking, error)
	AssignPartner(ctx context.Context, id, partnerID primitive.ObjectID, entry models.TimelineEntry) (*models.Booking, error)
	UpdatePartnerLocation(ctx context.Context, id, partnerID primitive.ObjectID, statuses []models.BookingStatus, loc models.LiveLocation) (*models.Booking, error)
	AppendImages(ctx context.Context, id, partnerID primitive.ObjectID, kind models.ImageKind, urls []string) (*models.Booking, error)
}

// PartnerCollection defines the interface for partner profile operations.
type PartnerCollection interface {
	InsertPartner(ctx context.Context, partner models.Partner) (*models.Partner, error)
	FindPartnerByID(ctx context.Context, id primitive.ObjectID) (*models.Partner, error)
	FindPartnerByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Partner, error)
	SetAvailability(ctx context.Context, id primitive.ObjectID, available bool) error
}

// CatalogCollection is the read-only category/service lookup.
type CatalogCollection interface {
	FindCategoryByID(ctx context.Context, id primitive.ObjectID) (*models.Category, error)
	FindServiceByID(ctx context.Context, id primitive.ObjectID) (*models.Service, error)
}

// Store groups the collections the booking core depends on.
type Store struct {
	Users    UserCollection
	Partners PartnerCollection
	Bookings BookingCollection
	Catalog  CatalogCollection
}
