package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PartnerStatus is the admin-facing account state of a partner.
type PartnerStatus string

const (
	PartnerActive    PartnerStatus = "active"
	PartnerInactive  PartnerStatus = "inactive"
	PartnerSuspended PartnerStatus = "suspended"
	PartnerPending   PartnerStatus = "pending"
)

// Partner is a service provider profile owned by exactly one user.
// Rating and the booking counters are derived data.
type Partner struct {
	ID                primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	UserID            primitive.ObjectID   `bson:"user" json:"user_id"`
	BusinessName      string               `bson:"business_name" json:"business_name"`
	Phone             string               `bson:"phone" json:"phone"`
	Categories        []primitive.ObjectID `bson:"categories" json:"categories"`
	Verified          bool                 `bson:"verified" json:"verified"`
	Available         bool                 `bson:"available" json:"available"`
	Status            PartnerStatus        `bson:"status" json:"status"`
	Rating            float64              `bson:"rating" json:"rating"`
	ReviewCount       int                  `bson:"review_count" json:"review_count"`
	TotalBookings     int                  `bson:"total_bookings" json:"total_bookings"`
	CompletedBookings int                  `bson:"completed_bookings" json:"completed_bookings"`
	CreatedAt         time.Time            `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time            `bson:"updated_at" json:"updated_at"`
}

// Serves reports whether the partner lists categoryID. A partner with no
// categories is treated as serving every category.
func (p *Partner) Serves(categoryID primitive.ObjectID) bool {
	if len(p.Categories) == 0 {
		return true
	}
	for _, c := range p.Categories {
		if c == categoryID {
			return true
		}
	}
	return false
}

// Summary returns the display subset embedded in booking payloads.
func (p *Partner) Summary() *PartnerSummary {
	return &PartnerSummary{
		ID:           p.ID,
		BusinessName: p.BusinessName,
		Phone:        p.Phone,
		Rating:       p.Rating,
	}
}

// AvailabilityRequest toggles the partner's availability flag.
type AvailabilityRequest struct {
	Available bool `json:"available"`
}
