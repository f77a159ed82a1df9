// Package partners resolves authenticated users to service partner profiles.
package partners

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/urban-services/internal/db"
	"github.com/ukydev/urban-services/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned when no partner profile is bound to the user.
var ErrNotFound = errors.New("partner not found")

// Directory looks up partners, falling back to users that share the same
// phone number when the direct user link is missing. Duplicate user records
// per phone are a known data condition, so resolution may cost one query per
// duplicate.
type Directory struct {
	users    db.UserCollection
	partners db.PartnerCollection
	log      logrus.FieldLogger
}

// NewDirectory creates a partner directory.
func NewDirectory(users db.UserCollection, partners db.PartnerCollection, log logrus.FieldLogger) *Directory {
	return &Directory{users: users, partners: partners, log: log}
}

// Resolve returns the partner bound to userID. Among duplicate users the
// oldest account with a partner wins.
func (d *Directory) Resolve(ctx context.Context, userID string) (*models.Partner, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed user id %q", ErrNotFound, userID)
	}

	partner, err := d.partners.FindPartnerByUserID(ctx, oid)
	if err == nil {
		return partner, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("lookup partner by user: %w", err)
	}

	user, err := d.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.Phone == "" {
		return nil, ErrNotFound
	}

	candidates, err := d.users.FindUsersByPhone(ctx, user.Phone)
	if err != nil {
		return nil, fmt.Errorf("find users by phone: %w", err)
	}
	for _, candidate := range candidates {
		if candidate.ID == oid {
			continue
		}
		partner, err := d.partners.FindPartnerByUserID(ctx, candidate.ID)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup partner by duplicate user: %w", err)
		}
		d.log.WithFields(logrus.Fields{
			"user_id":      userID,
			"linked_user":  candidate.ID.Hex(),
			"partner_id":   partner.ID.Hex(),
			"phone_suffix": phoneSuffix(user.Phone),
		}).Warn("Resolved partner through duplicate user sharing phone number")
		return partner, nil
	}
	return nil, ErrNotFound
}

// Get returns a partner by its own id.
func (d *Directory) Get(ctx context.Context, partnerID primitive.ObjectID) (*models.Partner, error) {
	partner, err := d.partners.FindPartnerByID(ctx, partnerID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	return partner, err
}

// SetAvailability resolves userID and toggles the partner's availability.
func (d *Directory) SetAvailability(ctx context.Context, userID string, available bool) (*models.Partner, error) {
	partner, err := d.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := d.partners.SetAvailability(ctx, partner.ID, available); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	partner.Available = available
	return partner, nil
}

func phoneSuffix(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return phone[len(phone)-4:]
}
