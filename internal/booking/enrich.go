package booking

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/urban-services/internal/db"
	"github.com/ukydev/urban-services/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// enricher resolves booking references for one call, caching lookups so a
// snapshot of many bookings touches each customer, partner or catalog entry once.
type enricher struct {
	users    db.UserCollection
	partners db.PartnerCollection
	catalog  db.CatalogCollection
	log      logrus.FieldLogger

	customers  map[primitive.ObjectID]*models.CustomerSummary
	partnerMap map[primitive.ObjectID]*models.PartnerSummary
	categories map[primitive.ObjectID]*models.Category
	services   map[primitive.ObjectID]*models.Service
}

func (s *Service) newEnricher() *enricher {
	return &enricher{
		users:      s.users,
		partners:   s.partners,
		catalog:    s.catalog,
		log:        s.log,
		customers:  make(map[primitive.ObjectID]*models.CustomerSummary),
		partnerMap: make(map[primitive.ObjectID]*models.PartnerSummary),
		categories: make(map[primitive.ObjectID]*models.Category),
		services:   make(map[primitive.ObjectID]*models.Service),
	}
}

// details never fails: a reference that cannot be resolved is left nil.
func (e *enricher) details(ctx context.Context, b models.Booking) models.BookingDetails {
	d := models.BookingDetails{Booking: b}
	d.Customer = e.customer(ctx, b.CustomerID)
	if b.IsAssigned() {
		d.Partner = e.partner(ctx, *b.PartnerID)
	}
	d.Category = e.category(ctx, b.CategoryID)
	d.Service = e.service(ctx, b.ServiceID)
	return d
}

func (e *enricher) list(ctx context.Context, bookings []models.Booking) []models.BookingDetails {
	out := make([]models.BookingDetails, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, e.details(ctx, b))
	}
	return out
}

func (e *enricher) customer(ctx context.Context, id primitive.ObjectID) *models.CustomerSummary {
	if c, ok := e.customers[id]; ok {
		return c
	}
	var summary *models.CustomerSummary
	user, err := e.users.FindUserByID(ctx, id.Hex())
	if err == nil {
		summary = &models.CustomerSummary{ID: user.ID, Name: user.Name, Phone: user.Phone, Email: user.Email}
	} else {
		e.lookupFailed("customer", id, err)
	}
	e.customers[id] = summary
	return summary
}

func (e *enricher) partner(ctx context.Context, id primitive.ObjectID) *models.PartnerSummary {
	if p, ok := e.partnerMap[id]; ok {
		return p
	}
	var summary *models.PartnerSummary
	partner, err := e.partners.FindPartnerByID(ctx, id)
	if err == nil {
		summary = partner.Summary()
	} else {
		e.lookupFailed("partner", id, err)
	}
	e.partnerMap[id] = summary
	return summary
}

func (e *enricher) category(ctx context.Context, id primitive.ObjectID) *models.Category {
	if c, ok := e.categories[id]; ok {
		return c
	}
	category, err := e.catalog.FindCategoryByID(ctx, id)
	if err != nil {
		e.lookupFailed("category", id, err)
		category = nil
	}
	e.categories[id] = category
	return category
}

func (e *enricher) service(ctx context.Context, id primitive.ObjectID) *models.Service {
	if s, ok := e.services[id]; ok {
		return s
	}
	service, err := e.catalog.FindServiceByID(ctx, id)
	if err != nil {
		e.lookupFailed("service", id, err)
		service = nil
	}
	e.services[id] = service
	return service
}

func (e *enricher) lookupFailed(kind string, id primitive.ObjectID, err error) {
	if errors.Is(err, db.ErrNotFound) {
		return
	}
	e.log.WithError(err).WithFields(logrus.Fields{
		"reference": kind,
		"id":        id.Hex(),
	}).Warn("Failed to resolve booking reference")
}
