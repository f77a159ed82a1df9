// Package booking owns the booking lifecycle: creation, the status state
// machine, partner assignment and the read models partners work from.
package booking

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/urban-services/internal/db"
	"github.com/ukydev/urban-services/internal/events"
	"github.com/ukydev/urban-services/internal/metrics"
	"github.com/ukydev/urban-services/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// ArrivalWindow is added to the departure time to estimate arrival.
	ArrivalWindow = 30 * time.Minute

	maxUpdateAttempts = 5
	maxInsertAttempts = 5
)

// Publisher receives booking events after a mutation is stored.
type Publisher interface {
	Publish(ctx context.Context, event events.Event)
}

// Actor is the authenticated caller of a booking operation. PartnerID is set
// only for partner accounts with a resolved profile.
type Actor struct {
	UserID    string
	Role      models.Role
	PartnerID *primitive.ObjectID
}

// IsAdmin reports whether the actor bypasses ownership checks.
func (a Actor) IsAdmin() bool {
	return models.IsAdminRole(a.Role)
}

func (a Actor) isPartner(id primitive.ObjectID) bool {
	return a.PartnerID != nil && *a.PartnerID == id
}

// Service implements booking operations on top of a Store.
type Service struct {
	bookings  db.BookingCollection
	users     db.UserCollection
	partners  db.PartnerCollection
	catalog   db.CatalogCollection
	publisher Publisher
	log       logrus.FieldLogger
	now       func() time.Time
	number    func(time.Time) string
}

// NewService creates a booking service. publisher may be nil.
func NewService(store *db.Store, publisher Publisher, log logrus.FieldLogger) *Service {
	return &Service{
		bookings:  store.Bookings,
		users:     store.Users,
		partners:  store.Partners,
		catalog:   store.Catalog,
		publisher: publisher,
		log:       log,
		now:       time.Now,
		number:    bookingNumber,
	}
}

// Create stores a new pending, unassigned booking and announces it.
func (s *Service) Create(ctx context.Context, actor Actor, req models.CreateBookingRequest) (*models.BookingDetails, error) {
	customerID, err := s.bookingCustomer(ctx, actor, req.CustomerID)
	if err != nil {
		return nil, err
	}

	categoryID, err := parseID("category_id", req.CategoryID)
	if err != nil {
		return nil, err
	}
	serviceID, err := parseID("service_id", req.ServiceID)
	if err != nil {
		return nil, err
	}
	category, err := s.catalog.FindCategoryByID(ctx, categoryID)
	if err != nil {
		return nil, lookupError(err, "category %s", req.CategoryID)
	}
	service, err := s.catalog.FindServiceByID(ctx, serviceID)
	if err != nil {
		return nil, lookupError(err, "service %s", req.ServiceID)
	}
	if service.CategoryID != category.ID {
		return nil, invalidArgument("service %s does not belong to category %s", req.ServiceID, req.CategoryID)
	}

	if req.ScheduledDate.IsZero() {
		return nil, invalidArgument("scheduled_date is required")
	}
	if strings.TrimSpace(req.ScheduledTime) == "" {
		return nil, invalidArgument("scheduled_time is required")
	}
	address, err := bookingAddress(req)
	if err != nil {
		return nil, err
	}

	pricing := models.Pricing{BasePrice: service.BasePrice, TotalAmount: service.BasePrice}
	if req.Pricing != nil {
		if req.Pricing.BasePrice < 0 || req.Pricing.TotalAmount < 0 {
			return nil, invalidArgument("pricing must not be negative")
		}
		pricing = *req.Pricing
	}
	duration := req.EstimatedDuration
	if duration <= 0 {
		duration = service.Duration
	}

	now := s.now()
	booking := models.Booking{
		CustomerID:        customerID,
		CategoryID:        category.ID,
		ServiceID:         service.ID,
		ScheduledDate:     req.ScheduledDate,
		ScheduledTime:     req.ScheduledTime,
		EstimatedDuration: duration,
		Status:            models.StatusPending,
		Timeline: []models.TimelineEntry{{
			Status:    models.StatusPending,
			Timestamp: now,
			Note:      "Booking created",
			UpdatedBy: actor.UserID,
		}},
		Address:   address,
		Pricing:   pricing,
		Notes:     req.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	stored, err := s.insertNumbered(ctx, booking)
	if err != nil {
		return nil, err
	}

	details := s.newEnricher().details(ctx, *stored)
	s.log.WithFields(logrus.Fields{
		"booking_id":     stored.ID.Hex(),
		"booking_number": stored.BookingNumber,
		"customer_id":    customerID.Hex(),
	}).Info("Booking created")
	s.publish(ctx, events.TypeNewBooking, details)
	return &details, nil
}

// insertNumbered stores booking under a fresh booking number, drawing a new
// one whenever the previous number is already taken.
func (s *Service) insertNumbered(ctx context.Context, booking models.Booking) (*models.Booking, error) {
	var err error
	for attempt := 1; attempt <= maxInsertAttempts; attempt++ {
		booking.BookingNumber = s.number(booking.CreatedAt)
		var stored *models.Booking
		stored, err = s.bookings.InsertBooking(ctx, booking)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, db.ErrDuplicate) {
			return nil, fmt.Errorf("insert booking: %w", err)
		}
		s.log.WithFields(logrus.Fields{
			"booking_number": booking.BookingNumber,
			"attempt":        attempt,
		}).Warn("Booking number taken, drawing another")
	}
	return nil, fmt.Errorf("insert booking: %w", err)
}

// UpdateStatus moves a booking along the state machine on behalf of actor.
// The write is conditional on the state the decision was made from; if the
// booking changed in between, the decision is re-made against fresh state.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, bookingID string, req models.StatusUpdateRequest) (*models.BookingDetails, error) {
	details, from, err := s.updateStatus(ctx, actor, bookingID, req)
	if err != nil {
		metrics.ObserveTransitionFailure(failureReason(err))
		return nil, err
	}
	metrics.ObserveTransition(string(from), string(req.Status))
	s.log.WithFields(logrus.Fields{
		"booking_id": details.ID.Hex(),
		"from":       from,
		"to":         req.Status,
		"actor":      actor.UserID,
		"role":       actor.Role,
	}).Info("Booking status updated")

	s.publish(ctx, events.TypeBookingUpdated, *details)
	if req.Status == models.StatusCancelled {
		s.publish(ctx, events.TypeBookingCancelled, *details)
	}
	return details, nil
}

func (s *Service) updateStatus(ctx context.Context, actor Actor, bookingID string, req models.StatusUpdateRequest) (*models.BookingDetails, models.BookingStatus, error) {
	id, err := parseID("booking id", bookingID)
	if err != nil {
		return nil, "", err
	}
	if !req.Status.IsValid() {
		return nil, "", invalidArgument("unknown status %q", req.Status)
	}
	if req.Coordinates != nil && !req.Coordinates.Valid() {
		return nil, "", invalidArgument("coordinates out of range")
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := s.load(ctx, id)
		if err != nil {
			return nil, "", err
		}
		change, err := s.planTransition(actor, current, req)
		if err != nil {
			return nil, current.Status, err
		}

		expect := db.Expectation{Status: current.Status, PartnerID: current.PartnerID}
		updated, err := s.bookings.ApplyStatusChange(ctx, id, expect, change)
		switch {
		case err == nil:
			details := s.newEnricher().details(ctx, *updated)
			return &details, current.Status, nil
		case errors.Is(err, db.ErrConflict):
			s.log.WithFields(logrus.Fields{
				"booking_id": bookingID,
				"attempt":    attempt + 1,
			}).Debug("Booking changed during status update, re-evaluating")
			continue
		case errors.Is(err, db.ErrNotFound):
			return nil, "", fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
		default:
			return nil, "", fmt.Errorf("apply status change: %w", err)
		}
	}
	return nil, "", fmt.Errorf("%w: booking %s", ErrConflict, bookingID)
}

// planTransition authorizes actor against current, validates the move and
// computes every field the transition writes.
func (s *Service) planTransition(actor Actor, current *models.Booking, req models.StatusUpdateRequest) (models.StatusChange, error) {
	target := req.Status
	change := models.StatusChange{Status: target}

	switch {
	case actor.IsAdmin():
		// Nobody could advance an accepted booking without an assignee.
		if target == models.StatusAccepted && !current.IsAssigned() {
			return change, invalidArgument("booking %s has no partner; assign one before accepting", current.ID.Hex())
		}
	case actor.Role == models.RolePartner && actor.PartnerID != nil:
		claim := target == models.StatusAccepted && current.Status == models.StatusPending && !current.IsAssigned()
		if claim {
			partnerID := *actor.PartnerID
			change.AssignPartner = &partnerID
		} else if !current.AssignedTo(*actor.PartnerID) {
			return change, fmt.Errorf("%w: booking %s is not assigned to this partner", ErrNotAuthorized, current.ID.Hex())
		}
	default:
		return change, fmt.Errorf("%w: role %s cannot change booking status", ErrNotAuthorized, actor.Role)
	}

	if !CanTransition(current.Status, target) {
		return change, &InvalidTransitionError{From: current.Status, To: target}
	}

	now := s.now()
	change.At = now
	switch target {
	case models.StatusOnTheWay:
		if req.Coordinates != nil {
			change.PartnerLocation = &models.LiveLocation{
				Lat:         req.Coordinates.Lat,
				Lng:         req.Coordinates.Lng,
				LastUpdated: now,
			}
		}
		eta := now.Add(ArrivalWindow)
		change.EstimatedArrival = &eta
	case models.StatusInProgress:
		change.ActualArrival = &now
		change.ServiceStartTime = &now
	case models.StatusCompleted:
		change.ServiceEndTime = &now
	}
	change.Entry = models.TimelineEntry{
		Status:    target,
		Timestamp: now,
		Note:      req.Notes,
		UpdatedBy: actor.UserID,
	}
	return change, nil
}

// AssignPartner binds partnerID to the booking and reopens it as pending,
// whatever state it was in. Admin only.
func (s *Service) AssignPartner(ctx context.Context, actor Actor, bookingID, partnerID string) (*models.BookingDetails, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins can assign partners", ErrNotAuthorized)
	}
	id, err := parseID("booking id", bookingID)
	if err != nil {
		return nil, err
	}
	pid, err := parseID("partner_id", partnerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.partners.FindPartnerByID(ctx, pid); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: partner %s", ErrNotFound, partnerID)
		}
		return nil, fmt.Errorf("load partner: %w", err)
	}
	previous, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	entry := models.TimelineEntry{
		Status:    models.StatusPending,
		Timestamp: s.now(),
		Note:      "Partner assigned by admin",
		UpdatedBy: actor.UserID,
	}
	updated, err := s.bookings.AssignPartner(ctx, id, pid, entry)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
		}
		return nil, fmt.Errorf("assign partner: %w", err)
	}

	metrics.ObserveTransition(string(previous.Status), string(models.StatusPending))
	s.log.WithFields(logrus.Fields{
		"booking_id":      bookingID,
		"partner_id":      partnerID,
		"previous_status": previous.Status,
		"admin":           actor.UserID,
	}).Info("Partner assigned to booking")

	details := s.newEnricher().details(ctx, *updated)
	s.publish(ctx, events.TypeBookingUpdated, details)
	return &details, nil
}

// Get returns one booking if actor may see it: admins, the owning customer,
// the assigned partner, and any partner while the booking is unclaimed.
func (s *Service) Get(ctx context.Context, actor Actor, bookingID string) (*models.BookingDetails, error) {
	id, err := parseID("booking id", bookingID)
	if err != nil {
		return nil, err
	}
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, b) {
		return nil, fmt.Errorf("%w: booking %s", ErrNotAuthorized, bookingID)
	}
	details := s.newEnricher().details(ctx, *b)
	return &details, nil
}

func canView(actor Actor, b *models.Booking) bool {
	switch {
	case actor.IsAdmin():
		return true
	case actor.Role == models.RoleCustomer:
		return b.CustomerID.Hex() == actor.UserID
	case actor.Role == models.RolePartner && actor.PartnerID != nil:
		if b.AssignedTo(*actor.PartnerID) {
			return true
		}
		return !b.IsAssigned() && b.Status == models.StatusPending
	default:
		return false
	}
}

// ListForActor lists the bookings that belong to actor, newest first,
// optionally restricted to statuses.
func (s *Service) ListForActor(ctx context.Context, actor Actor, statuses []models.BookingStatus) ([]models.BookingDetails, error) {
	for _, st := range statuses {
		if !st.IsValid() {
			return nil, invalidArgument("unknown status %q", st)
		}
	}
	filter := db.BookingFilter{Statuses: statuses}
	switch {
	case actor.IsAdmin():
	case actor.Role == models.RoleCustomer:
		customerID, err := parseID("user id", actor.UserID)
		if err != nil {
			return nil, err
		}
		filter.CustomerID = &customerID
	case actor.Role == models.RolePartner && actor.PartnerID != nil:
		filter.PartnerID = actor.PartnerID
	default:
		return nil, fmt.Errorf("%w: no booking list for role %s", ErrNotAuthorized, actor.Role)
	}

	bookings, err := s.bookings.FindBookings(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find bookings: %w", err)
	}
	return s.newEnricher().list(ctx, bookings), nil
}

// Available lists unclaimed pending bookings a partner could accept. A
// partner that lists categories only sees bookings in those categories.
func (s *Service) Available(ctx context.Context, actor Actor) ([]models.BookingDetails, error) {
	filter := db.BookingFilter{
		Unassigned: true,
		Statuses:   []models.BookingStatus{models.StatusPending},
	}
	switch {
	case actor.IsAdmin():
	case actor.Role == models.RolePartner && actor.PartnerID != nil:
		partner, err := s.partners.FindPartnerByID(ctx, *actor.PartnerID)
		if err != nil {
			return nil, lookupError(err, "partner %s", actor.PartnerID.Hex())
		}
		filter.CategoryIDs = partner.Categories
	default:
		return nil, fmt.Errorf("%w: role %s cannot browse available bookings", ErrNotAuthorized, actor.Role)
	}

	bookings, err := s.bookings.FindBookings(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find available bookings: %w", err)
	}
	return s.newEnricher().list(ctx, bookings), nil
}

// InitialData builds the snapshot pushed to a partner when its socket
// registers: its active bookings by status and the unclaimed pool.
func (s *Service) InitialData(ctx context.Context, partnerID primitive.ObjectID) (*models.InitialData, error) {
	assigned, err := s.bookings.FindBookings(ctx, db.BookingFilter{
		PartnerID: &partnerID,
		Statuses:  models.ActiveStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("find partner bookings: %w", err)
	}
	pool, err := s.bookings.FindBookings(ctx, db.BookingFilter{
		Unassigned: true,
		Statuses:   []models.BookingStatus{models.StatusPending},
	})
	if err != nil {
		return nil, fmt.Errorf("find available bookings: %w", err)
	}

	e := s.newEnricher()
	data := &models.InitialData{
		Bookings:  make(map[models.BookingStatus][]models.BookingDetails, len(models.ActiveStatuses)),
		Available: e.list(ctx, pool),
	}
	for _, st := range models.ActiveStatuses {
		data.Bookings[st] = []models.BookingDetails{}
	}
	for _, b := range assigned {
		data.Bookings[b.Status] = append(data.Bookings[b.Status], e.details(ctx, b))
	}
	return data, nil
}

// UpdateLocation records the assigned partner's live position while the
// booking is en route or in progress.
func (s *Service) UpdateLocation(ctx context.Context, actor Actor, bookingID string, coords models.Coordinates) (*models.BookingDetails, error) {
	id, err := parseID("booking id", bookingID)
	if err != nil {
		return nil, err
	}
	if !coords.Valid() {
		return nil, invalidArgument("coordinates out of range")
	}
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.PartnerID == nil || !b.AssignedTo(*actor.PartnerID) {
		return nil, fmt.Errorf("%w: booking %s is not assigned to this partner", ErrNotAuthorized, bookingID)
	}
	tracked := []models.BookingStatus{models.StatusOnTheWay, models.StatusInProgress}
	if !containsStatus(tracked, b.Status) {
		return nil, invalidArgument("location updates need status on_the_way or in_progress, booking is %s", b.Status)
	}

	loc := models.LiveLocation{Lat: coords.Lat, Lng: coords.Lng, LastUpdated: s.now()}
	updated, err := s.bookings.UpdatePartnerLocation(ctx, id, *actor.PartnerID, tracked, loc)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			return nil, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
		case errors.Is(err, db.ErrConflict):
			return nil, fmt.Errorf("%w: booking %s", ErrConflict, bookingID)
		}
		return nil, fmt.Errorf("update partner location: %w", err)
	}

	details := s.newEnricher().details(ctx, *updated)
	s.publish(ctx, events.TypeBookingUpdated, details)
	return &details, nil
}

// AddImages appends before or after photos. Only the assigned partner may
// add them and existing photos are never replaced.
func (s *Service) AddImages(ctx context.Context, actor Actor, bookingID string, req models.AddImagesRequest) (*models.BookingDetails, error) {
	id, err := parseID("booking id", bookingID)
	if err != nil {
		return nil, err
	}
	if req.Kind != models.ImagesBefore && req.Kind != models.ImagesAfter {
		return nil, invalidArgument("kind must be before or after")
	}
	if len(req.URLs) == 0 {
		return nil, invalidArgument("urls must not be empty")
	}
	for _, u := range req.URLs {
		if strings.TrimSpace(u) == "" {
			return nil, invalidArgument("urls must not contain blanks")
		}
	}
	if actor.PartnerID == nil {
		return nil, fmt.Errorf("%w: only the assigned partner can add images", ErrNotAuthorized)
	}

	updated, err := s.bookings.AppendImages(ctx, id, *actor.PartnerID, req.Kind, req.URLs)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			return nil, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
		case errors.Is(err, db.ErrConflict):
			return nil, fmt.Errorf("%w: booking %s is not assigned to this partner", ErrNotAuthorized, bookingID)
		}
		return nil, fmt.Errorf("append images: %w", err)
	}
	details := s.newEnricher().details(ctx, *updated)
	return &details, nil
}

func (s *Service) bookingCustomer(ctx context.Context, actor Actor, requested string) (primitive.ObjectID, error) {
	switch {
	case actor.Role == models.RoleCustomer:
		return parseID("user id", actor.UserID)
	case actor.IsAdmin():
		customerID, err := parseID("customer_id", requested)
		if err != nil {
			return primitive.NilObjectID, err
		}
		if _, err := s.users.FindUserByID(ctx, requested); err != nil {
			return primitive.NilObjectID, lookupError(err, "customer %s", requested)
		}
		return customerID, nil
	default:
		return primitive.NilObjectID, fmt.Errorf("%w: role %s cannot create bookings", ErrNotAuthorized, actor.Role)
	}
}

func (s *Service) load(ctx context.Context, id primitive.ObjectID) (*models.Booking, error) {
	b, err := s.bookings.FindBookingByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: booking %s", ErrNotFound, id.Hex())
		}
		return nil, fmt.Errorf("load booking: %w", err)
	}
	return b, nil
}

func (s *Service) publish(ctx context.Context, eventType string, details models.BookingDetails) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, events.Event{
		Type:       eventType,
		Booking:    details,
		OccurredAt: s.now(),
	})
}

func bookingAddress(req models.CreateBookingRequest) (models.BookingAddress, error) {
	var address models.BookingAddress
	if req.AddressID != "" {
		id, err := parseID("address_id", req.AddressID)
		if err != nil {
			return address, err
		}
		address.AddressID = &id
	}
	if c := req.CustomAddress; c != nil {
		if strings.TrimSpace(c.Line1) == "" || strings.TrimSpace(c.City) == "" {
			return address, invalidArgument("custom_address needs line1 and city")
		}
		if c.Coordinates != nil && !c.Coordinates.Valid() {
			return address, invalidArgument("custom_address coordinates out of range")
		}
		custom := *c
		address.Custom = &custom
	}
	if address.AddressID == nil && address.Custom == nil {
		return address, invalidArgument("address_id or custom_address is required")
	}
	return address, nil
}

// bookingNumber is "UB", the creation time as yymmddHHMMSS and four random digits.
func bookingNumber(t time.Time) string {
	return fmt.Sprintf("UB%s%04d", t.Format("060102150405"), rand.IntN(10000))
}

func parseID(field, hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, invalidArgument("%s %q is not a valid id", field, hex)
	}
	return id, nil
}

func lookupError(err error, format string, args ...interface{}) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("lookup %s: %w", fmt.Sprintf(format, args...), err)
}

func containsStatus(statuses []models.BookingStatus, s models.BookingStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}
