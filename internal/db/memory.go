package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ukydev/urban-services/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NewMemoryStore returns a Store backed by process memory. It keeps the same
// conditional-update semantics as the Mongo collections and is used for
// tests and the local "memory" storage driver.
func NewMemoryStore() *Store {
	return &Store{
		Users:    NewMemoryUsers(),
		Partners: NewMemoryPartners(),
		Bookings: NewMemoryBookings(),
		Catalog:  NewMemoryCatalog(),
	}
}

// MemoryBookings is an in-memory BookingCollection.
type MemoryBookings struct {
	mu       sync.Mutex
	bookings map[primitive.ObjectID]*models.Booking
}

// NewMemoryBookings creates an empty booking collection.
func NewMemoryBookings() *MemoryBookings {
	return &MemoryBookings{bookings: make(map[primitive.ObjectID]*models.Booking)}
}

func (m *MemoryBookings) InsertBooking(_ context.Context, booking models.Booking) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if booking.BookingNumber != "" {
		for _, b := range m.bookings {
			if b.BookingNumber == booking.BookingNumber {
				return nil, fmt.Errorf("%w: booking number %s", ErrDuplicate, booking.BookingNumber)
			}
		}
	}
	prepareInsert(&booking)
	stored := cloneBooking(&booking)
	m.bookings[booking.ID] = stored
	return cloneBooking(stored), nil
}

func (m *MemoryBookings) FindBookingByID(_ context.Context, id primitive.ObjectID) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBooking(b), nil
}

func (m *MemoryBookings) FindBookings(_ context.Context, filter BookingFilter) ([]models.Booking, error) {
	m.mu.Lock()
	out := []models.Booking{}
	for _, b := range m.bookings {
		if filter.matches(b) {
			out = append(out, *cloneBooking(b))
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.Hex() > out[j].ID.Hex()
	})
	if filter.Limit > 0 && int64(len(out)) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryBookings) ApplyStatusChange(_ context.Context, id primitive.ObjectID, expect Expectation, change models.StatusChange) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != expect.Status || !samePartner(b.PartnerID, expect.PartnerID) {
		return nil, ErrConflict
	}

	b.Status = change.Status
	b.UpdatedAt = change.At
	if change.AssignPartner != nil {
		p := *change.AssignPartner
		b.PartnerID = &p
	}
	if change.PartnerLocation != nil {
		loc := *change.PartnerLocation
		b.Tracking.PartnerLocation = &loc
	}
	if change.EstimatedArrival != nil {
		b.Tracking.EstimatedArrival = copyTime(change.EstimatedArrival)
	}
	if change.ActualArrival != nil {
		b.Tracking.ActualArrival = copyTime(change.ActualArrival)
	}
	if change.ServiceStartTime != nil {
		b.Tracking.ServiceStartTime = copyTime(change.ServiceStartTime)
	}
	if change.ServiceEndTime != nil {
		b.Tracking.ServiceEndTime = copyTime(change.ServiceEndTime)
	}
	b.Timeline = append(b.Timeline, change.Entry)
	return cloneBooking(b), nil
}

func (m *MemoryBookings) AssignPartner(_ context.Context, id, partnerID primitive.ObjectID, entry models.TimelineEntry) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	b.PartnerID = &partnerID
	b.Status = models.StatusPending
	b.UpdatedAt = entry.Timestamp
	b.Timeline = append(b.Timeline, entry)
	return cloneBooking(b), nil
}

func (m *MemoryBookings) UpdatePartnerLocation(_ context.Context, id, partnerID primitive.ObjectID, statuses []models.BookingStatus, loc models.LiveLocation) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !b.AssignedTo(partnerID) || !containsStatus(statuses, b.Status) {
		return nil, ErrConflict
	}
	b.Tracking.PartnerLocation = &loc
	b.UpdatedAt = loc.LastUpdated
	return cloneBooking(b), nil
}

func (m *MemoryBookings) AppendImages(_ context.Context, id, partnerID primitive.ObjectID, kind models.ImageKind, urls []string) (*models.Booking, error) {
	if _, err := imageField(kind); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !b.AssignedTo(partnerID) {
		return nil, ErrConflict
	}
	if kind == models.ImagesBefore {
		b.BeforeImages = append(b.BeforeImages, urls...)
	} else {
		b.AfterImages = append(b.AfterImages, urls...)
	}
	return cloneBooking(b), nil
}

func (f BookingFilter) matches(b *models.Booking) bool {
	if f.CustomerID != nil && b.CustomerID != *f.CustomerID {
		return false
	}
	if f.PartnerID != nil {
		if !b.AssignedTo(*f.PartnerID) {
			return false
		}
	} else if f.Unassigned && b.IsAssigned() {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, b.Status) {
		return false
	}
	if len(f.CategoryIDs) > 0 {
		found := false
		for _, c := range f.CategoryIDs {
			if c == b.CategoryID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MemoryUsers is an in-memory UserCollection.
type MemoryUsers struct {
	mu    sync.Mutex
	users []models.User
}

// NewMemoryUsers creates an empty user collection.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{}
}

func (m *MemoryUsers) InsertUser(_ context.Context, user models.User) (*models.User, error) {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	user.IsActive = true

	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, user)
	return &user, nil
}

func (m *MemoryUsers) FindUserByID(_ context.Context, id string) (*models.User, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}
	return m.find(func(u *models.User) bool { return u.ID == objectID })
}

func (m *MemoryUsers) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Email == email })
}

func (m *MemoryUsers) FindUsersByPhone(_ context.Context, phone string) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		if u.Phone == phone {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

func (m *MemoryUsers) UpdateLastLogin(_ context.Context, id string) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.users {
		if m.users[i].ID == objectID {
			now := time.Now()
			m.users[i].LastLogin = &now
			m.users[i].UpdatedAt = now
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryUsers) find(match func(*models.User) bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.users {
		if match(&m.users[i]) {
			u := m.users[i]
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// MemoryPartners is an in-memory PartnerCollection.
type MemoryPartners struct {
	mu       sync.Mutex
	partners map[primitive.ObjectID]models.Partner
}

// NewMemoryPartners creates an empty partner collection.
func NewMemoryPartners() *MemoryPartners {
	return &MemoryPartners{partners: make(map[primitive.ObjectID]models.Partner)}
}

func (m *MemoryPartners) InsertPartner(_ context.Context, partner models.Partner) (*models.Partner, error) {
	if partner.ID.IsZero() {
		partner.ID = primitive.NewObjectID()
	}
	partner.CreatedAt = time.Now()
	partner.UpdatedAt = partner.CreatedAt

	m.mu.Lock()
	defer m.mu.Unlock()
	m.partners[partner.ID] = partner
	return &partner, nil
}

func (m *MemoryPartners) FindPartnerByID(_ context.Context, id primitive.ObjectID) (*models.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryPartners) FindPartnerByUserID(_ context.Context, userID primitive.ObjectID) (*models.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.partners {
		if p.UserID == userID {
			p := p
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryPartners) SetAvailability(_ context.Context, id primitive.ObjectID, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[id]
	if !ok {
		return ErrNotFound
	}
	p.Available = available
	p.UpdatedAt = time.Now()
	m.partners[id] = p
	return nil
}

// MemoryCatalog is an in-memory CatalogCollection seeded with AddCategory
// and AddService.
type MemoryCatalog struct {
	mu         sync.RWMutex
	categories map[primitive.ObjectID]models.Category
	services   map[primitive.ObjectID]models.Service
}

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		categories: make(map[primitive.ObjectID]models.Category),
		services:   make(map[primitive.ObjectID]models.Service),
	}
}

// AddCategory stores c, assigning an id if needed.
func (m *MemoryCatalog) AddCategory(c models.Category) models.Category {
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	m.mu.Lock()
	m.categories[c.ID] = c
	m.mu.Unlock()
	return c
}

// AddService stores s, assigning an id if needed.
func (m *MemoryCatalog) AddService(s models.Service) models.Service {
	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	m.mu.Lock()
	m.services[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *MemoryCatalog) FindCategoryByID(_ context.Context, id primitive.ObjectID) (*models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.categories[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryCatalog) FindServiceByID(_ context.Context, id primitive.ObjectID) (*models.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func samePartner(a, b *primitive.ObjectID) bool {
	aSet := a != nil && !a.IsZero()
	bSet := b != nil && !b.IsZero()
	if !aSet || !bSet {
		return aSet == bSet
	}
	return *a == *b
}

func containsStatus(statuses []models.BookingStatus, s models.BookingStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneBooking(b *models.Booking) *models.Booking {
	c := *b
	if b.PartnerID != nil {
		p := *b.PartnerID
		c.PartnerID = &p
	}
	c.Timeline = append([]models.TimelineEntry{}, b.Timeline...)
	c.BeforeImages = append([]string{}, b.BeforeImages...)
	c.AfterImages = append([]string{}, b.AfterImages...)
	if b.Tracking.PartnerLocation != nil {
		loc := *b.Tracking.PartnerLocation
		c.Tracking.PartnerLocation = &loc
	}
	c.Tracking.EstimatedArrival = copyTime(b.Tracking.EstimatedArrival)
	c.Tracking.ActualArrival = copyTime(b.Tracking.ActualArrival)
	c.Tracking.ServiceStartTime = copyTime(b.Tracking.ServiceStartTime)
	c.Tracking.ServiceEndTime = copyTime(b.Tracking.ServiceEndTime)
	if b.Address.AddressID != nil {
		id := *b.Address.AddressID
		c.Address.AddressID = &id
	}
	if b.Address.Custom != nil {
		addr := *b.Address.Custom
		c.Address.Custom = &addr
	}
	return &c
}
