package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BookingStatus is the lifecycle state of an urban service booking.
type BookingStatus string

const (
	StatusPending    BookingStatus = "pending"
	StatusAccepted   BookingStatus = "accepted"
	StatusRejected   BookingStatus = "rejected"
	StatusOnTheWay   BookingStatus = "on_the_way"
	StatusInProgress BookingStatus = "in_progress"
	StatusCompleted  BookingStatus = "completed"
	StatusCancelled  BookingStatus = "cancelled"
)

// ActiveStatuses are the states a partner still has work to do in.
var ActiveStatuses = []BookingStatus{StatusPending, StatusAccepted, StatusInProgress, StatusOnTheWay}

// IsValid checks the status against the fixed enum.
func (s BookingStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusOnTheWay,
		StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// ImageKind selects one of the two photo collections on a booking.
type ImageKind string

const (
	ImagesBefore ImageKind = "before"
	ImagesAfter  ImageKind = "after"
)

// TimelineEntry is one element of the append-only status history.
type TimelineEntry struct {
	Status    BookingStatus `bson:"status" json:"status"`
	Timestamp time.Time     `bson:"timestamp" json:"timestamp"`
	Note      string        `bson:"note,omitempty" json:"note,omitempty"`
	UpdatedBy string        `bson:"updated_by,omitempty" json:"updated_by,omitempty"`
}

// Tracking holds timestamps stamped as side effects of status transitions.
type Tracking struct {
	PartnerLocation  *LiveLocation `bson:"partner_location,omitempty" json:"partner_location,omitempty"`
	EstimatedArrival *time.Time    `bson:"estimated_arrival,omitempty" json:"estimated_arrival,omitempty"`
	ActualArrival    *time.Time    `bson:"actual_arrival,omitempty" json:"actual_arrival,omitempty"`
	ServiceStartTime *time.Time    `bson:"service_start_time,omitempty" json:"service_start_time,omitempty"`
	ServiceEndTime   *time.Time    `bson:"service_end_time,omitempty" json:"service_end_time,omitempty"`
}

// CustomAddress is an address snapshot captured when the booking was made.
type CustomAddress struct {
	Label       string       `bson:"label,omitempty" json:"label,omitempty"`
	Line1       string       `bson:"line1" json:"line1"`
	Line2       string       `bson:"line2,omitempty" json:"line2,omitempty"`
	City        string       `bson:"city" json:"city"`
	State       string       `bson:"state,omitempty" json:"state,omitempty"`
	PostalCode  string       `bson:"postal_code,omitempty" json:"postal_code,omitempty"`
	Coordinates *Coordinates `bson:"coordinates,omitempty" json:"coordinates,omitempty"`
}

// BookingAddress references a saved address, an inline snapshot, or both.
type BookingAddress struct {
	AddressID *primitive.ObjectID `bson:"address_id,omitempty" json:"address_id,omitempty"`
	Custom    *CustomAddress      `bson:"custom,omitempty" json:"custom,omitempty"`
}

// Pricing is fixed at creation and never recomputed.
type Pricing struct {
	BasePrice   float64 `bson:"base_price" json:"base_price"`
	TotalAmount float64 `bson:"total_amount" json:"total_amount"`
}

// Booking is a request for urban-service work.
type Booking struct {
	ID                primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	BookingNumber     string              `bson:"booking_number" json:"booking_number"`
	CustomerID        primitive.ObjectID  `bson:"customer" json:"customer_id"`
	PartnerID         *primitive.ObjectID `bson:"partner" json:"partner_id"`
	CategoryID        primitive.ObjectID  `bson:"category" json:"category_id"`
	ServiceID         primitive.ObjectID  `bson:"service" json:"service_id"`
	ScheduledDate     time.Time           `bson:"scheduled_date" json:"scheduled_date"`
	ScheduledTime     string              `bson:"scheduled_time" json:"scheduled_time"`
	EstimatedDuration int                 `bson:"estimated_duration" json:"estimated_duration"` // minutes
	Status            BookingStatus       `bson:"status" json:"status"`
	Timeline          []TimelineEntry     `bson:"timeline" json:"timeline"`
	Tracking          Tracking            `bson:"tracking" json:"tracking"`
	Address           BookingAddress      `bson:"address" json:"address"`
	BeforeImages      []string            `bson:"before_images" json:"before_images"`
	AfterImages       []string            `bson:"after_images" json:"after_images"`
	Pricing           Pricing             `bson:"pricing" json:"pricing"`
	Notes             string              `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt         time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time           `bson:"updated_at" json:"updated_at"`
}

// IsAssigned reports whether a partner has been matched.
func (b *Booking) IsAssigned() bool {
	return b.PartnerID != nil && !b.PartnerID.IsZero()
}

// AssignedTo reports whether partnerID is the booking's partner.
func (b *Booking) AssignedTo(partnerID primitive.ObjectID) bool {
	return b.IsAssigned() && *b.PartnerID == partnerID
}

// StatusChange is everything a single accepted transition writes. It is
// applied as one conditional update.
type StatusChange struct {
	Status           BookingStatus
	AssignPartner    *primitive.ObjectID
	PartnerLocation  *LiveLocation
	EstimatedArrival *time.Time
	ActualArrival    *time.Time
	ServiceStartTime *time.Time
	ServiceEndTime   *time.Time
	Entry            TimelineEntry
	At               time.Time
}

// CustomerSummary is the display subset of the booking's customer.
type CustomerSummary struct {
	ID    primitive.ObjectID `json:"id"`
	Name  string             `json:"name"`
	Phone string             `json:"phone,omitempty"`
	Email string             `json:"email,omitempty"`
}

// PartnerSummary is the display subset of the assigned partner.
type PartnerSummary struct {
	ID           primitive.ObjectID `json:"id"`
	BusinessName string             `json:"business_name"`
	Phone        string             `json:"phone,omitempty"`
	Rating       float64            `json:"rating"`
}

// BookingDetails is a booking with its references resolved for display and
// push payloads. Partner is nil while the booking is unassigned.
type BookingDetails struct {
	Booking
	Customer *CustomerSummary `json:"customer,omitempty"`
	Partner  *PartnerSummary  `json:"partner,omitempty"`
	Category *Category        `json:"category,omitempty"`
	Service  *Service         `json:"service,omitempty"`
}

// InitialData is the snapshot a partner receives on connect.
type InitialData struct {
	Bookings  map[BookingStatus][]BookingDetails `json:"bookings"`
	Available []BookingDetails                   `json:"available"`
}

// CreateBookingRequest is the customer-facing booking payload.
type CreateBookingRequest struct {
	CustomerID        string         `json:"customer_id,omitempty"`
	CategoryID        string         `json:"category_id"`
	ServiceID         string         `json:"service_id"`
	ScheduledDate     time.Time      `json:"scheduled_date"`
	ScheduledTime     string         `json:"scheduled_time"`
	EstimatedDuration int            `json:"estimated_duration"`
	AddressID         string         `json:"address_id,omitempty"`
	CustomAddress     *CustomAddress `json:"custom_address,omitempty"`
	Pricing           *Pricing       `json:"pricing,omitempty"`
	Notes             string         `json:"notes,omitempty"`
}

// StatusUpdateRequest is the body of PUT /bookings/{id}/status.
type StatusUpdateRequest struct {
	Status      BookingStatus `json:"status"`
	Notes       string        `json:"notes,omitempty"`
	Coordinates *Coordinates  `json:"coordinates,omitempty"`
}

// AssignPartnerRequest is the body of PUT /bookings/{id}/assign-partner.
type AssignPartnerRequest struct {
	PartnerID string `json:"partner_id"`
}

// AddImagesRequest is the body of POST /bookings/{id}/images.
type AddImagesRequest struct {
	Kind ImageKind `json:"kind"`
	URLs []string  `json:"urls"`
}
