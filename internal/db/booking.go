package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/ukydev/urban-services/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBookingCollection implements BookingCollection for MongoDB.
type MongoBookingCollection struct {
	Collection *mongo.Collection
}

// InsertBooking stores a new booking and returns it with its id set.
func (c *MongoBookingCollection) InsertBooking(ctx context.Context, booking models.Booking) (*models.Booking, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	prepareInsert(&booking)
	if _, err := c.Collection.InsertOne(ctx, booking); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: booking number %s", ErrDuplicate, booking.BookingNumber)
		}
		return nil, err
	}
	return &booking, nil
}

// FindBookingByID finds a booking by its ID.
func (c *MongoBookingCollection) FindBookingByID(ctx context.Context, id primitive.ObjectID) (*models.Booking, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	var booking models.Booking
	err := c.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&booking)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &booking, nil
}

// FindBookings lists bookings matching filter, newest first.
func (c *MongoBookingCollection) FindBookings(ctx context.Context, filter BookingFilter) ([]models.Booking, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(filter.Limit)
	}
	cursor, err := c.Collection.Find(ctx, filter.bson(), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	bookings := []models.Booking{}
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

// ApplyStatusChange writes change only if the booking still has the expected
// status and partner. The status, partner, tracking stamps and timeline entry
// land in a single document update.
func (c *MongoBookingCollection) ApplyStatusChange(ctx context.Context, id primitive.ObjectID, expect Expectation, change models.StatusChange) (*models.Booking, error) {
	set := bson.M{
		"status":     change.Status,
		"updated_at": change.At,
	}
	if change.AssignPartner != nil {
		set["partner"] = *change.AssignPartner
	}
	if change.PartnerLocation != nil {
		set["tracking.partner_location"] = *change.PartnerLocation
	}
	if change.EstimatedArrival != nil {
		set["tracking.estimated_arrival"] = *change.EstimatedArrival
	}
	if change.ActualArrival != nil {
		set["tracking.actual_arrival"] = *change.ActualArrival
	}
	if change.ServiceStartTime != nil {
		set["tracking.service_start_time"] = *change.ServiceStartTime
	}
	if change.ServiceEndTime != nil {
		set["tracking.service_end_time"] = *change.ServiceEndTime
	}

	filter := bson.M{
		"_id":     id,
		"status":  expect.Status,
		"partner": partnerMatch(expect.PartnerID),
	}
	update := bson.M{
		"$set":  set,
		"$push": bson.M{"timeline": change.Entry},
	}
	return c.conditionalUpdate(ctx, id, filter, update)
}

// AssignPartner binds partnerID and resets the booking to pending whatever
// its current status.
func (c *MongoBookingCollection) AssignPartner(ctx context.Context, id, partnerID primitive.ObjectID, entry models.TimelineEntry) (*models.Booking, error) {
	update := bson.M{
		"$set": bson.M{
			"partner":    partnerID,
			"status":     models.StatusPending,
			"updated_at": entry.Timestamp,
		},
		"$push": bson.M{"timeline": entry},
	}
	return c.conditionalUpdate(ctx, id, bson.M{"_id": id}, update)
}

// UpdatePartnerLocation stamps the live location when partnerID is the
// assignee and the booking is in one of statuses.
func (c *MongoBookingCollection) UpdatePartnerLocation(ctx context.Context, id, partnerID primitive.ObjectID, statuses []models.BookingStatus, loc models.LiveLocation) (*models.Booking, error) {
	filter := bson.M{
		"_id":     id,
		"partner": partnerID,
		"status":  bson.M{"$in": statuses},
	}
	update := bson.M{"$set": bson.M{
		"tracking.partner_location": loc,
		"updated_at":                loc.LastUpdated,
	}}
	return c.conditionalUpdate(ctx, id, filter, update)
}

// AppendImages pushes urls onto the before or after collection.
func (c *MongoBookingCollection) AppendImages(ctx context.Context, id, partnerID primitive.ObjectID, kind models.ImageKind, urls []string) (*models.Booking, error) {
	field, err := imageField(kind)
	if err != nil {
		return nil, err
	}
	update := bson.M{"$push": bson.M{field: bson.M{"$each": urls}}}
	return c.conditionalUpdate(ctx, id, bson.M{"_id": id, "partner": partnerID}, update)
}

func (c *MongoBookingCollection) conditionalUpdate(ctx context.Context, id primitive.ObjectID, filter, update bson.M) (*models.Booking, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var booking models.Booking
	err := c.Collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&booking)
	if err == nil {
		return &booking, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	// Distinguish a missing booking from one whose state moved on.
	n, err := c.Collection.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrConflict
}

// partnerMatch matches the unassigned state as null or missing.
func partnerMatch(partnerID *primitive.ObjectID) interface{} {
	if partnerID == nil {
		return nil
	}
	return *partnerID
}

func imageField(kind models.ImageKind) (string, error) {
	switch kind {
	case models.ImagesBefore:
		return "before_images", nil
	case models.ImagesAfter:
		return "after_images", nil
	default:
		return "", fmt.Errorf("unknown image kind %q", kind)
	}
}

func (f BookingFilter) bson() bson.M {
	filter := bson.M{}
	if f.CustomerID != nil {
		filter["customer"] = *f.CustomerID
	}
	if f.PartnerID != nil {
		filter["partner"] = *f.PartnerID
	} else if f.Unassigned {
		filter["partner"] = nil
	}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": f.Statuses}
	}
	if len(f.CategoryIDs) > 0 {
		filter["category"] = bson.M{"$in": f.CategoryIDs}
	}
	return filter
}

// prepareInsert gives arrays a non-null value so later $push updates work.
func prepareInsert(b *models.Booking) {
	if b.ID.IsZero() {
		b.ID = primitive.NewObjectID()
	}
	if b.Timeline == nil {
		b.Timeline = []models.TimelineEntry{}
	}
	if b.BeforeImages == nil {
		b.BeforeImages = []string{}
	}
	if b.AfterImages == nil {
		b.AfterImages = []string{}
	}
}
