package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/urban-services/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestConnectMongo_BadURI(t *testing.T) {
	client, err := ConnectMongo("mongodb://bad:uri")
	if err == nil {
		t.Error("expected error for bad URI, got nil")
	}
	if client != nil {
		t.Error("expected nil client on error")
	}
}

func TestInsertBooking_NilCollection(t *testing.T) {
	coll := &MongoBookingCollection{Collection: nil}
	_, err := coll.InsertBooking(context.Background(), models.Booking{})
	assert.Error(t, err)

	_, err = coll.FindBookingByID(context.Background(), primitive.NewObjectID())
	assert.Error(t, err)
}

func TestBookingFilter_BSON(t *testing.T) {
	customer := primitive.NewObjectID()
	partner := primitive.NewObjectID()
	category := primitive.NewObjectID()

	t.Run("empty filter matches everything", func(t *testing.T) {
		assert.Equal(t, bson.M{}, BookingFilter{}.bson())
	})

	t.Run("unassigned pool", func(t *testing.T) {
		f := BookingFilter{Unassigned: true, Statuses: []models.BookingStatus{models.StatusPending}}.bson()
		v, ok := f["partner"]
		assert.True(t, ok)
		assert.Nil(t, v)
		assert.Equal(t, bson.M{"$in": []models.BookingStatus{models.StatusPending}}, f["status"])
	})

	t.Run("partner wins over unassigned", func(t *testing.T) {
		f := BookingFilter{PartnerID: &partner, Unassigned: true}.bson()
		assert.Equal(t, partner, f["partner"])
	})

	t.Run("customer and categories", func(t *testing.T) {
		f := BookingFilter{CustomerID: &customer, CategoryIDs: []primitive.ObjectID{category}}.bson()
		assert.Equal(t, customer, f["customer"])
		assert.Equal(t, bson.M{"$in": []primitive.ObjectID{category}}, f["category"])
	})
}

func TestImageField(t *testing.T) {
	f, err := imageField(models.ImagesBefore)
	assert.NoError(t, err)
	assert.Equal(t, "before_images", f)

	f, err = imageField(models.ImagesAfter)
	assert.NoError(t, err)
	assert.Equal(t, "after_images", f)

	_, err = imageField("during")
	assert.Error(t, err)
}

// testDatabase returns a scratch database, skipping when MongoDB is not
// reachable. Integration tests only run with MONGO_URI set.
func testDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set, skipping integration test")
	}
	client, err := ConnectMongo(uri)
	if err != nil {
		t.Skipf("failed to create client: %v, skipping integration test", err)
	}
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	database := client.Database("test_urban_services")
	require.NoError(t, database.Drop(context.Background()))
	return database
}

func TestMongoBookingCollection_ApplyStatusChange_Integration(t *testing.T) {
	database := testDatabase(t)
	require.NoError(t, EnsureIndexes(context.Background(), database))
	coll := &MongoBookingCollection{Collection: database.Collection(BookingsCollection)}
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	inserted, err := coll.InsertBooking(ctx, models.Booking{
		BookingNumber: "UB-INTEGRATION-1",
		CustomerID:    primitive.NewObjectID(),
		Status:        models.StatusPending,
		Timeline:      []models.TimelineEntry{{Status: models.StatusPending, Timestamp: now}},
		CreatedAt:     now,
	})
	require.NoError(t, err)

	partner := primitive.NewObjectID()
	change := models.StatusChange{
		Status:        models.StatusAccepted,
		AssignPartner: &partner,
		Entry:         models.TimelineEntry{Status: models.StatusAccepted, Timestamp: now},
		At:            now,
	}

	updated, err := coll.ApplyStatusChange(ctx, inserted.ID, Expectation{Status: models.StatusPending}, change)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, updated.Status)
	assert.True(t, updated.AssignedTo(partner))
	assert.Len(t, updated.Timeline, 2)

	// Same expectation again: the booking moved on.
	_, err = coll.ApplyStatusChange(ctx, inserted.ID, Expectation{Status: models.StatusPending}, change)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = coll.ApplyStatusChange(ctx, primitive.NewObjectID(), Expectation{Status: models.StatusPending}, change)
	assert.ErrorIs(t, err, ErrNotFound)

	eta := now.Add(30 * time.Minute)
	loc := models.LiveLocation{Lat: 12.9, Lng: 77.6, LastUpdated: now}
	updated, err = coll.ApplyStatusChange(ctx, inserted.ID, Expectation{Status: models.StatusAccepted, PartnerID: &partner}, models.StatusChange{
		Status:           models.StatusOnTheWay,
		PartnerLocation:  &loc,
		EstimatedArrival: &eta,
		Entry:            models.TimelineEntry{Status: models.StatusOnTheWay, Timestamp: now},
		At:               now,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.Tracking.PartnerLocation)
	assert.Equal(t, 12.9, updated.Tracking.PartnerLocation.Lat)
	require.NotNil(t, updated.Tracking.EstimatedArrival)
	assert.True(t, updated.Tracking.EstimatedArrival.Equal(eta))
}

func TestMongoBookingCollection_AssignPartner_Integration(t *testing.T) {
	database := testDatabase(t)
	coll := &MongoBookingCollection{Collection: database.Collection(BookingsCollection)}
	ctx := context.Background()

	inserted, err := coll.InsertBooking(ctx, models.Booking{
		BookingNumber: "UB-INTEGRATION-2",
		Status:        models.StatusCompleted,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)

	partner := primitive.NewObjectID()
	updated, err := coll.AssignPartner(ctx, inserted.ID, partner, models.TimelineEntry{Status: models.StatusPending, Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, updated.Status)
	assert.True(t, updated.AssignedTo(partner))

	found, err := coll.FindBookings(ctx, BookingFilter{PartnerID: &partner})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	unassigned, err := coll.FindBookings(ctx, BookingFilter{Unassigned: true})
	require.NoError(t, err)
	assert.Empty(t, unassigned)
}
