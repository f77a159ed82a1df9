package db

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/urban-services/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoPartnerCollection implements PartnerCollection for MongoDB.
type MongoPartnerCollection struct {
	Collection *mongo.Collection
}

// InsertPartner stores a partner profile.
func (c *MongoPartnerCollection) InsertPartner(ctx context.Context, partner models.Partner) (*models.Partner, error) {
	if partner.ID.IsZero() {
		partner.ID = primitive.NewObjectID()
	}
	if partner.Categories == nil {
		partner.Categories = []primitive.ObjectID{}
	}
	partner.CreatedAt = time.Now()
	partner.UpdatedAt = partner.CreatedAt

	if _, err := c.Collection.InsertOne(ctx, partner); err != nil {
		return nil, err
	}
	return &partner, nil
}

// FindPartnerByID finds a partner by its own id.
func (c *MongoPartnerCollection) FindPartnerByID(ctx context.Context, id primitive.ObjectID) (*models.Partner, error) {
	return c.findOne(ctx, bson.M{"_id": id})
}

// FindPartnerByUserID finds the partner linked to a user account.
func (c *MongoPartnerCollection) FindPartnerByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Partner, error) {
	return c.findOne(ctx, bson.M{"user": userID})
}

// SetAvailability toggles the partner-controlled availability flag.
func (c *MongoPartnerCollection) SetAvailability(ctx context.Context, id primitive.ObjectID, available bool) error {
	result, err := c.Collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"available": available, "updated_at": time.Now()}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *MongoPartnerCollection) findOne(ctx context.Context, filter bson.M) (*models.Partner, error) {
	var partner models.Partner
	if err := c.Collection.FindOne(ctx, filter).Decode(&partner); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &partner, nil
}
