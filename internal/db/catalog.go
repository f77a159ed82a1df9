package db

import (
	"context"
	"errors"

	"github.com/ukydev/urban-services/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoCatalogCollection reads categories and services.
type MongoCatalogCollection struct {
	Categories *mongo.Collection
	Services   *mongo.Collection
}

// FindCategoryByID finds a category by its ID.
func (c *MongoCatalogCollection) FindCategoryByID(ctx context.Context, id primitive.ObjectID) (*models.Category, error) {
	var category models.Category
	if err := c.Categories.FindOne(ctx, bson.M{"_id": id}).Decode(&category); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &category, nil
}

// FindServiceByID finds a service by its ID.
func (c *MongoCatalogCollection) FindServiceByID(ctx context.Context, id primitive.ObjectID) (*models.Service, error) {
	var service models.Service
	if err := c.Services.FindOne(ctx, bson.M{"_id": id}).Decode(&service); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &service, nil
}
