package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Category groups services (cleaning, plumbing, ...). Read-only here.
type Category struct {
	ID   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name string             `bson:"name" json:"name"`
	Icon string             `bson:"icon,omitempty" json:"icon,omitempty"`
}

// Service is a bookable offering inside a category. Read-only here.
type Service struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CategoryID primitive.ObjectID `bson:"category" json:"category_id"`
	Name       string             `bson:"name" json:"name"`
	BasePrice  float64            `bson:"base_price" json:"base_price"`
	Duration   int                `bson:"duration" json:"duration"` // minutes
}
