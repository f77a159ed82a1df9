package models

import "time"

// Coordinates is a latitude/longitude pair supplied by partner devices.
type Coordinates struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lng float64 `bson:"lng" json:"lng"`
}

// Valid reports whether both values are inside WGS84 bounds.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// LiveLocation is the last known partner position on a booking.
type LiveLocation struct {
	Lat         float64   `bson:"lat" json:"lat"`
	Lng         float64   `bson:"lng" json:"lng"`
	LastUpdated time.Time `bson:"last_updated" json:"last_updated"`
}
