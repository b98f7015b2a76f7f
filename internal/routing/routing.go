// Package routing wraps the external geocoding and routing providers
// behind small interfaces with a fallback chain: each fallback triggers
// only after the prior provider fails or times out.
package routing

import (
	"context"

	"github.com/example/taxi-dispatch/internal/models"
)

// Geocoder resolves a free-text address to a coordinate. near is an
// optional locality hint biasing ambiguous addresses.
type Geocoder interface {
	Geocode(ctx context.Context, address, near string) (models.Point, error)
}

// Route is a driving distance/duration estimate between two points.
type Route struct {
	DistanceKm      float64
	DurationMinutes float64
}

// Router estimates the driving route between two coordinates.
type Router interface {
	Route(ctx context.Context, from, to models.Point) (Route, error)
}
