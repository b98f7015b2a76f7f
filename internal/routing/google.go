package routing

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"github.com/example/taxi-dispatch/internal/models"
)

// GoogleProvider is the primary geocoding and routing provider, backed
// by the Google Maps APIs.
type GoogleProvider struct {
	client  *maps.Client
	region  string
	timeout time.Duration
}

func NewGoogleProvider(apiKey, region string) (*GoogleProvider, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return &GoogleProvider{client: c, region: region, timeout: 3 * time.Second}, nil
}

func (g *GoogleProvider) Geocode(ctx context.Context, address, near string) (models.Point, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	q := address
	if near != "" {
		q = address + ", " + near
	}
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: q,
		Region:  g.region,
	})
	if err != nil {
		return models.Point{}, fmt.Errorf("geocode %q: %w", address, err)
	}
	if len(results) == 0 {
		return models.Point{}, fmt.Errorf("geocode %q: no results", address)
	}
	loc := results[0].Geometry.Location
	return models.Point{Lon: loc.Lng, Lat: loc.Lat}, nil
}

func (g *GoogleProvider) Route(ctx context.Context, from, to models.Point) (Route, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	routes, _, err := g.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", from.Lat, from.Lon),
		Destination: fmt.Sprintf("%f,%f", to.Lat, to.Lon),
		Mode:        maps.TravelModeDriving,
		Region:      g.region,
	})
	if err != nil {
		return Route{}, fmt.Errorf("directions: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, fmt.Errorf("directions: no route found")
	}
	leg := routes[0].Legs[0]
	return Route{
		DistanceKm:      float64(leg.Distance.Meters) / 1000,
		DurationMinutes: leg.Duration.Minutes(),
	}, nil
}
