package routing

import (
	"context"
	"log/slog"

	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
)

// Chain tries Primary, then Secondary, then a Haversine distance with
// an assumed city speed. Fallbacks are sequential, never speculative.
type Chain struct {
	Primary   Router
	Secondary Router

	// AssumedSpeedKmh drives the last-resort duration estimate.
	AssumedSpeedKmh float64

	Logger *slog.Logger
}

func (c *Chain) Route(ctx context.Context, from, to models.Point) (Route, error) {
	if c.Primary != nil {
		r, err := c.Primary.Route(ctx, from, to)
		if err == nil {
			return r, nil
		}
		c.logFallback("primary", err)
	}
	if c.Secondary != nil {
		r, err := c.Secondary.Route(ctx, from, to)
		if err == nil {
			return r, nil
		}
		c.logFallback("secondary", err)
	}
	return c.estimate(from, to), nil
}

func (c *Chain) estimate(from, to models.Point) Route {
	speed := c.AssumedSpeedKmh
	if speed <= 0 {
		speed = 30
	}
	dist := geo.Haversine(from, to)
	return Route{DistanceKm: dist, DurationMinutes: dist / speed * 60}
}

func (c *Chain) logFallback(provider string, err error) {
	observability.RoutingFallbacks.WithLabelValues(provider).Inc()
	if c.Logger != nil {
		c.Logger.Warn("routing provider failed, falling back", "provider", provider, "error", err)
	}
}
