package matcher

import (
	"context"
	"math"

	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
)

// assumed approach speed for the arrival estimate, km/h
const approachSpeedKmh = 30.0

// Roster supplies the candidate pool: active, non-offline drivers with
// a known position and no outstanding pending offer.
type Roster interface {
	ActiveDrivers(ctx context.Context) ([]models.Driver, error)
}

// Request carries what matching needs from a ride or pending request.
type Request struct {
	Origin         models.Point
	PassengerCount int
	NeedsChildSeat bool
}

// Match is the selected driver with distance and arrival estimate.
type Match struct {
	Driver             models.Driver `json:"driver"`
	DistanceKm         float64       `json:"distance_km"`
	ArrivalEstimateMin int           `json:"arrival_estimate_minutes"`
}

type Service struct {
	Roster Roster
}

// FindNearest filters eligible drivers and returns the one closest to
// the request origin by great-circle distance.
func (s *Service) FindNearest(ctx context.Context, req Request) (*Match, error) {
	drivers, err := s.Roster.ActiveDrivers(ctx)
	if err != nil {
		return nil, err
	}

	var best *Match
	for _, d := range drivers {
		if d.Location == nil {
			continue
		}
		if req.PassengerCount > 0 && d.MaxPassengers < req.PassengerCount {
			continue
		}
		if req.NeedsChildSeat && !d.HasChildSeat {
			continue
		}
		dist := geo.Haversine(*d.Location, req.Origin)
		if best == nil || dist < best.DistanceKm {
			cand := d
			best = &Match{Driver: cand, DistanceKm: dist}
		}
	}
	if best == nil {
		observability.MatchMisses.Inc()
		return nil, models.NotFound("no eligible driver available")
	}
	best.ArrivalEstimateMin = int(math.Ceil(best.DistanceKm / approachSpeedKmh * 60))
	observability.MatchesTotal.Inc()
	return best, nil
}

// ForRide builds a match request from a persisted ride.
func ForRide(r *models.Ride) Request {
	return Request{
		Origin:         r.OriginPoint,
		PassengerCount: r.PassengerCount,
		NeedsChildSeat: r.HasChildrenUnder5,
	}
}
