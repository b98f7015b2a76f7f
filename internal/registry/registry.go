// Package registry ingests driver position fixes and serves the
// active, available driver roster used by the matcher.
package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/storage"
)

// GeoIndex mirrors current positions into a fast geospatial index
// (Redis in production). Mirroring is best-effort.
type GeoIndex interface {
	Upsert(ctx context.Context, d models.Driver) error
}

type Service struct {
	Drivers storage.DriverRepo
	Offers  storage.OfferRepo
	History storage.PositionHistoryRepo

	// Index is optional; nil disables mirroring.
	Index GeoIndex

	Logger *slog.Logger
}

// RecordPosition validates and stores one GPS fix: the driver's current
// point is updated and an immutable history row is appended.
func (s *Service) RecordPosition(ctx context.Context, fix models.PositionFix) error {
	if fix.DriverID == "" {
		return models.InvalidInput("driver id required", "driver_id")
	}
	if err := geo.ValidatePoint(fix.Location); err != nil {
		return err
	}

	d, err := s.Drivers.FindDriver(ctx, fix.DriverID)
	if err != nil {
		return err
	}
	if !d.Active {
		return models.InvalidInput("driver is not active", "driver_id")
	}

	if fix.At.IsZero() {
		fix.At = time.Now()
	}
	if err := s.Drivers.UpdateDriverLocation(ctx, fix.DriverID, fix.Location); err != nil {
		return err
	}
	if err := s.History.AppendPosition(ctx, fix); err != nil {
		return err
	}
	observability.PositionsRecorded.Inc()

	if s.Index != nil {
		d.Location = &fix.Location
		if err := s.Index.Upsert(ctx, *d); err != nil && s.Logger != nil {
			s.Logger.Warn("geo index upsert failed", "driver_id", d.ID, "error", err)
		}
	}
	return nil
}

// ActiveDrivers returns drivers that are active, not offline, have a
// known position and carry no outstanding pending offer. This is the
// candidate pool for matching.
func (s *Service) ActiveDrivers(ctx context.Context) ([]models.Driver, error) {
	drivers, err := s.Drivers.ListActiveDrivers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Driver, 0, len(drivers))
	for _, d := range drivers {
		if d.Status == models.DriverOffline || d.Location == nil {
			continue
		}
		busy, err := s.Offers.HasOfferForDriver(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if busy {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// RecentPositions exposes the immutable history for a driver.
func (s *Service) RecentPositions(ctx context.Context, driverID string, limit int) ([]models.PositionFix, error) {
	if _, err := s.Drivers.FindDriver(ctx, driverID); err != nil {
		return nil, err
	}
	return s.History.RecentPositions(ctx, driverID, limit)
}
