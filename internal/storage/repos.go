package storage

import (
	"context"

	"github.com/example/taxi-dispatch/internal/models"
)

// RideRepo defines persistence operations for rides.
type RideRepo interface {
	SaveRide(ctx context.Context, r *models.Ride) error
	UpdateRide(ctx context.Context, r *models.Ride) error
	FindRide(ctx context.Context, id string) (*models.Ride, error)
	FindRideByTrackingCode(ctx context.Context, code string) (*models.Ride, error)
	FindPendingRideForClient(ctx context.Context, clientID string) (*models.Ride, error)
	// FindRideForDriver returns the driver's unique ride in the given status.
	FindRideForDriver(ctx context.Context, driverID string, status models.RideStatus) (*models.Ride, error)
}

type ClientRepo interface {
	FindClient(ctx context.Context, id string) (*models.Client, error)
	FindClientByPhone(ctx context.Context, phone string) (*models.Client, error)
}

type DriverRepo interface {
	FindDriver(ctx context.Context, id string) (*models.Driver, error)
	ListActiveDrivers(ctx context.Context) ([]models.Driver, error)
	UpdateDriverStatus(ctx context.Context, id string, status models.DriverStatus) error
	UpdateDriverLocation(ctx context.Context, id string, p models.Point) error
}

// OfferRepo manages pending offers. ReplaceOffer and ConsumeOffer must
// be atomic so two concurrent Accepts cannot both win.
type OfferRepo interface {
	// ReplaceOffer removes any existing offer for the ride and inserts o.
	ReplaceOffer(ctx context.Context, o models.PendingOffer) error
	// ConsumeOffer deletes the offer matching exactly (driverID, rideID),
	// or returns not-found if no such pair exists.
	ConsumeOffer(ctx context.Context, driverID, rideID string) error
	DeleteOfferForRide(ctx context.Context, rideID string) error
	FindOfferForRide(ctx context.Context, rideID string) (*models.PendingOffer, error)
	HasOfferForDriver(ctx context.Context, driverID string) (bool, error)
}

type ZoneRepo interface {
	FindZoneContaining(ctx context.Context, p models.Point) (*models.Zone, error)
	FindZoneClientRate(ctx context.Context, clientID, zoneID string) (*models.ZoneClient, error)
}

// PositionHistoryRepo appends immutable position records.
type PositionHistoryRepo interface {
	AppendPosition(ctx context.Context, fix models.PositionFix) error
	RecentPositions(ctx context.Context, driverID string, limit int) ([]models.PositionFix, error)
}

// Store bundles every repository a fully wired service needs.
type Store interface {
	RideRepo
	ClientRepo
	DriverRepo
	OfferRepo
	ZoneRepo
	PositionHistoryRepo
}
