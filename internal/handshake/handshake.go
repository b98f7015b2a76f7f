// Package handshake implements the two-step offer/accept protocol that
// commits a driver to a ride.
package handshake

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/storage"
)

type Service struct {
	Rides   storage.RideRepo
	Drivers storage.DriverRepo
	Clients storage.ClientRepo
	Offers  storage.OfferRepo

	Notifier dispatch.Notifier
	Logger   *slog.Logger

	// Offer and Accept are serialized per ride so concurrent accepts
	// cannot both consume the same offer.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(store storage.Store, notifier dispatch.Notifier, logger *slog.Logger) *Service {
	return &Service{
		Rides:    store,
		Drivers:  store,
		Clients:  store,
		Offers:   store,
		Notifier: notifier,
		Logger:   logger,
	}
}

func (s *Service) lockRide(rideID string) func() {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	l, ok := s.locks[rideID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[rideID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Offer records a pending offer for (driver, ride). Any prior offer for
// the same ride is discarded so a ride holds at most one live offer.
func (s *Service) Offer(ctx context.Context, driverID, rideID string) (*models.PendingOffer, error) {
	unlock := s.lockRide(rideID)
	defer unlock()

	ride, err := s.Rides.FindRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !ride.Assignable() {
		return nil, models.InvalidInput("ride is not open for offers", "status")
	}
	if _, err := s.Drivers.FindDriver(ctx, driverID); err != nil {
		return nil, err
	}

	offer := models.PendingOffer{DriverID: driverID, RideID: rideID, CreatedAt: time.Now()}
	if err := s.Offers.ReplaceOffer(ctx, offer); err != nil {
		return nil, err
	}
	observability.OffersIssued.Inc()

	if s.Notifier != nil {
		if err := s.Notifier.NotifyDriver(ctx, driverID, dispatch.Event{
			Type: "ride_offer", RideID: rideID,
			Payload: map[string]any{"origin": ride.Origin, "destination": ride.Destination, "price": ride.Price},
		}); err != nil && s.Logger != nil {
			s.Logger.Warn("offer notification failed", "driver_id", driverID, "ride_id", rideID, "error", err)
		}
	}
	return &offer, nil
}

// Accept consumes the pending offer matching exactly (driver, ride) and
// commits the driver: ride goes IN_PROGRESS, driver goes ON_THE_WAY.
// Of two concurrent accepts, exactly one wins; the loser sees not-found.
func (s *Service) Accept(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	unlock := s.lockRide(rideID)
	defer unlock()

	if err := s.Offers.ConsumeOffer(ctx, driverID, rideID); err != nil {
		return nil, err
	}

	ride, err := s.Rides.FindRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(ride.Status, models.RideInProgress) {
		return nil, models.InvalidInput("invalid transition to in_progress", "status")
	}

	now := time.Now()
	ride.DriverID = driverID
	ride.Status = models.RideInProgress
	ride.AssignedAt = &now
	if err := s.Rides.UpdateRide(ctx, ride); err != nil {
		return nil, err
	}
	observability.OffersAccepted.Inc()

	// Driver status sync is a side effect; it must not undo the accept.
	if err := s.Drivers.UpdateDriverStatus(ctx, driverID, models.DriverOnTheWay); err != nil && s.Logger != nil {
		s.Logger.Warn("driver status sync failed", "driver_id", driverID, "error", err)
	}

	if c, err := s.Clients.FindClient(ctx, ride.ClientID); err == nil {
		ride.Client = c
	}
	if d, err := s.Drivers.FindDriver(ctx, driverID); err == nil {
		ride.Driver = d
	}
	return ride, nil
}

// AssignByAdmin short-circuits matching: it plants a fresh offer for the
// chosen driver and, when the ride had already been committed, demotes
// it back to PENDING so the normal accept flow still applies.
func (s *Service) AssignByAdmin(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	unlock := s.lockRide(rideID)
	defer unlock()

	ride, err := s.Rides.FindRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !ride.Assignable() {
		return nil, models.InvalidInput("ride is not open for assignment", "status")
	}
	if _, err := s.Drivers.FindDriver(ctx, driverID); err != nil {
		return nil, err
	}

	if err := s.Offers.DeleteOfferForRide(ctx, rideID); err != nil {
		return nil, err
	}
	if err := s.Offers.ReplaceOffer(ctx, models.PendingOffer{DriverID: driverID, RideID: rideID, CreatedAt: time.Now()}); err != nil {
		return nil, err
	}

	ride.DriverID = driverID
	if ride.Status == models.RideInProgress {
		ride.Status = models.RidePending
	}
	if err := s.Rides.UpdateRide(ctx, ride); err != nil {
		return nil, err
	}

	if s.Notifier != nil {
		if err := s.Notifier.NotifyDriver(ctx, driverID, dispatch.Event{Type: "ride_assigned", RideID: rideID}); err != nil && s.Logger != nil {
			s.Logger.Warn("assignment notification failed", "driver_id", driverID, "ride_id", rideID, "error", err)
		}
	}
	return ride, nil
}
