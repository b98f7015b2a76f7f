// Package lifecycle owns the ride state machine and the
// geocode -> route -> price -> persist creation pipeline.
package lifecycle

import (
	"context"
	"crypto/rand"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/payments"
	"github.com/example/taxi-dispatch/internal/routing"
	"github.com/example/taxi-dispatch/internal/storage"
	"github.com/example/taxi-dispatch/internal/tariff"
)

// Sanity bounds guarding against geocoding errors producing absurd routes.
const (
	maxDistanceKm      = 100.0
	maxDurationMinutes = 180.0
)

type Service struct {
	Rides   storage.RideRepo
	Clients storage.ClientRepo
	Drivers storage.DriverRepo

	Geocoder routing.Geocoder
	Router   routing.Router
	Tariff   *tariff.Engine

	// Notifier and Payments are best-effort collaborators: their
	// failures are logged, never propagated.
	Notifier dispatch.Notifier
	Payments payments.Processor

	Logger *slog.Logger
}

// CreateRequest is the plain request struct for ride creation.
type CreateRequest struct {
	ClientPhone string `json:"client_phone"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`

	// OriginPoint, when supplied, skips origin geocoding.
	OriginPoint *models.Point `json:"origin_point,omitempty"`
	// ContextPoint is the caller's last known coordinate, used as the
	// origin fallback when geocoding fails.
	ContextPoint *models.Point `json:"context_point,omitempty"`

	PassengerCount    int    `json:"passenger_count"`
	HasChildrenUnder5 bool   `json:"has_children_under_5"`
	IsRoundTrip       bool   `json:"is_round_trip"`
	PaymentMethod     string `json:"payment_method"`
}

// Validate returns an invalid-input error listing every violated field.
func (r *CreateRequest) Validate() error {
	var fields []string
	if strings.TrimSpace(r.ClientPhone) == "" {
		fields = append(fields, "client_phone")
	}
	if strings.TrimSpace(r.Origin) == "" && r.OriginPoint == nil {
		fields = append(fields, "origin")
	}
	if strings.TrimSpace(r.Destination) == "" {
		fields = append(fields, "destination")
	}
	if r.PassengerCount < 1 {
		fields = append(fields, "passenger_count")
	}
	if r.OriginPoint != nil {
		if err := geo.ValidatePoint(*r.OriginPoint); err != nil {
			fields = append(fields, "origin_point")
		}
	}
	if len(fields) > 0 {
		return models.InvalidInput("invalid ride request", fields...)
	}
	return nil
}

// Create runs the full creation pipeline and persists a PENDING ride.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Ride, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	client, err := s.Clients.FindClientByPhone(ctx, req.ClientPhone)
	if err != nil {
		return nil, err
	}
	if _, err := s.Rides.FindPendingRideForClient(ctx, client.ID); err == nil {
		return nil, models.Conflict("client %s already has a pending ride", client.ID)
	}

	origin, dest, route, err := s.resolveRoute(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	quote, err := s.Tariff.CalculateFare(ctx, client, origin, route.DurationMinutes)
	observability.FareCalcDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ride := &models.Ride{
		ID:                   uuid.NewString(),
		ClientID:             client.ID,
		Origin:               req.Origin,
		Destination:          req.Destination,
		OriginPoint:          origin,
		DestPoint:            dest,
		Status:               models.RidePending,
		Price:                quote.FinalFare,
		CommissionPercentage: quote.CommissionPercentage,
		CommissionAmount:     quote.CommissionAmount,
		CalculationType:      quote.CalculationType,
		DistanceKm:           route.DistanceKm,
		DurationMinutes:      route.DurationMinutes,
		PassengerCount:       req.PassengerCount,
		HasChildrenUnder5:    req.HasChildrenUnder5,
		IsRoundTrip:          req.IsRoundTrip,
		PaymentMethod:        req.PaymentMethod,
		TrackingCode:         newTrackingCode(),
		RequestedAt:          &now,
	}
	if err := s.Rides.SaveRide(ctx, ride); err != nil {
		return nil, err
	}
	observability.RidesCreated.Inc()

	if s.Payments != nil {
		if holdID, err := s.Payments.HoldFare(ctx, ride); err != nil {
			s.warn("payment hold failed", "ride_id", ride.ID, "error", err)
		} else {
			ride.PaymentHoldID = holdID
			if err := s.Rides.UpdateRide(ctx, ride); err != nil {
				s.warn("saving payment hold id failed", "ride_id", ride.ID, "error", err)
			}
		}
	}

	ride.Client = client
	return ride, nil
}

// EstimateFare runs the same pipeline as Create without persisting.
func (s *Service) EstimateFare(ctx context.Context, req CreateRequest) (*models.FareQuote, *routing.Route, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	client, err := s.Clients.FindClientByPhone(ctx, req.ClientPhone)
	if err != nil {
		return nil, nil, err
	}
	origin, _, route, err := s.resolveRoute(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	quote, err := s.Tariff.CalculateFare(ctx, client, origin, route.DurationMinutes)
	if err != nil {
		return nil, nil, err
	}
	return quote, &route, nil
}

// resolveRoute turns free-text origin/destination into coordinates and
// a routed distance/duration, enforcing the sanity bounds.
func (s *Service) resolveRoute(ctx context.Context, req CreateRequest) (origin, dest models.Point, route routing.Route, err error) {
	switch {
	case req.OriginPoint != nil:
		origin = *req.OriginPoint
	case s.Geocoder == nil:
		if req.ContextPoint == nil {
			return origin, dest, route, models.Upstream("no geocoding provider configured", nil)
		}
		origin = *req.ContextPoint
	default:
		origin, err = s.Geocoder.Geocode(ctx, req.Origin, "")
		if err != nil {
			if req.ContextPoint == nil {
				return origin, dest, route, models.Upstream("origin geocoding failed", err)
			}
			s.warn("origin geocoding failed, using context point", "origin", req.Origin, "error", err)
			origin = *req.ContextPoint
		}
	}

	if s.Geocoder == nil {
		return origin, dest, route, models.Upstream("no geocoding provider configured", nil)
	}
	dest, err = s.Geocoder.Geocode(ctx, req.Destination, req.Origin)
	if err != nil {
		return origin, dest, route, models.Upstream("destination geocoding failed", err)
	}

	route, err = s.Router.Route(ctx, origin, dest)
	if err != nil {
		return origin, dest, route, models.Upstream("routing failed", err)
	}

	var fields []string
	if route.DistanceKm > maxDistanceKm {
		fields = append(fields, "distance_km")
	}
	if route.DurationMinutes > maxDurationMinutes {
		fields = append(fields, "duration_minutes")
	}
	if len(fields) > 0 {
		return origin, dest, route, models.InvalidInput("route outside sane bounds", fields...)
	}
	return origin, dest, route, nil
}

// StartTrip moves the driver's unique IN_PROGRESS ride to ON_THE_WAY.
func (s *Service) StartTrip(ctx context.Context, driverID string) (*models.Ride, error) {
	ride, err := s.Rides.FindRideForDriver(ctx, driverID, models.RideInProgress)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	ride.Status = models.RideOnTheWay
	if ride.StartedAt == nil {
		ride.StartedAt = &now
	}
	if err := s.Rides.UpdateRide(ctx, ride); err != nil {
		return nil, err
	}
	s.syncDriverStatus(ctx, driverID, models.DriverOnTheWay)
	return ride, nil
}

// CompleteTrip moves the driver's unique ON_THE_WAY ride to COMPLETED
// and frees the driver.
func (s *Service) CompleteTrip(ctx context.Context, driverID string) (*models.Ride, error) {
	ride, err := s.Rides.FindRideForDriver(ctx, driverID, models.RideOnTheWay)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	ride.Status = models.RideCompleted
	ride.EndedAt = &now
	if err := s.Rides.UpdateRide(ctx, ride); err != nil {
		return nil, err
	}
	observability.RidesCompleted.Inc()

	s.syncDriverStatus(ctx, driverID, models.DriverAvailable)

	if s.Notifier != nil {
		if err := s.Notifier.NotifyClient(ctx, ride.ClientID, dispatch.Event{
			Type: "ride_completed", RideID: ride.ID, Message: "your ride is complete",
		}); err != nil {
			s.warn("completion notification failed", "ride_id", ride.ID, "error", err)
		}
		if err := s.Notifier.ClearChat(ctx, ride.ID); err != nil {
			s.warn("chat clear failed", "ride_id", ride.ID, "error", err)
		}
	}
	if s.Payments != nil && ride.PaymentHoldID != "" {
		if err := s.Payments.CaptureFare(ctx, ride.PaymentHoldID); err != nil {
			s.warn("payment capture failed", "ride_id", ride.ID, "error", err)
		}
	}
	return ride, nil
}

// Cancel moves the ride to CANCELLED from any non-terminal state.
func (s *Service) Cancel(ctx context.Context, rideID string) (*models.Ride, error) {
	ride, err := s.Rides.FindRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status == models.RideCompleted || ride.Status == models.RideCancelled {
		return nil, models.InvalidInput("ride already "+string(ride.Status), "status")
	}

	if ride.Status == models.RideInProgress && ride.DriverID != "" && s.Notifier != nil {
		if err := s.Notifier.NotifyDriver(ctx, ride.DriverID, dispatch.Event{
			Type: "ride_cancelled", RideID: ride.ID, Message: "the ride was cancelled",
		}); err != nil {
			s.warn("cancellation notification failed", "ride_id", ride.ID, "error", err)
		}
	}
	if ride.DriverID != "" {
		s.syncDriverStatus(ctx, ride.DriverID, models.DriverAvailable)
	}

	now := time.Now()
	ride.Status = models.RideCancelled
	ride.CancelledAt = &now
	if err := s.Rides.UpdateRide(ctx, ride); err != nil {
		return nil, err
	}
	observability.RidesCancelled.Inc()

	if s.Notifier != nil {
		if err := s.Notifier.ClearChat(ctx, ride.ID); err != nil {
			s.warn("chat clear failed", "ride_id", ride.ID, "error", err)
		}
	}
	if s.Payments != nil && ride.PaymentHoldID != "" {
		if err := s.Payments.ReleaseFare(ctx, ride.PaymentHoldID); err != nil {
			s.warn("payment release failed", "ride_id", ride.ID, "error", err)
		}
	}
	return ride, nil
}

// CancelByClientPhone cancels the caller's pending ride.
func (s *Service) CancelByClientPhone(ctx context.Context, phone string) (*models.Ride, error) {
	client, err := s.Clients.FindClientByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	ride, err := s.Rides.FindPendingRideForClient(ctx, client.ID)
	if err != nil {
		return nil, err
	}
	return s.Cancel(ctx, ride.ID)
}

// ChangeStatus is the administrative transition path. It validates
// against the same transition table, stamps the timestamp for a state
// the first time it is entered, and frees the driver on terminal states.
func (s *Service) ChangeStatus(ctx context.Context, rideID string, next models.RideStatus) (*models.Ride, error) {
	if !models.ValidRideStatus(next) {
		return nil, models.InvalidInput("unknown status "+string(next), "status")
	}
	ride, err := s.Rides.FindRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(ride.Status, next) {
		return nil, models.InvalidInput("invalid transition "+string(ride.Status)+" -> "+string(next), "status")
	}

	now := time.Now()
	ride.Status = next
	switch next {
	case models.RideInProgress:
		if ride.AssignedAt == nil {
			ride.AssignedAt = &now
		}
	case models.RideOnTheWay:
		if ride.StartedAt == nil {
			ride.StartedAt = &now
		}
	case models.RideCompleted:
		if ride.EndedAt == nil {
			ride.EndedAt = &now
		}
	case models.RideCancelled:
		if ride.CancelledAt == nil {
			ride.CancelledAt = &now
		}
	}
	if err := s.Rides.UpdateRide(ctx, ride); err != nil {
		return nil, err
	}

	if (next == models.RideCompleted || next == models.RideCancelled) && ride.DriverID != "" {
		s.syncDriverStatus(ctx, ride.DriverID, models.DriverAvailable)
	}
	return ride, nil
}

// RateRide records the client's rating for a completed ride.
func (s *Service) RateRide(ctx context.Context, rideID string, rating float64, comment string) (*models.Ride, error) {
	if rating < 1 || rating > 5 {
		return nil, models.InvalidInput("rating must be between 1 and 5", "rating")
	}
	ride, err := s.Rides.FindRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideCompleted {
		return nil, models.InvalidInput("only completed rides can be rated", "status")
	}
	ride.ClientRating = rating
	ride.ClientComment = comment
	if err := s.Rides.UpdateRide(ctx, ride); err != nil {
		return nil, err
	}
	return ride, nil
}

// syncDriverStatus is a side effect and never fails the caller.
func (s *Service) syncDriverStatus(ctx context.Context, driverID string, status models.DriverStatus) {
	if err := s.Drivers.UpdateDriverStatus(ctx, driverID, status); err != nil {
		s.warn("driver status sync failed", "driver_id", driverID, "status", status, "error", err)
	}
}

func (s *Service) warn(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Warn(msg, args...)
	}
}

const trackingAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newTrackingCode returns an 8-character uppercase alphanumeric code.
func newTrackingCode() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = trackingAlphabet[int(b[i])%len(trackingAlphabet)]
	}
	return string(b)
}
