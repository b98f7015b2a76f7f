package lifecycle

import (
	"context"
	"strings"

	"github.com/example/taxi-dispatch/internal/models"
)

// TrackingView is the reduced, public shape returned for tracking-code
// lookups. Phone numbers are partially masked.
type TrackingView struct {
	TrackingCode string            `json:"tracking_code"`
	Status       models.RideStatus `json:"status"`
	Origin       string            `json:"origin"`
	Destination  string            `json:"destination"`
	Price        float64           `json:"price"`
	ClientPhone  string            `json:"client_phone,omitempty"`
	DriverName   string            `json:"driver_name,omitempty"`
	DriverPhone  string            `json:"driver_phone,omitempty"`
}

// TrackByCode looks a ride up by its public tracking code. No
// authentication is involved, so the view is deliberately reduced.
func (s *Service) TrackByCode(ctx context.Context, code string) (*TrackingView, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 8 {
		return nil, models.InvalidInput("tracking code must be 8 characters", "tracking_code")
	}
	ride, err := s.Rides.FindRideByTrackingCode(ctx, code)
	if err != nil {
		return nil, err
	}
	view := &TrackingView{
		TrackingCode: ride.TrackingCode,
		Status:       ride.Status,
		Origin:       ride.Origin,
		Destination:  ride.Destination,
		Price:        ride.Price,
	}
	if c, err := s.Clients.FindClient(ctx, ride.ClientID); err == nil {
		view.ClientPhone = maskPhone(c.Phone)
	}
	if ride.DriverID != "" {
		if d, err := s.Drivers.FindDriver(ctx, ride.DriverID); err == nil {
			view.DriverName = d.Name
			view.DriverPhone = maskPhone(d.Phone)
		}
	}
	return view, nil
}

// maskPhone keeps the last four digits visible.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
