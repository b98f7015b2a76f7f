package models

import "time"

// Point is a WGS84 coordinate. The wire form is either a
// {longitude, latitude} pair or a WKT POINT(lon lat) string.
type Point struct {
	Lon float64 `json:"longitude"`
	Lat float64 `json:"latitude"`
}

type RideStatus string

const (
	RidePending    RideStatus = "pending"
	RideInProgress RideStatus = "in_progress"
	RideOnTheWay   RideStatus = "on_the_way"
	RideCompleted  RideStatus = "completed"
	RideCancelled  RideStatus = "cancelled"
)

// rideTransitions is the full transition table. COMPLETED and CANCELLED
// are terminal: they have no outgoing edges.
var rideTransitions = map[RideStatus][]RideStatus{
	RidePending:    {RideInProgress, RideCancelled},
	RideInProgress: {RideOnTheWay, RideCompleted, RideCancelled},
	RideOnTheWay:   {RideCompleted, RideCancelled},
	RideCompleted:  {},
	RideCancelled:  {},
}

// CanTransition reports whether status from may move to status to.
func CanTransition(from, to RideStatus) bool {
	for _, next := range rideTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidRideStatus reports whether s is one of the known wire statuses.
func ValidRideStatus(s RideStatus) bool {
	_, ok := rideTransitions[s]
	return ok
}

type DriverStatus string

const (
	DriverAvailable DriverStatus = "available"
	DriverBusy      DriverStatus = "busy"
	DriverOffline   DriverStatus = "offline"
	DriverOnTheWay  DriverStatus = "on_the_way"
)

type Ride struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	// DriverID is empty until the offer/accept handshake commits a driver.
	DriverID string `json:"driver_id,omitempty"`

	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	OriginPoint Point  `json:"origin_point"`
	DestPoint   Point  `json:"destination_point"`

	Status RideStatus `json:"status"`

	Price                float64 `json:"price"`
	CommissionPercentage float64 `json:"commission_percentage"`
	CommissionAmount     float64 `json:"commission_amount"`
	DistanceKm           float64 `json:"distance_km"`
	DurationMinutes      float64 `json:"duration_minutes"`
	CalculationType      string  `json:"calculation_type,omitempty"`

	PassengerCount    int    `json:"passenger_count"`
	HasChildrenUnder5 bool   `json:"has_children_under_5"`
	IsRoundTrip       bool   `json:"is_round_trip"`
	PaymentMethod     string `json:"payment_method,omitempty"`

	TrackingCode string `json:"tracking_code"`

	RequestedAt *time.Time `json:"requested_at,omitempty"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	ClientRating  float64 `json:"client_rating,omitempty"`
	ClientComment string  `json:"client_comment,omitempty"`

	PaymentHoldID string `json:"-"`

	// Joined records, populated by lookups that return the ride with
	// its parties attached. Never persisted from here.
	Client *Client `json:"client,omitempty"`
	Driver *Driver `json:"driver,omitempty"`
}

// Assignable reports whether the ride may still be offered to a driver.
func (r *Ride) Assignable() bool {
	return r.Status == RidePending || r.Status == RideInProgress
}

type Driver struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`

	Status DriverStatus `json:"status"`

	Location          *Point     `json:"location,omitempty"`
	LocationUpdatedAt *time.Time `json:"location_updated_at,omitempty"`

	MaxPassengers int  `json:"max_passengers"`
	HasChildSeat  bool `json:"has_child_seat"`

	Active   bool    `json:"active"`
	Verified bool    `json:"verified"`
	Rating   float64 `json:"rating"`
}

type VipRateType string

const (
	VipFlatRate   VipRateType = "flat_rate"
	VipMinuteRate VipRateType = "minute_rate"
)

type Client struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`

	IsVip       bool        `json:"is_vip"`
	VipRateType VipRateType `json:"vip_rate_type,omitempty"`
	FlatRate    float64     `json:"flat_rate,omitempty"`
	MinuteRate  float64     `json:"minute_rate,omitempty"`
}

type ZonePricingMode string

const (
	ZoneFlatRate   ZonePricingMode = "flat_rate"
	ZoneMinuteRate ZonePricingMode = "minute_rate"
)

type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Area is the zone polygon, a closed ring of WGS84 points.
	Area []Point `json:"area"`

	PricingMode         ZonePricingMode `json:"pricing_mode"`
	FlatRate            float64         `json:"flat_rate,omitempty"`
	PricePerMinute      float64         `json:"price_per_minute"`
	MinimumFare         float64         `json:"minimum_fare"`
	NightSurchargePct   float64         `json:"night_surcharge_pct"`
	WeekendSurchargePct float64         `json:"weekend_surcharge_pct"`
	CommissionPct       float64         `json:"commission_pct"`
}

// ZoneClient is a special flat fare for one (client, zone) pair,
// overriding the zone's own pricing mode.
type ZoneClient struct {
	ClientID string  `json:"client_id"`
	ZoneID   string  `json:"zone_id"`
	Rate     float64 `json:"rate"`
	Active   bool    `json:"active"`
}

// PendingOffer is a provisional (driver, ride) pairing awaiting the
// driver's acceptance. A ride holds at most one live offer.
type PendingOffer struct {
	DriverID  string    `json:"driver_id"`
	RideID    string    `json:"ride_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PositionFix is one raw GPS sample from a driver device.
type PositionFix struct {
	DriverID string    `json:"driver_id"`
	Location Point     `json:"location"`
	SpeedKmh *float64  `json:"speed_kmh,omitempty"`
	Heading  *float64  `json:"heading,omitempty"`
	RideID   string    `json:"ride_id,omitempty"`
	At       time.Time `json:"at"`
}

type FareBreakdown struct {
	TimeCost         float64 `json:"timeCost"`
	NightSurcharge   float64 `json:"nightSurcharge"`
	WeekendSurcharge float64 `json:"weekendSurcharge"`
}

// FareQuote is the fare calculation output contract.
type FareQuote struct {
	BaseFare             float64       `json:"baseFare"`
	FinalFare            float64       `json:"finalFare"`
	ZoneID               string        `json:"zoneId"`
	ZoneName             string        `json:"zoneName"`
	CommissionPercentage float64       `json:"commissionPercentage"`
	CommissionAmount     float64       `json:"commissionAmount"`
	CalculationType      string        `json:"calculationType"`
	Breakdown            FareBreakdown `json:"breakdown"`
}
