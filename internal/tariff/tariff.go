package tariff

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

// Calculation type tags, reported with every quote for observability.
const (
	CalcVipFlat     = "vip_flat"
	CalcVipMinute   = "vip_minute"
	CalcZoneSpecial = "zone_special"
	CalcZoneFlat    = "zone_flat"
	CalcZoneMinute  = "zone_minute"
)

// ZoneFinder supplies the zone containing a point and any per-client
// special rate for that zone.
type ZoneFinder interface {
	FindZoneContaining(ctx context.Context, p models.Point) (*models.Zone, error)
	FindZoneClientRate(ctx context.Context, clientID, zoneID string) (*models.ZoneClient, error)
}

// Engine computes ride fares through a fixed priority cascade:
// VIP flat > VIP per-minute > zone-client override > zone flat > zone per-minute.
type Engine struct {
	Zones ZoneFinder

	// RoundToFive rounds the post-surcharge total to the nearest
	// multiple of 5 when enabled. Kept as policy, not hard-coded.
	RoundToFive bool

	// Now is overridable so surcharge windows are testable.
	Now func() time.Time

	Logger *slog.Logger
}

func NewEngine(zones ZoneFinder, logger *slog.Logger) *Engine {
	return &Engine{Zones: zones, RoundToFive: true, Now: time.Now, Logger: logger}
}

// CalculateFare prices a ride originating at origin with the given
// duration. The zone is the one whose polygon contains origin; no
// containing zone is a not-found error.
func (e *Engine) CalculateFare(ctx context.Context, client *models.Client, origin models.Point, durationMinutes float64) (*models.FareQuote, error) {
	zone, err := e.Zones.FindZoneContaining(ctx, origin)
	if err != nil {
		return nil, err
	}
	return e.quote(ctx, client, zone, durationMinutes), nil
}

func (e *Engine) quote(ctx context.Context, client *models.Client, zone *models.Zone, durationMinutes float64) *models.FareQuote {
	base, calcType := e.baseFare(ctx, client, zone, durationMinutes)

	var night, weekend float64
	if timeBased(calcType) {
		now := e.now()
		if hour := now.Hour(); hour >= 22 || hour < 5 {
			night = base * zone.NightSurchargePct / 100
		}
		if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
			weekend = base * zone.WeekendSurchargePct / 100
		}
	}

	total := base + night + weekend
	final := total
	if e.RoundToFive {
		final = math.Round(total/5) * 5
	}

	q := &models.FareQuote{
		BaseFare:             base,
		FinalFare:            final,
		ZoneID:               zone.ID,
		ZoneName:             zone.Name,
		CommissionPercentage: zone.CommissionPct,
		CommissionAmount:     final * zone.CommissionPct / 100,
		CalculationType:      calcType,
		Breakdown: models.FareBreakdown{
			TimeCost:         base,
			NightSurcharge:   night,
			WeekendSurcharge: weekend,
		},
	}
	if e.Logger != nil {
		e.Logger.Debug("fare calculated",
			"zone", zone.Name, "type", calcType,
			"base", base, "final", final)
	}
	return q
}

// baseFare walks the cascade and stops at the first matching rule.
func (e *Engine) baseFare(ctx context.Context, client *models.Client, zone *models.Zone, durationMinutes float64) (float64, string) {
	if client != nil && client.IsVip {
		if client.VipRateType == models.VipFlatRate && client.FlatRate > 0 {
			return client.FlatRate, CalcVipFlat
		}
		if client.VipRateType == models.VipMinuteRate && client.MinuteRate > 0 {
			return math.Max(client.MinuteRate*durationMinutes, zone.MinimumFare), CalcVipMinute
		}
	}
	if client != nil {
		if special, err := e.Zones.FindZoneClientRate(ctx, client.ID, zone.ID); err == nil && special != nil && special.Active {
			return special.Rate, CalcZoneSpecial
		}
	}
	if zone.PricingMode == models.ZoneFlatRate && zone.FlatRate > 0 {
		return zone.FlatRate, CalcZoneFlat
	}
	return math.Max(zone.PricePerMinute*durationMinutes, zone.MinimumFare), CalcZoneMinute
}

// Surcharges apply only to duration-based rules, never to flat fares.
func timeBased(calcType string) bool {
	return calcType == CalcVipMinute || calcType == CalcZoneMinute
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
