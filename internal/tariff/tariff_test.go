package tariff

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

type fakeZones struct {
	zone    *models.Zone
	special *models.ZoneClient
}

func (f *fakeZones) FindZoneContaining(ctx context.Context, p models.Point) (*models.Zone, error) {
	if f.zone == nil {
		return nil, models.NotFound("no zone contains point")
	}
	return f.zone, nil
}

func (f *fakeZones) FindZoneClientRate(ctx context.Context, clientID, zoneID string) (*models.ZoneClient, error) {
	if f.special == nil {
		return nil, models.NotFound("no special rate")
	}
	return f.special, nil
}

func testZone() *models.Zone {
	return &models.Zone{
		ID:                  "z1",
		Name:                "Centro",
		PricingMode:         models.ZoneMinuteRate,
		PricePerMinute:      2,
		MinimumFare:         10,
		NightSurchargePct:   20,
		WeekendSurchargePct: 10,
		CommissionPct:       15,
	}
}

// weekday noon: no surcharges
var weekdayNoon = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

func engineAt(zones ZoneFinder, at time.Time) *Engine {
	e := NewEngine(zones, nil)
	e.Now = func() time.Time { return at }
	return e
}

func TestVipFlatIgnoresDurationAndSurcharges(t *testing.T) {
	client := &models.Client{ID: "c1", IsVip: true, VipRateType: models.VipFlatRate, FlatRate: 75}
	// Saturday night: surcharges would apply to a time-based rule.
	satNight := time.Date(2026, 8, 29, 23, 0, 0, 0, time.UTC)
	e := engineAt(&fakeZones{zone: testZone()}, satNight)

	q, err := e.CalculateFare(context.Background(), client, models.Point{}, 500)
	if err != nil {
		t.Fatal(err)
	}
	if q.BaseFare != 75 {
		t.Fatalf("expected base 75, got %f", q.BaseFare)
	}
	if q.Breakdown.NightSurcharge != 0 || q.Breakdown.WeekendSurcharge != 0 {
		t.Fatalf("flat rates must not carry surcharges: %+v", q.Breakdown)
	}
	if q.CalculationType != CalcVipFlat {
		t.Fatalf("expected %s, got %s", CalcVipFlat, q.CalculationType)
	}
}

func TestVipMinuteWithMinimumFare(t *testing.T) {
	client := &models.Client{ID: "c1", IsVip: true, VipRateType: models.VipMinuteRate, MinuteRate: 3}
	e := engineAt(&fakeZones{zone: testZone()}, weekdayNoon)

	// 2 minutes at 3/min = 6, below the 10 minimum.
	q, err := e.CalculateFare(context.Background(), client, models.Point{}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if q.BaseFare != 10 {
		t.Fatalf("expected minimum fare 10, got %f", q.BaseFare)
	}
	if q.CalculationType != CalcVipMinute {
		t.Fatalf("expected %s, got %s", CalcVipMinute, q.CalculationType)
	}
}

func TestZoneSpecialBeatsZoneRules(t *testing.T) {
	zones := &fakeZones{
		zone:    testZone(),
		special: &models.ZoneClient{ClientID: "c1", ZoneID: "z1", Rate: 42, Active: true},
	}
	// Sunday night: surcharges must still not apply to the override.
	sunNight := time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC)
	e := engineAt(zones, sunNight)
	e.RoundToFive = false

	q, err := e.CalculateFare(context.Background(), &models.Client{ID: "c1"}, models.Point{}, 60)
	if err != nil {
		t.Fatal(err)
	}
	if q.BaseFare != 42 || q.FinalFare != 42 {
		t.Fatalf("expected override fare 42, got base=%f final=%f", q.BaseFare, q.FinalFare)
	}
	if q.CalculationType != CalcZoneSpecial {
		t.Fatalf("expected %s, got %s", CalcZoneSpecial, q.CalculationType)
	}
}

func TestInactiveSpecialFallsThrough(t *testing.T) {
	zones := &fakeZones{
		zone:    testZone(),
		special: &models.ZoneClient{ClientID: "c1", ZoneID: "z1", Rate: 42, Active: false},
	}
	e := engineAt(zones, weekdayNoon)
	q, err := e.CalculateFare(context.Background(), &models.Client{ID: "c1"}, models.Point{}, 30)
	if err != nil {
		t.Fatal(err)
	}
	if q.CalculationType != CalcZoneMinute {
		t.Fatalf("expected fall-through to %s, got %s", CalcZoneMinute, q.CalculationType)
	}
}

func TestZoneFlatRate(t *testing.T) {
	zone := testZone()
	zone.PricingMode = models.ZoneFlatRate
	zone.FlatRate = 33
	e := engineAt(&fakeZones{zone: zone}, weekdayNoon)

	q, err := e.CalculateFare(context.Background(), nil, models.Point{}, 60)
	if err != nil {
		t.Fatal(err)
	}
	if q.BaseFare != 33 {
		t.Fatalf("expected zone flat 33, got %f", q.BaseFare)
	}
	if q.FinalFare != 35 {
		t.Fatalf("expected rounding to 35, got %f", q.FinalFare)
	}
	if q.CalculationType != CalcZoneFlat {
		t.Fatalf("expected %s, got %s", CalcZoneFlat, q.CalculationType)
	}
}

func TestZoneMinuteSurchargesAndRounding(t *testing.T) {
	// Saturday 23:00: both surcharges active.
	satNight := time.Date(2026, 8, 29, 23, 0, 0, 0, time.UTC)
	e := engineAt(&fakeZones{zone: testZone()}, satNight)

	// 30 min * 2 = 60 base; +20% night = 12; +10% weekend = 6; total 78 -> 80.
	q, err := e.CalculateFare(context.Background(), nil, models.Point{}, 30)
	if err != nil {
		t.Fatal(err)
	}
	if q.BaseFare != 60 {
		t.Fatalf("expected base 60, got %f", q.BaseFare)
	}
	if q.Breakdown.NightSurcharge != 12 || q.Breakdown.WeekendSurcharge != 6 {
		t.Fatalf("unexpected surcharges: %+v", q.Breakdown)
	}
	if q.FinalFare != 80 {
		t.Fatalf("expected 80, got %f", q.FinalFare)
	}
	if q.CommissionAmount != 12 { // 15% of 80
		t.Fatalf("expected commission 12, got %f", q.CommissionAmount)
	}
}

func TestDurationFaresAlwaysMultipleOfFive(t *testing.T) {
	e := engineAt(&fakeZones{zone: testZone()}, weekdayNoon)
	for _, dur := range []float64{1, 7, 13.5, 29, 61.2, 179} {
		q, err := e.CalculateFare(context.Background(), nil, models.Point{}, dur)
		if err != nil {
			t.Fatal(err)
		}
		if math.Mod(q.FinalFare, 5) != 0 {
			t.Fatalf("duration=%f: final fare %f not a multiple of 5", dur, q.FinalFare)
		}
	}
}

func TestNoContainingZone(t *testing.T) {
	e := engineAt(&fakeZones{}, weekdayNoon)
	_, err := e.CalculateFare(context.Background(), nil, models.Point{Lon: 1, Lat: 1}, 10)
	if !models.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
