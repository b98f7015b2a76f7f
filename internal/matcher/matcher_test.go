package matcher

import (
	"context"
	"testing"

	"github.com/example/taxi-dispatch/internal/models"
)

type fakeRoster struct{ drivers []models.Driver }

func (f *fakeRoster) ActiveDrivers(ctx context.Context) ([]models.Driver, error) {
	return f.drivers, nil
}

// driverAt places a driver at approximately km kilometers north of the origin.
func driverAt(id string, km float64, maxPassengers int, childSeat bool) models.Driver {
	return models.Driver{
		ID:            id,
		Status:        models.DriverAvailable,
		Location:      &models.Point{Lon: 0, Lat: km / 111.0},
		MaxPassengers: maxPassengers,
		HasChildSeat:  childSeat,
		Active:        true,
	}
}

func TestFindNearestPicksMinimumDistance(t *testing.T) {
	roster := &fakeRoster{drivers: []models.Driver{
		driverAt("far", 2.1, 4, false),
		driverAt("near", 0.4, 4, false),
		driverAt("farther", 5.0, 4, false),
	}}
	s := &Service{Roster: roster}

	m, err := s.FindNearest(context.Background(), Request{Origin: models.Point{}, PassengerCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	if m.Driver.ID != "near" {
		t.Fatalf("expected near, got %s", m.Driver.ID)
	}
	if m.DistanceKm < 0.35 || m.DistanceKm > 0.45 {
		t.Fatalf("expected ~0.4km, got %f", m.DistanceKm)
	}
	if m.ArrivalEstimateMin != 1 { // ceil(0.4/30*60) = 1
		t.Fatalf("expected 1 minute arrival, got %d", m.ArrivalEstimateMin)
	}
}

func TestFindNearestSkipsOverCapacity(t *testing.T) {
	roster := &fakeRoster{drivers: []models.Driver{
		driverAt("closest-but-small", 0.1, 2, false),
		driverAt("fits", 1.5, 4, false),
	}}
	s := &Service{Roster: roster}

	m, err := s.FindNearest(context.Background(), Request{Origin: models.Point{}, PassengerCount: 4})
	if err != nil {
		t.Fatal(err)
	}
	if m.Driver.ID != "fits" {
		t.Fatalf("expected fits, got %s", m.Driver.ID)
	}
}

func TestFindNearestRequiresChildSeat(t *testing.T) {
	roster := &fakeRoster{drivers: []models.Driver{
		driverAt("no-seat", 0.2, 4, false),
		driverAt("seat", 3.0, 4, true),
	}}
	s := &Service{Roster: roster}

	m, err := s.FindNearest(context.Background(), Request{Origin: models.Point{}, PassengerCount: 1, NeedsChildSeat: true})
	if err != nil {
		t.Fatal(err)
	}
	if m.Driver.ID != "seat" {
		t.Fatalf("expected seat, got %s", m.Driver.ID)
	}
}

func TestFindNearestNoEligibleDrivers(t *testing.T) {
	roster := &fakeRoster{drivers: []models.Driver{
		driverAt("small", 0.5, 2, false),
	}}
	s := &Service{Roster: roster}

	_, err := s.FindNearest(context.Background(), Request{Origin: models.Point{}, PassengerCount: 3})
	if !models.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestArrivalEstimateRoundsUp(t *testing.T) {
	roster := &fakeRoster{drivers: []models.Driver{driverAt("d", 10, 4, false)}}
	s := &Service{Roster: roster}

	m, err := s.FindNearest(context.Background(), Request{Origin: models.Point{}, PassengerCount: 1})
	if err != nil {
		t.Fatal(err)
	}
	// ~10km at 30km/h is ~20 minutes; never rounded below the exact value.
	if m.ArrivalEstimateMin < 20 || m.ArrivalEstimateMin > 21 {
		t.Fatalf("expected ~20 minutes, got %d", m.ArrivalEstimateMin)
	}
}
