package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/taxi-dispatch/internal/models"
)

// fakeUpdater implements GeoUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	lastMeta map[string]interface{}
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	f.lastMeta = values
	return nil
}

func testFix() models.PositionFix {
	return models.PositionFix{
		DriverID: "d1",
		Location: models.Point{Lon: -66.9, Lat: 10.48},
		RideID:   "r1",
		At:       time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
	}
}

func TestUpdateIndexWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	start := time.Now()
	if err := updateIndexWithRetry(context.Background(), f, "drivers_geo", testFix(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if f.lastMeta["ride_id"] != "r1" {
		t.Fatalf("ride_id not written: %v", f.lastMeta)
	}
}

func TestUpdateIndexWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5}
	if err := updateIndexWithRetry(context.Background(), f, "drivers_geo", testFix(), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestUpdateIndexWithRetry_OmitsEmptyRideID(t *testing.T) {
	f := &fakeUpdater{}
	fix := testFix()
	fix.RideID = ""
	if err := updateIndexWithRetry(context.Background(), f, "drivers_geo", fix, 1, time.Millisecond); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, ok := f.lastMeta["ride_id"]; ok {
		t.Fatalf("ride_id should be absent: %v", f.lastMeta)
	}
}
