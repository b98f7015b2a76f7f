package handshake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/storage"
)

func newFixture(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	store.PutClient(&models.Client{ID: "c1", Phone: "+58111"})
	store.PutDriver(&models.Driver{ID: "d1", Status: models.DriverAvailable, Active: true, MaxPassengers: 4})
	store.PutDriver(&models.Driver{ID: "d2", Status: models.DriverAvailable, Active: true, MaxPassengers: 4})
	now := time.Now()
	ride := &models.Ride{
		ID: "r1", ClientID: "c1", Status: models.RidePending,
		TrackingCode: "AB12CD34", RequestedAt: &now,
	}
	if err := store.SaveRide(context.Background(), ride); err != nil {
		t.Fatal(err)
	}
	return NewService(store, nil, nil), store
}

func TestAcceptRequiresOffer(t *testing.T) {
	s, _ := newFixture(t)
	_, err := s.Accept(context.Background(), "d1", "r1")
	if !models.IsNotFound(err) {
		t.Fatalf("expected not-found without offer, got %v", err)
	}
}

func TestAcceptWrongDriverFails(t *testing.T) {
	s, _ := newFixture(t)
	if _, err := s.Offer(context.Background(), "d1", "r1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Accept(context.Background(), "d2", "r1"); !models.IsNotFound(err) {
		t.Fatalf("expected not-found for wrong driver, got %v", err)
	}
}

func TestOfferAcceptCommitsDriver(t *testing.T) {
	s, store := newFixture(t)
	ctx := context.Background()

	if _, err := s.Offer(ctx, "d1", "r1"); err != nil {
		t.Fatal(err)
	}
	ride, err := s.Accept(ctx, "d1", "r1")
	if err != nil {
		t.Fatal(err)
	}
	if ride.Status != models.RideInProgress || ride.DriverID != "d1" {
		t.Fatalf("unexpected ride after accept: %+v", ride)
	}
	if ride.AssignedAt == nil {
		t.Fatal("assigned timestamp not stamped")
	}
	if ride.Client == nil || ride.Driver == nil {
		t.Fatal("expected joined client and driver")
	}

	d, _ := store.FindDriver(ctx, "d1")
	if d.Status != models.DriverOnTheWay {
		t.Fatalf("expected driver on_the_way, got %s", d.Status)
	}

	// offer is consumed; a second accept with the same args fails
	if _, err := s.Accept(ctx, "d1", "r1"); !models.IsNotFound(err) {
		t.Fatalf("expected not-found on second accept, got %v", err)
	}
}

func TestOfferIdempotentPerRide(t *testing.T) {
	s, store := newFixture(t)
	ctx := context.Background()

	if _, err := s.Offer(ctx, "d1", "r1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Offer(ctx, "d2", "r1"); err != nil {
		t.Fatal(err)
	}

	o, err := store.FindOfferForRide(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if o.DriverID != "d2" {
		t.Fatalf("expected latest offer to win, got %s", o.DriverID)
	}
	// first driver's offer is gone
	if err := store.ConsumeOffer(ctx, "d1", "r1"); !models.IsNotFound(err) {
		t.Fatalf("expected stale offer deleted, got %v", err)
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	s, _ := newFixture(t)
	ctx := context.Background()
	if _, err := s.Offer(ctx, "d1", "r1"); err != nil {
		t.Fatal(err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Accept(ctx, "d1", "r1")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !models.IsNotFound(err) {
			t.Fatalf("loser must observe not-found, got %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestAssignByAdminDemotesInProgress(t *testing.T) {
	s, store := newFixture(t)
	ctx := context.Background()

	if _, err := s.Offer(ctx, "d1", "r1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Accept(ctx, "d1", "r1"); err != nil {
		t.Fatal(err)
	}

	ride, err := s.AssignByAdmin(ctx, "r1", "d2")
	if err != nil {
		t.Fatal(err)
	}
	if ride.Status != models.RidePending {
		t.Fatalf("expected demotion to pending, got %s", ride.Status)
	}
	if ride.DriverID != "d2" {
		t.Fatalf("expected driver d2, got %s", ride.DriverID)
	}

	o, err := store.FindOfferForRide(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if o.DriverID != "d2" {
		t.Fatalf("expected fresh offer for d2, got %s", o.DriverID)
	}

	// the normal accept flow still applies
	if _, err := s.Accept(ctx, "d2", "r1"); err != nil {
		t.Fatalf("accept after admin assignment failed: %v", err)
	}
}

func TestAssignByAdminRejectsTerminalRide(t *testing.T) {
	s, store := newFixture(t)
	ctx := context.Background()

	ride, _ := store.FindRide(ctx, "r1")
	ride.Status = models.RideCancelled
	if err := store.UpdateRide(ctx, ride); err != nil {
		t.Fatal(err)
	}

	if _, err := s.AssignByAdmin(ctx, "r1", "d1"); !models.IsInvalidInput(err) {
		t.Fatalf("expected invalid-input, got %v", err)
	}
}

func TestOfferUnknownRide(t *testing.T) {
	s, _ := newFixture(t)
	if _, err := s.Offer(context.Background(), "d1", "ghost"); !models.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
