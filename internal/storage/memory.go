package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
)

// MemoryStore is an in-process Store used in tests and single-node runs.
type MemoryStore struct {
	mu        sync.RWMutex
	rides     map[string]*models.Ride
	clients   map[string]*models.Client
	drivers   map[string]*models.Driver
	offers    map[string]models.PendingOffer // keyed by ride id
	zones     []*models.Zone
	specials  map[string]*models.ZoneClient // clientID|zoneID
	positions map[string][]models.PositionFix
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:     make(map[string]*models.Ride),
		clients:   make(map[string]*models.Client),
		drivers:   make(map[string]*models.Driver),
		offers:    make(map[string]models.PendingOffer),
		specials:  make(map[string]*models.ZoneClient),
		positions: make(map[string][]models.PositionFix),
	}
}

// Seed helpers for tests and local runs.

func (m *MemoryStore) PutClient(c *models.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
}

func (m *MemoryStore) PutDriver(d *models.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
}

func (m *MemoryStore) PutZone(z *models.Zone) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones = append(m.zones, z)
}

func (m *MemoryStore) PutZoneClientRate(zc *models.ZoneClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specials[zc.ClientID+"|"+zc.ZoneID] = zc
}

// rides

func (m *MemoryStore) SaveRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return models.NotFound("ride %s", r.ID)
	}
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) FindRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, models.NotFound("ride %s", id)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) FindRideByTrackingCode(ctx context.Context, code string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.TrackingCode == code {
			cp := *r
			return &cp, nil
		}
	}
	return nil, models.NotFound("tracking code %s", code)
}

func (m *MemoryStore) FindPendingRideForClient(ctx context.Context, clientID string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.ClientID == clientID && r.Status == models.RidePending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, models.NotFound("no pending ride for client %s", clientID)
}

func (m *MemoryStore) FindRideForDriver(ctx context.Context, driverID string, status models.RideStatus) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.DriverID == driverID && r.Status == status {
			cp := *r
			return &cp, nil
		}
	}
	return nil, models.NotFound("no %s ride for driver %s", status, driverID)
}

// clients

func (m *MemoryStore) FindClient(ctx context.Context, id string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, models.NotFound("client %s", id)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) FindClientByPhone(ctx context.Context, phone string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		if c.Phone == phone {
			cp := *c
			return &cp, nil
		}
	}
	return nil, models.NotFound("client with phone %s", phone)
}

// drivers

func (m *MemoryStore) FindDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, models.NotFound("driver %s", id)
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) ListActiveDrivers(ctx context.Context) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		if d.Active {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateDriverStatus(ctx context.Context, id string, status models.DriverStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.NotFound("driver %s", id)
	}
	d.Status = status
	return nil
}

func (m *MemoryStore) UpdateDriverLocation(ctx context.Context, id string, p models.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.NotFound("driver %s", id)
	}
	now := time.Now()
	d.Location = &p
	d.LocationUpdatedAt = &now
	return nil
}

// offers

func (m *MemoryStore) ReplaceOffer(ctx context.Context, o models.PendingOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[o.RideID] = o
	return nil
}

func (m *MemoryStore) ConsumeOffer(ctx context.Context, driverID, rideID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[rideID]
	if !ok || o.DriverID != driverID {
		return models.NotFound("no pending offer for driver %s on ride %s", driverID, rideID)
	}
	delete(m.offers, rideID)
	return nil
}

func (m *MemoryStore) DeleteOfferForRide(ctx context.Context, rideID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.offers, rideID)
	return nil
}

func (m *MemoryStore) FindOfferForRide(ctx context.Context, rideID string) (*models.PendingOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[rideID]
	if !ok {
		return nil, models.NotFound("no pending offer for ride %s", rideID)
	}
	cp := o
	return &cp, nil
}

func (m *MemoryStore) HasOfferForDriver(ctx context.Context, driverID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.offers {
		if o.DriverID == driverID {
			return true, nil
		}
	}
	return false, nil
}

// zones

func (m *MemoryStore) FindZoneContaining(ctx context.Context, p models.Point) (*models.Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, z := range m.zones {
		if geo.Contains(z.Area, p) {
			cp := *z
			return &cp, nil
		}
	}
	return nil, models.NotFound("no zone contains %s", geo.FormatPoint(p))
}

func (m *MemoryStore) FindZoneClientRate(ctx context.Context, clientID, zoneID string) (*models.ZoneClient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	zc, ok := m.specials[clientID+"|"+zoneID]
	if !ok {
		return nil, models.NotFound("no special rate for client %s in zone %s", clientID, zoneID)
	}
	cp := *zc
	return &cp, nil
}

// position history

func (m *MemoryStore) AppendPosition(ctx context.Context, fix models.PositionFix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[fix.DriverID] = append(m.positions[fix.DriverID], fix)
	return nil
}

func (m *MemoryStore) RecentPositions(ctx context.Context, driverID string, limit int) ([]models.PositionFix, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hist := m.positions[driverID]
	if limit <= 0 || limit > len(hist) {
		limit = len(hist)
	}
	// newest first, matching the SQL ordering
	out := make([]models.PositionFix, 0, limit)
	for i := len(hist) - 1; i >= len(hist)-limit; i-- {
		out = append(out, hist[i])
	}
	return out, nil
}
