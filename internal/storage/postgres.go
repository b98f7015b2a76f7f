package storage

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"github.com/example/taxi-dispatch/internal/models"
)

// PostgresStore implements Store on Postgres/PostGIS. Geometry columns
// are SRID 4326; zone containment runs in SQL so the polygon never
// crosses the wire.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) SaveRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rides(id, client_id, driver_id, origin, destination,
			origin_point, destination_point, status, price, commission_pct,
			commission_amount, distance_km, duration_minutes, calculation_type,
			passenger_count, has_children_under_5, is_round_trip, payment_method,
			tracking_code, requested_at, payment_hold_id)
		VALUES($1,$2,NULLIF($3,''),$4,$5,
			ST_SetSRID(ST_MakePoint($6,$7),4326), ST_SetSRID(ST_MakePoint($8,$9),4326),
			$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		r.ID, r.ClientID, r.DriverID, r.Origin, r.Destination,
		r.OriginPoint.Lon, r.OriginPoint.Lat, r.DestPoint.Lon, r.DestPoint.Lat,
		r.Status, r.Price, r.CommissionPercentage, r.CommissionAmount,
		r.DistanceKm, r.DurationMinutes, r.CalculationType,
		r.PassengerCount, r.HasChildrenUnder5, r.IsRoundTrip, r.PaymentMethod,
		r.TrackingCode, r.RequestedAt, r.PaymentHoldID)
	return err
}

func (p *PostgresStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides SET driver_id=NULLIF($1,''), status=$2, assigned_at=$3,
			started_at=$4, ended_at=$5, cancelled_at=$6, payment_hold_id=$7,
			client_rating=NULLIF($8,0), client_comment=NULLIF($9,'')
		WHERE id=$10`,
		r.DriverID, r.Status, r.AssignedAt, r.StartedAt, r.EndedAt, r.CancelledAt,
		r.PaymentHoldID, r.ClientRating, r.ClientComment, r.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NotFound("ride %s", r.ID)
	}
	return nil
}

const rideColumns = `
	id, client_id, COALESCE(driver_id,''), origin, destination,
	ST_X(origin_point), ST_Y(origin_point), ST_X(destination_point), ST_Y(destination_point),
	status, price, commission_pct, commission_amount, distance_km, duration_minutes,
	COALESCE(calculation_type,''), passenger_count, has_children_under_5, is_round_trip,
	COALESCE(payment_method,''), tracking_code, requested_at, assigned_at, started_at,
	ended_at, cancelled_at, COALESCE(payment_hold_id,''),
	COALESCE(client_rating,0), COALESCE(client_comment,'')`

func (p *PostgresStore) scanRide(row *sql.Row) (*models.Ride, error) {
	var r models.Ride
	err := row.Scan(&r.ID, &r.ClientID, &r.DriverID, &r.Origin, &r.Destination,
		&r.OriginPoint.Lon, &r.OriginPoint.Lat, &r.DestPoint.Lon, &r.DestPoint.Lat,
		&r.Status, &r.Price, &r.CommissionPercentage, &r.CommissionAmount,
		&r.DistanceKm, &r.DurationMinutes, &r.CalculationType,
		&r.PassengerCount, &r.HasChildrenUnder5, &r.IsRoundTrip,
		&r.PaymentMethod, &r.TrackingCode, &r.RequestedAt, &r.AssignedAt,
		&r.StartedAt, &r.EndedAt, &r.CancelledAt, &r.PaymentHoldID,
		&r.ClientRating, &r.ClientComment)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) FindRide(ctx context.Context, id string) (*models.Ride, error) {
	r, err := p.scanRide(p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("ride %s", id)
	}
	return r, err
}

func (p *PostgresStore) FindRideByTrackingCode(ctx context.Context, code string) (*models.Ride, error) {
	r, err := p.scanRide(p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE tracking_code=$1`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("tracking code %s", code)
	}
	return r, err
}

func (p *PostgresStore) FindPendingRideForClient(ctx context.Context, clientID string) (*models.Ride, error) {
	r, err := p.scanRide(p.db.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE client_id=$1 AND status='pending' LIMIT 1`, clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("no pending ride for client %s", clientID)
	}
	return r, err
}

func (p *PostgresStore) FindRideForDriver(ctx context.Context, driverID string, status models.RideStatus) (*models.Ride, error) {
	r, err := p.scanRide(p.db.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE driver_id=$1 AND status=$2 LIMIT 1`, driverID, status))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("no %s ride for driver %s", status, driverID)
	}
	return r, err
}

func (p *PostgresStore) FindClient(ctx context.Context, id string) (*models.Client, error) {
	return p.scanClient(ctx, `WHERE id=$1`, id)
}

func (p *PostgresStore) FindClientByPhone(ctx context.Context, phone string) (*models.Client, error) {
	return p.scanClient(ctx, `WHERE phone=$1`, phone)
}

func (p *PostgresStore) scanClient(ctx context.Context, where string, arg any) (*models.Client, error) {
	var c models.Client
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, phone, is_vip, COALESCE(vip_rate_type,''),
			COALESCE(flat_rate,0), COALESCE(minute_rate,0)
		FROM clients `+where, arg).
		Scan(&c.ID, &c.Name, &c.Phone, &c.IsVip, &c.VipRateType, &c.FlatRate, &c.MinuteRate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("client %v", arg)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *PostgresStore) FindDriver(ctx context.Context, id string) (*models.Driver, error) {
	var d models.Driver
	var lon, lat sql.NullFloat64
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, phone, status, ST_X(location), ST_Y(location),
			location_updated_at, max_passengers, has_child_seat, active, verified, rating
		FROM drivers WHERE id=$1`, id).
		Scan(&d.ID, &d.Name, &d.Phone, &d.Status, &lon, &lat,
			&d.LocationUpdatedAt, &d.MaxPassengers, &d.HasChildSeat, &d.Active, &d.Verified, &d.Rating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("driver %s", id)
	}
	if err != nil {
		return nil, err
	}
	if lon.Valid && lat.Valid {
		d.Location = &models.Point{Lon: lon.Float64, Lat: lat.Float64}
	}
	return &d, nil
}

func (p *PostgresStore) ListActiveDrivers(ctx context.Context) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, phone, status, ST_X(location), ST_Y(location),
			location_updated_at, max_passengers, has_child_seat, active, verified, rating
		FROM drivers WHERE active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Driver
	for rows.Next() {
		var d models.Driver
		var lon, lat sql.NullFloat64
		if err := rows.Scan(&d.ID, &d.Name, &d.Phone, &d.Status, &lon, &lat,
			&d.LocationUpdatedAt, &d.MaxPassengers, &d.HasChildSeat, &d.Active, &d.Verified, &d.Rating); err != nil {
			return nil, err
		}
		if lon.Valid && lat.Valid {
			d.Location = &models.Point{Lon: lon.Float64, Lat: lat.Float64}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateDriverStatus(ctx context.Context, id string, status models.DriverStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NotFound("driver %s", id)
	}
	return nil
}

func (p *PostgresStore) UpdateDriverLocation(ctx context.Context, id string, pt models.Point) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE drivers SET location=ST_SetSRID(ST_MakePoint($1,$2),4326), location_updated_at=now()
		WHERE id=$3`, pt.Lon, pt.Lat, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NotFound("driver %s", id)
	}
	return nil
}

// ReplaceOffer relies on the unique index on ride_id: delete + insert in
// one transaction keeps at most one live offer per ride.
func (p *PostgresStore) ReplaceOffer(ctx context.Context, o models.PendingOffer) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_offers WHERE ride_id=$1`, o.RideID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pending_offers(driver_id, ride_id, created_at) VALUES($1,$2,$3)`,
		o.DriverID, o.RideID, o.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// ConsumeOffer is a single conditional DELETE; the row count decides the
// winner between concurrent accepts.
func (p *PostgresStore) ConsumeOffer(ctx context.Context, driverID, rideID string) error {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM pending_offers WHERE driver_id=$1 AND ride_id=$2`, driverID, rideID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NotFound("no pending offer for driver %s on ride %s", driverID, rideID)
	}
	return nil
}

func (p *PostgresStore) DeleteOfferForRide(ctx context.Context, rideID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM pending_offers WHERE ride_id=$1`, rideID)
	return err
}

func (p *PostgresStore) FindOfferForRide(ctx context.Context, rideID string) (*models.PendingOffer, error) {
	var o models.PendingOffer
	err := p.db.QueryRowContext(ctx,
		`SELECT driver_id, ride_id, created_at FROM pending_offers WHERE ride_id=$1`, rideID).
		Scan(&o.DriverID, &o.RideID, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("no pending offer for ride %s", rideID)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (p *PostgresStore) HasOfferForDriver(ctx context.Context, driverID string) (bool, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM pending_offers WHERE driver_id=$1`, driverID).Scan(&n)
	return n > 0, err
}

func (p *PostgresStore) FindZoneContaining(ctx context.Context, pt models.Point) (*models.Zone, error) {
	var z models.Zone
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, pricing_mode, COALESCE(flat_rate,0), price_per_minute,
			minimum_fare, night_surcharge_pct, weekend_surcharge_pct, commission_pct
		FROM zones
		WHERE ST_Contains(area, ST_SetSRID(ST_MakePoint($1,$2),4326))
		LIMIT 1`, pt.Lon, pt.Lat).
		Scan(&z.ID, &z.Name, &z.PricingMode, &z.FlatRate, &z.PricePerMinute,
			&z.MinimumFare, &z.NightSurchargePct, &z.WeekendSurchargePct, &z.CommissionPct)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("no zone contains point(%f %f)", pt.Lon, pt.Lat)
	}
	if err != nil {
		return nil, err
	}
	return &z, nil
}

func (p *PostgresStore) FindZoneClientRate(ctx context.Context, clientID, zoneID string) (*models.ZoneClient, error) {
	var zc models.ZoneClient
	err := p.db.QueryRowContext(ctx, `
		SELECT client_id, zone_id, rate, active FROM zone_clients
		WHERE client_id=$1 AND zone_id=$2`, clientID, zoneID).
		Scan(&zc.ClientID, &zc.ZoneID, &zc.Rate, &zc.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("no special rate for client %s in zone %s", clientID, zoneID)
	}
	if err != nil {
		return nil, err
	}
	return &zc, nil
}

func (p *PostgresStore) AppendPosition(ctx context.Context, fix models.PositionFix) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO driver_positions(driver_id, location, speed_kmh, heading, ride_id, recorded_at)
		VALUES($1, ST_SetSRID(ST_MakePoint($2,$3),4326), $4, $5, NULLIF($6,''), $7)`,
		fix.DriverID, fix.Location.Lon, fix.Location.Lat, fix.SpeedKmh, fix.Heading, fix.RideID, fix.At)
	return err
}

func (p *PostgresStore) RecentPositions(ctx context.Context, driverID string, limit int) ([]models.PositionFix, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT driver_id, ST_X(location), ST_Y(location), speed_kmh, heading,
			COALESCE(ride_id,''), recorded_at
		FROM driver_positions WHERE driver_id=$1
		ORDER BY recorded_at DESC LIMIT $2`, driverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PositionFix
	for rows.Next() {
		var f models.PositionFix
		if err := rows.Scan(&f.DriverID, &f.Location.Lon, &f.Location.Lat,
			&f.SpeedKmh, &f.Heading, &f.RideID, &f.At); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
