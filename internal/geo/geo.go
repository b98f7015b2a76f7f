package geo

import (
	"fmt"
	"math"
	"strings"

	"github.com/example/taxi-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance between a and b in kilometers.
func Haversine(a, b models.Point) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// FormatPoint renders p as WKT: POINT(lon lat).
func FormatPoint(p models.Point) string {
	return fmt.Sprintf("POINT(%g %g)", p.Lon, p.Lat)
}

// ParsePoint parses a WKT POINT(lon lat) string.
func ParsePoint(s string) (models.Point, error) {
	var p models.Point
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "POINT") {
		return p, models.InvalidInput("not a WKT point: "+s, "point")
	}
	open := strings.IndexByte(s, '(')
	close := strings.LastIndexByte(s, ')')
	if open < 0 || close < open {
		return p, models.InvalidInput("malformed WKT point: "+s, "point")
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(s[open+1:close]), "%f %f", &p.Lon, &p.Lat); err != nil {
		return p, models.InvalidInput("malformed WKT coordinates: "+s, "point")
	}
	return p, nil
}

// ValidatePoint checks WGS84 coordinate ranges and returns an
// invalid-input error naming each violated field.
func ValidatePoint(p models.Point) error {
	var fields []string
	if p.Lon < -180 || p.Lon > 180 {
		fields = append(fields, "longitude")
	}
	if p.Lat < -90 || p.Lat > 90 {
		fields = append(fields, "latitude")
	}
	if len(fields) > 0 {
		return models.InvalidInput("coordinate out of range", fields...)
	}
	return nil
}

// Contains reports whether point p lies inside the polygon ring using
// ray casting. The ring may be open or explicitly closed.
func Contains(ring []models.Point, p models.Point) bool {
	if len(ring) < 3 {
		return false
	}
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		a, b := ring[i], ring[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if p.Lon < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
