// Package geofence computes great-circle distances and checks that a reported
// position lies inside a site's authorised radius.
package geofence

import (
	"math"

	"github.com/grachmannico95/palette-cheque/internal/domain"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

type Result struct {
	WithinRadius   bool    `json:"within_radius"`
	DistanceMeters float64 `json:"distance_meters"`
}

func DistanceMeters(a, b domain.GeoPoint) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

func DistanceKm(a, b domain.GeoPoint) float64 {
	return DistanceMeters(a, b) / 1000
}

// Validate reports whether point is within radiusMeters of center. A point at
// exactly the radius is inside.
func Validate(point, center domain.GeoPoint, radiusMeters float64) Result {
	distance := DistanceMeters(point, center)
	return Result{
		WithinRadius:   distance <= radiusMeters,
		DistanceMeters: distance,
	}
}

// BoundingBox returns a rectangle that contains every point within radiusKm
// of center. It over-approximates the circle and is meant as a cheap
// pre-filter before DistanceKm. A box crossing the antimeridian has
// MinLongitude > MaxLongitude; a circle reaching a pole spans every longitude.
func BoundingBox(center domain.GeoPoint, radiusKm float64) domain.BoundingBox {
	angular := radiusKm * 1000 / EarthRadiusMeters
	dLat := toDegrees(angular)

	box := domain.BoundingBox{
		MinLatitude:  math.Max(-90, center.Latitude-dLat),
		MaxLatitude:  math.Min(90, center.Latitude+dLat),
		MinLongitude: -180,
		MaxLongitude: 180,
	}
	if center.Latitude+dLat >= 90 || center.Latitude-dLat <= -90 || angular >= math.Pi/2 {
		return box
	}

	ratio := math.Sin(angular) / math.Cos(toRadians(center.Latitude))
	if ratio >= 1 {
		return box
	}
	dLon := toDegrees(math.Asin(ratio))

	box.MinLongitude = normalizeLongitude(center.Longitude - dLon)
	box.MaxLongitude = normalizeLongitude(center.Longitude + dLon)
	return box
}

func normalizeLongitude(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

// OffsetNorth returns the point distanceMeters due north of p along the meridian.
func OffsetNorth(p domain.GeoPoint, distanceMeters float64) domain.GeoPoint {
	return domain.GeoPoint{
		Latitude:  p.Latitude + toDegrees(distanceMeters/EarthRadiusMeters),
		Longitude: p.Longitude,
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
