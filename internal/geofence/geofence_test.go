package geofence

import (
	"math"
	"testing"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/stretchr/testify/assert"
)

var paris = domain.GeoPoint{Latitude: 48.8566, Longitude: 2.3522}

func TestDistanceKm_KnownCities(t *testing.T) {
	lyon := domain.GeoPoint{Latitude: 45.7640, Longitude: 4.8357}
	// Paris to Lyon is roughly 392 km as the crow flies.
	assert.InDelta(t, 392, DistanceKm(paris, lyon), 3)
	assert.InDelta(t, 0, DistanceKm(paris, paris), 1e-9)
}

func TestValidate_BoundaryIsInclusive(t *testing.T) {
	point := OffsetNorth(paris, 100)
	exact := DistanceMeters(point, paris)

	assert.InDelta(t, 100, exact, 0.01)

	atRadius := Validate(point, paris, exact)
	assert.True(t, atRadius.WithinRadius)

	oneMeterShort := Validate(point, paris, exact-1)
	assert.False(t, oneMeterShort.WithinRadius)
}

func TestValidate_OneMeterBeyondIsRejected(t *testing.T) {
	const radius = 250.0
	inside := Validate(OffsetNorth(paris, radius-0.001), paris, radius)
	outside := Validate(OffsetNorth(paris, radius+1), paris, radius)

	assert.True(t, inside.WithinRadius)
	assert.False(t, outside.WithinRadius)
	assert.InDelta(t, radius+1, outside.DistanceMeters, 0.01)
}

func TestBoundingBox_ContainsCircle(t *testing.T) {
	box := BoundingBox(paris, 30)

	for _, d := range []float64{0, 10000, 29999} {
		assert.True(t, box.Contains(OffsetNorth(paris, d)))
	}
	assert.False(t, box.Contains(OffsetNorth(paris, 31000)))
	assert.True(t, box.Contains(domain.GeoPoint{Latitude: paris.Latitude, Longitude: paris.Longitude + 0.4}))
}

func TestBoundingBox_WrapsAtAntimeridian(t *testing.T) {
	east := domain.GeoPoint{Latitude: -17.0, Longitude: 179.95}
	west := domain.GeoPoint{Latitude: -17.0, Longitude: -179.95}
	assert.InDelta(t, 10.63, DistanceKm(east, west), 0.05)

	box := BoundingBox(east, 30)

	assert.True(t, box.WrapsAntimeridian())
	assert.Greater(t, box.MinLongitude, 179.0)
	assert.Less(t, box.MaxLongitude, -179.0)
	assert.True(t, box.Contains(west))
	assert.True(t, box.Contains(east))
	assert.False(t, box.Contains(domain.GeoPoint{Latitude: -17.0, Longitude: 0}))

	back := BoundingBox(west, 30)
	assert.True(t, back.WrapsAntimeridian())
	assert.True(t, back.Contains(east))
}

func TestBoundingBox_PoleSpansAllLongitudes(t *testing.T) {
	nearPole := domain.GeoPoint{Latitude: 89.9, Longitude: 10}
	across := domain.GeoPoint{Latitude: 89.9, Longitude: -170}
	assert.Less(t, DistanceKm(nearPole, across), 30.0)

	box := BoundingBox(nearPole, 30)

	assert.Equal(t, 90.0, box.MaxLatitude)
	assert.Equal(t, -180.0, box.MinLongitude)
	assert.Equal(t, 180.0, box.MaxLongitude)
	assert.False(t, box.WrapsAntimeridian())
	assert.True(t, box.Contains(across))
}

func TestBoundingBox_HighLatitudeStillContainsCircle(t *testing.T) {
	center := domain.GeoPoint{Latitude: 78.2, Longitude: 15.6}
	box := BoundingBox(center, 50)

	// The widest point of the circle sits poleward of the center's parallel.
	for _, bearing := range []float64{0, 30, 60, 90, 120, 150, 180, 210, 240, 270, 300, 330} {
		p := destination(center, 49.9, bearing)
		assert.True(t, box.Contains(p), "bearing %v", bearing)
	}
}

func destination(from domain.GeoPoint, km, bearingDeg float64) domain.GeoPoint {
	d := km * 1000 / EarthRadiusMeters
	b := toRadians(bearingDeg)
	lat1 := toRadians(from.Latitude)
	lon1 := toRadians(from.Longitude)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(b))
	lon2 := lon1 + math.Atan2(math.Sin(b)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	return domain.GeoPoint{Latitude: toDegrees(lat2), Longitude: toDegrees(lon2)}
}
