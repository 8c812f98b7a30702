package geo

import "math"

const earthRadiusM = 6371000

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceMeters returns the great-circle distance between two points
// using the haversine formula on a spherical earth. A missing point
// yields +Inf so an unknown position never reads as inside a geofence.
func DistanceMeters(a, b *Point) float64 {
	if a == nil || b == nil {
		return math.Inf(1)
	}

	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c
}

// WithinRadius reports whether b lies within radiusM of a. A point at
// exactly the radius counts as inside.
func WithinRadius(a, b *Point, radiusM float64) bool {
	return DistanceMeters(a, b) <= radiusM
}
