package domain

import "math"

// EarthRadiusKm is the mean earth radius used for distance calculations.
const EarthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points (haversine).
func DistanceKm(a, b Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BoundingBox is a lat/lng rectangle enclosing a search circle. When AllLongitudes is set
// the circle touches a pole or crosses the antimeridian and longitude must not be filtered.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
	AllLongitudes  bool
}

// BoundingBoxAround returns the box enclosing a circle of radiusKm around center.
// The longitude half-width is the widest east-west extent of the circle, reached
// north of the center latitude in the northern hemisphere.
func BoundingBoxAround(center Coordinate, radiusKm float64) BoundingBox {
	angular := radiusKm / EarthRadiusKm
	dLat := angular * 180 / math.Pi
	box := BoundingBox{
		MinLat: math.Max(-90, center.Latitude-dLat),
		MaxLat: math.Min(90, center.Latitude+dLat),
	}
	if box.MinLat <= -90 || box.MaxLat >= 90 {
		box.AllLongitudes = true
		return box
	}

	sinAngular := math.Sin(angular)
	cosLat := math.Cos(center.Latitude * math.Pi / 180)
	if sinAngular >= cosLat {
		box.AllLongitudes = true
		return box
	}

	dLng := math.Asin(sinAngular/cosLat) * 180 / math.Pi
	box.MinLng = center.Longitude - dLng
	box.MaxLng = center.Longitude + dLng
	if box.MinLng < -180 || box.MaxLng > 180 {
		box.AllLongitudes = true
	}
	return box
}
