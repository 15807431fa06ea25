package geo

import (
	"math"
	"time"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Area is a circular service area around a contractor's base location.
type Area struct {
	Center   Point   `json:"center"`
	RadiusKm float64 `json:"radius_km"`
}

// Estimator answers the two geographic questions the dispatch core needs:
// does a contractor's service area cover a job location, and roughly how
// long until that contractor could be on site.
type Estimator interface {
	WithinServiceArea(area Area, p Point) bool
	EstimateResponse(from, to Point) time.Duration
}

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// HaversineEstimator estimates response times from straight-line distance
// at a fixed average travel speed.
type HaversineEstimator struct {
	SpeedKmh float64
}

func NewHaversineEstimator(speedKmh float64) *HaversineEstimator {
	if speedKmh <= 0 {
		speedKmh = 30
	}
	return &HaversineEstimator{SpeedKmh: speedKmh}
}

func (e *HaversineEstimator) WithinServiceArea(area Area, p Point) bool {
	return DistanceKm(area.Center, p) <= area.RadiusKm
}

func (e *HaversineEstimator) EstimateResponse(from, to Point) time.Duration {
	hours := DistanceKm(from, to) / e.SpeedKmh
	return time.Duration(hours * float64(time.Hour))
}
