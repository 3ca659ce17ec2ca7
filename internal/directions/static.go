package directions

import (
	"context"
	"math"

	"fieldroute/internal/model"
)

// Static is an in-process provider used in tests and local runs without an
// API key. It keeps input waypoint order and derives leg metrics from
// great-circle distance at a fixed speed, so results are deterministic.
type Static struct {
	SpeedKph float64
	Fail     bool // force unavailability
}

func (s *Static) Route(_ context.Context, origin, dest model.GeoPoint, waypoints []model.GeoPoint, _ bool) (RouteResponse, error) {
	if s.Fail {
		return RouteResponse{}, ErrUnavailable
	}
	speed := s.SpeedKph
	if speed <= 0 {
		speed = 40
	}
	points := make([]model.GeoPoint, 0, len(waypoints)+2)
	points = append(points, origin)
	points = append(points, waypoints...)
	points = append(points, dest)

	order := make([]int, len(waypoints))
	legs := make([]Leg, 0, len(points)-1)
	for i := range waypoints {
		order[i] = i
	}
	for i := 0; i < len(points)-1; i++ {
		m := HaversineMeters(points[i], points[i+1])
		legs = append(legs, Leg{
			DistanceMeters: int(math.Round(m)),
			DurationSec:    int(math.Round(m / (speed * 1000 / 3600))),
		})
	}
	return RouteResponse{Status: StatusOK, WaypointOrder: order, Legs: legs}, nil
}

// HaversineMeters is the great-circle distance between two points.
func HaversineMeters(a, b model.GeoPoint) float64 {
	const earthRadiusM = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
