// Package directions defines the external routing provider port and its
// adapters. The optimizer treats any provider failure as "unavailable" and
// falls back to a local heuristic, so adapters never need to be graceful
// beyond returning an error.
package directions

import (
	"context"
	"errors"

	"fieldroute/internal/model"
)

// StatusOK is the only provider status the optimizer accepts.
const StatusOK = "OK"

// Leg is one travel segment between consecutive route points.
type Leg struct {
	DistanceMeters int `json:"distanceMeters"`
	DurationSec    int `json:"durationSec"`
}

// RouteResponse is the provider's answer for an origin/destination pair with
// optional reorderable waypoints. WaypointOrder is a permutation of the input
// waypoint indices; Legs has len(waypoints)+1 entries walked in final order.
type RouteResponse struct {
	Status        string `json:"status"`
	WaypointOrder []int  `json:"waypointOrder"`
	Legs          []Leg  `json:"legs"`
	Polyline      string `json:"polyline,omitempty"`
}

// Provider is the directions port. Implementations must honor ctx deadlines;
// callers bound every invocation with a timeout.
type Provider interface {
	Route(ctx context.Context, origin, dest model.GeoPoint, waypoints []model.GeoPoint, optimizeWaypoints bool) (RouteResponse, error)
}

// ErrUnavailable marks any provider-side failure (timeout, non-OK status,
// transport error) after adapter-level classification.
var ErrUnavailable = errors.New("directions provider unavailable")
