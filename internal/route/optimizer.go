// Package route turns an unordered set of stops into an ordered visiting
// sequence with per-stop ETAs. A configured directions provider handles the
// ordering when reachable; otherwise a local nearest-neighbor heuristic
// keeps scheduling available, at reduced accuracy.
package route

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fieldroute/internal/directions"
	"fieldroute/internal/metrics"
	"fieldroute/internal/model"
)

const (
	DistanceSourceProvider    = "provider"
	DistanceSourceApproximate = "approximate"

	defaultDayStartHour      = 8
	defaultProviderTimeout   = 5 * time.Second
	defaultFallbackTravelMin = 15
)

// ErrNoStops is returned when the caller violates the non-empty contract.
var ErrNoStops = errors.New("optimize: no stops provided")

// Optimizer orders stops into a route. Zero value is not usable; construct
// with New.
type Optimizer struct {
	provider          directions.Provider // nil: always use the fallback
	providerTimeout   time.Duration
	dayStartHour      int
	fallbackTravelMin int
	twoOptIterations  int
	loc               *time.Location
}

// Option tunes an Optimizer.
type Option func(*Optimizer)

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(o *Optimizer) {
		if d > 0 {
			o.providerTimeout = d
		}
	}
}

// WithDayStart sets the hour (local) at which routes begin.
func WithDayStart(hour int, loc *time.Location) Option {
	return func(o *Optimizer) {
		if hour >= 0 && hour < 24 {
			o.dayStartHour = hour
		}
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithFallbackTravelAllowance sets the fixed per-leg travel estimate used
// when no real routing data is available.
func WithFallbackTravelAllowance(min int) Option {
	return func(o *Optimizer) {
		if min > 0 {
			o.fallbackTravelMin = min
		}
	}
}

// WithTwoOpt enables 2-opt refinement of the fallback order.
func WithTwoOpt(iterations int) Option {
	return func(o *Optimizer) { o.twoOptIterations = iterations }
}

func New(p directions.Provider, opts ...Option) *Optimizer {
	o := &Optimizer{
		provider:          p,
		providerTimeout:   defaultProviderTimeout,
		dayStartHour:      defaultDayStartHour,
		fallbackTravelMin: defaultFallbackTravelMin,
		loc:               time.Local,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize orders stops for the given date. It returns an error only for
// caller contract violations (empty input, invalid coordinates); provider
// failures degrade to the local heuristic and never propagate.
func (o *Optimizer) Optimize(ctx context.Context, date string, stops []model.Stop, start *model.GeoPoint) (model.RouteResult, error) {
	if len(stops) == 0 {
		return model.RouteResult{}, ErrNoStops
	}
	for _, s := range stops {
		if !s.Location.Valid() {
			return model.RouteResult{}, fmt.Errorf("optimize: stop %s has invalid coordinates (%.6f, %.6f)", s.ID, s.Location.Lat, s.Location.Lng)
		}
	}
	if start != nil && !start.Valid() {
		return model.RouteResult{}, fmt.Errorf("optimize: start point has invalid coordinates (%.6f, %.6f)", start.Lat, start.Lng)
	}

	dayStart := o.dayStart(date)

	// Single stop: never call the provider, so no drive distance exists and
	// the result is labeled approximate. The ETA is the expected completion
	// time, arrival at day start.
	if len(stops) == 1 {
		s := stops[0]
		s.Position = 1
		eta := dayStart.Add(time.Duration(s.ServiceTimeSec) * time.Second)
		s.ETA = eta
		return model.RouteResult{
			Stops:          []model.Stop{s},
			Legs:           []model.RouteLeg{{StopID: s.ID, Position: 1, ETA: eta}},
			DistanceSource: DistanceSourceApproximate,
			DurationMin:    s.ServiceTimeSec / 60,
		}, nil
	}

	if o.provider != nil {
		res, err := o.optimizeWithProvider(ctx, dayStart, stops, start)
		if err == nil {
			metrics.OptimizeRuns.WithLabelValues(DistanceSourceProvider).Inc()
			return res, nil
		}
		log.Printf("route: provider unavailable, using fallback: %v", err)
	}
	metrics.OptimizeRuns.WithLabelValues(DistanceSourceApproximate).Inc()
	return o.optimizeFallback(dayStart, stops, start), nil
}

func (o *Optimizer) dayStart(date string) time.Time {
	d, err := time.ParseInLocation("2006-01-02", date, o.loc)
	if err != nil {
		now := time.Now().In(o.loc)
		d = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, o.loc)
	}
	return d.Add(time.Duration(o.dayStartHour) * time.Hour)
}

// optimizeWithProvider delegates ordering to the directions provider: first
// stop (or the supplied start point) is origin, last stop destination, the
// rest waypoints to reorder.
func (o *Optimizer) optimizeWithProvider(ctx context.Context, dayStart time.Time, stops []model.Stop, start *model.GeoPoint) (model.RouteResult, error) {
	cctx, cancel := context.WithTimeout(ctx, o.providerTimeout)
	defer cancel()

	n := len(stops)
	var origin model.GeoPoint
	var waypoints []model.GeoPoint
	var wpStops []model.Stop // stops eligible for reordering, parallel to waypoints
	dest := stops[n-1].Location

	if start != nil {
		origin = *start
		wpStops = stops[:n-1]
	} else {
		origin = stops[0].Location
		wpStops = stops[1 : n-1]
	}
	for _, s := range wpStops {
		waypoints = append(waypoints, s.Location)
	}

	resp, err := o.provider.Route(cctx, origin, dest, waypoints, true)
	if err != nil {
		return model.RouteResult{}, err
	}
	if len(resp.WaypointOrder) != len(waypoints) {
		return model.RouteResult{}, fmt.Errorf("provider returned %d waypoint indices for %d waypoints", len(resp.WaypointOrder), len(waypoints))
	}
	wantLegs := n - 1
	if start != nil {
		wantLegs = n
	}
	if len(resp.Legs) != wantLegs {
		return model.RouteResult{}, fmt.Errorf("provider returned %d legs, want %d", len(resp.Legs), wantLegs)
	}

	// Reconstruct the visiting order by applying the waypoint permutation.
	ordered := make([]model.Stop, 0, n)
	if start == nil {
		ordered = append(ordered, stops[0])
	}
	seen := make(map[int]bool, len(resp.WaypointOrder))
	for _, idx := range resp.WaypointOrder {
		if idx < 0 || idx >= len(wpStops) || seen[idx] {
			return model.RouteResult{}, fmt.Errorf("provider returned invalid waypoint index %d", idx)
		}
		seen[idx] = true
		ordered = append(ordered, wpStops[idx])
	}
	ordered = append(ordered, stops[n-1])

	// Walk the legs to accumulate distance, duration, and ETAs.
	// ETA[i] = day start + travel legs before i + service durations before i.
	result := model.RouteResult{DistanceSource: DistanceSourceProvider, Polyline: resp.Polyline}
	t := dayStart
	totalMeters := 0
	totalTravelSec := 0
	totalServiceSec := 0
	legIdx := 0
	for i := range ordered {
		var travel directions.Leg
		// With no explicit start the first stop is the origin itself and
		// has no inbound leg.
		if start != nil || i > 0 {
			travel = resp.Legs[legIdx]
			legIdx++
		}
		t = t.Add(time.Duration(travel.DurationSec) * time.Second)
		totalMeters += travel.DistanceMeters
		totalTravelSec += travel.DurationSec

		ordered[i].Position = i + 1
		ordered[i].ETA = t
		result.Legs = append(result.Legs, model.RouteLeg{
			StopID:     ordered[i].ID,
			Position:   i + 1,
			DistanceKm: float64(travel.DistanceMeters) / 1000,
			TravelMin:  travel.DurationSec / 60,
			ETA:        t,
		})
		t = t.Add(time.Duration(ordered[i].ServiceTimeSec) * time.Second)
		totalServiceSec += ordered[i].ServiceTimeSec
	}
	result.Stops = ordered
	result.DistanceKm = float64(totalMeters) / 1000
	result.DurationMin = (totalTravelSec + totalServiceSec) / 60
	return result, nil
}

// optimizeFallback orders stops greedily by great-circle distance. Distance
// aggregates are reported as approximate, never as drive distance, and ETAs
// use a fixed travel allowance per leg so schedules stay time-estimable.
func (o *Optimizer) optimizeFallback(dayStart time.Time, stops []model.Stop, start *model.GeoPoint) model.RouteResult {
	order := NearestNeighborOrder(stops, start)
	if o.twoOptIterations > 0 {
		order = ImproveOrder2Opt(stops, order, o.twoOptIterations)
	}

	result := model.RouteResult{DistanceSource: DistanceSourceApproximate}
	t := dayStart
	approxMeters := 0.0
	totalTravelSec := 0
	totalServiceSec := 0

	var prev *model.GeoPoint
	if start != nil {
		p := *start
		prev = &p
	}
	for i, idx := range order {
		s := stops[idx]
		travelSec := 0
		if prev != nil {
			approxMeters += directions.HaversineMeters(*prev, s.Location)
			travelSec = o.fallbackTravelMin * 60
		}
		t = t.Add(time.Duration(travelSec) * time.Second)
		totalTravelSec += travelSec

		s.Position = i + 1
		s.ETA = t
		result.Legs = append(result.Legs, model.RouteLeg{
			StopID:    s.ID,
			Position:  i + 1,
			TravelMin: travelSec / 60,
			ETA:       t,
		})
		result.Stops = append(result.Stops, s)
		t = t.Add(time.Duration(s.ServiceTimeSec) * time.Second)
		totalServiceSec += s.ServiceTimeSec

		p := s.Location
		prev = &p
	}
	result.ApproxDistanceKm = approxMeters / 1000
	result.DurationMin = (totalTravelSec + totalServiceSec) / 60
	return result
}
