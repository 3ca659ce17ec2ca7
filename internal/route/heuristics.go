package route

import (
	"fieldroute/internal/directions"
	"fieldroute/internal/model"
)

// NearestNeighborOrder returns visiting indices into stops, built greedily:
// from the current point pick the closest unvisited stop. The route is
// anchored at startPoint when one is given, otherwise at the first stop,
// matching the origin the provider path uses. Ties break on the lexically
// smallest stop ID so the order is deterministic for equal inputs.
func NearestNeighborOrder(stops []model.Stop, start *model.GeoPoint) []int {
	n := len(stops)
	if n == 0 {
		return nil
	}
	order := make([]int, 0, n)
	visited := make([]bool, n)

	var cur model.GeoPoint
	if start != nil {
		cur = *start
	} else {
		visited[0] = true
		order = append(order, 0)
		cur = stops[0].Location
	}

	for len(order) < n {
		best := -1
		bestDist := 0.0
		for i, s := range stops {
			if visited[i] {
				continue
			}
			d := directions.HaversineMeters(cur, s.Location)
			if best == -1 || d < bestDist || (d == bestDist && s.ID < stops[best].ID) {
				best = i
				bestDist = d
			}
		}
		visited[best] = true
		order = append(order, best)
		cur = stops[best].Location
	}
	return order
}

// ImproveOrder2Opt applies 2-opt segment reversals to an existing order,
// accepting only strict improvements in total great-circle length. Runs at
// most maxIterations full sweeps.
func ImproveOrder2Opt(stops []model.Stop, order []int, maxIterations int) []int {
	if len(order) < 4 || maxIterations <= 0 {
		return order
	}
	out := make([]int, len(order))
	copy(out, order)

	dist := func(a, b int) float64 {
		return directions.HaversineMeters(stops[a].Location, stops[b].Location)
	}

	for iter := 0; iter < maxIterations; iter++ {
		improved := false
		for i := 0; i < len(out)-2; i++ {
			for j := i + 2; j < len(out)-1; j++ {
				before := dist(out[i], out[i+1]) + dist(out[j], out[j+1])
				after := dist(out[i], out[j]) + dist(out[i+1], out[j+1])
				if after < before {
					reverse(out, i+1, j)
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return out
}

func reverse(a []int, i, j int) {
	for i < j {
		a[i], a[j] = a[j], a[i]
		i++
		j--
	}
}
