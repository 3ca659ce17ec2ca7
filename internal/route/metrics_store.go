package route

import "sync"

// RunStats captures the outcome of one optimization run, keyed by tenant and
// schedule date for the admin stats endpoint.
type RunStats struct {
	Source      string  `json:"source"`
	Stops       int     `json:"stops"`
	DistanceKm  float64 `json:"distanceKm"`
	DurationMin int     `json:"durationMin"`
}

type statsKey struct {
	Tenant string
	Date   string
}

var (
	statsMu sync.Mutex
	stats   = map[statsKey][]RunStats{}
)

func RecordRun(tenant, date string, s RunStats) {
	statsMu.Lock()
	stats[statsKey{Tenant: tenant, Date: date}] = append(stats[statsKey{Tenant: tenant, Date: date}], s)
	statsMu.Unlock()
}

func GetRuns(tenant, date string) []RunStats {
	statsMu.Lock()
	defer statsMu.Unlock()
	out := make([]RunStats, len(stats[statsKey{Tenant: tenant, Date: date}]))
	copy(out, stats[statsKey{Tenant: tenant, Date: date}])
	return out
}
