package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"fieldroute/internal/buildinfo"
)

// DebugJSON reports build info and the effective runtime environment.
// Values that could leak credentials are reduced to presence flags.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"ADDR":                os.Getenv("ADDR"),
			"AUTH_MODE":           os.Getenv("AUTH_MODE"),
			"ROUTE_TIMEZONE":      os.Getenv("ROUTE_TIMEZONE"),
			"SIGNAL_MAX_ATTEMPTS": os.Getenv("SIGNAL_MAX_ATTEMPTS"),
			"HAS_DATABASE_URL":    os.Getenv("DATABASE_URL") != "",
			"HAS_REDIS_URL":       os.Getenv("REDIS_URL") != "",
			"HAS_DIRECTIONS_URL":  os.Getenv("DIRECTIONS_BASE_URL") != "",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
