package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"fieldroute/internal/schedule"
	"fieldroute/internal/store"
)

// Problem represents an RFC7807 problem details response body. Code carries
// the machine-readable error code clients branch on.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Code     string `json:"code,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeEngineError maps engine and store errors to problem responses.
func writeEngineError(w http.ResponseWriter, err error, instance string) {
	if se, ok := schedule.AsError(err); ok {
		title := "Conflict"
		if se.Status == http.StatusBadRequest {
			title = "Validation failed"
		}
		writeJSON(w, se.Status, Problem{
			Type:     "about:blank",
			Title:    title,
			Status:   se.Status,
			Code:     se.Code,
			Detail:   se.Message,
			Instance: instance,
		})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), instance)
		return
	}
	writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), instance)
}
