package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fieldroute/internal/model"
	"fieldroute/internal/route"
	"fieldroute/internal/scoring"
)

// RequestsHandler handles POST/GET /v1/requests
func (s *Server) RequestsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			TenantID string                   `json:"tenantId"`
			Requests []model.ServiceRequestIn `json:"requests"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.TenantID == "" {
			_, req.TenantID = s.withTenant(r)
		}
		if len(req.Requests) == 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid request", "requests must not be empty", r.URL.Path)
			return
		}
		created := make([]model.ServiceRequest, 0, len(req.Requests))
		for i := range req.Requests {
			if err := validateRequestIn(&req.Requests[i]); err != nil {
				writeProblem(w, http.StatusBadRequest, "Invalid request", fmt.Sprintf("requests[%d]: %v", i, err), r.URL.Path)
				return
			}
		}
		for _, in := range req.Requests {
			out, err := s.Store.CreateRequest(r.Context(), req.TenantID, in)
			if err != nil {
				writeProblem(w, http.StatusInternalServerError, "Create request failed", err.Error(), r.URL.Path)
				return
			}
			created = append(created, out)
		}
		writeJSON(w, http.StatusCreated, map[string]any{"items": created, "created": len(created)})
	case http.MethodGet:
		_, tenant := s.withTenant(r)
		status := model.RequestStatus(r.URL.Query().Get("status"))
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListRequests(r.Context(), tenant, status, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List requests failed", err.Error(), r.URL.Path)
			return
		}
		if v := r.URL.Query().Get("ranked"); v == "1" || strings.EqualFold(v, "true") {
			writeJSON(w, http.StatusOK, map[string]any{"items": scoring.Rank(items, time.Now().UTC()), "nextCursor": next})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ScheduleBuildHandler handles POST /v1/schedules/build
func (s *Server) ScheduleBuildHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanDispatch() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return
	}
	var in model.BuildScheduleIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if in.TenantID == "" {
		in.TenantID = p.Tenant
	}
	sch, err := s.Engine.BuildSchedule(r.Context(), in)
	if err != nil {
		writeEngineError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, sch)
}

// OptimizeHandler handles POST /v1/routes/optimize: stateless ordering of
// ad-hoc stops, nothing persisted.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in model.OptimizeIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOptimizeIn(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}
	stops := make([]model.Stop, 0, len(in.Stops))
	for i, st := range in.Stops {
		id := st.ID
		if id == "" {
			id = fmt.Sprintf("adhoc-%d", i+1)
		}
		stops = append(stops, model.Stop{ID: id, Location: st.Location, ServiceTimeSec: st.ServiceTimeSec, Status: model.StopPending})
	}
	date := in.Date
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	res, err := s.Opt.Optimize(r.Context(), date, stops, in.StartPoint)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Optimize failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SchedulesHandler handles GET /v1/schedules
func (s *Server) SchedulesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/schedules" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	date := r.URL.Query().Get("date")
	status := model.ScheduleStatus(r.URL.Query().Get("status"))
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListSchedules(r.Context(), tenant, date, status, cursor, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List schedules failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// ScheduleByIDHandler handles /v1/schedules/{id} and its subresources:
// approve, start, complete, events/stream, events/ws.
func (s *Server) ScheduleByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/schedules/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]

	if len(parts) > 2 && parts[1] == "events" {
		switch parts[2] {
		case "stream":
			s.scheduleEventsSSE(w, r, id)
		case "ws":
			s.scheduleEventsWS(w, r, id)
		default:
			writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		}
		return
	}

	if len(parts) > 1 {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p := s.getPrincipal(r)
		_, tenant := s.withTenant(r)
		var sch model.Schedule
		var err error
		switch parts[1] {
		case "approve":
			if !p.CanDispatch() {
				writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
				return
			}
			sch, err = s.Engine.ApproveSchedule(r.Context(), tenant, id)
		case "start":
			if !p.CanExecute() {
				writeProblem(w, http.StatusForbidden, "Forbidden", "crew, dispatcher or admin required", r.URL.Path)
				return
			}
			sch, err = s.Engine.StartSchedule(r.Context(), tenant, id)
		case "complete":
			if !p.CanExecute() {
				writeProblem(w, http.StatusForbidden, "Forbidden", "crew, dispatcher or admin required", r.URL.Path)
				return
			}
			sch, err = s.Engine.CompleteSchedule(r.Context(), tenant, id)
		default:
			writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
			return
		}
		if err != nil {
			writeEngineError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, sch)
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	sch, err := s.Store.GetSchedule(r.Context(), tenant, id)
	if err != nil {
		writeEngineError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (s *Server) scheduleEventsSSE(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	if _, err := s.Store.GetSchedule(r.Context(), tenant, id); err != nil {
		writeEngineError(w, err, r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"scheduleId\":%q,\"ts\":%q}\n\n", id, time.Now().Format(time.RFC3339))
	flusher.Flush()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"scheduleId\":%q,\"ts\":%q}\n\n", id, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// StopByIDHandler handles POST /v1/stops/{id}/arrive|complete|skip
func (s *Server) StopByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/stops/")
	parts := strings.Split(rest, "/")
	if rest == r.URL.Path || len(parts) != 2 {
		writeProblem(w, http.StatusNotFound, "Not Found", "expected /v1/stops/{id}/{action}", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanExecute() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "crew, dispatcher or admin required", r.URL.Path)
		return
	}
	_, tenant := s.withTenant(r)
	id := parts[0]
	actor := p.CrewID
	if actor == "" {
		actor = p.Role
	}

	var st model.Stop
	var err error
	switch parts[1] {
	case "arrive":
		st, err = s.Engine.ArriveStop(r.Context(), tenant, id)
	case "complete":
		var in model.CompleteStopIn
		if derr := json.NewDecoder(r.Body).Decode(&in); derr != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", derr.Error(), r.URL.Path)
			return
		}
		st, err = s.Engine.CompleteStop(r.Context(), tenant, id, in, actor)
	case "skip":
		var in model.SkipStopIn
		if derr := json.NewDecoder(r.Body).Decode(&in); derr != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", derr.Error(), r.URL.Path)
			return
		}
		st, err = s.Engine.SkipStop(r.Context(), tenant, id, in.Reason, actor)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if err != nil {
		writeEngineError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// MediaPresignHandler handles POST /v1/media/presign for completion photos.
func (s *Server) MediaPresignHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in model.PresignRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if in.FileName == "" || in.ContentType == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid request", "fileName and contentType are required", r.URL.Path)
		return
	}
	expire := time.Now().Add(15 * time.Minute).Format(time.RFC3339)
	writeJSON(w, http.StatusOK, map[string]any{
		"uploadUrl": fmt.Sprintf("https://upload.example/%s?token=demo", in.FileName),
		"method":    "PUT",
		"headers":   map[string]string{"Content-Type": in.ContentType},
		"expireAt":  expire,
	})
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodPost:
		if !p.IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var in model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if in.TenantID == "" {
			in.TenantID = p.Tenant
		}
		if err := validateSubscription(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), in)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		sub.Secret = ""
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		for i := range items {
			items[i].Secret = ""
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SignalDeliveriesHandler handles GET /v1/admin/signal-deliveries
func (s *Server) SignalDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/signal-deliveries" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListSignalDeliveries(r.Context(), p.Tenant, status, cursor, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// SignalDeliveryRetryHandler handles POST /v1/admin/signal-deliveries/{id}/retry
func (s *Server) SignalDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/admin/signal-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/signal-deliveries/"), "/retry")
	if err := s.Store.RetrySignalDelivery(r.Context(), p.Tenant, id); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Retry delivery failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

// SignalDLQHandler handles GET /v1/admin/signal-dlq and
// POST /v1/admin/signal-dlq/{id}/requeue
func (s *Server) SignalDLQHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	if strings.HasSuffix(r.URL.Path, "/requeue") {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/signal-dlq/"), "/requeue")
		if err := s.Store.RequeueSignalDLQ(r.Context(), p.Tenant, id); err != nil {
			writeEngineError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"requeued": 1})
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if len(req.IDs) == 0 {
			writeProblem(w, http.StatusBadRequest, "Missing ids", "", r.URL.Path)
			return
		}
		if err := s.Store.RequeueSignalDLQBulk(r.Context(), p.Tenant, req.IDs); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Bulk requeue failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(req.IDs)})
		return
	case http.MethodDelete:
		var req struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := s.Store.DeleteSignalDLQ(r.Context(), p.Tenant, req.IDs); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Bulk delete failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
		return
	case http.MethodGet:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	eventType := r.URL.Query().Get("eventType")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListSignalDLQ(r.Context(), p.Tenant, eventType, cursor, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List DLQ failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// ScheduleStatsHandler handles GET /v1/admin/schedules/stats?date=
func (s *Server) ScheduleStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "runs": route.GetRuns(p.Tenant, date)})
}

// OptimizerConfigHandler handles GET /v1/optimizer/config
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	cfg, err := s.Store.GetOptimizerConfig(r.Context(), tenant)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get config failed", err.Error(), r.URL.Path)
		return
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	writeJSON(w, http.StatusOK, cfg)
}

// AdminOptimizerConfigHandler handles GET/PUT /v1/admin/optimizer/config
func (s *Server) AdminOptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.OptimizerConfigHandler(w, r)
	case http.MethodPut:
		var cfg map[string]any
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := s.Store.SaveOptimizerConfig(r.Context(), p.Tenant, cfg); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save config failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using Postgres store
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
