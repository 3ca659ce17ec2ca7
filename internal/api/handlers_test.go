package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldroute/internal/config"
	"fieldroute/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Config{}
	cfg.Routing.DayStartHour = 8
	cfg.Routing.Timezone = "UTC"
	cfg.Routing.FallbackTravelMin = 15
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func doJSON(t *testing.T, h http.HandlerFunc, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestRequestsCreateAndRankedList(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"tenantId":"t_test","requests":[
		{"customerId":"c_low","urgency":"LOW","quantity":1,"location":{"lat":52.5,"lng":13.4}},
		{"customerId":"c_urgent","urgency":"URGENT","quantity":2,"location":{"lat":52.51,"lng":13.41}}
	]}`)
	rr := doJSON(t, s.RequestsHandler, http.MethodPost, "/v1/requests", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: got %d body %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, s.RequestsHandler, http.MethodGet, "/v1/requests?ranked=1", nil)
	if rr.Code != 200 {
		t.Fatalf("ranked list: got %d", rr.Code)
	}
	var out struct {
		Items []struct {
			CustomerID string  `json:"customerId"`
			Score      float64 `json:"score"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 2 {
		t.Fatalf("want 2 items, got %d", len(out.Items))
	}
	if out.Items[0].CustomerID != "c_urgent" {
		t.Fatalf("urgent request should rank first, got %s", out.Items[0].CustomerID)
	}
	if out.Items[0].Score <= out.Items[1].Score {
		t.Fatalf("scores not descending: %v vs %v", out.Items[0].Score, out.Items[1].Score)
	}
}

func TestRequestsRejectInvalid(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"tenantId":"t_test","requests":[{"urgency":"HIGH"}]}`)
	rr := doJSON(t, s.RequestsHandler, http.MethodPost, "/v1/requests", body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rr.Code)
	}
}

func TestOptimizeStateless(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"date":"2026-09-01","startPoint":{"lat":52.50,"lng":13.40},"stops":[
		{"id":"a","location":{"lat":52.55,"lng":13.45},"serviceTimeSec":600},
		{"id":"b","location":{"lat":52.51,"lng":13.41},"serviceTimeSec":600}
	]}`)
	rr := doJSON(t, s.OptimizeHandler, http.MethodPost, "/v1/routes/optimize", body)
	if rr.Code != 200 {
		t.Fatalf("optimize: got %d body %s", rr.Code, rr.Body.String())
	}
	var res model.RouteResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Stops) != 2 {
		t.Fatalf("want 2 stops, got %d", len(res.Stops))
	}
	// No provider configured: nearest neighbor from the start point visits b first.
	if res.Stops[0].ID != "b" {
		t.Fatalf("want b first, got %s", res.Stops[0].ID)
	}
	if res.DistanceSource != "approximate" {
		t.Fatalf("want approximate source, got %s", res.DistanceSource)
	}
}

func buildSchedule(t *testing.T, s *Server) model.Schedule {
	t.Helper()
	body := []byte(`{"tenantId":"t_test","requests":[
		{"customerId":"c_1","urgency":"HIGH","quantity":3,"location":{"lat":52.5,"lng":13.4},"serviceTimeSec":900}
	]}`)
	rr := doJSON(t, s.RequestsHandler, http.MethodPost, "/v1/requests", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("seed request: got %d", rr.Code)
	}
	rr = doJSON(t, s.ScheduleBuildHandler, http.MethodPost, "/v1/schedules/build", []byte(`{"tenantId":"t_test","date":"2026-09-01"}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("build: got %d body %s", rr.Code, rr.Body.String())
	}
	var sch model.Schedule
	if err := json.Unmarshal(rr.Body.Bytes(), &sch); err != nil {
		t.Fatalf("decode schedule: %v", err)
	}
	if len(sch.Stops) == 0 {
		t.Fatal("schedule has no stops")
	}
	return sch
}

func TestScheduleLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	sch := buildSchedule(t, s)

	// Start before approve conflicts.
	rr := doJSON(t, s.ScheduleByIDHandler, http.MethodPost, "/v1/schedules/"+sch.ID+"/start", []byte("{}"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("start before approve: want 409, got %d", rr.Code)
	}
	var prob Problem
	if err := json.Unmarshal(rr.Body.Bytes(), &prob); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if prob.Code != "schedule_not_approved" {
		t.Fatalf("want schedule_not_approved, got %q", prob.Code)
	}

	for _, action := range []string{"approve", "start"} {
		rr = doJSON(t, s.ScheduleByIDHandler, http.MethodPost, "/v1/schedules/"+sch.ID+"/"+action, []byte("{}"))
		if rr.Code != 200 {
			t.Fatalf("%s: got %d body %s", action, rr.Code, rr.Body.String())
		}
	}

	// Completing with an open stop is refused.
	rr = doJSON(t, s.ScheduleByIDHandler, http.MethodPost, "/v1/schedules/"+sch.ID+"/complete", []byte("{}"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("complete with open stops: want 409, got %d", rr.Code)
	}

	stopID := sch.Stops[0].ID
	rr = doJSON(t, s.StopByIDHandler, http.MethodPost, "/v1/stops/"+stopID+"/arrive", []byte("{}"))
	if rr.Code != 200 {
		t.Fatalf("arrive: got %d body %s", rr.Code, rr.Body.String())
	}

	now := time.Now().UTC()
	comp, _ := json.Marshal(model.CompleteStopIn{
		ArrivedAt:    now.Add(-10 * time.Minute),
		StartedAt:    now.Add(-9 * time.Minute),
		FinishedAt:   now,
		QuantityDone: 3,
	})
	rr = doJSON(t, s.StopByIDHandler, http.MethodPost, "/v1/stops/"+stopID+"/complete", comp)
	if rr.Code != 200 {
		t.Fatalf("complete stop: got %d body %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, s.ScheduleByIDHandler, http.MethodPost, "/v1/schedules/"+sch.ID+"/complete", []byte("{}"))
	if rr.Code != 200 {
		t.Fatalf("complete schedule: got %d body %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, s.ScheduleByIDHandler, http.MethodGet, "/v1/schedules/"+sch.ID, nil)
	if rr.Code != 200 {
		t.Fatalf("get schedule: got %d", rr.Code)
	}
	var final model.Schedule
	_ = json.Unmarshal(rr.Body.Bytes(), &final)
	if final.Status != model.ScheduleCompleted {
		t.Fatalf("want COMPLETED, got %s", final.Status)
	}
}

func TestSkipStopProblemCode(t *testing.T) {
	s := newTestServer(t)
	sch := buildSchedule(t, s)
	for _, action := range []string{"approve", "start"} {
		rr := doJSON(t, s.ScheduleByIDHandler, http.MethodPost, "/v1/schedules/"+sch.ID+"/"+action, []byte("{}"))
		if rr.Code != 200 {
			t.Fatalf("%s: got %d", action, rr.Code)
		}
	}
	stopID := sch.Stops[0].ID

	rr := doJSON(t, s.StopByIDHandler, http.MethodPost, "/v1/stops/"+stopID+"/skip", []byte(`{"reason":"no"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("short reason: want 400, got %d", rr.Code)
	}
	var prob Problem
	_ = json.Unmarshal(rr.Body.Bytes(), &prob)
	if prob.Code != "skip_reason_too_short" {
		t.Fatalf("want skip_reason_too_short, got %q", prob.Code)
	}

	rr = doJSON(t, s.StopByIDHandler, http.MethodPost, "/v1/stops/"+stopID+"/skip", []byte(`{"reason":"customer closed for the day"}`))
	if rr.Code != 200 {
		t.Fatalf("skip: got %d body %s", rr.Code, rr.Body.String())
	}

	// A finalized stop refuses further execution.
	rr = doJSON(t, s.StopByIDHandler, http.MethodPost, "/v1/stops/"+stopID+"/arrive", []byte("{}"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("arrive after skip: want 409, got %d", rr.Code)
	}
}

func TestSubscriptionsLifecycle(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"tenantId":"t_test","url":"https://hooks.example/inventory","events":["stop.completed"],"secret":"s3cr3t"}`)
	rr := doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create sub: got %d body %s", rr.Code, rr.Body.String())
	}
	var sub model.Subscription
	_ = json.Unmarshal(rr.Body.Bytes(), &sub)
	if sub.Secret != "" {
		t.Fatal("secret must not be returned")
	}

	rr = doJSON(t, s.SubscriptionsHandler, http.MethodGet, "/v1/subscriptions", nil)
	if rr.Code != 200 {
		t.Fatalf("list subs: got %d", rr.Code)
	}

	rr = doJSON(t, s.SubscriptionByIDHandler, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete sub: got %d", rr.Code)
	}
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	s := newTestServer(t)
	paths := []struct {
		h      http.HandlerFunc
		method string
		path   string
	}{
		{s.SignalDeliveriesHandler, http.MethodGet, "/v1/admin/signal-deliveries"},
		{s.SignalDLQHandler, http.MethodGet, "/v1/admin/signal-dlq"},
		{s.ScheduleStatsHandler, http.MethodGet, "/v1/admin/schedules/stats"},
		{s.AdminOptimizerConfigHandler, http.MethodGet, "/v1/admin/optimizer/config"},
	}
	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, nil)
		req.Header.Set("X-Tenant-Id", "t_test")
		req.Header.Set("X-Role", "crew")
		rr := httptest.NewRecorder()
		p.h(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s: want 403 for crew, got %d", p.path, rr.Code)
		}
	}
}

func TestOptimizerConfigRoundTrip(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"dayStartHour":7,"twoOptIterations":50}`)
	rr := doJSON(t, s.AdminOptimizerConfigHandler, http.MethodPut, "/v1/admin/optimizer/config", body)
	if rr.Code != 200 {
		t.Fatalf("put config: got %d body %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, s.OptimizerConfigHandler, http.MethodGet, "/v1/optimizer/config", nil)
	if rr.Code != 200 {
		t.Fatalf("get config: got %d", rr.Code)
	}
	var cfg map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &cfg)
	if fmt.Sprintf("%v", cfg["dayStartHour"]) != "7" {
		t.Fatalf("config not persisted: %v", cfg)
	}
}
