package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldroute/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu         sync.Mutex
	requests   map[string]model.ServiceRequest // id -> request
	reqByTen   map[string][]string             // tenant -> request ids, insertion order
	schedules  map[string]model.Schedule       // id -> schedule (stops embedded)
	schedByTen map[string][]string             // tenant -> schedule ids
	stopIndex  map[string]string               // stop id -> schedule id
	subs       map[string][]model.Subscription // tenant -> subscriptions
	// Signal queue state
	deliveries         map[string]*memDelivery // id -> delivery state
	deliveriesByTenant map[string][]string     // tenant -> delivery ids
	dlq                []map[string]any        // dead-lettered deliveries
	optCfg             map[string]map[string]any
}

func NewMemory() *Memory {
	return &Memory{
		requests:           map[string]model.ServiceRequest{},
		reqByTen:           map[string][]string{},
		schedules:          map[string]model.Schedule{},
		schedByTen:         map[string][]string{},
		stopIndex:          map[string]string{},
		subs:               map[string][]model.Subscription{},
		deliveries:         map[string]*memDelivery{},
		deliveriesByTenant: map[string][]string{},
		dlq:                []map[string]any{},
		optCfg:             map[string]map[string]any{},
	}
}

// memDelivery augments SignalDelivery with scheduling/metrics
type memDelivery struct {
	SignalDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func (m *Memory) CreateRequest(ctx context.Context, tenantID string, in model.ServiceRequestIn) (model.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := model.ServiceRequest{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		CustomerID:     in.CustomerID,
		Urgency:        in.Urgency,
		Quantity:       in.Quantity,
		Reason:         in.Reason,
		Location:       in.Location,
		ServiceTimeSec: in.ServiceTimeSec,
		Status:         model.RequestPending,
		CreatedAt:      time.Now().UTC(),
		PreferredDate:  in.PreferredDate,
	}
	m.requests[r.ID] = r
	m.reqByTen[tenantID] = append(m.reqByTen[tenantID], r.ID)
	return r, nil
}

func (m *Memory) GetRequest(ctx context.Context, tenantID, id string) (model.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.TenantID != tenantID {
		return model.ServiceRequest{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRequests(ctx context.Context, tenantID string, status model.RequestStatus, cursor string, limit int) ([]model.ServiceRequest, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.reqByTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.ServiceRequest{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		r := m.requests[ids[i]]
		if status == "" || r.Status == status {
			out = append(out, r)
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) SetRequestStatus(ctx context.Context, tenantID string, ids []string, status model.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		r, ok := m.requests[id]
		if !ok || r.TenantID != tenantID {
			continue
		}
		r.Status = status
		m.requests[id] = r
	}
	return nil
}

func (m *Memory) CreateSchedule(ctx context.Context, sch model.Schedule) (model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sch.ID == "" {
		sch.ID = uuid.New().String()
	}
	for i := range sch.Stops {
		if sch.Stops[i].ID == "" {
			sch.Stops[i].ID = uuid.New().String()
		}
		sch.Stops[i].ScheduleID = sch.ID
		m.stopIndex[sch.Stops[i].ID] = sch.ID
	}
	sch.TotalStops = len(sch.Stops)
	m.schedules[sch.ID] = sch
	m.schedByTen[sch.TenantID] = append(m.schedByTen[sch.TenantID], sch.ID)
	return sch, nil
}

func (m *Memory) GetSchedule(ctx context.Context, tenantID, id string) (model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok || s.TenantID != tenantID {
		return model.Schedule{}, ErrNotFound
	}
	return cloneSchedule(s), nil
}

func (m *Memory) ListSchedules(ctx context.Context, tenantID, date string, status model.ScheduleStatus, cursor string, limit int) ([]model.Schedule, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.schedByTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.Schedule{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		s := m.schedules[ids[i]]
		if (date == "" || s.Date == date) && (status == "" || s.Status == status) {
			out = append(out, cloneSchedule(s))
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) TransitionSchedule(ctx context.Context, tenantID, id string, from, to model.ScheduleStatus, at time.Time) (model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok || s.TenantID != tenantID {
		return model.Schedule{}, ErrNotFound
	}
	if s.Status != from {
		return model.Schedule{}, ErrConflict
	}
	s.Status = to
	switch to {
	case model.ScheduleInProgress:
		t := at
		s.StartedAt = &t
	case model.ScheduleCompleted:
		t := at
		s.CompletedAt = &t
	}
	m.schedules[id] = s
	return cloneSchedule(s), nil
}

func (m *Memory) GetStop(ctx context.Context, tenantID, stopID string) (model.Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, _, _, err := m.findStop(tenantID, stopID)
	if err != nil {
		return model.Stop{}, err
	}
	return *st, nil
}

// findStop locates a stop and its schedule. Caller holds the lock. The
// returned pointer aliases the schedule's slice; mutations must be written
// back with m.schedules[schID] = sch.
func (m *Memory) findStop(tenantID, stopID string) (*model.Stop, model.Schedule, int, error) {
	schID, ok := m.stopIndex[stopID]
	if !ok {
		return nil, model.Schedule{}, 0, ErrNotFound
	}
	sch, ok := m.schedules[schID]
	if !ok || sch.TenantID != tenantID {
		return nil, model.Schedule{}, 0, ErrNotFound
	}
	for i := range sch.Stops {
		if sch.Stops[i].ID == stopID {
			return &sch.Stops[i], sch, i, nil
		}
	}
	return nil, model.Schedule{}, 0, ErrNotFound
}

func (m *Memory) ArriveStop(ctx context.Context, tenantID, stopID string, at time.Time) (model.Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, sch, _, err := m.findStop(tenantID, stopID)
	if err != nil {
		return model.Stop{}, err
	}
	if st.Status != model.StopPending {
		return model.Stop{}, ErrConflict
	}
	st.Status = model.StopInProgress
	t := at
	st.ArrivedAt = &t
	m.schedules[sch.ID] = sch
	return *st, nil
}

func (m *Memory) CompleteStop(ctx context.Context, tenantID, stopID string, comp model.StopCompletion) (model.Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, sch, _, err := m.findStop(tenantID, stopID)
	if err != nil {
		return model.Stop{}, err
	}
	if st.Status.Terminal() {
		return model.Stop{}, ErrConflict
	}
	st.Status = model.StopCompleted
	c := comp
	st.Completion = &c
	if st.ArrivedAt == nil {
		t := comp.ArrivedAt
		st.ArrivedAt = &t
	}
	m.schedules[sch.ID] = sch
	return *st, nil
}

func (m *Memory) SkipStop(ctx context.Context, tenantID, stopID, reason, skippedBy string) (model.Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, sch, _, err := m.findStop(tenantID, stopID)
	if err != nil {
		return model.Stop{}, err
	}
	if st.Status.Terminal() {
		return model.Stop{}, ErrConflict
	}
	st.Status = model.StopCancelled
	st.SkipReason = reason
	st.SkippedBy = skippedBy
	m.schedules[sch.ID] = sch
	return *st, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tenantID]
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	items := append([]model.Subscription(nil), list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[tenantID]
	out := make([]model.Subscription, 0, len(arr))
	for _, s := range arr {
		if s.ID != id {
			out = append(out, s)
		}
	}
	m.subs[tenantID] = out
	return nil
}

// Signal deliveries

func (m *Memory) EnqueueSignal(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	d := &memDelivery{SignalDelivery: SignalDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending", Attempts: 0}, NextAttemptAt: time.Now()}
	m.deliveries[id] = d
	m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
	return id, nil
}

func (m *Memory) FetchDueSignalDeliveries(ctx context.Context, limit int) ([]SignalDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []SignalDelivery{}
	for _, id := range m.iterDeliveryIDs() {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, d.SignalDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) iterDeliveryIDs() []string {
	tenants := make([]string, 0, len(m.deliveriesByTenant))
	for t := range m.deliveriesByTenant {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	var ids []string
	for _, t := range tenants {
		ids = append(ids, m.deliveriesByTenant[t]...)
	}
	return ids
}

func (m *Memory) MarkSignalDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
	} else {
		d.Status = "retry"
		d.LastError = lastError
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		} else {
			d.NextAttemptAt = time.Now().Add(1 * time.Minute)
		}
	}
	return nil
}

func (m *Memory) FailSignalDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	d.Status = "failed"
	m.dlq = append(m.dlq, map[string]any{"id": id, "tenantId": d.TenantID, "eventType": d.EventType, "lastError": lastError, "responseCode": responseCode, "latencyMs": latencyMs})
	return nil
}

func (m *Memory) ListSignalDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []map[string]any{}
	for _, id := range m.deliveriesByTenant[tenantID] {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if status == "" || d.Status == status {
			item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
			if !d.NextAttemptAt.IsZero() {
				item["nextAttemptAt"] = d.NextAttemptAt
			}
			if d.LastError != "" {
				item["lastError"] = d.LastError
			}
			out = append(out, item)
		}
	}
	return out, "", nil
}

func (m *Memory) RetrySignalDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d != nil && d.TenantID == tenantID {
		d.Status = "pending"
		d.NextAttemptAt = time.Now()
	}
	return nil
}

func (m *Memory) ListSignalDLQ(ctx context.Context, tenantID, eventType, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []map[string]any{}
	for _, it := range m.dlq {
		if t, _ := it["tenantId"].(string); t != tenantID {
			continue
		}
		if eventType != "" {
			if e, _ := it["eventType"].(string); !strings.EqualFold(e, eventType) {
				continue
			}
		}
		out = append(out, it)
	}
	return out, "", nil
}

func (m *Memory) RequeueSignalDLQ(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil || d.TenantID != tenantID || d.Status != "failed" {
		return ErrNotFound
	}
	d.Status = "pending"
	d.Attempts = 0
	d.NextAttemptAt = time.Now()
	kept := m.dlq[:0]
	for _, it := range m.dlq {
		if v, _ := it["id"].(string); v != id {
			kept = append(kept, it)
		}
	}
	m.dlq = kept
	return nil
}

func (m *Memory) RequeueSignalDLQBulk(ctx context.Context, tenantID string, ids []string) error {
	for _, id := range ids {
		if err := m.RequeueSignalDLQ(ctx, tenantID, id); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

func (m *Memory) DeleteSignalDLQ(ctx context.Context, tenantID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.dlq[:0]
	for _, it := range m.dlq {
		t, _ := it["tenantId"].(string)
		id, _ := it["id"].(string)
		if t == tenantID && (len(ids) == 0 || drop[id]) {
			continue
		}
		kept = append(kept, it)
	}
	m.dlq = kept
	return nil
}

func (m *Memory) GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.optCfg[tenantID]; ok {
		return cfg, nil
	}
	return nil, nil
}

func (m *Memory) SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.optCfg[tenantID] = cfg
	return nil
}

// cloneSchedule returns a copy whose Stops slice does not alias the stored
// one, so callers cannot mutate state outside the lock.
func cloneSchedule(s model.Schedule) model.Schedule {
	out := s
	out.Stops = append([]model.Stop(nil), s.Stops...)
	return out
}
