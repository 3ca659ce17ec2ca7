package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fieldroute/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Ping reports database connectivity. Used by the readiness probe.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// MigrateDir applies every .sql file in dir in lexical order. Files are
// expected to be idempotent (CREATE TABLE IF NOT EXISTS style).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", n, err)
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return fmt.Errorf("apply migration %s: %w", n, err)
		}
	}
	return nil
}

func (p *Postgres) CreateRequest(ctx context.Context, tenantID string, in model.ServiceRequestIn) (model.ServiceRequest, error) {
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
	var lat, lng any
	if in.Location != nil {
		lat, lng = in.Location.Lat, in.Location.Lng
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO service_requests (id, tenant_id, customer_id, urgency, quantity, reason, lat, lng, service_time_sec, status, created_at, preferred_date)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, tenantID, r.CustomerID, string(r.Urgency), r.Quantity, nullIfEmpty(r.Reason), lat, lng, r.ServiceTimeSec, string(r.Status), r.CreatedAt, nullIfEmpty(r.PreferredDate))
	if err != nil {
		return model.ServiceRequest{}, err
	}
	return r, nil
}

const requestCols = `id::text, customer_id, urgency, quantity, COALESCE(reason,''), lat, lng, service_time_sec, status, created_at, COALESCE(preferred_date::text,'')`

func scanRequest(scan func(...any) error, tenantID string) (model.ServiceRequest, error) {
	var r model.ServiceRequest
	var lat, lng sql.NullFloat64
	var urgency, status string
	if err := scan(&r.ID, &r.CustomerID, &urgency, &r.Quantity, &r.Reason, &lat, &lng, &r.ServiceTimeSec, &status, &r.CreatedAt, &r.PreferredDate); err != nil {
		return model.ServiceRequest{}, err
	}
	r.TenantID = tenantID
	r.Urgency = model.Urgency(urgency)
	r.Status = model.RequestStatus(status)
	if lat.Valid && lng.Valid {
		r.Location = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	return r, nil
}

func (p *Postgres) GetRequest(ctx context.Context, tenantID, id string) (model.ServiceRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestCols+` FROM service_requests WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	r, err := scanRequest(row.Scan, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ServiceRequest{}, ErrNotFound
	}
	return r, err
}

func (p *Postgres) ListRequests(ctx context.Context, tenantID string, status model.RequestStatus, cursor string, limit int) ([]model.ServiceRequest, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if status != "" {
		if cursor != "" {
			rows, err = p.db.QueryContext(ctx, `SELECT `+requestCols+` FROM service_requests WHERE tenant_id=$1 AND status=$2 AND id::text > $3 ORDER BY id LIMIT $4`, tenantID, string(status), cursor, limit)
		} else {
			rows, err = p.db.QueryContext(ctx, `SELECT `+requestCols+` FROM service_requests WHERE tenant_id=$1 AND status=$2 ORDER BY id LIMIT $3`, tenantID, string(status), limit)
		}
	} else {
		if cursor != "" {
			rows, err = p.db.QueryContext(ctx, `SELECT `+requestCols+` FROM service_requests WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
		} else {
			rows, err = p.db.QueryContext(ctx, `SELECT `+requestCols+` FROM service_requests WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
		}
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.ServiceRequest{}
	var last string
	for rows.Next() {
		r, err := scanRequest(rows.Scan, tenantID)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
		last = r.ID
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) SetRequestStatus(ctx context.Context, tenantID string, ids []string, status model.RequestStatus) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx, `UPDATE service_requests SET status=$1 WHERE tenant_id=$2 AND id::text = ANY($3)`, string(status), tenantID, ids)
	return err
}

func (p *Postgres) CreateSchedule(ctx context.Context, sch model.Schedule) (model.Schedule, error) {
	if sch.ID == "" {
		sch.ID = uuid.New().String()
	}
	sch.TotalStops = len(sch.Stops)
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Schedule{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO schedules (id, tenant_id, plan_date, status, total_stops, distance_km, approx_distance_km, distance_source, duration_min)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		sch.ID, sch.TenantID, sch.Date, string(sch.Status), sch.TotalStops, sch.DistanceKm, sch.ApproxDistanceKm, nullIfEmpty(sch.DistanceSource), sch.DurationMin)
	if err != nil {
		return model.Schedule{}, err
	}
	for i := range sch.Stops {
		st := &sch.Stops[i]
		if st.ID == "" {
			st.ID = uuid.New().String()
		}
		st.ScheduleID = sch.ID
		_, err = tx.ExecContext(ctx, `INSERT INTO stops (id, tenant_id, schedule_id, request_id, customer_id, lat, lng, service_time_sec, position, eta, status)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			st.ID, sch.TenantID, sch.ID, nullIfEmpty(st.RequestID), st.CustomerID, st.Location.Lat, st.Location.Lng, st.ServiceTimeSec, st.Position, st.ETA, string(st.Status))
		if err != nil {
			return model.Schedule{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Schedule{}, err
	}
	return sch, nil
}

func (p *Postgres) GetSchedule(ctx context.Context, tenantID, id string) (model.Schedule, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id::text, plan_date, status, total_stops, distance_km, approx_distance_km, COALESCE(distance_source,''), duration_min, started_at, completed_at
        FROM schedules WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	sch, err := scanSchedule(row.Scan, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, ErrNotFound
	}
	if err != nil {
		return model.Schedule{}, err
	}
	stops, err := p.stopsForSchedule(ctx, tenantID, id)
	if err != nil {
		return model.Schedule{}, err
	}
	sch.Stops = stops
	return sch, nil
}

func scanSchedule(scan func(...any) error, tenantID string) (model.Schedule, error) {
	var sch model.Schedule
	var status string
	var startedAt, completedAt sql.NullTime
	if err := scan(&sch.ID, &sch.Date, &status, &sch.TotalStops, &sch.DistanceKm, &sch.ApproxDistanceKm, &sch.DistanceSource, &sch.DurationMin, &startedAt, &completedAt); err != nil {
		return model.Schedule{}, err
	}
	sch.TenantID = tenantID
	sch.Status = model.ScheduleStatus(status)
	if startedAt.Valid {
		sch.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		sch.CompletedAt = &completedAt.Time
	}
	return sch, nil
}

const stopCols = `id::text, schedule_id::text, COALESCE(request_id::text,''), customer_id, lat, lng, service_time_sec, position, eta, status, arrived_at, completion, COALESCE(skip_reason,''), COALESCE(skipped_by,'')`

func scanStop(scan func(...any) error) (model.Stop, error) {
	var st model.Stop
	var status string
	var arrivedAt sql.NullTime
	var completion []byte
	if err := scan(&st.ID, &st.ScheduleID, &st.RequestID, &st.CustomerID, &st.Location.Lat, &st.Location.Lng, &st.ServiceTimeSec, &st.Position, &st.ETA, &status, &arrivedAt, &completion, &st.SkipReason, &st.SkippedBy); err != nil {
		return model.Stop{}, err
	}
	st.Status = model.StopStatus(status)
	if arrivedAt.Valid {
		st.ArrivedAt = &arrivedAt.Time
	}
	if len(completion) > 0 {
		var c model.StopCompletion
		if err := json.Unmarshal(completion, &c); err == nil {
			st.Completion = &c
		}
	}
	return st, nil
}

func (p *Postgres) stopsForSchedule(ctx context.Context, tenantID, scheduleID string) ([]model.Stop, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+stopCols+` FROM stops WHERE tenant_id=$1 AND schedule_id=$2 ORDER BY position`, tenantID, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Stop{}
	for rows.Next() {
		st, err := scanStop(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (p *Postgres) ListSchedules(ctx context.Context, tenantID, date string, status model.ScheduleStatus, cursor string, limit int) ([]model.Schedule, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id::text, plan_date, status, total_stops, distance_km, approx_distance_km, COALESCE(distance_source,''), duration_min, started_at, completed_at FROM schedules WHERE tenant_id=$1`
	args := []any{tenantID}
	if date != "" {
		args = append(args, date)
		q += fmt.Sprintf(" AND plan_date=$%d", len(args))
	}
	if status != "" {
		args = append(args, string(status))
		q += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if cursor != "" {
		args = append(args, cursor)
		q += fmt.Sprintf(" AND id::text > $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Schedule{}
	var last string
	for rows.Next() {
		sch, err := scanSchedule(rows.Scan, tenantID)
		if err != nil {
			return nil, "", err
		}
		out = append(out, sch)
		last = sch.ID
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) TransitionSchedule(ctx context.Context, tenantID, id string, from, to model.ScheduleStatus, at time.Time) (model.Schedule, error) {
	set := `status=$1`
	switch to {
	case model.ScheduleInProgress:
		set += `, started_at=$5`
	case model.ScheduleCompleted:
		set += `, completed_at=$5`
	}
	var res sql.Result
	var err error
	if strings.Contains(set, "$5") {
		res, err = p.db.ExecContext(ctx, `UPDATE schedules SET `+set+` WHERE tenant_id=$2 AND id=$3 AND status=$4`, string(to), tenantID, id, string(from), at)
	} else {
		res, err = p.db.ExecContext(ctx, `UPDATE schedules SET `+set+` WHERE tenant_id=$2 AND id=$3 AND status=$4`, string(to), tenantID, id, string(from))
	}
	if err != nil {
		return model.Schedule{}, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Distinguish missing from a status race.
		if _, err := p.GetSchedule(ctx, tenantID, id); err != nil {
			return model.Schedule{}, err
		}
		return model.Schedule{}, ErrConflict
	}
	return p.GetSchedule(ctx, tenantID, id)
}

func (p *Postgres) GetStop(ctx context.Context, tenantID, stopID string) (model.Stop, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+stopCols+` FROM stops WHERE tenant_id=$1 AND id=$2`, tenantID, stopID)
	st, err := scanStop(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Stop{}, ErrNotFound
	}
	return st, err
}

func (p *Postgres) ArriveStop(ctx context.Context, tenantID, stopID string, at time.Time) (model.Stop, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE stops SET status=$1, arrived_at=$2 WHERE tenant_id=$3 AND id=$4 AND status=$5`,
		string(model.StopInProgress), at, tenantID, stopID, string(model.StopPending))
	if err != nil {
		return model.Stop{}, err
	}
	return p.afterStopCAS(ctx, tenantID, stopID, res)
}

func (p *Postgres) CompleteStop(ctx context.Context, tenantID, stopID string, comp model.StopCompletion) (model.Stop, error) {
	b, err := json.Marshal(comp)
	if err != nil {
		return model.Stop{}, err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE stops SET status=$1, completion=$2, arrived_at=COALESCE(arrived_at,$3) WHERE tenant_id=$4 AND id=$5 AND status IN ($6,$7)`,
		string(model.StopCompleted), b, comp.ArrivedAt, tenantID, stopID, string(model.StopPending), string(model.StopInProgress))
	if err != nil {
		return model.Stop{}, err
	}
	return p.afterStopCAS(ctx, tenantID, stopID, res)
}

func (p *Postgres) SkipStop(ctx context.Context, tenantID, stopID, reason, skippedBy string) (model.Stop, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE stops SET status=$1, skip_reason=$2, skipped_by=$3 WHERE tenant_id=$4 AND id=$5 AND status IN ($6,$7)`,
		string(model.StopCancelled), reason, nullIfEmpty(skippedBy), tenantID, stopID, string(model.StopPending), string(model.StopInProgress))
	if err != nil {
		return model.Stop{}, err
	}
	return p.afterStopCAS(ctx, tenantID, stopID, res)
}

// afterStopCAS resolves a guarded stop update: zero rows means either the
// stop does not exist or another transition won the race.
func (p *Postgres) afterStopCAS(ctx context.Context, tenantID, stopID string, res sql.Result) (model.Stop, error) {
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := p.GetStop(ctx, tenantID, stopID); err != nil {
			return model.Stop{}, err
		}
		return model.Stop{}, ErrConflict
	}
	return p.GetStop(ctx, tenantID, stopID)
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	ev, _ := json.Marshal(req.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, secret, events) VALUES ($1,$2,$3,$4,$5)`,
		s.ID, req.TenantID, req.URL, nullIfEmpty(req.Secret), ev)
	if err != nil {
		return model.Subscription{}, err
	}
	return s, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 AND (events @> $2::jsonb OR events @> '["*"]'::jsonb)`,
		tenantID, fmt.Sprintf("[%q]", eventType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, err
		}
		s.TenantID = tenantID
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var out []model.Subscription
	var last string
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, "", err
		}
		s.TenantID = tenantID
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
		last = s.ID
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

// Signal deliveries

func (p *Postgres) EnqueueSignal(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	dk := computeDedupKey(payload)
	_, err := p.db.ExecContext(ctx, `INSERT INTO signal_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueSignalDeliveries(ctx context.Context, limit int) ([]SignalDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM signal_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SignalDelivery{}
	for rows.Next() {
		var d SignalDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkSignalDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(1 * time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE signal_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`,
			nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE signal_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailSignalDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE signal_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
	if err != nil {
		return err
	}
	// move to DLQ
	_, err = p.db.ExecContext(ctx, `INSERT INTO signal_dlq (id, tenant_id, delivery_id, event_type, url, secret, payload, attempts, last_error)
        SELECT gen_random_uuid(), tenant_id, id, event_type, url, secret, payload, attempts+1, $2 FROM signal_deliveries WHERE id=$1`, id, nullIfEmpty(lastError))
	return err
}

func (p *Postgres) ListSignalDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id::text, event_type, status, attempts, next_attempt_at, last_error, url FROM signal_deliveries WHERE tenant_id=$1`
	var rows *sql.Rows
	var err error
	if status != "" {
		q += ` AND status=$2 ORDER BY id LIMIT $3`
		rows, err = p.db.QueryContext(ctx, q, tenantID, status, limit)
	} else {
		q += ` ORDER BY id LIMIT $2`
		rows, err = p.db.QueryContext(ctx, q, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []map[string]any{}
	var last string
	for rows.Next() {
		var id, eventType, status, url string
		var attempts int
		var nextAt sql.NullTime
		var lastErr sql.NullString
		if err := rows.Scan(&id, &eventType, &status, &attempts, &nextAt, &lastErr, &url); err != nil {
			return nil, "", err
		}
		item := map[string]any{"id": id, "eventType": eventType, "status": status, "attempts": attempts, "url": url}
		if nextAt.Valid {
			item["nextAttemptAt"] = nextAt.Time
		}
		if lastErr.Valid && lastErr.String != "" {
			item["lastError"] = lastErr.String
		}
		out = append(out, item)
		last = id
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) RetrySignalDelivery(ctx context.Context, tenantID, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE signal_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

func (p *Postgres) ListSignalDLQ(ctx context.Context, tenantID, eventType, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id::text, delivery_id::text, event_type, url, attempts, COALESCE(last_error,''), created_at FROM signal_dlq WHERE tenant_id=$1`
	args := []any{tenantID}
	if eventType != "" {
		args = append(args, eventType)
		q += fmt.Sprintf(" AND event_type=$%d", len(args))
	}
	if cursor != "" {
		args = append(args, cursor)
		q += fmt.Sprintf(" AND id::text > $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []map[string]any{}
	var last string
	for rows.Next() {
		var id, deliveryID, eventType, url, lastErr string
		var attempts int
		var createdAt time.Time
		if err := rows.Scan(&id, &deliveryID, &eventType, &url, &attempts, &lastErr, &createdAt); err != nil {
			return nil, "", err
		}
		out = append(out, map[string]any{"id": id, "deliveryId": deliveryID, "eventType": eventType, "url": url, "attempts": attempts, "lastError": lastErr, "createdAt": createdAt})
		last = id
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) RequeueSignalDLQ(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE signal_deliveries SET status='pending', attempts=0, next_attempt_at=now(), updated_at=now()
        WHERE tenant_id=$1 AND id=(SELECT delivery_id FROM signal_dlq WHERE tenant_id=$1 AND id=$2)`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = p.db.ExecContext(ctx, `DELETE FROM signal_dlq WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

func (p *Postgres) RequeueSignalDLQBulk(ctx context.Context, tenantID string, ids []string) error {
	for _, id := range ids {
		if err := p.RequeueSignalDLQ(ctx, tenantID, id); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// DeleteSignalDLQ purges DLQ rows. With no ids the whole tenant queue is
// cleared.
func (p *Postgres) DeleteSignalDLQ(ctx context.Context, tenantID string, ids []string) error {
	if len(ids) == 0 {
		_, err := p.db.ExecContext(ctx, `DELETE FROM signal_dlq WHERE tenant_id=$1`, tenantID)
		return err
	}
	for _, id := range ids {
		if _, err := p.db.ExecContext(ctx, `DELETE FROM signal_dlq WHERE tenant_id=$1 AND id=$2`, tenantID, id); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	var b []byte
	err := p.db.QueryRowContext(ctx, `SELECT cfg FROM optimizer_config WHERE tenant_id=$1`, tenantID).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg map[string]any
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *Postgres) SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO optimizer_config (tenant_id, cfg, updated_at) VALUES ($1,$2,now())
        ON CONFLICT (tenant_id) DO UPDATE SET cfg=EXCLUDED.cfg, updated_at=now()`, tenantID, b)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func computeDedupKey(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}
