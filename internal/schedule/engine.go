// Package schedule owns the schedule and stop state machines: building a
// day's schedule from ranked requests, approving and starting it, and
// recording per-stop outcomes in the field.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"fieldroute/internal/model"
	"fieldroute/internal/route"
	"fieldroute/internal/scoring"
	"fieldroute/internal/store"
	"fieldroute/internal/webhooks"
)

const (
	defaultMaxStops       = 20
	defaultServiceTimeSec = 1800
	minSkipReasonLen      = 5
)

// Engine executes schedule and stop transitions against the store. The
// store's compare-and-set updates serialize racing transitions; the engine
// translates lost races into conflict errors.
type Engine struct {
	Store store.Store
	Pub   *webhooks.Publisher
	Opt   *route.Optimizer
	// Now is overridable for tests.
	Now func() time.Time
	// Notify, when set, fans events out to live stream subscribers.
	Notify func(tenantID, scheduleID, eventType string, data any)
}

func NewEngine(s store.Store, pub *webhooks.Publisher, opt *route.Optimizer) *Engine {
	return &Engine{Store: s, Pub: pub, Opt: opt, Now: func() time.Time { return time.Now().UTC() }}
}

func (e *Engine) emit(ctx context.Context, tenantID, scheduleID, eventType string, data any) {
	if e.Pub != nil {
		e.Pub.Emit(ctx, tenantID, eventType, data)
	}
	if e.Notify != nil {
		e.Notify(tenantID, scheduleID, eventType, data)
	}
}

// BuildSchedule ranks pending requests, takes the top candidates up to the
// capacity knob, optimizes their visiting order and persists a DRAFT
// schedule. Selected requests move to SCHEDULED.
func (e *Engine) BuildSchedule(ctx context.Context, in model.BuildScheduleIn) (model.Schedule, error) {
	if _, err := time.Parse("2006-01-02", in.Date); err != nil {
		return model.Schedule{}, validationErr(CodeInvalidDate, "date must be YYYY-MM-DD")
	}
	maxStops := in.MaxStops
	if maxStops <= 0 {
		maxStops = defaultMaxStops
	}

	var candidates []model.ServiceRequest
	if len(in.RequestIDs) > 0 {
		for _, id := range in.RequestIDs {
			r, err := e.Store.GetRequest(ctx, in.TenantID, id)
			if err != nil {
				return model.Schedule{}, fmt.Errorf("build schedule: request %s: %w", id, err)
			}
			if r.Status != model.RequestPending {
				continue
			}
			candidates = append(candidates, r)
		}
	} else {
		var cursor string
		for {
			page, next, err := e.Store.ListRequests(ctx, in.TenantID, model.RequestPending, cursor, 200)
			if err != nil {
				return model.Schedule{}, fmt.Errorf("build schedule: list requests: %w", err)
			}
			candidates = append(candidates, page...)
			if next == "" {
				break
			}
			cursor = next
		}
	}

	ranked := scoring.Rank(candidates, e.Now())
	stops := make([]model.Stop, 0, maxStops)
	scheduledIDs := make([]string, 0, maxStops)
	for _, r := range ranked {
		if len(stops) >= maxStops {
			break
		}
		// Requests without usable coordinates stay in the pending pool.
		if r.Location == nil || !r.Location.Valid() {
			continue
		}
		svc := r.ServiceTimeSec
		if svc <= 0 {
			svc = defaultServiceTimeSec
		}
		stops = append(stops, model.Stop{
			RequestID:      r.ID,
			CustomerID:     r.CustomerID,
			Location:       *r.Location,
			ServiceTimeSec: svc,
			Status:         model.StopPending,
		})
		scheduledIDs = append(scheduledIDs, r.ID)
	}
	if len(stops) == 0 {
		return model.Schedule{}, validationErr(CodeNoCandidates, "no pending requests with usable coordinates")
	}

	res, err := e.Opt.Optimize(ctx, in.Date, stops, in.StartPoint)
	if err != nil {
		return model.Schedule{}, fmt.Errorf("build schedule: %w", err)
	}

	sch := model.Schedule{
		TenantID:         in.TenantID,
		Date:             in.Date,
		Status:           model.ScheduleDraft,
		Stops:            res.Stops,
		DistanceKm:       res.DistanceKm,
		ApproxDistanceKm: res.ApproxDistanceKm,
		DistanceSource:   res.DistanceSource,
		DurationMin:      res.DurationMin,
	}
	sch, err = e.Store.CreateSchedule(ctx, sch)
	if err != nil {
		return model.Schedule{}, fmt.Errorf("build schedule: persist: %w", err)
	}
	if err := e.Store.SetRequestStatus(ctx, in.TenantID, scheduledIDs, model.RequestScheduled); err != nil {
		return model.Schedule{}, fmt.Errorf("build schedule: mark scheduled: %w", err)
	}
	route.RecordRun(in.TenantID, in.Date, route.RunStats{
		Source:      res.DistanceSource,
		Stops:       len(res.Stops),
		DistanceKm:  res.DistanceKm + res.ApproxDistanceKm,
		DurationMin: res.DurationMin,
	})
	return sch, nil
}

// ApproveSchedule moves DRAFT to APPROVED. Approving an already APPROVED
// schedule is a no-op success.
func (e *Engine) ApproveSchedule(ctx context.Context, tenantID, id string) (model.Schedule, error) {
	sch, err := e.Store.TransitionSchedule(ctx, tenantID, id, model.ScheduleDraft, model.ScheduleApproved, e.Now())
	if errors.Is(err, store.ErrConflict) {
		cur, gerr := e.Store.GetSchedule(ctx, tenantID, id)
		if gerr != nil {
			return model.Schedule{}, gerr
		}
		if cur.Status == model.ScheduleApproved {
			return cur, nil
		}
		return model.Schedule{}, conflictErr(CodeScheduleNotDraft, "schedule is "+string(cur.Status)+", only DRAFT can be approved")
	}
	if err != nil {
		return model.Schedule{}, err
	}
	e.emit(ctx, tenantID, id, webhooks.EventScheduleApproved, map[string]any{"scheduleId": id})
	return sch, nil
}

// StartSchedule moves APPROVED to IN_PROGRESS and records the start time.
// Idempotent: starting an IN_PROGRESS or COMPLETED schedule is a no-op
// success with no timestamp change.
func (e *Engine) StartSchedule(ctx context.Context, tenantID, id string) (model.Schedule, error) {
	sch, err := e.Store.TransitionSchedule(ctx, tenantID, id, model.ScheduleApproved, model.ScheduleInProgress, e.Now())
	if errors.Is(err, store.ErrConflict) {
		cur, gerr := e.Store.GetSchedule(ctx, tenantID, id)
		if gerr != nil {
			return model.Schedule{}, gerr
		}
		switch cur.Status {
		case model.ScheduleInProgress, model.ScheduleCompleted:
			return cur, nil
		}
		return model.Schedule{}, conflictErr(CodeNotApproved, "schedule must be APPROVED before starting")
	}
	if err != nil {
		return model.Schedule{}, err
	}
	e.emit(ctx, tenantID, id, webhooks.EventScheduleStarted, map[string]any{"scheduleId": id, "startedAt": sch.StartedAt})
	return sch, nil
}

// CompleteSchedule moves IN_PROGRESS to COMPLETED once every stop is
// terminal. Not idempotent: completing twice is a conflict.
func (e *Engine) CompleteSchedule(ctx context.Context, tenantID, id string) (model.Schedule, error) {
	cur, err := e.Store.GetSchedule(ctx, tenantID, id)
	if err != nil {
		return model.Schedule{}, err
	}
	switch cur.Status {
	case model.ScheduleCompleted:
		return model.Schedule{}, conflictErr(CodeAlreadyCompleted, "schedule is already completed")
	case model.ScheduleInProgress:
	default:
		return model.Schedule{}, conflictErr(CodeNotStarted, "schedule is "+string(cur.Status)+", only IN_PROGRESS can be completed")
	}
	open := 0
	for _, st := range cur.Stops {
		if !st.Status.Terminal() {
			open++
		}
	}
	if open > 0 {
		return model.Schedule{}, conflictErr(CodeNotFullyExecuted, fmt.Sprintf("%d stops are still open", open))
	}
	sch, err := e.Store.TransitionSchedule(ctx, tenantID, id, model.ScheduleInProgress, model.ScheduleCompleted, e.Now())
	if errors.Is(err, store.ErrConflict) {
		return model.Schedule{}, conflictErr(CodeAlreadyCompleted, "schedule is already completed")
	}
	if err != nil {
		return model.Schedule{}, err
	}
	e.emit(ctx, tenantID, id, webhooks.EventScheduleCompleted, map[string]any{"scheduleId": id, "completedAt": sch.CompletedAt})
	return sch, nil
}

// ArriveStop marks a PENDING stop IN_PROGRESS and records arrival.
// Idempotent while IN_PROGRESS; the original arrival time is kept.
func (e *Engine) ArriveStop(ctx context.Context, tenantID, stopID string) (model.Stop, error) {
	st, err := e.Store.ArriveStop(ctx, tenantID, stopID, e.Now())
	if errors.Is(err, store.ErrConflict) {
		cur, gerr := e.Store.GetStop(ctx, tenantID, stopID)
		if gerr != nil {
			return model.Stop{}, gerr
		}
		if cur.Status == model.StopInProgress {
			return cur, nil
		}
		return model.Stop{}, conflictErr(CodeStopFinalized, "stop is already "+string(cur.Status))
	}
	if err != nil {
		return model.Stop{}, err
	}
	e.emit(ctx, tenantID, st.ScheduleID, webhooks.EventStopArrived, map[string]any{"stopId": st.ID, "scheduleId": st.ScheduleID, "arrivedAt": st.ArrivedAt})
	return st, nil
}

// CompleteStop records the field outcome of a visit. Timestamps must order
// finish >= start >= arrival; quantities must be non-negative. The recorded
// values are stored verbatim. Exactly one of racing complete/skip wins.
func (e *Engine) CompleteStop(ctx context.Context, tenantID, stopID string, in model.CompleteStopIn, actor string) (model.Stop, error) {
	if in.ArrivedAt.IsZero() || in.StartedAt.IsZero() || in.FinishedAt.IsZero() {
		return model.Stop{}, validationErr(CodeInvalidTimestamps, "arrivedAt, startedAt and finishedAt are required")
	}
	if in.StartedAt.Before(in.ArrivedAt) || in.FinishedAt.Before(in.StartedAt) {
		return model.Stop{}, validationErr(CodeInvalidTimestamps, "timestamps must order finishedAt >= startedAt >= arrivedAt")
	}
	if in.QuantityDone < 0 || in.QuantityReturned < 0 {
		return model.Stop{}, validationErr(CodeInvalidQuantities, "quantities must be non-negative")
	}
	comp := model.StopCompletion{
		ArrivedAt:        in.ArrivedAt,
		StartedAt:        in.StartedAt,
		FinishedAt:       in.FinishedAt,
		QuantityDone:     in.QuantityDone,
		QuantityReturned: in.QuantityReturned,
		Issues:           in.Issues,
		Feedback:         in.Feedback,
		PhotoURLs:        in.PhotoURLs,
		CompletedBy:      actor,
	}
	st, err := e.Store.CompleteStop(ctx, tenantID, stopID, comp)
	if errors.Is(err, store.ErrConflict) {
		return model.Stop{}, conflictErr(CodeStopFinalized, "stop already reached a terminal status")
	}
	if err != nil {
		return model.Stop{}, err
	}
	if st.RequestID != "" {
		// Stop state is authoritative; request bookkeeping is repairable.
		if rerr := e.Store.SetRequestStatus(ctx, tenantID, []string{st.RequestID}, model.RequestResolved); rerr != nil {
			log.Printf("schedule: resolve request %s: %v", st.RequestID, rerr)
		}
	}
	e.emit(ctx, tenantID, st.ScheduleID, webhooks.EventStopCompleted, map[string]any{
		"stopId":     st.ID,
		"scheduleId": st.ScheduleID,
		"requestId":  st.RequestID,
		"customerId": st.CustomerID,
		"completion": st.Completion,
	})
	return st, nil
}

// SkipStop cancels a stop with a reason of at least five characters after
// trimming. The source request returns to the pending pool.
func (e *Engine) SkipStop(ctx context.Context, tenantID, stopID, reason, actor string) (model.Stop, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < minSkipReasonLen {
		return model.Stop{}, validationErr(CodeSkipReasonTooShort, "skip reason must be at least 5 characters")
	}
	st, err := e.Store.SkipStop(ctx, tenantID, stopID, reason, actor)
	if errors.Is(err, store.ErrConflict) {
		return model.Stop{}, conflictErr(CodeStopFinalized, "stop already reached a terminal status")
	}
	if err != nil {
		return model.Stop{}, err
	}
	if st.RequestID != "" {
		if rerr := e.Store.SetRequestStatus(ctx, tenantID, []string{st.RequestID}, model.RequestPending); rerr != nil {
			log.Printf("schedule: return request %s to pool: %v", st.RequestID, rerr)
		}
	}
	e.emit(ctx, tenantID, st.ScheduleID, webhooks.EventStopSkipped, map[string]any{
		"stopId":     st.ID,
		"scheduleId": st.ScheduleID,
		"requestId":  st.RequestID,
		"reason":     reason,
	})
	return st, nil
}
