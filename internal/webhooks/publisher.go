// Package webhooks delivers downstream signals (stop outcomes, schedule
// lifecycle changes) to subscribed consumers such as inventory and customer
// care systems. Enqueue is deduplicated per payload; delivery is
// at-least-once with retries and a dead-letter queue.
package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldroute/internal/store"
)

// Event types emitted by the execution engine.
const (
	EventStopArrived       = "stop.arrived"
	EventStopCompleted     = "stop.completed"
	EventStopSkipped       = "stop.skipped"
	EventScheduleApproved  = "schedule.approved"
	EventScheduleStarted   = "schedule.started"
	EventScheduleCompleted = "schedule.completed"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues an event for every subscription matching the tenant and
// event type. Failures to look up subscriptions are swallowed; signal
// delivery never blocks or fails the triggering operation.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil || len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":       fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type":     eventType,
		"tenantId": tenantID,
		"ts":       time.Now().UTC().Format(time.RFC3339),
		"data":     data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		_, _ = p.Store.EnqueueSignal(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body)
	}
}
