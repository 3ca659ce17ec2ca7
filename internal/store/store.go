package store

import (
	"context"
	"errors"
	"time"

	"fieldroute/internal/model"
)

// Store is the persistence interface used by the API server and the
// execution engine. Every mutation is tenant scoped.
type Store interface {
	// Service requests
	CreateRequest(ctx context.Context, tenantID string, in model.ServiceRequestIn) (model.ServiceRequest, error)
	GetRequest(ctx context.Context, tenantID, id string) (model.ServiceRequest, error)
	ListRequests(ctx context.Context, tenantID string, status model.RequestStatus, cursor string, limit int) ([]model.ServiceRequest, string, error)
	SetRequestStatus(ctx context.Context, tenantID string, ids []string, status model.RequestStatus) error

	// Schedules and stops
	CreateSchedule(ctx context.Context, sch model.Schedule) (model.Schedule, error)
	GetSchedule(ctx context.Context, tenantID, id string) (model.Schedule, error)
	ListSchedules(ctx context.Context, tenantID, date string, status model.ScheduleStatus, cursor string, limit int) ([]model.Schedule, string, error)
	// TransitionSchedule moves a schedule from one status to another only if
	// it still holds the expected status. ErrConflict on a lost race.
	TransitionSchedule(ctx context.Context, tenantID, id string, from, to model.ScheduleStatus, at time.Time) (model.Schedule, error)

	GetStop(ctx context.Context, tenantID, stopID string) (model.Stop, error)
	// ArriveStop, CompleteStop and SkipStop each perform a compare-and-set
	// on the stop status so concurrent transitions resolve to one winner.
	ArriveStop(ctx context.Context, tenantID, stopID string, at time.Time) (model.Stop, error)
	CompleteStop(ctx context.Context, tenantID, stopID string, comp model.StopCompletion) (model.Stop, error)
	SkipStop(ctx context.Context, tenantID, stopID, reason, skippedBy string) (model.Stop, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Downstream signal deliveries
	EnqueueSignal(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueSignalDeliveries(ctx context.Context, limit int) ([]SignalDelivery, error)
	MarkSignalDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailSignalDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListSignalDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
	RetrySignalDelivery(ctx context.Context, tenantID, id string) error

	// Dead-letter queue
	ListSignalDLQ(ctx context.Context, tenantID, eventType, cursor string, limit int) ([]map[string]any, string, error)
	RequeueSignalDLQ(ctx context.Context, tenantID, id string) error
	RequeueSignalDLQBulk(ctx context.Context, tenantID string, ids []string) error
	DeleteSignalDLQ(ctx context.Context, tenantID string, ids []string) error

	// Optimizer config per tenant
	GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error)
	SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a compare-and-set that observed a different
	// current status than expected.
	ErrConflict = errors.New("conflicting state")
)
