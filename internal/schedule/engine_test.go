package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/model"
	"fieldroute/internal/route"
	"fieldroute/internal/store"
	"fieldroute/internal/webhooks"
)

const tenant = "t_demo"

func newEngine() (*Engine, *store.Memory) {
	mem := store.NewMemory()
	opt := route.New(nil, route.WithDayStart(8, time.UTC))
	return NewEngine(mem, webhooks.NewPublisher(mem), opt), mem
}

func seedRequest(t *testing.T, mem *store.Memory, urgency model.Urgency, qty int, lat, lng float64) model.ServiceRequest {
	t.Helper()
	r, err := mem.CreateRequest(context.Background(), tenant, model.ServiceRequestIn{
		CustomerID: "c1",
		Urgency:    urgency,
		Quantity:   qty,
		Location:   &model.GeoPoint{Lat: lat, Lng: lng},
	})
	require.NoError(t, err)
	return r
}

func TestBuildScheduleRanksAndCaps(t *testing.T) {
	e, mem := newEngine()
	ctx := context.Background()
	low := seedRequest(t, mem, model.UrgencyLow, 1, 52.37, 4.89)
	urgent := seedRequest(t, mem, model.UrgencyUrgent, 1, 52.38, 4.90)
	high := seedRequest(t, mem, model.UrgencyHigh, 1, 52.39, 4.91)

	sch, err := e.BuildSchedule(ctx, model.BuildScheduleIn{TenantID: tenant, Date: "2026-09-01", MaxStops: 2})
	require.NoError(t, err)

	assert.Equal(t, model.ScheduleDraft, sch.Status)
	require.Len(t, sch.Stops, 2)
	got := map[string]bool{}
	for i, st := range sch.Stops {
		assert.Equal(t, i+1, st.Position)
		got[st.RequestID] = true
	}
	assert.True(t, got[urgent.ID])
	assert.True(t, got[high.ID])
	assert.False(t, got[low.ID], "lowest scored request must be left out at capacity")

	r, err := mem.GetRequest(ctx, tenant, urgent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestScheduled, r.Status)
	r, err = mem.GetRequest(ctx, tenant, low.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, r.Status)
}

func TestBuildScheduleRejectsBadDate(t *testing.T) {
	e, _ := newEngine()
	_, err := e.BuildSchedule(context.Background(), model.BuildScheduleIn{TenantID: tenant, Date: "09/01/2026"})
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidDate, se.Code)
}

func TestBuildScheduleSkipsUnlocatedRequests(t *testing.T) {
	e, mem := newEngine()
	ctx := context.Background()
	_, err := mem.CreateRequest(ctx, tenant, model.ServiceRequestIn{CustomerID: "c1", Urgency: model.UrgencyUrgent, Quantity: 1})
	require.NoError(t, err)

	_, err = e.BuildSchedule(ctx, model.BuildScheduleIn{TenantID: tenant, Date: "2026-09-01"})
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeNoCandidates, se.Code)
}

func buildDraft(t *testing.T, e *Engine, mem *store.Memory, n int) model.Schedule {
	t.Helper()
	for i := 0; i < n; i++ {
		seedRequest(t, mem, model.UrgencyMedium, 1, 52.37+float64(i)/100, 4.89)
	}
	sch, err := e.BuildSchedule(context.Background(), model.BuildScheduleIn{TenantID: tenant, Date: "2026-09-01"})
	require.NoError(t, err)
	return sch
}

func completion(base time.Time) model.CompleteStopIn {
	return model.CompleteStopIn{
		ArrivedAt:    base,
		StartedAt:    base.Add(2 * time.Minute),
		FinishedAt:   base.Add(30 * time.Minute),
		QuantityDone: 1,
	}
}

func TestScheduleLifecycle(t *testing.T) {
	e, mem := newEngine()
	ctx := context.Background()
	sch := buildDraft(t, e, mem, 2)

	// Start before approval is a conflict.
	_, err := e.StartSchedule(ctx, tenant, sch.ID)
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeNotApproved, se.Code)

	approved, err := e.ApproveSchedule(ctx, tenant, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleApproved, approved.Status)

	// Approving again is a no-op success.
	again, err := e.ApproveSchedule(ctx, tenant, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleApproved, again.Status)

	started, err := e.StartSchedule(ctx, tenant, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleInProgress, started.Status)
	require.NotNil(t, started.StartedAt)

	// Starting again keeps the original timestamp.
	restarted, err := e.StartSchedule(ctx, tenant, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, started.StartedAt.Unix(), restarted.StartedAt.Unix())

	// Complete with open stops is refused with no state change.
	_, err = e.CompleteSchedule(ctx, tenant, sch.ID)
	se, ok = AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeNotFullyExecuted, se.Code)
	cur, err := mem.GetSchedule(ctx, tenant, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleInProgress, cur.Status)

	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	for _, st := range sch.Stops {
		_, err := e.CompleteStop(ctx, tenant, st.ID, completion(base), "crew-7")
		require.NoError(t, err)
	}

	done, err := e.CompleteSchedule(ctx, tenant, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	// Completing twice is a conflict, not a silent success.
	_, err = e.CompleteSchedule(ctx, tenant, sch.ID)
	se, ok = AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeAlreadyCompleted, se.Code)
}

func TestCompleteStopValidation(t *testing.T) {
	e, mem := newEngine()
	ctx := context.Background()
	sch := buildDraft(t, e, mem, 1)
	stopID := sch.Stops[0].ID
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	in := completion(base)
	in.FinishedAt = base.Add(-time.Minute)
	_, err := e.CompleteStop(ctx, tenant, stopID, in, "")
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidTimestamps, se.Code)

	in = completion(base)
	in.StartedAt = time.Time{}
	_, err = e.CompleteStop(ctx, tenant, stopID, in, "")
	se, ok = AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidTimestamps, se.Code)

	in = completion(base)
	in.QuantityReturned = -1
	_, err = e.CompleteStop(ctx, tenant, stopID, in, "")
	se, ok = AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidQuantities, se.Code)

	// The stop is untouched by rejected attempts.
	st, err := mem.GetStop(ctx, tenant, stopID)
	require.NoError(t, err)
	assert.Equal(t, model.StopPending, st.Status)
}

func TestCompleteThenSkipConflict(t *testing.T) {
	e, mem := newEngine()
	ctx := context.Background()
	sch := buildDraft(t, e, mem, 1)
	stopID := sch.Stops[0].ID
	reqID := sch.Stops[0].RequestID
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	st, err := e.CompleteStop(ctx, tenant, stopID, completion(base), "crew-7")
	require.NoError(t, err)
	assert.Equal(t, model.StopCompleted, st.Status)
	require.NotNil(t, st.Completion)
	assert.Equal(t, "crew-7", st.Completion.CompletedBy)

	r, err := mem.GetRequest(ctx, tenant, reqID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestResolved, r.Status)

	_, err = e.SkipStop(ctx, tenant, stopID, "customer rescheduled", "crew-7")
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeStopFinalized, se.Code)

	// Completing again is also final.
	_, err = e.CompleteStop(ctx, tenant, stopID, completion(base), "crew-7")
	se, ok = AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeStopFinalized, se.Code)
}

func TestSkipStop(t *testing.T) {
	e, mem := newEngine()
	ctx := context.Background()
	sch := buildDraft(t, e, mem, 1)
	stopID := sch.Stops[0].ID
	reqID := sch.Stops[0].RequestID

	_, err := e.SkipStop(ctx, tenant, stopID, "  no  ", "crew-7")
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeSkipReasonTooShort, se.Code)

	st, err := e.SkipStop(ctx, tenant, stopID, "  customer rescheduled, site closed  ", "crew-7")
	require.NoError(t, err)
	assert.Equal(t, model.StopCancelled, st.Status)
	assert.Equal(t, "customer rescheduled, site closed", st.SkipReason)
	assert.Equal(t, "crew-7", st.SkippedBy)

	// The request returns to the pending pool for a future schedule.
	r, err := mem.GetRequest(ctx, tenant, reqID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, r.Status)
}

// repoolFailStore rejects request status updates so the stop outcome can be
// checked when pool bookkeeping fails.
type repoolFailStore struct {
	*store.Memory
}

func (s *repoolFailStore) SetRequestStatus(ctx context.Context, tenantID string, ids []string, status model.RequestStatus) error {
	return errors.New("status update rejected")
}

func TestSkipStopSurvivesRequestPoolFailure(t *testing.T) {
	e, mem := newEngine()
	ctx := context.Background()
	sch := buildDraft(t, e, mem, 1)
	stopID := sch.Stops[0].ID

	broken := NewEngine(&repoolFailStore{Memory: mem}, webhooks.NewPublisher(mem), route.New(nil))
	st, err := broken.SkipStop(ctx, tenant, stopID, "customer rescheduled", "crew-7")
	require.NoError(t, err, "stop state is authoritative; bookkeeping failure must not surface")
	assert.Equal(t, model.StopCancelled, st.Status)
}

func TestArriveStopIdempotent(t *testing.T) {
	e, mem := newEngine()
	ctx := context.Background()
	sch := buildDraft(t, e, mem, 1)
	stopID := sch.Stops[0].ID

	first, err := e.ArriveStop(ctx, tenant, stopID)
	require.NoError(t, err)
	assert.Equal(t, model.StopInProgress, first.Status)
	require.NotNil(t, first.ArrivedAt)

	second, err := e.ArriveStop(ctx, tenant, stopID)
	require.NoError(t, err)
	assert.Equal(t, first.ArrivedAt.Unix(), second.ArrivedAt.Unix())
}

func TestStopEventsReachSubscribers(t *testing.T) {
	e, mem := newEngine()
	ctx := context.Background()
	_, err := mem.CreateSubscription(ctx, model.SubscriptionRequest{
		TenantID: tenant,
		URL:      "https://inventory.example/hooks",
		Events:   []string{webhooks.EventStopCompleted, webhooks.EventScheduleCompleted},
		Secret:   "s3cret",
	})
	require.NoError(t, err)

	sch := buildDraft(t, e, mem, 1)
	_, err = e.ApproveSchedule(ctx, tenant, sch.ID)
	require.NoError(t, err)
	_, err = e.StartSchedule(ctx, tenant, sch.ID)
	require.NoError(t, err)
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	_, err = e.CompleteStop(ctx, tenant, sch.Stops[0].ID, completion(base), "crew-7")
	require.NoError(t, err)
	_, err = e.CompleteSchedule(ctx, tenant, sch.ID)
	require.NoError(t, err)

	due, err := mem.FetchDueSignalDeliveries(ctx, 10)
	require.NoError(t, err)
	types := map[string]int{}
	for _, d := range due {
		types[d.EventType]++
	}
	assert.Equal(t, 1, types[webhooks.EventStopCompleted])
	assert.Equal(t, 1, types[webhooks.EventScheduleCompleted])
}
