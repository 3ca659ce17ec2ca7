package scoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/model"
)

func req(u model.Urgency, qty int, age time.Duration, reason string, now time.Time) model.ServiceRequest {
	return model.ServiceRequest{
		ID:        fmt.Sprintf("req-%s-%d", u, qty),
		Urgency:   u,
		Quantity:  qty,
		Reason:    reason,
		CreatedAt: now.Add(-age),
	}
}

func TestScoreBounded(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	urgencies := []model.Urgency{model.UrgencyLow, model.UrgencyMedium, model.UrgencyHigh, model.UrgencyUrgent, model.Urgency("BOGUS")}
	for _, u := range urgencies {
		for _, qty := range []int{0, 1, 10, 50, 1000} {
			for _, age := range []time.Duration{0, 24 * time.Hour, 90 * 24 * time.Hour} {
				s := Score(req(u, qty, age, "complaint about dying plants, escalate now", now), now)
				assert.GreaterOrEqual(t, s, 0)
				assert.LessOrEqual(t, s, MaxScore)
			}
		}
	}
}

func TestScoreMonotoneInUrgency(t *testing.T) {
	now := time.Now()
	prev := -1
	for _, u := range []model.Urgency{model.UrgencyLow, model.UrgencyMedium, model.UrgencyHigh, model.UrgencyUrgent} {
		s := Score(req(u, 3, 48*time.Hour, "", now), now)
		assert.Greater(t, s, prev, "urgency %s must outrank the tier below", u)
		prev = s
	}
}

func TestScoreMonotoneInQuantityUpToCap(t *testing.T) {
	now := time.Now()
	prev := -1
	for qty := 1; qty <= 15; qty++ {
		s := Score(req(model.UrgencyMedium, qty, 0, "", now), now)
		assert.GreaterOrEqual(t, s, prev)
		prev = s
	}
	// Beyond the cap the volume component stays flat.
	atCap := Score(req(model.UrgencyMedium, 10, 0, "", now), now)
	far := Score(req(model.UrgencyMedium, 50, 0, "", now), now)
	assert.Equal(t, atCap, far)
}

func TestScoreMonotoneInAgeUpToCap(t *testing.T) {
	now := time.Now()
	prev := -1
	for days := 0; days <= 20; days++ {
		s := Score(req(model.UrgencyLow, 1, time.Duration(days)*24*time.Hour, "", now), now)
		assert.GreaterOrEqual(t, s, prev)
		prev = s
	}
	atCap := Score(req(model.UrgencyLow, 1, 13*24*time.Hour, "", now), now)
	older := Score(req(model.UrgencyLow, 1, 365*24*time.Hour, "", now), now)
	assert.Equal(t, atCap, older)
}

func TestAgedLowUrgencyOvertakesFreshLowUrgency(t *testing.T) {
	now := time.Now()
	fresh := Score(req(model.UrgencyLow, 1, 0, "", now), now)
	stale := Score(req(model.UrgencyLow, 1, 30*24*time.Hour, "", now), now)
	assert.Greater(t, stale, fresh)
}

func TestKeywordComponent(t *testing.T) {
	now := time.Now()
	base := Score(req(model.UrgencyMedium, 2, 0, "regular rotation", now), now)
	flagged := Score(req(model.UrgencyMedium, 2, 0, "customer filed a COMPLAINT", now), now)
	assert.Equal(t, base+keywordBonus, flagged)

	// Empty reason is fine and contributes nothing.
	empty := Score(req(model.UrgencyMedium, 2, 0, "", now), now)
	assert.Equal(t, base, empty)
}

func TestRankOrderAndTieBreak(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	urgent := req(model.UrgencyUrgent, 1, 0, "", now)
	high := req(model.UrgencyHigh, 2, 0, "", now)
	low := req(model.UrgencyLow, 10, 0, "", now)

	ranked := Rank([]model.ServiceRequest{low, high, urgent}, now)
	require.Len(t, ranked, 3)
	assert.Equal(t, model.UrgencyUrgent, ranked[0].Urgency)
	assert.Equal(t, model.UrgencyHigh, ranked[1].Urgency)
	assert.Equal(t, model.UrgencyLow, ranked[2].Urgency)

	// Equal score: oldest first.
	a := req(model.UrgencyMedium, 2, 0, "", now)
	a.ID = "b-newer"
	b := req(model.UrgencyMedium, 2, 0, "", now)
	b.ID = "a-older"
	b.CreatedAt = now.Add(-time.Hour)
	tied := Rank([]model.ServiceRequest{a, b}, now)
	assert.Equal(t, "a-older", tied[0].ID)
}
