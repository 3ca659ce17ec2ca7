// Package scoring ranks pending service requests for inclusion in a day's
// schedule. Scoring is pure: no I/O, deterministic for a fixed "now".
package scoring

import (
	"sort"
	"strings"
	"time"

	"fieldroute/internal/model"
)

// Score bounds and per-component caps. Components are capped before summing
// so no single factor can dominate; the caps add up to the score ceiling.
const (
	MaxScore = 100

	urgencyLowWeight    = 5
	urgencyMediumWeight = 15
	urgencyHighWeight   = 30
	urgencyUrgentWeight = 45

	volumePointsPerItem = 2
	volumeCap           = 20

	agingPointsPerDay = 2
	agingCap          = 25

	keywordBonus = 10
)

// complaintTerms add the keyword bonus when present in the request reason.
// Matched case-insensitively as substrings, so "escalat" covers both
// "escalate" and "escalation".
var complaintTerms = []string{
	"complaint", "complain", "unhappy", "angry", "dying", "dead", "urgent", "escalat",
}

// Score computes the priority of a request at the given instant,
// in [0, MaxScore].
func Score(req model.ServiceRequest, now time.Time) int {
	s := urgencyComponent(req.Urgency)
	s += volumeComponent(req.Quantity)
	s += agingComponent(req.CreatedAt, now)
	s += keywordComponent(req.Reason)
	if s > MaxScore {
		s = MaxScore
	}
	if s < 0 {
		s = 0
	}
	return s
}

func urgencyComponent(u model.Urgency) int {
	switch u {
	case model.UrgencyUrgent:
		return urgencyUrgentWeight
	case model.UrgencyHigh:
		return urgencyHighWeight
	case model.UrgencyMedium:
		return urgencyMediumWeight
	case model.UrgencyLow:
		return urgencyLowWeight
	}
	return 0
}

// volumeComponent grows with quantity but caps out: a request for 50 plants
// must not score 50x a request for one.
func volumeComponent(quantity int) int {
	if quantity <= 0 {
		return 0
	}
	v := quantity * volumePointsPerItem
	if v > volumeCap {
		v = volumeCap
	}
	return v
}

// agingComponent surfaces long-neglected requests: low-urgency requests gain
// ground over fresh ones until the cap, which keeps aging from outranking a
// genuinely urgent request on its own.
func agingComponent(createdAt, now time.Time) int {
	if createdAt.IsZero() || !createdAt.Before(now) {
		return 0
	}
	days := int(now.Sub(createdAt).Hours() / 24)
	a := days * agingPointsPerDay
	if a > agingCap {
		a = agingCap
	}
	return a
}

func keywordComponent(reason string) int {
	if reason == "" {
		return 0
	}
	lower := strings.ToLower(reason)
	for _, term := range complaintTerms {
		if strings.Contains(lower, term) {
			return keywordBonus
		}
	}
	return 0
}

// Rank returns the requests ordered by descending score. Ties break by
// earliest creation time (oldest first), then by ID for determinism.
func Rank(reqs []model.ServiceRequest, now time.Time) []model.ScoredRequest {
	out := make([]model.ScoredRequest, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, model.ScoredRequest{ServiceRequest: r, Score: Score(r, now)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
