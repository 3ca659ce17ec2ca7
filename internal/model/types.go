package model

import "time"

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is inside coordinate bounds and not the
// null-island placeholder that un-geocoded customers carry.
func (g GeoPoint) Valid() bool {
	if g.Lat == 0 && g.Lng == 0 {
		return false
	}
	return g.Lat >= -90 && g.Lat <= 90 && g.Lng >= -180 && g.Lng <= 180
}

// Urgency is the ordinal urgency tier of a service request.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
	UrgencyUrgent Urgency = "URGENT"
)

// Rank returns the ordinal position of the tier, lowest first. Unknown tiers
// rank below LOW so malformed input never outranks a real request.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyLow:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyHigh:
		return 3
	case UrgencyUrgent:
		return 4
	}
	return 0
}

func (u Urgency) Valid() bool { return u.Rank() > 0 }

// RequestStatus tracks a service request through scheduling.
type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestScheduled RequestStatus = "SCHEDULED"
	RequestResolved  RequestStatus = "RESOLVED"
)

// StopStatus is the closed set of stop states. Transitions only move forward:
// PENDING -> IN_PROGRESS -> COMPLETED, or PENDING/IN_PROGRESS -> CANCELLED.
type StopStatus string

const (
	StopPending    StopStatus = "PENDING"
	StopInProgress StopStatus = "IN_PROGRESS"
	StopCompleted  StopStatus = "COMPLETED"
	StopCancelled  StopStatus = "CANCELLED"
)

// Terminal reports whether no further transition is permitted.
func (s StopStatus) Terminal() bool { return s == StopCompleted || s == StopCancelled }

// CanTransition reports whether moving to next is a legal forward step.
func (s StopStatus) CanTransition(next StopStatus) bool {
	switch s {
	case StopPending:
		return next == StopInProgress || next == StopCompleted || next == StopCancelled
	case StopInProgress:
		return next == StopCompleted || next == StopCancelled
	}
	return false
}

// ScheduleStatus is the closed set of schedule states:
// DRAFT -> APPROVED -> IN_PROGRESS -> COMPLETED.
type ScheduleStatus string

const (
	ScheduleDraft      ScheduleStatus = "DRAFT"
	ScheduleApproved   ScheduleStatus = "APPROVED"
	ScheduleInProgress ScheduleStatus = "IN_PROGRESS"
	ScheduleCompleted  ScheduleStatus = "COMPLETED"
)

func (s ScheduleStatus) CanTransition(next ScheduleStatus) bool {
	switch s {
	case ScheduleDraft:
		return next == ScheduleApproved
	case ScheduleApproved:
		return next == ScheduleInProgress
	case ScheduleInProgress:
		return next == ScheduleCompleted
	}
	return false
}

// ServiceRequest is a customer's pending exchange/service need.
// Urgency and Quantity are immutable once the request is on an active schedule.
type ServiceRequest struct {
	ID             string        `json:"id"`
	TenantID       string        `json:"tenantId"`
	CustomerID     string        `json:"customerId"`
	Urgency        Urgency       `json:"urgency"`
	Quantity       int           `json:"quantity"`
	Reason         string        `json:"reason,omitempty"`
	Location       *GeoPoint     `json:"location,omitempty"`
	ServiceTimeSec int           `json:"serviceTimeSec,omitempty"`
	Status         RequestStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	PreferredDate  string        `json:"preferredDate,omitempty"` // YYYY-MM-DD
}

// ServiceRequestIn is the create payload for a service request.
type ServiceRequestIn struct {
	CustomerID     string    `json:"customerId"`
	Urgency        Urgency   `json:"urgency"`
	Quantity       int       `json:"quantity"`
	Reason         string    `json:"reason,omitempty"`
	Location       *GeoPoint `json:"location"`
	ServiceTimeSec int       `json:"serviceTimeSec,omitempty"`
	PreferredDate  string    `json:"preferredDate,omitempty"`
}

// ScoredRequest pairs a request with its computed priority for ranked listings.
type ScoredRequest struct {
	ServiceRequest
	Score int `json:"score"`
}

// StopCompletion holds the recorded outcome of a completed stop. Populated if
// and only if the stop is COMPLETED.
type StopCompletion struct {
	ArrivedAt        time.Time `json:"arrivedAt"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
	QuantityDone     int       `json:"quantityDone"`
	QuantityReturned int       `json:"quantityReturned"`
	Issues           string    `json:"issues,omitempty"`
	Feedback         string    `json:"feedback,omitempty"`
	PhotoURLs        []string  `json:"photoUrls,omitempty"`
	CompletedBy      string    `json:"completedBy,omitempty"`
}

// Stop is one visit within a schedule. Never deleted, only terminalized.
type Stop struct {
	ID             string          `json:"id"`
	ScheduleID     string          `json:"scheduleId"`
	RequestID      string          `json:"requestId"`
	CustomerID     string          `json:"customerId"`
	Location       GeoPoint        `json:"location"`
	ServiceTimeSec int             `json:"serviceTimeSec"`
	Position       int             `json:"position"` // 1-based route order
	ETA            time.Time       `json:"eta"`
	Status         StopStatus      `json:"status"`
	ArrivedAt      *time.Time      `json:"arrivedAt,omitempty"`
	Completion     *StopCompletion `json:"completion,omitempty"`
	SkipReason     string          `json:"skipReason,omitempty"` // set iff CANCELLED
	SkippedBy      string          `json:"skippedBy,omitempty"`
}

// Schedule is one day's ordered route. The schedule exclusively owns its
// stops; stop order encodes the route sequence.
type Schedule struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenantId"`
	Date             string         `json:"date"` // YYYY-MM-DD
	Status           ScheduleStatus `json:"status"`
	Stops            []Stop         `json:"stops"`
	TotalStops       int            `json:"totalStops"`
	DistanceKm       float64        `json:"distanceKm"`
	ApproxDistanceKm float64        `json:"approxDistanceKm,omitempty"`
	DistanceSource   string         `json:"distanceSource,omitempty"` // provider | approximate
	DurationMin      int            `json:"durationMin"`
	StartedAt        *time.Time     `json:"startedAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
}

// RouteLeg is one travel segment of an optimized route.
type RouteLeg struct {
	StopID     string    `json:"stopId"`
	Position   int       `json:"position"`
	DistanceKm float64   `json:"distanceKm"`
	TravelMin  int       `json:"travelMin"`
	ETA        time.Time `json:"eta"`
}

// RouteResult is the transient output of the route optimizer. The caller
// persists the chosen order into a schedule; the result itself is not stored.
type RouteResult struct {
	Stops            []Stop     `json:"stops"` // visiting order, Position rewritten 1..n
	Legs             []RouteLeg `json:"legs"`
	DistanceKm       float64    `json:"distanceKm"`
	ApproxDistanceKm float64    `json:"approxDistanceKm,omitempty"`
	DistanceSource   string     `json:"distanceSource"` // provider | approximate
	DurationMin      int        `json:"durationMin"`
	Polyline         string     `json:"polyline,omitempty"`
}

// CompleteStopIn is the payload for completing a stop. Timestamps are stored
// verbatim after the ordering check; the engine does not second-guess them.
type CompleteStopIn struct {
	ArrivedAt        time.Time `json:"arrivedAt"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
	QuantityDone     int       `json:"quantityDone"`
	QuantityReturned int       `json:"quantityReturned"`
	Issues           string    `json:"issues,omitempty"`
	Feedback         string    `json:"feedback,omitempty"`
	PhotoURLs        []string  `json:"photoUrls,omitempty"`
}

// SkipStopIn is the payload for skipping a stop.
type SkipStopIn struct {
	Reason string `json:"reason"`
}

// BuildScheduleIn requests a day's schedule from pending requests.
type BuildScheduleIn struct {
	TenantID   string    `json:"tenantId"`
	Date       string    `json:"date"`
	MaxStops   int       `json:"maxStops,omitempty"`
	StartPoint *GeoPoint `json:"startPoint,omitempty"`
	RequestIDs []string  `json:"requestIds,omitempty"` // explicit selection overrides scoring
}

// OptimizeIn is the stateless optimize payload: ad-hoc stops, not persisted.
type OptimizeIn struct {
	Date       string           `json:"date,omitempty"`
	StartPoint *GeoPoint        `json:"startPoint,omitempty"`
	Stops      []OptimizeStopIn `json:"stops"`
}

type OptimizeStopIn struct {
	ID             string   `json:"id,omitempty"`
	Location       GeoPoint `json:"location"`
	ServiceTimeSec int      `json:"serviceTimeSec,omitempty"`
}

// SubscriptionRequest registers a downstream signal consumer
// (inventory, customer care history).
type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}

// PresignRequest asks object storage for a photo upload URL.
type PresignRequest struct {
	TenantID    string `json:"tenantId"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Bytes       int64  `json:"bytes,omitempty"`
}
