package api

import (
	"fmt"
	"net/url"
	"strings"

	"fieldroute/internal/model"
)

func validateRequestIn(in *model.ServiceRequestIn) error {
	if strings.TrimSpace(in.CustomerID) == "" {
		return fmt.Errorf("customerId is required")
	}
	if !in.Urgency.Valid() {
		return fmt.Errorf("invalid urgency: %q (allowed: LOW, MEDIUM, HIGH, URGENT)", in.Urgency)
	}
	if in.Quantity < 0 {
		return fmt.Errorf("quantity must be >= 0")
	}
	if in.ServiceTimeSec < 0 {
		return fmt.Errorf("serviceTimeSec must be >= 0")
	}
	if in.Location != nil && !in.Location.Valid() {
		return fmt.Errorf("location out of range: (%.6f, %.6f)", in.Location.Lat, in.Location.Lng)
	}
	return nil
}

func validateOptimizeIn(in *model.OptimizeIn) error {
	if len(in.Stops) == 0 {
		return fmt.Errorf("stops must not be empty")
	}
	for i, st := range in.Stops {
		if !st.Location.Valid() {
			return fmt.Errorf("stops[%d]: location out of range: (%.6f, %.6f)", i, st.Location.Lat, st.Location.Lng)
		}
		if st.ServiceTimeSec < 0 {
			return fmt.Errorf("stops[%d]: serviceTimeSec must be >= 0", i)
		}
	}
	if in.StartPoint != nil && !in.StartPoint.Valid() {
		return fmt.Errorf("startPoint out of range")
	}
	return nil
}

func validateSubscription(in *model.SubscriptionRequest) error {
	u, err := url.Parse(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	if len(in.Events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	return nil
}
