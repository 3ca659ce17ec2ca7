package directions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fieldroute/internal/metrics"
	"fieldroute/internal/model"
)

// HTTPProvider calls an external directions API over JSON. The request/
// response shape follows the common optimize-waypoints contract: origin,
// destination, waypoints, and a flag asking the provider to reorder them.
type HTTPProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Limiter *rate.Limiter
}

// NewHTTPProvider builds a provider with a bounded per-call timeout and a
// request rate limiter so a burst of schedule builds cannot exhaust the
// upstream quota.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration, rps float64) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if rps <= 0 {
		rps = 5
	}
	return &HTTPProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
		Limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

type routeRequest struct {
	Origin            model.GeoPoint   `json:"origin"`
	Destination       model.GeoPoint   `json:"destination"`
	Waypoints         []model.GeoPoint `json:"waypoints,omitempty"`
	OptimizeWaypoints bool             `json:"optimizeWaypoints"`
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("directions API status %d: %s", e.Code, e.Body)
}

// Route asks the provider for an ordered route. Every failure is wrapped in
// ErrUnavailable so callers can treat the whole class uniformly.
func (p *HTTPProvider) Route(ctx context.Context, origin, dest model.GeoPoint, waypoints []model.GeoPoint, optimizeWaypoints bool) (RouteResponse, error) {
	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return RouteResponse{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	body, err := json.Marshal(routeRequest{Origin: origin, Destination: dest, Waypoints: waypoints, OptimizeWaypoints: optimizeWaypoints})
	if err != nil {
		return RouteResponse{}, fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}

	resp, err := p.doWithRetry(ctx, body)
	if err != nil {
		metrics.DirectionsCalls.WithLabelValues("error").Inc()
		return RouteResponse{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out RouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.DirectionsCalls.WithLabelValues("error").Inc()
		return RouteResponse{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if out.Status != StatusOK {
		metrics.DirectionsCalls.WithLabelValues("error").Inc()
		return RouteResponse{}, fmt.Errorf("%w: status %s", ErrUnavailable, out.Status)
	}
	if len(out.Legs) != len(waypoints)+1 {
		metrics.DirectionsCalls.WithLabelValues("error").Inc()
		return RouteResponse{}, fmt.Errorf("%w: got %d legs for %d waypoints", ErrUnavailable, len(out.Legs), len(waypoints))
	}
	metrics.DirectionsCalls.WithLabelValues("ok").Inc()
	return out, nil
}

func (p *HTTPProvider) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/route", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", p.APIKey)
	}
	return req, nil
}

// doWithRetry retries transient failures (network errors, 429, 5xx) with
// exponential backoff while respecting context cancellation.
func (p *HTTPProvider) doWithRetry(ctx context.Context, body []byte) (*http.Response, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond

	var lastErr error
	start := time.Now()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := p.newRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		resp, err := p.Client.Do(req)
		if err == nil && resp.StatusCode < 400 {
			log.Printf("directions op=route attempts=%d dur=%dms", attempt, time.Since(start).Milliseconds())
			return resp, nil
		}
		if err == nil {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			lastErr = &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		} else {
			lastErr = err
		}

		if !retryable(lastErr) || attempt == maxAttempts {
			return nil, lastErr
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}

func retryable(err error) bool {
	var he *httpStatusError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusTooManyRequests, 500, 502, 503, 504:
			return true
		}
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}
