// Package api implements the HTTP surface of the field-visit service.
package api

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"fieldroute/internal/auth"
	"fieldroute/internal/config"
	"fieldroute/internal/directions"
	"fieldroute/internal/route"
	"fieldroute/internal/schedule"
	"fieldroute/internal/store"
	"fieldroute/internal/webhooks"
)

type Server struct {
	Store  store.Store
	Pub    *webhooks.Publisher
	Engine *schedule.Engine
	Opt    *route.Optimizer
	Auth   *auth.Verifier
	Broker EventBroker
}

// NewServer wires the service from config. Without DATABASE_URL the
// in-memory store is used; without a directions base URL the optimizer runs
// on its local fallback only.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		// Dev helper; production schemas are managed out of band.
		if cfg.Migrate {
			if err := sp.MigrateDir("db/migrations"); err != nil {
				log.Printf("api: migrate: %v", err)
			}
		}
		s = sp
	}

	var provider directions.Provider
	if cfg.Directions.BaseURL != "" {
		provider = directions.NewHTTPProvider(cfg.Directions.BaseURL, cfg.Directions.APIKey,
			time.Duration(cfg.Directions.TimeoutSec)*time.Second, cfg.Directions.RPS)
	}
	loc := time.Local
	if cfg.Routing.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Routing.Timezone); err == nil {
			loc = l
		}
	}
	opt := route.New(provider,
		route.WithDayStart(cfg.Routing.DayStartHour, loc),
		route.WithFallbackTravelAllowance(cfg.Routing.FallbackTravelMin),
		route.WithTwoOpt(cfg.Routing.TwoOptIterations),
	)

	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			log.Printf("api: redis broker unavailable, using memory broker: %v", err)
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	pub := webhooks.NewPublisher(s)
	eng := schedule.NewEngine(s, pub, opt)
	eng.Notify = func(tenantID, scheduleID, eventType string, data any) {
		m, _ := data.(map[string]any)
		broker.Publish(scheduleID, SSEEvent{Type: eventType, Data: m})
	}
	return &Server{Store: s, Pub: pub, Engine: eng, Opt: opt, Auth: auth.NewVerifierFromEnv(), Broker: broker}, nil
}

func (s *Server) withTenant(r *http.Request) (context.Context, string) {
	tenant := s.getPrincipal(r).Tenant
	return context.WithValue(r.Context(), ctxKeyTenant{}, tenant), tenant
}

type ctxKeyTenant struct{}

// NewSignalWorker creates the background worker draining the signal queue.
func (s *Server) NewSignalWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store)
}
