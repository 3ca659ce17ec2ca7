package main

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldroute/internal/api"
	"fieldroute/internal/config"
	"fieldroute/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	srvDeps, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	metrics.RegisterDefault()

	mux := http.NewServeMux()

	// Service requests
	mux.HandleFunc("/v1/requests", srvDeps.RequestsHandler)

	// Scheduling and optimization
	mux.HandleFunc("/v1/schedules/build", srvDeps.ScheduleBuildHandler)
	mux.HandleFunc("/v1/routes/optimize", srvDeps.OptimizeHandler)
	mux.HandleFunc("/v1/optimizer/config", srvDeps.OptimizerConfigHandler)
	mux.HandleFunc("/v1/admin/optimizer/config", srvDeps.AdminOptimizerConfigHandler)

	// Schedules and stops
	mux.HandleFunc("/v1/schedules", srvDeps.SchedulesHandler)
	mux.HandleFunc("/v1/schedules/", srvDeps.ScheduleByIDHandler) // includes /approve, /start, /complete, /events/stream, /events/ws
	mux.HandleFunc("/v1/stops/", srvDeps.StopByIDHandler)

	// Signal subscriptions
	mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)

	// Media
	mux.HandleFunc("/v1/media/presign", srvDeps.MediaPresignHandler)

	// Health
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)

	// Admin
	mux.HandleFunc("/v1/admin/signal-deliveries", srvDeps.SignalDeliveriesHandler)
	mux.HandleFunc("/v1/admin/signal-deliveries/", srvDeps.SignalDeliveryRetryHandler)
	mux.HandleFunc("/v1/admin/signal-dlq", srvDeps.SignalDLQHandler)
	mux.HandleFunc("/v1/admin/signal-dlq/", srvDeps.SignalDLQHandler)
	mux.HandleFunc("/v1/admin/schedules/stats", srvDeps.ScheduleStatsHandler)

	// Docs, debug and metrics
	mux.HandleFunc("/debugz", srvDeps.DebugJSON)
	mux.HandleFunc("/openapi.yaml", srvDeps.OpenAPIHandler)
	mux.HandleFunc("/docs", srvDeps.DocsHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("API listening on %s", cfg.Addr)
	// Start signal delivery worker
	if srvDeps.Pub != nil {
		worker := srvDeps.NewSignalWorker()
		worker.Start()
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Observe(dur.Seconds())
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
	})
}
