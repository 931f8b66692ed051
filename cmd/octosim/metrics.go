package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the gauges/counters SPEC_FULL.md's domain-stack section
// wires prometheus/client_golang into, grounded on gcsfuse/metrics'
// promauto-registered-at-package-init pattern.
var (
	scenariosTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octosim_scenarios_total",
		Help: "Scenarios run, partitioned by outcome.",
	}, []string{"outcome"})

	hartsConfigured = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "octosim_harts",
		Help: "Number of simulated harts this run started.",
	})

	syscallLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "octosim_syscall_seconds",
		Help:    "Wall-clock time a single synthetic syscall step took to dispatch.",
		Buckets: prometheus.DefBuckets,
	})
)

// ServeMetrics starts a background HTTP server exposing /metrics and
// returns a function that shuts it down.
func ServeMetrics(addr string, log *slog.Logger) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server", "err", err)
		}
	}()
	log.Info("metrics listening", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
