// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package telemetry exports the bridge's uniform Stats surface as
// Prometheus gauges/counters and, optionally, a live-updating console
// summary — an opt-in, hot-path-safe reporter over bridge-domain signals
// (messages in/forwarded/dropped, latency percentiles, pressure level).
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot is the subset of the Router's Stats this package renders; kept
// as a narrow local type (rather than importing the root package) so
// telemetry has no dependency on Router's own package.
type Snapshot struct {
	MessagesIn        uint64
	MessagesForwarded uint64
	MessagesDropped   uint64
	MessagesSampled   uint64
	Errors            uint64
	LatencyAvgNs      int64
	LatencyP95Ns      int64
	LatencyP99Ns      int64
	UptimeNs          int64
	QueueDepth        int64
	PressureLevel     string
}

// StatsFunc is polled once per LogInterval/scrape to obtain a fresh
// Snapshot.
type StatsFunc func() Snapshot

// Config controls the behavior of the telemetry module; every field
// defaults to a safe no-op when zero.
type Config struct {
	Enabled     bool
	MetricsAddr string        // e.g. ":9090"; empty disables the standalone /metrics server
	LogInterval time.Duration // 0 disables the periodic console summary
}

var (
	messagesIn        = prometheus.NewCounter(prometheus.CounterOpts{Name: "ipb_messages_in_total", Help: "Total DataPoints submitted to Route."})
	messagesForwarded = prometheus.NewCounter(prometheus.CounterOpts{Name: "ipb_messages_forwarded_total", Help: "Total DataPoints successfully dispatched to a sink."})
	messagesDropped   = prometheus.NewCounter(prometheus.CounterOpts{Name: "ipb_messages_dropped_total", Help: "Total DataPoints dropped by admission control or backpressure."})
	messagesSampled   = prometheus.NewCounter(prometheus.CounterOpts{Name: "ipb_messages_sampled_total", Help: "Total DataPoints dropped by the SAMPLE backpressure strategy."})
	errorsTotal       = prometheus.NewCounter(prometheus.CounterOpts{Name: "ipb_errors_total", Help: "Total dispatch errors."})

	latencyAvg = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ipb_latency_avg_ns", Help: "Average end-to-end routing latency, nanoseconds."})
	latencyP95 = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ipb_latency_p95_ns", Help: "p95 end-to-end routing latency, nanoseconds."})
	latencyP99 = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ipb_latency_p99_ns", Help: "p99 end-to-end routing latency, nanoseconds."})
	uptimeSecs = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ipb_uptime_seconds", Help: "Seconds since the Router last started."})
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ipb_queue_depth", Help: "Current EDF scheduler queue depth."})
	pressure   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ipb_pressure_level", Help: "Current backpressure level: 0=NONE..4=CRITICAL."})
)

func init() {
	prometheus.MustRegister(messagesIn, messagesForwarded, messagesDropped, messagesSampled, errorsTotal,
		latencyAvg, latencyP95, latencyP99, uptimeSecs, queueDepth, pressure)
}

var pressureLevels = map[string]float64{"NONE": 0, "LOW": 1, "MEDIUM": 2, "HIGH": 3, "CRITICAL": 4}

// Reporter owns the background scrape-and-render loop; construct one with
// NewReporter and Start it once the Router is running.
type Reporter struct {
	cfg   Config
	stats StatsFunc

	server *http.Server

	mu       sync.Mutex
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	livePrev bool
}

// NewReporter constructs a Reporter that will poll stats when started.
func NewReporter(cfg Config, stats StatsFunc) *Reporter {
	return &Reporter{cfg: cfg, stats: stats}
}

// Start launches the metrics HTTP endpoint (if MetricsAddr is set) and the
// console summary loop (if LogInterval > 0). A disabled Config makes Start
// a no-op. Idempotent.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || !r.cfg.Enabled {
		return
	}
	r.started = true

	if r.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
		r.server = &http.Server{Addr: r.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() { _ = r.server.ListenAndServe() }()
	}

	if r.cfg.LogInterval <= 0 {
		return
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.loop()
}

// Stop halts the console loop and the metrics server, if either was
// started. Idempotent.
func (r *Reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	stopCh, server := r.stopCh, r.server
	r.started = false
	r.stopCh, r.server = nil, nil
	r.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-r.doneCh
	}
	if server != nil {
		_ = server.Shutdown(ctx)
	}
}

func (r *Reporter) loop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.publish()
		}
	}
}

func (r *Reporter) publish() {
	snap := r.stats()

	setCounterTotal(messagesIn, snap.MessagesIn)
	setCounterTotal(messagesForwarded, snap.MessagesForwarded)
	setCounterTotal(messagesDropped, snap.MessagesDropped)
	setCounterTotal(messagesSampled, snap.MessagesSampled)
	setCounterTotal(errorsTotal, snap.Errors)

	latencyAvg.Set(float64(snap.LatencyAvgNs))
	latencyP95.Set(float64(snap.LatencyP95Ns))
	latencyP99.Set(float64(snap.LatencyP99Ns))
	uptimeSecs.Set(float64(snap.UptimeNs) / float64(time.Second))
	queueDepth.Set(float64(snap.QueueDepth))
	if lvl, ok := pressureLevels[snap.PressureLevel]; ok {
		pressure.Set(lvl)
	}

	r.renderConsole(snap)
}

// counterHighWaterMarks tracks each monotonic Prometheus counter's
// last-published value, since Stats reports cumulative totals but
// prometheus.Counter only exposes Add/Inc.
var counterHighWaterMarks sync.Map // map[*prometheus.Counter]uint64

func setCounterTotal(c prometheus.Counter, total uint64) {
	prevAny, _ := counterHighWaterMarks.LoadOrStore(c, uint64(0))
	prev := prevAny.(uint64)
	if total > prev {
		c.Add(float64(total - prev))
		counterHighWaterMarks.Store(c, total)
	}
}

func (r *Reporter) renderConsole(snap Snapshot) {
	if os.Getenv("IPB_LIVE") == "0" || strings.EqualFold(os.Getenv("IPB_LIVE"), "false") {
		return
	}
	summary := fmt.Sprintf("ipb: in=%d forwarded=%d dropped=%d errors=%d pressure=%s p99=%s",
		snap.MessagesIn, snap.MessagesForwarded, snap.MessagesDropped, snap.Errors, snap.PressureLevel,
		time.Duration(snap.LatencyP99Ns))
	if os.Getenv("NO_COLOR") == "" && snap.PressureLevel != "" && snap.PressureLevel != "NONE" {
		summary = "\x1b[33m" + summary + "\x1b[0m"
	}
	if r.livePrev {
		fmt.Print("\r")
	}
	fmt.Print(summary)
	r.livePrev = true
}
