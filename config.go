// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package ipb is the Industrial Protocol Bridge core: the Router binds the
// rule engine, EDF scheduler, and sink/scoop registries behind a single
// entry point, under explicit deadline and flow-control constraints.
// Protocol drivers, sink drivers, config loaders, and telemetry reporters
// are external collaborators; only their contracts with the core live
// here (see internal/sink.DataSink, internal/scoop.DataSource).
package ipb

import (
	"time"

	"ipb/internal/backpressure"
	"ipb/internal/sink"
	"ipb/pkg/ipberr"
)

// RateLimitStrategy names which Limiter implementation the Router's
// admission gate uses.
type RateLimitStrategy uint8

const (
	RateLimitTokenBucket RateLimitStrategy = iota
	RateLimitSlidingWindow
	RateLimitAdaptive
	RateLimitHierarchical
)

// WatchdogConfig gates the Router's liveness check: if Enabled, the
// watchdog goroutine that Start launches must observe a FeedWatchdog call
// at least once every Timeout or the Router transitions to StateError.
type WatchdogConfig struct {
	Enabled bool
	Timeout time.Duration
}

// ForwardingConfig controls dispatch-level policy shared by every sink
// send.
type ForwardingConfig struct {
	// RoundRobinSinks makes the sink registry send each point to one of
	// its targets in turn (round-robin); when unset the registry
	// broadcasts to every target.
	RoundRobinSinks bool
	// DropOnSinkError, when set, counts a point whose sink send failed as
	// dropped and hands the error to the scheduler; otherwise the failure
	// is counted under errors. Sends run on scheduler workers after Route
	// has returned, so Route itself never reports a sink failure.
	DropOnSinkError bool
}

// LimitsConfig bounds registry and queue sizes.
type LimitsConfig struct {
	MaxSources     int
	MaxSinks       int
	MaxQueueSize   int
}

// SchedulerConfig configures the EDF worker pool.
type SchedulerConfig struct {
	WorkerThreads         int
	DefaultDeadlineOffset time.Duration

	// RealtimePriorityThreshold is the rule-priority value (on the rule
	// table's own scale, independent of the scheduler's internal Priority
	// band enum) at or above which a match is scheduled as REALTIME.
	RealtimePriorityThreshold int
}

// Route is the externally configured routing rule: a predicate plus the
// sink ids it targets.
type Route struct {
	ID              uint64
	Name            string
	Priority        int
	Enabled         bool
	Pattern         string   // non-empty => PATTERN rule
	Addresses       []string // non-empty (and Pattern empty) => STATIC rule
	QualityLevels   []uint8  // non-empty => QUALITY rule
	ProtocolIDs     []uint32 // non-empty (and above empty) => PROTOCOL rule
	Sinks           []string
}

// RouterTableConfig carries the statically configured routing table and
// the router-level knobs that apply to every route.
type RouterTableConfig struct {
	RoutingTableSize int
	Routes           []Route
	EnableZeroCopy   bool
}

// RateLimitConfig configures the Router's admission gate.
type RateLimitConfig struct {
	RatePerSecond float64
	BurstSize     int64
	Strategy      RateLimitStrategy
}

// BackpressureConfig configures the Router's pressure sensor/controller.
type BackpressureConfig struct {
	Strategy           backpressure.Strategy
	LowWatermark       float64
	HighWatermark      float64
	CriticalWatermark  float64
	TargetLatency      time.Duration
	MaxLatency         time.Duration
	SampleRate         uint64
	ThrottleStep       time.Duration
	MaxThrottle        time.Duration
	HysteresisWindow   time.Duration
	QueueCapacity      int64
	MemoryCapacityBytes int64
}

// RuleCacheConfig configures the rule engine's address-keyed match cache.
type RuleCacheConfig struct {
	Enabled  bool
	Size     int
	TTL      time.Duration
}

// TelemetryConfig controls the optional Prometheus/console reporter. A
// zero value disables telemetry entirely.
type TelemetryConfig struct {
	Enabled     bool
	MetricsAddr string
	LogInterval time.Duration
}

// Config is the full configuration surface the Router accepts. It is a
// plain struct tree: parsing it from YAML/JSON is an external
// collaborator's job; the Router only validates and defaults it.
type Config struct {
	InstanceID   string
	Watchdog     WatchdogConfig
	Forwarding   ForwardingConfig
	Limits       LimitsConfig
	Scheduler    SchedulerConfig
	Router       RouterTableConfig
	RateLimit    RateLimitConfig
	Backpressure BackpressureConfig
	RuleCache    RuleCacheConfig
	Telemetry    TelemetryConfig
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		InstanceID: "ipb-0",
		Watchdog:   WatchdogConfig{Enabled: false, Timeout: 5 * time.Second},
		Limits:     LimitsConfig{MaxSources: 64, MaxSinks: 64, MaxQueueSize: 4096},
		Scheduler: SchedulerConfig{
			WorkerThreads:             4,
			DefaultDeadlineOffset:     50 * time.Millisecond,
			RealtimePriorityThreshold: 200,
		},
		Router: RouterTableConfig{RoutingTableSize: 256},
		RateLimit: RateLimitConfig{
			RatePerSecond: 10000,
			BurstSize:     1000,
			Strategy:      RateLimitTokenBucket,
		},
		Backpressure: BackpressureConfig{
			Strategy:            backpressure.StrategyThrottle,
			LowWatermark:        backpressure.DefaultWatermarks.Low,
			HighWatermark:       backpressure.DefaultWatermarks.High,
			CriticalWatermark:   backpressure.DefaultWatermarks.Critical,
			TargetLatency:       10 * time.Millisecond,
			MaxLatency:          500 * time.Millisecond,
			SampleRate:          backpressure.DefaultSampleRate,
			ThrottleStep:        backpressure.DefaultThrottleStep,
			MaxThrottle:         backpressure.DefaultMaxThrottle,
			HysteresisWindow:    backpressure.DefaultHysteresisWindow,
			QueueCapacity:       int64(4096),
			MemoryCapacityBytes: 1 << 30,
		},
		RuleCache: RuleCacheConfig{Enabled: true, Size: 4096, TTL: 30 * time.Second},
		Telemetry: TelemetryConfig{Enabled: false, LogInterval: 5 * time.Second},
	}
}

// Validate checks the invariants the Router requires to start, sanitizing
// values inline before they reach the worker pool and registries.
func (c *Config) Validate() error {
	if c.Limits.MaxSources <= 0 {
		return ipberr.New(ipberr.InvalidArgument, "limits.max_sources must be positive, got %d", c.Limits.MaxSources)
	}
	if c.Limits.MaxSinks <= 0 {
		return ipberr.New(ipberr.InvalidArgument, "limits.max_sinks must be positive, got %d", c.Limits.MaxSinks)
	}
	if c.Limits.MaxQueueSize <= 0 {
		return ipberr.New(ipberr.InvalidArgument, "limits.max_queue_size must be positive, got %d", c.Limits.MaxQueueSize)
	}
	if c.Scheduler.WorkerThreads <= 0 {
		return ipberr.New(ipberr.InvalidArgument, "scheduler.worker_threads must be positive, got %d", c.Scheduler.WorkerThreads)
	}
	if c.Scheduler.RealtimePriorityThreshold <= 0 {
		return ipberr.New(ipberr.InvalidArgument, "scheduler.realtime_priority_threshold must be positive, got %d", c.Scheduler.RealtimePriorityThreshold)
	}
	if c.RateLimit.RatePerSecond <= 0 {
		return ipberr.New(ipberr.InvalidArgument, "rate_limit.rate_per_second must be positive, got %f", c.RateLimit.RatePerSecond)
	}
	if c.RateLimit.BurstSize <= 0 {
		return ipberr.New(ipberr.InvalidArgument, "rate_limit.burst_size must be positive, got %d", c.RateLimit.BurstSize)
	}
	if c.Watchdog.Enabled && c.Watchdog.Timeout <= 0 {
		return ipberr.New(ipberr.InvalidArgument, "watchdog.timeout_ms must be positive when watchdog is enabled")
	}
	return nil
}

func (c *Config) backpressureWatermarks() backpressure.Watermarks {
	return backpressure.Watermarks{
		Low:      c.Backpressure.LowWatermark,
		Medium:   (c.Backpressure.LowWatermark + c.Backpressure.HighWatermark) / 2,
		High:     c.Backpressure.HighWatermark,
		Critical: c.Backpressure.CriticalWatermark,
	}
}

// sinkSelectionStrategy maps the forwarding config to a concrete sink
// registry strategy: round-robin when configured, or broadcast otherwise.
// The registry keeps the strategy it was constructed with; Send takes no
// per-call strategy override.
func (c *Config) sinkSelectionStrategy() sink.Strategy {
	if c.Forwarding.RoundRobinSinks {
		return sink.StrategyRoundRobin
	}
	return sink.StrategyBroadcast
}
