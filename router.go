// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package ipb

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ipb/internal/backpressure"
	"ipb/internal/pattern"
	"ipb/internal/pool"
	"ipb/internal/queue"
	"ipb/internal/ratelimit"
	"ipb/internal/rule"
	"ipb/internal/scheduler"
	"ipb/internal/scoop"
	"ipb/internal/sink"
	"ipb/internal/telemetry"
	"ipb/pkg/datapoint"
	"ipb/pkg/ipberr"
)

// Router is the bridge's public entry point: it binds producers (scoops)
// to consumers (sinks) via the rule engine and EDF scheduler, under
// admission control and backpressure. Start/Stop/Handle wire the rate
// limiter and backpressure controller into the rule engine, scheduler,
// and sink registry.
type Router struct {
	cfg Config

	sinks  *sink.Registry
	scoops *scoop.Registry
	rules  *rule.Store
	sched  *scheduler.Scheduler

	limiter    ratelimit.Limiter
	sensor     *backpressure.Sensor
	pressure   *backpressure.Controller

	stateMu sync.Mutex
	state   atomic.Uint32

	counters *counters

	watchdogLastFeed atomic.Int64
	watchdogStop     chan struct{}
	watchdogWG       sync.WaitGroup

	sourcesMu sync.Mutex
	sources   map[string]scoop.DataSource

	routedPaused atomic.Uint64

	telemetry *telemetry.Reporter
}

// New constructs a Router from cfg, validating it and wiring the rule
// engine cache, EDF scheduler, rate limiter, and backpressure controller.
// The Router starts in StateStopped; call Start to begin accepting route
// calls.
func New(cfg Config) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var cacheSize int
	var cacheTTL time.Duration
	if cfg.RuleCache.Enabled {
		cacheSize = cfg.RuleCache.Size
		cacheTTL = cfg.RuleCache.TTL
	}

	r := &Router{
		cfg:      cfg,
		sinks:    sink.NewRegistry(cfg.sinkSelectionStrategy(), 1),
		scoops:   scoop.NewRegistry(),
		rules:    rule.NewStore(cacheSize, cacheTTL),
		limiter:  newLimiter(cfg.RateLimit),
		sensor:   backpressure.NewSensor(cfg.Backpressure.QueueCapacity, int64(cfg.Backpressure.MaxLatency), cfg.Backpressure.MemoryCapacityBytes),
		counters: newCounters(),
		sources:  make(map[string]scoop.DataSource),
	}
	r.sensor.WithWatermarks(cfg.backpressureWatermarks(), cfg.backpressureWatermarks(), cfg.backpressureWatermarks())
	r.pressure = backpressure.NewController(r.sensor, cfg.Backpressure.Strategy, backpressure.Config{
		HysteresisWindow: cfg.Backpressure.HysteresisWindow,
		ThrottleStep:     cfg.Backpressure.ThrottleStep,
		MaxThrottle:      cfg.Backpressure.MaxThrottle,
		SampleRate:       cfg.Backpressure.SampleRate,
	}, nil)
	r.sched = scheduler.NewWithCapacity(cfg.Scheduler.WorkerThreads, cfg.Limits.MaxQueueSize, r.dispatch)

	for _, rt := range cfg.Router.Routes {
		r.addConfiguredRoute(rt)
	}

	r.telemetry = telemetry.NewReporter(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		MetricsAddr: cfg.Telemetry.MetricsAddr,
		LogInterval: cfg.Telemetry.LogInterval,
	}, r.telemetrySnapshot)

	r.state.Store(uint32(StateStopped))
	return r, nil
}

// telemetrySnapshot adapts the Router's own Stats/pressure surface to the
// narrow Snapshot shape internal/telemetry renders, so that package stays
// free of a dependency on this one.
func (r *Router) telemetrySnapshot() telemetry.Snapshot {
	s := r.Stats()
	return telemetry.Snapshot{
		MessagesIn:        s.MessagesIn,
		MessagesForwarded: s.MessagesForwarded,
		MessagesDropped:   s.MessagesDropped,
		MessagesSampled:   s.MessagesSampled,
		Errors:            s.Errors,
		LatencyAvgNs:      s.LatencyAvgNs,
		LatencyP95Ns:      s.LatencyP95Ns,
		LatencyP99Ns:      s.LatencyP99Ns,
		UptimeNs:          s.UptimeNs,
		QueueDepth:        int64(r.sched.Len()),
		PressureLevel:     r.PressureLevel().String(),
	}
}

func newLimiter(cfg RateLimitConfig) ratelimit.Limiter {
	switch cfg.Strategy {
	case RateLimitSlidingWindow:
		return ratelimit.NewSlidingWindow(int64(cfg.RatePerSecond))
	case RateLimitAdaptive:
		return ratelimit.NewAdaptive(cfg.BurstSize, cfg.RatePerSecond*0.2, cfg.RatePerSecond, nil)
	case RateLimitHierarchical:
		return ratelimit.NewHierarchical(cfg.BurstSize, cfg.RatePerSecond, cfg.BurstSize, cfg.RatePerSecond)
	default:
		return ratelimit.NewTokenBucket(cfg.BurstSize, cfg.RatePerSecond)
	}
}

func (r *Router) addConfiguredRoute(rt Route) {
	rr := &rule.RoutingRule{
		Priority: rt.Priority,
		Enabled:  rt.Enabled,
		Targets:  rt.Sinks,
	}
	switch {
	case rt.Pattern != "":
		rr.Type = rule.TypePattern
		if m, _, err := pattern.Compile(rt.Pattern); err == nil {
			rr.Matcher = m
		}
	case len(rt.Addresses) > 0:
		rr.Type = rule.TypeStatic
		rr.Addresses = rt.Addresses
	case len(rt.QualityLevels) > 0:
		rr.Type = rule.TypeQuality
		qs := make([]datapoint.Quality, len(rt.QualityLevels))
		for i, q := range rt.QualityLevels {
			qs[i] = datapoint.Quality(q)
		}
		rr.WithQuality(qs...)
	case len(rt.ProtocolIDs) > 0:
		rr.Type = rule.TypeProtocol
		rr.ProtocolID = rt.ProtocolIDs[0]
	default:
		rr.Type = rule.TypeStatic
		rr.StaticMatch = true
	}
	r.rules.Add(rr)
}

// AddRule inserts r into the rule engine, returning its assigned id.
func (r *Router) AddRule(rr *rule.RoutingRule) uint64 { return r.rules.Add(rr) }

// UpdateRule replaces the stored rule at rr.ID.
func (r *Router) UpdateRule(rr *rule.RoutingRule) bool { return r.rules.Update(rr) }

// RemoveRule deletes the rule with the given id.
func (r *Router) RemoveRule(id uint64) bool { return r.rules.Remove(id) }

// ClearRules removes every rule.
func (r *Router) ClearRules() { r.rules.Clear() }

// AddSink registers a DataSink under id. Rejects a duplicate id.
func (r *Router) AddSink(id string, s sink.DataSink, weight, priority int, primary bool) error {
	if err := r.sinks.Register(id, s, weight, priority, primary); err != nil {
		return ipberr.Wrap(ipberr.AlreadyExists, err)
	}
	return nil
}

// RemoveSink stops and unregisters the sink at id.
func (r *Router) RemoveSink(ctx context.Context, id string) error {
	sinkRef, ok := r.sinks.Get(id)
	if !ok {
		return ipberr.New(ipberr.NotFound, "sink %q not registered", id)
	}
	if err := r.sinks.Unregister(id); err != nil {
		return ipberr.Wrap(ipberr.NotFound, err)
	}
	if sinkRef.IsRunning() {
		_ = sinkRef.Stop(ctx)
	}
	return nil
}

// AddSource registers a DataSource under id and installs the callback
// that funnels every produced DataPoint into Route. It does not itself
// start the source; Start (or a direct source.Start call) does that.
func (r *Router) AddSource(id string, src scoop.DataSource, priority int) error {
	if err := r.scoops.Register(id, src, priority); err != nil {
		return ipberr.Wrap(ipberr.AlreadyExists, err)
	}
	src.SetCallback(func(dp datapoint.DataPoint) { _ = r.Route(dp) })
	r.sourcesMu.Lock()
	r.sources[id] = src
	r.sourcesMu.Unlock()
	return nil
}

// RemoveSource stops and unregisters the source at id.
func (r *Router) RemoveSource(ctx context.Context, id string) error {
	if err := r.scoops.Unregister(id); err != nil {
		return ipberr.Wrap(ipberr.NotFound, err)
	}
	r.sourcesMu.Lock()
	src, ok := r.sources[id]
	delete(r.sources, id)
	r.sourcesMu.Unlock()
	if ok && src.IsRunning() {
		_ = src.Stop(ctx)
	}
	return nil
}

// ReadFrom fans in one or more registered scoops per strategy; see
// internal/scoop.Registry.ReadFrom.
func (r *Router) ReadFrom(ctx context.Context, ids []string, strategy scoop.Strategy, quorumK int) (func(), error) {
	return r.scoops.ReadFrom(ctx, ids, strategy, quorumK, func(dp datapoint.DataPoint) { _ = r.Route(dp) })
}

// Route is the synchronous entry point for a single DataPoint: admission
// (rate limit) -> pressure check (backpressure) -> rule match (rule
// engine) -> one scheduler task per match, with its deadline computed from
// the match's implied priority.
func (r *Router) Route(dp datapoint.DataPoint) error {
	r.counters.messagesIn.Add(1)
	state := State(r.state.Load())
	if state == StatePaused {
		r.routedPaused.Add(1)
		r.counters.messagesDropped.Add(1)
		return ipberr.New(ipberr.InvalidState, "router is paused")
	}
	if state != StateRunning {
		r.counters.messagesDropped.Add(1)
		return ipberr.New(ipberr.InvalidState, "router is not running (state=%s)", state)
	}

	start := time.Now()

	if !r.limiter.TryAcquire(1) {
		r.counters.messagesDropped.Add(1)
		return ipberr.New(ipberr.BufferOverflow, "rate limit exceeded")
	}

	accept, delay, sampled := r.pressure.ShouldAccept()
	if delay > 0 {
		time.Sleep(delay)
	}
	if !accept {
		if sampled {
			r.counters.messagesSampled.Add(1)
		} else {
			r.counters.messagesDropped.Add(1)
		}
		return ipberr.New(ipberr.BufferOverflow, "backpressure rejected admission")
	}

	matches := r.rules.EvaluateAll(dp)
	targets := mergeTargets(matches)
	if len(targets) == 0 {
		// No rule matched: the point was admitted but has no destination,
		// so it still counts against messages_in.
		r.counters.messagesDropped.Add(1)
		r.counters.latency.observe(time.Since(start))
		return nil
	}

	priority := scheduler.PriorityNormal
	for _, m := range matches {
		if m.Matched && r.rules.Priority(m.RuleID) >= r.cfg.Scheduler.RealtimePriorityThreshold {
			priority = scheduler.PriorityRealtime
			break
		}
	}

	now := datapoint.Now()
	deadline := scheduler.ComputeDeadline(now, priority, r.cfg.Scheduler.DefaultDeadlineOffset)
	if _, ok := r.sched.Schedule(scheduler.Task{
		DataPoint:   dp,
		Targets:     targets,
		Priority:    priority,
		EnqueueTime: now,
		Deadline:    deadline,
	}); !ok {
		r.counters.messagesDropped.Add(1)
		r.counters.latency.observe(time.Since(start))
		return ipberr.New(ipberr.BufferOverflow, "scheduler admission queue full")
	}

	r.sensor.ObserveQueueDepth(int64(r.sched.Len()))
	r.counters.latency.observe(time.Since(start))
	return nil
}

// RouteBatch routes every point in dps, amortizing admission/rule-match
// work over the slice, and returns the first error encountered (if any)
// while still attempting every point.
func (r *Router) RouteBatch(dps []datapoint.DataPoint) error {
	var firstErr error
	for _, dp := range dps {
		if err := r.Route(dp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// mergeTargets unions the target sink ids of every matched rule,
// deduplicating while preserving first-seen order.
func mergeTargets(matches []rule.MatchResult) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range matches {
		if !m.Matched {
			continue
		}
		for _, t := range m.Targets {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// dispatch is the scheduler.Handler invoked by a worker goroutine for
// every popped Task: it hands the DataPoint to the sink registry and
// folds the outcome back into the Router's pipeline-wide counters.
func (r *Router) dispatch(t scheduler.Task) error {
	ctx := context.Background()
	err := r.sinks.Send(ctx, t.Targets, t.DataPoint)
	r.sensor.ObserveLatency(time.Since(time.Unix(0, int64(t.EnqueueTime))))
	if err != nil {
		if r.cfg.Forwarding.DropOnSinkError {
			r.counters.messagesDropped.Add(1)
			return err
		}
		// Downstream failures are counted under errors, not propagated,
		// unless drop_on_sink_error is set (then the point counts as dropped).
		r.counters.errors.Add(1)
		return nil
	}
	r.counters.messagesForwarded.Add(1)
	return nil
}

// Tick is a scheduler hook reserved for a future pull-based scoop to
// hook into: it always returns false, since no pull-model work is
// currently performed.
func (r *Router) Tick(now datapoint.Timestamp) bool { return false }

// FeedWatchdog records that the caller is still alive; Start's watchdog
// goroutine (if enabled) transitions the Router to StateError when this
// hasn't been called within Watchdog.Timeout.
func (r *Router) FeedWatchdog() {
	r.watchdogLastFeed.Store(time.Now().UnixNano())
}

// State returns the Router's current lifecycle state.
func (r *Router) State() State { return State(r.state.Load()) }

// Start transitions STOPPED -> INITIALIZING -> RUNNING, starting every
// registered sink, source, and the sink registry's background health
// checks. On any initialization failure the Router moves to StateError
// and the error is returned; Start is not idempotent (returns
// InvalidState if not currently STOPPED).
func (r *Router) Start(ctx context.Context) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	if State(r.state.Load()) != StateStopped {
		return ipberr.New(ipberr.InvalidState, "Start requires state STOPPED, got %s", r.State())
	}
	r.state.Store(uint32(StateInitializing))

	for _, id := range r.sinks.IDs() {
		s, ok := r.sinks.Get(id)
		if !ok || s.IsRunning() {
			continue
		}
		if err := s.Start(ctx); err != nil {
			r.state.Store(uint32(StateError))
			return ipberr.Wrap(ipberr.OSError, err)
		}
	}
	r.sourcesMu.Lock()
	srcs := make(map[string]scoop.DataSource, len(r.sources))
	for k, v := range r.sources {
		srcs[k] = v
	}
	r.sourcesMu.Unlock()
	for _, s := range srcs {
		if s.IsRunning() {
			continue
		}
		if err := s.Start(ctx); err != nil {
			r.state.Store(uint32(StateError))
			return ipberr.Wrap(ipberr.OSError, err)
		}
	}

	r.sinks.StartHealthChecks(5 * time.Second)
	r.counters.startedAt.Store(time.Now().UnixNano())
	r.FeedWatchdog()

	if r.cfg.Watchdog.Enabled {
		r.watchdogStop = make(chan struct{})
		r.watchdogWG.Add(1)
		go r.watchdogLoop()
	}

	r.telemetry.Start(ctx)

	r.state.Store(uint32(StateRunning))
	return nil
}

func (r *Router) watchdogLoop() {
	defer r.watchdogWG.Done()
	interval := r.cfg.Watchdog.Timeout / 4
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.watchdogStop:
			return
		case <-ticker.C:
			last := time.Unix(0, r.watchdogLastFeed.Load())
			if time.Since(last) > r.cfg.Watchdog.Timeout {
				r.state.Store(uint32(StateError))
				return
			}
		}
	}
}

// Pause transitions RUNNING -> PAUSED: sources keep producing but Route
// drops every point with a counter increment until Resume.
func (r *Router) Pause() error {
	if !r.state.CompareAndSwap(uint32(StateRunning), uint32(StatePaused)) {
		return ipberr.New(ipberr.InvalidState, "Pause requires state RUNNING, got %s", r.State())
	}
	return nil
}

// Resume transitions PAUSED -> RUNNING.
func (r *Router) Resume() error {
	if !r.state.CompareAndSwap(uint32(StatePaused), uint32(StateRunning)) {
		return ipberr.New(ipberr.InvalidState, "Resume requires state PAUSED, got %s", r.State())
	}
	return nil
}

// Stop drains the scheduler (flushing every sink), stops every source and
// sink, and transitions to STOPPED via SHUTTING_DOWN. Idempotent: calling
// Stop when already STOPPED is a no-op returning nil.
func (r *Router) Stop(ctx context.Context) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	if State(r.state.Load()) == StateStopped {
		return nil
	}
	r.state.Store(uint32(StateShuttingDown))

	if r.watchdogStop != nil {
		close(r.watchdogStop)
		r.watchdogWG.Wait()
		r.watchdogStop = nil
	}

	r.sched.Stop()

	for _, id := range r.sinks.IDs() {
		if s, ok := r.sinks.Get(id); ok {
			_ = s.Flush(ctx)
		}
	}
	r.sinks.StopHealthChecks()

	r.sourcesMu.Lock()
	srcs := make([]scoop.DataSource, 0, len(r.sources))
	for _, s := range r.sources {
		srcs = append(srcs, s)
	}
	r.sourcesMu.Unlock()
	for _, s := range srcs {
		if s.IsRunning() {
			_ = s.Stop(ctx)
		}
	}
	for _, id := range r.sinks.IDs() {
		if s, ok := r.sinks.Get(id); ok && s.IsRunning() {
			_ = s.Stop(ctx)
		}
	}

	r.telemetry.Stop(ctx)

	r.state.Store(uint32(StateStopped))
	return nil
}

// Stats returns a snapshot of the Router's pipeline-wide counters.
func (r *Router) Stats() Stats { return r.counters.snapshot() }

// SchedulerStats returns a snapshot of the EDF scheduler's counters.
func (r *Router) SchedulerStats() scheduler.Stats { return r.sched.Stats() }

// SchedulerQueueStats returns a snapshot of the scheduler's MPSC admission
// ring counters.
func (r *Router) SchedulerQueueStats() queue.Snapshot { return r.sched.QueueStats() }

// SchedulerPoolStats returns a snapshot of the scheduler's Task pool
// allocation counters.
func (r *Router) SchedulerPoolStats() pool.Snapshot { return r.sched.PoolStats() }

// SinkStats returns a snapshot of every registered sink's counters.
func (r *Router) SinkStats() []sink.EntryStats { return r.sinks.EntryStats() }

// PressureLevel returns the backpressure controller's current effective
// level.
func (r *Router) PressureLevel() backpressure.Level { return r.pressure.EffectiveLevel() }
