// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package sink implements the DataSink registry: pluggable destinations a
// DataPoint can be routed to, selected by one of eight load-balancing
// strategies, with background health-check probing and per-sink counters.
package sink

import (
	"context"
	"sync/atomic"
	"time"

	"ipb/pkg/datapoint"
)

// DataSink is the contract every destination adapter implements.
type DataSink interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	IsHealthy() bool
	Send(ctx context.Context, dp datapoint.DataPoint) error
	SendBatch(ctx context.Context, dps []datapoint.DataPoint) error
	Flush(ctx context.Context) error
	MaxBatchSize() int
	CanAcceptData() bool
	PendingCount() int
}

// Health is a sink's current health classification.
type Health uint8

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
	HealthDisconnected
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "HEALTHY"
	case HealthDegraded:
		return "DEGRADED"
	case HealthUnhealthy:
		return "UNHEALTHY"
	case HealthDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// consecutiveFailureThreshold is the number of consecutive send failures
// (or failed health probes) that demotes a sink to UNHEALTHY.
const consecutiveFailureThreshold = 3

// recoveryThreshold is the number of consecutive successes that move a
// DEGRADED sink to HEALTHY; an UNHEALTHY sink first needs one success to
// reach DEGRADED.
const recoveryThreshold = 3

// entry wraps a registered DataSink with its scheduling metadata and
// health-tracking state.
type entry struct {
	id       string
	sink     DataSink
	weight   int
	enabled  atomic.Bool
	primary  bool
	priority int

	health          atomic.Uint32 // Health
	consecutiveFail  atomic.Uint32
	consecutiveOK    atomic.Uint32
	lastHealthCheck  atomic.Int64

	sent     atomic.Uint64
	failed   atomic.Uint64
	lastUsed atomic.Int64
}

func newEntry(id string, s DataSink, weight, priority int, primary bool) *entry {
	e := &entry{id: id, sink: s, weight: weight, priority: priority, primary: primary}
	e.enabled.Store(true)
	e.health.Store(uint32(HealthUnknown))
	return e
}

func (e *entry) getHealth() Health { return Health(e.health.Load()) }

func (e *entry) recordSuccess() {
	e.sent.Add(1)
	e.consecutiveFail.Store(0)
	ok := e.consecutiveOK.Add(1)
	switch e.getHealth() {
	case HealthUnknown, HealthDisconnected:
		// The first successful send/probe settles an UNKNOWN or
		// DISCONNECTED sink straight to HEALTHY.
		e.health.Store(uint32(HealthHealthy))
		e.consecutiveOK.Store(0)
	case HealthUnhealthy:
		// A single success lifts an UNHEALTHY sink to DEGRADED immediately;
		// reaching HEALTHY still takes recoveryThreshold more successes.
		e.health.Store(uint32(HealthDegraded))
		e.consecutiveOK.Store(0)
	case HealthDegraded:
		if ok >= recoveryThreshold {
			e.health.Store(uint32(HealthHealthy))
			e.consecutiveOK.Store(0)
		}
	}
}

func (e *entry) recordFailure() {
	e.failed.Add(1)
	e.consecutiveOK.Store(0)
	fails := e.consecutiveFail.Add(1)
	if fails >= consecutiveFailureThreshold {
		e.health.Store(uint32(HealthUnhealthy))
	}
}

// EntryStats is a point-in-time snapshot of one sink entry's counters.
type EntryStats struct {
	ID       string
	Health   Health
	Enabled  bool
	Sent     uint64
	Failed   uint64
	LastUsed time.Time
}

func (e *entry) stats() EntryStats {
	var lastUsed time.Time
	if ns := e.lastUsed.Load(); ns != 0 {
		lastUsed = time.Unix(0, ns)
	}
	return EntryStats{
		ID:       e.id,
		Health:   e.getHealth(),
		Enabled:  e.enabled.Load(),
		Sent:     e.sent.Load(),
		Failed:   e.failed.Load(),
		LastUsed: lastUsed,
	}
}
