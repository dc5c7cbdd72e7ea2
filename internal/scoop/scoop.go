// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package scoop implements the DataSource registry: pluggable data
// acquisition sources a bridge pulls from, symmetric to internal/sink's
// DataSink registry but on the acquisition side of the pipeline.
package scoop

import (
	"context"
	"sync"
	"sync/atomic"

	"ipb/pkg/datapoint"
)

// Callback receives every DataPoint a DataSource produces.
type Callback func(dp datapoint.DataPoint)

// DataSource is the contract every acquisition adapter implements.
type DataSource interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	SetCallback(cb Callback)
	AddAddress(addr string) error
	RemoveAddress(addr string) error
	Addresses() []string
}

// Health mirrors sink.Health for the acquisition side.
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

const (
	consecutiveFailureThreshold = 3
	recoveryThreshold           = 3
)

type entry struct {
	id       string
	source   DataSource
	priority int

	health          atomic.Uint32
	consecutiveFail atomic.Uint32
	consecutiveOK   atomic.Uint32
}

func newEntry(id string, s DataSource, priority int) *entry {
	e := &entry{id: id, source: s, priority: priority}
	e.health.Store(uint32(HealthUnknown))
	return e
}

func (e *entry) getHealth() Health { return Health(e.health.Load()) }

func (e *entry) recordSuccess() {
	e.consecutiveFail.Store(0)
	ok := e.consecutiveOK.Add(1)
	switch e.getHealth() {
	case HealthUnknown, HealthDisconnected:
		// The first successful read settles an UNKNOWN or DISCONNECTED
		// source straight to HEALTHY.
		e.health.Store(uint32(HealthHealthy))
		e.consecutiveOK.Store(0)
	case HealthUnhealthy:
		// A single success lifts an UNHEALTHY source to DEGRADED immediately;
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
	e.consecutiveOK.Store(0)
	if e.consecutiveFail.Add(1) >= consecutiveFailureThreshold {
		e.health.Store(uint32(HealthUnhealthy))
	}
}

// Registry holds every registered DataSource.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry constructs an empty scoop Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a DataSource under id with the given read priority.
func (r *Registry) Register(id string, s DataSource, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return ErrAlreadyExists
	}
	r.entries[id] = newEntry(id, s, priority)
	r.order = append(r.order, id)
	return nil
}

// Unregister removes id, stopping nothing itself — callers should Stop the
// source before unregistering it if it is running.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return ErrNotFound
	}
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// IDs returns every registered source id in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Get returns the DataSource registered under id, if any.
func (r *Registry) Get(id string) (DataSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.source, true
}

func (r *Registry) snapshot(ids []string) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target := ids
	if len(target) == 0 {
		target = r.order
	}
	out := make([]*entry, 0, len(target))
	for _, id := range target {
		if e, ok := r.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}
