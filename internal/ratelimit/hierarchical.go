// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package ratelimit

import (
	"context"
	"sync"
)

// Hierarchical composes one global TokenBucket with a per-source
// TokenBucket: a request is admitted only if both gates admit it. The
// global gate is checked first and refunded if the per-source gate then
// rejects; a global rejection never touches the per-source gate, so
// neither bucket silently leaks a phantom reservation.
type Hierarchical struct {
	global *TokenBucket

	mu         sync.Mutex
	perSource  map[string]*TokenBucket
	sourceBurst int64
	sourceRate  float64

	counters Counters
}

// NewHierarchical constructs a two-tier limiter: globalBurst/globalRate
// bound the aggregate across all sources, sourceBurst/sourceRate bound any
// single source.
func NewHierarchical(globalBurst int64, globalRate float64, sourceBurst int64, sourceRate float64) *Hierarchical {
	return &Hierarchical{
		global:      NewTokenBucket(globalBurst, globalRate),
		perSource:   make(map[string]*TokenBucket),
		sourceBurst: sourceBurst,
		sourceRate:  sourceRate,
	}
}

func (h *Hierarchical) bucketFor(source string) *TokenBucket {
	h.mu.Lock()
	defer h.mu.Unlock()
	tb, ok := h.perSource[source]
	if !ok {
		tb = NewTokenBucket(h.sourceBurst, h.sourceRate)
		h.perSource[source] = tb
	}
	return tb
}

// TryAcquireFor admits n units for the named source only if both the
// global and per-source gates admit it.
func (h *Hierarchical) TryAcquireFor(source string, n int64) bool {
	h.counters.Requests.Add(1)
	if !h.global.TryAcquire(n) {
		h.counters.Rejected.Add(1)
		return false
	}
	src := h.bucketFor(source)
	if !src.TryAcquire(n) {
		h.global.Refund(n)
		h.counters.Rejected.Add(1)
		return false
	}
	h.counters.Allowed.Add(1)
	return true
}

// AcquireFor blocks until n units are admitted for source, or ctx is done.
func (h *Hierarchical) AcquireFor(ctx context.Context, source string, n int64) error {
	return pollAcquire(ctx, func() bool { return h.TryAcquireFor(source, n) }, &h.counters)
}

// TryAcquire implements Limiter against an anonymous/default source bucket.
func (h *Hierarchical) TryAcquire(n int64) bool { return h.TryAcquireFor("", n) }

// Acquire implements Limiter against an anonymous/default source bucket.
func (h *Hierarchical) Acquire(ctx context.Context, n int64) error {
	return h.AcquireFor(ctx, "", n)
}

// Stats returns a snapshot of the composed admission counters.
func (h *Hierarchical) Stats() Stats { return h.counters.snapshot() }

var _ Limiter = (*Hierarchical)(nil)
