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
	"sync/atomic"
	"time"
)

// retuneInterval is how often Adaptive re-evaluates its rate against
// observed load.
const retuneInterval = 100 * time.Millisecond

// LoadFunc reports the current load signal, in [0, 1], an Adaptive limiter
// retunes itself against.
type LoadFunc func() float64

// Adaptive wraps a TokenBucket whose rate is retuned every 100ms as
// rate = max_rate * (1 - 0.8*load), clamped to [min_rate, max_rate].
type Adaptive struct {
	bucket  *TokenBucket
	minRate float64
	maxRate float64
	load    LoadFunc

	currentRate atomic.Uint64 // bits of the current float64 rate

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewAdaptive constructs an Adaptive limiter bursting up to burstSize and
// retuning between minRate and maxRate units/sec according to load.
func NewAdaptive(burstSize int64, minRate, maxRate float64, load LoadFunc) *Adaptive {
	a := &Adaptive{
		bucket:  NewTokenBucket(burstSize, maxRate),
		minRate: minRate,
		maxRate: maxRate,
		load:    load,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	a.currentRate.Store(floatBits(maxRate))
	go a.runRetune()
	return a
}

func floatBits(f float64) uint64 {
	return uint64(int64(f * Precision))
}

func bitsFloat(b uint64) float64 {
	return float64(int64(b)) / Precision
}

func (a *Adaptive) runRetune() {
	defer close(a.doneCh)
	ticker := time.NewTicker(retuneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			load := 0.0
			if a.load != nil {
				load = a.load()
			}
			if load < 0 {
				load = 0
			}
			if load > 1 {
				load = 1
			}
			rate := a.maxRate * (1 - 0.8*load)
			if rate < a.minRate {
				rate = a.minRate
			}
			if rate > a.maxRate {
				rate = a.maxRate
			}
			a.currentRate.Store(floatBits(rate))
			a.bucket.SetRate(rate)
		}
	}
}

// CurrentRate reports the limiter's current retuned rate, units/sec.
func (a *Adaptive) CurrentRate() float64 { return bitsFloat(a.currentRate.Load()) }

// TryAcquire admits n units against the currently retuned rate.
func (a *Adaptive) TryAcquire(n int64) bool { return a.bucket.TryAcquire(n) }

// Acquire blocks until n units are admitted or ctx is done.
func (a *Adaptive) Acquire(ctx context.Context, n int64) error {
	return a.bucket.Acquire(ctx, n)
}

// Stats returns a snapshot of the underlying bucket's admission counters.
func (a *Adaptive) Stats() Stats { return a.bucket.Stats() }

// Close stops the background retune goroutine. Idempotent.
func (a *Adaptive) Close() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		<-a.doneCh
	})
}

var _ Limiter = (*Adaptive)(nil)
