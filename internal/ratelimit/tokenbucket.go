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
	"math"
	"sync/atomic"
)

// TokenBucket is a fixed-point (Precision-scaled) token bucket. Refill is
// lock-free: every TryAcquire first folds in whatever time has elapsed
// since the last refill, serialized by a CAS on lastRefillNs, then adds
// the tokens via a CAS loop against the token count.
type TokenBucket struct {
	tokens    atomic.Int64  // fixed-point units, Precision-scaled
	capacity  int64         // burstSize * Precision
	ratePerNs atomic.Uint64 // bits of a float64: fixed-point units added per ns

	lastRefillNs atomic.Int64
	counters     Counters
}

// NewTokenBucket constructs a bucket that admits up to burstSize units in
// one burst and refills at ratePerSec units per second.
func NewTokenBucket(burstSize int64, ratePerSec float64) *TokenBucket {
	tb := &TokenBucket{
		capacity: burstSize * Precision,
	}
	tb.setRatePerNs(ratePerSec * Precision / 1e9)
	tb.tokens.Store(tb.capacity)
	tb.lastRefillNs.Store(int64(systemClock().UnixNano()))
	return tb
}

func (tb *TokenBucket) setRatePerNs(r float64) {
	tb.ratePerNs.Store(math.Float64bits(r))
}

func (tb *TokenBucket) getRatePerNs() float64 {
	return math.Float64frombits(tb.ratePerNs.Load())
}

// SetRate changes the refill rate (units/sec) in effect for subsequent
// refills, used by Adaptive to retune without reconstructing the bucket.
func (tb *TokenBucket) SetRate(ratePerSec float64) {
	tb.setRatePerNs(ratePerSec * Precision / 1e9)
}

func (tb *TokenBucket) refill() {
	now := int64(systemClock().UnixNano())
	for {
		last := tb.lastRefillNs.Load()
		if now <= last {
			return
		}
		if !tb.lastRefillNs.CompareAndSwap(last, now) {
			continue
		}
		add := int64(float64(now-last) * tb.getRatePerNs())
		if add <= 0 {
			return
		}
		for {
			cur := tb.tokens.Load()
			next := cur + add
			if next > tb.capacity {
				next = tb.capacity
			}
			if tb.tokens.CompareAndSwap(cur, next) {
				return
			}
		}
	}
}

// TryAcquire admits n units if the bucket currently holds at least that
// many, retrying its CAS on contention until it succeeds or the bucket
// holds fewer than n units.
func (tb *TokenBucket) TryAcquire(n int64) bool {
	tb.counters.Requests.Add(1)
	tb.refill()
	need := n * Precision
	for {
		cur := tb.tokens.Load()
		if cur < need {
			tb.counters.Rejected.Add(1)
			return false
		}
		if tb.tokens.CompareAndSwap(cur, cur-need) {
			tb.counters.Allowed.Add(1)
			return true
		}
	}
}

// Acquire blocks until n units are admitted or ctx is done.
func (tb *TokenBucket) Acquire(ctx context.Context, n int64) error {
	return pollAcquire(ctx, func() bool { return tb.TryAcquire(n) }, &tb.counters)
}

// Refund returns n units to the bucket, clamped to capacity — used when a
// downstream operation that consumed tokens up front ultimately failed and
// should not count against the caller's budget.
func (tb *TokenBucket) Refund(n int64) {
	add := n * Precision
	for {
		cur := tb.tokens.Load()
		next := cur + add
		if next > tb.capacity {
			next = tb.capacity
		}
		if tb.tokens.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Available returns the current token count in whole units (rounded down).
func (tb *TokenBucket) Available() int64 {
	tb.refill()
	return tb.tokens.Load() / Precision
}

// Stats returns a snapshot of this bucket's admission counters.
func (tb *TokenBucket) Stats() Stats { return tb.counters.snapshot() }

var _ Limiter = (*TokenBucket)(nil)
