// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package ratelimit implements the bridge's admission control: a
// fixed-point token bucket, a sliding-window counter, an adaptive limiter
// that retunes its rate off observed load, and a hierarchical limiter
// composing a global gate with per-source sub-gates.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"
)

// Precision is the fixed-point scale factor every rate and bucket value is
// expressed in.
const Precision = 1_000_000

// Counters tracks admission outcomes uniformly across every limiter kind.
type Counters struct {
	Requests    atomic.Uint64
	Allowed     atomic.Uint64
	Rejected    atomic.Uint64
	ThrottledNs atomic.Int64
}

// Stats is a point-in-time copy of Counters.
type Stats struct {
	Requests    uint64
	Allowed     uint64
	Rejected    uint64
	ThrottledNs int64
}

func (c *Counters) snapshot() Stats {
	return Stats{
		Requests:    c.Requests.Load(),
		Allowed:     c.Allowed.Load(),
		Rejected:    c.Rejected.Load(),
		ThrottledNs: c.ThrottledNs.Load(),
	}
}

// Limiter is the common contract every rate-limiting strategy satisfies.
type Limiter interface {
	// TryAcquire admits n units immediately, or rejects without waiting.
	TryAcquire(n int64) bool
	// Acquire blocks (subject to ctx) until n units are admitted, or
	// returns ctx.Err() if the context is done first.
	Acquire(ctx context.Context, n int64) error
	Stats() Stats
}

// clockFunc is substitutable in tests; production code uses time.Now.
type clockFunc func() time.Time

var systemClock clockFunc = time.Now

// pollAcquire is the shared blocking-retry loop used by every Limiter
// implementation's Acquire: try immediately, and if rejected, back off on a
// short timer until ctx is done.
func pollAcquire(ctx context.Context, try func() bool, counters *Counters) error {
	if try() {
		return nil
	}
	start := systemClock()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			counters.ThrottledNs.Add(int64(systemClock().Sub(start)))
			return ctx.Err()
		case <-ticker.C:
			if try() {
				counters.ThrottledNs.Add(int64(systemClock().Sub(start)))
				return nil
			}
		}
	}
}
