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

// windowSlots is the number of one-second buckets a SlidingWindow tracks.
const windowSlots = 60

// slot is a single one-second counter: the epoch it currently represents
// and how many units were admitted in that second.
type slot struct {
	epoch int64 // unix seconds this slot currently represents
	count int64
}

// SlidingWindow admits n more units only if the sum of every slot within
// the trailing windowSlots seconds is still under rate before n is added
// (so the admitted total can exceed rate by up to n-1). A single mutex
// guards the read-sum-then-write so the admission decision sees a
// consistent view of the window.
type SlidingWindow struct {
	mu       sync.Mutex
	slots    [windowSlots]slot
	rate     int64
	counters Counters
}

// NewSlidingWindow constructs a limiter admitting up to rate units summed
// across the trailing 60 one-second slots.
func NewSlidingWindow(rate int64) *SlidingWindow {
	return &SlidingWindow{rate: rate}
}

// TryAcquire admits n units if the window's rolling sum, not counting n,
// is under the configured rate.
func (w *SlidingWindow) TryAcquire(n int64) bool {
	w.counters.Requests.Add(1)
	now := systemClock().Unix()

	w.mu.Lock()
	defer w.mu.Unlock()

	var sum int64
	for i := range w.slots {
		s := &w.slots[i]
		if now-s.epoch >= windowSlots {
			s.epoch = 0
			s.count = 0
			continue
		}
		sum += s.count
	}
	if sum >= w.rate {
		w.counters.Rejected.Add(1)
		return false
	}
	cur := &w.slots[now%windowSlots]
	if cur.epoch != now {
		cur.epoch = now
		cur.count = 0
	}
	cur.count += n
	w.counters.Allowed.Add(1)
	return true
}

// Acquire blocks until n units are admitted or ctx is done.
func (w *SlidingWindow) Acquire(ctx context.Context, n int64) error {
	return pollAcquire(ctx, func() bool { return w.TryAcquire(n) }, &w.counters)
}

// Stats returns a snapshot of this limiter's admission counters.
func (w *SlidingWindow) Stats() Stats { return w.counters.snapshot() }

var _ Limiter = (*SlidingWindow)(nil)
