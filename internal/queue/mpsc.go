// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package queue

import (
	"runtime"
	"sync/atomic"
)

// MPSC is a bounded ring buffer for many producers and a single consumer.
// Producers race on head via CAS; only one consumer ever touches tail, so
// the consumer side stays wait-free.
type MPSC[T any] struct {
	mask uint64
	buf  []T
	slotReady []atomic.Bool // per-slot publish flag, written after buf[slot]

	_    cacheLinePad
	head atomic.Uint64
	_    cacheLinePad
	tail atomic.Uint64
	_    cacheLinePad

	counters Counters
}

// NewMPSC allocates an MPSC queue whose capacity is the next power of two
// >= capacity (minimum 1).
func NewMPSC[T any](capacity int) *MPSC[T] {
	cap := nextPow2(capacity)
	return &MPSC[T]{
		mask:      uint64(cap - 1),
		buf:       make([]T, cap),
		slotReady: make([]atomic.Bool, cap),
	}
}

// Enqueue claims a slot via CAS on head, writes the value, then publishes
// it. Returns false if the ring was observed full.
func (q *MPSC[T]) Enqueue(v T) bool {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		if head-tail >= uint64(len(q.buf)) {
			q.counters.FailedEnqueues.Add(1)
			return false
		}
		if q.head.CompareAndSwap(head, head+1) {
			slot := head & q.mask
			q.buf[slot] = v
			q.slotReady[slot].Store(true)
			q.counters.Enqueues.Add(1)
			return true
		}
		q.counters.SpinCount.Add(1)
		runtime.Gosched()
	}
}

// Dequeue pops the oldest published element. Returns false if the ring is
// empty. If the next slot has been claimed by a producer but not yet
// published, Dequeue spins until that producer publishes it.
func (q *MPSC[T]) Dequeue() (T, bool) {
	var zero T
	tail := q.tail.Load()
	head := q.head.Load()
	if tail >= head {
		q.counters.FailedDequeues.Add(1)
		return zero, false
	}
	slot := tail & q.mask
	for !q.slotReady[slot].Load() {
		q.counters.SpinCount.Add(1)
		runtime.Gosched()
	}
	v := q.buf[slot]
	q.buf[slot] = zero
	q.slotReady[slot].Store(false)
	q.tail.Store(tail + 1)
	q.counters.Dequeues.Add(1)
	return v, true
}

// Len reports the approximate number of queued elements.
func (q *MPSC[T]) Len() int { return int(q.head.Load() - q.tail.Load()) }

// Cap reports the fixed ring capacity.
func (q *MPSC[T]) Cap() int { return len(q.buf) }

// Stats returns a snapshot of this queue's operation counters.
func (q *MPSC[T]) Stats() Snapshot { return q.counters.snapshot() }
