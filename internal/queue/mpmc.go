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

// mpmcCell is one ring slot, Vyukov-style: sequence tracks which "lap"
// around the ring the slot currently holds data for, letting producers and
// consumers tell a free slot from a full one without a separate flag.
type mpmcCell[T any] struct {
	sequence atomic.Uint64
	data     T
	_        cacheLinePad
}

// MPMC is a bounded ring buffer safe for any number of concurrent
// producers and consumers. Both enqueue and dequeue race via CAS against
// their own cursor and validate against the target cell's sequence number,
// the classic Vyukov bounded MPMC queue design.
type MPMC[T any] struct {
	mask  uint64
	cells []mpmcCell[T]

	_          cacheLinePad
	enqueuePos atomic.Uint64
	_          cacheLinePad
	dequeuePos atomic.Uint64
	_          cacheLinePad

	counters Counters
}

// NewMPMC allocates an MPMC queue whose capacity is the next power of two
// >= capacity (minimum 2, since both cursors must round-trip in the same
// ring without colliding on sequence numbers).
func NewMPMC[T any](capacity int) *MPMC[T] {
	cap := nextPow2(capacity)
	if cap < 2 {
		cap = 2
	}
	m := &MPMC[T]{
		mask:  uint64(cap - 1),
		cells: make([]mpmcCell[T], cap),
	}
	for i := range m.cells {
		m.cells[i].sequence.Store(uint64(i))
	}
	return m
}

// Enqueue pushes v. Returns false if the ring is full.
func (q *MPMC[T]) Enqueue(v T) bool {
	pos := q.enqueuePos.Load()
	for {
		cell := &q.cells[pos&q.mask]
		seq := cell.sequence.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if q.enqueuePos.CompareAndSwap(pos, pos+1) {
				cell.data = v
				cell.sequence.Store(pos + 1)
				q.counters.Enqueues.Add(1)
				return true
			}
			q.counters.SpinCount.Add(1)
			runtime.Gosched()
			pos = q.enqueuePos.Load()
		case diff < 0:
			q.counters.FailedEnqueues.Add(1)
			return false
		default:
			pos = q.enqueuePos.Load()
		}
	}
}

// Dequeue pops the oldest element. Returns false if the ring is empty.
func (q *MPMC[T]) Dequeue() (T, bool) {
	var zero T
	pos := q.dequeuePos.Load()
	for {
		cell := &q.cells[pos&q.mask]
		seq := cell.sequence.Load()
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if q.dequeuePos.CompareAndSwap(pos, pos+1) {
				v := cell.data
				cell.data = zero
				cell.sequence.Store(pos + uint64(len(q.cells)))
				q.counters.Dequeues.Add(1)
				return v, true
			}
			q.counters.SpinCount.Add(1)
			runtime.Gosched()
			pos = q.dequeuePos.Load()
		case diff < 0:
			q.counters.FailedDequeues.Add(1)
			return zero, false
		default:
			pos = q.dequeuePos.Load()
		}
	}
}

// Cap reports the fixed ring capacity.
func (q *MPMC[T]) Cap() int { return len(q.cells) }

// Stats returns a snapshot of this queue's operation counters.
func (q *MPMC[T]) Stats() Snapshot { return q.counters.snapshot() }
