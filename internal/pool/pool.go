// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package pool implements a fixed-capacity free list of reusable objects,
// sized in whole 256-slot chunks, so a DataPoint or Task allocation is
// served from a recycled object whenever the free list has one.
package pool

import "sync/atomic"

// chunkSize is the granularity a Pool's capacity is rounded up to; the
// capacity is fixed at construction and never grows.
const chunkSize = 256

// Counters tracks allocation outcomes for observability.
type Counters struct {
	Hits      atomic.Uint64 // served from a free slot
	Misses    atomic.Uint64 // pool was empty, a new object was constructed
	Evictions atomic.Uint64 // Deallocate called against a full free list
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Capacity  int
	Free      int
}

// Pool is a fixed-capacity, mutex-free-list hybrid: Allocate first tries a
// lock-free pop off the free list; on an empty list it constructs a new
// object via the supplied factory. Deallocate returns an object to the free
// list, or drops it if the list is already at capacity.
type Pool[T any] struct {
	factory  func() T
	reset    func(*T)
	capacity int

	free chan *T
	counters Counters
}

// New builds a Pool with the given capacity (rounded up to a multiple of
// chunkSize), a constructor for fresh objects, and an optional reset hook
// invoked before an object re-enters the free list (may be nil).
func New[T any](capacity int, factory func() T, reset func(*T)) *Pool[T] {
	if capacity <= 0 {
		capacity = chunkSize
	}
	rounded := ((capacity + chunkSize - 1) / chunkSize) * chunkSize
	return &Pool[T]{
		factory:  factory,
		reset:    reset,
		capacity: rounded,
		free:     make(chan *T, rounded),
	}
}

// Allocate returns a pointer to a reusable or freshly constructed T. Never
// blocks and never returns nil.
func (p *Pool[T]) Allocate() *T {
	select {
	case v := <-p.free:
		p.counters.Hits.Add(1)
		return v
	default:
		p.counters.Misses.Add(1)
		v := p.factory()
		return &v
	}
}

// Deallocate returns v to the free list for reuse. If the free list is at
// capacity, v is dropped (left for GC) and an eviction is counted.
func (p *Pool[T]) Deallocate(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	select {
	case p.free <- v:
	default:
		p.counters.Evictions.Add(1)
	}
}

// Stats returns a snapshot of allocation counters and current free-list
// depth.
func (p *Pool[T]) Stats() Snapshot {
	return Snapshot{
		Hits:      p.counters.Hits.Load(),
		Misses:    p.counters.Misses.Load(),
		Evictions: p.counters.Evictions.Load(),
		Capacity:  p.capacity,
		Free:      len(p.free),
	}
}

// Capacity reports the fixed free-list capacity.
func (p *Pool[T]) Capacity() int { return p.capacity }
