// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue implements bounded, power-of-two-capacity lock-free ring
// buffers: single-producer/single-consumer, multi-producer/single-consumer,
// and multi-producer/multi-consumer variants, all cache-line padded to
// avoid false sharing between the producer and consumer cursors.
package queue

import "sync/atomic"

// cacheLinePad is sized to push the next field onto its own cache line on
// common 64-byte-line architectures.
type cacheLinePad [64]byte

// nextPow2 rounds n up to the next power of two, with a floor of 1.
func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Counters tracks the per-queue operation counts: how many
// enqueues/dequeues succeeded, how many of each failed (queue full/empty),
// and how many times a caller spun retrying a CAS.
type Counters struct {
	Enqueues       atomic.Uint64
	Dequeues       atomic.Uint64
	FailedEnqueues atomic.Uint64
	FailedDequeues atomic.Uint64
	SpinCount      atomic.Uint64
}

// Snapshot is a point-in-time copy of Counters safe to pass by value.
type Snapshot struct {
	Enqueues       uint64
	Dequeues       uint64
	FailedEnqueues uint64
	FailedDequeues uint64
	SpinCount      uint64
}

func (c *Counters) snapshot() Snapshot {
	return Snapshot{
		Enqueues:       c.Enqueues.Load(),
		Dequeues:       c.Dequeues.Load(),
		FailedEnqueues: c.FailedEnqueues.Load(),
		FailedDequeues: c.FailedDequeues.Load(),
		SpinCount:      c.SpinCount.Load(),
	}
}
