// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package queue

import (
	"sync"
	"testing"
)

func TestSPSC_FIFO(t *testing.T) {
	q := NewSPSC[int](4)
	if q.Cap() != 4 {
		t.Fatalf("expected capacity 4, got %d", q.Cap())
	}
	for i := 0; i < 4; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("enqueue %d should have succeeded", i)
		}
	}
	if q.Enqueue(99) {
		t.Fatalf("enqueue into a full ring should fail")
	}
	for i := 0; i < 4; i++ {
		v, ok := q.Dequeue()
		if !ok || v != i {
			t.Fatalf("expected (%d, true), got (%d, %v)", i, v, ok)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatalf("dequeue from an empty ring should fail")
	}
	stats := q.Stats()
	if stats.Enqueues != 4 || stats.Dequeues != 4 || stats.FailedEnqueues != 1 || stats.FailedDequeues != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
}

func TestSPSC_PowerOfTwoRounding(t *testing.T) {
	q := NewSPSC[int](5)
	if q.Cap() != 8 {
		t.Fatalf("expected capacity rounded up to 8, got %d", q.Cap())
	}
}

func TestSPSC_ProducerConsumerGoroutines(t *testing.T) {
	const n = 20000
	q := NewSPSC[int](256)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !q.Enqueue(i) {
			}
		}
	}()

	sum := 0
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for {
				v, ok := q.Dequeue()
				if ok {
					sum += v
					break
				}
			}
		}
	}()

	wg.Wait()
	want := n * (n - 1) / 2
	if sum != want {
		t.Fatalf("expected sum %d, got %d", want, sum)
	}
}

func TestMPSC_ManyProducersOneConsumer(t *testing.T) {
	const producers = 8
	const perProducer = 2000
	q := NewMPSC[int](1024)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.Enqueue(1) {
				}
			}
		}()
	}

	total := 0
	done := make(chan struct{})
	go func() {
		for total < producers*perProducer {
			if v, ok := q.Dequeue(); ok {
				total += v
			}
		}
		close(done)
	}()

	wg.Wait()
	<-done
	if total != producers*perProducer {
		t.Fatalf("expected %d, got %d", producers*perProducer, total)
	}
}

func TestMPMC_ManyProducersManyConsumers(t *testing.T) {
	const producers = 4
	const consumers = 4
	const perProducer = 5000
	q := NewMPMC[int](1024)

	var pwg sync.WaitGroup
	pwg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer pwg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.Enqueue(1) {
				}
			}
		}()
	}

	var total atomicCounter
	var cwg sync.WaitGroup
	cwg.Add(consumers)
	stop := make(chan struct{})
	for c := 0; c < consumers; c++ {
		go func() {
			defer cwg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if v, ok := q.Dequeue(); ok {
					total.add(v)
				}
			}
		}()
	}

	pwg.Wait()
	for total.get() < producers*perProducer {
	}
	close(stop)
	cwg.Wait()

	if got := total.get(); got != producers*perProducer {
		t.Fatalf("expected %d, got %d", producers*perProducer, got)
	}
}

// atomicCounter is a tiny test-local helper to avoid importing sync/atomic
// twice under two different aliases in the same file.
type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounter) add(v int) {
	c.mu.Lock()
	c.n += v
	c.mu.Unlock()
}

func (c *atomicCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestMPMC_MinimumCapacityFloor(t *testing.T) {
	q := NewMPMC[int](1)
	if q.Cap() != 2 {
		t.Fatalf("expected minimum capacity 2, got %d", q.Cap())
	}
}
