// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package scheduler

import (
	"sync"
	"testing"
	"time"

	"ipb/pkg/datapoint"
)

func TestScheduler_DispatchesEveryTask(t *testing.T) {
	var mu sync.Mutex
	var seen []uint64

	s := New(2, func(task Task) error {
		mu.Lock()
		seen = append(seen, task.ID)
		mu.Unlock()
		return nil
	})
	defer s.Stop()

	now := datapoint.Now()
	for i := 0; i < 10; i++ {
		s.Schedule(Task{DataPoint: datapoint.DataPoint{}, Deadline: now + datapoint.Timestamp(i)})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 10 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 10 {
		t.Fatalf("expected 10 dispatched tasks, got %d", len(seen))
	}
}

func TestScheduler_EDFOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []int64

	ready := make(chan struct{})
	started := make(chan struct{}, 3)
	s := New(1, func(task Task) error {
		started <- struct{}{}
		<-ready
		mu.Lock()
		order = append(order, int64(task.Deadline))
		mu.Unlock()
		return nil
	})
	defer s.Stop()

	base := datapoint.Timestamp(1000)
	s.Schedule(Task{Deadline: base + 30})
	<-started // the single worker has popped the first task and is blocked in it
	s.Schedule(Task{Deadline: base + 10})
	s.Schedule(Task{Deadline: base + 20})
	for s.Len() < 2 {
		time.Sleep(time.Millisecond)
	}
	close(ready)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 tasks dispatched, got %d", len(order))
	}
	if order[1] > order[2] {
		t.Fatalf("expected earlier deadlines queued while the first task ran to dispatch first, got %v", order)
	}
}

func TestScheduler_MissedDeadlinesCounted(t *testing.T) {
	s := New(1, func(task Task) error { return nil })
	defer s.Stop()

	past := datapoint.Now() - datapoint.Timestamp(time.Second)
	s.Schedule(Task{Deadline: past})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().MissedDeadlines > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected a missed-deadline task to be counted")
}

func TestComputeDeadline_RealtimeHasZeroOffset(t *testing.T) {
	now := datapoint.Now()
	d := ComputeDeadline(now, PriorityRealtime, 50*time.Millisecond)
	if d != now {
		t.Fatalf("expected REALTIME priority to get a zero deadline offset, got %d vs enqueue %d", d, now)
	}
}

func TestScheduler_StopDrainsQueue(t *testing.T) {
	var mu sync.Mutex
	count := 0
	s := New(1, func(task Task) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	for i := 0; i < 5; i++ {
		s.Schedule(Task{Deadline: datapoint.Now()})
	}
	s.Stop()
	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Fatalf("expected Stop to drain all queued tasks, got %d handled", count)
	}
}
