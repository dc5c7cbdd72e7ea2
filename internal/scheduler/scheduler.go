// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package scheduler implements the bridge's earliest-deadline-first task
// queue and worker pool: tasks are admitted through a lock-free MPSC ring
// and a bounded Task pool, popped in (deadline, enqueue_time) order,
// dispatched to a caller-supplied handler, and their completion latency and
// any missed deadlines are tracked.
package scheduler

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"ipb/internal/pool"
	"ipb/internal/queue"
	"ipb/pkg/datapoint"
)

// Priority names a task's urgency band. REALTIME tasks get a zero deadline
// offset (due immediately on enqueue).
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityRealtime
)

// Task is one unit of scheduled work: route dp to Targets by Deadline.
type Task struct {
	ID          uint64
	DataPoint   datapoint.DataPoint
	Targets     []string
	Priority    Priority
	EnqueueTime datapoint.Timestamp
	Deadline    datapoint.Timestamp

	index int // heap.Interface bookkeeping
}

// Handler processes one dispatched Task. Errors are counted in
// Stats().HandlerErrors and never abort the worker loop.
type Handler func(Task) error

// taskHeap implements container/heap.Interface, ordered by
// (Deadline asc, EnqueueTime asc) so the earliest deadline pops first and
// equal deadlines break ties FIFO by enqueue time.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Deadline != h[j].Deadline {
		return h[i].Deadline < h[j].Deadline
	}
	return h[i].EnqueueTime < h[j].EnqueueTime
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Counters tracks scheduler-wide outcomes.
type Counters struct {
	Scheduled       atomic.Uint64
	Rejected        atomic.Uint64 // admission queue was full
	Dispatched      atomic.Uint64
	MissedDeadlines atomic.Uint64
	HandlerErrors   atomic.Uint64
	TotalLatencyNs  atomic.Int64
}

// Stats is a point-in-time snapshot of Counters.
type Stats struct {
	Scheduled       uint64
	Rejected        uint64
	Dispatched      uint64
	MissedDeadlines uint64
	HandlerErrors   uint64
	TotalLatencyNs  int64
}

func (c *Counters) snapshot() Stats {
	return Stats{
		Scheduled:       c.Scheduled.Load(),
		Rejected:        c.Rejected.Load(),
		Dispatched:      c.Dispatched.Load(),
		MissedDeadlines: c.MissedDeadlines.Load(),
		HandlerErrors:   c.HandlerErrors.Load(),
		TotalLatencyNs:  c.TotalLatencyNs.Load(),
	}
}

// DefaultDeadlineOffset is added to EnqueueTime to compute Deadline for any
// task below PriorityRealtime; REALTIME tasks get a zero offset (due
// immediately).
const DefaultDeadlineOffset = 50 * time.Millisecond

// defaultAdmitQueueCapacity sizes the MPSC admission ring used by New; call
// NewWithCapacity directly to size it from a caller's queue-depth limit.
const defaultAdmitQueueCapacity = 4096

// ComputeDeadline derives a task's deadline from its enqueue time and
// priority: enqueue_time + default_deadline_offset, with a zero offset
// for priority >= REALTIME.
func ComputeDeadline(enqueue datapoint.Timestamp, priority Priority, offset time.Duration) datapoint.Timestamp {
	if priority >= PriorityRealtime {
		return enqueue
	}
	return enqueue + datapoint.Timestamp(offset.Nanoseconds())
}

// Scheduler is an EDF task queue backed by a fixed pool of worker
// goroutines. Producers never touch the EDF heap directly: Schedule hands
// a pool-allocated *Task to a lock-free MPSC ring, and a single admitter
// goroutine is the only thing that moves tasks from that ring into the
// mutex-guarded heap workers pop from.
type Scheduler struct {
	handler Handler

	admitQueue  *queue.MPSC[*Task]
	taskPool    *pool.Pool[Task]
	admitSignal chan struct{}
	admitStop   chan struct{}
	admitWG     sync.WaitGroup

	mu     sync.Mutex
	cond   *sync.Cond
	heap   taskHeap
	nextID atomic.Uint64

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	counters Counters
}

// New constructs a Scheduler with the given worker-pool size and Handler,
// using a default-sized admission queue.
func New(workers int, handler Handler) *Scheduler {
	return NewWithCapacity(workers, defaultAdmitQueueCapacity, handler)
}

// NewWithCapacity constructs a Scheduler whose admission ring and Task pool
// are sized to capacity (rounded up to a power of two by the queue).
func NewWithCapacity(workers, capacity int, handler Handler) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = defaultAdmitQueueCapacity
	}
	s := &Scheduler{
		handler:     handler,
		admitQueue:  queue.NewMPSC[*Task](capacity),
		taskPool:    pool.New(capacity, func() Task { return Task{} }, func(t *Task) { *t = Task{} }),
		admitSignal: make(chan struct{}, 1),
		admitStop:   make(chan struct{}),
		stopCh:      make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	s.admitWG.Add(1)
	go s.runAdmitter()
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.runWorker()
	}
	return s
}

// Schedule allocates a pooled Task, copies t into it (assigning a fresh
// monotonic ID if zero), and pushes it onto the admission ring. Returns the
// assigned ID and true, or (0, false) if the ring is full — the caller
// should treat that as a buffer-overflow rejection, not retry inline.
func (s *Scheduler) Schedule(t Task) (uint64, bool) {
	if t.ID == 0 {
		t.ID = s.nextID.Add(1)
	}
	taskPtr := s.taskPool.Allocate()
	*taskPtr = t
	if !s.admitQueue.Enqueue(taskPtr) {
		s.taskPool.Deallocate(taskPtr)
		s.counters.Rejected.Add(1)
		return 0, false
	}
	s.counters.Scheduled.Add(1)
	select {
	case s.admitSignal <- struct{}{}:
	default:
	}
	return taskPtr.ID, true
}

// runAdmitter is the sole writer of the EDF heap: it drains every task the
// MPSC ring has published into the heap under mu, then sleeps until the
// next Schedule signal or shutdown.
func (s *Scheduler) runAdmitter() {
	defer s.admitWG.Done()
	drain := func() {
		for {
			t, ok := s.admitQueue.Dequeue()
			if !ok {
				return
			}
			s.mu.Lock()
			heap.Push(&s.heap, t)
			s.mu.Unlock()
			s.cond.Signal()
		}
	}
	for {
		drain()
		select {
		case <-s.admitStop:
			drain() // catch anything enqueued between the last drain and the stop signal
			return
		case <-s.admitSignal:
		}
	}
}

// popNext blocks until a task is available or the scheduler is stopping,
// returning (task, true) or (nil, false) on shutdown with an empty heap.
func (s *Scheduler) popNext() (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.heap) == 0 {
		select {
		case <-s.stopCh:
			return nil, false
		default:
		}
		s.cond.Wait()
		select {
		case <-s.stopCh:
			if len(s.heap) == 0 {
				return nil, false
			}
		default:
		}
	}
	t := heap.Pop(&s.heap).(*Task)
	return t, true
}

func (s *Scheduler) runWorker() {
	defer s.wg.Done()
	for {
		t, ok := s.popNext()
		if !ok {
			return
		}
		now := datapoint.Now()
		if now > t.Deadline {
			s.counters.MissedDeadlines.Add(1)
		}
		dispatchStart := time.Now()
		if err := s.handler(*t); err != nil {
			s.counters.HandlerErrors.Add(1)
		}
		s.counters.Dispatched.Add(1)
		s.counters.TotalLatencyNs.Add(int64(time.Since(dispatchStart)))
		s.taskPool.Deallocate(t)
	}
}

// Len reports the number of tasks currently sitting in the EDF heap. Tasks
// still in flight through the admission ring are not counted.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

// Stop signals the admitter to drain the admission ring into the heap one
// last time, then signals every worker to drain the heap and exit, and
// blocks until all of it has happened. Idempotent.
func (s *Scheduler) Stop() {
	s.closeOnce.Do(func() {
		close(s.admitStop)
		s.admitWG.Wait()
		close(s.stopCh)
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
		s.wg.Wait()
	})
}

// Stats returns a snapshot of scheduler-wide counters.
func (s *Scheduler) Stats() Stats { return s.counters.snapshot() }

// QueueStats returns a snapshot of the admission ring's operation counters.
func (s *Scheduler) QueueStats() queue.Snapshot { return s.admitQueue.Stats() }

// PoolStats returns a snapshot of the Task pool's allocation counters.
func (s *Scheduler) PoolStats() pool.Snapshot { return s.taskPool.Stats() }
