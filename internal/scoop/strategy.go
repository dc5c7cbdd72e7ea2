// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package scoop

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"ipb/pkg/datapoint"
)

// Strategy names how ReadFrom acquires data across several candidate
// sources.
type Strategy uint8

const (
	StrategyPrimaryOnly Strategy = iota
	StrategyFailover
	StrategyRoundRobin
	StrategyBroadcastMerge
	StrategyFastestResponse
	StrategyQuorum
)

var (
	ErrAlreadyExists = errors.New("scoop: id already registered")
	ErrNotFound      = errors.New("scoop: id not registered")
	ErrNoCandidates  = errors.New("scoop: no candidates available")
)

// ReadFrom starts (if not already running) every candidate source named by
// ids (or every registered source if ids is empty) according to strategy,
// fanning their output into a single Callback. It returns a cancel func
// that stops every source it started.
func (r *Registry) ReadFrom(ctx context.Context, ids []string, strategy Strategy, quorumK int, cb Callback) (func(), error) {
	candidates := r.snapshot(ids)
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	switch strategy {
	case StrategyPrimaryOnly:
		ordered := sortedByPriority(candidates)
		return r.startAndForward(ctx, ordered[:1], cb)
	case StrategyFailover:
		return r.startFailover(ctx, sortedByPriority(candidates), cb)
	case StrategyRoundRobin:
		return r.startRoundRobin(ctx, sortedByPriority(candidates), cb)
	case StrategyFastestResponse:
		return r.startFastestResponse(ctx, candidates, cb)
	case StrategyQuorum:
		return r.startQuorum(ctx, candidates, quorumK, cb)
	case StrategyBroadcastMerge:
		return r.startAndForward(ctx, candidates, cb)
	default:
		return r.startAndForward(ctx, candidates, cb)
	}
}

func sortedByPriority(candidates []*entry) []*entry {
	out := append([]*entry(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].priority < out[j].priority })
	return out
}

func (r *Registry) startAndForward(ctx context.Context, entries []*entry, cb Callback) (func(), error) {
	started := make([]*entry, 0, len(entries))
	for _, e := range entries {
		e.source.SetCallback(func(dp datapoint.DataPoint) {
			e.recordSuccess()
			cb(dp)
		})
		if !e.source.IsRunning() {
			if err := e.source.Start(ctx); err != nil {
				e.recordFailure()
				continue
			}
		}
		started = append(started, e)
	}
	if len(started) == 0 {
		return nil, ErrNoCandidates
	}
	cancel := func() {
		stopCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		for _, e := range started {
			_ = e.source.Stop(stopCtx)
		}
	}
	return cancel, nil
}

// startFailover starts only the lowest-priority (most preferred) healthy
// candidate; callers wishing automatic promotion on failure should poll
// getHealth and call ReadFrom again.
func (r *Registry) startFailover(ctx context.Context, ordered []*entry, cb Callback) (func(), error) {
	for _, e := range ordered {
		if e.getHealth() == HealthUnhealthy {
			continue
		}
		return r.startAndForward(ctx, []*entry{e}, cb)
	}
	return r.startAndForward(ctx, ordered[:1], cb)
}

// roundRobinRotateInterval is how long startRoundRobin leaves a candidate
// active before rotating to the next; a package var so tests can shorten it.
var roundRobinRotateInterval = 2 * time.Second

// startRoundRobin starts the first (highest-priority) candidate
// synchronously and rotates to the next candidate every
// roundRobinRotateInterval, stopping the previously active one each time.
func (r *Registry) startRoundRobin(ctx context.Context, ordered []*entry, cb Callback) (func(), error) {
	rrCtx, rrCancel := context.WithCancel(ctx)

	var mu sync.Mutex
	idx := 0
	activeCancel, err := r.startAndForward(rrCtx, []*entry{ordered[idx]}, cb)
	if err != nil {
		rrCancel()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-rrCtx.Done():
				return
			case <-time.After(roundRobinRotateInterval):
			}
			mu.Lock()
			activeCancel()
			idx = (idx + 1) % len(ordered)
			if next, err := r.startAndForward(rrCtx, []*entry{ordered[idx]}, cb); err == nil {
				activeCancel = next
			}
			mu.Unlock()
		}
	}()

	cancel := func() {
		rrCancel()
		<-done
		mu.Lock()
		activeCancel()
		mu.Unlock()
	}
	return cancel, nil
}

// startFastestResponse starts every candidate and forwards only the first
// one to respond for as long as the read stays open; losing candidates are
// stopped once a winner is settled.
func (r *Registry) startFastestResponse(ctx context.Context, candidates []*entry, cb Callback) (func(), error) {
	started := make([]*entry, 0, len(candidates))
	var mu sync.Mutex
	var winnerID string
	var settleOnce sync.Once

	settle := func(winner *entry) {
		settleOnce.Do(func() {
			stopCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			for _, e := range started {
				if e.id == winner.id {
					continue
				}
				_ = e.source.Stop(stopCtx)
			}
		})
	}

	for _, e := range candidates {
		e := e
		e.source.SetCallback(func(dp datapoint.DataPoint) {
			mu.Lock()
			if winnerID == "" {
				winnerID = e.id
			}
			isWinner := winnerID == e.id
			mu.Unlock()
			if !isWinner {
				return
			}
			e.recordSuccess()
			cb(dp)
			go settle(e)
		})
		if !e.source.IsRunning() {
			if err := e.source.Start(ctx); err != nil {
				e.recordFailure()
				continue
			}
		}
		started = append(started, e)
	}
	if len(started) == 0 {
		return nil, ErrNoCandidates
	}
	cancel := func() {
		stopCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		for _, e := range started {
			_ = e.source.Stop(stopCtx)
		}
	}
	return cancel, nil
}

// quorumWindow bounds how long startQuorum waits for k distinct sources to
// report the same address before discarding the partial reading.
const quorumWindow = 200 * time.Millisecond

// quorumPending tracks the distinct sources that have reported a given
// address within the current coalescing window.
type quorumPending struct {
	sources map[string]struct{}
	last    datapoint.DataPoint
	timer   *time.Timer
}

// startQuorum starts every candidate and forwards a reading only once k
// distinct sources have reported the same address inside quorumWindow; a
// window that times out short of k is dropped. k<=0 requires every
// candidate to agree.
func (r *Registry) startQuorum(ctx context.Context, candidates []*entry, k int, cb Callback) (func(), error) {
	if k <= 0 {
		k = len(candidates)
	}

	var mu sync.Mutex
	pending := make(map[string]*quorumPending)
	started := make([]*entry, 0, len(candidates))

	for _, e := range candidates {
		e := e
		e.source.SetCallback(func(dp datapoint.DataPoint) {
			e.recordSuccess()
			key := dp.Address()

			mu.Lock()
			p, ok := pending[key]
			if !ok {
				p = &quorumPending{sources: make(map[string]struct{})}
				pending[key] = p
				p.timer = time.AfterFunc(quorumWindow, func() {
					mu.Lock()
					delete(pending, key)
					mu.Unlock()
				})
			}
			p.sources[e.id] = struct{}{}
			p.last = dp
			reached := len(p.sources) >= k
			if reached {
				p.timer.Stop()
				delete(pending, key)
			}
			mu.Unlock()

			if reached {
				cb(p.last)
			}
		})
		if !e.source.IsRunning() {
			if err := e.source.Start(ctx); err != nil {
				e.recordFailure()
				continue
			}
		}
		started = append(started, e)
	}
	if len(started) == 0 {
		return nil, ErrNoCandidates
	}
	cancel := func() {
		stopCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		for _, e := range started {
			_ = e.source.Stop(stopCtx)
		}
	}
	return cancel, nil
}

// AggregatedSubscription fans in the output of many DataSources into a
// single (DataPoint, sourceID) stream carried on one buffered channel, each
// point tagged with the id of the scoop that produced it.
type AggregatedSubscription struct {
	mu      sync.Mutex
	cancels []func()
	ch      chan sourcedPoint
	done    chan struct{}
}

type sourcedPoint struct {
	dp       datapoint.DataPoint
	sourceID string
}

// NewAggregatedSubscription subscribes to every source named by ids (or
// all registered sources if ids is empty), forwarding each DataPoint
// tagged with its originating source id; Next reads them from the returned
// subscription.
func (r *Registry) NewAggregatedSubscription(ctx context.Context, ids []string, buffer int) (*AggregatedSubscription, error) {
	candidates := r.snapshot(ids)
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	sub := &AggregatedSubscription{
		ch:   make(chan sourcedPoint, buffer),
		done: make(chan struct{}),
	}
	for _, e := range candidates {
		id := e.id
		e.source.SetCallback(func(dp datapoint.DataPoint) {
			e.recordSuccess()
			select {
			case sub.ch <- sourcedPoint{dp: dp, sourceID: id}:
			case <-sub.done:
			}
		})
		if !e.source.IsRunning() {
			if err := e.source.Start(ctx); err != nil {
				e.recordFailure()
				continue
			}
		}
		e := e
		sub.cancels = append(sub.cancels, func() {
			stopCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = e.source.Stop(stopCtx)
		})
	}
	return sub, nil
}

// Next blocks until the next (DataPoint, sourceID) arrives or ctx is done.
func (s *AggregatedSubscription) Next(ctx context.Context) (datapoint.DataPoint, string, bool) {
	select {
	case sp, ok := <-s.ch:
		if !ok {
			return datapoint.DataPoint{}, "", false
		}
		return sp.dp, sp.sourceID, true
	case <-ctx.Done():
		return datapoint.DataPoint{}, "", false
	}
}

// Close cancels every underlying source subscription.
func (s *AggregatedSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}
	for _, cancel := range s.cancels {
		cancel()
	}
}
