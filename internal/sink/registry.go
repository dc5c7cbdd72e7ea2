// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package sink

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgryski/go-rendezvous"

	"ipb/pkg/datapoint"
	"ipb/pkg/ipberr"
)

// Strategy names a sink-selection algorithm applied across the candidate
// set passed to Send.
type Strategy uint8

const (
	StrategyRoundRobin Strategy = iota
	StrategyLeastLoaded
	StrategyWeighted
	StrategyRandom
	StrategyHashByAddress
	StrategyFailover
	StrategyBroadcast
	StrategyQuorum
)

var (
	ErrNoCandidates  = errors.New("sink: no enabled candidates available")
	ErrSendFailed    = errors.New("sink: send failed")
	ErrQuorumNotMet  = errors.New("sink: quorum not met")
	ErrAlreadyExists = errors.New("sink: id already registered")
	ErrNotFound      = errors.New("sink: id not registered")
)

// Registry holds every registered DataSink and dispatches Send calls to
// one or more of them per the configured Strategy.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // registration order, for ROUND_ROBIN cursor stability

	strategy  Strategy
	quorumK   int
	rrCursor  atomic.Uint64

	healthCtx    context.Context
	healthCancel context.CancelFunc
	healthWG     sync.WaitGroup
}

// NewRegistry constructs an empty Registry using the given selection
// Strategy. quorumK is only consulted when strategy is StrategyQuorum.
func NewRegistry(strategy Strategy, quorumK int) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		entries:      make(map[string]*entry),
		strategy:     strategy,
		quorumK:      quorumK,
		healthCtx:    ctx,
		healthCancel: cancel,
	}
	return r
}

// Register adds a sink under id with the given weight/priority/primary
// flag. Returns ErrAlreadyExists if id is already registered.
func (r *Registry) Register(id string, s DataSink, weight, priority int, primary bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return ErrAlreadyExists
	}
	r.entries[id] = newEntry(id, s, weight, priority, primary)
	r.order = append(r.order, id)
	return nil
}

// Unregister removes id. Returns ErrNotFound if it was never registered.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return ErrNotFound
	}
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// candidateEntries resolves targetIDs (or, if empty, every registered
// sink) to their live, enabled entries, skipping unregistered or disabled
// ids.
func (r *Registry) candidateEntries(targetIDs []string) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := targetIDs
	if len(ids) == 0 {
		ids = r.order
	}
	out := make([]*entry, 0, len(ids))
	for _, id := range ids {
		e, ok := r.entries[id]
		if !ok || !e.enabled.Load() {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Send routes dp to one or more sinks among targetIDs (or every registered
// sink if targetIDs is empty), per the registry's Strategy.
func (r *Registry) Send(ctx context.Context, targetIDs []string, dp datapoint.DataPoint) error {
	candidates := r.candidateEntries(targetIDs)
	if len(candidates) == 0 {
		return ipberr.New(ipberr.NotFound, "%v", ErrNoCandidates)
	}

	switch r.strategy {
	case StrategyBroadcast:
		return r.sendBroadcast(ctx, candidates, dp, len(candidates))
	case StrategyQuorum:
		k := r.quorumK
		if k < 1 {
			k = 1
		}
		return r.sendBroadcast(ctx, candidates, dp, k)
	case StrategyFailover:
		return r.sendFailover(ctx, candidates, dp)
	default:
		e := r.pickOne(candidates, dp)
		return r.sendOne(ctx, e, dp)
	}
}

func (r *Registry) pickOne(candidates []*entry, dp datapoint.DataPoint) *entry {
	switch r.strategy {
	case StrategyLeastLoaded:
		return leastLoaded(candidates)
	case StrategyWeighted:
		return weightedPick(candidates)
	case StrategyRandom:
		return candidates[rand.Intn(len(candidates))]
	case StrategyHashByAddress:
		return hashByAddress(candidates, dp.Address())
	default: // StrategyRoundRobin
		idx := r.rrCursor.Add(1) - 1
		return candidates[idx%uint64(len(candidates))]
	}
}

func leastLoaded(candidates []*entry) *entry {
	best := candidates[0]
	bestPending := best.sink.PendingCount()
	for _, e := range candidates[1:] {
		if p := e.sink.PendingCount(); p < bestPending {
			best, bestPending = e, p
		}
	}
	return best
}

func weightedPick(candidates []*entry) *entry {
	total := 0
	for _, e := range candidates {
		w := e.weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	r := rand.Intn(total)
	for _, e := range candidates {
		w := e.weight
		if w <= 0 {
			w = 1
		}
		if r < w {
			return e
		}
		r -= w
	}
	return candidates[len(candidates)-1]
}

func hashByAddress(candidates []*entry, addr string) *entry {
	names := make([]string, len(candidates))
	byName := make(map[string]*entry, len(candidates))
	for i, e := range candidates {
		names[i] = e.id
		byName[e.id] = e
	}
	rv := rendezvous.New(names, hashSeed)
	return byName[rv.Lookup(addr)]
}

// hashSeed adapts xxhash-free FNV hashing to rendezvous.Hasher's
// (string, seed) -> uint64 signature.
func hashSeed(s string, seed uint64) uint64 {
	h := seed
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

func (r *Registry) sendOne(ctx context.Context, e *entry, dp datapoint.DataPoint) error {
	if e == nil {
		return ipberr.New(ipberr.NotFound, "%v", ErrNoCandidates)
	}
	err := r.safeSend(ctx, e, dp)
	if err != nil {
		e.recordFailure()
		return ipberr.Wrap(ipberr.ConnectionFailed, err)
	}
	e.recordSuccess()
	e.lastUsed.Store(time.Now().UnixNano())
	return nil
}

// safeSend recovers a panicking DataSink.Send: caller-supplied plugin
// code must never unwind across the dispatch boundary.
func (r *Registry) safeSend(ctx context.Context, e *entry, dp datapoint.DataPoint) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = ipberr.FromRecover(rec)
		}
	}()
	return e.sink.Send(ctx, dp)
}

func (r *Registry) sendFailover(ctx context.Context, candidates []*entry, dp datapoint.DataPoint) error {
	ordered := append([]*entry(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].priority < ordered[j].priority })
	var lastErr error
	for _, e := range ordered {
		if e.getHealth() == HealthUnhealthy {
			continue
		}
		if err := r.sendOne(ctx, e, dp); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = ipberr.New(ipberr.ConnectionFailed, "%v", ErrSendFailed)
	}
	return lastErr
}

func (r *Registry) sendBroadcast(ctx context.Context, candidates []*entry, dp datapoint.DataPoint, requiredSuccesses int) error {
	var wg sync.WaitGroup
	successes := atomic.Int32{}
	for _, e := range candidates {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			if r.sendOne(ctx, e, dp) == nil {
				successes.Add(1)
			}
		}(e)
	}
	wg.Wait()
	if int(successes.Load()) < requiredSuccesses {
		return ipberr.New(ipberr.ConnectionFailed, "%v: got %d of %d required", ErrQuorumNotMet, successes.Load(), requiredSuccesses)
	}
	return nil
}

// IDs returns every registered sink id in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Get returns the DataSink registered under id, if any.
func (r *Registry) Get(id string) (DataSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.sink, true
}

// SetEnabled toggles whether id is eligible for selection without
// unregistering it.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	e.enabled.Store(enabled)
	return nil
}

// EntryStats returns a snapshot of every registered sink's counters.
func (r *Registry) EntryStats() []EntryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EntryStats, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].stats())
	}
	return out
}

// StartHealthChecks launches a background probe loop at the given
// interval, calling each sink's IsHealthy and updating its Health state
// the same way a successful/failed Send would.
func (r *Registry) StartHealthChecks(interval time.Duration) {
	r.healthWG.Add(1)
	go func() {
		defer r.healthWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.healthCtx.Done():
				return
			case <-ticker.C:
				r.probeAll()
			}
		}
	}()
}

func (r *Registry) probeAll() {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		e.lastHealthCheck.Store(time.Now().UnixNano())
		if !e.sink.IsRunning() {
			e.health.Store(uint32(HealthDisconnected))
			continue
		}
		if e.sink.IsHealthy() {
			e.recordSuccess()
		} else {
			e.recordFailure()
		}
	}
}

// StopHealthChecks stops the background probe loop.
func (r *Registry) StopHealthChecks() {
	r.healthCancel()
	r.healthWG.Wait()
}
