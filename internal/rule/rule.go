// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package rule implements the routing rule store and evaluator: a
// priority-ordered set of RoutingRules, each naming the sink targets a
// matching DataPoint should be delivered to.
package rule

import (
	"sync"
	"sync/atomic"
	"time"

	"ipb/internal/pattern"
	"ipb/pkg/datapoint"
	"ipb/pkg/value"
)

// Type names a routing rule's matching strategy.
type Type uint8

const (
	TypeStatic Type = iota
	TypePattern
	TypeProtocol
	TypeQuality
	TypeValue
	TypeTimestamp
	TypeComposite
	TypeCustom
)

// CompositeOp names how a COMPOSITE rule combines its children.
type CompositeOp uint8

const (
	CompositeAnd CompositeOp = iota
	CompositeOr
)

// ValuePredicate reports whether a Value satisfies a VALUE rule.
type ValuePredicate func(value.Value) bool

// TimestampPredicate reports whether a Timestamp satisfies a TIMESTAMP rule.
type TimestampPredicate func(datapoint.Timestamp) bool

// CustomPredicate is caller-supplied matching logic for a CUSTOM rule. A
// panicking CustomPredicate is recovered by the evaluator and counted as a
// match failure, never propagated.
type CustomPredicate func(datapoint.DataPoint) bool

// RoutingRule is one entry in the rule store: a matching strategy plus the
// sink target ids a matching DataPoint is routed to.
type RoutingRule struct {
	ID       uint64
	Type     Type
	Priority int
	Enabled  bool
	Targets  []string

	// STATIC: matches when the DataPoint's address is a member of
	// Addresses. StaticMatch is a convenience override for tests and
	// synthetic rules that need a fixed outcome with no address list.
	Addresses   []string
	StaticMatch bool

	// PATTERN
	Matcher pattern.Matcher

	// PROTOCOL
	ProtocolID uint32

	// QUALITY
	QualityMask uint16 // bit i set means Quality(i) matches

	// VALUE
	ValuePred ValuePredicate

	// TIMESTAMP
	TimestampPred TimestampPredicate

	// COMPOSITE
	CompositeOp       CompositeOp
	CompositeChildren []*RoutingRule

	// CUSTOM
	CustomPred CustomPredicate

	insertSeq uint64
	evalCount  atomic.Uint64
	matchCount atomic.Uint64
	totalEvalNs atomic.Int64
	panicCount atomic.Uint64
}

// EvalCounters is a snapshot of a rule's accumulated evaluation stats.
type EvalCounters struct {
	EvalCount   uint64
	MatchCount  uint64
	TotalEvalNs int64
	PanicCount  uint64
}

// Counters returns a snapshot of this rule's accumulated evaluation stats.
func (r *RoutingRule) Counters() EvalCounters {
	return EvalCounters{
		EvalCount:   r.evalCount.Load(),
		MatchCount:  r.matchCount.Load(),
		TotalEvalNs: r.totalEvalNs.Load(),
		PanicCount:  r.panicCount.Load(),
	}
}

func qualityBit(q datapoint.Quality) uint16 { return 1 << uint16(q) }

// WithQuality sets r's QualityMask to match exactly the given qualities.
func (r *RoutingRule) WithQuality(qs ...datapoint.Quality) *RoutingRule {
	var mask uint16
	for _, q := range qs {
		mask |= qualityBit(q)
	}
	r.QualityMask = mask
	return r
}

// evaluate reports whether dp matches r, recovering any panic from a
// CUSTOM predicate (or a nested composite child) as a non-match.
func (r *RoutingRule) evaluate(dp datapoint.DataPoint) (matched bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panicCount.Add(1)
			matched = false
		}
	}()
	if !r.Enabled {
		return false
	}
	switch r.Type {
	case TypeStatic:
		if len(r.Addresses) > 0 {
			for _, a := range r.Addresses {
				if a == dp.Address() {
					return true
				}
			}
			return false
		}
		return r.StaticMatch
	case TypePattern:
		if r.Matcher == nil {
			return false
		}
		return r.Matcher.Matches(dp.Address())
	case TypeProtocol:
		return dp.ProtocolID == r.ProtocolID
	case TypeQuality:
		return r.QualityMask&qualityBit(dp.Quality) != 0
	case TypeValue:
		if r.ValuePred == nil {
			return false
		}
		return r.ValuePred(dp.Value)
	case TypeTimestamp:
		if r.TimestampPred == nil {
			return false
		}
		return r.TimestampPred(dp.Timestamp)
	case TypeComposite:
		return r.evaluateComposite(dp)
	case TypeCustom:
		if r.CustomPred == nil {
			return false
		}
		return r.CustomPred(dp)
	default:
		return false
	}
}

// cacheable reports whether r's match outcome depends only on the
// DataPoint's address, so an address-keyed cache entry may stand in for a
// fresh evaluation. PROTOCOL, VALUE, TIMESTAMP, and QUALITY rules (and any
// COMPOSITE or CUSTOM rule that might consult them) must run every time.
func (r *RoutingRule) cacheable() bool {
	switch r.Type {
	case TypeStatic, TypePattern:
		return true
	case TypeComposite:
		for _, child := range r.CompositeChildren {
			if !child.cacheable() {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (r *RoutingRule) evaluateComposite(dp datapoint.DataPoint) bool {
	if len(r.CompositeChildren) == 0 {
		return false
	}
	if r.CompositeOp == CompositeOr {
		for _, child := range r.CompositeChildren {
			if child.evaluate(dp) {
				return true
			}
		}
		return false
	}
	for _, child := range r.CompositeChildren {
		if !child.evaluate(dp) {
			return false
		}
	}
	return true
}

// MatchResult is the outcome of evaluating one rule against one DataPoint.
type MatchResult struct {
	RuleID       uint64
	Matched      bool
	Targets      []string
	EvalDuration time.Duration
}

// Store holds the full set of routing rules, ordered for evaluation by
// (priority descending, id ascending) with ties broken by insertion order,
// and an optional bounded LRU+TTL cache of address -> match results.
type Store struct {
	mu       sync.RWMutex
	byID     map[uint64]*RoutingRule
	ordered  []*RoutingRule // kept sorted by (priority desc, insertSeq asc)
	nextID   atomic.Uint64
	nextSeq  atomic.Uint64

	cache *resultCache
}

// NewStore constructs an empty rule Store. If cacheCapacity > 0, an
// address-keyed LRU+TTL cache of size cacheCapacity is enabled.
func NewStore(cacheCapacity int, cacheTTL time.Duration) *Store {
	s := &Store{
		byID: make(map[uint64]*RoutingRule),
	}
	if cacheCapacity > 0 {
		s.cache = newResultCache(cacheCapacity, cacheTTL)
	}
	return s
}

// Add inserts a new rule, assigning it a fresh monotonically increasing ID,
// and invalidates the match cache.
func (s *Store) Add(r *RoutingRule) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextID.Add(1)
	r.insertSeq = s.nextSeq.Add(1)
	s.byID[r.ID] = r
	s.ordered = insertSorted(s.ordered, r)
	s.invalidateLocked()
	return r.ID
}

// Update replaces the rule stored at r.ID (r.ID must already exist) and
// invalidates the match cache. Returns false if no such rule exists.
func (s *Store) Update(r *RoutingRule) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; !ok {
		return false
	}
	r.insertSeq = s.byID[r.ID].insertSeq
	s.byID[r.ID] = r
	s.ordered = removeID(s.ordered, r.ID)
	s.ordered = insertSorted(s.ordered, r)
	s.invalidateLocked()
	return true
}

// Remove deletes the rule with the given id and invalidates the match
// cache. Returns false if no such rule exists.
func (s *Store) Remove(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	s.ordered = removeID(s.ordered, id)
	s.invalidateLocked()
	return true
}

// Clear removes every rule and invalidates the match cache.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[uint64]*RoutingRule)
	s.ordered = nil
	s.invalidateLocked()
}

func (s *Store) invalidateLocked() {
	if s.cache != nil {
		s.cache.clear()
	}
}

func insertSorted(ordered []*RoutingRule, r *RoutingRule) []*RoutingRule {
	idx := 0
	for idx < len(ordered) && less(ordered[idx], r) {
		idx++
	}
	ordered = append(ordered, nil)
	copy(ordered[idx+1:], ordered[idx:])
	ordered[idx] = r
	return ordered
}

// less reports whether a sorts strictly before b under (priority desc, id
// asc), i.e. a is evaluated first.
func less(a, b *RoutingRule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.insertSeq < b.insertSeq
}

func removeID(ordered []*RoutingRule, id uint64) []*RoutingRule {
	out := ordered[:0]
	for _, r := range ordered {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

// EvaluateAll evaluates every rule against dp in priority order and
// returns one MatchResult per rule, in that order, with Matched reporting
// whether the rule matched (disabled rules never match). Address-only rules
// (STATIC/PATTERN and COMPOSITE rules built only from those) are served
// from the address-keyed cache when present; rules that consult protocol
// id, value, timestamp, or quality always run fresh, since those fields can
// differ point to point even when the address repeats.
func (s *Store) EvaluateAll(dp datapoint.DataPoint) []MatchResult {
	s.mu.RLock()
	ordered := s.ordered
	s.mu.RUnlock()

	cached, haveCache := s.lookupCache(dp)
	if haveCache && len(cached) != len(ordered) {
		haveCache = false // rule set changed underneath a stale entry
	}

	results := make([]MatchResult, len(ordered))
	for i, r := range ordered {
		if haveCache && r.cacheable() {
			results[i] = cached[i]
			continue
		}
		results[i] = s.evaluateRule(r, dp)
	}
	s.storeCache(dp, results)
	return results
}

// EvaluateFirst evaluates rules in priority order and returns the first
// match, short-circuiting the rest.
func (s *Store) EvaluateFirst(dp datapoint.DataPoint) (MatchResult, bool) {
	s.mu.RLock()
	ordered := s.ordered
	s.mu.RUnlock()

	for _, r := range ordered {
		res := s.evaluateRule(r, dp)
		if res.Matched {
			return res, true
		}
	}
	return MatchResult{}, false
}

// EvaluatePriority evaluates only rules whose Priority >= minPriority.
func (s *Store) EvaluatePriority(dp datapoint.DataPoint, minPriority int) []MatchResult {
	s.mu.RLock()
	ordered := s.ordered
	s.mu.RUnlock()

	var results []MatchResult
	for _, r := range ordered {
		if r.Priority < minPriority {
			break // ordered by priority desc, so nothing further qualifies
		}
		results = append(results, s.evaluateRule(r, dp))
	}
	return results
}

func (s *Store) evaluateRule(r *RoutingRule, dp datapoint.DataPoint) MatchResult {
	start := time.Now()
	matched := r.evaluate(dp)
	elapsed := time.Since(start)

	r.evalCount.Add(1)
	r.totalEvalNs.Add(int64(elapsed))
	if matched {
		r.matchCount.Add(1)
	}

	var targets []string
	if matched {
		targets = r.Targets
	}
	return MatchResult{RuleID: r.ID, Matched: matched, Targets: targets, EvalDuration: elapsed}
}

// Priority returns the stored priority of rule id, or 0 if no such rule
// exists (e.g. it was removed between EvaluateAll returning a MatchResult
// and the caller consulting it).
func (s *Store) Priority(id uint64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.byID[id]; ok {
		return r.Priority
	}
	return 0
}

func (s *Store) lookupCache(dp datapoint.DataPoint) ([]MatchResult, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.get(dp.Address())
}

func (s *Store) storeCache(dp datapoint.DataPoint, results []MatchResult) {
	if s.cache == nil {
		return
	}
	s.cache.put(dp.Address(), results)
}
