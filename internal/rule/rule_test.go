// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package rule

import (
	"testing"
	"time"

	"ipb/internal/pattern"
	"ipb/pkg/datapoint"
	"ipb/pkg/value"
)

func dp(addr string) datapoint.DataPoint {
	return datapoint.New(addr, value.NewI64(1), datapoint.Now(), 1, datapoint.QualityGood, 1)
}

func TestStore_PriorityOrdering(t *testing.T) {
	s := NewStore(0, 0)
	var seen []uint64

	low := &RoutingRule{Type: TypeStatic, StaticMatch: true, Priority: 1, Enabled: true, Targets: []string{"low"}}
	high := &RoutingRule{Type: TypeStatic, StaticMatch: true, Priority: 10, Enabled: true, Targets: []string{"high"}}
	s.Add(low)
	s.Add(high)

	res := s.EvaluateAll(dp("x"))
	for _, r := range res {
		seen = append(seen, r.RuleID)
	}
	if seen[0] != high.ID || seen[1] != low.ID {
		t.Fatalf("expected high-priority rule first, got order %v", seen)
	}
}

func TestStore_TieBreakByInsertionOrder(t *testing.T) {
	s := NewStore(0, 0)
	first := &RoutingRule{Type: TypeStatic, StaticMatch: true, Priority: 5, Enabled: true}
	second := &RoutingRule{Type: TypeStatic, StaticMatch: true, Priority: 5, Enabled: true}
	s.Add(first)
	s.Add(second)

	res := s.EvaluateAll(dp("x"))
	if res[0].RuleID != first.ID || res[1].RuleID != second.ID {
		t.Fatalf("expected insertion order to break priority ties")
	}
}

func TestStore_EvaluateFirstShortCircuits(t *testing.T) {
	s := NewStore(0, 0)
	miss := &RoutingRule{Type: TypeStatic, StaticMatch: false, Priority: 10, Enabled: true}
	hit := &RoutingRule{Type: TypeStatic, StaticMatch: true, Priority: 5, Enabled: true, Targets: []string{"sink-a"}}
	s.Add(miss)
	s.Add(hit)

	res, ok := s.EvaluateFirst(dp("x"))
	if !ok || res.RuleID != hit.ID {
		t.Fatalf("expected to find the matching lower-priority rule, got %+v ok=%v", res, ok)
	}
}

func TestStore_EvaluatePriorityFiltersBelowThreshold(t *testing.T) {
	s := NewStore(0, 0)
	s.Add(&RoutingRule{Type: TypeStatic, StaticMatch: true, Priority: 1, Enabled: true})
	s.Add(&RoutingRule{Type: TypeStatic, StaticMatch: true, Priority: 10, Enabled: true})

	res := s.EvaluatePriority(dp("x"), 5)
	if len(res) != 1 {
		t.Fatalf("expected only the priority-10 rule to qualify, got %d results", len(res))
	}
}

func TestCustomPredicatePanicBecomesNoMatch(t *testing.T) {
	s := NewStore(0, 0)
	r := &RoutingRule{
		Type:    TypeCustom,
		Enabled: true,
		CustomPred: func(datapoint.DataPoint) bool {
			panic("boom")
		},
	}
	s.Add(r)

	res := s.EvaluateAll(dp("x"))
	if res[0].Matched {
		t.Fatalf("expected panicking predicate to be treated as a non-match")
	}
	if r.Counters().PanicCount != 1 {
		t.Fatalf("expected panic to be counted, got %+v", r.Counters())
	}
}

func TestPatternRule(t *testing.T) {
	s := NewStore(0, 0)
	m := pattern.NewPrefix("sensor.")
	s.Add(&RoutingRule{Type: TypePattern, Matcher: m, Enabled: true, Targets: []string{"sink-a"}})

	res := s.EvaluateAll(dp("sensor.temp.1"))
	if !res[0].Matched {
		t.Fatalf("expected prefix pattern rule to match")
	}
	res = s.EvaluateAll(dp("other.temp.1"))
	if res[0].Matched {
		t.Fatalf("expected prefix pattern rule not to match unrelated address")
	}
}

func TestCompositeRule_AndOr(t *testing.T) {
	qualityOK := &RoutingRule{Type: TypeQuality, Enabled: true}
	qualityOK.WithQuality(datapoint.QualityGood)
	protoOK := &RoutingRule{Type: TypeProtocol, ProtocolID: 1, Enabled: true}

	and := &RoutingRule{Type: TypeComposite, Enabled: true, CompositeOp: CompositeAnd,
		CompositeChildren: []*RoutingRule{qualityOK, protoOK}, Targets: []string{"both"}}

	s := NewStore(0, 0)
	s.Add(and)

	res := s.EvaluateAll(dp("x"))
	if !res[0].Matched {
		t.Fatalf("expected AND composite to match when both children match")
	}
}

func TestResultCache_TTLExpiry(t *testing.T) {
	s := NewStore(10, 20*time.Millisecond)
	s.Add(&RoutingRule{Type: TypeStatic, StaticMatch: true, Priority: 1, Enabled: true, Targets: []string{"a"}})

	first := s.EvaluateAll(dp("addr-1"))
	if len(first) != 1 {
		t.Fatalf("expected one match result")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := s.cache.get("addr-1"); ok {
		t.Fatalf("expected the cached entry to expire after its TTL")
	}
	s.Add(&RoutingRule{Type: TypeStatic, StaticMatch: true, Priority: 2, Enabled: true, Targets: []string{"b"}})

	second := s.EvaluateAll(dp("addr-1"))
	if len(second) != 2 {
		t.Fatalf("expected cache invalidation on Add to surface the new rule, got %d results", len(second))
	}
}

func TestStore_RemoveInvalidatesCache(t *testing.T) {
	s := NewStore(10, time.Minute)
	id := s.Add(&RoutingRule{Type: TypeStatic, StaticMatch: true, Priority: 1, Enabled: true})
	s.EvaluateAll(dp("addr-1"))

	if !s.Remove(id) {
		t.Fatalf("expected remove to succeed")
	}
	res := s.EvaluateAll(dp("addr-1"))
	if len(res) != 0 {
		t.Fatalf("expected no rules left after removal, got %d", len(res))
	}
}
