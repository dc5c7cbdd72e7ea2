// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package sink

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"ipb/pkg/datapoint"
	"ipb/pkg/value"
)

func testDP(addr string) datapoint.DataPoint {
	return datapoint.New(addr, value.NewI64(1), datapoint.Now(), 1, datapoint.QualityGood, 1)
}

type failingSink struct {
	id       string
	failN    int32
	attempts atomic.Int32
}

func (f *failingSink) ID() string                 { return f.id }
func (f *failingSink) Start(context.Context) error { return nil }
func (f *failingSink) Stop(context.Context) error  { return nil }
func (f *failingSink) IsRunning() bool             { return true }
func (f *failingSink) IsHealthy() bool             { return true }
func (f *failingSink) Send(ctx context.Context, dp datapoint.DataPoint) error {
	n := f.attempts.Add(1)
	if n <= f.failN {
		return errors.New("simulated failure")
	}
	return nil
}
func (f *failingSink) SendBatch(ctx context.Context, dps []datapoint.DataPoint) error { return nil }
func (f *failingSink) Flush(context.Context) error                                   { return nil }
func (f *failingSink) MaxBatchSize() int                                             { return 10 }
func (f *failingSink) CanAcceptData() bool                                           { return true }
func (f *failingSink) PendingCount() int                                             { return 0 }

func TestRegistry_RoundRobinCyclesCandidates(t *testing.T) {
	r := NewRegistry(StrategyRoundRobin, 0)
	var a, b bytes.Buffer
	_ = r.Register("a", NewConsoleSink("a", &a), 1, 1, false)
	_ = r.Register("b", NewConsoleSink("b", &b), 1, 1, false)

	for i := 0; i < 4; i++ {
		if err := r.Send(context.Background(), nil, testDP("x")); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	// both sinks should have received some traffic from round robin
	if a.Len() == 0 || b.Len() == 0 {
		t.Fatalf("expected round robin to spread across both sinks, a=%d b=%d", a.Len(), b.Len())
	}
}

func TestRegistry_FailoverSkipsUnhealthy(t *testing.T) {
	r := NewRegistry(StrategyFailover, 0)
	bad := &failingSink{id: "bad", failN: 1000}
	var good bytes.Buffer
	// Lower priority is tried first ("pick lowest-priority eligible
	// sink"), so bad must be registered below good's priority to be
	// attempted, fail, and eventually be marked unhealthy.
	_ = r.Register("bad", bad, 1, 0, false)
	_ = r.Register("good", NewConsoleSink("good", &good), 1, 1, false)

	for i := 0; i < consecutiveFailureThreshold; i++ {
		_ = r.Send(context.Background(), nil, testDP("x"))
	}
	if err := r.Send(context.Background(), nil, testDP("x")); err != nil {
		t.Fatalf("expected failover to the healthy sink to succeed, got %v", err)
	}
	if good.Len() == 0 {
		t.Fatalf("expected the good sink to have received a failover send")
	}
}

func TestRegistry_QuorumRequiresK(t *testing.T) {
	r := NewRegistry(StrategyQuorum, 2)
	var a, b, c bytes.Buffer
	_ = r.Register("a", NewConsoleSink("a", &a), 1, 1, false)
	_ = r.Register("b", NewConsoleSink("b", &b), 1, 1, false)
	_ = r.Register("c", &failingSink{id: "c", failN: 1000}, 1, 1, false)

	if err := r.Send(context.Background(), nil, testDP("x")); err != nil {
		t.Fatalf("expected quorum of 2-of-3 to be satisfied, got %v", err)
	}
}

func TestRegistry_QuorumFailsBelowK(t *testing.T) {
	r := NewRegistry(StrategyQuorum, 3)
	var a bytes.Buffer
	_ = r.Register("a", NewConsoleSink("a", &a), 1, 1, false)
	_ = r.Register("b", &failingSink{id: "b", failN: 1000}, 1, 1, false)
	_ = r.Register("c", &failingSink{id: "c", failN: 1000}, 1, 1, false)

	if err := r.Send(context.Background(), nil, testDP("x")); err == nil {
		t.Fatalf("expected quorum of 3 to fail with only 1 healthy sink")
	}
}

func TestRegistry_HashByAddressIsStable(t *testing.T) {
	r := NewRegistry(StrategyHashByAddress, 0)
	var a, b, c bytes.Buffer
	_ = r.Register("a", NewConsoleSink("a", &a), 1, 1, false)
	_ = r.Register("b", NewConsoleSink("b", &b), 1, 1, false)
	_ = r.Register("c", NewConsoleSink("c", &c), 1, 1, false)

	for i := 0; i < 5; i++ {
		if err := r.Send(context.Background(), nil, testDP("sensor.42")); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}
	nonEmpty := 0
	for _, buf := range []*bytes.Buffer{&a, &b, &c} {
		if buf.Len() > 0 {
			nonEmpty++
		}
	}
	if nonEmpty != 1 {
		t.Fatalf("expected the same address to always hash to exactly one sink, got %d sinks hit", nonEmpty)
	}
}

func TestRegistry_UnregisterThenSendFails(t *testing.T) {
	r := NewRegistry(StrategyRoundRobin, 0)
	var a bytes.Buffer
	_ = r.Register("a", NewConsoleSink("a", &a), 1, 1, false)
	if err := r.Unregister("a"); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
	if err := r.Send(context.Background(), nil, testDP("x")); err == nil {
		t.Fatalf("expected send with no registered sinks to fail")
	}
}

func TestRegistry_DuplicateRegisterFails(t *testing.T) {
	r := NewRegistry(StrategyRoundRobin, 0)
	var a bytes.Buffer
	_ = r.Register("a", NewConsoleSink("a", &a), 1, 1, false)
	if err := r.Register("a", NewConsoleSink("a", &a), 1, 1, false); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}
