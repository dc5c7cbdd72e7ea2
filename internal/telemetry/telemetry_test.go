// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package telemetry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

func TestReporter_DisabledIsNoOp(t *testing.T) {
	r := NewReporter(Config{Enabled: false}, func() Snapshot { return Snapshot{} })
	r.Start(context.Background())
	r.Stop(context.Background())
}

func TestReporter_StartStopIdempotent(t *testing.T) {
	var calls atomic.Int64
	r := NewReporter(Config{Enabled: true, LogInterval: 5 * time.Millisecond}, func() Snapshot {
		calls.Add(1)
		return Snapshot{MessagesIn: 1}
	})

	r.Start(context.Background())
	r.Start(context.Background()) // second Start must be a no-op, not a second goroutine

	deadline := time.Now().Add(time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatalf("expected the console loop to poll StatsFunc at least once")
	}

	r.Stop(context.Background())
	r.Stop(context.Background()) // idempotent
}

func TestSetCounterTotal_OnlyAddsDelta(t *testing.T) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "ipb_test_counter_total", Help: "test"})

	setCounterTotal(c, 5)
	setCounterTotal(c, 5) // no change: must not double-add
	setCounterTotal(c, 12)

	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 12 {
		t.Fatalf("expected cumulative total 12, got %v", got)
	}
}

func TestPressureLevels_CoverAllNames(t *testing.T) {
	for _, name := range []string{"NONE", "LOW", "MEDIUM", "HIGH", "CRITICAL"} {
		if _, ok := pressureLevels[name]; !ok {
			t.Fatalf("expected pressureLevels to map %q", name)
		}
	}
}
