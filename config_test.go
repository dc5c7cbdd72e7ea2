// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package ipb

import (
	"testing"
	"time"

	"ipb/internal/sink"
	"ipb/pkg/ipberr"
)

func TestConfig_DefaultValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected DefaultConfig to validate, got %v", err)
	}
}

func TestConfig_ValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"max_sources", func(c *Config) { c.Limits.MaxSources = 0 }},
		{"max_sinks", func(c *Config) { c.Limits.MaxSinks = 0 }},
		{"max_queue_size", func(c *Config) { c.Limits.MaxQueueSize = 0 }},
		{"worker_threads", func(c *Config) { c.Scheduler.WorkerThreads = 0 }},
		{"rate_per_second", func(c *Config) { c.RateLimit.RatePerSecond = 0 }},
		{"burst_size", func(c *Config) { c.RateLimit.BurstSize = 0 }},
		{"watchdog_timeout", func(c *Config) { c.Watchdog.Enabled = true; c.Watchdog.Timeout = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected Validate to reject %s", tc.name)
			}
			if !ipberr.Is(err, ipberr.InvalidArgument) {
				t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
			}
		})
	}
}

func TestConfig_SinkSelectionStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Forwarding.RoundRobinSinks = false
	if got := cfg.sinkSelectionStrategy(); got != sink.StrategyBroadcast {
		t.Fatalf("expected StrategyBroadcast by default, got %v", got)
	}
	cfg.Forwarding.RoundRobinSinks = true
	if got := cfg.sinkSelectionStrategy(); got != sink.StrategyRoundRobin {
		t.Fatalf("expected StrategyRoundRobin in bridge mode, got %v", got)
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateStopped:      "STOPPED",
		StateInitializing: "INITIALIZING",
		StateRunning:      "RUNNING",
		StatePaused:       "PAUSED",
		StateShuttingDown: "SHUTTING_DOWN",
		StateError:        "ERROR",
		State(99):         "UNKNOWN",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestCounters_NoLossWithoutAccounting(t *testing.T) {
	c := newCounters()
	c.messagesIn.Add(10)
	c.messagesForwarded.Add(4)
	c.messagesDropped.Add(3)
	c.messagesSampled.Add(2)
	c.errors.Add(1)

	s := c.snapshot()
	total := s.MessagesForwarded + s.MessagesDropped + s.MessagesSampled + s.Errors
	if s.MessagesIn != total {
		t.Fatalf("messages_in=%d != forwarded+dropped+sampled+errors=%d", s.MessagesIn, total)
	}
}

func TestLatencyHistory_Percentiles(t *testing.T) {
	h := newLatencyHistory(4)
	for _, ms := range []int{10, 20, 30, 40} {
		h.observe(time.Duration(ms) * time.Millisecond)
	}
	min, avg, max, p95, _ := h.percentiles()
	if min != 10*int64(time.Millisecond) {
		t.Fatalf("expected min 10ms, got %v", time.Duration(min))
	}
	if max != 40*int64(time.Millisecond) {
		t.Fatalf("expected max 40ms, got %v", time.Duration(max))
	}
	if avg != 25*int64(time.Millisecond) {
		t.Fatalf("expected avg 25ms, got %v", time.Duration(avg))
	}
	if p95 != 30*int64(time.Millisecond) {
		t.Fatalf("expected p95 index floor(3*0.95)=2 -> 30ms, got %v", time.Duration(p95))
	}
}

func TestLatencyHistory_WrapsAtCapacity(t *testing.T) {
	h := newLatencyHistory(2)
	h.observe(1 * time.Millisecond)
	h.observe(2 * time.Millisecond)
	h.observe(3 * time.Millisecond) // overwrites the 1ms sample

	min, _, max, _, _ := h.percentiles()
	if min != 2*int64(time.Millisecond) {
		t.Fatalf("expected the oldest sample to have been overwritten, min=%v", time.Duration(min))
	}
	if max != 3*int64(time.Millisecond) {
		t.Fatalf("expected max 3ms, got %v", time.Duration(max))
	}
}
