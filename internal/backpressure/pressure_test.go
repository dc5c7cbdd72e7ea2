// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package backpressure

import (
	"testing"
	"time"
)

func TestSensor_QueueFillDrivesLevel(t *testing.T) {
	s := NewSensor(100, int64(time.Second), 1<<30)
	s.ObserveQueueDepth(96)
	lvl, queue, _, _ := s.Level()
	if queue != LevelCritical {
		t.Fatalf("expected queue level CRITICAL at 96%%, got %v", queue)
	}
	if lvl != LevelCritical {
		t.Fatalf("expected overall level CRITICAL, got %v", lvl)
	}
}

func TestSensor_LevelIsMaxAcrossDimensions(t *testing.T) {
	s := NewSensor(100, int64(time.Second), 1<<30)
	s.ObserveQueueDepth(10)                 // NONE
	s.ObserveMemoryBytes((1 << 30) * 9 / 10) // HIGH
	lvl, _, _, memory := s.Level()
	if memory != LevelHigh {
		t.Fatalf("expected memory level HIGH, got %v", memory)
	}
	if lvl != LevelHigh {
		t.Fatalf("expected overall level to track the worst dimension, got %v", lvl)
	}
}

func TestSensor_LatencyEMASmooths(t *testing.T) {
	s := NewSensor(100, int64(time.Millisecond*100), 1<<30)
	for i := 0; i < 50; i++ {
		s.ObserveLatency(96 * time.Millisecond)
	}
	_, _, latency, _ := s.Level()
	if latency != LevelCritical {
		t.Fatalf("expected sustained high latency to reach CRITICAL via EMA, got %v", latency)
	}
}

func TestController_UpwardTransitionIsImmediate(t *testing.T) {
	s := NewSensor(100, int64(time.Second), 1<<30)
	var transitions []Level
	cfg := DefaultConfig()
	cfg.HysteresisWindow = time.Hour
	c := NewController(s, StrategyDropNewest, cfg, func(from, to Level) { transitions = append(transitions, to) })

	s.ObserveQueueDepth(96)
	if got := c.EffectiveLevel(); got != LevelCritical {
		t.Fatalf("expected immediate upward transition to CRITICAL, got %v", got)
	}
	if len(transitions) != 1 || transitions[0] != LevelCritical {
		t.Fatalf("expected exactly one transition to CRITICAL, got %v", transitions)
	}
}

func TestController_DownwardTransitionIsSuppressedUntilHysteresisElapses(t *testing.T) {
	s := NewSensor(100, int64(time.Second), 1<<30)
	cfg := DefaultConfig()
	cfg.HysteresisWindow = 50 * time.Millisecond
	c := NewController(s, StrategyDropNewest, cfg, nil)

	s.ObserveQueueDepth(96)
	c.EffectiveLevel()

	s.ObserveQueueDepth(0)
	if got := c.EffectiveLevel(); got != LevelCritical {
		t.Fatalf("expected downward transition to be suppressed immediately after easing, got %v", got)
	}

	time.Sleep(70 * time.Millisecond)
	if got := c.EffectiveLevel(); got != LevelNone {
		t.Fatalf("expected downward transition to apply after hysteresis window, got %v", got)
	}
}

func TestController_DropNewestRejectsOnlyAtCritical(t *testing.T) {
	s := NewSensor(100, int64(time.Second), 1<<30)
	cfg := DefaultConfig()
	cfg.HysteresisWindow = time.Hour
	c := NewController(s, StrategyDropNewest, cfg, nil)

	s.ObserveQueueDepth(96) // CRITICAL
	accept, _, _ := c.ShouldAccept()
	if accept {
		t.Fatalf("expected DROP_NEWEST strategy to reject at CRITICAL")
	}
	stats := c.Stats()
	if stats.DropNewest != 1 {
		t.Fatalf("expected one DropNewest application, got %+v", stats)
	}
}

func TestController_DropOldestAlwaysAccepts(t *testing.T) {
	s := NewSensor(100, int64(time.Second), 1<<30)
	c := NewController(s, StrategyDropOldest, DefaultConfig(), nil)

	s.ObserveQueueDepth(99) // CRITICAL
	accept, _, _ := c.ShouldAccept()
	if !accept {
		t.Fatalf("expected DROP_OLDEST to always accept")
	}
}

func TestController_ThrottleSleepsLongerAtHigherLevels(t *testing.T) {
	s := NewSensor(100, int64(time.Second), 1<<30)
	cfg := DefaultConfig()
	cfg.ThrottleStep = time.Millisecond
	c := NewController(s, StrategyThrottle, cfg, nil)

	s.ObserveQueueDepth(72) // MEDIUM
	start := time.Now()
	accept, _, _ := c.ShouldAccept()
	elapsed := time.Since(start)
	if !accept {
		t.Fatalf("THROTTLE always admits")
	}
	if elapsed < 4*time.Millisecond {
		t.Fatalf("expected THROTTLE to sleep ~4 steps at MEDIUM, slept %v", elapsed)
	}
}

func TestController_SampleKeepsEveryNthAboveMedium(t *testing.T) {
	s := NewSensor(100, int64(time.Second), 1<<30)
	cfg := DefaultConfig()
	cfg.SampleRate = 4
	c := NewController(s, StrategySample, cfg, nil)

	s.ObserveQueueDepth(72) // MEDIUM
	accepted := 0
	for i := 0; i < 8; i++ {
		if ok, _, _ := c.ShouldAccept(); ok {
			accepted++
		}
	}
	if accepted != 2 {
		t.Fatalf("expected 2 of 8 admitted at 1-in-4 sampling, got %d", accepted)
	}
}
