// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Command ipb-bridge runs the Industrial Protocol Bridge router as a
// standalone process: a console sink by default, a synthetic generator
// scoop when -demo_generator_interval is set above zero, and an optional
// Redis scoop/sink pair and Prometheus telemetry, all
// driven by flags the same way any store/worker/API server wires its
// pieces together.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ipb"
	"ipb/internal/rule"
	"ipb/internal/scoop"
	"ipb/internal/sink"
)

// defaultCatchAllRule matches every DataPoint and routes it to targets; it
// is installed at lowest priority so any explicitly configured route
// (added via Config.Router.Routes) is tried first.
func defaultCatchAllRule(targets []string) *rule.RoutingRule {
	return &rule.RoutingRule{
		Type:        rule.TypeStatic,
		Priority:    0,
		Enabled:     true,
		Targets:     targets,
		StaticMatch: true,
	}
}

func main() {
	instanceID := flag.String("instance_id", "ipb-0", "Router instance identifier")
	workers := flag.Int("workers", 4, "EDF scheduler worker pool size")
	ratePerSecond := flag.Float64("rate_limit", 10000, "Admission-control rate, units per second")
	burstSize := flag.Int64("burst_size", 1000, "Admission-control burst size")
	watchdogEnabled := flag.Bool("watchdog", false, "Enable the liveness watchdog")
	watchdogTimeout := flag.Duration("watchdog_timeout", 5*time.Second, "Watchdog timeout before transitioning to ERROR")

	genInterval := flag.Duration("demo_generator_interval", 0, "If > 0, run a synthetic GeneratorScoop on this interval (demo/dev use)")
	consoleSink := flag.Bool("console_sink", true, "Register a console sink that every route targets by default")

	redisAddr := flag.String("redis_addr", "", "If non-empty, register a Redis-backed scoop and sink against this address")
	redisStream := flag.String("redis_stream", "ipb:datapoints", "Redis stream name for the Redis scoop/sink")

	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g. :9090)")
	telemetryLog := flag.Duration("telemetry_log_interval", 15*time.Second, "If > 0, periodically render a console telemetry summary. 0 disables.")
	telemetryEnabled := flag.Bool("telemetry", false, "Enable telemetry (Prometheus counters and/or console summary)")
	flag.Parse()

	cfg := ipb.DefaultConfig()
	cfg.InstanceID = *instanceID
	cfg.Scheduler.WorkerThreads = *workers
	cfg.RateLimit.RatePerSecond = *ratePerSecond
	cfg.RateLimit.BurstSize = *burstSize
	cfg.Watchdog.Enabled = *watchdogEnabled
	cfg.Watchdog.Timeout = *watchdogTimeout
	cfg.Telemetry = ipb.TelemetryConfig{
		Enabled:     *telemetryEnabled,
		MetricsAddr: *metricsAddr,
		LogInterval: *telemetryLog,
	}

	router, err := ipb.New(cfg)
	if err != nil {
		log.Fatalf("ipb-bridge: invalid configuration: %v", err)
	}

	if *consoleSink {
		if err := router.AddSink("console", sink.NewConsoleSink("console", os.Stdout), 1, 0, true); err != nil {
			log.Fatalf("ipb-bridge: could not register console sink: %v", err)
		}
		router.AddRule(defaultCatchAllRule([]string{"console"}))
	}

	var redisClient *redis.Client
	if *redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := router.AddSink("redis", sink.NewRedisSink("redis", redisClient, *redisStream), 1, 0, false); err != nil {
			log.Fatalf("ipb-bridge: could not register redis sink: %v", err)
		}
		if err := router.AddSource("redis", scoop.NewRedisScoop("redis", redisClient, *redisStream), 0); err != nil {
			log.Fatalf("ipb-bridge: could not register redis scoop: %v", err)
		}
	}

	if *genInterval > 0 {
		if err := router.AddSource("demo-generator", scoop.NewGeneratorScoop("demo-generator", *genInterval), 0); err != nil {
			log.Fatalf("ipb-bridge: could not register demo generator scoop: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := router.Start(ctx); err != nil {
		log.Fatalf("ipb-bridge: start failed: %v", err)
	}
	fmt.Printf("ipb-bridge: instance %q running (workers=%d rate=%.0f/s)\n", cfg.InstanceID, cfg.Scheduler.WorkerThreads, cfg.RateLimit.RatePerSecond)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nipb-bridge: shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := router.Stop(shutdownCtx); err != nil {
		log.Fatalf("ipb-bridge: shutdown failed: %v", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	fmt.Println("ipb-bridge: stopped cleanly.")
}
