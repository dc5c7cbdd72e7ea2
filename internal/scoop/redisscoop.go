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
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"ipb/pkg/datapoint"
	"ipb/pkg/value"
)

// RedisScoop reads DataPoints back out of a Redis stream written by
// internal/sink's RedisSink, the mirror-image acquisition adapter for the
// same persistence/redis.go-derived stream abstraction.
type RedisScoop struct {
	id     string
	client *redis.Client
	stream string

	mu        sync.Mutex
	addresses []string
	cb        Callback

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	lastID  string
}

type redisDataPoint struct {
	Address    string `json:"address"`
	Timestamp  int64  `json:"timestamp"`
	ProtocolID uint32 `json:"protocol_id"`
	Quality    string `json:"quality"`
	Sequence   uint64 `json:"sequence"`
}

// NewRedisScoop constructs a RedisScoop tailing stream from its end.
func NewRedisScoop(id string, client *redis.Client, stream string) *RedisScoop {
	return &RedisScoop{id: id, client: client, stream: stream, lastID: "$"}
}

func (r *RedisScoop) ID() string { return r.id }

func (r *RedisScoop) SetCallback(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cb = cb
}

func (r *RedisScoop) AddAddress(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.addresses {
		if a == addr {
			return nil
		}
	}
	r.addresses = append(r.addresses, addr)
	return nil
}

func (r *RedisScoop) RemoveAddress(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.addresses {
		if a == addr {
			r.addresses = append(r.addresses[:i], r.addresses[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *RedisScoop) Addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.addresses...)
}

func (r *RedisScoop) Start(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return err
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.running.Store(true)
	go r.run()
	return nil
}

func (r *RedisScoop) run() {
	defer close(r.doneCh)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		res, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{r.stream, r.lastID},
			Block:   time.Second,
			Count:   100,
		}).Result()
		cancel()
		if err != nil {
			continue
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				r.lastID = msg.ID
				r.deliver(msg.Values)
			}
		}
	}
}

func (r *RedisScoop) deliver(values map[string]any) {
	raw, ok := values["data_point"]
	if !ok {
		return
	}
	s, ok := raw.(string)
	if !ok {
		return
	}
	var rdp redisDataPoint
	if err := json.Unmarshal([]byte(s), &rdp); err != nil {
		return
	}

	r.mu.Lock()
	cb := r.cb
	addrs := r.addresses
	r.mu.Unlock()
	if cb == nil {
		return
	}
	if len(addrs) > 0 && !contains(addrs, rdp.Address) {
		return
	}
	dp := datapoint.New(rdp.Address, value.NewU64(rdp.Sequence), datapoint.Timestamp(rdp.Timestamp), rdp.ProtocolID, datapoint.QualityGood, rdp.Sequence)
	cb(dp)
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func (r *RedisScoop) Stop(ctx context.Context) error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}
	close(r.stopCh)
	<-r.doneCh
	return r.client.Close()
}

func (r *RedisScoop) IsRunning() bool { return r.running.Load() }

var _ DataSource = (*RedisScoop)(nil)
