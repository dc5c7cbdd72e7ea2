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
	"sync"
	"sync/atomic"
	"time"

	"ipb/pkg/datapoint"
	"ipb/pkg/value"
)

// GeneratorScoop synthesizes a DataPoint at a fixed interval for each
// registered address, standing in for a real protocol source in smoke
// tests and the reference command.
type GeneratorScoop struct {
	id       string
	interval time.Duration

	mu        sync.Mutex
	addresses []string
	cb        Callback
	seq       atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewGeneratorScoop constructs a GeneratorScoop emitting one DataPoint per
// known address every interval.
func NewGeneratorScoop(id string, interval time.Duration) *GeneratorScoop {
	return &GeneratorScoop{id: id, interval: interval}
}

func (g *GeneratorScoop) ID() string { return g.id }

func (g *GeneratorScoop) SetCallback(cb Callback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cb = cb
}

func (g *GeneratorScoop) AddAddress(addr string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range g.addresses {
		if a == addr {
			return nil
		}
	}
	g.addresses = append(g.addresses, addr)
	return nil
}

func (g *GeneratorScoop) RemoveAddress(addr string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, a := range g.addresses {
		if a == addr {
			g.addresses = append(g.addresses[:i], g.addresses[i+1:]...)
			return nil
		}
	}
	return nil
}

func (g *GeneratorScoop) Addresses() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.addresses...)
}

func (g *GeneratorScoop) Start(ctx context.Context) error {
	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})
	g.running.Store(true)
	go g.run()
	return nil
}

func (g *GeneratorScoop) run() {
	defer close(g.doneCh)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.emit()
		}
	}
}

func (g *GeneratorScoop) emit() {
	g.mu.Lock()
	addrs := append([]string(nil), g.addresses...)
	cb := g.cb
	g.mu.Unlock()
	if cb == nil {
		return
	}
	for _, addr := range addrs {
		seq := g.seq.Add(1)
		dp := datapoint.New(addr, value.NewI64(int64(seq)), datapoint.Now(), 1, datapoint.QualityGood, seq)
		cb(dp)
	}
}

func (g *GeneratorScoop) Stop(ctx context.Context) error {
	if !g.running.CompareAndSwap(true, false) {
		return nil
	}
	close(g.stopCh)
	<-g.doneCh
	return nil
}

func (g *GeneratorScoop) IsRunning() bool { return g.running.Load() }

var _ DataSource = (*GeneratorScoop)(nil)
