// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"ipb/pkg/datapoint"
)

// FileSink is a buffered, append-only JSONL writer, periodically flushed,
// with each batch record a serialized DataPoint.
type FileSink struct {
	id           string
	path         string
	flushEvery   time.Duration
	maxBatchSize int

	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	pending int

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFileSink constructs a FileSink appending JSONL records to path,
// flushing at most every flushEvery.
func NewFileSink(id, path string, flushEvery time.Duration, maxBatchSize int) *FileSink {
	if maxBatchSize <= 0 {
		maxBatchSize = 256
	}
	return &FileSink{id: id, path: path, flushEvery: flushEvery, maxBatchSize: maxBatchSize}
}

func (f *FileSink) ID() string { return f.id }

// Start opens the backing file and launches the periodic-flush goroutine.
func (f *FileSink) Start(ctx context.Context) error {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.file = file
	f.w = bufio.NewWriter(file)
	f.mu.Unlock()

	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.running.Store(true)
	go f.flushLoop()
	return nil
}

func (f *FileSink) flushLoop() {
	defer close(f.doneCh)
	interval := f.flushEvery
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			f.mu.Lock()
			_ = f.w.Flush()
			f.mu.Unlock()
			return
		case <-ticker.C:
			f.mu.Lock()
			_ = f.w.Flush()
			f.mu.Unlock()
		}
	}
}

// Stop flushes, stops the background goroutine, and closes the file.
func (f *FileSink) Stop(ctx context.Context) error {
	if !f.running.CompareAndSwap(true, false) {
		return nil
	}
	close(f.stopCh)
	<-f.doneCh
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}

func (f *FileSink) IsRunning() bool { return f.running.Load() }
func (f *FileSink) IsHealthy() bool { return f.running.Load() }

func (f *FileSink) Send(ctx context.Context, dp datapoint.DataPoint) error {
	line, err := encodeLine(dp)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.w.Write(line); err != nil {
		return err
	}
	f.pending++
	return nil
}

func (f *FileSink) SendBatch(ctx context.Context, dps []datapoint.DataPoint) error {
	for _, dp := range dps {
		if err := f.Send(ctx, dp); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileSink) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = 0
	return f.w.Flush()
}

func (f *FileSink) MaxBatchSize() int   { return f.maxBatchSize }
func (f *FileSink) CanAcceptData() bool { return f.running.Load() }
func (f *FileSink) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func encodeLine(dp datapoint.DataPoint) ([]byte, error) {
	record := struct {
		Address    string `json:"address"`
		Timestamp  int64  `json:"timestamp"`
		ProtocolID uint32 `json:"protocol_id"`
		Quality    string `json:"quality"`
		Sequence   uint64 `json:"sequence"`
	}{
		Address:    dp.Address(),
		Timestamp:  int64(dp.Timestamp),
		ProtocolID: dp.ProtocolID,
		Quality:    dp.Quality.String(),
		Sequence:   dp.Sequence,
	}
	b, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// ConsoleSink writes one JSON line per DataPoint to an io.Writer (stdout in
// production), with no buffering beyond the underlying writer's own.
type ConsoleSink struct {
	id      string
	w       io.Writer
	running atomic.Bool
	sent    atomic.Int64
}

// NewConsoleSink constructs a ConsoleSink writing to w.
func NewConsoleSink(id string, w io.Writer) *ConsoleSink {
	return &ConsoleSink{id: id, w: w}
}

func (c *ConsoleSink) ID() string { return c.id }
func (c *ConsoleSink) Start(ctx context.Context) error {
	c.running.Store(true)
	return nil
}
func (c *ConsoleSink) Stop(ctx context.Context) error {
	c.running.Store(false)
	return nil
}
func (c *ConsoleSink) IsRunning() bool { return c.running.Load() }
func (c *ConsoleSink) IsHealthy() bool { return c.running.Load() }

func (c *ConsoleSink) Send(ctx context.Context, dp datapoint.DataPoint) error {
	line, err := encodeLine(dp)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(c.w, string(line))
	if err == nil {
		c.sent.Add(1)
	}
	return err
}

func (c *ConsoleSink) SendBatch(ctx context.Context, dps []datapoint.DataPoint) error {
	for _, dp := range dps {
		if err := c.Send(ctx, dp); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsoleSink) Flush(ctx context.Context) error { return nil }
func (c *ConsoleSink) MaxBatchSize() int                { return 4096 }
func (c *ConsoleSink) CanAcceptData() bool              { return c.running.Load() }
func (c *ConsoleSink) PendingCount() int                { return 0 }

var (
	_ DataSink = (*FileSink)(nil)
	_ DataSink = (*ConsoleSink)(nil)
)
