// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package sink

import (
	"context"
	"database/sql"
	"sync/atomic"

	"ipb/pkg/datapoint"
)

// PostgresSink appends each DataPoint to a `data_points` table via
// database/sql over an injected *sql.DB.
//
// Expected schema:
//
//	CREATE TABLE data_points (
//	    address     TEXT NOT NULL,
//	    timestamp   BIGINT NOT NULL,
//	    protocol_id INTEGER NOT NULL,
//	    quality     SMALLINT NOT NULL,
//	    sequence    BIGINT NOT NULL
//	);
type PostgresSink struct {
	id      string
	db      *sql.DB
	table   string
	running atomic.Bool
	pending atomic.Int64
}

// NewPostgresSink constructs a PostgresSink writing into table via db.
func NewPostgresSink(id string, db *sql.DB, table string) *PostgresSink {
	if table == "" {
		table = "data_points"
	}
	return &PostgresSink{id: id, db: db, table: table}
}

func (p *PostgresSink) ID() string { return p.id }

func (p *PostgresSink) Start(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return err
	}
	p.running.Store(true)
	return nil
}

func (p *PostgresSink) Stop(ctx context.Context) error {
	p.running.Store(false)
	return p.db.Close()
}

func (p *PostgresSink) IsRunning() bool { return p.running.Load() }

func (p *PostgresSink) IsHealthy() bool {
	if !p.running.Load() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	return p.db.PingContext(ctx) == nil
}

func (p *PostgresSink) Send(ctx context.Context, dp datapoint.DataPoint) error {
	p.pending.Add(1)
	defer p.pending.Add(-1)
	query := "INSERT INTO " + p.table + " (address, timestamp, protocol_id, quality, sequence) VALUES ($1, $2, $3, $4, $5)"
	_, err := p.db.ExecContext(ctx, query, dp.Address(), int64(dp.Timestamp), dp.ProtocolID, uint8(dp.Quality), dp.Sequence)
	return err
}

func (p *PostgresSink) SendBatch(ctx context.Context, dps []datapoint.DataPoint) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	query := "INSERT INTO " + p.table + " (address, timestamp, protocol_id, quality, sequence) VALUES ($1, $2, $3, $4, $5)"
	for _, dp := range dps {
		if _, err := tx.ExecContext(ctx, query, dp.Address(), int64(dp.Timestamp), dp.ProtocolID, uint8(dp.Quality), dp.Sequence); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresSink) Flush(ctx context.Context) error { return nil }
func (p *PostgresSink) MaxBatchSize() int                { return 500 }
func (p *PostgresSink) CanAcceptData() bool              { return p.running.Load() }
func (p *PostgresSink) PendingCount() int                { return int(p.pending.Load()) }

var _ DataSink = (*PostgresSink)(nil)
