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
	"encoding/json"
	"sync/atomic"
	"time"

	"ipb/pkg/datapoint"
)

const healthCheckTimeout = 2 * time.Second

// KafkaProducer is the minimal publish contract a concrete Kafka client
// must satisfy. The bridge intentionally avoids importing a specific
// Kafka client library here: callers inject whichever client they
// already depend on.
type KafkaProducer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

// kafkaMessage is the wire payload published per DataPoint.
type kafkaMessage struct {
	Address    string `json:"address"`
	Timestamp  int64  `json:"timestamp"`
	ProtocolID uint32 `json:"protocol_id"`
	Quality    string `json:"quality"`
	Sequence   uint64 `json:"sequence"`
}

// KafkaSink publishes each DataPoint as a JSON message keyed by address.
type KafkaSink struct {
	id       string
	producer KafkaProducer
	topic    string
	running  atomic.Bool
	pending  atomic.Int64
}

// NewKafkaSink constructs a KafkaSink publishing to topic via producer.
func NewKafkaSink(id string, producer KafkaProducer, topic string) *KafkaSink {
	return &KafkaSink{id: id, producer: producer, topic: topic}
}

func (k *KafkaSink) ID() string { return k.id }
func (k *KafkaSink) Start(ctx context.Context) error {
	k.running.Store(true)
	return nil
}
func (k *KafkaSink) Stop(ctx context.Context) error {
	k.running.Store(false)
	return k.producer.Close()
}
func (k *KafkaSink) IsRunning() bool { return k.running.Load() }
func (k *KafkaSink) IsHealthy() bool { return k.running.Load() }

func (k *KafkaSink) Send(ctx context.Context, dp datapoint.DataPoint) error {
	payload, err := json.Marshal(kafkaMessage{
		Address:    dp.Address(),
		Timestamp:  int64(dp.Timestamp),
		ProtocolID: dp.ProtocolID,
		Quality:    dp.Quality.String(),
		Sequence:   dp.Sequence,
	})
	if err != nil {
		return err
	}
	k.pending.Add(1)
	defer k.pending.Add(-1)
	return k.producer.Produce(ctx, k.topic, []byte(dp.Address()), payload)
}

func (k *KafkaSink) SendBatch(ctx context.Context, dps []datapoint.DataPoint) error {
	for _, dp := range dps {
		if err := k.Send(ctx, dp); err != nil {
			return err
		}
	}
	return nil
}

func (k *KafkaSink) Flush(ctx context.Context) error { return nil }
func (k *KafkaSink) MaxBatchSize() int                { return 1000 }
func (k *KafkaSink) CanAcceptData() bool              { return k.running.Load() }
func (k *KafkaSink) PendingCount() int                { return int(k.pending.Load()) }

var _ DataSink = (*KafkaSink)(nil)
