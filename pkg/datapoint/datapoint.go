// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package datapoint defines the DataPoint and RawMessage carried between
// scoops, rules, and sinks.
package datapoint

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
	"time"

	"ipb/pkg/value"
)

// Quality mirrors the health of the reading a DataPoint carries. Ordering
// is significant only for "quality >= X" filters; the zero value is the
// best quality a point can carry.
type Quality uint8

const (
	QualityGood Quality = iota
	QualityUncertain
	QualityBad
	QualityStale
	QualityCommFailure
	QualityConfigError
	QualityNotConnected
	QualityDeviceFailure
	QualitySensorFailure
	QualityLastKnown
	QualityInitial
	QualityForced
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "GOOD"
	case QualityUncertain:
		return "UNCERTAIN"
	case QualityBad:
		return "BAD"
	case QualityStale:
		return "STALE"
	case QualityCommFailure:
		return "COMM_FAILURE"
	case QualityConfigError:
		return "CONFIG_ERROR"
	case QualityNotConnected:
		return "NOT_CONNECTED"
	case QualityDeviceFailure:
		return "DEVICE_FAILURE"
	case QualitySensorFailure:
		return "SENSOR_FAILURE"
	case QualityLastKnown:
		return "LAST_KNOWN"
	case QualityInitial:
		return "INITIAL"
	case QualityForced:
		return "FORCED"
	default:
		return "UNKNOWN"
	}
}

// Timestamp is a monotonic nanosecond-resolution instant, independent of
// wall-clock adjustments.
type Timestamp int64

// Now returns the current monotonic timestamp.
func Now() Timestamp { return Timestamp(time.Now().UnixNano()) }

// addressInlineBudget bounds the inline storage for a DataPoint's address.
const addressInlineBudget = 32

// address holds a protocol-level address/tag string, inline when it fits
// within addressInlineBudget and out-of-line (uniquely owned) otherwise,
// mirroring value.Value's inline/out-of-line split.
type address struct {
	inline  [addressInlineBudget]byte
	inlineN uint8
	out     string
}

func newAddress(s string) address {
	if len(s) <= addressInlineBudget {
		a := address{inlineN: uint8(len(s))}
		copy(a.inline[:], s)
		return a
	}
	return address{out: s}
}

func (a address) String() string {
	if a.out != "" {
		return a.out
	}
	return string(a.inline[:a.inlineN])
}

func (a address) isInline() bool { return a.out == "" }

// DataPoint is a single reading flowing through the bridge: an address, a
// value, a timestamp, the originating protocol, a quality flag, and a
// monotonically increasing per-source sequence number.
type DataPoint struct {
	addr       address
	Value      value.Value
	Timestamp  Timestamp
	ProtocolID uint32
	Quality    Quality
	Sequence   uint64
}

// New constructs a DataPoint.
func New(addr string, v value.Value, ts Timestamp, protocolID uint32, q Quality, seq uint64) DataPoint {
	return DataPoint{
		addr:       newAddress(addr),
		Value:      v,
		Timestamp:  ts,
		ProtocolID: protocolID,
		Quality:    q,
		Sequence:   seq,
	}
}

// Address returns the point's address string.
func (d DataPoint) Address() string { return d.addr.String() }

// AddressInline reports whether the address is stored inline (<=32 bytes).
func (d DataPoint) AddressInline() bool { return d.addr.isInline() }

// HashKey derives the routing/cache key for a DataPoint:
// hash(address) XOR (hash(protocol_id) << 1).
func (d DataPoint) HashKey() uint64 {
	return HashAddress(d.Address()) ^ (hashUint32(d.ProtocolID) << 1)
}

// HashAddress computes the FNV-1a 64-bit hash of an address string.
func HashAddress(addr string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(addr))
	return h.Sum64()
}

func hashUint32(v uint32) uint64 {
	h := fnv.New64a()
	var b [4]byte
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	_, _ = h.Write(b[:])
	return h.Sum64()
}

// Equal reports whether d and o carry the same address, value, timestamp,
// protocol, quality, and sequence — the round-trip property
// Serialize/Deserialize must preserve.
func (d DataPoint) Equal(o DataPoint) bool {
	return d.Address() == o.Address() &&
		d.Value.Equal(o.Value) &&
		d.Timestamp == o.Timestamp &&
		d.ProtocolID == o.ProtocolID &&
		d.Quality == o.Quality &&
		d.Sequence == o.Sequence
}

var ErrTruncated = errors.New("datapoint: truncated wire data")

// Serialize encodes a DataPoint as
// [addrLen:4][addr][value:value.Serialize()][timestamp:8][protocol_id:4][quality:1][sequence:8],
// mirroring value.Value's own [type][size][bytes] wire discipline.
func (d DataPoint) Serialize() []byte {
	addr := []byte(d.Address())
	val := d.Value.Serialize()

	out := make([]byte, 4+len(addr)+len(val)+8+4+1+8)
	off := 0
	binary.BigEndian.PutUint32(out[off:], uint32(len(addr)))
	off += 4
	off += copy(out[off:], addr)
	off += copy(out[off:], val)
	binary.BigEndian.PutUint64(out[off:], uint64(d.Timestamp))
	off += 8
	binary.BigEndian.PutUint32(out[off:], d.ProtocolID)
	off += 4
	out[off] = byte(d.Quality)
	off++
	binary.BigEndian.PutUint64(out[off:], d.Sequence)
	off += 8
	return out
}

// Deserialize decodes the wire format produced by Serialize, returning the
// DataPoint and the number of bytes consumed.
func Deserialize(b []byte) (DataPoint, int, error) {
	if len(b) < 4 {
		return DataPoint{}, 0, ErrTruncated
	}
	addrLen := int(binary.BigEndian.Uint32(b))
	off := 4
	if len(b) < off+addrLen {
		return DataPoint{}, 0, ErrTruncated
	}
	addr := string(b[off : off+addrLen])
	off += addrLen

	v, n, err := value.Deserialize(b[off:])
	if err != nil {
		return DataPoint{}, 0, err
	}
	off += n

	if len(b) < off+8+4+1+8 {
		return DataPoint{}, 0, ErrTruncated
	}
	ts := Timestamp(binary.BigEndian.Uint64(b[off:]))
	off += 8
	protocolID := binary.BigEndian.Uint32(b[off:])
	off += 4
	quality := Quality(b[off])
	off++
	seq := binary.BigEndian.Uint64(b[off:])
	off += 8

	return New(addr, v, ts, protocolID, quality, seq), off, nil
}

// RawMessage is the unparsed payload a DataSource hands to a protocol
// decoder before it becomes a DataPoint.
type RawMessage struct {
	ProtocolID uint32
	Payload    []byte
	ReceivedAt Timestamp
}
