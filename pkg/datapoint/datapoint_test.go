// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package datapoint

import (
	"strings"
	"testing"

	"ipb/pkg/value"
)

func TestDataPoint_RoundTrip(t *testing.T) {
	longAddr := strings.Repeat("a", addressInlineBudget+5)

	cases := []DataPoint{
		New("sensors/temp", value.NewF64(25.5), Timestamp(1000), 7, QualityGood, 1),
		New(longAddr, value.NewString("hello"), Timestamp(-500), 0, QualityBad, 99),
		New("", value.NewEmpty(), 0, 0, QualityUncertain, 0),
	}

	for i, dp := range cases {
		wire := dp.Serialize()
		got, n, err := Deserialize(wire)
		if err != nil {
			t.Fatalf("case %d: deserialize failed: %v", i, err)
		}
		if n != len(wire) {
			t.Fatalf("case %d: consumed %d bytes, wire is %d", i, n, len(wire))
		}
		if !got.Equal(dp) {
			t.Fatalf("case %d: round trip mismatch: got %+v, want %+v", i, got, dp)
		}
	}
}

func TestDataPoint_AddressInlineVsOutOfLine(t *testing.T) {
	short := New("short", value.NewEmpty(), 0, 0, QualityGood, 0)
	if !short.AddressInline() {
		t.Fatalf("expected short address to be stored inline")
	}

	long := New(strings.Repeat("z", addressInlineBudget+1), value.NewEmpty(), 0, 0, QualityGood, 0)
	if long.AddressInline() {
		t.Fatalf("expected address over the inline budget to spill out-of-line")
	}
	if long.Address() != strings.Repeat("z", addressInlineBudget+1) {
		t.Fatalf("expected out-of-line address round trip, got %q", long.Address())
	}
}

func TestDataPoint_HashKey(t *testing.T) {
	a := New("sensors/temp", value.NewEmpty(), 0, 1, QualityGood, 0)
	b := New("sensors/temp", value.NewEmpty(), 0, 2, QualityGood, 0)
	if a.HashKey() == b.HashKey() {
		t.Fatalf("expected distinct protocol ids to change the hash key")
	}

	c := New("sensors/temp", value.NewEmpty(), 0, 1, QualityGood, 0)
	if a.HashKey() != c.HashKey() {
		t.Fatalf("expected identical address/protocol to hash identically")
	}
}

func TestDataPoint_DeserializeTruncated(t *testing.T) {
	if _, _, err := Deserialize(nil); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated for empty input, got %v", err)
	}
	wire := New("a", value.NewI32(1), 0, 0, QualityGood, 0).Serialize()
	if _, _, err := Deserialize(wire[:len(wire)-1]); err == nil {
		t.Fatalf("expected an error for a truncated buffer")
	}
}

func TestQuality_String(t *testing.T) {
	if QualityGood.String() != "GOOD" {
		t.Fatalf("expected GOOD, got %s", QualityGood.String())
	}
	if Quality(255).String() != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN for an out-of-range quality, got %s", Quality(255).String())
	}
}
