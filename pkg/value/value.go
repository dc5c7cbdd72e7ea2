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

// Package value implements the tagged-union Value carried by every
// DataPoint flowing through the bridge.
package value

import (
	"encoding/binary"
	"errors"
	"math"
)

// Kind identifies the active variant of a Value.
type Kind uint8

const (
	Empty Kind = iota
	Bool
	I8
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	F32
	F64
	String
	Binary
)

// inlineBudget is the payload size, in bytes, stored inline in a Value
// before it spills to an out-of-line, uniquely-owned allocation.
const inlineBudget = 56

// Value is a tagged union of the scalar and string/binary kinds an
// industrial data source can produce. Small payloads (<=56 bytes) are kept
// inline; larger ones are held out-of-line under unique ownership, i.e. a
// Value never aliases another Value's backing bytes.
type Value struct {
	kind    Kind
	num     uint64 // bit pattern for bool/int/uint/float kinds
	inline  [inlineBudget]byte
	inlineN uint8  // number of bytes of `inline` in use, for String/Binary
	out     []byte // out-of-line payload for String/Binary over the budget
}

// Empty returns the empty (no value) variant.
func NewEmpty() Value { return Value{kind: Empty} }

func NewBool(b bool) Value {
	var n uint64
	if b {
		n = 1
	}
	return Value{kind: Bool, num: n}
}

func NewI8(v int8) Value   { return Value{kind: I8, num: uint64(uint8(v))} }
func NewI16(v int16) Value { return Value{kind: I16, num: uint64(uint16(v))} }
func NewI32(v int32) Value { return Value{kind: I32, num: uint64(uint32(v))} }
func NewI64(v int64) Value { return Value{kind: I64, num: uint64(v)} }
func NewU8(v uint8) Value  { return Value{kind: U8, num: uint64(v)} }
func NewU16(v uint16) Value { return Value{kind: U16, num: uint64(v)} }
func NewU32(v uint32) Value { return Value{kind: U32, num: uint64(v)} }
func NewU64(v uint64) Value { return Value{kind: U64, num: v} }
func NewF32(v float32) Value {
	return Value{kind: F32, num: uint64(math.Float32bits(v))}
}
func NewF64(v float64) Value {
	return Value{kind: F64, num: math.Float64bits(v)}
}

// NewString and NewBinary store the payload inline when it fits the inline
// budget, and out-of-line (uniquely owned) otherwise.
func NewString(s string) Value { return newBytesLike(String, []byte(s)) }
func NewBinary(b []byte) Value { return newBytesLike(Binary, b) }

func newBytesLike(k Kind, b []byte) Value {
	v := Value{kind: k}
	if len(b) <= inlineBudget {
		v.inlineN = uint8(len(b))
		copy(v.inline[:], b)
		return v
	}
	out := make([]byte, len(b))
	copy(out, b)
	v.out = out
	return v
}

// Kind reports the active variant.
func (v Value) Kind() Kind { return v.kind }

// IsInline reports whether a String/Binary payload is stored inline.
func (v Value) IsInline() bool { return v.out == nil }

func (v Value) bytes() []byte {
	if v.out != nil {
		return v.out
	}
	return v.inline[:v.inlineN]
}

func (v Value) AsBool() (bool, bool)       { return v.num != 0, v.kind == Bool }
func (v Value) AsI8() (int8, bool)         { return int8(v.num), v.kind == I8 }
func (v Value) AsI16() (int16, bool)       { return int16(v.num), v.kind == I16 }
func (v Value) AsI32() (int32, bool)       { return int32(v.num), v.kind == I32 }
func (v Value) AsI64() (int64, bool)       { return int64(v.num), v.kind == I64 }
func (v Value) AsU8() (uint8, bool)        { return uint8(v.num), v.kind == U8 }
func (v Value) AsU16() (uint16, bool)      { return uint16(v.num), v.kind == U16 }
func (v Value) AsU32() (uint32, bool)      { return uint32(v.num), v.kind == U32 }
func (v Value) AsU64() (uint64, bool)      { return v.num, v.kind == U64 }
func (v Value) AsF32() (float32, bool)     { return math.Float32frombits(uint32(v.num)), v.kind == F32 }
func (v Value) AsF64() (float64, bool)     { return math.Float64frombits(v.num), v.kind == F64 }
func (v Value) AsString() (string, bool)   { return string(v.bytes()), v.kind == String }
func (v Value) AsBinary() ([]byte, bool)   { return v.bytes(), v.kind == Binary }

// AsI64Coerced widens any integer kind (signed or unsigned, any width) to a
// signed int64 for cross-width numeric comparisons, as VALUE rules require.
func (v Value) AsI64Coerced() (int64, bool) {
	switch v.kind {
	case I8:
		return int64(int8(v.num)), true
	case I16:
		return int64(int16(v.num)), true
	case I32:
		return int64(int32(v.num)), true
	case I64:
		return int64(v.num), true
	case U8:
		return int64(uint8(v.num)), true
	case U16:
		return int64(uint16(v.num)), true
	case U32:
		return int64(uint32(v.num)), true
	case U64:
		return int64(v.num), true
	}
	return 0, false
}

// AsF64Coerced widens any numeric kind to float64, for VALUE comparisons
// that mix floats and integers.
func (v Value) AsF64Coerced() (float64, bool) {
	switch v.kind {
	case F32:
		return float64(math.Float32frombits(uint32(v.num))), true
	case F64:
		return math.Float64frombits(v.num), true
	default:
		if n, ok := v.AsI64Coerced(); ok {
			return float64(n), true
		}
	}
	return 0, false
}

// Equal reports value-wise equality; string/binary compare byte-wise.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Empty:
		return true
	case String, Binary:
		a, b := v.bytes(), o.bytes()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	default:
		return v.num == o.num
	}
}

var (
	ErrTruncated    = errors.New("value: truncated wire data")
	ErrUnknownKind  = errors.New("value: unknown kind tag")
	ErrSizeMismatch = errors.New("value: declared size exceeds available data")
)

// Serialize encodes a Value as [type:1][size:8][bytes:size]. Fixed-width
// scalar kinds encode their natural width as `size`; String/Binary encode
// their payload length.
func (v Value) Serialize() []byte {
	payload := v.wireBytes()
	out := make([]byte, 1+8+len(payload))
	out[0] = byte(v.kind)
	binary.BigEndian.PutUint64(out[1:9], uint64(len(payload)))
	copy(out[9:], payload)
	return out
}

func (v Value) wireBytes() []byte {
	switch v.kind {
	case Empty:
		return nil
	case Bool, I8, U8:
		return []byte{byte(v.num)}
	case I16, U16:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(v.num))
		return b
	case I32, U32, F32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(v.num))
		return b
	case I64, U64, F64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, v.num)
		return b
	case String, Binary:
		return v.bytes()
	default:
		return nil
	}
}

// Deserialize decodes the wire format produced by Serialize.
func Deserialize(b []byte) (Value, int, error) {
	if len(b) < 9 {
		return Value{}, 0, ErrTruncated
	}
	k := Kind(b[0])
	size := binary.BigEndian.Uint64(b[1:9])
	total := 9 + int(size)
	if total < 0 || len(b) < total {
		return Value{}, 0, ErrSizeMismatch
	}
	payload := b[9:total]
	v, err := fromWire(k, payload)
	return v, total, err
}

func fromWire(k Kind, payload []byte) (Value, error) {
	switch k {
	case Empty:
		return NewEmpty(), nil
	case Bool:
		if len(payload) < 1 {
			return Value{}, ErrTruncated
		}
		return NewBool(payload[0] != 0), nil
	case I8:
		if len(payload) < 1 {
			return Value{}, ErrTruncated
		}
		return NewI8(int8(payload[0])), nil
	case U8:
		if len(payload) < 1 {
			return Value{}, ErrTruncated
		}
		return NewU8(payload[0]), nil
	case I16:
		if len(payload) < 2 {
			return Value{}, ErrTruncated
		}
		return NewI16(int16(binary.BigEndian.Uint16(payload))), nil
	case U16:
		if len(payload) < 2 {
			return Value{}, ErrTruncated
		}
		return NewU16(binary.BigEndian.Uint16(payload)), nil
	case I32:
		if len(payload) < 4 {
			return Value{}, ErrTruncated
		}
		return NewI32(int32(binary.BigEndian.Uint32(payload))), nil
	case U32:
		if len(payload) < 4 {
			return Value{}, ErrTruncated
		}
		return NewU32(binary.BigEndian.Uint32(payload)), nil
	case F32:
		if len(payload) < 4 {
			return Value{}, ErrTruncated
		}
		return NewF32(math.Float32frombits(binary.BigEndian.Uint32(payload))), nil
	case I64:
		if len(payload) < 8 {
			return Value{}, ErrTruncated
		}
		return NewI64(int64(binary.BigEndian.Uint64(payload))), nil
	case U64:
		if len(payload) < 8 {
			return Value{}, ErrTruncated
		}
		return NewU64(binary.BigEndian.Uint64(payload)), nil
	case F64:
		if len(payload) < 8 {
			return Value{}, ErrTruncated
		}
		return NewF64(math.Float64frombits(binary.BigEndian.Uint64(payload))), nil
	case String:
		return NewString(string(payload)), nil
	case Binary:
		return NewBinary(payload), nil
	default:
		return Value{}, ErrUnknownKind
	}
}
