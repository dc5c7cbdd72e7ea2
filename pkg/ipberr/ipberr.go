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

// Package ipberr carries the error taxonomy used at every external-facing
// boundary of the bridge: Router, DataSink, DataSource. Internal packages
// return plain error; the boundary converts to a Result.
package ipberr

import "fmt"

// Code enumerates the bridge's external error taxonomy.
type Code uint8

const (
	Success Code = iota
	InvalidArgument
	InvalidState
	Timeout
	ConnectionFailed
	ProtocolError
	BufferOverflow
	InsufficientMemory
	PermissionDenied
	NotFound
	AlreadyExists
	NotImplemented
	ConfigParseError
	OSError
	UnknownError
)

func (c Code) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case InvalidState:
		return "INVALID_STATE"
	case Timeout:
		return "TIMEOUT"
	case ConnectionFailed:
		return "CONNECTION_FAILED"
	case ProtocolError:
		return "PROTOCOL_ERROR"
	case BufferOverflow:
		return "BUFFER_OVERFLOW"
	case InsufficientMemory:
		return "INSUFFICIENT_MEMORY"
	case PermissionDenied:
		return "PERMISSION_DENIED"
	case NotFound:
		return "NOT_FOUND"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	case ConfigParseError:
		return "CONFIG_PARSE_ERROR"
	case OSError:
		return "OS_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Result is the boundary-level error carrier: a Code plus an optional
// human-readable message. A nil *Result means success.
type Result struct {
	Code    Code
	Message string
}

func (r *Result) Error() string {
	if r == nil {
		return ""
	}
	if r.Message == "" {
		return r.Code.String()
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// New constructs a *Result, the idiomatic way to return a boundary error.
func New(code Code, format string, args ...any) *Result {
	return &Result{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap lifts a plain internal error to a boundary Result under the given
// Code, preserving its message. Passing a nil err returns nil.
func Wrap(code Code, err error) *Result {
	if err == nil {
		return nil
	}
	return &Result{Code: code, Message: err.Error()}
}

// Ok is the zero-value success result (no error).
var Ok *Result = nil

// FromRecover converts a recovered panic value into an UnknownError Result.
// Used at every boundary that invokes caller-supplied code (CUSTOM rule
// predicates, DataSink.Send) so a panicking plugin never unwinds across a
// goroutine boundary into the scheduler or router.
func FromRecover(r any) *Result {
	return New(UnknownError, "recovered panic: %v", r)
}

// Is reports whether err is a *Result carrying the given code.
func Is(err error, code Code) bool {
	res, ok := err.(*Result)
	return ok && res != nil && res.Code == code
}
