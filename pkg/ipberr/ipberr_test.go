// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package ipberr

import (
	"errors"
	"testing"
)

func TestResult_Error(t *testing.T) {
	r := New(NotFound, "sink %q not registered", "a")
	if r.Error() != "NOT_FOUND: sink \"a\" not registered" {
		t.Fatalf("unexpected message: %s", r.Error())
	}

	bare := &Result{Code: Timeout}
	if bare.Error() != "TIMEOUT" {
		t.Fatalf("expected bare code string, got %s", bare.Error())
	}

	var nilResult *Result
	if nilResult.Error() != "" {
		t.Fatalf("expected empty string for a nil *Result, got %q", nilResult.Error())
	}
}

func TestWrap(t *testing.T) {
	if Wrap(UnknownError, nil) != nil {
		t.Fatalf("expected Wrap(nil) to return nil")
	}
	inner := errors.New("boom")
	r := Wrap(OSError, inner)
	if r.Code != OSError || r.Message != "boom" {
		t.Fatalf("unexpected wrap result: %+v", r)
	}
}

func TestIs(t *testing.T) {
	r := New(AlreadyExists, "dup")
	if !Is(r, AlreadyExists) {
		t.Fatalf("expected Is to match the wrapped code")
	}
	if Is(r, NotFound) {
		t.Fatalf("expected Is to reject a mismatched code")
	}
	if Is(errors.New("plain"), NotFound) {
		t.Fatalf("expected Is to reject a non-*Result error")
	}
	if Is(nil, NotFound) {
		t.Fatalf("expected Is to reject a nil error")
	}
}

func TestFromRecover(t *testing.T) {
	r := FromRecover("panic payload")
	if r.Code != UnknownError {
		t.Fatalf("expected UnknownError, got %v", r.Code)
	}
}

func TestCode_String(t *testing.T) {
	if Success.String() != "SUCCESS" {
		t.Fatalf("expected SUCCESS, got %s", Success.String())
	}
	if Code(255).String() != "UNKNOWN_ERROR" {
		t.Fatalf("expected UNKNOWN_ERROR for an out-of-range code, got %s", Code(255).String())
	}
}
