// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package pattern

import "testing"

func TestAnalyze_Classification(t *testing.T) {
	cases := []struct {
		pattern string
		want    Kind
	}{
		{"sensor/temp/1", KindExact},
		{"sensor/temp/*", KindPrefix},
		{"sensor/*/value", KindWildcard},
		{"sensor/temp/?", KindWildcard},
		{"^sensor\\.[0-9]+$", KindRegex},
		{"sensor(a|b)", KindRegex},
	}
	for _, c := range cases {
		if got := Analyze(c.pattern); got != c.want {
			t.Errorf("Analyze(%q) = %v, want %v", c.pattern, got, c.want)
		}
	}
}

func TestWildcard_Matches(t *testing.T) {
	cases := []struct {
		pattern, input string
		want           bool
	}{
		{"sensor.*.value", "sensor.17.value", true},
		{"sensor.*.value", "sensor.value", false},
		{"sensor.?.value", "sensor.1.value", true},
		{"sensor.?.value", "sensor.17.value", false},
		{"*", "anything", true},
		{"a*b*c", "aXbYc", true},
		{"a*b*c", "abc", true},
		{"a*b*c", "ac", false},
	}
	for _, c := range cases {
		w := NewWildcard(c.pattern)
		if got := w.Matches(c.input); got != c.want {
			t.Errorf("Wildcard(%q).Matches(%q) = %v, want %v", c.pattern, c.input, got, c.want)
		}
	}
}

func TestExactAndPrefix(t *testing.T) {
	e := NewExact("foo")
	if !e.Matches("foo") || e.Matches("foobar") {
		t.Fatalf("exact matcher behaved incorrectly")
	}
	p := NewPrefix("foo")
	if !p.Matches("foobar") || p.Matches("bar") {
		t.Fatalf("prefix matcher behaved incorrectly")
	}
}

func TestRegex_Groups(t *testing.T) {
	r, err := NewRegex("sensor\\.([0-9]+)")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	groups, ok := r.MatchGroups("sensor.42")
	if !ok || len(groups) < 2 || groups[1] != "42" {
		t.Fatalf("expected group capture of 42, got %v ok=%v", groups, ok)
	}
}

func TestTrie_ExactHitsBeforePrefixHits(t *testing.T) {
	tr := NewTrie()
	tr.AddPrefix("sensor.", 1)
	tr.AddExact("sensor.temp", 2)

	hits := tr.Match("sensor.temp")
	if len(hits) != 2 || hits[0] != 2 || hits[1] != 1 {
		t.Fatalf("expected exact hit before prefix hit, got %v", hits)
	}
}

func TestTrie_NoMatch(t *testing.T) {
	tr := NewTrie()
	tr.AddExact("foo", 1)
	if hits := tr.Match("bar"); len(hits) != 0 {
		t.Fatalf("expected no hits, got %v", hits)
	}
}

func TestCompile_RoundTrip(t *testing.T) {
	m, kind, err := Compile("sensor/temp/*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindPrefix {
		t.Fatalf("expected PREFIX, got %v", kind)
	}
	if !m.Matches("sensor/temp/17") {
		t.Fatalf("expected compiled prefix matcher to match")
	}
}
