// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package pattern implements the address-matching strategies the rule
// engine uses: exact, prefix, backtracking wildcard, regex, and a shared
// trie for bulk exact/prefix lookups.
package pattern

import (
	"regexp"
	"strings"
)

// Matcher is the contract every pattern strategy satisfies.
type Matcher interface {
	Matches(s string) bool
}

// GroupMatcher additionally reports captured groups, for REGEX patterns.
type GroupMatcher interface {
	Matcher
	MatchGroups(s string) (groups []string, ok bool)
}

// Kind names a pattern strategy, as chosen by Analyze.
type Kind uint8

const (
	KindExact Kind = iota
	KindPrefix
	KindWildcard
	KindRegex
	KindTrie
)

func (k Kind) String() string {
	switch k {
	case KindExact:
		return "EXACT"
	case KindPrefix:
		return "PREFIX"
	case KindWildcard:
		return "WILDCARD"
	case KindRegex:
		return "REGEX"
	case KindTrie:
		return "TRIE"
	default:
		return "UNKNOWN"
	}
}

// Exact matches only the literal pattern string.
type Exact struct{ pattern string }

func NewExact(p string) *Exact           { return &Exact{pattern: p} }
func (e *Exact) Matches(s string) bool   { return s == e.pattern }

// Prefix matches any string beginning with the pattern.
type Prefix struct{ prefix string }

func NewPrefix(p string) *Prefix          { return &Prefix{prefix: p} }
func (p *Prefix) Matches(s string) bool   { return strings.HasPrefix(s, p.prefix) }

// Wildcard matches glob-style patterns using '*' (any run of characters,
// including empty) and '?' (exactly one character), via backtracking.
type Wildcard struct{ pattern string }

func NewWildcard(p string) *Wildcard { return &Wildcard{pattern: p} }

func (w *Wildcard) Matches(s string) bool {
	return wildcardMatch(w.pattern, s)
}

// wildcardMatch is the classical two-pointer backtracking glob matcher:
// on a '*' it remembers the position and tries zero characters first,
// advancing the star's match length by one byte each time the rest of the
// pattern fails to line up.
func wildcardMatch(pattern, s string) bool {
	pi, si := 0, 0
	starIdx, starMatch := -1, -1
	for si < len(s) {
		if pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]) {
			pi++
			si++
			continue
		}
		if pi < len(pattern) && pattern[pi] == '*' {
			starIdx = pi
			starMatch = si
			pi++
			continue
		}
		if starIdx != -1 {
			pi = starIdx + 1
			starMatch++
			si = starMatch
			continue
		}
		return false
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// Regex wraps a compiled regexp.Regexp (POSIX-extended semantics, via
// stdlib regexp.CompilePOSIX, leftmost-longest matching).
type Regex struct{ re *regexp.Regexp }

// NewRegex compiles p with POSIX-extended semantics.
func NewRegex(p string) (*Regex, error) {
	re, err := regexp.CompilePOSIX(p)
	if err != nil {
		return nil, err
	}
	return &Regex{re: re}, nil
}

func (r *Regex) Matches(s string) bool { return r.re.MatchString(s) }

// MatchGroups returns the submatches of the first match, if any.
func (r *Regex) MatchGroups(s string) ([]string, bool) {
	m := r.re.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	return m, true
}

var _ Matcher = (*Exact)(nil)
var _ Matcher = (*Prefix)(nil)
var _ Matcher = (*Wildcard)(nil)
var _ GroupMatcher = (*Regex)(nil)

// specialChars are the regex metacharacters (outside of the wildcard-only
// '*'/'?') that mark a pattern as needing the full regex engine.
const regexSpecialChars = `^$+[](){}|\.`

// Analyze inspects a pattern string and picks the cheapest strategy that
// can express it: a literal with no special characters is EXACT; a
// literal ending in a single trailing '*' and containing no other special
// characters is PREFIX; a pattern using only '*'/'?' is WILDCARD; any
// pattern containing a true regex metacharacter is REGEX.
func Analyze(p string) Kind {
	if strings.ContainsAny(p, regexSpecialChars) {
		return KindRegex
	}
	star := strings.Contains(p, "*")
	question := strings.Contains(p, "?")
	if !star && !question {
		return KindExact
	}
	if question {
		return KindWildcard
	}
	// star but no '?': a single trailing star with no other stars is a
	// plain prefix match, cheaper than full backtracking.
	if strings.Count(p, "*") == 1 && strings.HasSuffix(p, "*") {
		return KindPrefix
	}
	return KindWildcard
}

// Compile builds the Matcher Analyze recommends for p. An error is only
// possible for REGEX patterns with invalid syntax.
func Compile(p string) (Matcher, Kind, error) {
	kind := Analyze(p)
	switch kind {
	case KindExact:
		return NewExact(p), kind, nil
	case KindPrefix:
		return NewPrefix(strings.TrimSuffix(p, "*")), kind, nil
	case KindWildcard:
		return NewWildcard(p), kind, nil
	case KindRegex:
		re, err := NewRegex(p)
		if err != nil {
			return nil, kind, err
		}
		return re, kind, nil
	default:
		return NewExact(p), KindExact, nil
	}
}
