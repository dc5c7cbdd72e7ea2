// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package rule

import (
	"sync"
	"time"
)

// cacheEntry is one doubly-linked-list node: a map value and list node at
// once, so an LRU touch is an unlink-and-reinsert-at-front with no
// separate list traversal.
type cacheEntry struct {
	key        string
	results    []MatchResult
	expiration time.Time
	prev, next *cacheEntry
}

// resultCache is a bounded, TTL-expiring LRU cache of rule match results
// keyed by DataPoint address, adapted from ClusterCockpit's pkg/lrucache.
type resultCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*cacheEntry
	head     *cacheEntry // most recently used
	tail     *cacheEntry // least recently used
}

func newResultCache(capacity int, ttl time.Duration) *resultCache {
	return &resultCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*cacheEntry),
	}
}

func (c *resultCache) get(key string) ([]MatchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiration) {
		c.unlink(e)
		delete(c.entries, key)
		return nil, false
	}
	c.unlink(e)
	c.insertFront(e)
	return e.results, true
}

func (c *resultCache) put(key string, results []MatchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.results = results
		e.expiration = time.Now().Add(c.ttl)
		c.unlink(e)
		c.insertFront(e)
		return
	}

	e := &cacheEntry{key: key, results: results, expiration: time.Now().Add(c.ttl)}
	c.entries[key] = e
	c.insertFront(e)

	if len(c.entries) > c.capacity {
		c.evictLRU()
	}
}

func (c *resultCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.head = nil
	c.tail = nil
}

func (c *resultCache) insertFront(e *cacheEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *resultCache) unlink(e *cacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else if c.head == e {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else if c.tail == e {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *resultCache) evictLRU() {
	if c.tail == nil {
		return
	}
	victim := c.tail
	c.unlink(victim)
	delete(c.entries, victim.key)
}
