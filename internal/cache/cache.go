// SPDX-License-Identifier: MIT

// Package cache provides the in-process TTL caches that keep the scan hot
// path off the store: rotating tokens are cached slightly shorter than their
// rotation period, sessions for the configured session cache TTL. Values are
// copies; writers go through the store and invalidate by key.
package cache

import (
	"sync"
	"time"
)

// Cache is a TTL key-value cache safe for concurrent use.
type Cache interface {
	// Get returns the live value for key, or false when absent or expired.
	Get(key string) (any, bool)
	// Set stores value under key for ttl. A second Set replaces the value
	// and restarts the clock.
	Set(key string, value any, ttl time.Duration)
	// Delete drops key immediately.
	Delete(key string)
}

type item struct {
	value     any
	expiresAt time.Time
}

func (it item) live(now time.Time) bool { return now.Before(it.expiresAt) }

// Memory is the in-process Cache. Reads treat expired items as absent; a
// janitor goroutine sweeps them out so keys that are never read again do not
// accumulate over the life of the daemon.
type Memory struct {
	mu    sync.RWMutex
	items map[string]item

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache builds a Memory cache. cleanupInterval sets the janitor
// cadence; zero or negative disables the janitor, which is fine for
// short-lived caches such as those in tests.
func NewMemoryCache(cleanupInterval time.Duration) *Memory {
	m := &Memory{
		items: make(map[string]item),
		stop:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go m.janitor(cleanupInterval)
	}
	return m
}

func (m *Memory) Get(key string) (any, bool) {
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()

	if !ok || !it.live(time.Now()) {
		return nil, false
	}
	return it.value, true
}

func (m *Memory) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.items[key] = item{value: value, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// Len reports the number of stored items, including expired ones the
// janitor has not reached yet.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Stop halts the janitor. The cache remains usable afterwards.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

func (m *Memory) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, it := range m.items {
		if !it.live(now) {
			delete(m.items, key)
		}
	}
}

// Noop is a Cache that stores nothing. Services fall back to it when built
// without a cache so every read goes to the store.
type Noop struct{}

// NewNoOpCache returns a cache that never hits.
func NewNoOpCache() *Noop { return &Noop{} }

func (*Noop) Get(string) (any, bool)         { return nil, false }
func (*Noop) Set(string, any, time.Duration) {}
func (*Noop) Delete(string)                  {}
