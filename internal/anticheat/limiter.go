// SPDX-License-Identifier: MIT

// Package anticheat guards every scan: per-device and per-IP rate limits,
// geofence and Wi-Fi checks, and the append-only scan audit log.
package anticheat

import (
	"sync"
	"time"

	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/metrics"
)

// LimiterConfig holds the fixed-window limits.
type LimiterConfig struct {
	// DeviceLimit caps events per device fingerprint per window.
	DeviceLimit int
	// IPLimit caps events per client IP per window.
	IPLimit int
	// Window is the fixed-window length.
	Window time.Duration
	// CleanupInterval bounds how often elapsed windows are swept.
	CleanupInterval time.Duration
}

// DefaultLimiterConfig matches the protocol defaults: 10 device events and
// 50 IP events per rolling 60s window.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		DeviceLimit:     10,
		IPLimit:         50,
		Window:          60 * time.Second,
		CleanupInterval: 5 * time.Minute,
	}
}

type window struct {
	start time.Time
	count int
}

// Limiter is a per-process fixed-window counter pair. A window starts at the
// first event for a key and resets once a full window has elapsed at the
// next touch. Counters increment only when both checks pass, so rejected
// scans consume no budget. State is process-local; a restart resets it.
type Limiter struct {
	conf LimiterConfig

	mu     sync.Mutex
	device map[string]*window
	ip     map[string]*window

	lastCleanup time.Time
	now         func() time.Time
}

// NewLimiter creates a limiter with the given config.
func NewLimiter(conf LimiterConfig) *Limiter {
	if conf.Window <= 0 {
		conf.Window = 60 * time.Second
	}
	if conf.CleanupInterval <= 0 {
		conf.CleanupInterval = 5 * time.Minute
	}
	return &Limiter{
		conf:        conf,
		device:      make(map[string]*window),
		ip:          make(map[string]*window),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// SetLimits applies new per-device and per-IP caps, used by config reload.
// Active windows keep their counts; only the caps move.
func (l *Limiter) SetLimits(deviceLimit, ipLimit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if deviceLimit > 0 {
		l.conf.DeviceLimit = deviceLimit
	}
	if ipLimit > 0 {
		l.conf.IPLimit = ipLimit
	}
}

// Check admits or rejects one scan event. Device limit is checked first;
// its failure reports DEVICE_LIMIT, an IP failure reports IP_LIMIT, both
// under the RATE_LIMITED code. On admission both counters increment as a
// single step.
func (l *Limiter) Check(deviceFingerprint, ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	dev := l.touch(l.device, deviceFingerprint, now)
	if dev.count >= l.conf.DeviceLimit {
		metrics.IncRateLimitRejection("device")
		return domain.E(domain.CodeRateLimited, "DEVICE_LIMIT")
	}
	ipw := l.touch(l.ip, ip, now)
	if ipw.count >= l.conf.IPLimit {
		metrics.IncRateLimitRejection("ip")
		return domain.E(domain.CodeRateLimited, "IP_LIMIT")
	}

	dev.count++
	ipw.count++
	l.maybeCleanup(now)
	return nil
}

// touch returns the live window for key, starting or resetting it as needed.
// Caller holds l.mu.
func (l *Limiter) touch(m map[string]*window, key string, now time.Time) *window {
	w, ok := m[key]
	if !ok {
		w = &window{start: now}
		m[key] = w
		return w
	}
	if now.Sub(w.start) >= l.conf.Window {
		w.start = now
		w.count = 0
	}
	return w
}

// maybeCleanup drops keys whose window has elapsed. Live windows are kept.
// Caller holds l.mu.
func (l *Limiter) maybeCleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < l.conf.CleanupInterval {
		return
	}
	for key, w := range l.device {
		if now.Sub(w.start) >= l.conf.Window {
			delete(l.device, key)
		}
	}
	for key, w := range l.ip {
		if now.Sub(w.start) >= l.conf.Window {
			delete(l.ip, key)
		}
	}
	l.lastCleanup = now
}
