// SPDX-License-Identifier: MIT

package anticheat

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpass/chainpass/internal/domain"
)

func newTestLimiter(conf LimiterConfig) (*Limiter, *time.Time) {
	l := NewLimiter(conf)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	l.lastCleanup = now
	return l, &now
}

func TestDeviceLimitBoundary(t *testing.T) {
	l, now := newTestLimiter(DefaultLimiterConfig())

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Check("dev-1", "10.0.0.1"), "event %d", i+1)
	}

	err := l.Check("dev-1", "10.0.0.1")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeRateLimited))
	assert.Equal(t, "DEVICE_LIMIT", domainMessage(err))

	// One second short of the window the device is still blocked.
	*now = now.Add(59 * time.Second)
	assert.Error(t, l.Check("dev-1", "10.0.0.1"))

	// At the window boundary the counter admits a fresh batch.
	*now = now.Add(1 * time.Second)
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Check("dev-1", "10.0.0.1"), "post-reset event %d", i+1)
	}
	assert.Error(t, l.Check("dev-1", "10.0.0.1"))
}

func TestIPLimitReportedDistinctly(t *testing.T) {
	l, _ := newTestLimiter(DefaultLimiterConfig())

	// 50 admitted events across distinct devices on one IP.
	for i := 0; i < 50; i++ {
		dev := fmt.Sprintf("dev-%d", i/10)
		require.NoError(t, l.Check(dev, "10.0.0.9"), "event %d", i+1)
	}

	err := l.Check("dev-fresh", "10.0.0.9")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeRateLimited))
	assert.Equal(t, "IP_LIMIT", domainMessage(err))
}

func TestRejectedScansConsumeNoBudget(t *testing.T) {
	l, _ := newTestLimiter(DefaultLimiterConfig())

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Check("dev-hot", "10.0.0.1"))
	}
	// Hammer the blocked device; the IP counter must not move.
	for i := 0; i < 25; i++ {
		assert.Error(t, l.Check("dev-hot", "10.0.0.1"))
	}

	// 40 more events fit under the IP cap of 50 exactly.
	for i := 0; i < 40; i++ {
		dev := fmt.Sprintf("dev-%d", i/10)
		require.NoError(t, l.Check(dev, "10.0.0.1"), "event %d", i+1)
	}
	err := l.Check("dev-last", "10.0.0.1")
	require.Error(t, err)
	assert.Equal(t, "IP_LIMIT", domainMessage(err))
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(DefaultLimiterConfig())

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Check("dev-a", "10.0.0.1"))
	}
	assert.Error(t, l.Check("dev-a", "10.0.0.1"))

	assert.NoError(t, l.Check("dev-b", "10.0.0.2"), "other keys unaffected")
}

func TestCleanupSweepsElapsedWindows(t *testing.T) {
	l, now := newTestLimiter(LimiterConfig{
		DeviceLimit:     10,
		IPLimit:         50,
		Window:          60 * time.Second,
		CleanupInterval: 5 * time.Minute,
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Check(fmt.Sprintf("dev-%d", i), "10.0.0.1"))
	}
	assert.Len(t, l.device, 5)

	*now = now.Add(6 * time.Minute)
	require.NoError(t, l.Check("dev-new", "10.0.0.2"))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.device, 1, "elapsed windows swept, live key kept")
	assert.Len(t, l.ip, 1)
}

func domainMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
