// SPDX-License-Identifier: MIT

package chain

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/log"
)

// SweeperConfig defines the background stall-detection cadence.
type SweeperConfig struct {
	Interval time.Duration
}

// SessionLister yields the sessions the sweeper walks.
type SessionLister interface {
	ListActive(ctx context.Context) ([]domain.Session, error)
}

// Sweeper periodically runs stall detection over every active session, both
// phases. Teachers can also trigger detection on demand through the API;
// the sweeper only guarantees a floor on detection latency.
type Sweeper struct {
	Chains   *Service
	Sessions SessionLister
	Conf     SweeperConfig

	lastSweep atomic.Int64 // unix nanos of the last completed pass
}

// LastSweep returns the completion time of the most recent pass, or the zero
// time if no pass has finished yet.
func (s *Sweeper) LastSweep() time.Time {
	n := s.lastSweep.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run starts the sweeper loop. It periodically calls SweepOnce on a ticker.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Conf.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.Conf.Interval)
	defer ticker.Stop()

	l := log.L()
	l.Info().Dur("interval", s.Conf.Interval).Msg("stall sweeper started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs exactly one detection pass and returns the number of
// chains it stalled. Deterministic and suitable for unit testing.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	defer s.lastSweep.Store(time.Now().UnixNano())

	sessions, err := s.Sessions.ListActive(ctx)
	if err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("stall sweep session scan failed")
		return 0
	}

	total := 0
	for _, sess := range sessions {
		for _, phase := range []domain.ChainPhase{domain.PhaseEntry, domain.PhaseExit} {
			stalled, err := s.Chains.DetectStalled(ctx, sess.SessionID, phase)
			if err != nil {
				l := log.L()
				l.Warn().
					Err(err).
					Str(log.FieldSessionID, sess.SessionID).
					Str("phase", string(phase)).
					Msg("stall detection failed")
				continue
			}
			total += len(stalled)
		}
	}
	return total
}
