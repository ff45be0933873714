// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chainpass/chainpass/internal/log"
	"github.com/chainpass/chainpass/internal/metrics"
)

// MemoryBus is the single-process Bus. Subscribers get a buffered channel;
// a full buffer drops the message for that subscriber only, counted and
// periodically logged rather than propagated.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

const (
	subscriberBuffer = 64
	dropLogEvery     = 100
)

var dropCount atomic.Uint64

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan Message)}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	if err := ctx.Err(); err != nil {
		metrics.IncBusDrop(topic, "context_done")
		return fmt.Errorf("publish topic %q: %w", topic, err)
	}

	b.mu.RLock()
	chs := append([]chan Message(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, ch := range chs {
		select {
		case ch <- msg:
		default:
			metrics.IncBusDrop(topic, "backpressure")
			count := dropCount.Add(1)
			if count%dropLogEvery == 0 {
				l := log.L()
				l.Warn().
					Str("topic", topic).
					Uint64("dropped", count).
					Str("event", "bus.drop").
					Msg("memory bus dropped message on full subscriber buffer")
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	ch := make(chan Message, subscriberBuffer)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	return &memSub{b: b, topic: topic, ch: ch}, nil
}

type memSub struct {
	b      *MemoryBus
	topic  string
	ch     chan Message
	closed sync.Once
}

func (s *memSub) C() <-chan Message { return s.ch }

func (s *memSub) Close() error {
	s.closed.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()

		lst := s.b.subs[s.topic]
		out := lst[:0]
		for _, c := range lst {
			if c != s.ch {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			delete(s.b.subs, s.topic)
		} else {
			s.b.subs[s.topic] = out
		}
		close(s.ch)
	})
	return nil
}

var _ Bus = (*MemoryBus)(nil)
