// SPDX-License-Identifier: MIT

package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chainpass/chainpass/internal/bus"
	"github.com/chainpass/chainpass/internal/log"
	"github.com/chainpass/chainpass/internal/metrics"
)

// BusSink publishes messages onto the in-process bus, where the websocket
// hub (or any other transport) picks them up.
type BusSink struct {
	bus    bus.Bus
	logger zerolog.Logger
}

// NewBusSink wires a sink to the bus.
func NewBusSink(b bus.Bus) *BusSink {
	return &BusSink{bus: b, logger: log.WithComponent("realtime")}
}

func (s *BusSink) Emit(ctx context.Context, msg Message) {
	metrics.IncRealtimeMessage(msg.Target)
	if err := s.bus.Publish(ctx, Topic, msg); err != nil {
		s.logger.Warn().
			Err(err).
			Str("target", msg.Target).
			Str("group", msg.Group).
			Str("event", "realtime.emit_failed").
			Msg("realtime emit dropped")
	}
}

// NoopSink swallows everything; used when realtime is disabled.
type NoopSink struct{}

func (NoopSink) Emit(context.Context, Message) {}

// MemorySink records messages for assertions.
type MemorySink struct {
	mu   sync.Mutex
	msgs []Message
}

// NewMemorySink returns an empty recording sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Emit(_ context.Context, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

// Messages returns a snapshot in emit order.
func (s *MemorySink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// ByTarget filters the snapshot.
func (s *MemorySink) ByTarget(target string) []Message {
	var out []Message
	for _, m := range s.Messages() {
		if m.Target == target {
			out = append(out, m)
		}
	}
	return out
}

// Reset clears recorded messages.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
}

var (
	_ Sink = (*BusSink)(nil)
	_ Sink = NoopSink{}
	_ Sink = (*MemorySink)(nil)
)
