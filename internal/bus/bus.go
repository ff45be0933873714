// SPDX-License-Identifier: MIT

// Package bus is the in-process pub/sub that decouples the protocol engine
// from the realtime transport. Delivery is at-most-once: a slow or absent
// subscriber never blocks or fails the domain mutation that published.
package bus

import "context"

// Message is an opaque event payload.
type Message any

// Subscriber is one attached consumer.
type Subscriber interface {
	// C returns the read-only message channel. It is closed by Close.
	C() <-chan Message
	// Close unsubscribes.
	Close() error
}

// Bus is the event transport abstraction.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}
