// SPDX-License-Identifier: MIT

// Package realtime shapes the dashboard fan-out. Domain services build
// messages here and hand them to a Sink; delivery is at-most-once and a
// failed emit never propagates back into the mutation that caused it.
package realtime

import (
	"context"
	"strings"
	"time"

	"github.com/chainpass/chainpass/internal/domain"
)

// Topic is the bus topic all realtime messages travel on.
const Topic = "realtime"

// GroupPrefix namespaces per-session delivery groups.
const GroupPrefix = "session:"

// Message targets understood by dashboard clients.
const (
	TargetAttendanceUpdate = "attendanceUpdate"
	TargetChainUpdate      = "chainUpdate"
	TargetStallAlert       = "stallAlert"
)

// Message is the wire triple for the push transport. Arguments always has
// exactly one element.
type Message struct {
	Target    string `json:"target"`
	Arguments []any  `json:"arguments"`
	Group     string `json:"groupName"`
}

// Group returns the delivery group for a session.
func Group(sessionID string) string { return GroupPrefix + sessionID }

// SessionFromGroup inverts Group; empty when the group is foreign.
func SessionFromGroup(group string) string {
	if !strings.HasPrefix(group, GroupPrefix) {
		return ""
	}
	return group[len(GroupPrefix):]
}

// Sink consumes messages. Emit never returns an error: implementations log
// and count failures themselves, so callers cannot be tempted to roll back.
type Sink interface {
	Emit(ctx context.Context, msg Message)
}

// AttendancePayload carries the changed fields of one student record.
type AttendancePayload struct {
	StudentID    string             `json:"studentId"`
	EntryStatus  domain.EntryStatus `json:"entryStatus,omitempty"`
	ExitVerified *bool              `json:"exitVerified,omitempty"`
	EarlyLeaveAt int64              `json:"earlyLeaveAt,omitempty"`
}

// ChainPayload mirrors the chain row after a transfer or stall.
type ChainPayload struct {
	ChainID    string            `json:"chainId"`
	Phase      domain.ChainPhase `json:"phase"`
	LastHolder string            `json:"lastHolder"`
	LastSeq    int64             `json:"lastSeq"`
	State      domain.ChainState `json:"state"`
}

// StallPayload lists the chains a detector pass just stalled.
type StallPayload struct {
	ChainIDs []string `json:"chainIds"`
}

// AttendanceUpdate builds the per-student record message.
func AttendanceUpdate(sessionID string, p AttendancePayload) Message {
	return Message{
		Target:    TargetAttendanceUpdate,
		Arguments: []any{p},
		Group:     Group(sessionID),
	}
}

// ChainUpdate builds the baton-transfer message.
func ChainUpdate(sessionID string, ch *domain.Chain) Message {
	return Message{
		Target: TargetChainUpdate,
		Arguments: []any{ChainPayload{
			ChainID:    ch.ChainID,
			Phase:      ch.Phase,
			LastHolder: ch.LastHolder,
			LastSeq:    ch.LastSeq,
			State:      ch.State,
		}},
		Group: Group(sessionID),
	}
}

// StallAlert builds the reseed-suggestion message.
func StallAlert(sessionID string, chainIDs []string) Message {
	return Message{
		Target:    TargetStallAlert,
		Arguments: []any{StallPayload{ChainIDs: chainIDs}},
		Group:     Group(sessionID),
	}
}

// ChannelDescriptor is what negotiate hands to a dashboard client.
type ChannelDescriptor struct {
	URL       string `json:"url"`
	Group     string `json:"groupName"`
	Protocol  string `json:"protocol"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Negotiate builds the channel descriptor for a session dashboard.
func Negotiate(wsURL, sessionID string, ttl time.Duration, now time.Time) ChannelDescriptor {
	return ChannelDescriptor{
		URL:       wsURL,
		Group:     Group(sessionID),
		Protocol:  "websocket",
		ExpiresAt: now.Add(ttl).Unix(),
	}
}
