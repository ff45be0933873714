// SPDX-License-Identifier: MIT

package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpass/chainpass/internal/bus"
	"github.com/chainpass/chainpass/internal/domain"
)

func TestGroupRoundTrip(t *testing.T) {
	assert.Equal(t, "session:s-1", Group("s-1"))
	assert.Equal(t, "s-1", SessionFromGroup("session:s-1"))
	assert.Equal(t, "", SessionFromGroup("other:s-1"))
}

func TestMessageBuildersCarrySingleArgument(t *testing.T) {
	exit := true
	msgs := []Message{
		AttendanceUpdate("s-1", AttendancePayload{StudentID: "stu", ExitVerified: &exit}),
		ChainUpdate("s-1", &domain.Chain{
			ChainID: "c-1", Phase: domain.PhaseEntry,
			LastHolder: "stu", LastSeq: 3, State: domain.ChainStateActive,
		}),
		StallAlert("s-1", []string{"c-1", "c-2"}),
	}
	for _, m := range msgs {
		assert.Len(t, m.Arguments, 1, m.Target)
		assert.Equal(t, "session:s-1", m.Group, m.Target)
	}
	assert.Equal(t, TargetAttendanceUpdate, msgs[0].Target)
	assert.Equal(t, TargetChainUpdate, msgs[1].Target)
	assert.Equal(t, TargetStallAlert, msgs[2].Target)
}

func TestAttendancePayloadOmitsUnsetFields(t *testing.T) {
	b, err := json.Marshal(AttendancePayload{StudentID: "stu"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"studentId":"stu"}`, string(b))

	exit := false
	b, err = json.Marshal(AttendancePayload{StudentID: "stu", ExitVerified: &exit})
	require.NoError(t, err)
	assert.JSONEq(t, `{"studentId":"stu","exitVerified":false}`, string(b))
}

func TestChainUpdateWireShape(t *testing.T) {
	msg := ChainUpdate("s-1", &domain.Chain{
		ChainID: "c-9", Phase: domain.PhaseExit,
		LastHolder: "stu-2", LastSeq: 7, State: domain.ChainStateActive,
	})
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"target": "chainUpdate",
		"arguments": [{"chainId":"c-9","phase":"EXIT","lastHolder":"stu-2","lastSeq":7,"state":"ACTIVE"}],
		"groupName": "session:s-1"
	}`, string(b))
}

func TestBusSinkPublishesToRealtimeTopic(t *testing.T) {
	b := bus.NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), Topic)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	sink := NewBusSink(b)
	sink.Emit(context.Background(), StallAlert("s-1", []string{"c-1"}))

	got := (<-sub.C()).(Message)
	assert.Equal(t, TargetStallAlert, got.Target)
	assert.Equal(t, "session:s-1", got.Group)
}

func TestBusSinkNeverPanicsOnDeadContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := NewBusSink(bus.NewMemoryBus())
	assert.NotPanics(t, func() {
		sink.Emit(ctx, AttendanceUpdate("s-1", AttendancePayload{StudentID: "stu"}))
	})
}

func TestMemorySinkRecordsInOrder(t *testing.T) {
	sink := NewMemorySink()
	sink.Emit(context.Background(), StallAlert("s-1", []string{"a"}))
	sink.Emit(context.Background(), AttendanceUpdate("s-1", AttendancePayload{StudentID: "stu"}))

	msgs := sink.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, TargetStallAlert, msgs[0].Target)
	assert.Len(t, sink.ByTarget(TargetAttendanceUpdate), 1)

	sink.Reset()
	assert.Empty(t, sink.Messages())
}

func TestNegotiateDescriptor(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := Negotiate("wss://attend.example.edu/api/v1/realtime/ws", "s-1", time.Hour, now)

	assert.Equal(t, "session:s-1", d.Group)
	assert.Equal(t, "websocket", d.Protocol)
	assert.Equal(t, now.Add(time.Hour).Unix(), d.ExpiresAt)
	assert.Contains(t, d.URL, "/realtime/ws")
}
