// SPDX-License-Identifier: MIT

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpass/chainpass/internal/auth"
	"github.com/chainpass/chainpass/internal/bus"
	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/realtime"
)

func principalHandler(h http.Handler, p *auth.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			r = r.WithContext(auth.WithPrincipal(r.Context(), p))
		}
		h.ServeHTTP(w, r)
	})
}

func testPrincipal(id string) *auth.Principal {
	return &auth.Principal{UserID: id, Roles: []domain.Role{domain.RoleTeacher}}
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d clients (have %d)", n, h.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitReady(t *testing.T, h *Hub) {
	t.Helper()
	select {
	case <-h.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("hub subscription never became ready")
	}
}

func TestHub_DeliversGroupMessages(t *testing.T) {
	b := bus.NewMemoryBus()
	hub := NewHub(b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	waitReady(t, hub)

	srv := httptest.NewServer(principalHandler(hub, testPrincipal("t-1")))
	defer srv.Close()

	conn := dial(t, srv, "session=sess-1")
	waitForClients(t, hub, 1)

	msg := realtime.AttendanceUpdate("sess-1", realtime.AttendancePayload{
		StudentID:   "stu-42",
		EntryStatus: domain.EntryPresent,
	})
	require.NoError(t, b.Publish(context.Background(), realtime.Topic, msg))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var got realtime.Message
	require.NoError(t, json.Unmarshal(frame, &got))
	assert.Equal(t, realtime.TargetAttendanceUpdate, got.Target)
	assert.Equal(t, "session:sess-1", got.Group)
	require.Len(t, got.Arguments, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop on context cancel")
	}
}

func TestHub_GroupIsolation(t *testing.T) {
	b := bus.NewMemoryBus()
	hub := NewHub(b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()
	waitReady(t, hub)

	srv := httptest.NewServer(principalHandler(hub, testPrincipal("t-1")))
	defer srv.Close()

	connA := dial(t, srv, "session=sess-a")
	connB := dial(t, srv, "session=sess-b")
	waitForClients(t, hub, 2)

	require.NoError(t, b.Publish(context.Background(), realtime.Topic,
		realtime.StallAlert("sess-a", []string{"chain-1"})))

	require.NoError(t, connA.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := connA.ReadMessage()
	require.NoError(t, err)

	var got realtime.Message
	require.NoError(t, json.Unmarshal(frame, &got))
	assert.Equal(t, realtime.TargetStallAlert, got.Target)

	// The other group must stay quiet.
	require.NoError(t, connB.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err = connB.ReadMessage()
	assert.Error(t, err)
}

func TestHub_GroupQueryParameter(t *testing.T) {
	b := bus.NewMemoryBus()
	hub := NewHub(b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()
	waitReady(t, hub)

	srv := httptest.NewServer(principalHandler(hub, testPrincipal("t-1")))
	defer srv.Close()

	// Clients may pass the negotiate descriptor's group name verbatim.
	conn := dial(t, srv, "group=session%3Asess-9")
	waitForClients(t, hub, 1)

	require.NoError(t, b.Publish(context.Background(), realtime.Topic,
		realtime.StallAlert("sess-9", []string{"chain-3"})))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(frame), "chain-3")
}

func TestHub_RejectsUnauthenticated(t *testing.T) {
	hub := NewHub(bus.NewMemoryBus(), nil)
	srv := httptest.NewServer(principalHandler(hub, nil))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session=sess-1"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_RejectsMissingSession(t *testing.T) {
	hub := NewHub(bus.NewMemoryBus(), nil)
	srv := httptest.NewServer(principalHandler(hub, testPrincipal("t-1")))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_ClientDisconnectCleansUp(t *testing.T) {
	b := bus.NewMemoryBus()
	hub := NewHub(b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()
	waitReady(t, hub)

	srv := httptest.NewServer(principalHandler(hub, testPrincipal("t-1")))
	defer srv.Close()

	conn := dial(t, srv, "session=sess-1")
	waitForClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, hub, 0)
}

func TestHub_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", nil, "", "api.example.com", true},
		{"same host", nil, "http://api.example.com", "api.example.com", true},
		{"localhost default", nil, "http://localhost:3000", "api.example.com", true},
		{"foreign host rejected", nil, "http://evil.example.com", "api.example.com", false},
		{"wildcard", []string{"*"}, "http://anywhere.example.com", "api.example.com", true},
		{"allowlisted", []string{"https://dash.example.com"}, "https://dash.example.com", "api.example.com", true},
		{"allowlisted by host", []string{"https://dash.example.com"}, "http://dash.example.com", "api.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(bus.NewMemoryBus(), tt.origins)
			r := httptest.NewRequest(http.MethodGet, "http://"+tt.host+"/realtime/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, hub.checkOrigin(r))
		})
	}
}
