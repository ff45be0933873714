// SPDX-License-Identifier: MIT

// Package ws hosts the realtime websocket endpoint. The hub bridges the
// in-process bus to connected dashboard clients: each client subscribes to
// one session group and receives that group's messages as JSON text frames.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chainpass/chainpass/internal/auth"
	"github.com/chainpass/chainpass/internal/bus"
	"github.com/chainpass/chainpass/internal/log"
	"github.com/chainpass/chainpass/internal/metrics"
	"github.com/chainpass/chainpass/internal/realtime"
)

const clientBuffer = 64

// client is one attached websocket. Frames go through a buffered send
// channel so one slow reader never blocks the fan-out loop.
type client struct {
	conn  *websocket.Conn
	send  chan []byte
	group string
}

func newClient(conn *websocket.Conn, group string) *client {
	c := &client{
		conn:  conn,
		send:  make(chan []byte, clientBuffer),
		group: group,
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Hub routes realtime bus messages to websocket clients by session group.
type Hub struct {
	bus            bus.Bus
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	logger         zerolog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu     sync.RWMutex
	groups map[string]map[*client]struct{}
}

// NewHub builds a hub over the given bus. allowedOrigins follows the CORS
// list; empty means same-host plus localhost only.
func NewHub(b bus.Bus, allowedOrigins []string) *Hub {
	h := &Hub{
		bus:            b,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		logger:         log.WithComponent("ws"),
		ready:          make(chan struct{}),
		groups:         make(map[string]map[*client]struct{}),
	}
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		h.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			h.allowedHosts[parsed.Host] = true
		}
	}
	return h
}

// Ready unblocks once the bus subscription is live. Messages published
// before that point are not replayed.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

// Run subscribes to the realtime topic and fans messages out until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	sub, err := h.bus.Subscribe(ctx, realtime.Topic)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()
	h.readyOnce.Do(func() { close(h.ready) })

	h.logger.Info().Str("event", "ws.hub_started").Msg("realtime hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case raw, ok := <-sub.C():
			if !ok {
				return nil
			}
			msg, isMsg := raw.(realtime.Message)
			if !isMsg {
				continue
			}
			h.dispatch(msg)
		}
	}
}

// dispatch marshals once and hands the frame to every client of the group.
// Clients whose buffer is full are disconnected; the dashboard reconnects
// through negotiate.
func (h *Hub) dispatch(msg realtime.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("target", msg.Target).Msg("realtime message marshal failed")
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.groups[msg.Group]))
	for c := range h.groups[msg.Group] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
			metrics.IncWSMessageSent(msg.Target)
		default:
			metrics.IncWSSlowDisconnect()
			h.logger.Warn().
				Str("group", msg.Group).
				Str("event", "ws.slow_client").
				Msg("disconnecting slow websocket client")
			h.remove(c)
		}
	}
}

// ServeHTTP upgrades the connection and pins it to the requested session
// group. The caller must be authenticated; group membership mirrors the
// negotiate endpoint.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if auth.FromContext(r.Context()) == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"authentication required"}`))
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = realtime.SessionFromGroup(r.URL.Query().Get("group"))
	}
	if sessionID == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"session query parameter is required"}`))
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: h.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	group := realtime.Group(sessionID)
	c := newClient(conn, group)
	h.add(c)
	h.logger.Info().
		Str(log.FieldSessionID, sessionID).
		Str("remote", r.RemoteAddr).
		Str("event", "ws.client_connected").
		Msg("websocket client connected")

	go func() {
		defer func() {
			h.remove(c)
			h.logger.Info().
				Str(log.FieldSessionID, sessionID).
				Str("remote", r.RemoteAddr).
				Str("event", "ws.client_disconnected").
				Msg("websocket client disconnected")
		}()
		for {
			// Inbound frames are not part of the protocol; the read loop
			// only notices the close.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	if h.groups[c.group] == nil {
		h.groups[c.group] = make(map[*client]struct{})
	}
	h.groups[c.group][c] = struct{}{}
	h.mu.Unlock()
	metrics.IncWSClients()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	set, ok := h.groups[c.group]
	if ok {
		if _, member := set[c]; member {
			delete(set, c)
			if len(set) == 0 {
				delete(h.groups, c.group)
			}
			c.close()
			metrics.DecWSClients()
		}
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for group, set := range h.groups {
		for c := range set {
			c.close()
			metrics.DecWSClients()
		}
		delete(h.groups, group)
	}
	h.mu.Unlock()
}

// ClientCount reports connected clients across all groups.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.groups {
		n += len(set)
	}
	return n
}

// checkOrigin mirrors the CORS policy for the upgrade handshake. Same-host
// and localhost are always accepted so a co-hosted dashboard works without
// configuration.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if h.allowedOrigins["*"] {
		return true
	}
	if len(h.allowedOrigins) > 0 {
		if h.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" && h.allowedHosts[parsed.Host] {
			return true
		}
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	switch {
	case host == "":
		return false
	case host == r.Host:
		return true
	case host == "localhost" || strings.HasPrefix(host, "localhost:"):
		return true
	case host == "127.0.0.1" || strings.HasPrefix(host, "127.0.0.1:"):
		return true
	case host == "::1" || strings.HasPrefix(host, "[::1]:"):
		return true
	}
	return false
}
