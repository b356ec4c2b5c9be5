// Package push binds transport connections to quiz zone membership and fans
// broadcast events out to a zone's audience.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quizzone/quizzone/internal/errors"
	"github.com/quizzone/quizzone/internal/telemetry"
)

const outboxSize = 256

// Conn is a transport handle capable of delivering one framed message.
// The hub guarantees a single writer per connection.
type Conn interface {
	Write(data []byte) error
	Close() error
}

// Notification is the framed message sent to clients.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Binding associates a connection with its zone membership for the
// connection's lifetime.
type Binding struct {
	ZoneID   string
	PlayerID string
}

type client struct {
	id      string
	binding Binding
	conn    Conn
	outbox  chan []byte
	stop    chan struct{}
	once    sync.Once
}

// Hub is the connection registry and broadcast bus.
//
// Each bound connection gets a buffered outbox drained by its own writer
// goroutine, so enqueueing a broadcast never blocks the orchestrator's
// critical section. A connection that cannot keep up, or whose write fails,
// is dropped without affecting delivery to the rest of the zone.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	zones   map[string]map[string]*client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		zones:   make(map[string]map[string]*client),
	}
}

// Bind registers a connection under its zone and player identity. A
// connection binds at most once; re-joining requires a new connection.
func (h *Hub) Bind(connID, zoneID, playerID string, conn Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[connID]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("connection already bound: conn=%s", connID))
	}

	c := &client{
		id:      connID,
		binding: Binding{ZoneID: zoneID, PlayerID: playerID},
		conn:    conn,
		outbox:  make(chan []byte, outboxSize),
		stop:    make(chan struct{}),
	}

	h.clients[connID] = c
	if h.zones[zoneID] == nil {
		h.zones[zoneID] = make(map[string]*client)
	}
	h.zones[zoneID][connID] = c

	go h.writePump(c)
	return nil
}

// Resolve returns the zone membership a connection is bound to.
func (h *Hub) Resolve(connID string) (Binding, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[connID]
	if !ok {
		return Binding{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("connection not bound: conn=%s", connID))
	}

	return c.binding, nil
}

// Unbind removes a connection from the registries and stops its writer.
// Unbinding an unknown connection is a no-op.
func (h *Hub) Unbind(connID string) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if ok {
		delete(h.clients, connID)
		zone := h.zones[c.binding.ZoneID]
		delete(zone, connID)
		if len(zone) == 0 {
			delete(h.zones, c.binding.ZoneID)
		}
	}
	h.mu.Unlock()

	if ok {
		c.shutdown()
	}
}

// Broadcast delivers an event to every connection bound to the zone,
// best-effort. Calls issued in order are observed in order by every live
// connection of the zone.
func (h *Hub) Broadcast(ctx context.Context, zoneID, event string, data any) {
	msg, err := json.Marshal(Notification{Event: event, Data: data})
	if err != nil {
		slog.ErrorContext(ctx, "push: marshal broadcast failed", "zone", zoneID, "event", event, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.zones[zoneID]))
	for _, c := range h.zones[zoneID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	telemetry.BroadcastsSent.Inc()

	for _, c := range targets {
		h.enqueue(ctx, c, msg)
	}
}

// Send delivers a direct reply to a single connection.
func (h *Hub) Send(ctx context.Context, connID, event string, data any) error {
	msg, err := json.Marshal(Notification{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("push: marshal send: %w", err)
	}

	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()

	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("connection not bound: conn=%s", connID))
	}

	h.enqueue(ctx, c, msg)
	return nil
}

// CloseZone drops every connection still bound to the zone, used when the
// zone has delivered its summary and is torn down.
func (h *Hub) CloseZone(ctx context.Context, zoneID string) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.zones[zoneID]))
	for id := range h.zones[zoneID] {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.Unbind(id)
	}

	slog.InfoContext(ctx, "push: zone closed", "zone", zoneID, "connections", len(ids))
}

// enqueue hands a message to the connection's writer without blocking. A
// full outbox means the client stopped draining; it is dropped so one
// stalled socket cannot stall the zone.
func (h *Hub) enqueue(ctx context.Context, c *client, msg []byte) {
	select {
	case c.outbox <- msg:
	case <-c.stop:
	default:
		slog.WarnContext(ctx, "push: outbox full, dropping connection",
			"conn", c.id, "zone", c.binding.ZoneID, "player", c.binding.PlayerID)
		telemetry.ConnectionsDropped.Inc()
		h.Unbind(c.id)
	}
}

func (h *Hub) writePump(c *client) {
	defer func() {
		if err := c.conn.Close(); err != nil {
			slog.Debug("push: close connection", "conn", c.id, "error", err)
		}
	}()

	for {
		select {
		case <-c.stop:
			// Flush whatever was enqueued before the unbind so an orderly
			// teardown still delivers the final events (finish, summary).
			for {
				select {
				case msg := <-c.outbox:
					if c.conn.Write(msg) != nil {
						return
					}
				default:
					return
				}
			}
		case msg := <-c.outbox:
			if err := c.conn.Write(msg); err != nil {
				slog.Warn("push: write failed, dropping connection",
					"conn", c.id, "zone", c.binding.ZoneID, "error", err)
				telemetry.ConnectionsDropped.Inc()
				h.Unbind(c.id)
				return
			}
		}
	}
}

func (c *client) shutdown() {
	c.once.Do(func() {
		close(c.stop)
	})
}
