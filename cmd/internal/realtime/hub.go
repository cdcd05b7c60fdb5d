package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"aqualens/cmd/internal/auth/store"
)

// Hub fans out the change feed of one store namespace to every joined tab.
//
// Join/Leave are safe under concurrent Broadcast, and Broadcast never blocks.
// A tab whose queue is full is evicted instead of silently missing a change:
// it reconnects and re-reads the store.
type Hub struct {
	log     *slog.Logger
	backend store.Backend
	metrics *Metrics

	mu      sync.RWMutex
	members map[string]*Client
	cancel  func()
}

// NewHub constructs a Hub over backend. Call Start to begin relaying.
func NewHub(log *slog.Logger, backend store.Backend, m *Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		backend: backend,
		metrics: m,
		members: make(map[string]*Client),
	}
}

// Namespace is the store namespace this hub serves.
func (h *Hub) Namespace() string { return h.backend.Namespace() }

// Start subscribes to the backend. Calling it again is a no-op.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		return nil
	}
	if h.backend == nil {
		return errors.New("realtime: nil backend")
	}

	cancel, err := h.backend.Subscribe(ctx, h.relay)
	if err != nil {
		return err
	}
	h.cancel = cancel
	h.log.Info("sync.hub.start", "ns", h.backend.Namespace())
	return nil
}

// Stop unsubscribes and disconnects every tab.
func (h *Hub) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	members := h.members
	h.members = make(map[string]*Client)
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, c := range members {
		c.Close()
	}
	h.metrics.joined(-float64(len(members)))
}

func (h *Hub) relay(ev store.Event) {
	env, err := changedEnvelope(ev, time.Now().UTC())
	if err != nil {
		h.log.Error("sync.hub.envelope.fail", "key", ev.Key, "err", err)
		return
	}
	h.Broadcast(env)
}

// Join adds a client to membership.
func (h *Hub) Join(client *Client) {
	if client == nil || client.SessionID == "" {
		return
	}

	h.mu.Lock()
	_, existed := h.members[client.SessionID]
	h.members[client.SessionID] = client
	h.mu.Unlock()

	if !existed {
		h.metrics.joined(1)
	}
	h.log.Info("sync.member.join", "session_id", client.SessionID, "tab_id", client.TabID)
}

// Leave removes a client from membership and then signals its shutdown.
func (h *Hub) Leave(sessionID string) {
	if sessionID == "" {
		return
	}

	h.mu.Lock()
	cl, ok := h.members[sessionID]
	delete(h.members, sessionID)
	h.mu.Unlock()

	if !ok {
		return
	}
	cl.Close()
	h.metrics.joined(-1)
	h.log.Info("sync.member.leave", "session_id", sessionID)
}

// Len reports the number of joined tabs.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Broadcast queues env for every member.
func (h *Hub) Broadcast(env Envelope) {
	var (
		sent     int
		laggards []string
	)

	h.mu.RLock()
	for id, m := range h.members {
		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
			sent++
		default:
			laggards = append(laggards, id)
		}
	}
	h.mu.RUnlock()

	h.metrics.relayed(sent)
	for _, id := range laggards {
		h.log.Warn("sync.member.evict", "session_id", id, "reason", "send queue full")
		h.metrics.evicted()
		h.Leave(id)
	}
}
