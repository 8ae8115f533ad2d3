// Package socket carries collab events over WebSocket connections as JSON
// text frames of the form {"event": name, "data": payload}.
package socket

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
)

// Frame is the wire envelope for inbound messages.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type client struct {
	id   string
	send chan []byte
}

// Registry tracks live connections and implements collab.Emitter. Each
// connection has a bounded outbound queue; when it is full the frame is
// dropped for that connection only.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*client
	buffer  int
	log     *slog.Logger
}

func NewRegistry(buffer int, logger *slog.Logger) *Registry {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		clients: make(map[string]*client),
		buffer:  buffer,
		log:     logger,
	}
}

// Emit encodes one frame and queues it for connID without blocking.
func (r *Registry) Emit(connID, event string, payload any) {
	raw, err := json.Marshal(outFrame{Event: event, Data: payload})
	if err != nil {
		r.log.Error("encode frame", "event", event, "conn_id", connID, "error", err)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	if !ok {
		return
	}
	select {
	case c.send <- raw:
	default:
		r.log.Warn("outbound queue full, dropping frame", "event", event, "conn_id", connID)
	}
}

func (r *Registry) register(id string) *client {
	c := &client{id: id, send: make(chan []byte, r.buffer)}
	r.mu.Lock()
	r.clients[id] = c
	r.mu.Unlock()
	return c
}

// unregister removes id and closes its queue, which ends its writer.
func (r *Registry) unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return false
	}
	delete(r.clients, id)
	close(c.send)
	return true
}

// Count reports the number of open connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// IDs lists open connection ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// CloseAll ends every connection. Readers notice the closed sockets and
// report their disconnects as usual.
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		r.unregister(id)
	}
}
