package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dontdude/mypyplay/internal/domain"
)

const (
	writeTimeout = 5 * time.Second
	// pendingTTL is how long a result waits for its client to connect.
	pendingTTL = time.Minute
)

type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscriber) send(res domain.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(res)
}

type pending struct {
	result domain.JobResult
	at     time.Time
}

// Hub routes job results to the websocket waiting for that job. Results that
// arrive before their client connects are held for pendingTTL.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*subscriber
	pending map[string]pending
	logger  *slog.Logger
	now     func() time.Time
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*subscriber),
		pending: make(map[string]pending),
		logger:  logger,
		now:     time.Now,
	}
}

// Register attaches conn to jobID, replacing any previous connection, and
// flushes a result that is already waiting.
func (h *Hub) Register(jobID string, conn *websocket.Conn) {
	sub := &subscriber{conn: conn}

	h.mu.Lock()
	h.clients[jobID] = sub
	p, ok := h.pending[jobID]
	delete(h.pending, jobID)
	h.mu.Unlock()

	if ok {
		h.write(sub, p.result)
	}
}

// Unregister detaches conn if it is still the one registered for jobID.
func (h *Hub) Unregister(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.clients[jobID]; ok && sub.conn == conn {
		delete(h.clients, jobID)
	}
}

// Deliver forwards res to its client, or parks it until the client connects.
func (h *Hub) Deliver(res domain.JobResult) {
	h.mu.Lock()
	sub, ok := h.clients[res.JobID]
	if !ok {
		h.pruneLocked()
		h.pending[res.JobID] = pending{result: res, at: h.now()}
	}
	h.mu.Unlock()

	if ok {
		h.write(sub, res)
	}
}

// Run forwards everything broadcast on q until ctx is done.
func (h *Hub) Run(ctx context.Context, q domain.JobQueue) error {
	h.logger.Info("Starting result broadcaster...")

	results, err := q.SubscribeLogs(ctx)
	if err != nil {
		return err
	}
	for res := range results {
		h.Deliver(res)
	}
	return nil
}

// Pending returns how many results are waiting for a client.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

func (h *Hub) write(sub *subscriber, res domain.JobResult) {
	if err := sub.send(res); err != nil {
		h.logger.Error("Failed to write to websocket", "jobID", res.JobID, "error", err)
	}
}

func (h *Hub) pruneLocked() {
	cutoff := h.now().Add(-pendingTTL)
	for id, p := range h.pending {
		if p.at.Before(cutoff) {
			delete(h.pending, id)
		}
	}
}
