// Package realtime fans pipeline change events out to websocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/hylla/boardflow/internal/domain"
)

// sendBuffer bounds the per-subscriber queue; slow readers drop frames.
const sendBuffer = 64

// writeTimeout bounds one frame write to a subscriber socket.
const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// subscriber is one websocket connection pinned to a single topic.
type subscriber struct {
	topic string
	send  chan []byte
}

// Hub is an in-process publisher keyed by pipeline topic.
//
// Publish never blocks on a subscriber: each connection owns a bounded
// queue and frames to a full queue are dropped with a warning.
type Hub struct {
	logger *log.Logger

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

// NewHub builds an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		logger:      logger,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Publish marshals the event once and enqueues it for every subscriber of
// the event's pipeline topic.
func (h *Hub) Publish(_ context.Context, event domain.PipelineEvent) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return err
	}
	topic := event.Topic()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		if sub.topic != topic {
			continue
		}
		select {
		case sub.send <- frame:
		default:
			h.logger.Warn("subscriber queue full, dropping frame",
				"topic", topic, "action", event.Action)
		}
	}
	return nil
}

// SubscriberCount reports the current connections on one topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for sub := range h.subscribers {
		if sub.topic == topic {
			n++
		}
	}
	return n
}

// ServeHTTP upgrades one connection and streams its pipeline's events.
// The pipelineId query parameter selects the topic.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pipelineID := r.URL.Query().Get("pipelineId")
	if pipelineID == "" {
		http.Error(w, "pipelineId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	sub := &subscriber{
		topic: domain.PipelineTopic(pipelineID),
		send:  make(chan []byte, sendBuffer),
	}
	if !h.add(sub) {
		_ = conn.Close()
		return
	}
	h.logger.Debug("subscriber connected", "topic", sub.topic)

	go h.writeLoop(conn, sub)
	h.readLoop(conn, sub)
}

// add registers a subscriber unless the hub is already shut down.
func (h *Hub) add(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subscribers[sub] = struct{}{}
	return true
}

// remove drops a subscriber and closes its queue once.
func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.send)
}

// writeLoop pumps queued frames to the socket until the queue closes.
func (h *Hub) writeLoop(conn *websocket.Conn, sub *subscriber) {
	defer func() {
		_ = conn.Close()
	}()
	for frame := range sub.send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.logger.Debug("subscriber write failed", "topic", sub.topic, "err", err)
			h.remove(sub)
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

// readLoop discards inbound frames and tears down on disconnect. The
// subscription is one-way; clients send nothing but control frames.
func (h *Hub) readLoop(conn *websocket.Conn, sub *subscriber) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(sub)
	h.logger.Debug("subscriber disconnected", "topic", sub.topic)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}
