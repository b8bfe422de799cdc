package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/events"
)

const (
	// replayBufferSize bounds how many recent deltas a reconnecting stream
	// can catch up on via Last-Event-ID.
	replayBufferSize = 1000

	streamKeepalive = 15 * time.Second
)

// streamEvent is one delta as delivered to a stream client.
type streamEvent struct {
	ID    uint64
	Topic string
	Data  []byte
}

// sseHub fans the server's change-feed deltas out to HTTP stream clients,
// for devices that cannot reach the NATS bus directly.
type sseHub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	nextID  atomic.Uint64

	replayMu sync.RWMutex
	replay   [replayBufferSize]streamEvent
	head     int // next write slot
	size     int
}

type streamClient struct {
	patterns []string // empty matches every topic
	ch       chan *streamEvent
}

func newSSEHub() *sseHub {
	return &sseHub{clients: make(map[*streamClient]struct{})}
}

// broadcast stamps the delta with the next ID, keeps it for replay and
// offers it to every matching client. A client whose buffer is full misses
// the delta and must rely on its periodic resync.
func (h *sseHub) broadcast(topic string, payload []byte) {
	evt := &streamEvent{ID: h.nextID.Add(1), Topic: topic, Data: payload}

	h.replayMu.Lock()
	h.replay[h.head] = *evt
	h.head = (h.head + 1) % replayBufferSize
	if h.size < replayBufferSize {
		h.size++
	}
	h.replayMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(topic) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
		}
	}
}

func (h *sseHub) subscribe(patterns []string) *streamClient {
	c := &streamClient{patterns: patterns, ch: make(chan *streamEvent, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *sseHub) unsubscribe(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *sseHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// since returns the buffered deltas newer than lastID, oldest first.
func (h *sseHub) since(lastID uint64) []*streamEvent {
	h.replayMu.RLock()
	defer h.replayMu.RUnlock()

	var out []*streamEvent
	start := (h.head - h.size + replayBufferSize) % replayBufferSize
	for i := 0; i < h.size; i++ {
		evt := &h.replay[(start+i)%replayBufferSize]
		if evt.ID > lastID {
			out = append(out, evt)
		}
	}
	return out
}

func (c *streamClient) wants(topic string) bool {
	if len(c.patterns) == 0 {
		return true
	}
	for _, p := range c.patterns {
		if events.MatchTopic(p, topic) {
			return true
		}
	}
	return false
}

// handleEventStream handles GET /v1/events/stream.
//
// Query parameters:
//   - topics: comma-separated NATS-style patterns, e.g. "tq.entries.wl-abc,tq.restaurants.*.row"
//
// A Last-Event-ID header replays buffered deltas the client missed.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	client := s.sseHub.subscribe(queryList(r, "topics"))
	defer s.sseHub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if lastID, err := strconv.ParseUint(v, 10, 64); err == nil {
			for _, evt := range s.sseHub.since(lastID) {
				if client.wants(evt.Topic) {
					writeStreamEvent(w, evt)
				}
			}
			flusher.Flush()
		}
	}

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-client.ch:
			writeStreamEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeStreamEvent(w http.ResponseWriter, evt *streamEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", evt.ID, evt.Topic, evt.Data)
}

func (s *Server) broadcastEvent(topic string, event any) {
	if s.sseHub == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal delta for stream", "topic", topic, "error", err)
		return
	}
	s.sseHub.broadcast(topic, payload)
}
