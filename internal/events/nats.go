package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/tablequeue/internal/metrics"
)

func connect(url, name string, opts ...nats.Option) (*nats.Conn, error) {
	base := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher is the server side of the change feed: one subject per topic,
// JSON payloads.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := connect(url, "tq-server")
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, topic string, event any) error {
	if strings.ContainsAny(topic, "*> ") {
		return fmt.Errorf("publish to %q: not a concrete subject", topic)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling delta for %s: %w", topic, err)
	}
	return p.conn.Publish(topic, data)
}

// Close flushes pending deltas before disconnecting.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// NATSSubscriber is the device side of the change feed.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects with unlimited reconnects. Pass
// nats.ReconnectHandler to learn when a resync is due.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := connect(url, "tq-device", opts...)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// feed is one subscription's delivery channel. deliver and stop share mu so
// nothing is sent after the channel closes.
type feed struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func (f *feed) deliver(msg *nats.Msg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- msg.Data:
	default:
		metrics.FeedDropped.Inc()
	}
}

func (f *feed) stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	close(f.ch)
}

func (s *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	f := &feed{ch: make(chan []byte, 64)}
	sub, err := s.conn.Subscribe(topic, f.deliver)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// The interest must reach the server before the caller reads the row it
	// is about to watch, or a write in between is missed.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", topic, err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			f.stop()
		})
	}
	return f.ch, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
