package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/events"
)

var _ events.Subscriber = (*StreamSubscriber)(nil)

// StreamSubscriber implements events.Subscriber over the server's SSE
// endpoint. Each subscription holds one streaming request and reconnects
// with Last-Event-ID after a drop.
type StreamSubscriber struct {
	c              *HTTPClient
	stream         *http.Client
	retry          time.Duration
	connectTimeout time.Duration
	onReconnect    func()
	logger         *slog.Logger

	mu      sync.Mutex
	cancels map[int]func()
	nextID  int
	closed  bool
}

// StreamOptions tunes a StreamSubscriber.
type StreamOptions struct {
	// Retry is the pause before reconnecting. Default: 2 seconds.
	Retry time.Duration
	// ConnectTimeout bounds how long Subscribe waits for the stream to be
	// established. Default: 5 seconds.
	ConnectTimeout time.Duration
	// OnReconnect runs after a dropped stream is re-established. The
	// reconciler uses it to resync rows it may have missed.
	OnReconnect func()
	Logger      *slog.Logger
}

// NewStreamSubscriber returns a subscriber that streams through c.
func NewStreamSubscriber(c *HTTPClient, opts StreamOptions) *StreamSubscriber {
	if opts.Retry <= 0 {
		opts.Retry = 2 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &StreamSubscriber{
		c:              c,
		stream:         &http.Client{Transport: c.httpClient.Transport},
		retry:          opts.Retry,
		connectTimeout: opts.ConnectTimeout,
		onReconnect:    opts.OnReconnect,
		logger:         opts.Logger,
		cancels:        make(map[int]func()),
	}
}

// Subscribe opens a stream filtered to topic and returns once the server
// has accepted it, so a write made after Subscribe returns is delivered.
// If the first attempt fails Subscribe returns anyway; the stream keeps
// retrying and OnReconnect runs when it is up. The returned cancel func
// ends the stream and closes the channel; it is safe to call more than
// once.
func (s *StreamSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("subscribing to %s: subscriber closed", topic)
	}
	id := s.nextID
	s.nextID++
	ctx, stop := context.WithCancel(context.Background())
	ch := make(chan []byte, 64)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			<-done
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
		})
	}
	s.cancels[id] = cancel
	s.mu.Unlock()

	ready := make(chan struct{})
	var readyOnce sync.Once
	settled := func() { readyOnce.Do(func() { close(ready) }) }

	go func() {
		defer close(done)
		defer close(ch)
		defer settled()
		s.run(ctx, topic, ch, settled)
	}()

	timer := time.NewTimer(s.connectTimeout)
	defer timer.Stop()
	select {
	case <-ready:
	case <-timer.C:
		s.logger.Warn("event stream not yet connected", "topic", topic)
	}
	return ch, cancel, nil
}

// run reads the stream until ctx is done. settled is called once the first
// attempt has either connected or failed.
func (s *StreamSubscriber) run(ctx context.Context, topic string, ch chan<- []byte, settled func()) {
	var lastID string
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retry):
			}
		}
		err := s.read(ctx, topic, &lastID, ch, attempt > 0, settled)
		settled()
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("event stream dropped", "topic", topic, "error", err)
	}
}

// read holds one streaming request open until it ends, delivering each
// event's data and recording its ID in lastID. connected runs once the
// server has answered 200.
func (s *StreamSubscriber) read(ctx context.Context, topic string, lastID *string, ch chan<- []byte, reconnect bool, connected func()) error {
	req, err := s.c.newRequest(ctx, http.MethodGet, "/v1/events/stream?topics="+url.QueryEscape(topic), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if *lastID != "" {
		req.Header.Set("Last-Event-ID", *lastID)
	}

	resp, err := s.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	connected()
	if reconnect && s.onReconnect != nil {
		s.onReconnect()
	}

	br := bufio.NewReader(resp.Body)
	var id string
	var data []byte
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if data != nil {
				select {
				case ch <- data:
				default:
				}
				if id != "" {
					*lastID = id
				}
			}
			id, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimPrefix(line, "id:")
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(line, "data:")...)
		}
	}
}

// Close ends every open stream.
func (s *StreamSubscriber) Close() error {
	s.mu.Lock()
	s.closed = true
	cancels := make([]func(), 0, len(s.cancels))
	for _, c := range s.cancels {
		cancels = append(cancels, c)
	}
	s.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	return nil
}
