// Package server exposes the shared row store over HTTP and publishes a
// change-feed delta after every accepted write.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alfredjeanlab/tablequeue/internal/events"
	"github.com/alfredjeanlab/tablequeue/internal/metrics"
	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/presence"
	"github.com/alfredjeanlab/tablequeue/internal/store"
)

// DeviceHeader identifies the guest device on position reads.
const DeviceHeader = "X-Device-ID"

// Server owns the canonical rows. It never runs the waitlist state machine;
// it only accepts conditional writes and publishes what changed.
type Server struct {
	store     store.Store
	publisher events.Publisher
	sseHub    *sseHub
	Presence  *presence.Tracker
}

// New returns a Server backed by the given store and publisher.
func New(s store.Store, p events.Publisher) *Server {
	return &Server{
		store:     s,
		publisher: p,
		sseHub:    newSSEHub(),
		Presence:  presence.New(),
	}
}

// publish sends event on topic to the bus and the SSE hub. Both are
// best-effort; the write they describe has already been committed.
func (s *Server) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
	s.broadcastEvent(topic, event)
}

// entryChanged publishes an entry delta on the entry's own topic and on its
// restaurant's entry-set topic, then refreshes the queue length gauge.
func (s *Server) entryChanged(ctx context.Context, op events.Op, e *model.WaitlistEntry) {
	ev := events.EntryChanged{Op: op, Entry: e}
	s.publish(ctx, events.EntryTopic(e.ID), ev)
	s.publish(ctx, events.RestaurantEntriesTopic(e.RestaurantID), ev)
	metrics.EntryTransitions.WithLabelValues(string(e.Status)).Inc()
	if e.Status.IsTerminal() {
		s.Presence.Forget(e.ID)
		s.refreshWatchers(e.RestaurantID)
	}
	s.refreshQueueLength(ctx, e.RestaurantID)
}

func (s *Server) restaurantChanged(ctx context.Context, op events.Op, r *model.Restaurant) {
	s.publish(ctx, events.RestaurantTopic(r.ID), events.RestaurantChanged{Op: op, Restaurant: r})
}

func (s *Server) sessionChanged(ctx context.Context, op events.Op, ps *model.PartySession) {
	s.publish(ctx, events.SessionTopic(ps.ID), events.SessionChanged{Op: op, Session: ps})
}

func (s *Server) refreshQueueLength(ctx context.Context, restaurantID string) {
	waiting, err := s.store.ListEntries(ctx, model.EntryFilter{
		RestaurantID: restaurantID,
		Status:       []model.EntryStatus{model.EntryWaiting},
	})
	if err != nil {
		slog.Warn("failed to count queue", "restaurant_id", restaurantID, "error", err)
		return
	}
	metrics.QueueLength.WithLabelValues(restaurantID).Set(float64(len(waiting)))
}

// writeStoreError maps the store's error taxonomy onto HTTP status codes.
// operation labels rejected conditional writes in the conflict counter.
func writeStoreError(w http.ResponseWriter, operation string, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrConflict):
		metrics.WriteConflicts.WithLabelValues(operation).Inc()
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrTransient):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error("store failure", "operation", operation, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+operation)
	}
}

// refreshWatchers sets the watcher gauge for a restaurant from the presence
// roster. The reaper calls it when a device goes idle.
func (s *Server) refreshWatchers(restaurantID string) {
	metrics.Watchers.WithLabelValues(restaurantID).Set(float64(s.Presence.Active(restaurantID)))
}

// OnWatcherIdle is a presence.ReaperConfig OnIdle hook.
func (s *Server) OnWatcherIdle(w presence.Watcher) {
	s.refreshWatchers(w.RestaurantID)
}
