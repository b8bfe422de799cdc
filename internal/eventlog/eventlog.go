// Package eventlog keeps each user's notification history on the device.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/idgen"
	"github.com/alfredjeanlab/tablequeue/internal/kv"
	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// MaxEvents is the number of events kept per user; older ones are dropped.
const MaxEvents = 100

// Log is an append-only, newest-first notification history per user,
// persisted through a kv.Store. Nothing is cached: every call reads the
// store and every mutation is a single kv.Store.Update, so several
// processes sharing one device state see each other's events and a failed
// write changes nothing.
type Log struct {
	store kv.Store
	now   func() time.Time
}

func New(store kv.Store) *Log {
	return &Log{store: store, now: time.Now}
}

func key(userID string) string {
	return "events/" + userID
}

func (l *Log) load(ctx context.Context, userID string) ([]model.NotificationEvent, error) {
	var evs []model.NotificationEvent
	if _, err := kv.GetJSON(ctx, l.store, key(userID), &evs); err != nil {
		return nil, fmt.Errorf("load events for %s: %w", userID, err)
	}
	return evs, nil
}

// update applies fn to the stored log under the store's write lock.
func (l *Log) update(ctx context.Context, userID string, fn func(evs []model.NotificationEvent) []model.NotificationEvent) error {
	_, err := kv.UpdateJSON(ctx, l.store, key(userID), func(evs *[]model.NotificationEvent, _ bool) error {
		next := fn(*evs)
		if next == nil {
			next = []model.NotificationEvent{}
		}
		*evs = next
		return nil
	})
	if err != nil {
		return fmt.Errorf("save events for %s: %w", userID, err)
	}
	return nil
}

// Append prepends ev to the user's log, assigning an id and timestamp when
// they are unset, and drops the oldest events beyond MaxEvents.
func (l *Log) Append(ctx context.Context, userID string, ev model.NotificationEvent) (model.NotificationEvent, error) {
	if ev.Payload == nil || ev.Payload.EventType() != ev.Type {
		return ev, fmt.Errorf("append event: payload does not match type %q: %w", ev.Type, model.ErrInvalidInput)
	}
	if ev.ID == "" {
		id, err := idgen.Event()
		if err != nil {
			return ev, err
		}
		ev.ID = id
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now().UTC()
	}
	ev.Read = false

	err := l.update(ctx, userID, func(cur []model.NotificationEvent) []model.NotificationEvent {
		n := min(len(cur), MaxEvents-1)
		next := make([]model.NotificationEvent, 0, n+1)
		next = append(next, ev)
		return append(next, cur[:n]...)
	})
	if err != nil {
		return ev, err
	}
	return ev, nil
}

// List returns the user's events, newest first.
func (l *Log) List(ctx context.Context, userID string) ([]model.NotificationEvent, error) {
	return l.load(ctx, userID)
}

// MarkAllRead marks every event read.
func (l *Log) MarkAllRead(ctx context.Context, userID string) error {
	return l.update(ctx, userID, func(cur []model.NotificationEvent) []model.NotificationEvent {
		for i := range cur {
			cur[i].Read = true
		}
		return cur
	})
}

// Clear removes every event.
func (l *Log) Clear(ctx context.Context, userID string) error {
	return l.update(ctx, userID, func([]model.NotificationEvent) []model.NotificationEvent {
		return nil
	})
}

// UnreadCount returns the number of events not yet read.
func (l *Log) UnreadCount(ctx context.Context, userID string) (int, error) {
	cur, err := l.load(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ev := range cur {
		if !ev.Read {
			n++
		}
	}
	return n, nil
}
