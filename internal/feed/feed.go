// Package feed keeps the guest's tracked entries in step with the shared
// store. It subscribes to the change feed for every tracked entry and its
// restaurant, hands entry rows to the waitlist machine, recomputes queue
// positions, and falls back to a periodic full resync.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/events"
	"github.com/alfredjeanlab/tablequeue/internal/metrics"
	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/queue"
	"github.com/alfredjeanlab/tablequeue/internal/waitlist"
)

// DefaultResyncInterval is how often a full resync runs when no interval is
// configured.
const DefaultResyncInterval = 60 * time.Second

// Source is the slice of the row store the reconciler reads.
type Source interface {
	GetRestaurant(ctx context.Context, id string) (*model.Restaurant, error)
	GetEntry(ctx context.Context, id string) (*model.WaitlistEntry, error)
	ListEntries(ctx context.Context, filter model.EntryFilter) ([]*model.WaitlistEntry, error)
}

// ViewSink receives a fresh view each time a tracked entry's display state
// may have changed.
type ViewSink func(model.ActiveEntryView)

// Options configures a Reconciler.
type Options struct {
	ResyncInterval time.Duration
	OnView         ViewSink
	Logger         *slog.Logger
}

type deltaKind string

const (
	kindEntry      deltaKind = "entry"
	kindEntries    deltaKind = "entries"
	kindRestaurant deltaKind = "restaurant"
)

type delta struct {
	kind deltaKind
	// id is the entry id for kindEntry and the restaurant id otherwise.
	id   string
	data []byte
}

// Reconciler owns the change-feed subscriptions of the guest device.
// It implements waitlist.Tracker.
type Reconciler struct {
	src     Source
	sub     events.Subscriber
	machine *waitlist.Machine
	opts    Options
	logger  *slog.Logger

	deltas    chan delta
	reconnect chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	subs        map[string]func()            // registry key -> cancel
	entries     map[string]string            // entry id -> restaurant id
	restaurants map[string]*model.Restaurant // cached restaurant rows
}

var _ waitlist.Tracker = (*Reconciler)(nil)

func NewReconciler(src Source, sub events.Subscriber, machine *waitlist.Machine, opts Options) *Reconciler {
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = DefaultResyncInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		src:         src,
		sub:         sub,
		machine:     machine,
		opts:        opts,
		logger:      logger,
		deltas:      make(chan delta, 256),
		reconnect:   make(chan struct{}, 1),
		done:        make(chan struct{}),
		subs:        make(map[string]func()),
		entries:     make(map[string]string),
		restaurants: make(map[string]*model.Restaurant),
	}
}

func entryKey(id string) string       { return "entry:" + id }
func entriesKey(rid string) string    { return "entries:" + rid }
func restaurantKey(rid string) string { return "restaurant:" + rid }

// Track starts following entry. It subscribes to the entry's own feed and,
// if this is the first tracked entry at the restaurant, to the restaurant's
// entry-set and row feeds.
func (r *Reconciler) Track(ctx context.Context, entry *model.WaitlistEntry, rest *model.Restaurant) error {
	name := ""
	if rest != nil {
		name = rest.Name
	}
	r.machine.Track(entry, name)

	r.mu.Lock()
	r.entries[entry.ID] = entry.RestaurantID
	if rest != nil {
		r.restaurants[rest.ID] = rest.Clone()
	}
	var errs []error
	if err := r.subscribeLocked(entryKey(entry.ID), events.EntryTopic(entry.ID), kindEntry, entry.ID); err != nil {
		errs = append(errs, err)
	}
	if err := r.subscribeLocked(entriesKey(entry.RestaurantID), events.RestaurantEntriesTopic(entry.RestaurantID), kindEntries, entry.RestaurantID); err != nil {
		errs = append(errs, err)
	}
	if err := r.subscribeLocked(restaurantKey(entry.RestaurantID), events.RestaurantTopic(entry.RestaurantID), kindRestaurant, entry.RestaurantID); err != nil {
		errs = append(errs, err)
	}
	r.mu.Unlock()

	// A missed subscription is covered by the next resync.
	return errors.Join(errs...)
}

// subscribeLocked adds one registry entry. Callers hold r.mu.
func (r *Reconciler) subscribeLocked(key, topic string, kind deltaKind, id string) error {
	if _, ok := r.subs[key]; ok {
		if kind == kindEntry {
			r.logger.Error("duplicate subscription", "key", key, "topic", topic)
		}
		return nil
	}
	ch, cancel, err := r.sub.Subscribe(topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	r.subs[key] = cancel
	go r.forward(ch, kind, id)
	return nil
}

func (r *Reconciler) forward(ch <-chan []byte, kind deltaKind, id string) {
	for data := range ch {
		select {
		case r.deltas <- delta{kind: kind, id: id, data: data}:
		case <-r.done:
			return
		}
	}
}

func (r *Reconciler) cancelLocked(key string) {
	if cancel, ok := r.subs[key]; ok {
		cancel()
		delete(r.subs, key)
	}
}

// Untrack stops following the entry and drops its feed. The restaurant
// feeds are dropped once no tracked entry remains at that restaurant.
func (r *Reconciler) Untrack(entryID string) {
	r.machine.Untrack(entryID)

	r.mu.Lock()
	defer r.mu.Unlock()
	rid, ok := r.entries[entryID]
	r.cancelLocked(entryKey(entryID))
	if !ok {
		return
	}
	delete(r.entries, entryID)
	for _, other := range r.entries {
		if other == rid {
			return
		}
	}
	r.cancelLocked(entriesKey(rid))
	r.cancelLocked(restaurantKey(rid))
	delete(r.restaurants, rid)
}

// Subscriptions returns the registry keys currently held.
func (r *Reconciler) Subscriptions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k)
	}
	return keys
}

// Reconnected schedules an immediate resync. It never blocks.
func (r *Reconciler) Reconnected() {
	select {
	case r.reconnect <- struct{}{}:
	default:
	}
}

// Run applies deltas and periodic resyncs until ctx is done. It resyncs
// once on start.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.ResyncInterval)
	defer ticker.Stop()

	r.resyncAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case d := <-r.deltas:
			r.apply(ctx, d)
		case <-r.reconnect:
			r.resyncAndLog(ctx)
		case <-ticker.C:
			r.resyncAndLog(ctx)
		}
	}
}

// Close drops every subscription and stops Run.
func (r *Reconciler) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.mu.Lock()
		defer r.mu.Unlock()
		for key := range r.subs {
			r.cancelLocked(key)
		}
	})
}

func (r *Reconciler) apply(ctx context.Context, d delta) {
	switch d.kind {
	case kindEntry:
		ev, err := events.DecodeEntryChanged(d.data)
		if err != nil || ev.Entry.ID != d.id {
			r.malformed(d, err)
			return
		}
		r.observe(ctx, ev.Entry)

	case kindEntries:
		ev, err := events.DecodeEntryChanged(d.data)
		if err != nil || ev.Entry.RestaurantID != d.id {
			r.malformed(d, err)
			return
		}
		if err := r.refresh(ctx, d.id); err != nil {
			r.logger.Warn("failed to refresh positions", "restaurant_id", d.id, "err", err)
			metrics.FeedDeltas.WithLabelValues(string(d.kind), metrics.ResultFailed).Inc()
			return
		}
		metrics.FeedDeltas.WithLabelValues(string(d.kind), metrics.ResultApplied).Inc()

	case kindRestaurant:
		ev, err := events.DecodeRestaurantChanged(d.data)
		if err != nil || ev.Restaurant.ID != d.id {
			r.malformed(d, err)
			return
		}
		r.mu.Lock()
		_, tracking := r.restaurants[d.id]
		if tracking || r.hasEntriesAtLocked(d.id) {
			r.restaurants[d.id] = ev.Restaurant.Clone()
		}
		r.mu.Unlock()
		if err := r.refresh(ctx, d.id); err != nil {
			r.logger.Warn("failed to refresh views", "restaurant_id", d.id, "err", err)
		}
		metrics.FeedDeltas.WithLabelValues(string(d.kind), metrics.ResultApplied).Inc()
	}
}

func (r *Reconciler) malformed(d delta, err error) {
	if err == nil {
		err = errors.New("row does not match subscription")
	}
	r.logger.Warn("skipping malformed delta", "kind", d.kind, "id", d.id, "err", err)
	metrics.FeedDeltas.WithLabelValues(string(d.kind), metrics.ResultMalformed).Inc()
}

// observe hands one entry row to the machine and reacts to the result.
func (r *Reconciler) observe(ctx context.Context, entry *model.WaitlistEntry) {
	res, err := r.machine.Observe(ctx, entry)
	switch {
	case errors.Is(err, waitlist.ErrTransitionNotAllowed):
		r.logger.Error("entry moved along a forbidden transition", "entry_id", entry.ID, "err", err)
	case err != nil:
		// Not applied; the next resync retries.
		r.logger.Warn("failed to apply entry row", "entry_id", entry.ID, "err", err)
		metrics.FeedDeltas.WithLabelValues(string(kindEntry), metrics.ResultFailed).Inc()
		return
	}
	if !res.Applied {
		metrics.FeedDeltas.WithLabelValues(string(kindEntry), metrics.ResultIgnored).Inc()
		return
	}
	metrics.FeedDeltas.WithLabelValues(string(kindEntry), metrics.ResultApplied).Inc()

	if err := r.refresh(ctx, entry.RestaurantID); err != nil {
		r.logger.Warn("failed to refresh positions", "restaurant_id", entry.RestaurantID, "err", err)
	}
	if res.Terminal {
		r.Untrack(entry.ID)
	}
}

func (r *Reconciler) hasEntriesAtLocked(rid string) bool {
	for _, other := range r.entries {
		if other == rid {
			return true
		}
	}
	return false
}

// refresh recomputes the view of every tracked entry at the restaurant from
// one listing of its waiting entries.
func (r *Reconciler) refresh(ctx context.Context, rid string) error {
	r.mu.Lock()
	var ids []string
	for id, other := range r.entries {
		if other == rid {
			ids = append(ids, id)
		}
	}
	rest := r.restaurants[rid].Clone()
	r.mu.Unlock()
	if len(ids) == 0 || r.opts.OnView == nil {
		return nil
	}

	waiting, err := r.src.ListEntries(ctx, model.EntryFilter{
		RestaurantID: rid,
		Status:       []model.EntryStatus{model.EntryWaiting},
	})
	if err != nil {
		return fmt.Errorf("list waiting entries at %s: %w", rid, err)
	}
	for _, id := range ids {
		last, ok := r.machine.Last(id)
		if !ok {
			continue
		}
		r.opts.OnView(queue.View(last, queue.Rank(last, waiting), rest))
	}
	return nil
}

// Resync re-reads every tracked entry and restaurant from the store. An
// entry that no longer exists is untracked. Other read failures are returned
// joined and leave the entry as it was for the next attempt.
func (r *Reconciler) Resync(ctx context.Context) error {
	r.mu.Lock()
	entries := make(map[string]string, len(r.entries))
	for id, rid := range r.entries {
		entries[id] = rid
	}
	r.mu.Unlock()

	var errs []error
	rids := make(map[string]struct{})
	for id, rid := range entries {
		rids[rid] = struct{}{}
		entry, err := r.src.GetEntry(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			r.logger.Warn("tracked entry is gone", "entry_id", id)
			r.Untrack(id)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("resync %s: %w", id, err))
			continue
		}
		r.observe(ctx, entry)
	}

	for rid := range rids {
		rest, err := r.src.GetRestaurant(ctx, rid)
		if err != nil {
			errs = append(errs, fmt.Errorf("resync restaurant %s: %w", rid, err))
			continue
		}
		r.mu.Lock()
		if r.hasEntriesAtLocked(rid) {
			r.restaurants[rid] = rest
		}
		r.mu.Unlock()
		if err := r.refresh(ctx, rid); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) resyncAndLog(ctx context.Context) {
	if err := r.Resync(ctx); err != nil {
		r.logger.Warn("resync incomplete", "err", err)
		metrics.Resyncs.WithLabelValues(metrics.ResyncPartial).Inc()
		return
	}
	metrics.Resyncs.WithLabelValues(metrics.ResyncOK).Inc()
}
