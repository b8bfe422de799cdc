// Package guest assembles the device-side engine: waitlist tracking, group
// orders, the notification log and nearby discovery, all behind one facade.
// Every call names the user explicitly.
package guest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/eventlog"
	"github.com/alfredjeanlab/tablequeue/internal/events"
	"github.com/alfredjeanlab/tablequeue/internal/feed"
	"github.com/alfredjeanlab/tablequeue/internal/geo"
	"github.com/alfredjeanlab/tablequeue/internal/kv"
	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/party"
	"github.com/alfredjeanlab/tablequeue/internal/store"
	"github.com/alfredjeanlab/tablequeue/internal/waitlist"
)

// Config wires an Engine.
type Config struct {
	Store      store.RowStore
	Subscriber events.Subscriber
	KV         kv.Store
	Alerter    waitlist.Alerter

	ResyncInterval    time.Duration
	SeatedReturnDelay time.Duration
	Nearby            geo.Options

	// OnView receives every recomputed entry view.
	OnView feed.ViewSink
	// OnReturn runs once the seated screen has been shown long enough.
	OnReturn func(entryID string)

	Logger *slog.Logger
}

// Engine is the guest-facing API.
type Engine struct {
	store   store.RowStore
	log     *eventlog.Log
	machine *waitlist.Machine
	feed    *feed.Reconciler
	waits   *waitlist.Service
	party   *party.Coordinator
	nearby  *geo.Engine
	logger  *slog.Logger
}

func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Nearby == (geo.Options{}) {
		cfg.Nearby = geo.DefaultOptions()
	}

	log := eventlog.New(cfg.KV)
	machine := waitlist.NewMachine(log, cfg.Alerter, waitlist.Options{
		SeatedReturnDelay: cfg.SeatedReturnDelay,
		OnReturn:          cfg.OnReturn,
		Marks:             waitlist.NewMarks(cfg.KV),
		Logger:            logger,
	})
	rc := feed.NewReconciler(cfg.Store, cfg.Subscriber, machine, feed.Options{
		ResyncInterval: cfg.ResyncInterval,
		OnView:         cfg.OnView,
		Logger:         logger,
	})
	return &Engine{
		store:   cfg.Store,
		log:     log,
		machine: machine,
		feed:    rc,
		waits:   waitlist.NewService(cfg.Store, machine, rc, log, logger),
		party:   party.NewCoordinator(cfg.Store, party.NewPointerStore(cfg.KV), log, logger),
		nearby:  geo.NewEngine(cfg.Nearby),
		logger:  logger,
	}
}

// Run drives the change feed and periodic resync until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	return e.feed.Run(ctx)
}

// Reconnected forces a resync after the change-feed transport reconnects.
func (e *Engine) Reconnected() {
	e.feed.Reconnected()
}

// Close drops every subscription and pending timer.
func (e *Engine) Close() {
	e.feed.Close()
	e.machine.Stop()
}

// Join puts the user's party in line.
func (e *Engine) Join(ctx context.Context, req waitlist.JoinRequest) (*model.WaitlistEntry, model.ActiveEntryView, error) {
	return e.waits.Join(ctx, req)
}

// Position returns the current view of an entry.
func (e *Engine) Position(ctx context.Context, entryID string) (model.ActiveEntryView, error) {
	return e.waits.View(ctx, entryID)
}

// Leave takes the user's party out of line.
func (e *Engine) Leave(ctx context.Context, userID, entryID string) (*model.WaitlistEntry, error) {
	return e.waits.Leave(ctx, userID, entryID)
}

// State returns the local machine state of a tracked entry.
func (e *Engine) State(entryID string) (waitlist.State, bool) {
	return e.machine.State(entryID)
}

// StartOrJoinSession opens or reuses the host's group order.
func (e *Engine) StartOrJoinSession(ctx context.Context, hostUserID, restaurantID string) (party.Outcome, error) {
	return e.party.StartOrJoin(ctx, hostUserID, restaurantID)
}

// ResolveSessionConflict applies the host's choice to a Conflict outcome.
func (e *Engine) ResolveSessionConflict(ctx context.Context, hostUserID, restaurantID string, conflict party.Outcome, action party.Resolution) (party.Outcome, error) {
	return e.party.Resolve(ctx, hostUserID, restaurantID, conflict, action)
}

// CancelSession cancels the host's session and its cart.
func (e *Engine) CancelSession(ctx context.Context, hostUserID, sessionID string) (*model.PartySession, error) {
	return e.party.Cancel(ctx, hostUserID, sessionID)
}

// JoinSession attaches the user to another host's session.
func (e *Engine) JoinSession(ctx context.Context, userID, sessionID string) (*model.PartySession, error) {
	return e.party.Join(ctx, userID, sessionID)
}

// AddItem adds a line to a session cart.
func (e *Engine) AddItem(ctx context.Context, it *model.SessionItem) error {
	return e.party.AddItem(ctx, it)
}

// Items lists a session cart.
func (e *Engine) Items(ctx context.Context, sessionID string) ([]*model.SessionItem, error) {
	return e.party.Items(ctx, sessionID)
}

// ResumeSession reattaches to the user's session after a restart.
func (e *Engine) ResumeSession(ctx context.Context, userID string) (*model.PartySession, error) {
	return e.party.Reattach(ctx, userID)
}

// Resume re-tracks every live entry of the user, typically on start-up.
// It returns the entries now tracked.
func (e *Engine) Resume(ctx context.Context, userID string) ([]*model.WaitlistEntry, error) {
	active, err := e.waits.Active(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", userID, err)
	}

	for _, entry := range active {
		alerted, err := e.machine.Raised(ctx, entry.ID, model.EventTableReady)
		if err != nil {
			return nil, fmt.Errorf("resume %s: %w", userID, err)
		}
		r, err := e.store.GetRestaurant(ctx, entry.RestaurantID)
		if err != nil {
			e.logger.Warn("restaurant unavailable on resume", "restaurant_id", entry.RestaurantID, "err", err)
		}
		baseline := entry
		if entry.Status == model.EntryNotified && !alerted {
			// Notified while this device was off: start from the waiting row
			// so the first resync raises table_ready.
			baseline = entry.Clone()
			baseline.Status = model.EntryWaiting
			baseline.NotifiedAt = nil
			baseline.Version--
		}
		if err := e.feed.Track(ctx, baseline, r); err != nil {
			e.logger.Warn("change feed unavailable on resume", "entry_id", entry.ID, "err", err)
		}
	}
	return active, nil
}

// Events lists the user's notification history, newest first.
func (e *Engine) Events(ctx context.Context, userID string) ([]model.NotificationEvent, error) {
	return e.log.List(ctx, userID)
}

func (e *Engine) MarkAllRead(ctx context.Context, userID string) error {
	return e.log.MarkAllRead(ctx, userID)
}

func (e *Engine) Clear(ctx context.Context, userID string) error {
	return e.log.Clear(ctx, userID)
}

func (e *Engine) UnreadCount(ctx context.Context, userID string) (int, error) {
	return e.log.UnreadCount(ctx, userID)
}

// Nearby clusters the restaurants around origin.
func (e *Engine) Nearby(ctx context.Context, origin geo.Point) ([]geo.Cluster, error) {
	rs, err := e.store.ListRestaurants(ctx)
	if err != nil {
		return nil, fmt.Errorf("nearby: %w", err)
	}
	candidates := make([]geo.Candidate, 0, len(rs))
	for _, r := range rs {
		candidates = append(candidates, geo.Candidate{
			ID:    r.ID,
			Name:  r.Name,
			Point: geo.Point{Lat: r.Latitude, Lng: r.Longitude},
		})
	}
	return e.nearby.Nearby(origin, candidates), nil
}

// CycleNext returns the next cluster from the last Nearby call.
func (e *Engine) CycleNext() (geo.Cluster, bool) {
	return e.nearby.CycleNext()
}
