// Package party coordinates group-order sessions so that a host never has
// more than one open session at a time.
package party

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/idgen"
	"github.com/alfredjeanlab/tablequeue/internal/metrics"
	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/store"
)

// Kind classifies the result of StartOrJoin.
type Kind int

const (
	// Created means a new session was opened.
	Created Kind = iota
	// Reused means the host already had an open session at this restaurant.
	Reused
	// Conflict means the host has an open session at another restaurant.
	// The caller must resolve it explicitly.
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Reused:
		return "reused"
	case Conflict:
		return "conflict"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Outcome is the result of StartOrJoin. For Conflict, Session is the
// existing open session at the other restaurant.
type Outcome struct {
	Kind    Kind
	Session *model.PartySession
}

// Resolution is the caller's choice for a Conflict outcome.
type Resolution int

const (
	// ResolveNavigate keeps the existing session and returns it.
	ResolveNavigate Resolution = iota
	// ResolveCancel cancels the existing session, then starts again.
	ResolveCancel
)

// Recorder persists user-visible events.
type Recorder interface {
	Append(ctx context.Context, userID string, ev model.NotificationEvent) (model.NotificationEvent, error)
}

// Coordinator implements the group-order commands.
type Coordinator struct {
	store    store.RowStore
	pointers *PointerStore
	rec      Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewCoordinator(rs store.RowStore, pointers *PointerStore, rec Recorder, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    rs,
		pointers: pointers,
		rec:      rec,
		logger:   logger,
		now:      time.Now,
	}
}

// openSession returns the host's most recent open session, or nil.
func (c *Coordinator) openSession(ctx context.Context, hostUserID string) (*model.PartySession, error) {
	open, err := c.store.ListSessions(ctx, model.SessionFilter{
		HostUserID: hostUserID,
		Status:     []model.SessionStatus{model.SessionOpen},
		Limit:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("query open sessions for %s: %w", hostUserID, err)
	}
	if len(open) == 0 {
		return nil, nil
	}
	return open[0], nil
}

func classify(existing *model.PartySession, restaurantID string) Outcome {
	if existing.RestaurantID == restaurantID {
		return Outcome{Kind: Reused, Session: existing}
	}
	return Outcome{Kind: Conflict, Session: existing}
}

// StartOrJoin opens a group order for hostUserID at restaurantID, or
// returns the host's existing open session.
//
// The create is conditional in the store: if another device of the same
// host wins the race, the store answers ErrConflict and the winner's
// session is classified instead.
func (c *Coordinator) StartOrJoin(ctx context.Context, hostUserID, restaurantID string) (Outcome, error) {
	out, err := c.startOrJoin(ctx, hostUserID, restaurantID)
	if err == nil {
		metrics.SessionOutcomes.WithLabelValues(out.Kind.String()).Inc()
	}
	return out, err
}

func (c *Coordinator) startOrJoin(ctx context.Context, hostUserID, restaurantID string) (Outcome, error) {
	ps := &model.PartySession{RestaurantID: restaurantID, HostUserID: hostUserID}
	if err := model.ValidateSession(ps); err != nil {
		return Outcome{}, err
	}

	existing, err := c.openSession(ctx, hostUserID)
	if err != nil {
		return Outcome{}, err
	}
	if existing != nil {
		out := classify(existing, restaurantID)
		if out.Kind == Reused {
			c.confirmPointer(ctx, hostUserID, existing, true)
		}
		return out, nil
	}

	r, err := c.store.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return Outcome{}, fmt.Errorf("start group order: %w", err)
	}
	id, err := idgen.Session()
	if err != nil {
		return Outcome{}, err
	}
	ps.ID = id

	ptr := model.LocalSessionPointer{
		SessionID:      ps.ID,
		RestaurantID:   restaurantID,
		RestaurantName: r.Name,
		IsHost:         true,
		JoinedAt:       c.now().UTC(),
	}
	prev, err := c.pointers.Stage(ctx, hostUserID, ptr)
	if err != nil {
		return Outcome{}, err
	}

	if err := c.store.CreateSession(ctx, ps); err != nil {
		if rerr := c.pointers.Rollback(ctx, hostUserID, prev); rerr != nil {
			c.logger.Warn("failed to roll back session pointer", "host_user_id", hostUserID, "err", rerr)
		}
		if !errors.Is(err, model.ErrConflict) {
			return Outcome{}, fmt.Errorf("start group order at %s: %w", r.Name, err)
		}
		// Lost the race to another device; report what won.
		winner, qerr := c.openSession(ctx, hostUserID)
		if qerr != nil {
			return Outcome{}, qerr
		}
		if winner == nil {
			return Outcome{}, fmt.Errorf("start group order at %s: %w", r.Name, err)
		}
		out := classify(winner, restaurantID)
		if out.Kind == Reused {
			c.confirmPointer(ctx, hostUserID, winner, true)
		}
		return out, nil
	}

	if err := c.pointers.Confirm(ctx, hostUserID, ptr); err != nil {
		c.logger.Warn("failed to confirm session pointer", "session_id", ps.ID, "err", err)
	}
	ev := model.NewEvent(model.GroupCreatedPayload{SessionID: ps.ID}, r.ID, r.Name, ps.CreatedAt)
	if _, err := c.rec.Append(ctx, hostUserID, ev); err != nil {
		c.logger.Warn("failed to record group_created event", "session_id", ps.ID, "err", err)
	}
	return Outcome{Kind: Created, Session: ps}, nil
}

// Resolve settles a Conflict outcome. ResolveNavigate returns the existing
// session unchanged. ResolveCancel cancels it (purging its items) and runs
// StartOrJoin again.
func (c *Coordinator) Resolve(ctx context.Context, hostUserID, restaurantID string, conflict Outcome, action Resolution) (Outcome, error) {
	if conflict.Kind != Conflict || conflict.Session == nil {
		return conflict, nil
	}
	switch action {
	case ResolveNavigate:
		c.confirmPointer(ctx, hostUserID, conflict.Session, true)
		return Outcome{Kind: Reused, Session: conflict.Session}, nil
	case ResolveCancel:
		if _, err := c.Cancel(ctx, hostUserID, conflict.Session.ID); err != nil && !errors.Is(err, model.ErrConflict) {
			return Outcome{}, err
		}
		return c.StartOrJoin(ctx, hostUserID, restaurantID)
	}
	return Outcome{}, fmt.Errorf("unknown resolution %d: %w", action, model.ErrInvalidInput)
}

// Cancel cancels an open session owned by hostUserID and purges its items.
// A session that is no longer open is ErrConflict.
func (c *Coordinator) Cancel(ctx context.Context, hostUserID, sessionID string) (*model.PartySession, error) {
	ps, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("cancel session %s: %w", sessionID, err)
	}
	if ps.HostUserID != hostUserID {
		return nil, fmt.Errorf("only the host can cancel session %s: %w", sessionID, model.ErrInvalidInput)
	}
	cancelled, err := c.store.CancelSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("cancel session %s: %w", sessionID, err)
	}
	c.clearPointerIf(ctx, hostUserID, sessionID)
	return cancelled, nil
}

// Join attaches a guest to someone else's open session.
func (c *Coordinator) Join(ctx context.Context, userID, sessionID string) (*model.PartySession, error) {
	ps, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("join session %s: %w", sessionID, err)
	}
	if ps.Status != model.SessionOpen {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, ps.Status, model.ErrConflict)
	}
	c.confirmPointer(ctx, userID, ps, ps.HostUserID == userID)
	return ps, nil
}

// AddItem adds a cart line to an open session.
func (c *Coordinator) AddItem(ctx context.Context, it *model.SessionItem) error {
	if err := model.ValidateItem(it); err != nil {
		return err
	}
	if it.ID == "" {
		id, err := idgen.Item()
		if err != nil {
			return err
		}
		it.ID = id
	}
	if err := c.store.AddItem(ctx, it); err != nil {
		return fmt.Errorf("add %s to session %s: %w", it.Name, it.SessionID, err)
	}
	return nil
}

// Items lists a session's cart lines.
func (c *Coordinator) Items(ctx context.Context, sessionID string) ([]*model.SessionItem, error) {
	return c.store.ListItems(ctx, sessionID)
}

// Reattach returns the user's session from their local pointer after a
// restart. The pointer is trusted only if the authoritative session is still
// open; a stale pointer is deleted and nil is returned.
func (c *Coordinator) Reattach(ctx context.Context, userID string) (*model.PartySession, error) {
	ptr, err := c.pointers.Load(ctx, userID)
	if err != nil || ptr == nil {
		return nil, err
	}

	var ps *model.PartySession
	if ptr.SessionID != "" {
		ps, err = c.store.GetSession(ctx, ptr.SessionID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("reattach session: %w", err)
		}
	}
	if ps == nil || ps.Status != model.SessionOpen {
		if err := c.pointers.Clear(ctx, userID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if ptr.Pending {
		// The create was accepted even though we never saw the answer.
		c.confirmPointer(ctx, userID, ps, ptr.IsHost)
	}
	return ps, nil
}

func (c *Coordinator) confirmPointer(ctx context.Context, userID string, ps *model.PartySession, isHost bool) {
	ptr := model.LocalSessionPointer{
		SessionID:    ps.ID,
		RestaurantID: ps.RestaurantID,
		IsHost:       isHost,
		JoinedAt:     c.now().UTC(),
	}
	if r, err := c.store.GetRestaurant(ctx, ps.RestaurantID); err == nil {
		ptr.RestaurantName = r.Name
	}
	if err := c.pointers.Confirm(ctx, userID, ptr); err != nil {
		c.logger.Warn("failed to save session pointer", "session_id", ps.ID, "err", err)
	}
}

func (c *Coordinator) clearPointerIf(ctx context.Context, userID, sessionID string) {
	ptr, err := c.pointers.Load(ctx, userID)
	if err != nil || ptr == nil || ptr.SessionID != sessionID {
		return
	}
	if err := c.pointers.Clear(ctx, userID); err != nil {
		c.logger.Warn("failed to clear session pointer", "session_id", sessionID, "err", err)
	}
}
