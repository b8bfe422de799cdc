package waitlist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alfredjeanlab/tablequeue/internal/idgen"
	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/queue"
	"github.com/alfredjeanlab/tablequeue/internal/store"
)

// Tracker attaches and detaches an entry's change feeds. The feed
// reconciler implements it.
type Tracker interface {
	Track(ctx context.Context, entry *model.WaitlistEntry, r *model.Restaurant) error
	Untrack(entryID string)
}

// JoinRequest carries everything needed to join a line. UserID is explicit;
// there is no ambient current user.
type JoinRequest struct {
	RestaurantID string
	UserID       string
	PartySize    int
	LeaderName   string
}

// Service implements the guest's waitlist commands on top of the row store.
type Service struct {
	store   store.RowStore
	calc    *queue.Calculator
	machine *Machine
	tracker Tracker
	rec     Recorder
	logger  *slog.Logger
}

func NewService(rs store.RowStore, machine *Machine, tracker Tracker, rec Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   rs,
		calc:    queue.NewCalculator(rs),
		machine: machine,
		tracker: tracker,
		rec:     rec,
		logger:  logger,
	}
}

// Join validates the request, inserts a waiting entry, starts tracking it
// and records a joined event. Nothing is written if validation fails.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*model.WaitlistEntry, model.ActiveEntryView, error) {
	entry := &model.WaitlistEntry{
		RestaurantID:    req.RestaurantID,
		UserID:          req.UserID,
		PartySize:       req.PartySize,
		PartyLeaderName: strings.TrimSpace(req.LeaderName),
	}
	if err := model.ValidateEntry(entry); err != nil {
		return nil, model.ActiveEntryView{}, err
	}

	r, err := s.store.GetRestaurant(ctx, req.RestaurantID)
	if err != nil {
		return nil, model.ActiveEntryView{}, fmt.Errorf("join %s: %w", req.RestaurantID, err)
	}

	id, err := idgen.Entry()
	if err != nil {
		return nil, model.ActiveEntryView{}, err
	}
	entry.ID = id
	if err := s.store.CreateEntry(ctx, entry); err != nil {
		return nil, model.ActiveEntryView{}, fmt.Errorf("join %s: %w", r.Name, err)
	}

	if err := s.tracker.Track(ctx, entry, r); err != nil {
		s.logger.Warn("failed to attach change feed, relying on resync", "entry_id", entry.ID, "err", err)
	}

	// The entry exists from here on; a failed rank read leaves Position 0
	// (unknown) rather than a guess.
	pos, err := s.calc.PositionOf(ctx, entry)
	if err != nil {
		s.logger.Warn("failed to compute position after join", "entry_id", entry.ID, "err", err)
	}
	view := queue.View(entry, pos, r)

	ev := model.NewEvent(model.JoinedPayload{EntryID: entry.ID, PartySize: entry.PartySize, Position: pos.Rank}, r.ID, r.Name, entry.CreatedAt)
	if _, err := s.rec.Append(ctx, entry.UserID, ev); err != nil {
		s.logger.Warn("failed to record joined event", "entry_id", entry.ID, "err", err)
	}
	return entry, view, nil
}

// View returns the current display state of an entry. A missing entry is
// model.ErrNotFound.
func (s *Service) View(ctx context.Context, entryID string) (model.ActiveEntryView, error) {
	entry, pos, err := s.calc.Position(ctx, entryID)
	if err != nil {
		return model.ActiveEntryView{}, err
	}
	r, err := s.store.GetRestaurant(ctx, entry.RestaurantID)
	if err != nil {
		return model.ActiveEntryView{}, fmt.Errorf("restaurant of %s: %w", entryID, err)
	}
	return queue.View(entry, pos, r), nil
}

// Leave cancels a waiting entry on behalf of userID. Once the store accepts
// the cancel the entry is detached from its feeds before Leave returns, so
// a late delta cannot revive it.
func (s *Service) Leave(ctx context.Context, userID, entryID string) (*model.WaitlistEntry, error) {
	cur, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("leave %s: %w", entryID, err)
	}
	if cur.UserID != userID {
		return nil, fmt.Errorf("entry %s belongs to another guest: %w", entryID, model.ErrInvalidInput)
	}
	if cur.Status == model.EntryNotified {
		return nil, fmt.Errorf("your table is ready; please see the host stand to cancel: %w", model.ErrConflict)
	}

	if err := s.machine.BeginLeave(ctx, entryID); err != nil {
		return nil, fmt.Errorf("leave %s: %w", entryID, err)
	}
	cancelled, err := s.store.CancelEntry(ctx, entryID)
	if err != nil {
		s.machine.AbortLeave(ctx, entryID)
		return nil, fmt.Errorf("leave %s: %w", entryID, err)
	}

	var name string
	if r, err := s.store.GetRestaurant(ctx, cancelled.RestaurantID); err == nil {
		name = r.Name
	}
	if _, err := s.machine.Left(ctx, cancelled, name); err != nil {
		s.logger.Warn("left event not recorded", "entry_id", entryID, "err", err)
	}
	s.tracker.Untrack(entryID)
	return cancelled, nil
}

// Active returns the user's entries that are still waiting or notified.
func (s *Service) Active(ctx context.Context, userID string) ([]*model.WaitlistEntry, error) {
	return s.store.ListEntries(ctx, model.EntryFilter{
		UserID: userID,
		Status: []model.EntryStatus{model.EntryWaiting, model.EntryNotified},
	})
}
