// Package memory implements store.Store in process memory with the same
// conditional-write rules as the Postgres store. `tq serve` uses it when
// TQ_DATABASE_URL is "memory:", and tests across the module use it as the
// shared row store.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	// txMu serialises transactions; mu guards the maps.
	txMu sync.Mutex
	mu   sync.Mutex

	restaurants map[string]*model.Restaurant
	entries     map[string]*model.WaitlistEntry
	sessions    map[string]*model.PartySession
	items       map[string][]*model.SessionItem
	seq         int64

	// Now is the clock used for timestamps. Tests may replace it.
	Now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		restaurants: make(map[string]*model.Restaurant),
		entries:     make(map[string]*model.WaitlistEntry),
		sessions:    make(map[string]*model.PartySession),
		items:       make(map[string][]*model.SessionItem),
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
}

func (s *Store) GetRestaurant(_ context.Context, id string) (*model.Restaurant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.restaurants[id]
	if !ok {
		return nil, notFound("restaurant", id)
	}
	c := *r
	return &c, nil
}

func (s *Store) ListRestaurants(_ context.Context) ([]*model.Restaurant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Restaurant, 0, len(s.restaurants))
	for _, r := range s.restaurants {
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpsertRestaurant(_ context.Context, r *model.Restaurant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.UpdatedAt = s.Now()
	c := *r
	s.restaurants[r.ID] = &c
	return nil
}

func (s *Store) SetWaitTime(_ context.Context, id string, minutes int) (*model.Restaurant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.restaurants[id]
	if !ok {
		return nil, notFound("restaurant", id)
	}
	if minutes < 0 {
		return nil, fmt.Errorf("wait time %d: %w", minutes, model.ErrInvalidInput)
	}
	r.CurrentWaitTimeMinutes = minutes
	r.UpdatedAt = s.Now()
	c := *r
	return &c, nil
}

func (s *Store) CreateEntry(_ context.Context, e *model.WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.restaurants[e.RestaurantID]; !ok {
		return notFound("restaurant", e.RestaurantID)
	}
	if _, ok := s.entries[e.ID]; ok {
		return fmt.Errorf("entry %s exists: %w", e.ID, model.ErrConflict)
	}
	if e.PartySize < 1 {
		return fmt.Errorf("party size %d: %w", e.PartySize, model.ErrInvalidInput)
	}
	now := s.Now()
	s.seq++
	e.Seq = s.seq
	e.Status = model.EntryWaiting
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	e.NotifiedAt = nil
	s.entries[e.ID] = e.Clone()
	return nil
}

func (s *Store) GetEntry(_ context.Context, id string) (*model.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, notFound("entry", id)
	}
	return e.Clone(), nil
}

func (s *Store) ListEntries(_ context.Context, f model.EntryFilter) ([]*model.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.WaitlistEntry
	for _, e := range s.entries {
		if f.RestaurantID != "" && e.RestaurantID != f.RestaurantID {
			continue
		}
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if len(f.Status) > 0 && !containsStatus(f.Status, e.Status) {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func containsStatus(ss []model.EntryStatus, s model.EntryStatus) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Store) transition(id string, to model.EntryStatus, from model.EntryStatus) (*model.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, notFound("entry", id)
	}
	if e.Status != from || (to == model.EntryNotified && e.NotifiedAt != nil) {
		return nil, fmt.Errorf("entry %s is %s, cannot move to %s: %w", id, e.Status, to, model.ErrConflict)
	}
	now := s.Now()
	e.Status = to
	e.Version++
	e.UpdatedAt = now
	if to == model.EntryNotified {
		t := now
		e.NotifiedAt = &t
	}
	return e.Clone(), nil
}

func (s *Store) CancelEntry(_ context.Context, id string) (*model.WaitlistEntry, error) {
	return s.transition(id, model.EntryCancelled, model.EntryWaiting)
}

func (s *Store) NotifyEntry(_ context.Context, id string) (*model.WaitlistEntry, error) {
	return s.transition(id, model.EntryNotified, model.EntryWaiting)
}

func (s *Store) SeatEntry(_ context.Context, id string) (*model.WaitlistEntry, error) {
	return s.transition(id, model.EntrySeated, model.EntryNotified)
}

// PutEntry stores e as-is, bypassing the transition rules. Tests use it to
// model rows written by other clients, such as a staff console that only
// sets notified_at.
func (s *Store) PutEntry(e *model.WaitlistEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Seq == 0 {
		s.seq++
		e.Seq = s.seq
	}
	s.entries[e.ID] = e.Clone()
}

func (s *Store) CreateSession(_ context.Context, ps *model.PartySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.restaurants[ps.RestaurantID]; !ok {
		return notFound("restaurant", ps.RestaurantID)
	}
	for _, other := range s.sessions {
		if other.HostUserID == ps.HostUserID && other.Status == model.SessionOpen {
			return fmt.Errorf("host %s already has open session %s: %w", ps.HostUserID, other.ID, model.ErrConflict)
		}
	}
	now := s.Now()
	ps.Status = model.SessionOpen
	ps.CreatedAt = now
	ps.UpdatedAt = now
	c := *ps
	s.sessions[ps.ID] = &c
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*model.PartySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.sessions[id]
	if !ok {
		return nil, notFound("session", id)
	}
	c := *ps
	return &c, nil
}

func (s *Store) ListSessions(_ context.Context, f model.SessionFilter) ([]*model.PartySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PartySession
	for _, ps := range s.sessions {
		if f.HostUserID != "" && ps.HostUserID != f.HostUserID {
			continue
		}
		if f.RestaurantID != "" && ps.RestaurantID != f.RestaurantID {
			continue
		}
		if len(f.Status) > 0 {
			match := false
			for _, st := range f.Status {
				match = match || st == ps.Status
			}
			if !match {
				continue
			}
		}
		c := *ps
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) SetSessionStatus(_ context.Context, id string, from, to model.SessionStatus) (*model.PartySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setSessionStatusLocked(id, from, to)
}

func (s *Store) setSessionStatusLocked(id string, from, to model.SessionStatus) (*model.PartySession, error) {
	ps, ok := s.sessions[id]
	if !ok {
		return nil, notFound("session", id)
	}
	if ps.Status != from {
		return nil, fmt.Errorf("session %s is %s, not %s: %w", id, ps.Status, from, model.ErrConflict)
	}
	ps.Status = to
	ps.UpdatedAt = s.Now()
	c := *ps
	return &c, nil
}

// CancelSession cancels an open session and purges its items atomically.
func (s *Store) CancelSession(_ context.Context, id string) (*model.PartySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, err := s.setSessionStatusLocked(id, model.SessionOpen, model.SessionCancelled)
	if err != nil {
		return nil, err
	}
	delete(s.items, id)
	return ps, nil
}

func (s *Store) AddItem(_ context.Context, it *model.SessionItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.sessions[it.SessionID]
	if !ok {
		return notFound("session", it.SessionID)
	}
	if ps.Status != model.SessionOpen {
		return fmt.Errorf("session %s is %s: %w", ps.ID, ps.Status, model.ErrConflict)
	}
	it.CreatedAt = s.Now()
	c := *it
	s.items[it.SessionID] = append(s.items[it.SessionID], &c)
	return nil
}

func (s *Store) ListItems(_ context.Context, sessionID string) ([]*model.SessionItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.SessionItem, 0, len(s.items[sessionID]))
	for _, it := range s.items[sessionID] {
		c := *it
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) DeleteItems(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.items[sessionID]))
	delete(s.items, sessionID)
	return n, nil
}

// RunInTransaction runs fn against s and restores the previous contents if
// fn fails. Transactions run one at a time.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	restaurants map[string]*model.Restaurant
	entries     map[string]*model.WaitlistEntry
	sessions    map[string]*model.PartySession
	items       map[string][]*model.SessionItem
	seq         int64
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		restaurants: make(map[string]*model.Restaurant, len(s.restaurants)),
		entries:     make(map[string]*model.WaitlistEntry, len(s.entries)),
		sessions:    make(map[string]*model.PartySession, len(s.sessions)),
		items:       maps.Clone(s.items),
		seq:         s.seq,
	}
	for k, v := range s.restaurants {
		c := *v
		snap.restaurants[k] = &c
	}
	for k, v := range s.entries {
		snap.entries[k] = v.Clone()
	}
	for k, v := range s.sessions {
		c := *v
		snap.sessions[k] = &c
	}
	for k, v := range snap.items {
		snap.items[k] = append([]*model.SessionItem(nil), v...)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restaurants = snap.restaurants
	s.entries = snap.entries
	s.sessions = snap.sessions
	s.items = snap.items
	s.seq = snap.seq
}

func (s *Store) Close() error {
	return nil
}
