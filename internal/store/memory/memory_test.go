package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/store"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	ctx := context.Background()
	for _, r := range []*model.Restaurant{
		{ID: "r-1", Name: "Noodle Bar"},
		{ID: "r-2", Name: "Taqueria"},
	} {
		if err := s.UpsertRestaurant(ctx, r); err != nil {
			t.Fatalf("UpsertRestaurant: %v", err)
		}
	}
	return s
}

func TestEntryLifecycle(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	e := &model.WaitlistEntry{ID: "wl-1", RestaurantID: "r-1", UserID: "u-1", PartySize: 2, PartyLeaderName: "Ana"}
	if err := s.CreateEntry(ctx, e); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if e.Seq == 0 || e.Version != 1 || e.Status != model.EntryWaiting {
		t.Fatalf("created = %+v", e)
	}

	n, err := s.NotifyEntry(ctx, "wl-1")
	if err != nil {
		t.Fatalf("NotifyEntry: %v", err)
	}
	if n.NotifiedAt == nil || n.Version != 2 {
		t.Errorf("notified = %+v", n)
	}

	if _, err := s.NotifyEntry(ctx, "wl-1"); !errors.Is(err, model.ErrConflict) {
		t.Errorf("second notify: expected ErrConflict, got %v", err)
	}
	if _, err := s.CancelEntry(ctx, "wl-1"); !errors.Is(err, model.ErrConflict) {
		t.Errorf("cancel notified: expected ErrConflict, got %v", err)
	}
	if _, err := s.SeatEntry(ctx, "wl-1"); err != nil {
		t.Fatalf("SeatEntry: %v", err)
	}
	if _, err := s.SeatEntry(ctx, "wl-404"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("seat missing: expected ErrNotFound, got %v", err)
	}
}

func TestCreateEntry_UnknownRestaurant(t *testing.T) {
	s := seeded(t)
	err := s.CreateEntry(context.Background(), &model.WaitlistEntry{ID: "wl-1", RestaurantID: "nope", PartySize: 1})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListEntries_QueueOrder(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	fixed := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return fixed }

	for _, id := range []string{"wl-c", "wl-a", "wl-b"} {
		s.CreateEntry(ctx, &model.WaitlistEntry{ID: id, RestaurantID: "r-1", UserID: "u", PartySize: 1})
	}
	got, _ := s.ListEntries(ctx, model.EntryFilter{RestaurantID: "r-1"})
	if len(got) != 3 || got[0].ID != "wl-c" || got[1].ID != "wl-a" || got[2].ID != "wl-b" {
		t.Fatalf("order = %v %v %v, want insertion order", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestCreateSession_OneOpenPerHost(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	if err := s.CreateSession(ctx, &model.PartySession{ID: "ps-1", RestaurantID: "r-1", HostUserID: "u-1"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	err := s.CreateSession(ctx, &model.PartySession{ID: "ps-2", RestaurantID: "r-2", HostUserID: "u-1"})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := s.CreateSession(ctx, &model.PartySession{ID: "ps-3", RestaurantID: "r-2", HostUserID: "u-2"}); err != nil {
		t.Fatalf("other host: %v", err)
	}
}

func TestCreateSession_ConcurrentSameHost(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "ps-" + string(rune('a'+i))
			if err := s.CreateSession(ctx, &model.PartySession{ID: id, RestaurantID: "r-1", HostUserID: "u-1"}); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("created %d open sessions, want 1", created)
	}
}

func TestCancelSession_PurgesItems(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	s.CreateSession(ctx, &model.PartySession{ID: "ps-1", RestaurantID: "r-1", HostUserID: "u-1"})
	s.AddItem(ctx, &model.SessionItem{ID: "it-1", SessionID: "ps-1", UserID: "u-2", Name: "Fries", Quantity: 1})

	ps, err := s.CancelSession(ctx, "ps-1")
	if err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	if ps.Status != model.SessionCancelled {
		t.Errorf("status = %s", ps.Status)
	}
	items, _ := s.ListItems(ctx, "ps-1")
	if len(items) != 0 {
		t.Errorf("items left after cancel: %d", len(items))
	}
	if err := s.AddItem(ctx, &model.SessionItem{ID: "it-2", SessionID: "ps-1", Name: "Tea", Quantity: 1}); !errors.Is(err, model.ErrConflict) {
		t.Errorf("add to cancelled: expected ErrConflict, got %v", err)
	}
	if _, err := s.CancelSession(ctx, "ps-1"); !errors.Is(err, model.ErrConflict) {
		t.Errorf("cancel twice: expected ErrConflict, got %v", err)
	}
}

func TestRunInTransaction_Rollback(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	s.CreateSession(ctx, &model.PartySession{ID: "ps-1", RestaurantID: "r-1", HostUserID: "u-1"})
	s.AddItem(ctx, &model.SessionItem{ID: "it-1", SessionID: "ps-1", Name: "Fries", Quantity: 1})

	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		if _, err := tx.DeleteItems(ctx, "ps-1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	items, _ := s.ListItems(ctx, "ps-1")
	if len(items) != 1 {
		t.Fatalf("items = %d after rollback, want 1", len(items))
	}
}
