package guest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/events"
	"github.com/alfredjeanlab/tablequeue/internal/geo"
	"github.com/alfredjeanlab/tablequeue/internal/kv"
	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/party"
	"github.com/alfredjeanlab/tablequeue/internal/store/memory"
	"github.com/alfredjeanlab/tablequeue/internal/waitlist"
)

type harness struct {
	store *memory.Store
	bus   *events.MemoryBus
	dir   string
	eng   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	for _, r := range []*model.Restaurant{
		{ID: "r-1", Name: "Noodle Bar", Latitude: 40.7128, Longitude: -74.0060, CurrentWaitTimeMinutes: 25},
		{ID: "r-2", Name: "Taqueria", Latitude: 40.7130, Longitude: -74.0050},
		{ID: "r-3", Name: "Diner", Latitude: 40.8100, Longitude: -74.0060},
	} {
		if err := s.UpsertRestaurant(ctx, r); err != nil {
			t.Fatalf("UpsertRestaurant: %v", err)
		}
	}
	h := &harness{store: s, bus: events.NewMemoryBus(), dir: t.TempDir()}
	h.eng = h.open(t)
	return h
}

// open builds an engine over the harness's store, bus and state dir, the
// way a device does on start-up.
func (h *harness) open(t *testing.T) *Engine {
	t.Helper()
	fs, err := kv.NewFileStore(h.dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	eng := New(Config{
		Store:          h.store,
		Subscriber:     h.bus,
		KV:             fs,
		ResyncInterval: time.Hour,
	})
	t.Cleanup(eng.Close)
	return eng
}

func (h *harness) run(t *testing.T, eng *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) publish(t *testing.T, e *model.WaitlistEntry) {
	t.Helper()
	ev := events.EntryChanged{Op: events.OpUpdated, Entry: e}
	h.bus.Publish(context.Background(), events.EntryTopic(e.ID), ev)
	h.bus.Publish(context.Background(), events.RestaurantEntriesTopic(e.RestaurantID), ev)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func eventTypes(t *testing.T, eng *Engine, userID string) []model.EventType {
	t.Helper()
	evs, err := eng.Events(context.Background(), userID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	out := make([]model.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestJoinNotifySeat(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.run(t, h.eng)

	entry, view, err := h.eng.Join(ctx, waitlist.JoinRequest{RestaurantID: "r-1", UserID: "u-1", PartySize: 4, LeaderName: "Ana"})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if view.Position != 1 || view.WaitTimeMinutes != 25 || view.RestaurantName != "Noodle Bar" {
		t.Errorf("view = %+v", view)
	}

	n, err := h.store.NotifyEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("NotifyEntry: %v", err)
	}
	h.publish(t, n)
	waitFor(t, "notified state", func() bool {
		st, ok := h.eng.State(entry.ID)
		return ok && st == waitlist.StateNotified
	})

	if got, _ := h.eng.UnreadCount(ctx, "u-1"); got != 2 {
		t.Errorf("unread = %d, want 2", got)
	}
	if _, err := h.eng.Leave(ctx, "u-1", entry.ID); !errors.Is(err, model.ErrConflict) {
		t.Errorf("leave after notify: expected ErrConflict, got %v", err)
	}

	seated, _ := h.store.SeatEntry(ctx, entry.ID)
	h.publish(t, seated)
	waitFor(t, "seated event", func() bool {
		types := eventTypes(t, h.eng, "u-1")
		return len(types) == 3 && types[0] == model.EventSeated
	})
	waitFor(t, "feeds dropped", func() bool { return h.bus.Subscribers() == 0 })

	if err := h.eng.MarkAllRead(ctx, "u-1"); err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if got, _ := h.eng.UnreadCount(ctx, "u-1"); got != 0 {
		t.Errorf("unread after mark = %d", got)
	}
	if err := h.eng.Clear(ctx, "u-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := eventTypes(t, h.eng, "u-1"); len(got) != 0 {
		t.Errorf("events after clear = %v", got)
	}
}

func TestLeave(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.run(t, h.eng)

	entry, _, err := h.eng.Join(ctx, waitlist.JoinRequest{RestaurantID: "r-1", UserID: "u-1", PartySize: 2, LeaderName: "Ana"})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	cancelled, err := h.eng.Leave(ctx, "u-1", entry.ID)
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if h.bus.Subscribers() != 0 {
		t.Errorf("subscribers after leave = %d", h.bus.Subscribers())
	}

	// The echo of our own cancel arrives after Leave returned.
	h.publish(t, cancelled)
	time.Sleep(20 * time.Millisecond)
	got := eventTypes(t, h.eng, "u-1")
	if len(got) != 2 || got[0] != model.EventLeft || got[1] != model.EventJoined {
		t.Errorf("events = %v, want [left joined]", got)
	}
}

func TestResumeAfterRestart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	entry, _, err := h.eng.Join(ctx, waitlist.JoinRequest{RestaurantID: "r-1", UserID: "u-1", PartySize: 2, LeaderName: "Ana"})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	out, err := h.eng.StartOrJoinSession(ctx, "u-1", "r-2")
	if err != nil || out.Kind != party.Created {
		t.Fatalf("StartOrJoinSession = %v, %v", out.Kind, err)
	}
	h.eng.Close()

	// Staff notify while the device is off.
	h.store.NotifyEntry(ctx, entry.ID)

	eng := h.open(t)
	active, err := eng.Resume(ctx, "u-1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(active) != 1 || active[0].ID != entry.ID {
		t.Fatalf("active = %v", active)
	}
	h.run(t, eng)
	waitFor(t, "table_ready after restart", func() bool {
		types := eventTypes(t, eng, "u-1")
		return len(types) > 0 && types[0] == model.EventTableReady
	})

	ps, err := eng.ResumeSession(ctx, "u-1")
	if err != nil {
		t.Fatalf("ResumeSession: %v", err)
	}
	if ps == nil || ps.ID != out.Session.ID {
		t.Errorf("resumed session = %+v, want %s", ps, out.Session.ID)
	}
}

func TestSessionConflictFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first, _ := h.eng.StartOrJoinSession(ctx, "u-1", "r-1")
	if err := h.eng.AddItem(ctx, &model.SessionItem{SessionID: first.Session.ID, UserID: "u-1", Name: "Gyoza", Quantity: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	conflict, err := h.eng.StartOrJoinSession(ctx, "u-1", "r-2")
	if err != nil || conflict.Kind != party.Conflict {
		t.Fatalf("second start = %v, %v", conflict.Kind, err)
	}
	out, err := h.eng.ResolveSessionConflict(ctx, "u-1", "r-2", conflict, party.ResolveCancel)
	if err != nil || out.Kind != party.Created {
		t.Fatalf("resolve = %v, %v", out.Kind, err)
	}
	items, _ := h.eng.Items(ctx, first.Session.ID)
	if len(items) != 0 {
		t.Errorf("old cart still has %d items", len(items))
	}
	if _, err := h.eng.JoinSession(ctx, "u-2", out.Session.ID); err != nil {
		t.Errorf("JoinSession: %v", err)
	}
	if _, err := h.eng.CancelSession(ctx, "u-1", out.Session.ID); err != nil {
		t.Errorf("CancelSession: %v", err)
	}
}

func TestNearbyAndCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	clusters, err := h.eng.Nearby(ctx, geo.Point{Lat: 40.7128, Lng: -74.0060})
	if err != nil {
		t.Fatalf("Nearby: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("clusters = %d, want 2", len(clusters))
	}
	if clusters[0].Seed().ID != "r-1" || len(clusters[0].Members) != 2 {
		t.Errorf("first cluster = %+v", clusters[0])
	}

	var seeds []string
	for i := 0; i < 3; i++ {
		c, ok := h.eng.CycleNext()
		if !ok {
			t.Fatal("CycleNext returned nothing")
		}
		seeds = append(seeds, c.Seed().ID)
	}
	if seeds[0] != "r-1" || seeds[1] != "r-3" || seeds[2] != "r-1" {
		t.Errorf("cycle = %v, want [r-1 r-3 r-1]", seeds)
	}
}

func TestResume_DoesNotRepeatTableReady(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	entry, _, _ := h.eng.Join(ctx, waitlist.JoinRequest{RestaurantID: "r-1", UserID: "u-1", PartySize: 2, LeaderName: "Ana"})
	h.store.NotifyEntry(ctx, entry.ID)
	if err := h.eng.feed.Resync(ctx); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	h.eng.Close()

	eng := h.open(t)
	if _, err := eng.Resume(ctx, "u-1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := eng.feed.Resync(ctx); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	n := 0
	for _, typ := range eventTypes(t, eng, "u-1") {
		if typ == model.EventTableReady {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("table_ready recorded %d times across restart, want 1", n)
	}
	if st, _ := eng.State(entry.ID); st != waitlist.StateNotified {
		t.Errorf("state = %s, want notified", st)
	}
}

func countType(types []model.EventType, want model.EventType) int {
	n := 0
	for _, typ := range types {
		if typ == want {
			n++
		}
	}
	return n
}

func TestResume_ClearDoesNotRearmTableReady(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	entry, _, _ := h.eng.Join(ctx, waitlist.JoinRequest{RestaurantID: "r-1", UserID: "u-1", PartySize: 2, LeaderName: "Ana"})
	h.store.NotifyEntry(ctx, entry.ID)
	if err := h.eng.feed.Resync(ctx); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if err := h.eng.Clear(ctx, "u-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	h.eng.Close()

	eng := h.open(t)
	if _, err := eng.Resume(ctx, "u-1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := eng.feed.Resync(ctx); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if n := countType(eventTypes(t, eng, "u-1"), model.EventTableReady); n != 0 {
		t.Fatalf("table_ready recorded %d times after clear and restart, want 0", n)
	}
	if st, _ := eng.State(entry.ID); st != waitlist.StateNotified {
		t.Errorf("state = %s, want notified", st)
	}
}

// A long-running watch and a one-shot command share one state dir.
func TestSharedStateDir(t *testing.T) {
	t.Run("LeaveFromOtherProcess", func(t *testing.T) {
		ctx := context.Background()
		h := newHarness(t)
		watcher := h.eng

		entry, _, err := watcher.Join(ctx, waitlist.JoinRequest{RestaurantID: "r-1", UserID: "u-1", PartySize: 2, LeaderName: "Ana"})
		if err != nil {
			t.Fatalf("Join: %v", err)
		}
		cmd := h.open(t)
		if _, err := cmd.Leave(ctx, "u-1", entry.ID); err != nil {
			t.Fatalf("Leave: %v", err)
		}
		if err := watcher.feed.Resync(ctx); err != nil {
			t.Fatalf("Resync: %v", err)
		}

		got := eventTypes(t, h.open(t), "u-1")
		if len(got) != 2 || got[0] != model.EventLeft || got[1] != model.EventJoined {
			t.Fatalf("events = %v, want [left joined]", got)
		}
		if st, ok := watcher.State(entry.ID); ok && st != waitlist.StateCancelled {
			t.Errorf("watcher state = %s, want cancelled", st)
		}
	})

	t.Run("TableReadyOnce", func(t *testing.T) {
		ctx := context.Background()
		h := newHarness(t)
		entry, _, _ := h.eng.Join(ctx, waitlist.JoinRequest{RestaurantID: "r-1", UserID: "u-1", PartySize: 2, LeaderName: "Ana"})
		other := h.open(t)
		if _, err := other.Resume(ctx, "u-1"); err != nil {
			t.Fatalf("Resume: %v", err)
		}

		h.store.NotifyEntry(ctx, entry.ID)
		for _, eng := range []*Engine{h.eng, other} {
			if err := eng.feed.Resync(ctx); err != nil {
				t.Fatalf("Resync: %v", err)
			}
		}
		if n := countType(eventTypes(t, h.eng, "u-1"), model.EventTableReady); n != 1 {
			t.Fatalf("table_ready recorded %d times by two processes, want 1", n)
		}
	})
}
