// Package waitlist drives the local lifecycle of a guest's waitlist entries
// from the rows the change feed delivers.
package waitlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// ErrTransitionNotAllowed is returned when an observed row would move an
// entry along a transition the lifecycle does not define, such as a
// notified entry being cancelled.
var ErrTransitionNotAllowed = errors.New("transition not allowed")

// State is the local view of one tracked entry.
type State int

const (
	StateWaiting State = iota
	StateNotified
	StateSeated
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateNotified:
		return "notified"
	case StateSeated:
		return "seated"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsTerminal reports whether nothing further is processed in s.
func (s State) IsTerminal() bool {
	return s == StateSeated || s == StateCancelled
}

func stateOf(e *model.WaitlistEntry) State {
	switch {
	case e.Status == model.EntrySeated:
		return StateSeated
	case e.Status == model.EntryCancelled:
		return StateCancelled
	case e.Status == model.EntryNotified || e.NotifiedAt != nil:
		return StateNotified
	}
	return StateWaiting
}

// Pattern is an attention cue: a pulse fires after each gap.
type Pattern struct {
	Name string
	Gaps []time.Duration
}

var (
	// PatternTableReady repeats two triple pulses so it is noticed with the
	// screen off.
	PatternTableReady = Pattern{Name: "table_ready", Gaps: []time.Duration{
		0, 150 * time.Millisecond, 150 * time.Millisecond,
		600 * time.Millisecond, 150 * time.Millisecond, 150 * time.Millisecond,
	}}
	PatternSeated = Pattern{Name: "seated", Gaps: []time.Duration{0, 200 * time.Millisecond}}
)

// Alerter raises an attention cue for an event.
type Alerter interface {
	Alert(ctx context.Context, p Pattern, ev model.NotificationEvent)
}

// Recorder persists user-visible events.
type Recorder interface {
	Append(ctx context.Context, userID string, ev model.NotificationEvent) (model.NotificationEvent, error)
}

// Result describes what Observe did with a row.
type Result struct {
	// Applied is false when the row was ignored: untracked, stale, a replay,
	// or the entry is already terminal.
	Applied bool
	State   State
	// Event is the recorded event, if the row caused one.
	Event *model.NotificationEvent
	// Terminal is set when the entry has reached a terminal state and its
	// feeds should be dropped.
	Terminal bool
}

type tracked struct {
	state          State
	last           *model.WaitlistEntry
	restaurantName string
	leaving        bool
}

// Options configures a Machine.
type Options struct {
	// SeatedReturnDelay is how long after a seated event OnReturn runs.
	SeatedReturnDelay time.Duration
	// OnReturn is called with the entry id once the seated delay passes.
	OnReturn func(entryID string)
	// Marks shares raised events and in-flight leaves with other processes
	// using the same device state. Optional.
	Marks  *Marks
	Logger *slog.Logger
}

// Machine holds the local state of every tracked entry. Transitions are
// derived only from differences between the last applied row and a newer
// one, so replayed rows never fire an event twice.
type Machine struct {
	rec     Recorder
	alerter Alerter
	opts    Options
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*tracked
	timers  map[string]*time.Timer
}

func NewMachine(rec Recorder, alerter Alerter, opts Options) *Machine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		rec:     rec,
		alerter: alerter,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*tracked),
		timers:  make(map[string]*time.Timer),
	}
}

// Track starts following entry from its current row. Tracking an entry that
// is already tracked keeps the existing state.
func (m *Machine) Track(entry *model.WaitlistEntry, restaurantName string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.entries[entry.ID]; ok {
		if restaurantName != "" {
			t.restaurantName = restaurantName
		}
		return t.state
	}
	t := &tracked{
		state:          stateOf(entry),
		last:           entry.Clone(),
		restaurantName: restaurantName,
	}
	m.entries[entry.ID] = t
	return t.state
}

// Untrack forgets the entry. Later rows for it are ignored.
func (m *Machine) Untrack(entryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, entryID)
}

// State returns the local state of a tracked entry.
func (m *Machine) State(entryID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.entries[entryID]
	if !ok {
		return 0, false
	}
	return t.state, true
}

// Tracked returns the ids of all tracked entries.
func (m *Machine) Tracked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// Last returns a copy of the last applied row of a tracked entry.
func (m *Machine) Last(entryID string) (*model.WaitlistEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.entries[entryID]
	if !ok {
		return nil, false
	}
	return t.last.Clone(), true
}

// Observe applies a row delivered by the change feed or a resync.
//
// A row that is not newer than the last applied one is ignored. Events are
// recorded before the new state is committed; if recording fails the row is
// not applied and the next resync retries it.
func (m *Machine) Observe(ctx context.Context, next *model.WaitlistEntry) (Result, error) {
	m.mu.Lock()
	t, ok := m.entries[next.ID]
	if !ok || t.state.IsTerminal() || !next.NewerThan(t.last) {
		m.mu.Unlock()
		return Result{}, nil
	}
	if t.leaving && next.Status == model.EntryCancelled {
		// Our own cancel; Left records it.
		m.mu.Unlock()
		return Result{}, nil
	}
	if next.Status == model.EntryCancelled && t.state == StateWaiting {
		leaving, err := m.opts.Marks.Leaving(ctx, next.ID)
		if err != nil {
			m.mu.Unlock()
			return Result{}, err
		}
		if leaving {
			// Left through another process on this device, which records
			// the left event.
			t.last = next.Clone()
			t.state = StateCancelled
			m.mu.Unlock()
			return Result{Applied: true, State: StateCancelled, Terminal: true}, nil
		}
	}

	prev := t.last
	state := t.state
	var (
		payload model.EventPayload
		pattern *Pattern
		err     error
	)

	switch {
	case next.Status == model.EntrySeated:
		state = StateSeated
		payload = model.SeatedPayload{EntryID: next.ID, PartySize: next.PartySize}
		pattern = &PatternSeated

	case next.Status == model.EntryCancelled:
		state = StateCancelled
		if t.state == StateWaiting {
			payload = model.RemovedPayload{EntryID: next.ID, PartySize: next.PartySize}
		} else {
			err = fmt.Errorf("entry %s: %s -> cancelled: %w", next.ID, t.state, ErrTransitionNotAllowed)
		}

	case t.state == StateWaiting && notifiedChanged(prev, next):
		state = StateNotified
		at := m.now().UTC()
		if next.NotifiedAt != nil {
			at = *next.NotifiedAt
		}
		payload = model.TableReadyPayload{EntryID: next.ID, PartySize: next.PartySize, NotifiedAt: at}
		pattern = &PatternTableReady
	}

	var ev *model.NotificationEvent
	if payload != nil {
		recorded, rerr := m.raise(ctx, next, t.restaurantName, payload)
		if rerr != nil {
			m.mu.Unlock()
			return Result{}, rerr
		}
		ev = recorded
	}

	t.last = next.Clone()
	t.state = state
	if state == StateSeated {
		m.scheduleReturnLocked(next.ID)
	}
	m.mu.Unlock()

	if ev != nil && pattern != nil && m.alerter != nil {
		m.alerter.Alert(ctx, *pattern, *ev)
	}
	return Result{Applied: true, State: state, Event: ev, Terminal: state.IsTerminal()}, err
}

// raise claims payload's event for the entry and records it. It returns a
// nil event when the event was already raised elsewhere.
func (m *Machine) raise(ctx context.Context, entry *model.WaitlistEntry, restaurantName string, payload model.EventPayload) (*model.NotificationEvent, error) {
	typ := payload.EventType()
	claimed, err := m.opts.Marks.Claim(ctx, entry.ID, typ)
	if err != nil {
		return nil, fmt.Errorf("claim %s for %s: %w", typ, entry.ID, err)
	}
	if !claimed {
		return nil, nil
	}
	recorded, err := m.rec.Append(ctx, entry.UserID, model.NewEvent(payload, entry.RestaurantID, restaurantName, m.now().UTC()))
	if err != nil {
		if rerr := m.opts.Marks.Release(ctx, entry.ID, typ); rerr != nil {
			m.logger.Warn("failed to release event mark", "entry_id", entry.ID, "type", typ, "err", rerr)
		}
		return nil, fmt.Errorf("record %s for %s: %w", typ, entry.ID, err)
	}
	return &recorded, nil
}

// Raised reports whether an event of typ was already raised for the entry
// on this device, in any process.
func (m *Machine) Raised(ctx context.Context, entryID string, typ model.EventType) (bool, error) {
	return m.opts.Marks.Raised(ctx, entryID, typ)
}

// notifiedChanged reports a null to non-null notified_at, or a waiting to
// notified status change, between two revisions of a row.
func notifiedChanged(prev, next *model.WaitlistEntry) bool {
	if prev.NotifiedAt == nil && next.NotifiedAt != nil {
		return true
	}
	return prev.Status == model.EntryWaiting && next.Status == model.EntryNotified
}

func (m *Machine) scheduleReturnLocked(entryID string) {
	if m.opts.OnReturn == nil {
		return
	}
	if old, ok := m.timers[entryID]; ok {
		old.Stop()
	}
	onReturn := m.opts.OnReturn
	m.timers[entryID] = time.AfterFunc(m.opts.SeatedReturnDelay, func() {
		m.mu.Lock()
		delete(m.timers, entryID)
		m.mu.Unlock()
		onReturn(entryID)
	})
}

// BeginLeave marks a guest-initiated cancel as in flight so the feed's echo
// of it does not raise a removed event, here or in another process sharing
// the device state. It must succeed before the cancel is written.
func (m *Machine) BeginLeave(ctx context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.opts.Marks.SetLeaving(ctx, entryID, true); err != nil {
		return err
	}
	if t, ok := m.entries[entryID]; ok {
		t.leaving = true
	}
	return nil
}

// AbortLeave clears the in-flight mark after a failed cancel.
func (m *Machine) AbortLeave(ctx context.Context, entryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.opts.Marks.SetLeaving(ctx, entryID, false); err != nil {
		m.logger.Warn("failed to clear leave mark", "entry_id", entryID, "err", err)
	}
	if t, ok := m.entries[entryID]; ok {
		t.leaving = false
	}
}

// Left terminalizes entry after the guest's cancel was accepted and records
// the left event. It also works for entries this machine never tracked.
func (m *Machine) Left(ctx context.Context, entry *model.WaitlistEntry, restaurantName string) (model.NotificationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.entries[entry.ID]; ok {
		if t.state == StateCancelled && !t.leaving {
			return model.NotificationEvent{}, fmt.Errorf("entry %s already left: %w", entry.ID, model.ErrConflict)
		}
		t.state = StateCancelled
		t.leaving = false
		t.last = entry.Clone()
		if restaurantName == "" {
			restaurantName = t.restaurantName
		}
	}
	payload := model.LeftPayload{EntryID: entry.ID, PartySize: entry.PartySize}
	recorded, err := m.raise(ctx, entry, restaurantName, payload)
	if err != nil {
		m.logger.Warn("failed to record left event", "entry_id", entry.ID, "err", err)
		return model.NotificationEvent{}, err
	}
	if recorded == nil {
		return model.NotificationEvent{}, fmt.Errorf("entry %s already left: %w", entry.ID, model.ErrConflict)
	}
	return *recorded, nil
}

// Stop cancels any pending return-home callbacks.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}
