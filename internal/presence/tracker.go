// Package presence tracks which guest devices are still watching their
// place in line.
//
// The server records a heartbeat whenever a device reads an entry's
// position. A background reaper marks devices idle after a configurable
// threshold so staff can tell whether a notified guest is still looking.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Watcher is a single device's live presence state.
type Watcher struct {
	DeviceID     string    `json:"device_id"`
	UserID       string    `json:"user_id,omitempty"`
	EntryID      string    `json:"entry_id"`
	RestaurantID string    `json:"restaurant_id"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	IdleSecs     float64   `json:"idle_secs"`
	Polls        int64     `json:"polls"`
	Idle         bool      `json:"idle,omitempty"`
	IdleSince    time.Time `json:"idle_since,omitempty"`
}

// Heartbeat is what the server extracts from a position read.
type Heartbeat struct {
	DeviceID     string
	UserID       string
	EntryID      string
	RestaurantID string
}

// ReaperConfig configures the background idle reaper.
type ReaperConfig struct {
	// IdleThreshold is how long a device must be silent before it is marked
	// idle. Default: 2 minutes.
	IdleThreshold time.Duration

	// EvictAfter is how long an idle device is kept before it is removed.
	// Default: 30 minutes.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans. Default: 15 seconds.
	SweepInterval time.Duration

	// OnIdle is called for each device newly marked idle, outside the lock.
	OnIdle func(w Watcher)
}

// Tracker maintains an in-memory roster of watching devices.
type Tracker struct {
	mu      sync.RWMutex
	devices map[string]*deviceState
	now     func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type deviceState struct {
	userID       string
	entryID      string
	restaurantID string
	firstSeen    time.Time
	lastSeen     time.Time
	polls        int64
	idle         bool
	idleSince    time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		devices: make(map[string]*deviceState),
		now:     time.Now,
	}
}

// Record updates the device's presence. A device that moves to another
// entry is tracked against the new one.
func (t *Tracker) Record(hb Heartbeat) {
	if hb.DeviceID == "" || hb.EntryID == "" {
		return
	}

	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.devices[hb.DeviceID]
	if !ok {
		state = &deviceState{firstSeen: now}
		t.devices[hb.DeviceID] = state
	}
	if state.idle {
		slog.Info("presence: device back", "device_id", hb.DeviceID, "entry_id", hb.EntryID)
		state.idle = false
		state.idleSince = time.Time{}
	}

	state.lastSeen = now
	state.polls++
	state.entryID = hb.EntryID
	state.restaurantID = hb.RestaurantID
	if hb.UserID != "" {
		state.userID = hb.UserID
	}
}

// Forget drops every device watching entryID, e.g. once it is seated.
func (t *Tracker) Forget(entryID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, state := range t.devices {
		if state.entryID == entryID {
			delete(t.devices, id)
		}
	}
}

// Watchers returns the devices watching restaurantID, most recent first.
// An empty restaurantID returns every device. Devices idle for longer than
// staleThreshold are excluded; pass 0 to include all.
func (t *Tracker) Watchers(restaurantID string, staleThreshold time.Duration) []Watcher {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	out := make([]Watcher, 0, len(t.devices))
	for id, state := range t.devices {
		if restaurantID != "" && state.restaurantID != restaurantID {
			continue
		}
		idle := now.Sub(state.lastSeen)
		if staleThreshold > 0 && idle > staleThreshold {
			continue
		}
		out = append(out, state.snapshot(id, now))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// Active returns the number of non-idle devices watching restaurantID.
func (t *Tracker) Active(restaurantID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, state := range t.devices {
		if state.restaurantID == restaurantID && !state.idle {
			n++
		}
	}
	return n
}

func (s *deviceState) snapshot(deviceID string, now time.Time) Watcher {
	return Watcher{
		DeviceID:     deviceID,
		UserID:       s.userID,
		EntryID:      s.entryID,
		RestaurantID: s.restaurantID,
		FirstSeen:    s.firstSeen,
		LastSeen:     s.lastSeen,
		IdleSecs:     now.Sub(s.lastSeen).Seconds(),
		Polls:        s.polls,
		Idle:         s.idle,
		IdleSince:    s.idleSince,
	}
}

// StartReaper launches a background goroutine that periodically marks
// silent devices idle. Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.IdleThreshold == 0 {
		cfg.IdleThreshold = 2 * time.Minute
	}
	if cfg.EvictAfter == 0 {
		cfg.EvictAfter = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 15 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	slog.Info("presence: reaper started",
		"idle_threshold", cfg.IdleThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := t.now()
	var newlyIdle []Watcher

	t.mu.Lock()
	for id, state := range t.devices {
		if state.idle {
			if now.Sub(state.idleSince) > cfg.EvictAfter {
				delete(t.devices, id)
			}
			continue
		}
		if now.Sub(state.lastSeen) > cfg.IdleThreshold {
			state.idle = true
			state.idleSince = now
			newlyIdle = append(newlyIdle, state.snapshot(id, now))
		}
	}
	t.mu.Unlock()

	for _, w := range newlyIdle {
		slog.Info("presence: device idle",
			"device_id", w.DeviceID,
			"entry_id", w.EntryID,
			"threshold", cfg.IdleThreshold)
		if cfg.OnIdle != nil {
			cfg.OnIdle(w)
		}
	}
}
