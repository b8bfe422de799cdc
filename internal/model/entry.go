package model

import "time"

// EntryStatus is the lifecycle state of a waitlist entry.
type EntryStatus string

const (
	EntryWaiting   EntryStatus = "waiting"
	EntryNotified  EntryStatus = "notified"
	EntrySeated    EntryStatus = "seated"
	EntryCancelled EntryStatus = "cancelled"
)

// String returns the string representation of the status.
func (s EntryStatus) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s EntryStatus) IsValid() bool {
	switch s {
	case EntryWaiting, EntryNotified, EntrySeated, EntryCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is permitted from s.
func (s EntryStatus) IsTerminal() bool {
	return s == EntrySeated || s == EntryCancelled
}

// CanTransition reports whether moving from s to next follows the forward-only
// lifecycle: waiting -> notified|cancelled, notified -> seated. A notified
// entry cannot be cancelled.
func (s EntryStatus) CanTransition(next EntryStatus) bool {
	switch s {
	case EntryWaiting:
		return next == EntryNotified || next == EntryCancelled
	case EntryNotified:
		return next == EntrySeated
	}
	return false
}

// WaitlistEntry is one party's place in one restaurant's walk-in line.
//
// Seq is assigned by the store on insert and breaks ties between entries
// created in the same instant. Version is bumped on every update and lets
// readers discard stale change-feed deltas.
type WaitlistEntry struct {
	ID              string      `json:"id"`
	RestaurantID    string      `json:"restaurant_id"`
	UserID          string      `json:"user_id"`
	PartySize       int         `json:"party_size"`
	PartyLeaderName string      `json:"party_leader_name"`
	Status          EntryStatus `json:"status"`
	Seq             int64       `json:"seq"`
	Version         int64       `json:"version"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	NotifiedAt      *time.Time  `json:"notified_at,omitempty"`
}

// Before reports whether e is ahead of o in queue order.
func (e *WaitlistEntry) Before(o *WaitlistEntry) bool {
	if !e.CreatedAt.Equal(o.CreatedAt) {
		return e.CreatedAt.Before(o.CreatedAt)
	}
	return e.Seq < o.Seq
}

// NewerThan reports whether e is a later revision of the same row than o.
func (e *WaitlistEntry) NewerThan(o *WaitlistEntry) bool {
	if o == nil {
		return true
	}
	if e.Version != o.Version {
		return e.Version > o.Version
	}
	return e.UpdatedAt.After(o.UpdatedAt)
}

// Clone returns a deep copy of e.
func (e *WaitlistEntry) Clone() *WaitlistEntry {
	c := *e
	if e.NotifiedAt != nil {
		t := *e.NotifiedAt
		c.NotifiedAt = &t
	}
	return &c
}

// ActiveEntryView is the derived, never persisted, display state of a tracked
// entry. It is recomputed from the entry and its siblings on every change.
type ActiveEntryView struct {
	EntryID         string      `json:"entry_id"`
	RestaurantID    string      `json:"restaurant_id"`
	RestaurantName  string      `json:"restaurant_name"`
	Position        int         `json:"position"`
	TotalInQueue    int         `json:"total_in_queue"`
	WaitTimeMinutes int         `json:"wait_time_minutes"`
	Status          EntryStatus `json:"status"`
}
