package model

import (
	"time"
)

// Restaurant is the read-mostly record guests queue against. Wait time is
// published by staff; this service never estimates it.
type Restaurant struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name"`
	Address                string    `json:"address,omitempty"`
	Latitude               float64   `json:"latitude"`
	Longitude              float64   `json:"longitude"`
	CurrentWaitTimeMinutes int       `json:"current_wait_time_minutes"`
	OpensAt                string    `json:"opens_at,omitempty"`  // "HH:MM", local time
	ClosesAt               string    `json:"closes_at,omitempty"` // "HH:MM", local time
	UpdatedAt              time.Time `json:"updated_at"`
}

// Clone returns a copy of r. A nil r yields nil.
func (r *Restaurant) Clone() *Restaurant {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// OpenState describes whether a restaurant is accepting guests right now.
type OpenState string

const (
	OpenStateOpen        OpenState = "open"
	OpenStateClosingSoon OpenState = "closing_soon"
	OpenStateOpeningSoon OpenState = "opening_soon"
	OpenStateClosed      OpenState = "closed"
	OpenStateUnknown     OpenState = "unknown"
)

// HoursPolicy holds the thresholds used to label a restaurant as closing or
// opening soon.
type HoursPolicy struct {
	ClosingSoon time.Duration
	OpeningSoon time.Duration
}

// DefaultHoursPolicy is 30 minutes before close and 60 minutes before open.
var DefaultHoursPolicy = HoursPolicy{
	ClosingSoon: 30 * time.Minute,
	OpeningSoon: 60 * time.Minute,
}

// OpenState reports the restaurant's open state at now. Hours that wrap past
// midnight (closes_at earlier than opens_at) are supported.
func (r *Restaurant) OpenState(now time.Time, p HoursPolicy) OpenState {
	opens, ok := clockOn(now, r.OpensAt)
	if !ok {
		return OpenStateUnknown
	}
	closes, ok := clockOn(now, r.ClosesAt)
	if !ok {
		return OpenStateUnknown
	}

	if !closes.After(opens) {
		if now.Before(closes) {
			opens = opens.AddDate(0, 0, -1)
		} else {
			closes = closes.AddDate(0, 0, 1)
		}
	}

	if !now.Before(opens) && now.Before(closes) {
		if closes.Sub(now) <= p.ClosingSoon {
			return OpenStateClosingSoon
		}
		return OpenStateOpen
	}

	next := opens
	if !now.Before(opens) {
		next = opens.AddDate(0, 0, 1)
	}
	if next.Sub(now) <= p.OpeningSoon {
		return OpenStateOpeningSoon
	}
	return OpenStateClosed
}

// clockOn returns the instant on now's calendar day at the given "HH:MM".
func clockOn(now time.Time, hhmm string) (time.Time, bool) {
	if hhmm == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, false
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, now.Location()), true
}
