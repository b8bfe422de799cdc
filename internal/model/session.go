package model

import "time"

// SessionStatus is the lifecycle state of a group-order session.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionCancelled SessionStatus = "cancelled"
	SessionCompleted SessionStatus = "completed"
)

// IsValid checks whether the status is a known value.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionOpen, SessionCancelled, SessionCompleted:
		return true
	}
	return false
}

// PartySession is a shareable cart owned by one host for one restaurant visit.
// At most one session per host may be open at any time.
type PartySession struct {
	ID           string        `json:"id"`
	RestaurantID string        `json:"restaurant_id"`
	HostUserID   string        `json:"host_user_id"`
	Status       SessionStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SessionItem is a cart line added to a session by any participating guest.
type SessionItem struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LocalSessionPointer is the per-device cache used to reattach to an open
// session after a restart. It may be stale and must be checked against the
// authoritative session before it is trusted. Pending is set while the write
// that created it has not yet been confirmed by the store.
type LocalSessionPointer struct {
	SessionID      string    `json:"session_id,omitempty"`
	RestaurantID   string    `json:"restaurant_id"`
	RestaurantName string    `json:"restaurant_name"`
	IsHost         bool      `json:"is_host"`
	JoinedAt       time.Time `json:"joined_at"`
	Pending        bool      `json:"pending,omitempty"`
}
