package model

// EntryFilter holds criteria for querying waitlist entries. Results are
// always returned in queue order (created_at, seq).
type EntryFilter struct {
	RestaurantID string        `json:"restaurant_id,omitempty"`
	UserID       string        `json:"user_id,omitempty"`
	Status       []EntryStatus `json:"status,omitempty"`
	Limit        int           `json:"limit,omitempty"`
}

// SessionFilter holds criteria for querying party sessions. Results are
// returned newest first.
type SessionFilter struct {
	HostUserID   string          `json:"host_user_id,omitempty"`
	RestaurantID string          `json:"restaurant_id,omitempty"`
	Status       []SessionStatus `json:"status,omitempty"`
	Limit        int             `json:"limit,omitempty"`
}
