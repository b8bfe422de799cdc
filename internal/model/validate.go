package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match validation failures.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// Restaurant IDs become NATS subject tokens, so they may not contain dots,
// spaces or wildcards.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id is usable as a row key and subject token.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// MaxLeaderNameLen bounds party_leader_name in runes.
const MaxLeaderNameLen = 100

// ValidateEntry checks a new waitlist entry before it is written. The ID is
// not checked since the store assigns it.
func ValidateEntry(e *WaitlistEntry) error {
	var ve ValidationError

	if !ValidID(e.RestaurantID) {
		ve.add("restaurant_id", "invalid value %q", e.RestaurantID)
	}
	if strings.TrimSpace(e.UserID) == "" {
		ve.add("user_id", "is required")
	}
	if e.PartySize < 1 {
		ve.add("party_size", "must be at least 1, got %d", e.PartySize)
	}

	name := strings.TrimSpace(e.PartyLeaderName)
	if name == "" {
		ve.add("party_leader_name", "is required")
	} else if len([]rune(name)) > MaxLeaderNameLen {
		ve.add("party_leader_name", "must be %d characters or fewer", MaxLeaderNameLen)
	}

	if e.Status != "" && e.Status != EntryWaiting {
		ve.add("status", "new entries must be waiting, got %q", e.Status)
	}
	if e.NotifiedAt != nil {
		ve.add("notified_at", "must be empty on a new entry")
	}

	return ve.orNil()
}

// ValidateSession checks a new party session.
func ValidateSession(s *PartySession) error {
	var ve ValidationError
	if !ValidID(s.RestaurantID) {
		ve.add("restaurant_id", "invalid value %q", s.RestaurantID)
	}
	if strings.TrimSpace(s.HostUserID) == "" {
		ve.add("host_user_id", "is required")
	}
	if s.Status != "" && s.Status != SessionOpen {
		ve.add("status", "new sessions must be open, got %q", s.Status)
	}
	return ve.orNil()
}

// ValidateItem checks a cart line.
func ValidateItem(it *SessionItem) error {
	var ve ValidationError
	if strings.TrimSpace(it.SessionID) == "" {
		ve.add("session_id", "is required")
	}
	if strings.TrimSpace(it.UserID) == "" {
		ve.add("user_id", "is required")
	}
	if strings.TrimSpace(it.Name) == "" {
		ve.add("name", "is required")
	}
	if it.Quantity < 1 {
		ve.add("quantity", "must be at least 1, got %d", it.Quantity)
	}
	return ve.orNil()
}

// ValidateRestaurant checks a restaurant record before it is upserted.
func ValidateRestaurant(r *Restaurant) error {
	var ve ValidationError
	if !ValidID(r.ID) {
		ve.add("id", "invalid value %q", r.ID)
	}
	if strings.TrimSpace(r.Name) == "" {
		ve.add("name", "is required")
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		ve.add("latitude", "must be between -90 and 90, got %v", r.Latitude)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		ve.add("longitude", "must be between -180 and 180, got %v", r.Longitude)
	}
	if r.CurrentWaitTimeMinutes < 0 {
		ve.add("current_wait_time_minutes", "must not be negative")
	}
	for _, h := range []struct{ field, v string }{{"opens_at", r.OpensAt}, {"closes_at", r.ClosesAt}} {
		if h.v == "" {
			continue
		}
		if _, ok := clockOn(time.Time{}, h.v); !ok {
			ve.add(h.field, "must be HH:MM, got %q", h.v)
		}
	}
	return ve.orNil()
}
