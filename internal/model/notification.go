package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates the payload carried by a NotificationEvent.
type EventType string

const (
	EventJoined       EventType = "joined"
	EventTableReady   EventType = "table_ready"
	EventSeated       EventType = "seated"
	EventRemoved      EventType = "removed"
	EventGroupCreated EventType = "group_created"
	EventLeft         EventType = "left"
)

// EventPayload is implemented by the per-type payload structs below.
type EventPayload interface {
	EventType() EventType
}

type JoinedPayload struct {
	EntryID   string `json:"entry_id"`
	PartySize int    `json:"party_size"`
	Position  int    `json:"position,omitempty"`
}

type TableReadyPayload struct {
	EntryID    string    `json:"entry_id"`
	PartySize  int       `json:"party_size"`
	NotifiedAt time.Time `json:"notified_at"`
}

type SeatedPayload struct {
	EntryID   string `json:"entry_id"`
	PartySize int    `json:"party_size"`
}

type RemovedPayload struct {
	EntryID   string `json:"entry_id"`
	PartySize int    `json:"party_size"`
}

type LeftPayload struct {
	EntryID   string `json:"entry_id"`
	PartySize int    `json:"party_size"`
}

type GroupCreatedPayload struct {
	SessionID string `json:"session_id"`
}

func (JoinedPayload) EventType() EventType       { return EventJoined }
func (TableReadyPayload) EventType() EventType   { return EventTableReady }
func (SeatedPayload) EventType() EventType       { return EventSeated }
func (RemovedPayload) EventType() EventType      { return EventRemoved }
func (LeftPayload) EventType() EventType         { return EventLeft }
func (GroupCreatedPayload) EventType() EventType { return EventGroupCreated }

// NotificationEvent is one immutable, user-facing entry in the notification
// history. The Type field always matches Payload.EventType().
type NotificationEvent struct {
	ID             string
	Type           EventType
	RestaurantID   string
	RestaurantName string
	Timestamp      time.Time
	Read           bool
	Payload        EventPayload
}

// NewEvent builds an event whose type is taken from the payload.
func NewEvent(p EventPayload, restaurantID, restaurantName string, at time.Time) NotificationEvent {
	return NotificationEvent{
		Type:           p.EventType(),
		RestaurantID:   restaurantID,
		RestaurantName: restaurantName,
		Timestamp:      at,
		Payload:        p,
	}
}

// EntryID returns the waitlist entry the event refers to, if any.
func (e NotificationEvent) EntryID() string {
	switch p := e.Payload.(type) {
	case JoinedPayload:
		return p.EntryID
	case TableReadyPayload:
		return p.EntryID
	case SeatedPayload:
		return p.EntryID
	case RemovedPayload:
		return p.EntryID
	case LeftPayload:
		return p.EntryID
	}
	return ""
}

// eventEnvelope is the persisted form of a NotificationEvent.
type eventEnvelope struct {
	ID             string          `json:"id"`
	Type           EventType       `json:"type"`
	RestaurantID   string          `json:"restaurant_id"`
	RestaurantName string          `json:"restaurant_name"`
	Timestamp      time.Time       `json:"timestamp"`
	Read           bool            `json:"read"`
	Payload        json.RawMessage `json:"payload"`
}

func (e NotificationEvent) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %s: missing payload", e.ID)
	}
	if e.Payload.EventType() != e.Type {
		return nil, fmt.Errorf("event %s: type %q does not match payload %q", e.ID, e.Type, e.Payload.EventType())
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{
		ID:             e.ID,
		Type:           e.Type,
		RestaurantID:   e.RestaurantID,
		RestaurantName: e.RestaurantName,
		Timestamp:      e.Timestamp,
		Read:           e.Read,
		Payload:        payload,
	})
}

func (e *NotificationEvent) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	var p EventPayload
	var err error
	switch env.Type {
	case EventJoined:
		p, err = decodePayload[JoinedPayload](env.Payload)
	case EventTableReady:
		p, err = decodePayload[TableReadyPayload](env.Payload)
	case EventSeated:
		p, err = decodePayload[SeatedPayload](env.Payload)
	case EventRemoved:
		p, err = decodePayload[RemovedPayload](env.Payload)
	case EventLeft:
		p, err = decodePayload[LeftPayload](env.Payload)
	case EventGroupCreated:
		p, err = decodePayload[GroupCreatedPayload](env.Payload)
	default:
		return fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}

	*e = NotificationEvent{
		ID:             env.ID,
		Type:           env.Type,
		RestaurantID:   env.RestaurantID,
		RestaurantName: env.RestaurantName,
		Timestamp:      env.Timestamp,
		Read:           env.Read,
		Payload:        p,
	}
	return nil
}

func decodePayload[T EventPayload](raw json.RawMessage) (EventPayload, error) {
	var p T
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}
