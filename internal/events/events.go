package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// Topic layout. Every topic sits under "tq." so TopicAll catches the feed.
//
//	tq.entries.<entry-id>                single-entry deltas
//	tq.restaurants.<rid>.entries         every entry delta for a restaurant
//	tq.restaurants.<rid>.row             restaurant row changes
//	tq.sessions.<session-id>             party session changes
const TopicAll = "tq.>"

// EntryTopic is the change-feed topic for one waitlist entry.
func EntryTopic(entryID string) string {
	return "tq.entries." + entryID
}

// RestaurantEntriesTopic carries every entry delta of one restaurant.
func RestaurantEntriesTopic(restaurantID string) string {
	return "tq.restaurants." + restaurantID + ".entries"
}

// RestaurantTopic carries changes to the restaurant row itself.
func RestaurantTopic(restaurantID string) string {
	return "tq.restaurants." + restaurantID + ".row"
}

// SessionTopic is the change-feed topic for one party session.
func SessionTopic(sessionID string) string {
	return "tq.sessions." + sessionID
}

// Op names the write that produced a delta.
type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
)

// EntryChanged is published whenever a waitlist entry row changes.
type EntryChanged struct {
	Op    Op                   `json:"op"`
	Entry *model.WaitlistEntry `json:"entry"`
}

// RestaurantChanged is published whenever a restaurant row changes.
type RestaurantChanged struct {
	Op         Op                `json:"op"`
	Restaurant *model.Restaurant `json:"restaurant"`
}

// SessionChanged is published whenever a party session changes.
type SessionChanged struct {
	Op      Op                  `json:"op"`
	Session *model.PartySession `json:"session"`
}

// DecodeEntryChanged parses a delta and rejects one with no entry row.
func DecodeEntryChanged(data []byte) (*EntryChanged, error) {
	var ev EntryChanged
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode entry delta: %w", err)
	}
	if ev.Entry == nil || ev.Entry.ID == "" {
		return nil, fmt.Errorf("decode entry delta: missing entry")
	}
	return &ev, nil
}

// DecodeRestaurantChanged parses a delta and rejects one with no restaurant row.
func DecodeRestaurantChanged(data []byte) (*RestaurantChanged, error) {
	var ev RestaurantChanged
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode restaurant delta: %w", err)
	}
	if ev.Restaurant == nil || ev.Restaurant.ID == "" {
		return nil, fmt.Errorf("decode restaurant delta: missing restaurant")
	}
	return &ev, nil
}

// Publisher emits a delta after a write has been committed.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber delivers the raw JSON deltas published on a topic. Topics may
// use NATS wildcards. The returned cancel func unsubscribes and closes the
// channel; a full channel drops deltas rather than block the transport, and
// the reconciler's resync repairs the gap.
type Subscriber interface {
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

// MatchTopic reports whether topic matches pattern using NATS-style
// wildcards: "*" matches exactly one segment, ">" one or more trailing
// segments.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")

	for i, pp := range patParts {
		if pp == ">" {
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}

	return len(patParts) == len(topParts)
}
