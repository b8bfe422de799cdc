// Package export writes periodic JSONL snapshots of the row store to audit
// destinations (S3, a git repository).
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// Version is bumped whenever the record layout changes.
const Version = "1"

// Source is the slice of the row store an export reads.
type Source interface {
	ListRestaurants(ctx context.Context) ([]*model.Restaurant, error)
	ListEntries(ctx context.Context, filter model.EntryFilter) ([]*model.WaitlistEntry, error)
	ListSessions(ctx context.Context, filter model.SessionFilter) ([]*model.PartySession, error)
	ListItems(ctx context.Context, sessionID string) ([]*model.SessionItem, error)
}

// Header is the first JSONL record of an export.
type Header struct {
	Version         string    `json:"version"`
	Type            string    `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	RestaurantCount int       `json:"restaurant_count"`
	EntryCount      int       `json:"entry_count"`
	SessionCount    int       `json:"session_count"`
}

// Record is one JSONL line after the header.
type Record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SessionRecord is a session with its cart lines embedded.
type SessionRecord struct {
	*model.PartySession
	Items []*model.SessionItem `json:"items"`
}

// WriteJSONL writes every restaurant, entry and session in src to w.
// Restaurants and sessions are sorted by ID; entries stay in queue order.
func WriteJSONL(ctx context.Context, src Source, w io.Writer, now time.Time) error {
	restaurants, err := src.ListRestaurants(ctx)
	if err != nil {
		return fmt.Errorf("list restaurants: %w", err)
	}
	sort.Slice(restaurants, func(i, j int) bool { return restaurants[i].ID < restaurants[j].ID })

	entries, err := src.ListEntries(ctx, model.EntryFilter{})
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}

	sessions, err := src.ListSessions(ctx, model.SessionFilter{})
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(Header{
		Version:         Version,
		Type:            "header",
		Timestamp:       now.UTC(),
		RestaurantCount: len(restaurants),
		EntryCount:      len(entries),
		SessionCount:    len(sessions),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, r := range restaurants {
		if err := enc.Encode(Record{Type: "restaurant", Data: r}); err != nil {
			return fmt.Errorf("encode restaurant %s: %w", r.ID, err)
		}
	}
	for _, e := range entries {
		if err := enc.Encode(Record{Type: "entry", Data: e}); err != nil {
			return fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
	}
	for _, ps := range sessions {
		items, err := src.ListItems(ctx, ps.ID)
		if err != nil {
			return fmt.Errorf("list items for %s: %w", ps.ID, err)
		}
		if items == nil {
			items = []*model.SessionItem{}
		}
		if err := enc.Encode(Record{Type: "session", Data: SessionRecord{PartySession: ps, Items: items}}); err != nil {
			return fmt.Errorf("encode session %s: %w", ps.ID, err)
		}
	}
	return nil
}
