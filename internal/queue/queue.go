// Package queue computes a waitlist entry's place in its restaurant's line.
package queue

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// Position is a 1-based rank among the waiting entries of one restaurant.
type Position struct {
	Rank  int `json:"rank"`
	Total int `json:"total"`
}

// Rank computes entry's position among siblings. Siblings may include entry
// itself and entries of other restaurants; both are handled.
//
// Rank is 1 + the number of waiting siblings ordered strictly before entry.
// Total is the number of waiting siblings, with entry counted if it is still
// waiting. An entry that is no longer waiting still gets a rank so the caller
// can show where it stood.
func Rank(entry *model.WaitlistEntry, siblings []*model.WaitlistEntry) Position {
	pos := Position{Rank: 1}
	if entry.Status == model.EntryWaiting {
		pos.Total = 1
	}
	for _, s := range siblings {
		if s.ID == entry.ID || s.RestaurantID != entry.RestaurantID || s.Status != model.EntryWaiting {
			continue
		}
		pos.Total++
		if s.Before(entry) {
			pos.Rank++
		}
	}
	return pos
}

// Reader is the slice of the row store the calculator reads.
type Reader interface {
	GetEntry(ctx context.Context, id string) (*model.WaitlistEntry, error)
	ListEntries(ctx context.Context, filter model.EntryFilter) ([]*model.WaitlistEntry, error)
}

// Calculator reads entries from the row store and ranks them.
type Calculator struct {
	store Reader
}

func NewCalculator(store Reader) *Calculator {
	return &Calculator{store: store}
}

// Position loads the entry and its waiting siblings and ranks it.
// A missing entry returns model.ErrNotFound.
func (c *Calculator) Position(ctx context.Context, entryID string) (*model.WaitlistEntry, Position, error) {
	entry, err := c.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, Position{}, fmt.Errorf("position of %s: %w", entryID, err)
	}
	pos, err := c.PositionOf(ctx, entry)
	if err != nil {
		return nil, Position{}, err
	}
	return entry, pos, nil
}

// PositionOf ranks an entry the caller already holds.
func (c *Calculator) PositionOf(ctx context.Context, entry *model.WaitlistEntry) (Position, error) {
	siblings, err := c.store.ListEntries(ctx, model.EntryFilter{
		RestaurantID: entry.RestaurantID,
		Status:       []model.EntryStatus{model.EntryWaiting},
	})
	if err != nil {
		return Position{}, fmt.Errorf("list siblings of %s: %w", entry.ID, err)
	}
	return Rank(entry, siblings), nil
}

// View derives the display state of entry. r may be nil when the restaurant
// row has not been loaded yet.
func View(entry *model.WaitlistEntry, pos Position, r *model.Restaurant) model.ActiveEntryView {
	v := model.ActiveEntryView{
		EntryID:      entry.ID,
		RestaurantID: entry.RestaurantID,
		Position:     pos.Rank,
		TotalInQueue: pos.Total,
		Status:       entry.Status,
	}
	if r != nil {
		v.RestaurantName = r.Name
		v.WaitTimeMinutes = r.CurrentWaitTimeMinutes
	}
	return v
}
