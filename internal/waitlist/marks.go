package waitlist

import (
	"context"
	"fmt"
	"slices"

	"github.com/alfredjeanlab/tablequeue/internal/kv"
	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// Marks remembers, per entry, which lifecycle events the device has raised
// and whether the guest's own leave is in flight. Marks live in the device
// KV beside the event log but are not part of it, so clearing the history
// does not re-arm an alert, and every tq process sharing the device state
// agrees on them.
//
// A nil *Marks keeps nothing; the machine then dedups only within its own
// process.
type Marks struct {
	kv kv.Store
}

type entryMarks struct {
	Raised  []model.EventType `json:"raised,omitempty"`
	Leaving bool              `json:"leaving,omitempty"`
}

func NewMarks(store kv.Store) *Marks {
	return &Marks{kv: store}
}

func marksKey(entryID string) string {
	return "entry-marks/" + entryID
}

func (m *Marks) load(ctx context.Context, entryID string) (entryMarks, error) {
	var em entryMarks
	if _, err := kv.GetJSON(ctx, m.kv, marksKey(entryID), &em); err != nil {
		return em, fmt.Errorf("load marks for %s: %w", entryID, err)
	}
	return em, nil
}

func (m *Marks) update(ctx context.Context, entryID string, fn func(em *entryMarks)) error {
	_, err := kv.UpdateJSON(ctx, m.kv, marksKey(entryID), func(em *entryMarks, _ bool) error {
		fn(em)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save marks for %s: %w", entryID, err)
	}
	return nil
}

// Claim marks typ raised for the entry. It reports false when typ was
// already raised, by this process or another one.
func (m *Marks) Claim(ctx context.Context, entryID string, typ model.EventType) (bool, error) {
	if m == nil {
		return true, nil
	}
	var claimed bool
	err := m.update(ctx, entryID, func(em *entryMarks) {
		claimed = !slices.Contains(em.Raised, typ)
		if claimed {
			em.Raised = append(em.Raised, typ)
		}
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// Release undoes a Claim whose event could not be recorded.
func (m *Marks) Release(ctx context.Context, entryID string, typ model.EventType) error {
	if m == nil {
		return nil
	}
	return m.update(ctx, entryID, func(em *entryMarks) {
		em.Raised = slices.DeleteFunc(em.Raised, func(t model.EventType) bool { return t == typ })
	})
}

// Raised reports whether typ was already raised for the entry.
func (m *Marks) Raised(ctx context.Context, entryID string, typ model.EventType) (bool, error) {
	if m == nil {
		return false, nil
	}
	em, err := m.load(ctx, entryID)
	if err != nil {
		return false, err
	}
	return slices.Contains(em.Raised, typ), nil
}

// SetLeaving records that the guest is cancelling the entry themselves. It
// is set before the cancel is written, so any process that later sees the
// cancelled row finds it.
func (m *Marks) SetLeaving(ctx context.Context, entryID string, leaving bool) error {
	if m == nil {
		return nil
	}
	return m.update(ctx, entryID, func(em *entryMarks) {
		em.Leaving = leaving
	})
}

// Leaving reports whether the guest's own cancel of the entry was begun.
func (m *Marks) Leaving(ctx context.Context, entryID string) (bool, error) {
	if m == nil {
		return false, nil
	}
	em, err := m.load(ctx, entryID)
	if err != nil {
		return false, err
	}
	return em.Leaving, nil
}
