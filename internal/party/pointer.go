package party

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/tablequeue/internal/kv"
	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// PointerStore keeps each user's LocalSessionPointer in the device KV.
// A pointer is staged with Pending set before the store write and then
// confirmed or rolled back on the store's answer.
type PointerStore struct {
	kv kv.Store
}

func NewPointerStore(store kv.Store) *PointerStore {
	return &PointerStore{kv: store}
}

func pointerKey(userID string) string {
	return "session-pointer/" + userID
}

// Load returns the user's pointer, or nil if there is none.
func (p *PointerStore) Load(ctx context.Context, userID string) (*model.LocalSessionPointer, error) {
	var ptr model.LocalSessionPointer
	ok, err := kv.GetJSON(ctx, p.kv, pointerKey(userID), &ptr)
	if err != nil {
		return nil, fmt.Errorf("load session pointer: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &ptr, nil
}

// Stage writes a pending pointer and returns whatever was there before so
// the caller can roll back to it.
func (p *PointerStore) Stage(ctx context.Context, userID string, ptr model.LocalSessionPointer) (*model.LocalSessionPointer, error) {
	prev, err := p.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	ptr.Pending = true
	if err := kv.PutJSON(ctx, p.kv, pointerKey(userID), ptr); err != nil {
		return nil, fmt.Errorf("stage session pointer: %w", err)
	}
	return prev, nil
}

// Confirm replaces the pending pointer with the confirmed one.
func (p *PointerStore) Confirm(ctx context.Context, userID string, ptr model.LocalSessionPointer) error {
	ptr.Pending = false
	if err := kv.PutJSON(ctx, p.kv, pointerKey(userID), ptr); err != nil {
		return fmt.Errorf("confirm session pointer: %w", err)
	}
	return nil
}

// Rollback restores prev, or removes the pointer if prev is nil.
func (p *PointerStore) Rollback(ctx context.Context, userID string, prev *model.LocalSessionPointer) error {
	if prev == nil {
		return p.Clear(ctx, userID)
	}
	if err := kv.PutJSON(ctx, p.kv, pointerKey(userID), prev); err != nil {
		return fmt.Errorf("roll back session pointer: %w", err)
	}
	return nil
}

// Clear removes the user's pointer.
func (p *PointerStore) Clear(ctx context.Context, userID string) error {
	if err := p.kv.Delete(ctx, pointerKey(userID)); err != nil {
		return fmt.Errorf("clear session pointer: %w", err)
	}
	return nil
}
