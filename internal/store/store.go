package store

import (
	"context"

	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// RowStore is the keyed row store a guest device talks to. It is implemented
// by the Postgres store on the server and by the HTTP client on devices.
//
// Every mutating method is a conditional write. A method returns an error
// wrapping model.ErrNotFound when the row does not exist and
// model.ErrConflict when the row is not in the required state.
type RowStore interface {
	// Restaurants
	GetRestaurant(ctx context.Context, id string) (*model.Restaurant, error)
	ListRestaurants(ctx context.Context) ([]*model.Restaurant, error)

	// Waitlist entries
	CreateEntry(ctx context.Context, entry *model.WaitlistEntry) error
	GetEntry(ctx context.Context, id string) (*model.WaitlistEntry, error)
	ListEntries(ctx context.Context, filter model.EntryFilter) ([]*model.WaitlistEntry, error)
	CancelEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) // iff waiting

	// Party sessions
	CreateSession(ctx context.Context, session *model.PartySession) error // iff host has no open session
	GetSession(ctx context.Context, id string) (*model.PartySession, error)
	ListSessions(ctx context.Context, filter model.SessionFilter) ([]*model.PartySession, error)
	CancelSession(ctx context.Context, id string) (*model.PartySession, error) // purges items, iff open
	AddItem(ctx context.Context, item *model.SessionItem) error                 // iff session open
	ListItems(ctx context.Context, sessionID string) ([]*model.SessionItem, error)
}

// Store is the full persistence interface owned by the server. It adds the
// staff-side writes and transactions.
type Store interface {
	RowStore

	UpsertRestaurant(ctx context.Context, r *model.Restaurant) error
	SetWaitTime(ctx context.Context, id string, minutes int) (*model.Restaurant, error)

	NotifyEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) // iff waiting and never notified
	SeatEntry(ctx context.Context, id string) (*model.WaitlistEntry, error)   // iff notified

	SetSessionStatus(ctx context.Context, id string, from, to model.SessionStatus) (*model.PartySession, error)
	DeleteItems(ctx context.Context, sessionID string) (int64, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
