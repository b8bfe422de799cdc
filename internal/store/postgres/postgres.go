// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return newStore(db), nil
}

func newStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) GetRestaurant(ctx context.Context, id string) (*model.Restaurant, error) {
	return queryGetRestaurant(ctx, s.db, id)
}

func (s *PostgresStore) ListRestaurants(ctx context.Context) ([]*model.Restaurant, error) {
	return queryListRestaurants(ctx, s.db)
}

func (s *PostgresStore) UpsertRestaurant(ctx context.Context, r *model.Restaurant) error {
	r.UpdatedAt = s.now()
	return queryUpsertRestaurant(ctx, s.db, r)
}

func (s *PostgresStore) SetWaitTime(ctx context.Context, id string, minutes int) (*model.Restaurant, error) {
	return querySetWaitTime(ctx, s.db, id, minutes, s.now())
}

func (s *PostgresStore) CreateEntry(ctx context.Context, e *model.WaitlistEntry) error {
	return queryCreateEntry(ctx, s.db, e, s.now())
}

func (s *PostgresStore) GetEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return queryGetEntry(ctx, s.db, id)
}

func (s *PostgresStore) ListEntries(ctx context.Context, filter model.EntryFilter) ([]*model.WaitlistEntry, error) {
	return queryListEntries(ctx, s.db, filter)
}

func (s *PostgresStore) CancelEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return queryTransitionEntry(ctx, s.db, id, model.EntryCancelled, s.now(), model.EntryWaiting)
}

func (s *PostgresStore) NotifyEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return queryTransitionEntry(ctx, s.db, id, model.EntryNotified, s.now(), model.EntryWaiting)
}

func (s *PostgresStore) SeatEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return queryTransitionEntry(ctx, s.db, id, model.EntrySeated, s.now(), model.EntryNotified)
}

func (s *PostgresStore) CreateSession(ctx context.Context, ps *model.PartySession) error {
	return queryCreateSession(ctx, s.db, ps, s.now())
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.PartySession, error) {
	return queryGetSession(ctx, s.db, id)
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter model.SessionFilter) ([]*model.PartySession, error) {
	return queryListSessions(ctx, s.db, filter)
}

func (s *PostgresStore) SetSessionStatus(ctx context.Context, id string, from, to model.SessionStatus) (*model.PartySession, error) {
	return querySetSessionStatus(ctx, s.db, id, from, to, s.now())
}

// CancelSession marks an open session cancelled and purges its items in one
// transaction. Nothing changes if the session is not open.
func (s *PostgresStore) CancelSession(ctx context.Context, id string) (*model.PartySession, error) {
	var out *model.PartySession
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		ps, err := tx.CancelSession(ctx, id)
		out = ps
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) AddItem(ctx context.Context, it *model.SessionItem) error {
	return queryAddItem(ctx, s.db, it, s.now())
}

func (s *PostgresStore) ListItems(ctx context.Context, sessionID string) ([]*model.SessionItem, error) {
	return queryListItems(ctx, s.db, sessionID)
}

func (s *PostgresStore) DeleteItems(ctx context.Context, sessionID string) (int64, error) {
	return queryDeleteItems(ctx, s.db, sessionID)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin transaction: %w", err))
	}

	txS := &txStore{tx: tx, now: s.now}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx  *sql.Tx
	now func() time.Time
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) GetRestaurant(ctx context.Context, id string) (*model.Restaurant, error) {
	return queryGetRestaurant(ctx, s.tx, id)
}

func (s *txStore) ListRestaurants(ctx context.Context) ([]*model.Restaurant, error) {
	return queryListRestaurants(ctx, s.tx)
}

func (s *txStore) UpsertRestaurant(ctx context.Context, r *model.Restaurant) error {
	r.UpdatedAt = s.now()
	return queryUpsertRestaurant(ctx, s.tx, r)
}

func (s *txStore) SetWaitTime(ctx context.Context, id string, minutes int) (*model.Restaurant, error) {
	return querySetWaitTime(ctx, s.tx, id, minutes, s.now())
}

func (s *txStore) CreateEntry(ctx context.Context, e *model.WaitlistEntry) error {
	return queryCreateEntry(ctx, s.tx, e, s.now())
}

func (s *txStore) GetEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return queryGetEntry(ctx, s.tx, id)
}

func (s *txStore) ListEntries(ctx context.Context, filter model.EntryFilter) ([]*model.WaitlistEntry, error) {
	return queryListEntries(ctx, s.tx, filter)
}

func (s *txStore) CancelEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return queryTransitionEntry(ctx, s.tx, id, model.EntryCancelled, s.now(), model.EntryWaiting)
}

func (s *txStore) NotifyEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return queryTransitionEntry(ctx, s.tx, id, model.EntryNotified, s.now(), model.EntryWaiting)
}

func (s *txStore) SeatEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return queryTransitionEntry(ctx, s.tx, id, model.EntrySeated, s.now(), model.EntryNotified)
}

func (s *txStore) CreateSession(ctx context.Context, ps *model.PartySession) error {
	return queryCreateSession(ctx, s.tx, ps, s.now())
}

func (s *txStore) GetSession(ctx context.Context, id string) (*model.PartySession, error) {
	return queryGetSession(ctx, s.tx, id)
}

func (s *txStore) ListSessions(ctx context.Context, filter model.SessionFilter) ([]*model.PartySession, error) {
	return queryListSessions(ctx, s.tx, filter)
}

func (s *txStore) SetSessionStatus(ctx context.Context, id string, from, to model.SessionStatus) (*model.PartySession, error) {
	return querySetSessionStatus(ctx, s.tx, id, from, to, s.now())
}

// CancelSession updates the status first so that concurrent AddItem calls,
// which take a share lock on the session row, wait for this transaction and
// then see the session closed.
func (s *txStore) CancelSession(ctx context.Context, id string) (*model.PartySession, error) {
	ps, err := querySetSessionStatus(ctx, s.tx, id, model.SessionOpen, model.SessionCancelled, s.now())
	if err != nil {
		return nil, err
	}
	if _, err := queryDeleteItems(ctx, s.tx, id); err != nil {
		return nil, err
	}
	return ps, nil
}

func (s *txStore) AddItem(ctx context.Context, it *model.SessionItem) error {
	return queryAddItem(ctx, s.tx, it, s.now())
}

func (s *txStore) ListItems(ctx context.Context, sessionID string) ([]*model.SessionItem, error) {
	return queryListItems(ctx, s.tx, sessionID)
}

func (s *txStore) DeleteItems(ctx context.Context, sessionID string) (int64, error) {
	return queryDeleteItems(ctx, s.tx, sessionID)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
