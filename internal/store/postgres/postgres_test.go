package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var entryRowColumns = []string{
	"id", "restaurant_id", "user_id", "party_size", "party_leader_name",
	"status", "seq", "version", "created_at", "updated_at", "notified_at",
}

var restaurantRowColumns = []string{
	"id", "name", "address", "latitude", "longitude",
	"current_wait_time_minutes", "opens_at", "closes_at", "updated_at",
}

var sessionRowColumns = []string{"id", "restaurant_id", "host_user_id", "status", "created_at", "updated_at"}

var itemRowColumns = []string{"id", "session_id", "user_id", "name", "quantity", "notes", "created_at"}

func addEntryRow(rows *sqlmock.Rows, id, status string, seq, version int64, created time.Time, notified driver.Value) *sqlmock.Rows {
	return rows.AddRow(id, "r-1", "u-"+id, 2, "Ana", status, seq, version, created, created, notified)
}

func TestQueryGetEntry(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .+ FROM waitlist_entries WHERE id = \\$1").
		WithArgs("wl-1").
		WillReturnRows(addEntryRow(sqlmock.NewRows(entryRowColumns), "wl-1", "notified", 7, 2, now, now))

	e, err := queryGetEntry(context.Background(), db, "wl-1")
	if err != nil {
		t.Fatalf("queryGetEntry: %v", err)
	}
	if e.Status != model.EntryNotified || e.Seq != 7 || e.Version != 2 {
		t.Errorf("got %+v", e)
	}
	if e.NotifiedAt == nil || !e.NotifiedAt.Equal(now) {
		t.Errorf("NotifiedAt = %v, want %v", e.NotifiedAt, now)
	}
}

func TestQueryGetEntry_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM waitlist_entries WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := queryGetEntry(context.Background(), db, "missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryCreateEntry(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	e := &model.WaitlistEntry{
		ID:              "wl-1",
		RestaurantID:    "r-1",
		UserID:          "u-1",
		PartySize:       4,
		PartyLeaderName: "Ana",
		Status:          model.EntryNotified, // reset by the insert
		NotifiedAt:      &now,
	}

	mock.ExpectQuery("INSERT INTO waitlist_entries").
		WithArgs("wl-1", "r-1", "u-1", 4, "Ana", "waiting", int64(1), now, now).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(42)))

	if err := queryCreateEntry(context.Background(), db, e, now); err != nil {
		t.Fatalf("queryCreateEntry: %v", err)
	}
	if e.Seq != 42 || e.Status != model.EntryWaiting || e.Version != 1 || e.NotifiedAt != nil {
		t.Errorf("got %+v", e)
	}
}

func TestQueryCreateEntry_UnknownRestaurant(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("INSERT INTO waitlist_entries").
		WillReturnError(&pq.Error{Code: "23503", Message: "violates foreign key constraint"})

	err := queryCreateEntry(context.Background(), db, &model.WaitlistEntry{ID: "wl-1", RestaurantID: "nope"}, time.Now())
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryListEntries(t *testing.T) {
	for _, tc := range []struct {
		name      string
		filter    model.EntryFilter
		wantQuery string
		wantArgs  []driver.Value
	}{
		{
			name:      "NoFilter",
			filter:    model.EntryFilter{},
			wantQuery: "SELECT .+ FROM waitlist_entries ORDER BY created_at, seq$",
		},
		{
			name: "RestaurantAndStatus",
			filter: model.EntryFilter{
				RestaurantID: "r-1",
				Status:       []model.EntryStatus{model.EntryWaiting, model.EntryNotified},
			},
			wantQuery: "WHERE restaurant_id = \\$1 AND status IN \\(\\$2, \\$3\\) ORDER BY created_at, seq",
			wantArgs:  []driver.Value{"r-1", "waiting", "notified"},
		},
		{
			name:      "UserWithLimit",
			filter:    model.EntryFilter{UserID: "u-9", Limit: 5},
			wantQuery: "WHERE user_id = \\$1 ORDER BY created_at, seq LIMIT \\$2",
			wantArgs:  []driver.Value{"u-9", 5},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			now := time.Now().UTC()
			rows := sqlmock.NewRows(entryRowColumns)
			addEntryRow(rows, "wl-1", "waiting", 1, 1, now, nil)
			addEntryRow(rows, "wl-2", "waiting", 2, 1, now, nil)

			q := mock.ExpectQuery(tc.wantQuery)
			if tc.wantArgs != nil {
				q = q.WithArgs(tc.wantArgs...)
			}
			q.WillReturnRows(rows)

			got, err := queryListEntries(context.Background(), db, tc.filter)
			if err != nil {
				t.Fatalf("queryListEntries: %v", err)
			}
			if len(got) != 2 || got[0].ID != "wl-1" || got[1].ID != "wl-2" {
				t.Errorf("got %d entries", len(got))
			}
		})
	}
}

func TestQueryTransitionEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
	created := now.Add(-time.Hour)

	t.Run("NotifyStampsOnce", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("UPDATE waitlist_entries SET status = \\$2, version = version \\+ 1, updated_at = \\$3, notified_at = \\$3 WHERE id = \\$1 AND status = ANY\\(\\$4\\) AND notified_at IS NULL RETURNING").
			WithArgs("wl-1", "notified", now, sqlmock.AnyArg()).
			WillReturnRows(addEntryRow(sqlmock.NewRows(entryRowColumns), "wl-1", "notified", 1, 2, created, now))

		e, err := queryTransitionEntry(context.Background(), db, "wl-1", model.EntryNotified, now, model.EntryWaiting)
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
		if e.Status != model.EntryNotified || e.Version != 2 || e.NotifiedAt == nil {
			t.Errorf("got %+v", e)
		}
	})

	t.Run("CancelLeavesNotifiedAt", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("UPDATE waitlist_entries SET status = \\$2, version = version \\+ 1, updated_at = \\$3 WHERE id = \\$1 AND status = ANY\\(\\$4\\) RETURNING").
			WithArgs("wl-1", "cancelled", now, sqlmock.AnyArg()).
			WillReturnRows(addEntryRow(sqlmock.NewRows(entryRowColumns), "wl-1", "cancelled", 1, 2, created, nil))

		if _, err := queryTransitionEntry(context.Background(), db, "wl-1", model.EntryCancelled, now, model.EntryWaiting); err != nil {
			t.Fatalf("transition: %v", err)
		}
	})

	t.Run("WrongStateIsConflict", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("UPDATE waitlist_entries SET").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT .+ FROM waitlist_entries WHERE id = \\$1").
			WithArgs("wl-1").
			WillReturnRows(addEntryRow(sqlmock.NewRows(entryRowColumns), "wl-1", "notified", 1, 2, created, now))

		_, err := queryTransitionEntry(context.Background(), db, "wl-1", model.EntryCancelled, now, model.EntryWaiting)
		if !errors.Is(err, model.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("MissingIsNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("UPDATE waitlist_entries SET").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT .+ FROM waitlist_entries WHERE id = \\$1").
			WithArgs("wl-404").
			WillReturnError(sql.ErrNoRows)

		_, err := queryTransitionEntry(context.Background(), db, "wl-404", model.EntrySeated, now, model.EntryNotified)
		if !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("GuardTriggerIsConflict", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("UPDATE waitlist_entries SET").
			WillReturnError(&pq.Error{Code: "23000", Message: "entry wl-1: notified -> cancelled is not allowed"})

		_, err := queryTransitionEntry(context.Background(), db, "wl-1", model.EntryCancelled, now, model.EntryWaiting)
		if !errors.Is(err, model.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})
}

func TestQueryCreateSession_OpenSessionExists(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO party_sessions").
		WithArgs("ps-2", "r-1", "u-1", "open", now, now).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint \"idx_party_sessions_one_open\""})

	err := queryCreateSession(context.Background(), db, &model.PartySession{ID: "ps-2", RestaurantID: "r-1", HostUserID: "u-1"}, now)
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestQueryListSessions(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM party_sessions WHERE host_user_id = \\$1 AND status IN \\(\\$2\\) ORDER BY created_at DESC, id").
		WithArgs("u-1", "open").
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).AddRow("ps-1", "r-1", "u-1", "open", now, now))

	got, err := queryListSessions(context.Background(), db, model.SessionFilter{
		HostUserID: "u-1",
		Status:     []model.SessionStatus{model.SessionOpen},
	})
	if err != nil {
		t.Fatalf("queryListSessions: %v", err)
	}
	if len(got) != 1 || got[0].ID != "ps-1" || got[0].Status != model.SessionOpen {
		t.Errorf("got %+v", got)
	}
}

func TestQueryAddItem(t *testing.T) {
	now := time.Now().UTC()
	item := func() *model.SessionItem {
		return &model.SessionItem{ID: "it-1", SessionID: "ps-1", UserID: "u-2", Name: "Fries", Quantity: 2}
	}

	t.Run("Open", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("INSERT INTO session_items .+ WHERE EXISTS .+ FOR SHARE").
			WithArgs("it-1", "ps-1", "u-2", "Fries", 2, "", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := queryAddItem(context.Background(), db, item(), now); err != nil {
			t.Fatalf("queryAddItem: %v", err)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("INSERT INTO session_items").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT .+ FROM party_sessions WHERE id = \\$1").
			WithArgs("ps-1").
			WillReturnRows(sqlmock.NewRows(sessionRowColumns).AddRow("ps-1", "r-1", "u-1", "cancelled", now, now))

		if err := queryAddItem(context.Background(), db, item(), now); !errors.Is(err, model.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})
}

func TestCancelSession_PurgesItemsInTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	s := newStore(db)
	now := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE party_sessions SET status = \\$3, updated_at = \\$4 WHERE id = \\$1 AND status = \\$2").
		WithArgs("ps-1", "open", "cancelled", now).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).AddRow("ps-1", "r-1", "u-1", "cancelled", now, now))
	mock.ExpectExec("DELETE FROM session_items WHERE session_id = \\$1").
		WithArgs("ps-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	ps, err := s.CancelSession(context.Background(), "ps-1")
	if err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	if ps.Status != model.SessionCancelled {
		t.Errorf("Status = %q, want cancelled", ps.Status)
	}
}

func TestCancelSession_AlreadyCancelledRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	s := newStore(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE party_sessions SET").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT .+ FROM party_sessions WHERE id = \\$1").
		WithArgs("ps-1").
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).AddRow("ps-1", "r-1", "u-1", "cancelled", now, now))
	mock.ExpectRollback()

	if _, err := s.CancelSession(context.Background(), "ps-1"); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestQuerySetWaitTime(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE restaurants SET current_wait_time_minutes = \\$2").
		WithArgs("r-1", 25, now).
		WillReturnRows(sqlmock.NewRows(restaurantRowColumns).
			AddRow("r-1", "Noodle Bar", "1 Main St", 37.77, -122.41, 25, "11:00", "22:00", now))

	r, err := querySetWaitTime(context.Background(), db, "r-1", 25, now)
	if err != nil {
		t.Fatalf("querySetWaitTime: %v", err)
	}
	if r.CurrentWaitTimeMinutes != 25 || r.OpensAt != "11:00" {
		t.Errorf("got %+v", r)
	}
}

func TestQueryListItems(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM session_items WHERE session_id = \\$1 ORDER BY created_at, id").
		WithArgs("ps-1").
		WillReturnRows(sqlmock.NewRows(itemRowColumns).
			AddRow("it-1", "ps-1", "u-1", "Dumplings", 1, nil, now).
			AddRow("it-2", "ps-1", "u-2", "Tea", 2, "no sugar", now))

	got, err := queryListItems(context.Background(), db, "ps-1")
	if err != nil {
		t.Fatalf("queryListItems: %v", err)
	}
	if len(got) != 2 || got[0].Notes != "" || got[1].Notes != "no sugar" {
		t.Errorf("got %+v", got)
	}
}

func TestRunInTransaction_RollbackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	s := newStore(db)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestMapError(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want error
	}{
		{"Unique", &pq.Error{Code: "23505"}, model.ErrConflict},
		{"ForeignKey", &pq.Error{Code: "23503"}, model.ErrNotFound},
		{"Check", &pq.Error{Code: "23514"}, model.ErrInvalidInput},
		{"Serialization", &pq.Error{Code: "40001"}, model.ErrTransient},
		{"BadConn", driver.ErrBadConn, model.ErrTransient},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapError(tc.err); !errors.Is(got, tc.want) {
				t.Errorf("mapError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}

	plain := errors.New("plain")
	if got := mapError(plain); got != plain {
		t.Errorf("mapError(plain) = %v, want unchanged", got)
	}
}
