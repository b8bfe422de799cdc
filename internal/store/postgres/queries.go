package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/tablequeue/internal/model"
)

const restaurantColumns = `id, name, address, latitude, longitude,
	current_wait_time_minutes, opens_at, closes_at, updated_at`

const entryColumns = `id, restaurant_id, user_id, party_size, party_leader_name,
	status, seq, version, created_at, updated_at, notified_at`

const sessionColumns = `id, restaurant_id, host_user_id, status, created_at, updated_at`

const itemColumns = `id, session_id, user_id, name, quantity, notes, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- restaurants ---

func queryGetRestaurant(ctx context.Context, db executor, id string) (*model.Restaurant, error) {
	row := db.QueryRowContext(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE id = $1`, id)
	r, err := scanRestaurant(row)
	if err != nil {
		return nil, notFound(err, "restaurant", id)
	}
	return r, nil
}

func queryListRestaurants(ctx context.Context, db executor) ([]*model.Restaurant, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+restaurantColumns+` FROM restaurants ORDER BY name, id`)
	if err != nil {
		return nil, mapError(fmt.Errorf("list restaurants: %w", err))
	}
	out, err := collect(rows, scanRestaurant)
	if err != nil {
		return nil, mapError(fmt.Errorf("scan restaurants: %w", err))
	}
	return out, nil
}

func queryUpsertRestaurant(ctx context.Context, db executor, r *model.Restaurant) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO restaurants (`+restaurantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			current_wait_time_minutes = EXCLUDED.current_wait_time_minutes,
			opens_at = EXCLUDED.opens_at,
			closes_at = EXCLUDED.closes_at,
			updated_at = EXCLUDED.updated_at`,
		r.ID,
		r.Name,
		r.Address,
		r.Latitude,
		r.Longitude,
		r.CurrentWaitTimeMinutes,
		r.OpensAt,
		r.ClosesAt,
		r.UpdatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("upsert restaurant %s: %w", r.ID, err))
	}
	return nil
}

func querySetWaitTime(ctx context.Context, db executor, id string, minutes int, now time.Time) (*model.Restaurant, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE restaurants SET current_wait_time_minutes = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+restaurantColumns,
		id, minutes, now,
	)
	r, err := scanRestaurant(row)
	if err != nil {
		return nil, notFound(err, "restaurant", id)
	}
	return r, nil
}

// --- waitlist entries ---

// queryCreateEntry inserts e as a fresh waiting entry. The store assigns
// Seq; Status, Version and the timestamps are reset here.
func queryCreateEntry(ctx context.Context, db executor, e *model.WaitlistEntry, now time.Time) error {
	e.Status = model.EntryWaiting
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	e.NotifiedAt = nil

	err := db.QueryRowContext(ctx, `
		INSERT INTO waitlist_entries (
			id, restaurant_id, user_id, party_size, party_leader_name,
			status, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`,
		e.ID,
		e.RestaurantID,
		e.UserID,
		e.PartySize,
		e.PartyLeaderName,
		string(e.Status),
		e.Version,
		e.CreatedAt,
		e.UpdatedAt,
	).Scan(&e.Seq)
	if err != nil {
		return mapError(fmt.Errorf("create entry %s: %w", e.ID, err))
	}
	return nil
}

func queryGetEntry(ctx context.Context, db executor, id string) (*model.WaitlistEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM waitlist_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		return nil, notFound(err, "entry", id)
	}
	return e, nil
}

// queryListEntries returns entries matching filter in queue order.
func queryListEntries(ctx context.Context, db executor, filter model.EntryFilter) ([]*model.WaitlistEntry, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.RestaurantID != "" {
		whereClauses = append(whereClauses, "restaurant_id = "+nextArg())
		args = append(args, filter.RestaurantID)
	}
	if filter.UserID != "" {
		whereClauses = append(whereClauses, "user_id = "+nextArg())
		args = append(args, filter.UserID)
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = nextArg()
			args = append(args, string(s))
		}
		whereClauses = append(whereClauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + entryColumns + ` FROM waitlist_entries`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY created_at, seq"
	if filter.Limit > 0 {
		query += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("list entries: %w", err))
	}
	out, err := collect(rows, scanEntry)
	if err != nil {
		return nil, mapError(fmt.Errorf("scan entries: %w", err))
	}
	return out, nil
}

// queryTransitionEntry moves entry id to status to, provided its current
// status is one of from. Moving to notified also stamps notified_at, and
// only if it was never stamped before. Every applied transition bumps the
// row version.
func queryTransitionEntry(ctx context.Context, db executor, id string, to model.EntryStatus, now time.Time, from ...model.EntryStatus) (*model.WaitlistEntry, error) {
	set := "status = $2, version = version + 1, updated_at = $3"
	cond := "id = $1 AND status = ANY($4)"
	if to == model.EntryNotified {
		set += ", notified_at = $3"
		cond += " AND notified_at IS NULL"
	}

	row := db.QueryRowContext(ctx,
		`UPDATE waitlist_entries SET `+set+` WHERE `+cond+` RETURNING `+entryColumns,
		id, string(to), now, pq.Array(statusStrings(from)),
	)
	e, err := scanEntry(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapError(fmt.Errorf("transition entry %s to %s: %w", id, to, err))
	}

	// No row changed: either the entry is gone or it is in the wrong state.
	cur, gerr := queryGetEntry(ctx, db, id)
	if gerr != nil {
		return nil, gerr
	}
	return nil, fmt.Errorf("entry %s is %s, cannot move to %s: %w", id, cur.Status, to, model.ErrConflict)
}

// --- party sessions ---

func queryCreateSession(ctx context.Context, db executor, ps *model.PartySession, now time.Time) error {
	ps.Status = model.SessionOpen
	ps.CreatedAt = now
	ps.UpdatedAt = now

	_, err := db.ExecContext(ctx, `
		INSERT INTO party_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ps.ID,
		ps.RestaurantID,
		ps.HostUserID,
		string(ps.Status),
		ps.CreatedAt,
		ps.UpdatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("create session for host %s: %w", ps.HostUserID, err))
	}
	return nil
}

func queryGetSession(ctx context.Context, db executor, id string) (*model.PartySession, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM party_sessions WHERE id = $1`, id)
	ps, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return ps, nil
}

// queryListSessions returns sessions matching filter, newest first.
func queryListSessions(ctx context.Context, db executor, filter model.SessionFilter) ([]*model.PartySession, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.HostUserID != "" {
		whereClauses = append(whereClauses, "host_user_id = "+nextArg())
		args = append(args, filter.HostUserID)
	}
	if filter.RestaurantID != "" {
		whereClauses = append(whereClauses, "restaurant_id = "+nextArg())
		args = append(args, filter.RestaurantID)
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = nextArg()
			args = append(args, string(s))
		}
		whereClauses = append(whereClauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + sessionColumns + ` FROM party_sessions`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("list sessions: %w", err))
	}
	out, err := collect(rows, scanSession)
	if err != nil {
		return nil, mapError(fmt.Errorf("scan sessions: %w", err))
	}
	return out, nil
}

// querySetSessionStatus moves session id from one status to another.
func querySetSessionStatus(ctx context.Context, db executor, id string, from, to model.SessionStatus, now time.Time) (*model.PartySession, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE party_sessions SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+sessionColumns,
		id, string(from), string(to), now,
	)
	ps, err := scanSession(row)
	if err == nil {
		return ps, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapError(fmt.Errorf("set session %s status: %w", id, err))
	}

	cur, gerr := queryGetSession(ctx, db, id)
	if gerr != nil {
		return nil, gerr
	}
	return nil, fmt.Errorf("session %s is %s, not %s: %w", id, cur.Status, from, model.ErrConflict)
}

func queryDeleteItems(ctx context.Context, db executor, sessionID string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM session_items WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, mapError(fmt.Errorf("delete items of %s: %w", sessionID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(fmt.Errorf("delete items of %s: %w", sessionID, err))
	}
	return n, nil
}

// queryAddItem inserts it only while its session is open. The share lock
// on the session row serialises the insert against a concurrent cancel.
func queryAddItem(ctx context.Context, db executor, it *model.SessionItem, now time.Time) error {
	it.CreatedAt = now

	res, err := db.ExecContext(ctx, `
		INSERT INTO session_items (`+itemColumns+`)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE EXISTS (
			SELECT 1 FROM party_sessions WHERE id = $2 AND status = 'open' FOR SHARE
		)`,
		it.ID,
		it.SessionID,
		it.UserID,
		it.Name,
		it.Quantity,
		it.Notes,
		it.CreatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("add item to %s: %w", it.SessionID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(fmt.Errorf("add item to %s: %w", it.SessionID, err))
	}
	if n == 1 {
		return nil
	}

	cur, gerr := queryGetSession(ctx, db, it.SessionID)
	if gerr != nil {
		return gerr
	}
	return fmt.Errorf("session %s is %s: %w", it.SessionID, cur.Status, model.ErrConflict)
}

func queryListItems(ctx context.Context, db executor, sessionID string) ([]*model.SessionItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM session_items WHERE session_id = $1 ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, mapError(fmt.Errorf("list items of %s: %w", sessionID, err))
	}
	out, err := collect(rows, scanItem)
	if err != nil {
		return nil, mapError(fmt.Errorf("scan items: %w", err))
	}
	return out, nil
}
