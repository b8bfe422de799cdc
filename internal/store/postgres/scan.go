package postgres

import (
	"database/sql"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanRestaurant scans a row in restaurantColumns order.
func scanRestaurant(row scannable) (*model.Restaurant, error) {
	var r model.Restaurant
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Address,
		&r.Latitude,
		&r.Longitude,
		&r.CurrentWaitTimeMinutes,
		&r.OpensAt,
		&r.ClosesAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// scanEntry scans a row in entryColumns order.
func scanEntry(row scannable) (*model.WaitlistEntry, error) {
	var e model.WaitlistEntry
	var notifiedAt sql.NullTime

	err := row.Scan(
		&e.ID,
		&e.RestaurantID,
		&e.UserID,
		&e.PartySize,
		&e.PartyLeaderName,
		&e.Status,
		&e.Seq,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
		&notifiedAt,
	)
	if err != nil {
		return nil, err
	}

	if notifiedAt.Valid {
		t := notifiedAt.Time
		e.NotifiedAt = &t
	}
	return &e, nil
}

// scanSession scans a row in sessionColumns order.
func scanSession(row scannable) (*model.PartySession, error) {
	var s model.PartySession
	err := row.Scan(
		&s.ID,
		&s.RestaurantID,
		&s.HostUserID,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// scanItem scans a row in itemColumns order.
func scanItem(row scannable) (*model.SessionItem, error) {
	var it model.SessionItem
	var notes sql.NullString
	err := row.Scan(
		&it.ID,
		&it.SessionID,
		&it.UserID,
		&it.Name,
		&it.Quantity,
		&notes,
		&it.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	it.Notes = notes.String
	return &it, nil
}

// collect drains rows with the given scanner.
func collect[T any](rows *sql.Rows, scan func(scannable) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// statusStrings converts entry statuses for use with pq.Array.
func statusStrings(ss []model.EntryStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
