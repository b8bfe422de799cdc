package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// mapError tags err with the model sentinel matching its cause so callers
// can branch with errors.Is. Errors with no matching sentinel pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation", "integrity_constraint_violation":
			return fmt.Errorf("%w: %w", model.ErrConflict, err)
		case "foreign_key_violation":
			return fmt.Errorf("%w: %w", model.ErrNotFound, err)
		case "check_violation", "not_null_violation", "invalid_text_representation":
			return fmt.Errorf("%w: %w", model.ErrInvalidInput, err)
		case "serialization_failure", "deadlock_detected", "admin_shutdown", "cannot_connect_now":
			return fmt.Errorf("%w: %w", model.ErrTransient, err)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", model.ErrTransient, err)
	}
	return err
}

// notFound maps sql.ErrNoRows from a keyed lookup to model.ErrNotFound.
func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
	}
	return mapError(fmt.Errorf("get %s %s: %w", kind, id, err))
}
