package remote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/dmitrijs2005/tasksync/internal/common"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// classify maps driver errors onto common sentinels. Unknown errors are
// returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation:
			return fmt.Errorf("%w: %s", common.ErrDuplicateID, pgErr.Message)
		case pgErr.Code == pgerrcode.InsufficientPrivilege,
			pgErr.Code == pgerrcode.InvalidAuthorizationSpecification,
			pgErr.Code == pgerrcode.InvalidPassword:
			return fmt.Errorf("%w: %s", common.ErrUnauthorized, pgErr.Message)
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code):
			return fmt.Errorf("%w: %s", common.ErrUnavailable, pgErr.Message)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.As(err, &netErr) ||
		pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", common.ErrUnavailable, err)
	}

	return err
}
