package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/whalefall/accountsync/internal/database/adapter"
	"github.com/whalefall/accountsync/internal/database/common"
)

// classify maps driver errors onto the stable failure taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28P01", "28000": // invalid_password, invalid_authorization_specification
			return adapter.NewError(adapter.KindAuthenticationFailed, common.DialectPostgreSQL, op, err)
		case "3D000": // invalid_catalog_name
			return adapter.NewError(adapter.KindDatabaseNotFound, common.DialectPostgreSQL, op, err)
		case "42501": // insufficient_privilege
			return adapter.NewError(adapter.KindPermissionDenied, common.DialectPostgreSQL, op, err)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return adapter.NewError(adapter.KindSerializationConflict, common.DialectPostgreSQL, op, err)
		case "57014": // query_canceled
			return adapter.NewError(adapter.KindTimeout, common.DialectPostgreSQL, op, err)
		}
		return adapter.NewError(adapter.KindOther, common.DialectPostgreSQL, op, err)
	}

	if kind := adapter.ClassifyNetwork(err); kind != adapter.KindOther {
		return adapter.NewError(kind, common.DialectPostgreSQL, op, err)
	}
	return adapter.NewError(adapter.KindOther, common.DialectPostgreSQL, op, err)
}
