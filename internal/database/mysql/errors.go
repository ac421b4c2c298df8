package mysql

import (
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/whalefall/accountsync/internal/database/adapter"
	"github.com/whalefall/accountsync/internal/database/common"
)

// classify maps driver errors onto the stable failure taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1045: // ER_ACCESS_DENIED_ERROR
			return adapter.NewError(adapter.KindAuthenticationFailed, common.DialectMySQL, op, err)
		case 1049: // ER_BAD_DB_ERROR
			return adapter.NewError(adapter.KindDatabaseNotFound, common.DialectMySQL, op, err)
		case 1044, 1142, 1227, 1370: // denied on db / table / privilege / routine
			return adapter.NewError(adapter.KindPermissionDenied, common.DialectMySQL, op, err)
		}
		return adapter.NewError(adapter.KindOther, common.DialectMySQL, op, err)
	}

	if kind := adapter.ClassifyNetwork(err); kind != adapter.KindOther {
		return adapter.NewError(kind, common.DialectMySQL, op, err)
	}
	return adapter.NewError(adapter.KindOther, common.DialectMySQL, op, err)
}
