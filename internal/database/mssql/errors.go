package mssql

import (
	"errors"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/whalefall/accountsync/internal/database/adapter"
	"github.com/whalefall/accountsync/internal/database/common"
)

// classify maps driver errors onto the stable failure taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var sqlErr mssqldb.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Number {
		case 18456, 18452: // login failed
			return adapter.NewError(adapter.KindAuthenticationFailed, common.DialectSQLServer, op, err)
		case 4060: // cannot open database
			return adapter.NewError(adapter.KindDatabaseNotFound, common.DialectSQLServer, op, err)
		case 229, 230, 297, 300: // permission denied on object / column / server
			return adapter.NewError(adapter.KindPermissionDenied, common.DialectSQLServer, op, err)
		case 1205: // deadlock victim
			return adapter.NewError(adapter.KindSerializationConflict, common.DialectSQLServer, op, err)
		}
		return adapter.NewError(adapter.KindOther, common.DialectSQLServer, op, err)
	}

	if kind := adapter.ClassifyNetwork(err); kind != adapter.KindOther {
		return adapter.NewError(kind, common.DialectSQLServer, op, err)
	}
	return adapter.NewError(adapter.KindOther, common.DialectSQLServer, op, err)
}
