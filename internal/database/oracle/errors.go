package oracle

import (
	"errors"

	"github.com/godror/godror"

	"github.com/whalefall/accountsync/internal/database/adapter"
	"github.com/whalefall/accountsync/internal/database/common"
)

// classify maps driver errors onto the stable failure taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var oraErr *godror.OraErr
	if errors.As(err, &oraErr) {
		switch oraErr.Code() {
		case 1017: // invalid username/password
			return adapter.NewError(adapter.KindAuthenticationFailed, common.DialectOracle, op, err)
		case 28000: // account is locked
			return adapter.NewError(adapter.KindAuthenticationFailed, common.DialectOracle, op, err)
		case 12514, 12505: // listener does not know of service / SID
			return adapter.NewError(adapter.KindDatabaseNotFound, common.DialectOracle, op, err)
		case 12541: // no listener
			return adapter.NewError(adapter.KindConnectionRefused, common.DialectOracle, op, err)
		case 942:
			// The dba_* views are invisible without SELECT ANY DICTIONARY,
			// which Oracle reports as "table or view does not exist".
			return adapter.NewError(adapter.KindPermissionDenied, common.DialectOracle, op, err)
		case 1031: // insufficient privileges
			return adapter.NewError(adapter.KindPermissionDenied, common.DialectOracle, op, err)
		case 1013: // operation cancelled
			return adapter.NewError(adapter.KindCancelled, common.DialectOracle, op, err)
		case 3113, 3114, 12170: // connection lost / not connected / connect timeout
			return adapter.NewError(adapter.KindTimeout, common.DialectOracle, op, err)
		}
		return adapter.NewError(adapter.KindOther, common.DialectOracle, op, err)
	}

	if kind := adapter.ClassifyNetwork(err); kind != adapter.KindOther {
		return adapter.NewError(kind, common.DialectOracle, op, err)
	}
	return adapter.NewError(adapter.KindOther, common.DialectOracle, op, err)
}
