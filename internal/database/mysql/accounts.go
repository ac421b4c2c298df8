package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/database/dbclient"
)

// Connection implements adapter.Connection for MySQL.
type Connection struct {
	instanceID int64
	db         *sql.DB
	config     dbclient.InstanceConfig
	connected  int32
}

// InstanceID returns the canonical instance id.
func (c *Connection) InstanceID() int64 {
	return c.instanceID
}

// Dialect returns the database dialect identifier.
func (c *Connection) Dialect() common.Dialect {
	return common.DialectMySQL
}

// Close closes the connection.
func (c *Connection) Close() error {
	atomic.StoreInt32(&c.connected, 0)
	return c.db.Close()
}

// Principals in the mysql schema that are never synchronized.
var systemUsers = []string{
	"mysql.sys",
	"mysql.session",
	"mysql.infoschema",
	"mariadb.sys",
}

// ExtractAccounts enumerates mysql.user and enriches each principal with
// global and per-database grants from INFORMATION_SCHEMA.
func (c *Connection) ExtractAccounts(ctx context.Context) ([]common.AccountRecord, error) {
	globals, err := c.fetchGlobalPrivileges(ctx)
	if err != nil {
		return nil, err
	}
	perDB, err := c.fetchSchemaPrivileges(ctx)
	if err != nil {
		return nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(systemUsers)), ",")
	query := fmt.Sprintf(`
		SELECT
			User,
			Host,
			Super_priv,
			Grant_priv,
			account_locked,
			password_expired,
			plugin,
			password_last_changed
		FROM mysql.user
		WHERE User != '' AND User NOT IN (%s)
		ORDER BY User, Host`, placeholders)

	args := make([]interface{}, len(systemUsers))
	for i, u := range systemUsers {
		args[i] = u
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("extract_accounts", err)
	}
	defer rows.Close()

	var records []common.AccountRecord
	for rows.Next() {
		var (
			user, host                             string
			superPriv, grantPriv, locked, expired  string
			plugin                                 sql.NullString
			passwordLastChanged                    sql.NullTime
		)
		if err := rows.Scan(&user, &host, &superPriv, &grantPriv, &locked, &expired, &plugin, &passwordLastChanged); err != nil {
			return nil, classify("extract_accounts", err)
		}

		grantee := fmt.Sprintf("'%s'@'%s'", user, host)
		privs := &common.MySQLPrivileges{
			Global:      append([]string(nil), globals[grantee]...),
			PerDatabase: perDB[grantee],
			GrantOption: grantPriv == "Y",
		}
		// Grant_priv is not reported by USER_PRIVILEGES as a separate row on
		// every version; probe the column explicitly and inject.
		if privs.GrantOption && !contains(privs.Global, "GRANT OPTION") {
			privs.Global = append(privs.Global, "GRANT OPTION")
		}

		rec := common.AccountRecord{
			Username:        user,
			Host:            host,
			IsSuperuser:     superPriv == "Y",
			IsLocked:        locked == "Y",
			PasswordExpired: expired == "Y",
			Privileges: common.PrivilegeSet{
				Type:  common.DialectMySQL,
				MySQL: privs,
			},
		}
		if plugin.Valid {
			rec.Plugin = plugin.String
		}
		if passwordLastChanged.Valid {
			t := passwordLastChanged.Time.UTC()
			rec.PasswordLastChanged = &t
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("extract_accounts", err)
	}

	return records, nil
}

// fetchGlobalPrivileges loads INFORMATION_SCHEMA.USER_PRIVILEGES grouped by
// grantee ('user'@'host').
func (c *Connection) fetchGlobalPrivileges(ctx context.Context) (map[string][]string, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT GRANTEE, PRIVILEGE_TYPE FROM INFORMATION_SCHEMA.USER_PRIVILEGES")
	if err != nil {
		return nil, classify("extract_global_privileges", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var grantee, priv string
		if err := rows.Scan(&grantee, &priv); err != nil {
			return nil, classify("extract_global_privileges", err)
		}
		out[grantee] = append(out[grantee], priv)
	}
	return out, rows.Err()
}

// fetchSchemaPrivileges loads INFORMATION_SCHEMA.SCHEMA_PRIVILEGES grouped by
// grantee and schema.
func (c *Connection) fetchSchemaPrivileges(ctx context.Context) (map[string]map[string][]string, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT GRANTEE, TABLE_SCHEMA, PRIVILEGE_TYPE FROM INFORMATION_SCHEMA.SCHEMA_PRIVILEGES")
	if err != nil {
		return nil, classify("extract_schema_privileges", err)
	}
	defer rows.Close()

	out := make(map[string]map[string][]string)
	for rows.Next() {
		var grantee, schema, priv string
		if err := rows.Scan(&grantee, &schema, &priv); err != nil {
			return nil, classify("extract_schema_privileges", err)
		}
		if out[grantee] == nil {
			out[grantee] = make(map[string][]string)
		}
		out[grantee][schema] = append(out[grantee][schema], priv)
	}
	return out, rows.Err()
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
