package postgres

import (
	"context"
	"time"

	"github.com/whalefall/accountsync/internal/database/common"
)

// ExtractAccounts enumerates pg_roles, excluding pg_* reserved roles and the
// bootstrap superuser (oid 10), and derives role attributes plus database and
// tablespace privileges.
func (c *Connection) ExtractAccounts(ctx context.Context) ([]common.AccountRecord, error) {
	dbPrivs, err := c.fetchDatabasePrivileges(ctx)
	if err != nil {
		return nil, err
	}
	tsPrivs, err := c.fetchTablespacePrivileges(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.pool.Query(ctx, `
		SELECT
			rolname,
			rolsuper,
			rolcanlogin,
			rolcreaterole,
			rolcreatedb,
			rolreplication,
			rolbypassrls,
			rolvaliduntil
		FROM pg_roles
		WHERE rolname NOT LIKE 'pg\_%' AND oid <> 10
		ORDER BY rolname`)
	if err != nil {
		return nil, classify("extract_accounts", err)
	}
	defer rows.Close()

	now := time.Now()
	var records []common.AccountRecord
	for rows.Next() {
		var (
			name                                                string
			super, canLogin, createRole, createDB, repl, bypass bool
			validUntil                                          *time.Time
		)
		if err := rows.Scan(&name, &super, &canLogin, &createRole, &createDB, &repl, &bypass, &validUntil); err != nil {
			return nil, classify("extract_accounts", err)
		}

		var attrs []string
		if super {
			attrs = append(attrs, "SUPERUSER")
		}
		if createRole {
			attrs = append(attrs, "CREATEROLE")
		}
		if createDB {
			attrs = append(attrs, "CREATEDB")
		}
		if repl {
			attrs = append(attrs, "REPLICATION")
		}
		if bypass {
			attrs = append(attrs, "BYPASSRLS")
		}
		if canLogin {
			attrs = append(attrs, "LOGIN")
		}

		records = append(records, common.AccountRecord{
			Username:        name,
			IsSuperuser:     super,
			IsLocked:        !canLogin,
			PasswordExpired: validUntil != nil && validUntil.Before(now),
			Privileges: common.PrivilegeSet{
				Type: common.DialectPostgreSQL,
				PostgreSQL: &common.PostgreSQLPrivileges{
					RoleAttributes:  attrs,
					DatabasePrivs:   dbPrivs[name],
					TablespacePrivs: tsPrivs[name],
				},
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("extract_accounts", err)
	}

	return records, nil
}

// fetchDatabasePrivileges evaluates has_database_privilege for every
// (role, database, privilege) combination in one round trip.
func (c *Connection) fetchDatabasePrivileges(ctx context.Context) (map[string]map[string][]string, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT r.rolname, d.datname, priv.name
		FROM pg_roles r
		CROSS JOIN pg_database d
		CROSS JOIN (VALUES ('CONNECT'), ('CREATE'), ('TEMP')) AS priv(name)
		WHERE r.rolname NOT LIKE 'pg\_%' AND r.oid <> 10
		  AND NOT d.datistemplate
		  AND has_database_privilege(r.rolname, d.datname, priv.name)
		ORDER BY r.rolname, d.datname`)
	if err != nil {
		return nil, classify("extract_database_privileges", err)
	}
	defer rows.Close()

	out := make(map[string]map[string][]string)
	for rows.Next() {
		var role, db, priv string
		if err := rows.Scan(&role, &db, &priv); err != nil {
			return nil, classify("extract_database_privileges", err)
		}
		if out[role] == nil {
			out[role] = make(map[string][]string)
		}
		out[role][db] = append(out[role][db], priv)
	}
	return out, rows.Err()
}

// fetchTablespacePrivileges lists tablespaces each role can CREATE in.
func (c *Connection) fetchTablespacePrivileges(ctx context.Context) (map[string][]string, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT r.rolname, t.spcname
		FROM pg_roles r
		CROSS JOIN pg_tablespace t
		WHERE r.rolname NOT LIKE 'pg\_%' AND r.oid <> 10
		  AND has_tablespace_privilege(r.rolname, t.spcname, 'CREATE')
		ORDER BY r.rolname, t.spcname`)
	if err != nil {
		return nil, classify("extract_tablespace_privileges", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var role, tablespace string
		if err := rows.Scan(&role, &tablespace); err != nil {
			return nil, classify("extract_tablespace_privileges", err)
		}
		out[role] = append(out[role], tablespace)
	}
	return out, rows.Err()
}
