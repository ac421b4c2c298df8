package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/whalefall/accountsync/internal/database/common"
)

// ExtractAccounts enumerates sys.server_principals of type S/U/G, excluding
// ##...## certificate principals, and enriches each login with server and
// per-database roles and permissions.
func (c *Connection) ExtractAccounts(ctx context.Context) ([]common.AccountRecord, error) {
	serverRoles, err := c.fetchServerRoles(ctx)
	if err != nil {
		return nil, err
	}
	serverPerms, err := c.fetchServerPermissions(ctx)
	if err != nil {
		return nil, err
	}
	dbRoles, dbPerms, err := c.fetchDatabasePrincipals(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT
			p.name,
			p.type_desc,
			p.is_disabled,
			IS_SRVROLEMEMBER('sysadmin', p.name),
			LOGINPROPERTY(p.name, 'IsExpired'),
			LOGINPROPERTY(p.name, 'PasswordLastSetTime')
		FROM sys.server_principals p
		WHERE p.type IN ('S', 'U', 'G')
		  AND p.name NOT LIKE '##%'
		ORDER BY p.name`)
	if err != nil {
		return nil, classify("extract_accounts", err)
	}
	defer rows.Close()

	var records []common.AccountRecord
	for rows.Next() {
		var (
			name, typeDesc  string
			disabled        bool
			sysadmin        sql.NullInt64
			expired         sql.NullInt64
			passwordLastSet sql.NullTime
		)
		if err := rows.Scan(&name, &typeDesc, &disabled, &sysadmin, &expired, &passwordLastSet); err != nil {
			return nil, classify("extract_accounts", err)
		}

		rec := common.AccountRecord{
			Username:        name,
			IsSuperuser:     sysadmin.Valid && sysadmin.Int64 == 1,
			IsLocked:        disabled,
			PasswordExpired: expired.Valid && expired.Int64 == 1,
			Plugin:          typeDesc,
			Privileges: common.PrivilegeSet{
				Type: common.DialectSQLServer,
				SQLServer: &common.SQLServerPrivileges{
					ServerRoles:         serverRoles[name],
					ServerPermissions:   serverPerms[name],
					DatabaseRoles:       dbRoles[name],
					DatabasePermissions: dbPerms[name],
				},
			},
		}
		if passwordLastSet.Valid {
			t := passwordLastSet.Time.UTC()
			rec.PasswordLastChanged = &t
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("extract_accounts", err)
	}

	return records, nil
}

func (c *Connection) fetchServerRoles(ctx context.Context) (map[string][]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT m.name, r.name
		FROM sys.server_role_members rm
		JOIN sys.server_principals r ON rm.role_principal_id = r.principal_id
		JOIN sys.server_principals m ON rm.member_principal_id = m.principal_id`)
	if err != nil {
		return nil, classify("extract_server_roles", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var member, role string
		if err := rows.Scan(&member, &role); err != nil {
			return nil, classify("extract_server_roles", err)
		}
		out[member] = append(out[member], role)
	}
	return out, rows.Err()
}

func (c *Connection) fetchServerPermissions(ctx context.Context) (map[string][]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT p.name, perm.permission_name
		FROM sys.server_permissions perm
		JOIN sys.server_principals p ON perm.grantee_principal_id = p.principal_id
		WHERE perm.state IN ('G', 'W')`)
	if err != nil {
		return nil, classify("extract_server_permissions", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var login, perm string
		if err := rows.Scan(&login, &perm); err != nil {
			return nil, classify("extract_server_permissions", err)
		}
		out[login] = append(out[login], strings.TrimSpace(perm))
	}
	return out, rows.Err()
}

// fetchDatabasePrincipals walks every online database and maps database
// roles and permissions back to the owning server login via SID.
func (c *Connection) fetchDatabasePrincipals(ctx context.Context) (map[string]map[string][]string, map[string]map[string][]string, error) {
	dbs, err := c.fetchOnlineDatabases(ctx)
	if err != nil {
		return nil, nil, err
	}

	roles := make(map[string]map[string][]string)
	perms := make(map[string]map[string][]string)

	for _, dbName := range dbs {
		quoted := quoteIdentifier(dbName)

		roleQuery := fmt.Sprintf(`
			SELECT sp.name, r.name
			FROM %s.sys.database_role_members rm
			JOIN %s.sys.database_principals r ON rm.role_principal_id = r.principal_id
			JOIN %s.sys.database_principals m ON rm.member_principal_id = m.principal_id
			JOIN sys.server_principals sp ON m.sid = sp.sid`, quoted, quoted, quoted)
		if err := c.collectPerDatabase(ctx, roleQuery, dbName, roles); err != nil {
			return nil, nil, err
		}

		permQuery := fmt.Sprintf(`
			SELECT sp.name, perm.permission_name
			FROM %s.sys.database_permissions perm
			JOIN %s.sys.database_principals m ON perm.grantee_principal_id = m.principal_id
			JOIN sys.server_principals sp ON m.sid = sp.sid
			WHERE perm.state IN ('G', 'W')`, quoted, quoted)
		if err := c.collectPerDatabase(ctx, permQuery, dbName, perms); err != nil {
			return nil, nil, err
		}
	}

	return roles, perms, nil
}

func (c *Connection) fetchOnlineDatabases(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT name FROM sys.databases WHERE state_desc = 'ONLINE' AND database_id > 4")
	if err != nil {
		return nil, classify("list_databases", err)
	}
	defer rows.Close()

	var dbs []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classify("list_databases", err)
		}
		dbs = append(dbs, name)
	}
	return dbs, rows.Err()
}

func (c *Connection) collectPerDatabase(ctx context.Context, query, dbName string, into map[string]map[string][]string) error {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		// A database the login cannot see is skipped, not fatal: the sync
		// account may not be mapped into every user database.
		return nil
	}
	defer rows.Close()

	for rows.Next() {
		var login, value string
		if err := rows.Scan(&login, &value); err != nil {
			return classify("extract_database_principals", err)
		}
		if into[login] == nil {
			into[login] = make(map[string][]string)
		}
		into[login][dbName] = append(into[login][dbName], strings.TrimSpace(value))
	}
	return rows.Err()
}

// quoteIdentifier wraps a SQL Server identifier in brackets, escaping
// embedded closing brackets.
func quoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
