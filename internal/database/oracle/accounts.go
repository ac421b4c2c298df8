package oracle

import (
	"context"
	"database/sql"
	"strings"

	"github.com/whalefall/accountsync/internal/database/common"
)

// systemUsers are Oracle-maintained schemas that never represent human or
// application accounts.
var systemUsers = []string{
	"SYS", "SYSTEM", "OUTLN", "DIP", "TSMSYS", "DBSNMP", "ORACLE_OCM",
	"SYSMAN", "MGMT_VIEW", "XDB", "ANONYMOUS", "CTXSYS", "EXFSYS",
	"MDDATA", "MDSYS", "OLAPSYS", "ORDDATA", "ORDPLUGINS", "ORDSYS",
	"SI_INFORMTN_SCHEMA", "WMSYS", "APPQOSSYS", "FLOWS_FILES",
	"APEX_PUBLIC_USER", "GSMADMIN_INTERNAL", "XS$NULL", "OJVMSYS",
	"DVSYS", "DVF", "LBACSYS", "AUDSYS", "DBSFWUSER", "GGSYS",
	"REMOTE_SCHEDULER_AGENT", "SYS$UMF", "SYSBACKUP", "SYSDG",
	"SYSKM", "SYSRAC",
}

// ExtractAccounts enumerates dba_users and enriches each account with granted
// roles, system privileges, object privileges and tablespace quotas. It
// requires the dba_* dictionary views; the all_* fallbacks are deliberately
// not used because they scope results to the connecting user.
func (c *Connection) ExtractAccounts(ctx context.Context) ([]common.AccountRecord, error) {
	roles, err := c.fetchRoles(ctx)
	if err != nil {
		return nil, err
	}
	sysPrivs, err := c.fetchSystemPrivileges(ctx)
	if err != nil {
		return nil, err
	}
	objPrivs, err := c.fetchObjectPrivileges(ctx)
	if err != nil {
		return nil, err
	}
	quotas, err := c.fetchTablespaceQuotas(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT username, account_status, password_change_date
		FROM dba_users
		WHERE username NOT IN (`+systemUserList()+`)
		ORDER BY username`)
	if err != nil {
		return nil, classify("extract_accounts", err)
	}
	defer rows.Close()

	var records []common.AccountRecord
	for rows.Next() {
		var (
			username       string
			accountStatus  string
			passwordChange sql.NullTime
		)
		if err := rows.Scan(&username, &accountStatus, &passwordChange); err != nil {
			return nil, classify("extract_accounts", err)
		}

		rec := common.AccountRecord{
			Username:        username,
			IsSuperuser:     isSuperuser(roles[username], sysPrivs[username]),
			IsLocked:        strings.Contains(accountStatus, "LOCKED"),
			PasswordExpired: strings.Contains(accountStatus, "EXPIRED"),
			Privileges: common.PrivilegeSet{
				Type: common.DialectOracle,
				Oracle: &common.OraclePrivileges{
					Roles:            roles[username],
					SystemPrivileges: sysPrivs[username],
					ObjectPrivileges: objPrivs[username],
					TablespaceQuotas: quotas[username],
				},
			},
		}
		if passwordChange.Valid {
			t := passwordChange.Time.UTC()
			rec.PasswordLastChanged = &t
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("extract_accounts", err)
	}

	return records, nil
}

// isSuperuser treats the DBA role and any "... ANY PRIVILEGE" grant as
// administrative.
func isSuperuser(roles []string, sysPrivs []common.SystemPrivilege) bool {
	for _, r := range roles {
		if r == "DBA" {
			return true
		}
	}
	for _, p := range sysPrivs {
		if p.Name == "GRANT ANY PRIVILEGE" {
			return true
		}
	}
	return false
}

func (c *Connection) fetchRoles(ctx context.Context) (map[string][]string, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT grantee, granted_role FROM dba_role_privs")
	if err != nil {
		return nil, classify("extract_roles", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var grantee, role string
		if err := rows.Scan(&grantee, &role); err != nil {
			return nil, classify("extract_roles", err)
		}
		out[grantee] = append(out[grantee], role)
	}
	return out, rows.Err()
}

func (c *Connection) fetchSystemPrivileges(ctx context.Context) (map[string][]common.SystemPrivilege, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT grantee, privilege, admin_option FROM dba_sys_privs")
	if err != nil {
		return nil, classify("extract_system_privileges", err)
	}
	defer rows.Close()

	out := make(map[string][]common.SystemPrivilege)
	for rows.Next() {
		var grantee, priv, adminOption string
		if err := rows.Scan(&grantee, &priv, &adminOption); err != nil {
			return nil, classify("extract_system_privileges", err)
		}
		out[grantee] = append(out[grantee], common.SystemPrivilege{
			Name:        priv,
			AdminOption: adminOption == "YES",
		})
	}
	return out, rows.Err()
}

// fetchObjectPrivileges groups dba_tab_privs rows by grantee and then by
// "owner.object", collecting the granted privilege names per object.
func (c *Connection) fetchObjectPrivileges(ctx context.Context) (map[string]map[string][]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT grantee, owner || '.' || table_name, privilege
		FROM dba_tab_privs
		WHERE owner NOT IN (`+systemUserList()+`)`)
	if err != nil {
		return nil, classify("extract_object_privileges", err)
	}
	defer rows.Close()

	out := make(map[string]map[string][]string)
	for rows.Next() {
		var grantee, object, priv string
		if err := rows.Scan(&grantee, &object, &priv); err != nil {
			return nil, classify("extract_object_privileges", err)
		}
		addObjectPrivilege(out, grantee, object, priv)
	}
	return out, rows.Err()
}

// addObjectPrivilege records one grant under grantee → "owner.object".
func addObjectPrivilege(out map[string]map[string][]string, grantee, object, priv string) {
	objects := out[grantee]
	if objects == nil {
		objects = make(map[string][]string)
		out[grantee] = objects
	}
	objects[object] = append(objects[object], priv)
}

func (c *Connection) fetchTablespaceQuotas(ctx context.Context) (map[string][]common.TablespaceQuota, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT username, tablespace_name, max_bytes FROM dba_ts_quotas")
	if err != nil {
		return nil, classify("extract_tablespace_quotas", err)
	}
	defer rows.Close()

	out := make(map[string][]common.TablespaceQuota)
	for rows.Next() {
		var (
			username   string
			tablespace string
			maxBytes   int64
		)
		if err := rows.Scan(&username, &tablespace, &maxBytes); err != nil {
			return nil, classify("extract_tablespace_quotas", err)
		}
		out[username] = append(out[username], common.TablespaceQuota{
			Tablespace: tablespace,
			MaxBytes:   maxBytes,
		})
	}
	return out, rows.Err()
}

// systemUserList renders the exclusion set as a quoted IN-list. The names are
// a fixed uppercase vocabulary, so no escaping is needed.
func systemUserList() string {
	quoted := make([]string, len(systemUsers))
	for i, u := range systemUsers {
		quoted[i] = "'" + u + "'"
	}
	return strings.Join(quoted, ", ")
}
