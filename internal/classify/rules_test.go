package classify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalefall/accountsync/internal/database/common"
)

func parse(t *testing.T, raw string) *Expression {
	t.Helper()
	expr, err := ParseExpression(json.RawMessage(raw))
	require.NoError(t, err)
	return expr
}

func TestParseExpressionDefaultsToOr(t *testing.T) {
	expr := parse(t, `{"type":"mysql_permissions","global_privileges":["SUPER"]}`)
	assert.Equal(t, OperatorOr, expr.Operator)
	assert.Equal(t, common.DialectMySQL, expr.Dialect())
}

func TestParseExpressionRejectsUnknownType(t *testing.T) {
	_, err := ParseExpression(json.RawMessage(`{"type":"mongodb_permissions"}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestParseExpressionRejectsBadOperator(t *testing.T) {
	_, err := ParseExpression(json.RawMessage(`{"type":"mysql_permissions","operator":"XOR"}`))
	assert.Error(t, err)
}

func mysqlPrivs(globals []string, perDB map[string][]string, grantOption bool) common.PrivilegeSet {
	return common.PrivilegeSet{
		Type: common.DialectMySQL,
		MySQL: &common.MySQLPrivileges{
			Global:      globals,
			PerDatabase: perDB,
			GrantOption: grantOption,
		},
	}
}

func TestMatchesMySQLOr(t *testing.T) {
	expr := parse(t, `{
		"type": "mysql_permissions",
		"global_privileges": ["SUPER", "GRANT OPTION"],
		"database_privileges": ["DROP"],
		"operator": "OR"
	}`)

	tests := []struct {
		name  string
		privs common.PrivilegeSet
		want  bool
	}{
		{
			name:  "global atom present",
			privs: mysqlPrivs([]string{"SELECT", "SUPER"}, nil, false),
			want:  true,
		},
		{
			name:  "grant option flag satisfies the GRANT OPTION atom",
			privs: mysqlPrivs([]string{"SELECT"}, nil, true),
			want:  true,
		},
		{
			name:  "per-database atom in any database",
			privs: mysqlPrivs(nil, map[string][]string{"legacy": {"DROP"}}, false),
			want:  true,
		},
		{
			name:  "no atoms anywhere",
			privs: mysqlPrivs([]string{"SELECT"}, map[string][]string{"app": {"INSERT"}}, false),
			want:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expr.Matches(tt.privs))
		})
	}
}

func TestMatchesMySQLAnd(t *testing.T) {
	expr := parse(t, `{
		"type": "mysql_permissions",
		"global_privileges": ["SUPER"],
		"database_privileges": ["DROP"],
		"operator": "AND"
	}`)

	both := mysqlPrivs([]string{"SUPER"}, map[string][]string{"app": {"DROP"}}, false)
	onlyGlobal := mysqlPrivs([]string{"SUPER"}, nil, false)

	assert.True(t, expr.Matches(both))
	assert.False(t, expr.Matches(onlyGlobal))
}

func TestMatchesEmptyListsContributeNothing(t *testing.T) {
	privs := mysqlPrivs([]string{"SUPER"}, nil, false)

	// Under AND, an empty list must not block a match.
	andExpr := parse(t, `{
		"type": "mysql_permissions",
		"global_privileges": ["SUPER"],
		"database_privileges": [],
		"operator": "AND"
	}`)
	assert.True(t, andExpr.Matches(privs))

	// Under OR, an empty list must not produce a match.
	orExpr := parse(t, `{
		"type": "mysql_permissions",
		"global_privileges": [],
		"database_privileges": [],
		"operator": "OR"
	}`)
	assert.False(t, orExpr.Matches(privs))

	// All-empty AND matches nothing either.
	andEmpty := parse(t, `{"type":"mysql_permissions","operator":"AND"}`)
	assert.False(t, andEmpty.Matches(privs))
}

func TestMatchesRequiresMatchingDialect(t *testing.T) {
	expr := parse(t, `{"type":"mysql_permissions","global_privileges":["SUPER"]}`)
	pgPrivs := common.PrivilegeSet{
		Type:       common.DialectPostgreSQL,
		PostgreSQL: &common.PostgreSQLPrivileges{RoleAttributes: []string{"SUPERUSER"}},
	}
	assert.False(t, expr.Matches(pgPrivs))
}

func TestMatchesPostgreSQL(t *testing.T) {
	expr := parse(t, `{
		"type": "postgresql_permissions",
		"role_attributes": ["SUPERUSER", "CREATEROLE"],
		"database_privileges": ["CREATE"]
	}`)

	superuser := common.PrivilegeSet{
		Type: common.DialectPostgreSQL,
		PostgreSQL: &common.PostgreSQLPrivileges{
			RoleAttributes: []string{"LOGIN", "SUPERUSER"},
		},
	}
	plain := common.PrivilegeSet{
		Type: common.DialectPostgreSQL,
		PostgreSQL: &common.PostgreSQLPrivileges{
			RoleAttributes: []string{"LOGIN"},
			DatabasePrivs:  map[string][]string{"app": {"CONNECT"}},
		},
	}

	assert.True(t, expr.Matches(superuser))
	assert.False(t, expr.Matches(plain))
}

func TestMatchesSQLServer(t *testing.T) {
	expr := parse(t, `{
		"type": "sqlserver_permissions",
		"server_roles": ["sysadmin"],
		"database_roles": ["db_owner"]
	}`)

	dbOwner := common.PrivilegeSet{
		Type: common.DialectSQLServer,
		SQLServer: &common.SQLServerPrivileges{
			DatabaseRoles: map[string][]string{"app": {"db_owner"}},
		},
	}
	reader := common.PrivilegeSet{
		Type: common.DialectSQLServer,
		SQLServer: &common.SQLServerPrivileges{
			DatabaseRoles: map[string][]string{"app": {"db_datareader"}},
		},
	}

	assert.True(t, expr.Matches(dbOwner))
	assert.False(t, expr.Matches(reader))
}

func TestMatchesOracle(t *testing.T) {
	expr := parse(t, `{
		"type": "oracle_permissions",
		"roles": ["DBA"],
		"system_privileges": ["GRANT ANY PRIVILEGE"],
		"tablespace_quotas": ["USERS"]
	}`)

	dba := common.PrivilegeSet{
		Type:   common.DialectOracle,
		Oracle: &common.OraclePrivileges{Roles: []string{"CONNECT", "DBA"}},
	}
	quotaOnly := common.PrivilegeSet{
		Type: common.DialectOracle,
		Oracle: &common.OraclePrivileges{
			Roles:            []string{"CONNECT"},
			TablespaceQuotas: []common.TablespaceQuota{{Tablespace: "USERS", MaxBytes: -1}},
		},
	}
	plain := common.PrivilegeSet{
		Type:   common.DialectOracle,
		Oracle: &common.OraclePrivileges{Roles: []string{"CONNECT"}},
	}

	assert.True(t, expr.Matches(dba))
	assert.True(t, expr.Matches(quotaOnly))
	assert.False(t, expr.Matches(plain))
}

func TestMatchesIsCaseInsensitive(t *testing.T) {
	expr := parse(t, `{"type":"mysql_permissions","global_privileges":["super"]}`)
	privs := mysqlPrivs([]string{"SUPER"}, nil, false)
	assert.True(t, expr.Matches(privs))
}

// An account holding none of a rule's atoms is never classified, whichever
// operator the rule uses.
func TestRuleSpecificity(t *testing.T) {
	privs := mysqlPrivs([]string{"SELECT", "SHOW VIEW"},
		map[string][]string{"app": {"INSERT"}}, false)

	for _, op := range []string{OperatorAnd, OperatorOr} {
		expr := parse(t, `{
			"type": "mysql_permissions",
			"global_privileges": ["SUPER", "FILE"],
			"database_privileges": ["DROP"],
			"operator": "`+op+`"
		}`)
		assert.False(t, expr.Matches(privs), "operator %s", op)
	}
}

func TestMatchesNilVariantNeverMatches(t *testing.T) {
	expr := parse(t, `{"type":"mysql_permissions","global_privileges":["SUPER"]}`)
	hollow := common.PrivilegeSet{Type: common.DialectMySQL}
	assert.False(t, expr.Matches(hollow))
}
