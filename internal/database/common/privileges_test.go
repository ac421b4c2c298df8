package common

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivilegeSetEqualIgnoresListOrder(t *testing.T) {
	a := PrivilegeSet{
		Type: DialectMySQL,
		MySQL: &MySQLPrivileges{
			Global: []string{"SELECT", "INSERT"},
			PerDatabase: map[string][]string{
				"app": {"UPDATE", "DELETE"},
			},
		},
	}
	b := PrivilegeSet{
		Type: DialectMySQL,
		MySQL: &MySQLPrivileges{
			Global: []string{"INSERT", "SELECT"},
			PerDatabase: map[string][]string{
				"app": {"DELETE", "UPDATE"},
			},
		},
	}

	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))
}

func TestPrivilegeSetEqualDetectsRealDifferences(t *testing.T) {
	base := PrivilegeSet{
		Type:  DialectMySQL,
		MySQL: &MySQLPrivileges{Global: []string{"SELECT"}},
	}

	tests := []struct {
		name  string
		other PrivilegeSet
	}{
		{
			name: "different global privilege",
			other: PrivilegeSet{
				Type:  DialectMySQL,
				MySQL: &MySQLPrivileges{Global: []string{"INSERT"}},
			},
		},
		{
			name: "grant option differs",
			other: PrivilegeSet{
				Type:  DialectMySQL,
				MySQL: &MySQLPrivileges{Global: []string{"SELECT"}, GrantOption: true},
			},
		},
		{
			name: "different dialect",
			other: PrivilegeSet{
				Type:       DialectPostgreSQL,
				PostgreSQL: &PostgreSQLPrivileges{RoleAttributes: []string{"LOGIN"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, base.Equal(tt.other))
		})
	}
}

func TestPrivilegeSetEqualDoesNotMutateInputs(t *testing.T) {
	a := PrivilegeSet{
		Type:  DialectMySQL,
		MySQL: &MySQLPrivileges{Global: []string{"INSERT", "SELECT", "INSERT"}},
	}
	b := PrivilegeSet{
		Type:  DialectMySQL,
		MySQL: &MySQLPrivileges{Global: []string{"SELECT", "INSERT"}},
	}

	assert.True(t, a.Equal(b))
	assert.Equal(t, []string{"INSERT", "SELECT", "INSERT"}, a.MySQL.Global)
}

func TestCanonicalizeSortsAndDeduplicates(t *testing.T) {
	p := PrivilegeSet{
		Type: DialectSQLServer,
		SQLServer: &SQLServerPrivileges{
			ServerRoles:       []string{"sysadmin", "dbcreator", "sysadmin"},
			ServerPermissions: []string{"VIEW SERVER STATE", "CONNECT SQL"},
			DatabaseRoles: map[string][]string{
				"app": {"db_owner", "db_datareader", "db_owner"},
			},
		},
	}
	p.Canonicalize()

	assert.Equal(t, []string{"dbcreator", "sysadmin"}, p.SQLServer.ServerRoles)
	assert.Equal(t, []string{"CONNECT SQL", "VIEW SERVER STATE"}, p.SQLServer.ServerPermissions)
	assert.Equal(t, []string{"db_datareader", "db_owner"}, p.SQLServer.DatabaseRoles["app"])
}

func TestCanonicalizeOrdersOracleStructs(t *testing.T) {
	p := PrivilegeSet{
		Type: DialectOracle,
		Oracle: &OraclePrivileges{
			SystemPrivileges: []SystemPrivilege{
				{Name: "UNLIMITED TABLESPACE"},
				{Name: "CREATE SESSION", AdminOption: true},
			},
			TablespaceQuotas: []TablespaceQuota{
				{Tablespace: "USERS", MaxBytes: -1},
				{Tablespace: "DATA", MaxBytes: 1 << 30},
			},
		},
	}
	p.Canonicalize()

	assert.Equal(t, "CREATE SESSION", p.Oracle.SystemPrivileges[0].Name)
	assert.Equal(t, "DATA", p.Oracle.TablespaceQuotas[0].Tablespace)
}

func TestPrivilegeSetJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		set  PrivilegeSet
	}{
		{
			name: "mysql",
			set: PrivilegeSet{
				Type: DialectMySQL,
				MySQL: &MySQLPrivileges{
					Global:      []string{"SELECT"},
					PerDatabase: map[string][]string{"app": {"INSERT"}},
					GrantOption: true,
				},
			},
		},
		{
			name: "postgresql",
			set: PrivilegeSet{
				Type: DialectPostgreSQL,
				PostgreSQL: &PostgreSQLPrivileges{
					RoleAttributes: []string{"SUPERUSER", "LOGIN"},
					DatabasePrivs:  map[string][]string{"app": {"CONNECT"}},
				},
			},
		},
		{
			name: "oracle",
			set: PrivilegeSet{
				Type: DialectOracle,
				Oracle: &OraclePrivileges{
					Roles:            []string{"DBA"},
					SystemPrivileges: []SystemPrivilege{{Name: "CREATE SESSION"}},
					TablespaceQuotas: []TablespaceQuota{{Tablespace: "USERS", MaxBytes: -1}},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.set)
			require.NoError(t, err)

			var decoded PrivilegeSet
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tt.set.Type, decoded.Type)
			assert.True(t, tt.set.Equal(decoded))
		})
	}
}

func TestPrivilegeSetJSONCarriesDiscriminator(t *testing.T) {
	set := PrivilegeSet{
		Type:  DialectMySQL,
		MySQL: &MySQLPrivileges{Global: []string{"SELECT"}},
	}
	data, err := json.Marshal(set)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "mysql", raw["type"])
}

func TestPrivilegeSetUnmarshalRejectsUnknownType(t *testing.T) {
	var p PrivilegeSet
	err := json.Unmarshal([]byte(`{"type":"mongodb"}`), &p)
	assert.Error(t, err)
}

func TestValidateRejectsDialectMismatch(t *testing.T) {
	p := PrivilegeSet{
		Type:  DialectMySQL,
		MySQL: &MySQLPrivileges{Global: []string{"SELECT"}},
	}
	assert.NoError(t, p.Validate(DialectMySQL))
	assert.Error(t, p.Validate(DialectOracle))

	empty := PrivilegeSet{Type: DialectOracle}
	assert.Error(t, empty.Validate(DialectOracle))
}

func TestAccountKeyOrdering(t *testing.T) {
	a := AccountKey{Username: "alice", Host: "%"}
	b := AccountKey{Username: "alice", Host: "localhost"}
	c := AccountKey{Username: "bob", Host: "%"}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
	assert.Equal(t, "alice@%", a.String())
	assert.Equal(t, "carol", AccountKey{Username: "carol"}.String())
}
