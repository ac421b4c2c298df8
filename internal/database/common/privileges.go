package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// PrivilegeSet is the dialect-tagged privileges blob persisted with each
// account. Exactly one variant is non-nil, matching the Type discriminator.
type PrivilegeSet struct {
	Type       Dialect
	MySQL      *MySQLPrivileges
	PostgreSQL *PostgreSQLPrivileges
	SQLServer  *SQLServerPrivileges
	Oracle     *OraclePrivileges
}

// MySQLPrivileges records global and per-database grants.
type MySQLPrivileges struct {
	Global      []string            `json:"global"`
	PerDatabase map[string][]string `json:"per_database"`
	GrantOption bool                `json:"grant_option"`
}

// PostgreSQLPrivileges records role attributes and database-level grants.
type PostgreSQLPrivileges struct {
	RoleAttributes  []string            `json:"role_attributes"`
	DatabasePrivs   map[string][]string `json:"database_privs"`
	TablespacePrivs []string            `json:"tablespace_privs"`
}

// SQLServerPrivileges records server and database roles and permissions.
type SQLServerPrivileges struct {
	ServerRoles         []string            `json:"server_roles"`
	ServerPermissions   []string            `json:"server_permissions"`
	DatabaseRoles       map[string][]string `json:"database_roles"`
	DatabasePermissions map[string][]string `json:"database_permissions"`
}

// SystemPrivilege is one Oracle system privilege grant.
type SystemPrivilege struct {
	Name        string `json:"name"`
	AdminOption bool   `json:"admin_option"`
}

// TablespaceQuota is one Oracle tablespace quota. MaxBytes is -1 for
// UNLIMITED.
type TablespaceQuota struct {
	Tablespace string `json:"tablespace"`
	MaxBytes   int64  `json:"max_bytes"`
}

// OraclePrivileges records roles, system privileges, object privileges keyed
// by owner.object, and tablespace quotas.
type OraclePrivileges struct {
	Roles            []string            `json:"roles"`
	SystemPrivileges []SystemPrivilege   `json:"system_privileges"`
	ObjectPrivileges map[string][]string `json:"object_privileges"`
	TablespaceQuotas []TablespaceQuota   `json:"tablespace_quotas"`
}

// MarshalJSON serializes the active variant inline with a "type"
// discriminator.
func (p PrivilegeSet) MarshalJSON() ([]byte, error) {
	switch p.Type {
	case DialectMySQL:
		return marshalTagged(p.Type, p.MySQL)
	case DialectPostgreSQL:
		return marshalTagged(p.Type, p.PostgreSQL)
	case DialectSQLServer:
		return marshalTagged(p.Type, p.SQLServer)
	case DialectOracle:
		return marshalTagged(p.Type, p.Oracle)
	case "":
		return []byte("null"), nil
	}
	return nil, fmt.Errorf("unsupported privilege set type %q", p.Type)
}

func marshalTagged(d Dialect, variant interface{}) ([]byte, error) {
	body, err := json.Marshal(variant)
	if err != nil {
		return nil, err
	}
	tag := fmt.Sprintf(`{"type":%q`, d)
	if bytes.Equal(body, []byte("null")) || bytes.Equal(body, []byte("{}")) {
		return []byte(tag + "}"), nil
	}
	// Splice the discriminator into the variant object.
	return append([]byte(tag+","), body[1:]...), nil
}

// UnmarshalJSON reads the "type" discriminator and decodes the matching
// variant.
func (p *PrivilegeSet) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = PrivilegeSet{}
		return nil
	}

	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}

	dialect, err := ParseDialect(tag.Type)
	if err != nil {
		return fmt.Errorf("invalid privileges blob: %w", err)
	}

	*p = PrivilegeSet{Type: dialect}
	switch dialect {
	case DialectMySQL:
		p.MySQL = &MySQLPrivileges{}
		return json.Unmarshal(data, p.MySQL)
	case DialectPostgreSQL:
		p.PostgreSQL = &PostgreSQLPrivileges{}
		return json.Unmarshal(data, p.PostgreSQL)
	case DialectSQLServer:
		p.SQLServer = &SQLServerPrivileges{}
		return json.Unmarshal(data, p.SQLServer)
	case DialectOracle:
		p.Oracle = &OraclePrivileges{}
		return json.Unmarshal(data, p.Oracle)
	}
	return nil
}

// Validate checks that the payload shape matches the expected dialect. A
// mismatch is a fatal extraction error.
func (p *PrivilegeSet) Validate(expected Dialect) error {
	if p.Type != expected {
		return fmt.Errorf("privileges blob tagged %q does not match instance dialect %q", p.Type, expected)
	}
	var ok bool
	switch p.Type {
	case DialectMySQL:
		ok = p.MySQL != nil
	case DialectPostgreSQL:
		ok = p.PostgreSQL != nil
	case DialectSQLServer:
		ok = p.SQLServer != nil
	case DialectOracle:
		ok = p.Oracle != nil
	}
	if !ok {
		return fmt.Errorf("privileges blob tagged %q has no %s payload", p.Type, p.Type)
	}
	return nil
}

// Canonicalize sorts and deduplicates every inner privilege list so that
// comparison is order-insensitive. It mutates the receiver in place.
func (p *PrivilegeSet) Canonicalize() {
	switch p.Type {
	case DialectMySQL:
		if p.MySQL != nil {
			p.MySQL.Global = canonList(p.MySQL.Global)
			p.MySQL.PerDatabase = canonMap(p.MySQL.PerDatabase)
		}
	case DialectPostgreSQL:
		if p.PostgreSQL != nil {
			p.PostgreSQL.RoleAttributes = canonList(p.PostgreSQL.RoleAttributes)
			p.PostgreSQL.DatabasePrivs = canonMap(p.PostgreSQL.DatabasePrivs)
			p.PostgreSQL.TablespacePrivs = canonList(p.PostgreSQL.TablespacePrivs)
		}
	case DialectSQLServer:
		if p.SQLServer != nil {
			p.SQLServer.ServerRoles = canonList(p.SQLServer.ServerRoles)
			p.SQLServer.ServerPermissions = canonList(p.SQLServer.ServerPermissions)
			p.SQLServer.DatabaseRoles = canonMap(p.SQLServer.DatabaseRoles)
			p.SQLServer.DatabasePermissions = canonMap(p.SQLServer.DatabasePermissions)
		}
	case DialectOracle:
		if p.Oracle != nil {
			p.Oracle.Roles = canonList(p.Oracle.Roles)
			p.Oracle.ObjectPrivileges = canonMap(p.Oracle.ObjectPrivileges)
			sort.Slice(p.Oracle.SystemPrivileges, func(i, j int) bool {
				return p.Oracle.SystemPrivileges[i].Name < p.Oracle.SystemPrivileges[j].Name
			})
			sort.Slice(p.Oracle.TablespaceQuotas, func(i, j int) bool {
				return p.Oracle.TablespaceQuotas[i].Tablespace < p.Oracle.TablespaceQuotas[j].Tablespace
			})
		}
	}
}

// Equal compares two privilege sets after canonicalization. JSON encoding of
// the canonical forms is deterministic: lists are sorted and Go serializes
// map keys in sorted order.
func (p PrivilegeSet) Equal(other PrivilegeSet) bool {
	if p.Type != other.Type {
		return false
	}
	a := p.clone()
	b := other.clone()
	a.Canonicalize()
	b.Canonicalize()

	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

func (p PrivilegeSet) clone() PrivilegeSet {
	out := PrivilegeSet{Type: p.Type}
	switch {
	case p.MySQL != nil:
		c := *p.MySQL
		c.Global = append([]string(nil), p.MySQL.Global...)
		c.PerDatabase = cloneMap(p.MySQL.PerDatabase)
		out.MySQL = &c
	case p.PostgreSQL != nil:
		c := *p.PostgreSQL
		c.RoleAttributes = append([]string(nil), p.PostgreSQL.RoleAttributes...)
		c.DatabasePrivs = cloneMap(p.PostgreSQL.DatabasePrivs)
		c.TablespacePrivs = append([]string(nil), p.PostgreSQL.TablespacePrivs...)
		out.PostgreSQL = &c
	case p.SQLServer != nil:
		c := *p.SQLServer
		c.ServerRoles = append([]string(nil), p.SQLServer.ServerRoles...)
		c.ServerPermissions = append([]string(nil), p.SQLServer.ServerPermissions...)
		c.DatabaseRoles = cloneMap(p.SQLServer.DatabaseRoles)
		c.DatabasePermissions = cloneMap(p.SQLServer.DatabasePermissions)
		out.SQLServer = &c
	case p.Oracle != nil:
		c := *p.Oracle
		c.Roles = append([]string(nil), p.Oracle.Roles...)
		c.SystemPrivileges = append([]SystemPrivilege(nil), p.Oracle.SystemPrivileges...)
		c.ObjectPrivileges = cloneMap(p.Oracle.ObjectPrivileges)
		c.TablespaceQuotas = append([]TablespaceQuota(nil), p.Oracle.TablespaceQuotas...)
		out.Oracle = &c
	}
	return out
}

func canonList(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func canonMap(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = canonList(v)
	}
	return out
}

func cloneMap(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
