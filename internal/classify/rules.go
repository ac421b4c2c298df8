// Package classify evaluates rule expressions against normalized privilege
// payloads and maintains classification assignments.
package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/whalefall/accountsync/internal/database/common"
)

// Operators joining the clauses of one expression.
const (
	OperatorAnd = "AND"
	OperatorOr  = "OR"
)

// ErrUnknownType marks expressions whose type discriminator is not part of
// the grammar. Such rules are treated as inactive, never as matching.
var ErrUnknownType = errors.New("unknown rule expression type")

// Expression is the JSON rule predicate. Only the keys belonging to the
// dialect named by Type are consulted; the rest stay empty.
type Expression struct {
	Type     string `json:"type"`
	Operator string `json:"operator,omitempty"`

	GlobalPrivileges     []string `json:"global_privileges,omitempty"`
	DatabasePrivileges   []string `json:"database_privileges,omitempty"`
	RoleAttributes       []string `json:"role_attributes,omitempty"`
	TablespacePrivileges []string `json:"tablespace_privileges,omitempty"`
	ServerRoles          []string `json:"server_roles,omitempty"`
	ServerPermissions    []string `json:"server_permissions,omitempty"`
	DatabaseRoles        []string `json:"database_roles,omitempty"`
	Roles                []string `json:"roles,omitempty"`
	SystemPrivileges     []string `json:"system_privileges,omitempty"`
	TablespaceQuotas     []string `json:"tablespace_quotas,omitempty"`
}

var typeDialects = map[string]common.Dialect{
	"mysql_permissions":      common.DialectMySQL,
	"postgresql_permissions": common.DialectPostgreSQL,
	"sqlserver_permissions":  common.DialectSQLServer,
	"oracle_permissions":     common.DialectOracle,
}

// ParseExpression decodes and validates one stored rule expression.
func ParseExpression(raw json.RawMessage) (*Expression, error) {
	var expr Expression
	if err := json.Unmarshal(raw, &expr); err != nil {
		return nil, fmt.Errorf("decode rule expression: %w", err)
	}
	if _, ok := typeDialects[expr.Type]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, expr.Type)
	}
	switch expr.Operator {
	case "":
		expr.Operator = OperatorOr
	case OperatorAnd, OperatorOr:
	default:
		return nil, fmt.Errorf("rule expression operator %q is not AND or OR", expr.Operator)
	}
	return &expr, nil
}

// Dialect returns the dialect the expression applies to.
func (e *Expression) Dialect() common.Dialect {
	return typeDialects[e.Type]
}

// clause pairs one required-atom list with the privilege atoms the account
// actually holds for that key.
type clause struct {
	required  []string
	available map[string]bool
}

// Matches evaluates the expression against one account's privilege payload.
// Empty lists contribute nothing: they never satisfy OR and never block AND.
// An expression whose lists are all empty matches nothing.
func (e *Expression) Matches(p common.PrivilegeSet) bool {
	if p.Type != e.Dialect() {
		return false
	}

	clauses := e.clauses(p)

	any := false
	all := true
	nonEmpty := 0
	for _, cl := range clauses {
		if len(cl.required) == 0 {
			continue
		}
		nonEmpty++
		if clauseMatches(cl) {
			any = true
		} else {
			all = false
		}
	}
	if nonEmpty == 0 {
		return false
	}
	if e.Operator == OperatorAnd {
		return all
	}
	return any
}

func clauseMatches(cl clause) bool {
	for _, atom := range cl.required {
		if cl.available[normalize(atom)] {
			return true
		}
	}
	return false
}

func (e *Expression) clauses(p common.PrivilegeSet) []clause {
	switch e.Dialect() {
	case common.DialectMySQL:
		if p.MySQL == nil {
			return nil
		}
		global := atomSet(p.MySQL.Global)
		if p.MySQL.GrantOption {
			global[normalize("GRANT OPTION")] = true
		}
		return []clause{
			{e.GlobalPrivileges, global},
			{e.DatabasePrivileges, mapAtomSet(p.MySQL.PerDatabase)},
		}
	case common.DialectPostgreSQL:
		if p.PostgreSQL == nil {
			return nil
		}
		return []clause{
			{e.RoleAttributes, atomSet(p.PostgreSQL.RoleAttributes)},
			{e.DatabasePrivileges, mapAtomSet(p.PostgreSQL.DatabasePrivs)},
			{e.TablespacePrivileges, atomSet(p.PostgreSQL.TablespacePrivs)},
		}
	case common.DialectSQLServer:
		if p.SQLServer == nil {
			return nil
		}
		return []clause{
			{e.ServerRoles, atomSet(p.SQLServer.ServerRoles)},
			{e.ServerPermissions, atomSet(p.SQLServer.ServerPermissions)},
			{e.DatabaseRoles, mapAtomSet(p.SQLServer.DatabaseRoles)},
			{e.DatabasePrivileges, mapAtomSet(p.SQLServer.DatabasePermissions)},
		}
	case common.DialectOracle:
		if p.Oracle == nil {
			return nil
		}
		sysPrivs := make(map[string]bool, len(p.Oracle.SystemPrivileges))
		for _, sp := range p.Oracle.SystemPrivileges {
			sysPrivs[normalize(sp.Name)] = true
		}
		quotas := make(map[string]bool, len(p.Oracle.TablespaceQuotas))
		for _, q := range p.Oracle.TablespaceQuotas {
			quotas[normalize(q.Tablespace)] = true
		}
		return []clause{
			{e.Roles, atomSet(p.Oracle.Roles)},
			{e.SystemPrivileges, sysPrivs},
			// Tablespace privileges in Oracle are system privileges such as
			// UNLIMITED TABLESPACE; quotas match by tablespace name.
			{e.TablespacePrivileges, sysPrivs},
			{e.TablespaceQuotas, quotas},
		}
	}
	return nil
}

func normalize(atom string) string {
	return strings.ToUpper(strings.TrimSpace(atom))
}

func atomSet(atoms []string) map[string]bool {
	out := make(map[string]bool, len(atoms))
	for _, a := range atoms {
		out[normalize(a)] = true
	}
	return out
}

// mapAtomSet flattens per-database privilege maps: an atom matches when any
// database's list contains it.
func mapAtomSet(m map[string][]string) map[string]bool {
	out := make(map[string]bool)
	for _, atoms := range m {
		for _, a := range atoms {
			out[normalize(a)] = true
		}
	}
	return out
}
