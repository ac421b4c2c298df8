package common

import (
	"fmt"
	"time"
)

// Dialect identifies one of the supported target database engines.
type Dialect string

const (
	DialectMySQL      Dialect = "mysql"
	DialectPostgreSQL Dialect = "postgresql"
	DialectSQLServer  Dialect = "sqlserver"
	DialectOracle     Dialect = "oracle"
)

// Dialects lists every supported dialect in a stable order.
func Dialects() []Dialect {
	return []Dialect{DialectMySQL, DialectPostgreSQL, DialectSQLServer, DialectOracle}
}

// ParseDialect validates a dialect string coming from storage or user input.
func ParseDialect(s string) (Dialect, error) {
	d := Dialect(s)
	switch d {
	case DialectMySQL, DialectPostgreSQL, DialectSQLServer, DialectOracle:
		return d, nil
	}
	return "", fmt.Errorf("unsupported dialect %q", s)
}

// AccountKey identifies one principal on one instance. Host participates only
// for MySQL; every other dialect stores host as the empty string.
type AccountKey struct {
	Username string
	Host     string
}

func (k AccountKey) String() string {
	if k.Host == "" {
		return k.Username
	}
	return k.Username + "@" + k.Host
}

// Less orders keys by (username, host) for deterministic apply passes.
func (k AccountKey) Less(other AccountKey) bool {
	if k.Username != other.Username {
		return k.Username < other.Username
	}
	return k.Host < other.Host
}

// AccountRecord is the normalized view of one principal as extracted from a
// target instance: the dialect-independent header plus the dialect-tagged
// privilege payload.
type AccountRecord struct {
	Username            string
	Host                string
	IsSuperuser         bool
	IsLocked            bool
	PasswordExpired     bool
	Plugin              string
	PasswordLastChanged *time.Time
	Privileges          PrivilegeSet
}

// Key returns the canonical identity of the record.
func (r *AccountRecord) Key() AccountKey {
	return AccountKey{Username: r.Username, Host: r.Host}
}

// ExtractionResult carries the extracted account set plus metadata about the
// extraction run.
type ExtractionResult struct {
	Records       []AccountRecord
	ServerVersion string
	Duration      time.Duration
}

// ConnectResult is the outcome of a connection test against an instance.
type ConnectResult struct {
	OK      bool          `json:"ok"`
	Version string        `json:"version,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}
