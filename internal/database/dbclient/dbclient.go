package dbclient

import (
	"time"

	"github.com/whalefall/accountsync/internal/database/common"
)

// InstanceConfig carries everything an adapter needs to reach a target
// instance. Password is plaintext here: configs are materialized only inside
// the connection manager boundary and must never be persisted or logged.
type InstanceConfig struct {
	InstanceID   int64
	Name         string
	Dialect      common.Dialect
	Host         string
	Port         int
	Username     string
	Password     string
	DatabaseName string

	ConnectTimeout time.Duration
	QueryTimeout   time.Duration

	// OracleLibDir points at an Oracle Instant Client installation for the
	// thick-mode fallback. Ignored by every other dialect.
	OracleLibDir string
}

// Defaults for adapters when the caller leaves timeouts unset.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultQueryTimeout   = 60 * time.Second
)

// Normalize fills unset timeouts with the defaults.
func (c InstanceConfig) Normalize() InstanceConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	return c
}
