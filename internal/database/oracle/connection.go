package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"

	_ "github.com/godror/godror"

	"github.com/whalefall/accountsync/internal/database/adapter"
	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/database/dbclient"
)

// Adapter implements the adapter.DatabaseAdapter interface for Oracle.
type Adapter struct{}

// NewAdapter creates a new Oracle adapter.
func NewAdapter() adapter.DatabaseAdapter {
	return &Adapter{}
}

// Dialect returns the database dialect identifier.
func (a *Adapter) Dialect() common.Dialect {
	return common.DialectOracle
}

// Connect establishes a connection to an Oracle instance.
//
// The first attempt uses the driver's default configuration. Oracle 11g
// servers reject that handshake (ORA-28040) and hosts without client
// libraries fail with DPI-1047; both cases are retried once in thick mode
// with the configured Instant Client directory. Any other failure
// propagates.
func (a *Adapter) Connect(ctx context.Context, config dbclient.InstanceConfig) (adapter.Connection, error) {
	config = config.Normalize()

	serviceName := config.DatabaseName
	if serviceName == "" {
		serviceName = "ORCL"
	}

	conn, err := a.open(ctx, config, serviceName, "")
	if err == nil {
		return conn, nil
	}

	if isThinIncompatible(err) {
		if config.OracleLibDir == "" {
			return nil, adapter.NewError(adapter.KindDriverMissing, common.DialectOracle, "connect",
				fmt.Errorf("thick-mode client libraries required but oracle.client_lib_dir is not configured: %w", err))
		}
		return a.open(ctx, config, serviceName, config.OracleLibDir)
	}

	return nil, err
}

func (a *Adapter) open(ctx context.Context, config dbclient.InstanceConfig, serviceName, libDir string) (adapter.Connection, error) {
	var connString strings.Builder
	fmt.Fprintf(&connString, `user=%q password=%q connectString=%q timezone="UTC"`,
		config.Username, config.Password,
		fmt.Sprintf("%s:%d/%s", config.Host, config.Port, serviceName))
	if libDir != "" {
		fmt.Fprintf(&connString, " libDir=%q", libDir)
	}

	db, err := sql.Open("godror", connString.String())
	if err != nil {
		return nil, classify("connect", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify("connect", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Connection{
		instanceID: config.InstanceID,
		db:         db,
		config:     config,
		connected:  1,
	}, nil
}

// isThinIncompatible recognizes the two failure signatures that call for the
// thick-mode retry: missing client libraries (DPI-1047) and the 11g
// authentication protocol rejection (ORA-28040).
func isThinIncompatible(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "DPI-1047") || strings.Contains(msg, "ORA-28040")
}

// Connection implements adapter.Connection for Oracle.
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
	return common.DialectOracle
}

// Ping checks if the connection is alive.
func (c *Connection) Ping(ctx context.Context) error {
	var one int
	if err := c.db.QueryRowContext(ctx, "SELECT 1 FROM DUAL").Scan(&one); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Version fetches the server version banner.
func (c *Connection) Version(ctx context.Context) (string, error) {
	var version string
	err := c.db.QueryRowContext(ctx,
		"SELECT banner FROM v$version WHERE banner LIKE 'Oracle%'").Scan(&version)
	if err != nil {
		return "", classify("version", err)
	}
	return version, nil
}

// Close closes the connection.
func (c *Connection) Close() error {
	atomic.StoreInt32(&c.connected, 0)
	return c.db.Close()
}
