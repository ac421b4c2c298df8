package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync/atomic"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/whalefall/accountsync/internal/database/adapter"
	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/database/dbclient"
)

// Adapter implements the adapter.DatabaseAdapter interface for SQL Server.
type Adapter struct{}

// NewAdapter creates a new SQL Server adapter.
func NewAdapter() adapter.DatabaseAdapter {
	return &Adapter{}
}

// Dialect returns the database dialect identifier.
func (a *Adapter) Dialect() common.Dialect {
	return common.DialectSQLServer
}

// Connect establishes a connection to a SQL Server instance.
func (a *Adapter) Connect(ctx context.Context, config dbclient.InstanceConfig) (adapter.Connection, error) {
	config = config.Normalize()

	dbName := config.DatabaseName
	if dbName == "" {
		dbName = "master"
	}

	db, err := sql.Open("sqlserver", connURLFor(config, dbName))
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

// connURLFor builds the sqlserver URL through url.UserPassword so credentials
// are escaped, unlike the semicolon-delimited ADO string.
func connURLFor(config dbclient.InstanceConfig, dbName string) string {
	query := url.Values{}
	query.Set("database", dbName)
	query.Set("encrypt", "false")
	query.Set("dial timeout", fmt.Sprintf("%d", int(config.ConnectTimeout.Seconds())))
	connURL := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(config.Username, config.Password),
		Host:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		RawQuery: query.Encode(),
	}
	return connURL.String()
}

// Connection implements adapter.Connection for SQL Server.
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
	return common.DialectSQLServer
}

// Ping checks if the connection is alive.
func (c *Connection) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Version fetches the server version string.
func (c *Connection) Version(ctx context.Context) (string, error) {
	var version string
	if err := c.db.QueryRowContext(ctx, "SELECT @@VERSION").Scan(&version); err != nil {
		return "", classify("version", err)
	}
	return version, nil
}

// Close closes the connection.
func (c *Connection) Close() error {
	atomic.StoreInt32(&c.connected, 0)
	return c.db.Close()
}
