package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/whalefall/accountsync/internal/database/adapter"
	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/database/dbclient"
)

// Adapter implements the adapter.DatabaseAdapter interface for MySQL.
type Adapter struct{}

// NewAdapter creates a new MySQL adapter.
func NewAdapter() adapter.DatabaseAdapter {
	return &Adapter{}
}

// Dialect returns the database dialect identifier.
func (a *Adapter) Dialect() common.Dialect {
	return common.DialectMySQL
}

// Connect establishes a connection to a MySQL instance.
func (a *Adapter) Connect(ctx context.Context, config dbclient.InstanceConfig) (adapter.Connection, error) {
	config = config.Normalize()

	dbName := config.DatabaseName
	if dbName == "" {
		dbName = "mysql"
	}

	db, err := sql.Open("mysql", dsnFor(config, dbName))
	if err != nil {
		return nil, classify("connect", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify("connect", err)
	}

	// One connection per pool entry; the process-level manager bounds fanout.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Connection{
		instanceID: config.InstanceID,
		db:         db,
		config:     config,
		connected:  1,
	}, nil
}

// dsnFor builds the DSN through mysql.Config so credentials are escaped.
// parseTime is required so password_last_changed scans into time.Time.
func dsnFor(config dbclient.InstanceConfig, dbName string) string {
	dsnConfig := mysql.NewConfig()
	dsnConfig.User = config.Username
	dsnConfig.Passwd = config.Password
	dsnConfig.Net = "tcp"
	dsnConfig.Addr = fmt.Sprintf("%s:%d", config.Host, config.Port)
	dsnConfig.DBName = dbName
	dsnConfig.ParseTime = true
	dsnConfig.Timeout = config.ConnectTimeout
	dsnConfig.ReadTimeout = config.QueryTimeout
	dsnConfig.WriteTimeout = config.QueryTimeout
	return dsnConfig.FormatDSN()
}

// Version fetches the server version string.
func (c *Connection) Version(ctx context.Context) (string, error) {
	var version string
	if err := c.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", classify("version", err)
	}
	return version, nil
}

// Ping checks if the connection is alive.
func (c *Connection) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}
