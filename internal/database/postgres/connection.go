package postgres

import (
	"context"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whalefall/accountsync/internal/database/adapter"
	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/database/dbclient"
)

// Adapter implements the adapter.DatabaseAdapter interface for PostgreSQL.
type Adapter struct{}

// NewAdapter creates a new PostgreSQL adapter.
func NewAdapter() adapter.DatabaseAdapter {
	return &Adapter{}
}

// Dialect returns the database dialect identifier.
func (a *Adapter) Dialect() common.Dialect {
	return common.DialectPostgreSQL
}

// Connect establishes a connection to a PostgreSQL instance.
func (a *Adapter) Connect(ctx context.Context, config dbclient.InstanceConfig) (adapter.Connection, error) {
	config = config.Normalize()

	dbName := config.DatabaseName
	if dbName == "" {
		dbName = "postgres"
	}

	poolConfig, err := poolConfigFor(config, dbName)
	if err != nil {
		return nil, classify("connect", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, classify("connect", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("connect", err)
	}

	return &Connection{
		instanceID: config.InstanceID,
		pool:       pool,
		config:     config,
		connected:  1,
	}, nil
}

// poolConfigFor sets the connection fields individually so passwords
// containing URL metacharacters survive intact.
func poolConfigFor(config dbclient.InstanceConfig, dbName string) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig("sslmode=prefer")
	if err != nil {
		return nil, err
	}
	poolConfig.ConnConfig.Host = config.Host
	poolConfig.ConnConfig.Port = uint16(config.Port)
	poolConfig.ConnConfig.Database = dbName
	poolConfig.ConnConfig.User = config.Username
	poolConfig.ConnConfig.Password = config.Password
	poolConfig.ConnConfig.ConnectTimeout = config.ConnectTimeout
	poolConfig.MaxConns = 1
	return poolConfig, nil
}

// Connection implements adapter.Connection for PostgreSQL.
type Connection struct {
	instanceID int64
	pool       *pgxpool.Pool
	config     dbclient.InstanceConfig
	connected  int32
}

// InstanceID returns the canonical instance id.
func (c *Connection) InstanceID() int64 {
	return c.instanceID
}

// Dialect returns the database dialect identifier.
func (c *Connection) Dialect() common.Dialect {
	return common.DialectPostgreSQL
}

// Ping checks if the connection is alive.
func (c *Connection) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Version fetches the server version string.
func (c *Connection) Version(ctx context.Context) (string, error) {
	var version string
	if err := c.pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", classify("version", err)
	}
	return version, nil
}

// Close closes the connection.
func (c *Connection) Close() error {
	atomic.StoreInt32(&c.connected, 0)
	c.pool.Close()
	return nil
}
