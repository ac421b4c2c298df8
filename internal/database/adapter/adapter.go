// Package adapter defines the capability interface every dialect package
// implements, the shared failure taxonomy, and the adapter registry.
package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/database/dbclient"
)

// DatabaseAdapter is the sealed capability surface of one dialect.
type DatabaseAdapter interface {
	// Dialect returns the dialect identifier.
	Dialect() common.Dialect

	// Connect opens a validated connection to the target instance.
	Connect(ctx context.Context, config dbclient.InstanceConfig) (Connection, error)
}

// Connection is one live connection to a target instance. Implementations
// only ever issue read-only SQL.
type Connection interface {
	// InstanceID returns the canonical instance id this connection serves.
	InstanceID() int64

	// Dialect returns the dialect identifier.
	Dialect() common.Dialect

	// Ping runs the dialect's cheap liveness probe.
	Ping(ctx context.Context) error

	// Version fetches the server version via the dialect-specific probe.
	Version(ctx context.Context) (string, error)

	// ExtractAccounts enumerates server principals and returns normalized
	// records carrying the dialect-tagged privilege payload.
	ExtractAccounts(ctx context.Context) ([]common.AccountRecord, error)

	// Close releases the connection.
	Close() error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[common.Dialect]DatabaseAdapter)
)

// Register makes an adapter available by dialect. Called from each dialect
// package's init.
func Register(a DatabaseAdapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[a.Dialect()] = a
}

// Get returns the adapter registered for a dialect.
func Get(dialect common.Dialect) (DatabaseAdapter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := registry[dialect]
	if !ok {
		return nil, NewError(KindDriverMissing, dialect, "lookup",
			fmt.Errorf("no adapter registered for dialect %q", dialect))
	}
	return a, nil
}

// Registered returns the registered dialects in stable order.
func Registered() []common.Dialect {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]common.Dialect, 0, len(registry))
	for d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TestConnect opens a bounded connection, probes liveness and version, and
// closes. This is the implementation behind the connection-test surface.
func TestConnect(ctx context.Context, a DatabaseAdapter, config dbclient.InstanceConfig) common.ConnectResult {
	config = config.Normalize()
	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	start := time.Now()
	conn, err := a.Connect(ctx, config)
	if err != nil {
		return common.ConnectResult{Latency: time.Since(start), Error: err.Error()}
	}
	defer conn.Close()

	version, err := conn.Version(ctx)
	if err != nil {
		return common.ConnectResult{Latency: time.Since(start), Error: err.Error()}
	}

	return common.ConnectResult{OK: true, Version: version, Latency: time.Since(start)}
}
