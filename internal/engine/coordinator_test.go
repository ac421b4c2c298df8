package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalefall/accountsync/internal/database/adapter"
	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/database/dbclient"
	"github.com/whalefall/accountsync/internal/pool"
	"github.com/whalefall/accountsync/internal/store"
	"github.com/whalefall/accountsync/pkg/logger"
)

// flakyAdapter serves connections whose first extractions fail with a
// configurable kind.
type flakyAdapter struct {
	mu       sync.Mutex
	dials    int
	failures int
	failKind adapter.Kind
}

func (a *flakyAdapter) Dialect() common.Dialect { return common.DialectMySQL }

func (a *flakyAdapter) Connect(_ context.Context, config dbclient.InstanceConfig) (adapter.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dials++
	return &flakyConn{adapter: a, instanceID: config.InstanceID}, nil
}

func (a *flakyAdapter) dialCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dials
}

type flakyConn struct {
	adapter    *flakyAdapter
	instanceID int64
}

func (c *flakyConn) InstanceID() int64                 { return c.instanceID }
func (c *flakyConn) Dialect() common.Dialect           { return common.DialectMySQL }
func (c *flakyConn) Ping(context.Context) error        { return nil }
func (c *flakyConn) Close() error                      { return nil }
func (c *flakyConn) Version(context.Context) (string, error) {
	return "8.0.36", nil
}

func (c *flakyConn) ExtractAccounts(context.Context) ([]common.AccountRecord, error) {
	c.adapter.mu.Lock()
	defer c.adapter.mu.Unlock()
	if c.adapter.failures > 0 {
		c.adapter.failures--
		return nil, adapter.NewError(c.adapter.failKind, common.DialectMySQL, "extract_accounts",
			errors.New("simulated"))
	}
	return []common.AccountRecord{{
		Username: "alice",
		Host:     "%",
		Privileges: common.PrivilegeSet{
			Type:  common.DialectMySQL,
			MySQL: &common.MySQLPrivileges{Global: []string{"SELECT"}},
		},
	}}, nil
}

func newExtractCoordinator(t *testing.T, fa *flakyAdapter) *Coordinator {
	t.Helper()
	adapter.Register(fa)

	log := logger.New("test", "0")
	log.DisableConsoleOutput()

	resolver := func(_ context.Context, instanceID int64) (dbclient.InstanceConfig, error) {
		return dbclient.InstanceConfig{
			InstanceID: instanceID,
			Dialect:    common.DialectMySQL,
			Host:       "localhost",
			Port:       3306,
		}, nil
	}
	pm := pool.NewManager(resolver, log, pool.WithSweepInterval(time.Hour))
	t.Cleanup(pm.Close)

	return &Coordinator{
		pool:      pm,
		extractor: NewExtractor(nil, log),
		queryTO:   time.Second,
		logger:    log,
	}
}

func TestExtractWithRetryRedialsOnTransientFailure(t *testing.T) {
	fa := &flakyAdapter{failures: 1, failKind: adapter.KindTimeout}
	c := newExtractCoordinator(t, fa)

	// Version matches so the extractor does not touch the store.
	inst := &store.Instance{ID: 1, Name: "m1", Dialect: common.DialectMySQL, DatabaseVersion: "8.0.36"}

	result, err := c.extractWithRetry(context.Background(), inst)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "alice", result.Records[0].Username)
	assert.Equal(t, 2, fa.dialCount())
}

func TestExtractWithRetryStopsOnFatalFailure(t *testing.T) {
	fa := &flakyAdapter{failures: 3, failKind: adapter.KindPermissionDenied}
	c := newExtractCoordinator(t, fa)

	inst := &store.Instance{ID: 1, Name: "m1", Dialect: common.DialectMySQL, DatabaseVersion: "8.0.36"}

	_, err := c.extractWithRetry(context.Background(), inst)
	require.Error(t, err)
	assert.Equal(t, adapter.KindPermissionDenied, adapter.KindOf(err))
	assert.Equal(t, 1, fa.dialCount())
}
