package pool

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
	"github.com/whalefall/accountsync/pkg/logger"
)

type fakeConn struct {
	instanceID int64
	mu         sync.Mutex
	pingErr    error
	closed     bool
}

func (c *fakeConn) InstanceID() int64       { return c.instanceID }
func (c *fakeConn) Dialect() common.Dialect { return common.DialectMySQL }

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) Version(context.Context) (string, error) { return "fake 1.0", nil }

func (c *fakeConn) ExtractAccounts(context.Context) ([]common.AccountRecord, error) {
	return nil, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeAdapter struct {
	mu    sync.Mutex
	dials int
}

func (a *fakeAdapter) Dialect() common.Dialect { return common.DialectMySQL }

func (a *fakeAdapter) Connect(_ context.Context, config dbclient.InstanceConfig) (adapter.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dials++
	return &fakeConn{instanceID: config.InstanceID}, nil
}

func staticResolver(dialect common.Dialect) ConfigResolver {
	return func(_ context.Context, instanceID int64) (dbclient.InstanceConfig, error) {
		return dbclient.InstanceConfig{
			InstanceID: instanceID,
			Dialect:    dialect,
			Host:       "localhost",
			Port:       3306,
		}, nil
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeAdapter) {
	t.Helper()
	fa := &fakeAdapter{}
	adapter.Register(fa)

	m := NewManager(staticResolver(common.DialectMySQL), logger.New("test", "0"),
		WithSweepInterval(time.Hour))
	t.Cleanup(m.Close)
	return m, fa
}

func TestGetDialsWhenPoolIsEmpty(t *testing.T) {
	m, fa := newTestManager(t)

	conn, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), conn.InstanceID())
	assert.Equal(t, 1, fa.dials)
}

func TestReleaseThenGetReusesConnection(t *testing.T) {
	m, fa := newTestManager(t)

	conn, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	m.Release(1, conn)

	again, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Same(t, conn, again)
	assert.Equal(t, 1, fa.dials)
}

func TestGetEvictsDeadPooledConnection(t *testing.T) {
	m, fa := newTestManager(t)

	conn, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	m.Release(1, conn)

	conn.(*fakeConn).pingErr = errors.New("gone away")

	fresh, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.NotSame(t, conn, fresh)
	assert.True(t, conn.(*fakeConn).isClosed())
	assert.Equal(t, 2, fa.dials)
}

func TestGetBlocksAtInstanceCapacity(t *testing.T) {
	m, fa := newTestManager(t)

	conn, err := m.Get(context.Background(), 1)
	require.NoError(t, err)

	// Capacity 1: a second checkout waits instead of dialing another
	// connection.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.Get(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, fa.dials)

	m.Release(1, conn)
	again, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Same(t, conn, again)
	assert.Equal(t, 1, fa.dials)
}

func TestDiscardFreesCheckoutSlot(t *testing.T) {
	m, fa := newTestManager(t)

	conn, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	m.Discard(conn)

	fresh, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.NotSame(t, conn, fresh)
	assert.True(t, conn.(*fakeConn).isClosed())
	assert.Equal(t, 2, fa.dials)
}

func TestInstancesDoNotShareConnections(t *testing.T) {
	m, _ := newTestManager(t)

	a, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	m.Release(1, a)

	b, err := m.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, int64(2), b.InstanceID())
}

func TestTestConnectProbesWithoutPooling(t *testing.T) {
	m, fa := newTestManager(t)

	result, err := m.TestConnect(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "fake 1.0", result.Version)
	assert.Equal(t, 1, fa.dials)

	// The probe was closed rather than pooled, so Get dials fresh.
	conn, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, fa.dials)
	m.Release(1, conn)
}

func TestCloseTearsDownPooledConnections(t *testing.T) {
	fa := &fakeAdapter{}
	adapter.Register(fa)
	m := NewManager(staticResolver(common.DialectMySQL), logger.New("test", "0"),
		WithSweepInterval(time.Hour))

	conn, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	m.Release(1, conn)

	m.Close()
	assert.True(t, conn.(*fakeConn).isClosed())

	// Releasing after shutdown closes instead of pooling.
	late := &fakeConn{instanceID: 9}
	m.Release(9, late)
	assert.True(t, late.isClosed())
}

func TestSweepClosesUnresponsiveConnections(t *testing.T) {
	m, _ := newTestManager(t)

	conn, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	m.Release(1, conn)

	conn.(*fakeConn).pingErr = errors.New("gone away")

	// Backdate the release so the sweep does not treat it as recently used.
	p := m.pool(1)
	p.mu.Lock()
	for _, pc := range p.idle {
		pc.lastUsed = time.Now().Add(-2 * time.Hour)
	}
	p.mu.Unlock()

	m.sweep()

	assert.True(t, conn.(*fakeConn).isClosed())
}

func TestSweepSkipsRecentlyUsedConnections(t *testing.T) {
	m, _ := newTestManager(t)

	conn, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	m.Release(1, conn)

	conn.(*fakeConn).pingErr = errors.New("gone away")
	m.sweep()

	assert.False(t, conn.(*fakeConn).isClosed())
}
