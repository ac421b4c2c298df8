// Package pool manages live target-database connections keyed by instance id.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/whalefall/accountsync/internal/database/adapter"
	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/database/dbclient"
	"github.com/whalefall/accountsync/pkg/logger"
)

var idleConnGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "accountsync",
	Subsystem: "pool",
	Name:      "idle_connections",
	Help:      "Idle pooled connections per dialect.",
}, []string{"dialect"})

const (
	// DefaultMaxPerInstance keeps one connection per instance, which is all a
	// serial extraction needs. Multiplexed callers can raise it.
	DefaultMaxPerInstance = 1

	// DefaultSweepInterval is how often idle connections get pinged.
	DefaultSweepInterval = 60 * time.Second
)

// ConfigResolver materializes the connection config for an instance. The
// returned config carries plaintext credentials and must not escape the
// manager.
type ConfigResolver func(ctx context.Context, instanceID int64) (dbclient.InstanceConfig, error)

// Manager is a process-scoped connection pool keyed by instance id.
type Manager struct {
	resolve        ConfigResolver
	maxPerInstance int
	sweepInterval  time.Duration
	logger         *logger.Logger

	mu    sync.Mutex
	pools map[int64]*instancePool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

type instancePool struct {
	mu   sync.Mutex
	idle []*pooledConn

	// slots bounds concurrent checkouts for the instance.
	slots chan struct{}
}

type pooledConn struct {
	conn     adapter.Connection
	lastUsed time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxPerInstance sets the per-instance connection cap, bounding both
// concurrent checkouts and pooled idle connections.
func WithMaxPerInstance(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxPerInstance = n
		}
	}
}

// WithSweepInterval overrides the idle-sweep period.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// NewManager creates a connection manager. The background sweep starts
// immediately and runs until Close.
func NewManager(resolve ConfigResolver, log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		resolve:        resolve,
		maxPerInstance: DefaultMaxPerInstance,
		sweepInterval:  DefaultSweepInterval,
		logger:         log.Named("connpool"),
		pools:          make(map[int64]*instancePool),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweepLoop()
	return m
}

// Get returns a validated connection for the instance, blocking while the
// instance is at its checkout capacity. Pooled connections are pinged first;
// a dead one is closed and replaced with a fresh dial.
func (m *Manager) Get(ctx context.Context, instanceID int64) (adapter.Connection, error) {
	p := m.pool(instanceID)

	select {
	case p.slots <- struct{}{}:
	case <-m.stopCh:
		return nil, fmt.Errorf("connection manager is shut down")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	conn, err := m.checkout(ctx, p, instanceID)
	if err != nil {
		p.freeSlot()
		return nil, err
	}
	return conn, nil
}

// checkout holds a slot and either revives an idle connection or dials.
func (m *Manager) checkout(ctx context.Context, p *instancePool, instanceID int64) (adapter.Connection, error) {
	for {
		pc := p.take()
		if pc == nil {
			break
		}
		if err := pc.conn.Ping(ctx); err == nil {
			return pc.conn, nil
		}
		m.logger.Debugf("evicting stale connection for instance %d", instanceID)
		pc.conn.Close()
	}

	config, err := m.resolve(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("resolve instance %d: %w", instanceID, err)
	}

	a, err := adapter.Get(config.Dialect)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, config.Normalize().ConnectTimeout)
	defer cancel()

	conn, err := a.Connect(connectCtx, config)
	if err != nil {
		return nil, err
	}
	m.logger.Debugf("opened %s connection for instance %d", config.Dialect, instanceID)
	return conn, nil
}

// Release returns a connection to the pool and frees its checkout slot. If
// the pool is at capacity or the manager is shutting down, the connection is
// closed instead.
func (m *Manager) Release(instanceID int64, conn adapter.Connection) {
	p := m.pool(instanceID)
	p.freeSlot()

	select {
	case <-m.stopCh:
		conn.Close()
		return
	default:
	}

	if !p.put(conn, m.maxPerInstance) {
		conn.Close()
	}
}

// TestConnect probes an instance with a fresh connection that never enters
// the pool. The probe opens, checks version, and closes.
func (m *Manager) TestConnect(ctx context.Context, instanceID int64) (common.ConnectResult, error) {
	config, err := m.resolve(ctx, instanceID)
	if err != nil {
		return common.ConnectResult{}, fmt.Errorf("resolve instance %d: %w", instanceID, err)
	}
	a, err := adapter.Get(config.Dialect)
	if err != nil {
		return common.ConnectResult{}, err
	}
	return adapter.TestConnect(ctx, a, config), nil
}

// Discard closes a connection without pooling it and frees its checkout
// slot. Callers use this after an error that leaves connection state in
// doubt.
func (m *Manager) Discard(conn adapter.Connection) {
	if conn == nil {
		return
	}
	m.pool(conn.InstanceID()).freeSlot()
	conn.Close()
}

// Close tears down the sweep loop and every pooled connection.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.pools {
		p.mu.Lock()
		for _, pc := range p.idle {
			pc.conn.Close()
			idleConnGauge.WithLabelValues(string(pc.conn.Dialect())).Dec()
		}
		p.idle = nil
		p.mu.Unlock()
		delete(m.pools, id)
	}
}

func (m *Manager) pool(instanceID int64) *instancePool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[instanceID]
	if !ok {
		p = &instancePool{slots: make(chan struct{}, m.maxPerInstance)}
		m.pools[instanceID] = p
	}
	return p
}

func (m *Manager) sweepLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep pings idle connections and drops the ones that fail. Connections
// released within the last sweep interval are left alone.
func (m *Manager) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.mu.Lock()
	pools := make(map[int64]*instancePool, len(m.pools))
	for id, p := range m.pools {
		pools[id] = p
	}
	m.mu.Unlock()

	cutoff := time.Now().Add(-m.sweepInterval)
	for id, p := range pools {
		p.mu.Lock()
		alive := p.idle[:0]
		for _, pc := range p.idle {
			if pc.lastUsed.After(cutoff) {
				alive = append(alive, pc)
				continue
			}
			if err := pc.conn.Ping(ctx); err != nil {
				m.logger.Debugf("sweep closed dead connection for instance %d: %v", id, err)
				pc.conn.Close()
				idleConnGauge.WithLabelValues(string(pc.conn.Dialect())).Dec()
				continue
			}
			alive = append(alive, pc)
		}
		p.idle = alive
		p.mu.Unlock()
	}
}

// freeSlot is non-blocking so releasing a connection that never held a slot
// (post-shutdown, foreign) cannot underflow the semaphore.
func (p *instancePool) freeSlot() {
	select {
	case <-p.slots:
	default:
	}
}

func (p *instancePool) take() *pooledConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) == 0 {
		return nil
	}
	pc := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	idleConnGauge.WithLabelValues(string(pc.conn.Dialect())).Dec()
	return pc
}

func (p *instancePool) put(conn adapter.Connection, max int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) >= max {
		return false
	}
	p.idle = append(p.idle, &pooledConn{conn: conn, lastUsed: time.Now()})
	idleConnGauge.WithLabelValues(string(conn.Dialect())).Inc()
	return true
}
