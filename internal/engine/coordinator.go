package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/whalefall/accountsync/internal/database/adapter"
	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/pool"
	"github.com/whalefall/accountsync/internal/store"
	"github.com/whalefall/accountsync/pkg/config"
	"github.com/whalefall/accountsync/pkg/logger"
)

// DefaultMaxParallel bounds concurrent per-instance workers in a batch.
const DefaultMaxParallel = 8

// Coordinator is the unified sync entry point.
type Coordinator struct {
	store       *store.Store
	pool        *pool.Manager
	extractor   *Extractor
	applier     *Applier
	maxParallel int
	queryTO     time.Duration
	applyTO     time.Duration
	logger      *logger.Logger
}

// NewCoordinator wires the sync pipeline.
func NewCoordinator(st *store.Store, pm *pool.Manager, cfg *config.Config, log *logger.Logger) *Coordinator {
	return &Coordinator{
		store:       st,
		pool:        pm,
		extractor:   NewExtractor(st, log),
		applier:     NewApplier(st, log),
		maxParallel: cfg.GetInt("sync.max_parallel", DefaultMaxParallel),
		queryTO:     cfg.GetDuration("sync.query_timeout", 60*time.Second),
		applyTO:     cfg.GetDuration("sync.apply_timeout", 120*time.Second),
		logger:      log.Named("coordinator"),
	}
}

// SyncResult is the outcome of a single-instance sync.
type SyncResult struct {
	Success   bool
	ErrorKind string
	Detail    string
	Counters  store.SyncCounters
	Duration  time.Duration
}

// SyncSingle runs one instance end to end without opening a session row.
// The change log still needs a record to hang off, so an ephemeral record
// with a synthetic session id is created.
func (c *Coordinator) SyncSingle(ctx context.Context, instanceID int64) (*SyncResult, error) {
	start := time.Now()

	inst, err := c.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	records, err := c.store.CreateInstanceRecords(ctx, "single-"+uuid.NewString(), []int64{instanceID})
	if err != nil {
		return nil, err
	}
	record := records[0]
	if _, err := c.store.MarkRecordRunning(ctx, record.ID); err != nil {
		return nil, err
	}

	counters, syncErr := c.syncInstance(ctx, inst, record.ID)
	if syncErr != nil {
		kind := adapter.KindOf(syncErr)
		if err := c.store.FailRecord(ctx, record.ID, string(kind), syncErr.Error()); err != nil {
			c.logger.Errorf("fail record %d: %v", record.ID, err)
		}
		return &SyncResult{
			ErrorKind: string(kind),
			Detail:    syncErr.Error(),
			Duration:  time.Since(start),
		}, nil
	}

	if err := c.store.CompleteRecord(ctx, record.ID, counters); err != nil {
		return nil, err
	}
	return &SyncResult{
		Success:  true,
		Counters: counters,
		Duration: time.Since(start),
	}, nil
}

// SyncBatch opens a session over the given instances and runs them with
// bounded parallelism. It blocks until the session reaches a terminal state
// and returns the session id.
func (c *Coordinator) SyncBatch(ctx context.Context, instanceIDs []int64, syncType string, taskID *int64) (string, error) {
	if len(instanceIDs) == 0 {
		return "", fmt.Errorf("sync batch: no instances")
	}

	sess := &store.SyncSession{
		SessionID:      uuid.NewString(),
		SyncType:       syncType,
		TaskID:         taskID,
		TotalInstances: len(instanceIDs),
	}
	if err := c.store.CreateSession(ctx, sess); err != nil {
		return "", err
	}
	records, err := c.store.CreateInstanceRecords(ctx, sess.SessionID, instanceIDs)
	if err != nil {
		return "", err
	}

	c.logger.Infof("session %s opened: %s over %d instances",
		sess.SessionID, syncType, len(instanceIDs))

	// In-flight instances run to their natural end even when the batch is
	// cancelled; only not-yet-claimed records are failed as cancelled.
	workCtx := context.WithoutCancel(ctx)

	g := &errgroup.Group{}
	g.SetLimit(c.maxParallel)
	for _, record := range records {
		record := record
		g.Go(func() error {
			if ctx.Err() != nil {
				if err := c.store.FailRecord(workCtx, record.ID, string(adapter.KindCancelled), "session cancelled"); err != nil {
					c.logger.Errorf("cancel record %d: %v", record.ID, err)
				}
				return nil
			}
			c.runRecord(workCtx, record)
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		if n, err := c.store.FailPendingRecords(workCtx, sess.SessionID,
			string(adapter.KindCancelled), "session cancelled"); err == nil && n > 0 {
			c.logger.Warnf("session %s: %d pending instances cancelled", sess.SessionID, n)
		}
	}

	final, err := c.store.FinalizeSession(workCtx, sess.SessionID)
	if err != nil {
		return sess.SessionID, err
	}
	sessionTotal.WithLabelValues(final.SyncType, final.Status).Inc()
	c.logger.Infof("session %s %s: %d ok, %d failed",
		final.SessionID, final.Status, final.SuccessCount, final.FailedCount)
	return final.SessionID, nil
}

// SyncByDialect batches every active instance of one dialect.
func (c *Coordinator) SyncByDialect(ctx context.Context, dialect common.Dialect) (string, error) {
	instances, err := c.store.ListActiveInstances(ctx, dialect)
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		return "", fmt.Errorf("no active %s instances", dialect)
	}
	ids := make([]int64, len(instances))
	for i, inst := range instances {
		ids[i] = inst.ID
	}
	return c.SyncBatch(ctx, ids, store.SyncManualBatch, nil)
}

// runRecord executes one claimed record and drives it to a terminal state.
func (c *Coordinator) runRecord(ctx context.Context, record *store.SyncInstanceRecord) {
	claimed, err := c.store.MarkRecordRunning(ctx, record.ID)
	if err != nil || !claimed {
		if err != nil {
			c.logger.Errorf("claim record %d: %v", record.ID, err)
		}
		return
	}

	inst, err := c.store.GetInstance(ctx, record.InstanceID)
	if err != nil {
		c.failRecord(ctx, record.ID, err)
		return
	}

	counters, err := c.syncInstance(ctx, inst, record.ID)
	if err != nil {
		c.failRecord(ctx, record.ID, err)
		return
	}
	if err := c.store.CompleteRecord(ctx, record.ID, counters); err != nil {
		c.logger.Errorf("complete record %d: %v", record.ID, err)
	}
}

func (c *Coordinator) failRecord(ctx context.Context, recordID int64, cause error) {
	kind := adapter.KindOf(cause)
	if err := c.store.FailRecord(ctx, recordID, string(kind), cause.Error()); err != nil {
		c.logger.Errorf("fail record %d: %v", recordID, err)
	}
}

// syncInstance is the single-instance pipeline: connection, extraction,
// diff, transactional apply.
func (c *Coordinator) syncInstance(ctx context.Context, inst *store.Instance, recordID int64) (store.SyncCounters, error) {
	start := time.Now()
	dialect := string(inst.Dialect)

	result, err := c.extractWithRetry(ctx, inst)
	if err != nil {
		c.observeFailure(dialect, err)
		return store.SyncCounters{}, err
	}

	if err := c.store.TouchInstanceConnected(ctx, inst.ID, time.Now().UTC()); err != nil {
		c.logger.Warnf("touch instance %d: %v", inst.ID, err)
	}

	canonical, err := c.store.ListAccounts(ctx, inst.ID)
	if err != nil {
		c.observeFailure(dialect, err)
		return store.SyncCounters{}, err
	}

	diff := ComputeDiff(canonical, result.Records)

	var counters store.SyncCounters
	err = withRetry(ctx, func() error {
		applyCtx, cancel := context.WithTimeout(ctx, c.applyTO)
		defer cancel()
		var err error
		counters, err = c.applier.Apply(applyCtx, inst.ID, recordID, diff)
		return err
	})
	if err != nil {
		c.observeFailure(dialect, err)
		return store.SyncCounters{}, err
	}

	syncInstanceTotal.WithLabelValues(dialect, "success").Inc()
	syncDuration.WithLabelValues(dialect).Observe(time.Since(start).Seconds())
	accountChangeTotal.WithLabelValues(dialect, store.ChangeAdded).Add(float64(counters.Added))
	accountChangeTotal.WithLabelValues(dialect, store.ChangeModified).Add(float64(counters.Modified))
	accountChangeTotal.WithLabelValues(dialect, store.ChangeRemoved).Add(float64(counters.Removed))
	return counters, nil
}

// extractWithRetry runs acquire and extract inside one retry scope: a
// retryable extraction failure discards the suspect connection, so each
// attempt re-dials.
func (c *Coordinator) extractWithRetry(ctx context.Context, inst *store.Instance) (*common.ExtractionResult, error) {
	var result *common.ExtractionResult
	err := withRetry(ctx, func() error {
		conn, err := c.pool.Get(ctx, inst.ID)
		if err != nil {
			return err
		}
		extractCtx, cancelExtract := context.WithTimeout(ctx, c.queryTO)
		result, err = c.extractor.Extract(extractCtx, inst, conn)
		cancelExtract()
		if err != nil {
			c.pool.Discard(conn)
			return err
		}
		c.pool.Release(inst.ID, conn)
		return nil
	})
	return result, err
}

func (c *Coordinator) observeFailure(dialect string, err error) {
	syncInstanceTotal.WithLabelValues(dialect, "failure").Inc()
	syncErrorTotal.WithLabelValues(dialect, string(adapter.KindOf(err))).Inc()
}
