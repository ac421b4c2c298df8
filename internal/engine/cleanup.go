package engine

import (
	"context"
	"time"

	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/store"
)

// CleanupResult reports an orphan-cleanup pass.
type CleanupResult struct {
	InstancesChecked int
	OrphansDeleted   int
	Errors           []string
}

// CleanupOrphans hard-deletes local accounts whose keys no longer exist
// server-side. Unlike the soft-delete of a normal sync this is destructive,
// so it runs only on explicit request. A nil instanceID checks every active
// instance.
func (c *Coordinator) CleanupOrphans(ctx context.Context, instanceID *int64) (*CleanupResult, error) {
	var instances []*store.Instance
	if instanceID != nil {
		inst, err := c.store.GetInstance(ctx, *instanceID)
		if err != nil {
			return nil, err
		}
		instances = []*store.Instance{inst}
	} else {
		var err error
		instances, err = c.store.ListActiveInstances(ctx, "")
		if err != nil {
			return nil, err
		}
	}

	result := &CleanupResult{}
	for _, inst := range instances {
		result.InstancesChecked++
		deleted, err := c.cleanupInstance(ctx, inst)
		if err != nil {
			result.Errors = append(result.Errors, inst.Name+": "+err.Error())
			continue
		}
		result.OrphansDeleted += deleted
	}
	return result, nil
}

func (c *Coordinator) cleanupInstance(ctx context.Context, inst *store.Instance) (int, error) {
	conn, err := c.pool.Get(ctx, inst.ID)
	if err != nil {
		return 0, err
	}

	extractCtx, cancel := context.WithTimeout(ctx, c.queryTO)
	records, err := conn.ExtractAccounts(extractCtx)
	cancel()
	if err != nil {
		c.pool.Discard(conn)
		return 0, err
	}
	c.pool.Release(inst.ID, conn)

	serverKeys := make(map[common.AccountKey]bool, len(records))
	for i := range records {
		serverKeys[records[i].Key()] = true
	}

	canonical, err := c.store.ListAccounts(ctx, inst.ID)
	if err != nil {
		return 0, err
	}

	var orphanIDs []int64
	for _, acct := range canonical {
		if !serverKeys[acct.Key()] {
			orphanIDs = append(orphanIDs, acct.ID)
		}
	}
	if len(orphanIDs) == 0 {
		return 0, nil
	}

	if err := c.store.HardDeleteAccounts(ctx, orphanIDs); err != nil {
		return 0, err
	}
	c.logger.Infof("instance %s: %d orphaned accounts removed", inst.Name, len(orphanIDs))
	return len(orphanIDs), nil
}

// PurgeChangeLog deletes audit rows older than the retention window.
func (c *Coordinator) PurgeChangeLog(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	n, err := c.store.PurgeChangeLog(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.Infof("change log purge removed %d rows older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// TestConnection opens a bounded probe connection via the credential path
// and reports latency and server version. The probe never enters the pool.
func (c *Coordinator) TestConnection(ctx context.Context, instanceID int64) (common.ConnectResult, error) {
	return c.pool.TestConnect(ctx, instanceID)
}
