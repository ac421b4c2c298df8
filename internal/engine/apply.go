package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/store"
	"github.com/whalefall/accountsync/pkg/logger"
)

// Applier writes a computed diff into the canonical store, one transaction
// per instance. Either every row and change-log entry of an attempt lands,
// or none do.
type Applier struct {
	store  *store.Store
	logger *logger.Logger
}

// NewApplier creates an applier.
func NewApplier(st *store.Store, log *logger.Logger) *Applier {
	return &Applier{store: st, logger: log.Named("applier")}
}

// changeSnapshot is the before/after image stored with each change-log row.
type changeSnapshot struct {
	Before *common.AccountRecord `json:"before,omitempty"`
	After  *common.AccountRecord `json:"after,omitempty"`
}

func snapshotJSON(before, after *common.AccountRecord) (json.RawMessage, error) {
	data, err := json.Marshal(changeSnapshot{Before: before, After: after})
	if err != nil {
		return nil, fmt.Errorf("encode change snapshot: %w", err)
	}
	return data, nil
}

// Apply executes the diff. Slices inside the diff are already sorted by key,
// so writes within the transaction are deterministically ordered.
func (a *Applier) Apply(ctx context.Context, instanceID, recordID int64, diff DiffResult) (store.SyncCounters, error) {
	now := time.Now().UTC()

	err := a.store.WithTx(ctx, func(tx pgx.Tx) error {
		for _, rec := range diff.Added {
			if _, err := a.store.InsertAccountTx(ctx, tx, instanceID, rec, now); err != nil {
				return err
			}
			data, err := snapshotJSON(nil, &rec)
			if err != nil {
				return err
			}
			if err := a.appendLog(ctx, tx, instanceID, recordID, rec.Username, rec.Host, store.ChangeAdded, data, now); err != nil {
				return err
			}
		}

		for _, m := range diff.Modified {
			if err := a.store.OverwriteAccountTx(ctx, tx, m.Current.ID, m.New, now); err != nil {
				return err
			}
			before := m.Current.Record()
			data, err := snapshotJSON(&before, &m.New)
			if err != nil {
				return err
			}
			if err := a.appendLog(ctx, tx, instanceID, recordID, m.New.Username, m.New.Host, store.ChangeModified, data, now); err != nil {
				return err
			}
		}

		for _, acct := range diff.Removed {
			if err := a.store.SoftDeleteAccountTx(ctx, tx, acct.ID, now); err != nil {
				return err
			}
			before := acct.Record()
			data, err := snapshotJSON(&before, nil)
			if err != nil {
				return err
			}
			if err := a.appendLog(ctx, tx, instanceID, recordID, acct.Username, acct.Host, store.ChangeRemoved, data, now); err != nil {
				return err
			}
		}

		unchangedIDs := make([]int64, len(diff.Unchanged))
		for i, acct := range diff.Unchanged {
			unchangedIDs[i] = acct.ID
		}
		return a.store.TouchAccountsSyncedTx(ctx, tx, unchangedIDs, now)
	})
	if err != nil {
		return store.SyncCounters{}, err
	}

	counters := diff.Counters()
	if counters.Synced > 0 {
		a.logger.Infof("instance %d applied: %d added, %d modified, %d removed",
			instanceID, counters.Added, counters.Modified, counters.Removed)
	}
	return counters, nil
}

func (a *Applier) appendLog(ctx context.Context, tx pgx.Tx, instanceID, recordID int64, username, host, changeType string, data json.RawMessage, at time.Time) error {
	return a.store.AppendChangeLogTx(ctx, tx, store.ChangeLogEntry{
		SyncInstanceRecordID: recordID,
		InstanceID:           instanceID,
		Username:             username,
		Host:                 host,
		ChangeType:           changeType,
		AccountData:          data,
		ChangeTime:           at,
	})
}
