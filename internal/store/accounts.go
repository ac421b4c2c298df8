package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/whalefall/accountsync/internal/database/common"
)

const accountColumns = `id, instance_id, username, host, is_superuser, is_locked,
	password_expired, plugin, password_last_changed, privileges, is_deleted,
	deleted_at, last_sync_time, last_change_time, last_classified_at,
	last_classification_batch_id, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var (
		a     Account
		privs []byte
	)
	err := row.Scan(&a.ID, &a.InstanceID, &a.Username, &a.Host, &a.IsSuperuser,
		&a.IsLocked, &a.PasswordExpired, &a.Plugin, &a.PasswordLastChanged,
		&privs, &a.IsDeleted, &a.DeletedAt, &a.LastSyncTime, &a.LastChangeTime,
		&a.LastClassifiedAt, &a.LastClassificationBatchID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(privs) > 0 && string(privs) != "{}" {
		if err := json.Unmarshal(privs, &a.Privileges); err != nil {
			return nil, fmt.Errorf("decode privileges for account %d: %w", a.ID, err)
		}
	}
	return &a, nil
}

// ListAccounts returns every canonical row for an instance, soft-deleted rows
// included. The diff engine needs deleted rows to implement undelete.
func (s *Store) ListAccounts(ctx context.Context, instanceID int64) ([]*Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE instance_id = $1
		ORDER BY username, host`, instanceID)
	if err != nil {
		return nil, classifyStoreErr("list_accounts", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, classifyStoreErr("list_accounts", err)
		}
		out = append(out, a)
	}
	return out, classifyStoreErr("list_accounts", rows.Err())
}

// ListActiveAccounts returns non-deleted rows, optionally filtered to one
// instance. Used by the classification engine.
func (s *Store) ListActiveAccounts(ctx context.Context, instanceID *int64) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE NOT is_deleted`
	args := []any{}
	if instanceID != nil {
		query += ` AND instance_id = $1`
		args = append(args, *instanceID)
	}
	query += ` ORDER BY instance_id, username, host`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyStoreErr("list_active_accounts", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, classifyStoreErr("list_active_accounts", err)
		}
		out = append(out, a)
	}
	return out, classifyStoreErr("list_active_accounts", rows.Err())
}

func marshalPrivileges(p common.PrivilegeSet) ([]byte, error) {
	if p.Type == "" {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// InsertAccountTx inserts a new canonical row inside an apply transaction.
func (s *Store) InsertAccountTx(ctx context.Context, tx pgx.Tx, instanceID int64, rec common.AccountRecord, now time.Time) (int64, error) {
	privs, err := marshalPrivileges(rec.Privileges)
	if err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (instance_id, username, host, is_superuser, is_locked,
			password_expired, plugin, password_last_changed, privileges,
			last_sync_time, last_change_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id`,
		instanceID, rec.Username, rec.Host, rec.IsSuperuser, rec.IsLocked,
		rec.PasswordExpired, rec.Plugin, rec.PasswordLastChanged, privs, now,
	).Scan(&id)
	return id, classifyStoreErr("insert_account", err)
}

// OverwriteAccountTx rewrites a canonical row with freshly extracted fields,
// clearing any soft-delete marker. Used for both modified rows and the
// undelete-on-reappearance path.
func (s *Store) OverwriteAccountTx(ctx context.Context, tx pgx.Tx, accountID int64, rec common.AccountRecord, now time.Time) error {
	privs, err := marshalPrivileges(rec.Privileges)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE accounts
		SET is_superuser = $2, is_locked = $3, password_expired = $4, plugin = $5,
			password_last_changed = $6, privileges = $7,
			is_deleted = FALSE, deleted_at = NULL,
			last_sync_time = $8, last_change_time = $8, updated_at = now()
		WHERE id = $1`,
		accountID, rec.IsSuperuser, rec.IsLocked, rec.PasswordExpired,
		rec.Plugin, rec.PasswordLastChanged, privs, now)
	return classifyStoreErr("overwrite_account", err)
}

// SoftDeleteAccountTx marks a canonical row removed.
func (s *Store) SoftDeleteAccountTx(ctx context.Context, tx pgx.Tx, accountID int64, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts
		SET is_deleted = TRUE, deleted_at = $2,
			last_sync_time = $2, last_change_time = $2, updated_at = now()
		WHERE id = $1`,
		accountID, now)
	return classifyStoreErr("soft_delete_account", err)
}

// TouchAccountsSyncedTx bulk-updates last_sync_time for unchanged rows.
func (s *Store) TouchAccountsSyncedTx(ctx context.Context, tx pgx.Tx, accountIDs []int64, now time.Time) error {
	if len(accountIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx,
		`UPDATE accounts SET last_sync_time = $2 WHERE id = ANY($1)`,
		accountIDs, now)
	return classifyStoreErr("touch_accounts_synced", err)
}

// AppendChangeLogTx records one account delta inside the apply transaction.
func (s *Store) AppendChangeLogTx(ctx context.Context, tx pgx.Tx, entry ChangeLogEntry) error {
	data := entry.AccountData
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO account_change_log
			(sync_instance_record_id, instance_id, username, host, change_type, account_data, change_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.SyncInstanceRecordID, entry.InstanceID, entry.Username, entry.Host,
		entry.ChangeType, []byte(data), entry.ChangeTime)
	return classifyStoreErr("append_change_log", err)
}

// ListChangeLog returns the deltas of one sync attempt, oldest first.
func (s *Store) ListChangeLog(ctx context.Context, recordID int64) ([]*ChangeLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sync_instance_record_id, instance_id, username, host,
			change_type, account_data, change_time
		FROM account_change_log
		WHERE sync_instance_record_id = $1
		ORDER BY change_time, id`, recordID)
	if err != nil {
		return nil, classifyStoreErr("list_change_log", err)
	}
	defer rows.Close()

	var out []*ChangeLogEntry
	for rows.Next() {
		var (
			e    ChangeLogEntry
			data []byte
		)
		if err := rows.Scan(&e.ID, &e.SyncInstanceRecordID, &e.InstanceID,
			&e.Username, &e.Host, &e.ChangeType, &data, &e.ChangeTime); err != nil {
			return nil, classifyStoreErr("list_change_log", err)
		}
		e.AccountData = json.RawMessage(data)
		out = append(out, &e)
	}
	return out, classifyStoreErr("list_change_log", rows.Err())
}

// HardDeleteAccounts removes canonical rows outright, assignments first.
// Used only by orphan cleanup.
func (s *Store) HardDeleteAccounts(ctx context.Context, accountIDs []int64) error {
	if len(accountIDs) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM classification_assignments WHERE account_id = ANY($1)`,
			accountIDs); err != nil {
			return classifyStoreErr("hard_delete_accounts", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM accounts WHERE id = ANY($1)`, accountIDs); err != nil {
			return classifyStoreErr("hard_delete_accounts", err)
		}
		return nil
	})
}

// PurgeChangeLog deletes change-log rows older than the cutoff and returns
// how many were removed.
func (s *Store) PurgeChangeLog(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM account_change_log WHERE change_time < $1`, cutoff)
	if err != nil {
		return 0, classifyStoreErr("purge_change_log", err)
	}
	return tag.RowsAffected(), nil
}
