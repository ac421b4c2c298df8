package store

import (
	"context"
	"time"
)

// CreateSession opens a running sync session.
func (s *Store) CreateSession(ctx context.Context, sess *SyncSession) error {
	if sess.SyncCategory == "" {
		sess.SyncCategory = "account"
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sync_sessions (session_id, sync_type, sync_category, task_id, status, total_instances, start_time)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id, start_time`,
		sess.SessionID, sess.SyncType, sess.SyncCategory, sess.TaskID,
		SessionRunning, sess.TotalInstances,
	).Scan(&sess.ID, &sess.StartTime)
	sess.Status = SessionRunning
	return classifyStoreErr("create_session", err)
}

// GetSession fetches one session by its correlation id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*SyncSession, error) {
	var sess SyncSession
	err := s.pool.QueryRow(ctx, `
		SELECT id, session_id, sync_type, sync_category, task_id, status,
			total_instances, success_count, failed_count, start_time, end_time
		FROM sync_sessions WHERE session_id = $1`, sessionID,
	).Scan(&sess.ID, &sess.SessionID, &sess.SyncType, &sess.SyncCategory,
		&sess.TaskID, &sess.Status, &sess.TotalInstances, &sess.SuccessCount,
		&sess.FailedCount, &sess.StartTime, &sess.EndTime)
	if err != nil {
		return nil, notFoundOr("get_session", err)
	}
	return &sess, nil
}

// HasRunningSessionForTask reports whether a session tagged with the task id
// is still open. The scheduler's single-flight guard keys off this.
func (s *Store) HasRunningSessionForTask(ctx context.Context, taskID int64) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM sync_sessions
		WHERE task_id = $1 AND status = $2`,
		taskID, SessionRunning,
	).Scan(&count)
	if err != nil {
		return false, classifyStoreErr("has_running_session", err)
	}
	return count > 0, nil
}

// CreateInstanceRecords inserts one pending record per instance and returns
// them in instance order.
func (s *Store) CreateInstanceRecords(ctx context.Context, sessionID string, instanceIDs []int64) ([]*SyncInstanceRecord, error) {
	records := make([]*SyncInstanceRecord, 0, len(instanceIDs))
	for _, instanceID := range instanceIDs {
		rec := &SyncInstanceRecord{
			SessionID:  sessionID,
			InstanceID: instanceID,
			Status:     RecordPending,
		}
		err := s.pool.QueryRow(ctx, `
			INSERT INTO sync_instance_records (session_id, instance_id, status)
			VALUES ($1, $2, $3)
			RETURNING id`,
			sessionID, instanceID, RecordPending,
		).Scan(&rec.ID)
		if err != nil {
			return nil, classifyStoreErr("create_instance_records", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// MarkRecordRunning transitions pending → running. Returns false when the
// record was already claimed or terminal.
func (s *Store) MarkRecordRunning(ctx context.Context, recordID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_instance_records
		SET status = $2, start_time = now()
		WHERE id = $1 AND status = $3`,
		recordID, RecordRunning, RecordPending)
	if err != nil {
		return false, classifyStoreErr("mark_record_running", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SyncCounters are the per-instance apply results.
type SyncCounters struct {
	Synced   int
	Added    int
	Modified int
	Removed  int
}

// CompleteRecord transitions a record to completed with its counters.
func (s *Store) CompleteRecord(ctx context.Context, recordID int64, c SyncCounters) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_instance_records
		SET status = $2, synced_count = $3, added_count = $4,
			modified_count = $5, removed_count = $6, end_time = now()
		WHERE id = $1`,
		recordID, RecordCompleted, c.Synced, c.Added, c.Modified, c.Removed)
	return classifyStoreErr("complete_record", err)
}

// FailRecord transitions a record to failed with the taxonomy kind and the
// preserved error text.
func (s *Store) FailRecord(ctx context.Context, recordID int64, kind, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_instance_records
		SET status = $2, error_kind = $3, error_message = $4, end_time = now()
		WHERE id = $1`,
		recordID, RecordFailed, kind, message)
	return classifyStoreErr("fail_record", err)
}

// FailPendingRecords marks every still-pending record of a session failed.
// Used on cancellation; in-flight records finish on their own.
func (s *Store) FailPendingRecords(ctx context.Context, sessionID, kind, message string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_instance_records
		SET status = $2, error_kind = $3, error_message = $4, end_time = now()
		WHERE session_id = $1 AND status = $5`,
		sessionID, RecordFailed, kind, message, RecordPending)
	if err != nil {
		return 0, classifyStoreErr("fail_pending_records", err)
	}
	return tag.RowsAffected(), nil
}

// ListInstanceRecords returns a session's per-instance breakdown.
func (s *Store) ListInstanceRecords(ctx context.Context, sessionID string) ([]*SyncInstanceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, instance_id, status, synced_count, added_count,
			modified_count, removed_count, error_kind, error_message, details,
			start_time, end_time
		FROM sync_instance_records
		WHERE session_id = $1
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, classifyStoreErr("list_instance_records", err)
	}
	defer rows.Close()

	var out []*SyncInstanceRecord
	for rows.Next() {
		var (
			rec     SyncInstanceRecord
			details []byte
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.InstanceID, &rec.Status,
			&rec.SyncedCount, &rec.AddedCount, &rec.ModifiedCount, &rec.RemovedCount,
			&rec.ErrorKind, &rec.ErrorMessage, &details,
			&rec.StartTime, &rec.EndTime); err != nil {
			return nil, classifyStoreErr("list_instance_records", err)
		}
		rec.Details = details
		out = append(out, &rec)
	}
	return out, classifyStoreErr("list_instance_records", rows.Err())
}

// FinalizeSession computes aggregate counters from the per-instance records
// and moves the session to its terminal status. The status update is a CAS
// from running so concurrent finalizers cannot double-close.
func (s *Store) FinalizeSession(ctx context.Context, sessionID string) (*SyncSession, error) {
	var success, failed int
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = $2),
			count(*) FILTER (WHERE status = $3)
		FROM sync_instance_records
		WHERE session_id = $1`,
		sessionID, RecordCompleted, RecordFailed,
	).Scan(&success, &failed)
	if err != nil {
		return nil, classifyStoreErr("finalize_session", err)
	}

	status := SessionCompleted
	switch {
	case success == 0 && failed > 0:
		status = SessionFailed
	case failed > 0:
		status = SessionPartial
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE sync_sessions
		SET status = $2, success_count = $3, failed_count = $4, end_time = now()
		WHERE session_id = $1 AND status = $5`,
		sessionID, status, success, failed, SessionRunning)
	if err != nil {
		return nil, classifyStoreErr("finalize_session", err)
	}

	return s.GetSession(ctx, sessionID)
}

// SessionDuration is a small helper for reporting.
func SessionDuration(sess *SyncSession) time.Duration {
	if sess.EndTime == nil {
		return time.Since(sess.StartTime)
	}
	return sess.EndTime.Sub(sess.StartTime)
}
