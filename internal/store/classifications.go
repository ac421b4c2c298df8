package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/whalefall/accountsync/internal/database/common"
)

// ListClassifications returns all tiers ordered by priority, highest first.
func (s *Store) ListClassifications(ctx context.Context) ([]*Classification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, risk_level, priority, color, is_system, is_active, created_at, updated_at
		FROM account_classifications
		ORDER BY priority DESC, name`)
	if err != nil {
		return nil, classifyStoreErr("list_classifications", err)
	}
	defer rows.Close()

	var out []*Classification
	for rows.Next() {
		var c Classification
		if err := rows.Scan(&c.ID, &c.Name, &c.RiskLevel, &c.Priority, &c.Color,
			&c.IsSystem, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, classifyStoreErr("list_classifications", err)
		}
		out = append(out, &c)
	}
	return out, classifyStoreErr("list_classifications", rows.Err())
}

// GetClassificationByName looks up one tier.
func (s *Store) GetClassificationByName(ctx context.Context, name string) (*Classification, error) {
	var c Classification
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, risk_level, priority, color, is_system, is_active, created_at, updated_at
		FROM account_classifications WHERE name = $1`, name,
	).Scan(&c.ID, &c.Name, &c.RiskLevel, &c.Priority, &c.Color,
		&c.IsSystem, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFoundOr("get_classification", err)
	}
	return &c, nil
}

// CreateClassification adds a user-defined tier.
func (s *Store) CreateClassification(ctx context.Context, c *Classification) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO account_classifications (name, risk_level, priority, color, is_system)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING id, created_at, updated_at`,
		c.Name, c.RiskLevel, c.Priority, c.Color,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return classifyStoreErr("create_classification", err)
}

// DeleteClassification removes a user-defined tier. System tiers are
// protected. Rules bound to the tier are removed; assignments stay as
// deactivated history.
func (s *Store) DeleteClassification(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM account_classifications WHERE id = $1 AND NOT is_system`, id)
		if err != nil {
			return classifyStoreErr("delete_classification", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("classification %d: %w or is a protected system tier", id, ErrNotFound)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM classification_rules WHERE classification_id = $1`, id); err != nil {
			return classifyStoreErr("delete_classification", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE classification_assignments
			SET is_active = FALSE, updated_at = now()
			WHERE classification_id = $1 AND is_active`, id)
		return classifyStoreErr("delete_classification", err)
	})
}

// CreateRule binds a rule expression to a classification.
func (s *Store) CreateRule(ctx context.Context, r *ClassificationRule) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO classification_rules (classification_id, name, dialect, rule_expression, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		r.ClassificationID, r.Name, string(r.Dialect), []byte(r.RuleExpression), r.IsActive,
	).Scan(&r.ID)
	return classifyStoreErr("create_rule", err)
}

// ListActiveRules returns active rules for one dialect.
func (s *Store) ListActiveRules(ctx context.Context, dialect common.Dialect) ([]*ClassificationRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, classification_id, name, dialect, rule_expression, is_active
		FROM classification_rules
		WHERE dialect = $1 AND is_active
		ORDER BY id`, string(dialect))
	if err != nil {
		return nil, classifyStoreErr("list_rules", err)
	}
	defer rows.Close()

	var out []*ClassificationRule
	for rows.Next() {
		var (
			r       ClassificationRule
			dialect string
			expr    []byte
		)
		if err := rows.Scan(&r.ID, &r.ClassificationID, &r.Name, &dialect, &expr, &r.IsActive); err != nil {
			return nil, classifyStoreErr("list_rules", err)
		}
		r.Dialect = common.Dialect(dialect)
		r.RuleExpression = json.RawMessage(expr)
		out = append(out, &r)
	}
	return out, classifyStoreErr("list_rules", rows.Err())
}

// DeactivateRule turns a rule off without deleting it. Used when a stored
// expression turns out to be unparseable.
func (s *Store) DeactivateRule(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE classification_rules SET is_active = FALSE, updated_at = now() WHERE id = $1`, id)
	return classifyStoreErr("deactivate_rule", err)
}

// ListActiveAssignments returns the active assignments of one account.
func (s *Store) ListActiveAssignments(ctx context.Context, accountID int64) ([]*ClassificationAssignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, classification_id, assignment_type, confidence,
			assigned_by, note, batch_id, is_active, created_at, updated_at
		FROM classification_assignments
		WHERE account_id = $1 AND is_active
		ORDER BY classification_id`, accountID)
	if err != nil {
		return nil, classifyStoreErr("list_assignments", err)
	}
	defer rows.Close()

	var out []*ClassificationAssignment
	for rows.Next() {
		var a ClassificationAssignment
		if err := rows.Scan(&a.ID, &a.AccountID, &a.ClassificationID,
			&a.AssignmentType, &a.Confidence, &a.AssignedBy, &a.Note,
			&a.BatchID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, classifyStoreErr("list_assignments", err)
		}
		out = append(out, &a)
	}
	return out, classifyStoreErr("list_assignments", rows.Err())
}

// UpsertAutoAssignment writes one auto assignment and reports whether the
// account's assignment set actually changed. A pre-existing active auto
// assignment only has its batch_id refreshed; that is not a change.
func (s *Store) UpsertAutoAssignment(ctx context.Context, accountID, classificationID, batchID int64) (changed bool, err error) {
	var (
		prevActive bool
		prevType   string
	)
	err = s.pool.QueryRow(ctx, `
		SELECT is_active, assignment_type
		FROM classification_assignments
		WHERE account_id = $1 AND classification_id = $2`,
		accountID, classificationID,
	).Scan(&prevActive, &prevType)
	existed := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, classifyStoreErr("upsert_assignment", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO classification_assignments
			(account_id, classification_id, assignment_type, confidence, batch_id, is_active)
		VALUES ($1, $2, $3, 1.0, $4, TRUE)
		ON CONFLICT (account_id, classification_id) DO UPDATE
		SET assignment_type = $3, confidence = 1.0, batch_id = $4,
			is_active = TRUE, updated_at = now()`,
		accountID, classificationID, AssignmentAuto, batchID)
	if err != nil {
		return false, classifyStoreErr("upsert_assignment", err)
	}

	return autoAssignmentChanged(existed, prevActive, prevType), nil
}

// autoAssignmentChanged decides whether upserting an auto assignment over the
// previous row state changed the account's assignment set. A pre-existing
// active auto row only gets its batch_id refreshed, which is not a change.
func autoAssignmentChanged(existed, prevActive bool, prevType string) bool {
	return !existed || !prevActive || prevType != AssignmentAuto
}

// DeactivateAutoAssignments retires active auto assignments of an account
// that are not in the keep set. Returns how many were retired.
func (s *Store) DeactivateAutoAssignments(ctx context.Context, accountID int64, keepClassificationIDs []int64) (int64, error) {
	keep := keepClassificationIDs
	if keep == nil {
		keep = []int64{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE classification_assignments
		SET is_active = FALSE, updated_at = now()
		WHERE account_id = $1 AND assignment_type = $2 AND is_active
		  AND classification_id <> ALL($3)`,
		accountID, AssignmentAuto, keep)
	if err != nil {
		return 0, classifyStoreErr("deactivate_assignments", err)
	}
	return tag.RowsAffected(), nil
}

// ManualAssign writes a manual assignment, replacing any previous row for
// the pair.
func (s *Store) ManualAssign(ctx context.Context, accountID, classificationID int64, assignedBy, note string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO classification_assignments
			(account_id, classification_id, assignment_type, confidence, assigned_by, note, is_active)
		VALUES ($1, $2, $3, 1.0, $4, $5, TRUE)
		ON CONFLICT (account_id, classification_id) DO UPDATE
		SET assignment_type = $3, assigned_by = $4, note = $5,
			is_active = TRUE, updated_at = now()`,
		accountID, classificationID, AssignmentManual, assignedBy, note)
	return classifyStoreErr("manual_assign", err)
}

// TouchAccountClassified stamps an account whose assignment set changed.
func (s *Store) TouchAccountClassified(ctx context.Context, accountID, batchID int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET last_classified_at = $2, last_classification_batch_id = $3, updated_at = now()
		WHERE id = $1`,
		accountID, at, batchID)
	return classifyStoreErr("touch_account_classified", err)
}

// CreateBatch opens a running classification batch.
func (s *Store) CreateBatch(ctx context.Context, b *ClassificationBatch) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO classification_batches (status, instance_id, start_time)
		VALUES ('running', $1, now())
		RETURNING id, start_time`,
		b.InstanceID,
	).Scan(&b.ID, &b.StartTime)
	b.Status = "running"
	return classifyStoreErr("create_batch", err)
}

// CloseBatch finishes a batch with its counters.
func (s *Store) CloseBatch(ctx context.Context, b *ClassificationBatch, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE classification_batches
		SET status = $2, total_accounts = $3, matched_accounts = $4,
			total_matches = $5, end_time = now()
		WHERE id = $1`,
		b.ID, status, b.TotalAccounts, b.MatchedAccounts, b.TotalMatches)
	b.Status = status
	return classifyStoreErr("close_batch", err)
}
