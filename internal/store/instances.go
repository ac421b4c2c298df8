package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/whalefall/accountsync/internal/database/common"
)

const instanceColumns = `id, name, dialect, host, port, database_name, environment,
	credential_id, database_version, is_active, is_deleted, deleted_at,
	last_connected, created_at, updated_at`

func scanInstance(row interface{ Scan(...any) error }) (*Instance, error) {
	var (
		inst    Instance
		dialect string
	)
	err := row.Scan(&inst.ID, &inst.Name, &dialect, &inst.Host, &inst.Port,
		&inst.DatabaseName, &inst.Environment, &inst.CredentialID,
		&inst.DatabaseVersion, &inst.IsActive, &inst.IsDeleted, &inst.DeletedAt,
		&inst.LastConnected, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inst.Dialect = common.Dialect(dialect)
	return &inst, nil
}

// CreateInstance registers a target database.
func (s *Store) CreateInstance(ctx context.Context, inst *Instance) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO instances (name, dialect, host, port, database_name, environment, credential_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		inst.Name, string(inst.Dialect), inst.Host, inst.Port,
		inst.DatabaseName, inst.Environment, inst.CredentialID,
	).Scan(&inst.ID, &inst.CreatedAt, &inst.UpdatedAt)
	return classifyStoreErr("create_instance", err)
}

// GetInstance fetches one instance by id.
func (s *Store) GetInstance(ctx context.Context, id int64) (*Instance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = $1`, id)
	inst, err := scanInstance(row)
	if err != nil {
		return nil, notFoundOr("get_instance", err)
	}
	return inst, nil
}

// ListActiveInstances returns non-deleted active instances, optionally
// filtered by dialect.
func (s *Store) ListActiveInstances(ctx context.Context, dialect common.Dialect) ([]*Instance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM instances
		WHERE is_active AND NOT is_deleted`
	args := []any{}
	if dialect != "" {
		query += ` AND dialect = $1`
		args = append(args, string(dialect))
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyStoreErr("list_instances", err)
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, classifyStoreErr("list_instances", err)
		}
		out = append(out, inst)
	}
	return out, classifyStoreErr("list_instances", rows.Err())
}

// UpdateInstanceVersion stores the server version banner. Callers short-
// circuit when the version has not changed.
func (s *Store) UpdateInstanceVersion(ctx context.Context, id int64, version string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE instances SET database_version = $2, updated_at = now() WHERE id = $1`,
		id, version)
	return classifyStoreErr("update_instance_version", err)
}

// TouchInstanceConnected records a successful connection.
func (s *Store) TouchInstanceConnected(ctx context.Context, id int64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE instances SET last_connected = $2, updated_at = now() WHERE id = $1`,
		id, at)
	return classifyStoreErr("touch_instance_connected", err)
}

// SoftDeleteInstance marks an instance deleted and cascades the soft delete
// to its accounts. Synced rows and change history stay in place.
func (s *Store) SoftDeleteInstance(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE instances
			SET is_deleted = TRUE, is_active = FALSE, deleted_at = now(), updated_at = now()
			WHERE id = $1`, id)
		if err != nil {
			return classifyStoreErr("soft_delete_instance", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE accounts
			SET is_deleted = TRUE, deleted_at = now(), updated_at = now()
			WHERE instance_id = $1 AND NOT is_deleted`, id)
		return classifyStoreErr("soft_delete_instance_accounts", err)
	})
}

// CreateCredential stores an encrypted credential.
func (s *Store) CreateCredential(ctx context.Context, c *Credential) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO credentials (name, credential_type, dialect, username, password_cipher)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		c.Name, c.CredentialType, c.Dialect, c.Username, c.PasswordCipher,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return classifyStoreErr("create_credential", err)
}

// ErrCredentialInUse is returned when deleting a credential still referenced
// by a live instance.
var ErrCredentialInUse = errors.New("credential is referenced by an instance")

// DeleteCredential removes a credential. Refused while any non-deleted
// instance still references it.
func (s *Store) DeleteCredential(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var refs int
		err := tx.QueryRow(ctx, `
			SELECT count(*) FROM instances
			WHERE credential_id = $1 AND NOT is_deleted`, id).Scan(&refs)
		if err != nil {
			return classifyStoreErr("delete_credential", err)
		}
		if refs > 0 {
			return ErrCredentialInUse
		}
		tag, err := tx.Exec(ctx, `DELETE FROM credentials WHERE id = $1`, id)
		if err != nil {
			return classifyStoreErr("delete_credential", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetCredential fetches one credential by id.
func (s *Store) GetCredential(ctx context.Context, id int64) (*Credential, error) {
	var c Credential
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, credential_type, COALESCE(dialect, ''), username,
			password_cipher, is_active, created_at, updated_at
		FROM credentials WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.CredentialType, &c.Dialect, &c.Username,
		&c.PasswordCipher, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFoundOr("get_credential", err)
	}
	return &c, nil
}
