// Package credentials resolves instance credentials into plaintext secrets
// for the connection manager. Plaintext never leaves this boundary except as
// part of an in-memory connection config.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/whalefall/accountsync/internal/database/adapter"
	"github.com/whalefall/accountsync/internal/database/dbclient"
	"github.com/whalefall/accountsync/internal/store"
	"github.com/whalefall/accountsync/pkg/config"
	"github.com/whalefall/accountsync/pkg/encryption"
)

// Provider decrypts stored credentials on demand.
type Provider struct {
	store      *store.Store
	encryption *encryption.Manager
	cfg        *config.Config
}

// NewProvider creates a credential provider.
func NewProvider(st *store.Store, enc *encryption.Manager, cfg *config.Config) *Provider {
	return &Provider{store: st, encryption: enc, cfg: cfg}
}

// Resolve returns the username and plaintext password for an instance.
// Legacy hashed secrets surface as unresolvable_credential.
func (p *Provider) Resolve(ctx context.Context, instanceID int64) (username, password string, err error) {
	inst, err := p.store.GetInstance(ctx, instanceID)
	if err != nil {
		return "", "", fmt.Errorf("instance %d: %w", instanceID, err)
	}
	if inst.CredentialID == nil {
		return "", "", adapter.NewError(adapter.KindUnresolvableCredential, inst.Dialect, "resolve",
			fmt.Errorf("instance %q has no credential", inst.Name))
	}

	cred, err := p.store.GetCredential(ctx, *inst.CredentialID)
	if err != nil {
		return "", "", fmt.Errorf("credential %d: %w", *inst.CredentialID, err)
	}

	plaintext, err := p.encryption.DecryptPassword(cred.PasswordCipher)
	if err != nil {
		if errors.Is(err, encryption.ErrUnresolvableCredential) {
			return "", "", adapter.NewError(adapter.KindUnresolvableCredential, inst.Dialect, "resolve", err)
		}
		return "", "", fmt.Errorf("decrypt credential %q: %w", cred.Name, err)
	}

	return cred.Username, plaintext, nil
}

// InstanceConfig builds the full connection config for an instance, with the
// plaintext secret materialized. This is the pool.ConfigResolver used by the
// connection manager.
func (p *Provider) InstanceConfig(ctx context.Context, instanceID int64) (dbclient.InstanceConfig, error) {
	inst, err := p.store.GetInstance(ctx, instanceID)
	if err != nil {
		return dbclient.InstanceConfig{}, fmt.Errorf("instance %d: %w", instanceID, err)
	}

	username, password, err := p.Resolve(ctx, instanceID)
	if err != nil {
		return dbclient.InstanceConfig{}, err
	}

	cfg := dbclient.InstanceConfig{
		InstanceID:     inst.ID,
		Name:           inst.Name,
		Dialect:        inst.Dialect,
		Host:           inst.Host,
		Port:           inst.Port,
		Username:       username,
		Password:       password,
		DatabaseName:   inst.DatabaseName,
		ConnectTimeout: p.cfg.GetDuration("sync.connect_timeout", dbclient.DefaultConnectTimeout),
		QueryTimeout:   p.cfg.GetDuration("sync.query_timeout", dbclient.DefaultQueryTimeout),
		OracleLibDir:   p.cfg.Get("oracle.client_lib_dir"),
	}
	return cfg.Normalize(), nil
}
