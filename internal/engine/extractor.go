package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/whalefall/accountsync/internal/database/adapter"
	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/store"
	"github.com/whalefall/accountsync/pkg/logger"
)

// Extractor pulls account inventories off target instances.
type Extractor struct {
	store  *store.Store
	logger *logger.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(st *store.Store, log *logger.Logger) *Extractor {
	return &Extractor{store: st, logger: log.Named("extractor")}
}

// Extract fetches the server version and the full account set from one live
// connection. The instance's stored version is refreshed only when it
// actually changed.
func (e *Extractor) Extract(ctx context.Context, inst *store.Instance, conn adapter.Connection) (*common.ExtractionResult, error) {
	start := time.Now()

	version, err := conn.Version(ctx)
	if err != nil {
		return nil, err
	}
	if version != inst.DatabaseVersion {
		if err := e.store.UpdateInstanceVersion(ctx, inst.ID, version); err != nil {
			return nil, err
		}
		e.logger.Infof("instance %s version now %q", inst.Name, version)
	}

	records, err := conn.ExtractAccounts(ctx)
	if err != nil {
		return nil, err
	}

	// A payload whose shape disagrees with the instance dialect is a fatal
	// extraction error, never silently coerced.
	for i := range records {
		if err := records[i].Privileges.Validate(inst.Dialect); err != nil {
			return nil, fmt.Errorf("account %s: %w", records[i].Key(), err)
		}
	}

	return &common.ExtractionResult{
		Records:       records,
		ServerVersion: version,
		Duration:      time.Since(start),
	}, nil
}
