package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/whalefall/accountsync/internal/database/adapter"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		code string
		want adapter.Kind
	}{
		{"invalid password", "28P01", adapter.KindAuthenticationFailed},
		{"invalid authorization", "28000", adapter.KindAuthenticationFailed},
		{"missing database", "3D000", adapter.KindDatabaseNotFound},
		{"insufficient privilege", "42501", adapter.KindPermissionDenied},
		{"serialization failure", "40001", adapter.KindSerializationConflict},
		{"deadlock", "40P01", adapter.KindSerializationConflict},
		{"query cancelled", "57014", adapter.KindTimeout},
		{"syntax error", "42601", adapter.KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("extract_accounts", &pgconn.PgError{Code: tt.code})
			assert.Equal(t, tt.want, adapter.KindOf(err))
		})
	}
}
