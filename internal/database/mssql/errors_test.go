package mssql

import (
	"testing"

	mssqldb "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"

	"github.com/whalefall/accountsync/internal/database/adapter"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		number int32
		want   adapter.Kind
	}{
		{"login failed", 18456, adapter.KindAuthenticationFailed},
		{"login failed legacy", 18452, adapter.KindAuthenticationFailed},
		{"cannot open database", 4060, adapter.KindDatabaseNotFound},
		{"select permission denied", 229, adapter.KindPermissionDenied},
		{"view server state denied", 300, adapter.KindPermissionDenied},
		{"deadlock victim", 1205, adapter.KindSerializationConflict},
		{"unmapped error", 208, adapter.KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("extract_accounts", mssqldb.Error{Number: tt.number})
			assert.Equal(t, tt.want, adapter.KindOf(err))
		})
	}
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "[AppDB]", quoteIdentifier("AppDB"))
	assert.Equal(t, "[weird]]name]", quoteIdentifier("weird]name"))
}
