package mysql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"

	"github.com/whalefall/accountsync/internal/database/adapter"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		number uint16
		want   adapter.Kind
	}{
		{"access denied", 1045, adapter.KindAuthenticationFailed},
		{"unknown database", 1049, adapter.KindDatabaseNotFound},
		{"denied on database", 1044, adapter.KindPermissionDenied},
		{"denied on table", 1142, adapter.KindPermissionDenied},
		{"missing privilege", 1227, adapter.KindPermissionDenied},
		{"unmapped error", 1064, adapter.KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("extract_accounts", &mysql.MySQLError{Number: tt.number})
			assert.Equal(t, tt.want, adapter.KindOf(err))
		})
	}
}

func TestClassifyWrappedDriverError(t *testing.T) {
	cause := fmt.Errorf("query failed: %w", &mysql.MySQLError{Number: 1045})
	assert.Equal(t, adapter.KindAuthenticationFailed, adapter.KindOf(classify("connect", cause)))
}

func TestClassifyNonDriverError(t *testing.T) {
	err := classify("ping", errors.New("broken pipe"))
	assert.Equal(t, adapter.KindOther, adapter.KindOf(err))
	assert.Nil(t, classify("ping", nil))
}
