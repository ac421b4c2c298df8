package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/whalefall/accountsync/internal/database/common"
)

func TestKindRetryPolicy(t *testing.T) {
	tests := []struct {
		kind        Kind
		retryable   bool
		maxAttempts int
	}{
		{KindConnectionRefused, true, 3},
		{KindTimeout, true, 3},
		{KindSerializationConflict, true, 4},
		{KindAuthenticationFailed, false, 1},
		{KindDatabaseNotFound, false, 1},
		{KindPermissionDenied, false, 1},
		{KindDriverMissing, false, 1},
		{KindUnresolvableCredential, false, 1},
		{KindCancelled, false, 1},
		{KindOther, false, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.kind.Retryable())
			assert.Equal(t, tt.maxAttempts, tt.kind.MaxAttempts())
		})
	}
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	base := NewError(KindAuthenticationFailed, common.DialectMySQL, "connect",
		errors.New("access denied"))
	wrapped := fmt.Errorf("sync instance 3: %w", base)

	assert.Equal(t, KindAuthenticationFailed, KindOf(wrapped))
}

func TestKindOfContextErrors(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("query: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindCancelled, KindOf(fmt.Errorf("query: %w", context.Canceled)))
	assert.Equal(t, KindOther, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestErrorFormatting(t *testing.T) {
	err := NewError(KindDatabaseNotFound, common.DialectOracle, "connect",
		errors.New("ORA-12514: listener does not currently know of service"))

	assert.Contains(t, err.Error(), "oracle")
	assert.Contains(t, err.Error(), "database_not_found")
	assert.Contains(t, err.Detail(), "ORA-12514")
	assert.ErrorContains(t, errors.Unwrap(err), "ORA-12514")
}

func TestClassifyNetwork(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	assert.Equal(t, KindConnectionRefused, ClassifyNetwork(refused))
	assert.Equal(t, KindTimeout, ClassifyNetwork(context.DeadlineExceeded))
	assert.Equal(t, KindCancelled, ClassifyNetwork(context.Canceled))
	assert.Equal(t, KindOther, ClassifyNetwork(errors.New("some driver error")))
}

func TestRegistryReturnsDriverMissing(t *testing.T) {
	_, err := Get(common.Dialect("db2"))
	assert.Equal(t, KindDriverMissing, KindOf(err))
}
