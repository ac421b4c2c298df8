package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/whalefall/accountsync/internal/database/common"
)

func TestAccountRecordConversion(t *testing.T) {
	changed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	acct := &Account{
		ID:                  10,
		InstanceID:          3,
		Username:            "alice",
		Host:                "%",
		IsSuperuser:         true,
		Plugin:              "caching_sha2_password",
		PasswordLastChanged: &changed,
		Privileges: common.PrivilegeSet{
			Type:  common.DialectMySQL,
			MySQL: &common.MySQLPrivileges{Global: []string{"SELECT"}},
		},
	}

	rec := acct.Record()
	assert.Equal(t, acct.Key(), rec.Key())
	assert.True(t, rec.IsSuperuser)
	assert.Equal(t, "caching_sha2_password", rec.Plugin)
	assert.True(t, acct.Privileges.Equal(rec.Privileges))
}

func TestAutoAssignmentChanged(t *testing.T) {
	tests := []struct {
		name       string
		existed    bool
		prevActive bool
		prevType   string
		want       bool
	}{
		{"no previous row", false, false, "", true},
		{"active auto row refreshed", true, true, AssignmentAuto, false},
		{"deactivated auto row revived", true, false, AssignmentAuto, true},
		{"manual row converted to auto", true, true, AssignmentManual, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, autoAssignmentChanged(tt.existed, tt.prevActive, tt.prevType))
		})
	}
}

func TestSessionDuration(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	end := start.Add(30 * time.Second)

	closed := &SyncSession{StartTime: start, EndTime: &end}
	assert.Equal(t, 30*time.Second, SessionDuration(closed))

	open := &SyncSession{StartTime: start}
	assert.GreaterOrEqual(t, SessionDuration(open), time.Minute)
}
