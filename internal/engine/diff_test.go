package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/store"
)

func mysqlRecord(username, host string, globals ...string) common.AccountRecord {
	return common.AccountRecord{
		Username: username,
		Host:     host,
		Plugin:   "mysql_native_password",
		Privileges: common.PrivilegeSet{
			Type:  common.DialectMySQL,
			MySQL: &common.MySQLPrivileges{Global: globals},
		},
	}
}

func canonicalAccount(id int64, rec common.AccountRecord) *store.Account {
	return &store.Account{
		ID:         id,
		InstanceID: 1,
		Username:   rec.Username,
		Host:       rec.Host,
		IsLocked:   rec.IsLocked,
		Plugin:     rec.Plugin,
		Privileges: rec.Privileges,
	}
}

func TestComputeDiffFirstSync(t *testing.T) {
	extracted := []common.AccountRecord{
		mysqlRecord("bob", "localhost", "SELECT"),
		mysqlRecord("alice", "%", "SELECT", "INSERT"),
	}

	diff := ComputeDiff(nil, extracted)

	require.Len(t, diff.Added, 2)
	assert.Empty(t, diff.Modified)
	assert.Empty(t, diff.Removed)
	assert.Empty(t, diff.Unchanged)

	// Deterministic key order regardless of extraction order.
	assert.Equal(t, "alice", diff.Added[0].Username)
	assert.Equal(t, "bob", diff.Added[1].Username)

	c := diff.Counters()
	assert.Equal(t, store.SyncCounters{Synced: 2, Added: 2}, c)
}

func TestComputeDiffRemoval(t *testing.T) {
	canonical := []*store.Account{
		canonicalAccount(1, mysqlRecord("alice", "%", "SELECT")),
	}

	diff := ComputeDiff(canonical, nil)

	require.Len(t, diff.Removed, 1)
	assert.Equal(t, "alice", diff.Removed[0].Username)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Modified)
}

func TestComputeDiffSoftDeletedRowsAreNotRemovedAgain(t *testing.T) {
	gone := canonicalAccount(1, mysqlRecord("alice", "%", "SELECT"))
	gone.IsDeleted = true

	diff := ComputeDiff([]*store.Account{gone}, nil)

	assert.Empty(t, diff.Removed)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Modified)
	assert.Empty(t, diff.Unchanged)
}

func TestComputeDiffReappearanceIsModified(t *testing.T) {
	// The key existed, was soft-deleted in a prior run, and now shows up
	// server-side again. That is an undelete, recorded as modified, never a
	// second added.
	gone := canonicalAccount(7, mysqlRecord("alice", "%", "SELECT"))
	gone.IsDeleted = true

	diff := ComputeDiff([]*store.Account{gone}, []common.AccountRecord{
		mysqlRecord("alice", "%", "SELECT"),
	})

	require.Len(t, diff.Modified, 1)
	assert.Equal(t, int64(7), diff.Modified[0].Current.ID)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
}

func TestComputeDiffPrivilegePermutationIsUnchanged(t *testing.T) {
	canonical := []*store.Account{
		canonicalAccount(1, mysqlRecord("alice", "%", "SELECT", "INSERT")),
	}
	extracted := []common.AccountRecord{
		mysqlRecord("alice", "%", "INSERT", "SELECT"),
	}

	diff := ComputeDiff(canonical, extracted)

	assert.Empty(t, diff.Modified)
	require.Len(t, diff.Unchanged, 1)
	assert.Equal(t, store.SyncCounters{}, diff.Counters())
}

func TestComputeDiffDetectsAttributeChanges(t *testing.T) {
	base := mysqlRecord("alice", "%", "SELECT")
	when := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(*common.AccountRecord)
	}{
		{"locked", func(r *common.AccountRecord) { r.IsLocked = true }},
		{"superuser", func(r *common.AccountRecord) { r.IsSuperuser = true }},
		{"password expired", func(r *common.AccountRecord) { r.PasswordExpired = true }},
		{"plugin", func(r *common.AccountRecord) { r.Plugin = "caching_sha2_password" }},
		{"password changed", func(r *common.AccountRecord) { r.PasswordLastChanged = &when }},
		{"privileges", func(r *common.AccountRecord) {
			r.Privileges.MySQL.Global = []string{"SELECT", "DROP"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := mysqlRecord("alice", "%", "SELECT")
			tt.mutate(&rec)

			diff := ComputeDiff([]*store.Account{canonicalAccount(1, base)},
				[]common.AccountRecord{rec})

			assert.Len(t, diff.Modified, 1)
			assert.Empty(t, diff.Unchanged)
		})
	}
}

func TestComputeDiffHostsAreDistinctAccounts(t *testing.T) {
	canonical := []*store.Account{
		canonicalAccount(1, mysqlRecord("foo", "%", "SELECT")),
	}
	extracted := []common.AccountRecord{
		mysqlRecord("foo", "%", "SELECT"),
		mysqlRecord("foo", "10.0.%", "SELECT"),
	}

	diff := ComputeDiff(canonical, extracted)

	require.Len(t, diff.Added, 1)
	assert.Equal(t, "10.0.%", diff.Added[0].Host)
	assert.Len(t, diff.Unchanged, 1)
}

func TestComputeDiffIsIdempotent(t *testing.T) {
	extracted := []common.AccountRecord{
		mysqlRecord("alice", "%", "SELECT", "INSERT"),
		mysqlRecord("bob", "localhost", "SELECT"),
	}

	// Simulate the state after a first sync applied the diff.
	var canonical []*store.Account
	first := ComputeDiff(nil, extracted)
	for i, rec := range first.Added {
		canonical = append(canonical, canonicalAccount(int64(i+1), rec))
	}

	second := ComputeDiff(canonical, extracted)
	assert.Equal(t, store.SyncCounters{}, second.Counters())
	assert.Len(t, second.Unchanged, 2)
}

func TestComputeDiffIgnoresDuplicateExtractedKeys(t *testing.T) {
	extracted := []common.AccountRecord{
		mysqlRecord("alice", "%", "SELECT"),
		mysqlRecord("alice", "%", "SELECT"),
	}

	diff := ComputeDiff(nil, extracted)
	assert.Len(t, diff.Added, 1)
}

func TestDiffCountersSum(t *testing.T) {
	diff := DiffResult{
		Added:    []common.AccountRecord{mysqlRecord("a", "%")},
		Modified: []ModifiedAccount{{Current: canonicalAccount(1, mysqlRecord("b", "%"))}},
		Removed:  []*store.Account{canonicalAccount(2, mysqlRecord("c", "%"))},
	}
	c := diff.Counters()
	assert.Equal(t, c.Synced, c.Added+c.Modified+c.Removed)
	assert.Equal(t, 3, c.Synced)
}
