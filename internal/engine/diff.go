// Package engine implements account extraction, diff computation, the
// transactional apply pass and the sync coordinator.
package engine

import (
	"sort"
	"time"

	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/store"
)

// ModifiedAccount pairs a canonical row with the freshly extracted state
// that replaces it.
type ModifiedAccount struct {
	Current *store.Account
	New     common.AccountRecord
}

// DiffResult classifies every extracted record against the canonical set.
// All slices are sorted by (username, host) so the apply pass is
// deterministic.
type DiffResult struct {
	Added     []common.AccountRecord
	Modified  []ModifiedAccount
	Removed   []*store.Account
	Unchanged []*store.Account
}

// Counters summarizes a diff the way sync records report it.
func (d *DiffResult) Counters() store.SyncCounters {
	added, modified, removed := len(d.Added), len(d.Modified), len(d.Removed)
	return store.SyncCounters{
		Synced:   added + modified + removed,
		Added:    added,
		Modified: modified,
		Removed:  removed,
	}
}

// ComputeDiff reconciles extracted records against the canonical rows of one
// instance. Soft-deleted canonical rows whose key reappears server-side are
// classified as modified, which the apply pass turns into an undelete.
func ComputeDiff(canonical []*store.Account, extracted []common.AccountRecord) DiffResult {
	byKey := make(map[common.AccountKey]*store.Account, len(canonical))
	for _, a := range canonical {
		byKey[a.Key()] = a
	}

	var result DiffResult
	seen := make(map[common.AccountKey]bool, len(extracted))

	for _, rec := range extracted {
		key := rec.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		current, ok := byKey[key]
		if !ok {
			result.Added = append(result.Added, rec)
			continue
		}
		if current.IsDeleted {
			result.Modified = append(result.Modified, ModifiedAccount{Current: current, New: rec})
			continue
		}
		if recordsEqual(current, rec) {
			result.Unchanged = append(result.Unchanged, current)
			continue
		}
		result.Modified = append(result.Modified, ModifiedAccount{Current: current, New: rec})
	}

	for _, a := range canonical {
		if a.IsDeleted || seen[a.Key()] {
			continue
		}
		result.Removed = append(result.Removed, a)
	}

	sort.Slice(result.Added, func(i, j int) bool {
		return result.Added[i].Key().Less(result.Added[j].Key())
	})
	sort.Slice(result.Modified, func(i, j int) bool {
		return result.Modified[i].Current.Key().Less(result.Modified[j].Current.Key())
	})
	sort.Slice(result.Removed, func(i, j int) bool {
		return result.Removed[i].Key().Less(result.Removed[j].Key())
	})
	sort.Slice(result.Unchanged, func(i, j int) bool {
		return result.Unchanged[i].Key().Less(result.Unchanged[j].Key())
	})

	return result
}

// recordsEqual compares the normalized attribute tuple. Privilege payloads
// are compared canonically, so list order differences are not modifications.
func recordsEqual(current *store.Account, rec common.AccountRecord) bool {
	if current.IsLocked != rec.IsLocked ||
		current.IsSuperuser != rec.IsSuperuser ||
		current.PasswordExpired != rec.PasswordExpired ||
		current.Plugin != rec.Plugin {
		return false
	}
	if !timesEqual(current.PasswordLastChanged, rec.PasswordLastChanged) {
		return false
	}
	return current.Privileges.Equal(rec.Privileges)
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
