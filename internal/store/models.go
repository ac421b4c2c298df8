package store

import (
	"encoding/json"
	"time"

	"github.com/whalefall/accountsync/internal/database/common"
)

// Instance is one registered target database.
type Instance struct {
	ID              int64
	Name            string
	Dialect         common.Dialect
	Host            string
	Port            int
	DatabaseName    string
	Environment     string
	CredentialID    *int64
	DatabaseVersion string
	IsActive        bool
	IsDeleted       bool
	DeletedAt       *time.Time
	LastConnected   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Credential holds an encrypted username/password pair. PasswordCipher is
// ciphertext (or a legacy hash that cannot be decrypted); plaintext never
// appears on this struct.
type Credential struct {
	ID             int64
	Name           string
	CredentialType string
	Dialect        string
	Username       string
	PasswordCipher string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Account is the reconciled canonical view of one principal on one instance.
type Account struct {
	ID                        int64
	InstanceID                int64
	Username                  string
	Host                      string
	IsSuperuser               bool
	IsLocked                  bool
	PasswordExpired           bool
	Plugin                    string
	PasswordLastChanged       *time.Time
	Privileges                common.PrivilegeSet
	IsDeleted                 bool
	DeletedAt                 *time.Time
	LastSyncTime              *time.Time
	LastChangeTime            *time.Time
	LastClassifiedAt          *time.Time
	LastClassificationBatchID *int64
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// Key returns the identity key of the canonical row.
func (a *Account) Key() common.AccountKey {
	return common.AccountKey{Username: a.Username, Host: a.Host}
}

// Record converts the canonical row back to an extraction-shaped record,
// used when building change-log snapshots.
func (a *Account) Record() common.AccountRecord {
	return common.AccountRecord{
		Username:            a.Username,
		Host:                a.Host,
		IsSuperuser:         a.IsSuperuser,
		IsLocked:            a.IsLocked,
		PasswordExpired:     a.PasswordExpired,
		Plugin:              a.Plugin,
		PasswordLastChanged: a.PasswordLastChanged,
		Privileges:          a.Privileges,
	}
}

// Change types recorded in the account change log.
const (
	ChangeAdded    = "added"
	ChangeRemoved  = "removed"
	ChangeModified = "modified"
)

// ChangeLogEntry is one immutable account delta.
type ChangeLogEntry struct {
	ID                   int64
	SyncInstanceRecordID int64
	InstanceID           int64
	Username             string
	Host                 string
	ChangeType           string
	AccountData          json.RawMessage
	ChangeTime           time.Time
}

// Sync types.
const (
	SyncManualSingle  = "MANUAL_SINGLE"
	SyncManualBatch   = "MANUAL_BATCH"
	SyncManualTask    = "MANUAL_TASK"
	SyncScheduledTask = "SCHEDULED_TASK"
)

// Session statuses.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionPartial   = "partial"
	SessionFailed    = "failed"
)

// Per-instance record statuses.
const (
	RecordPending   = "pending"
	RecordRunning   = "running"
	RecordCompleted = "completed"
	RecordFailed    = "failed"
)

// SyncSession groups the per-instance attempts of one batch run.
type SyncSession struct {
	ID             int64
	SessionID      string
	SyncType       string
	SyncCategory   string
	TaskID         *int64
	Status         string
	TotalInstances int
	SuccessCount   int
	FailedCount    int
	StartTime      time.Time
	EndTime        *time.Time
}

// SyncInstanceRecord is one (session, instance) attempt.
type SyncInstanceRecord struct {
	ID            int64
	SessionID     string
	InstanceID    int64
	Status        string
	SyncedCount   int
	AddedCount    int
	ModifiedCount int
	RemovedCount  int
	ErrorKind     string
	ErrorMessage  string
	Details       json.RawMessage
	StartTime     *time.Time
	EndTime       *time.Time
}

// Classification is a named risk tier.
type Classification struct {
	ID        int64
	Name      string
	RiskLevel string
	Priority  int
	Color     string
	IsSystem  bool
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClassificationRule binds a JSON predicate to a classification for one
// dialect.
type ClassificationRule struct {
	ID               int64
	ClassificationID int64
	Name             string
	Dialect          common.Dialect
	RuleExpression   json.RawMessage
	IsActive         bool
}

// Assignment types.
const (
	AssignmentAuto   = "auto"
	AssignmentManual = "manual"
)

// ClassificationAssignment links an account to a classification.
type ClassificationAssignment struct {
	ID               int64
	AccountID        int64
	ClassificationID int64
	AssignmentType   string
	Confidence       float64
	AssignedBy       string
	Note             string
	BatchID          *int64
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ClassificationBatch records one auto-classify run.
type ClassificationBatch struct {
	ID              int64
	Status          string
	InstanceID      *int64
	TotalAccounts   int
	MatchedAccounts int
	TotalMatches    int
	StartTime       time.Time
	EndTime         *time.Time
}

// Task is a scheduled sync definition.
type Task struct {
	ID           int64
	Name         string
	Dialect      string
	CronExpr     string
	Config       json.RawMessage
	IsEnabled    bool
	LastRun      *time.Time
	LastStatus   string
	LastMessage  string
	RunCount     int
	SuccessCount int
}
