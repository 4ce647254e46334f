package model

import "time"

// AuditStatus is the lifecycle state of an audited sync operation.
type AuditStatus string

const (
	AuditStatusStarted AuditStatus = "started"
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// SyncAuditLog records one manual transfer or bootstrap run. ID is the
// correlation id handed out when the operation starts.
type SyncAuditLog struct {
	ID              string `gorm:"primaryKey;not null"`
	Operation       string `gorm:"not null;index"`
	Direction       string
	Database        string
	Status          AuditStatus `gorm:"not null"`
	DocsTransferred int
	DurationMs      int64
	Error           string
	StartedAt       time.Time `gorm:"not null;index"`
	CompletedAt     *time.Time
}

func (SyncAuditLog) TableName() string {
	return "sync_audit_logs"
}
