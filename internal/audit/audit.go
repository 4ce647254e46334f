package audit

import (
	"context"
	"time"

	"github.com/emrgen/storysync/internal/model"
)

// Operations recorded in the audit log.
const (
	OperationPush      = "push"
	OperationPull      = "pull"
	OperationBootstrap = "bootstrap"
)

// Log records manual transfers and bootstrap runs.
type Log interface {
	// Start records a started operation and returns its correlation id.
	Start(ctx context.Context, operation, direction, database string) (string, error)
	// Complete records the outcome of the operation started under id.
	Complete(ctx context.Context, id string, status model.AuditStatus, docs int, duration time.Duration, cause error) error
	// Recent returns the latest entries, newest first.
	Recent(ctx context.Context, limit int) ([]*model.SyncAuditLog, error)
}
