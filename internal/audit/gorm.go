package audit

import (
	"context"
	"time"

	"github.com/emrgen/storysync/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var _ Log = (*GormLog)(nil)

// GormLog persists audit entries in the application database.
type GormLog struct {
	db *gorm.DB
}

func NewGormLog(db *gorm.DB) *GormLog {
	return &GormLog{db: db}
}

func (g *GormLog) Start(ctx context.Context, operation, direction, database string) (string, error) {
	entry := &model.SyncAuditLog{
		ID:        uuid.New().String(),
		Operation: operation,
		Direction: direction,
		Database:  database,
		Status:    model.AuditStatusStarted,
		StartedAt: time.Now(),
	}

	if err := g.db.WithContext(ctx).Create(entry).Error; err != nil {
		return "", err
	}

	return entry.ID, nil
}

func (g *GormLog) Complete(ctx context.Context, id string, status model.AuditStatus, docs int, duration time.Duration, cause error) error {
	now := time.Now()
	updates := map[string]any{
		"status":           status,
		"docs_transferred": docs,
		"duration_ms":      duration.Milliseconds(),
		"completed_at":     &now,
	}
	if cause != nil {
		updates["error"] = cause.Error()
	}

	return g.db.WithContext(ctx).Model(&model.SyncAuditLog{}).Where("id = ?", id).Updates(updates).Error
}

func (g *GormLog) Recent(ctx context.Context, limit int) ([]*model.SyncAuditLog, error) {
	var entries []*model.SyncAuditLog
	err := g.db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
