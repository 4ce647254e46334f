package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/emrgen/storysync/internal/model"
	"github.com/google/uuid"
)

var _ Log = (*MemoryLog)(nil)

// MemoryLog keeps audit entries in process memory.
type MemoryLog struct {
	mu      sync.Mutex
	entries map[string]*model.SyncAuditLog
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string]*model.SyncAuditLog)}
}

func (m *MemoryLog) Start(ctx context.Context, operation, direction, database string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &model.SyncAuditLog{
		ID:        uuid.New().String(),
		Operation: operation,
		Direction: direction,
		Database:  database,
		Status:    model.AuditStatusStarted,
		StartedAt: time.Now(),
	}
	m.entries[entry.ID] = entry

	return entry.ID, nil
}

func (m *MemoryLog) Complete(ctx context.Context, id string, status model.AuditStatus, docs int, duration time.Duration, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("audit entry %s not found", id)
	}

	now := time.Now()
	entry.Status = status
	entry.DocsTransferred = docs
	entry.DurationMs = duration.Milliseconds()
	entry.CompletedAt = &now
	if cause != nil {
		entry.Error = cause.Error()
	}

	return nil
}

func (m *MemoryLog) Recent(ctx context.Context, limit int) ([]*model.SyncAuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]*model.SyncAuditLog, 0, len(m.entries))
	for _, e := range m.entries {
		clone := *e
		entries = append(entries, &clone)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].StartedAt.After(entries[j].StartedAt) })

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
