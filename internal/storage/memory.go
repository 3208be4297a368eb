package storage

import (
	"context"
	"sync"

	"replyguard/internal/model"
)

// MemoryStore keeps records in process. It does not survive restarts and is
// not shared between instances.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.CooldownRecord
	status  *model.ServiceStatus
}

func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[string]model.CooldownRecord)}
}

func (m *MemoryStore) Init(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) GetCooldown(_ context.Context, userID string) (*model.CooldownRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) SetCooldown(_ context.Context, rec model.CooldownRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UserID] = rec
	return nil
}

func (m *MemoryStore) SaveStatus(_ context.Context, status model.ServiceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == nil {
		m.status = &model.ServiceStatus{}
	}
	mergeStatus(m.status, status)
	return nil
}

func (m *MemoryStore) GetStatus(context.Context) (*model.ServiceStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == nil {
		return nil, nil
	}
	out := *m.status
	return &out, nil
}

func mergeStatus(dst *model.ServiceStatus, src model.ServiceStatus) {
	if src.Status != "" {
		dst.Status = src.Status
	}
	if !src.LastConnection.IsZero() {
		dst.LastConnection = src.LastConnection
	}
	if !src.LastShutdown.IsZero() {
		dst.LastShutdown = src.LastShutdown
	}
	if src.ErrorRecord != "" {
		dst.ErrorRecord = src.ErrorRecord
	}
}
