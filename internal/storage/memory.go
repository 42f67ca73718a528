package storage

import (
	"context"
	"fmt"
	"sync"

	"planit/internal/plan"
	"planit/internal/session"
)

// MemoryStore 简单的内存实现，进程重启后数据丢失。用于本地开发和测试。
// MemoryStore is a map-backed store. Data is lost on restart; used for
// local development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*session.Session)}
}

func (m *MemoryStore) Create(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	// Clones keep a failed turn from leaking partial mutations into
	// the stored state.
	return s.Clone(), nil
}

func (m *MemoryStore) SaveTurn(_ context.Context, s *session.Session, v *plan.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	if v != nil && v.Version != len(prev.PlanVersions)+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrVersionConflict, v.Version, len(prev.PlanVersions)+1)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Summary
	for _, s := range m.sessions {
		if s.UserID != userID {
			continue
		}
		out = append(out, Summary{
			SessionID: s.ID,
			PlanName:  s.PlanName(),
			TurnCount: s.TurnCount,
			HasPlan:   s.CurrentPlan != nil,
		})
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
