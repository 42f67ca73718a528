package storage

import (
	"context"
	"errors"

	"planit/internal/plan"
	"planit/internal/session"
)

// ErrNotFound 会话不存在 / ErrNotFound means the session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrVersionConflict 版本号不连续 / ErrVersionConflict means an appended
// version would break the contiguous 1..N numbering.
var ErrVersionConflict = errors.New("plan version conflict")

// Summary 会话列表的轻量摘要
// Summary is a lightweight session listing entry.
type Summary struct {
	SessionID string `json:"session_id"`
	PlanName  string `json:"plan_name,omitempty"`
	TurnCount int    `json:"turn_count"`
	HasPlan   bool   `json:"has_plan"`
}

// Store 持久化接口，支持多后端 (SQLite / in-memory)
// Store is the persistence interface supporting multiple backends.
//
// SaveTurn is the atomic combined write for a completed turn: session
// state plus the optional new plan version land together or not at
// all. On failure the stored state is exactly what it was before the
// turn began.
type Store interface {
	Create(ctx context.Context, s *session.Session) error
	Get(ctx context.Context, id string) (*session.Session, error)
	SaveTurn(ctx context.Context, s *session.Session, v *plan.Version) error
	ListByUser(ctx context.Context, userID string) ([]Summary, error)
	Close() error
}
