// Package session holds the conversation aggregate: messages, the
// active plan, the pending proposal, and the append-only version
// history.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"planit/internal/chat"
	"planit/internal/plan"
)

// Session is the unit of conversation state. A session is owned by a
// single user and mutated by exactly one turn at a time.
//
// Invariants:
//   - AwaitingConfirmation is true iff PendingPlan is non-nil.
//   - PlanVersions are contiguous, strictly increasing from 1.
//   - Messages are append-only; compression never deletes them, it
//     only advances SummarizedThrough.
type Session struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`

	CurrentPlan          *plan.Plan     `json:"current_plan,omitempty"`
	PendingPlan          *plan.Plan     `json:"pending_plan,omitempty"`
	AwaitingConfirmation bool           `json:"awaiting_confirmation"`
	PlanVersions         []plan.Version `json:"plan_versions"`

	Messages []chat.Message `json:"messages"`

	// ConversationSummary covers Messages[:SummarizedThrough]. Raw
	// history sent to the model is Messages[SummarizedThrough:].
	ConversationSummary string `json:"conversation_summary,omitempty"`
	SummarizedThrough   int    `json:"summarized_through"`
}

// New returns an empty session for the given user.
func New(id, userID string) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
}

// NewID 生成新的会话 ID / Generates a new session ID.
func NewID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("sess_%d_%s", time.Now().UTC().Unix(), hex.EncodeToString(buf))
}

// Clone returns a deep copy. Stores hand out clones so a failed turn
// never leaks partial mutations into shared state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.CurrentPlan = s.CurrentPlan.Clone()
	cp.PendingPlan = s.PendingPlan.Clone()
	cp.Messages = append([]chat.Message(nil), s.Messages...)
	cp.PlanVersions = make([]plan.Version, len(s.PlanVersions))
	for i, v := range s.PlanVersions {
		v.Plan = *v.Plan.Clone()
		cp.PlanVersions[i] = v
	}
	return &cp
}

// Append records a new message pair half.
func (s *Session) Append(role chat.Role, content string) {
	s.Messages = append(s.Messages, chat.New(role, content))
}

// RawHistory returns the messages not yet folded into the
// conversation summary.
func (s *Session) RawHistory() []chat.Message {
	if s.SummarizedThrough >= len(s.Messages) {
		return nil
	}
	return s.Messages[s.SummarizedThrough:]
}

// NextVersion returns the number the next plan version must carry.
func (s *Session) NextVersion() int {
	return len(s.PlanVersions) + 1
}

// PlanName returns a display name for listings.
func (s *Session) PlanName() string {
	if s.CurrentPlan != nil {
		return s.CurrentPlan.Title
	}
	return ""
}
