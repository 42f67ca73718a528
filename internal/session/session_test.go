package session

import (
	"strings"
	"testing"

	"planit/internal/chat"
	"planit/internal/plan"
)

func TestNewID_Format(t *testing.T) {
	id := NewID()
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("NewID() = %q, want sess_ prefix", id)
	}
	if id == NewID() && id == NewID() {
		t.Fatal("ids should not repeat")
	}
}

func TestRawHistory(t *testing.T) {
	s := New("sess_1", "u1")
	for i := 0; i < 6; i++ {
		s.Append(chat.RoleUser, "msg")
	}
	s.SummarizedThrough = 4

	if got := len(s.RawHistory()); got != 2 {
		t.Fatalf("RawHistory len = %d, want 2", got)
	}
	s.SummarizedThrough = 6
	if got := s.RawHistory(); got != nil {
		t.Fatalf("RawHistory = %v, want nil when fully summarized", got)
	}
}

func TestClone_Independence(t *testing.T) {
	s := New("sess_1", "u1")
	s.CurrentPlan = &plan.Plan{Title: "p", Steps: []plan.Step{{ID: "step-1", Status: plan.StatusPending}}}
	s.PlanVersions = []plan.Version{plan.NewVersion(1, s.CurrentPlan, "initial")}
	s.Append(chat.RoleUser, "hello")

	cp := s.Clone()
	cp.CurrentPlan.Steps[0].Status = plan.StatusCompleted
	cp.PlanVersions[0].Plan.Title = "mutated"
	cp.Append(chat.RoleAssistant, "hi")
	cp.TurnCount = 9

	if s.CurrentPlan.Steps[0].Status != plan.StatusPending {
		t.Fatal("clone aliases CurrentPlan")
	}
	if s.PlanVersions[0].Plan.Title != "p" {
		t.Fatal("clone aliases version snapshots")
	}
	if len(s.Messages) != 1 || s.TurnCount != 0 {
		t.Fatal("clone aliases messages or scalar state")
	}
}

func TestNextVersion(t *testing.T) {
	s := New("sess_1", "u1")
	if s.NextVersion() != 1 {
		t.Fatalf("NextVersion = %d, want 1", s.NextVersion())
	}
	p := &plan.Plan{Title: "p"}
	s.PlanVersions = append(s.PlanVersions, plan.NewVersion(1, p, ""))
	if s.NextVersion() != 2 {
		t.Fatalf("NextVersion = %d, want 2", s.NextVersion())
	}
}
