// Package plan defines the structured planning artifact: plans, their
// steps, immutable versions, and the diff engine used for change
// highlighting.
package plan

import (
	"fmt"
	"strings"
	"time"
)

// StepStatus tracks the progress of a single step.
type StepStatus string

const (
	StatusPending    StepStatus = "pending"
	StatusInProgress StepStatus = "in-progress"
	StatusCompleted  StepStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s StepStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Step is one task within a plan. The ID is stable: an update that
// references the same logical task keeps the same ID.
type Step struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`

	// Deleted marks a step for removal in an UPDATE. Silently omitting
	// a step is not a deletion; it invalidates the whole update.
	Deleted bool `json:"deleted,omitempty"`
}

// Plan is the structured artifact being built through dialogue.
type Plan struct {
	Title    string `json:"title"`
	Overview string `json:"overview"`
	Steps    []Step `json:"steps"`
}

// Clone returns a deep copy. Version snapshots and pending previews
// must never alias the live plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := &Plan{
		Title:    p.Title,
		Overview: p.Overview,
		Steps:    make([]Step, len(p.Steps)),
	}
	copy(cp.Steps, p.Steps)
	return cp
}

// Validate checks structural invariants: non-empty step IDs, unique
// within the snapshot, and known statuses. Empty status defaults to
// pending rather than failing, since models frequently omit it.
func (p *Plan) Validate() error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("plan title is empty")
	}
	seen := make(map[string]struct{}, len(p.Steps))
	for i := range p.Steps {
		step := &p.Steps[i]
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return fmt.Errorf("step %d has empty id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate step id %q", id)
		}
		seen[id] = struct{}{}
		if step.Status == "" {
			step.Status = StatusPending
		}
		if !step.Status.Valid() {
			return fmt.Errorf("step %q has invalid status %q", id, step.Status)
		}
	}
	return nil
}

// StepIndex returns an id-keyed index of the plan's steps.
func (p *Plan) StepIndex() map[string]Step {
	if p == nil {
		return nil
	}
	idx := make(map[string]Step, len(p.Steps))
	for _, s := range p.Steps {
		idx[s.ID] = s
	}
	return idx
}

// Markdown serializes the plan for prompt injection. The plan always
// travels uncompressed; this is the exact text the model sees.
func (p *Plan) Markdown() string {
	if p == nil {
		return "No plan has been created yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Plan: %s\n", p.Title)
	fmt.Fprintf(&b, "**Overview:** %s\n", p.Overview)
	b.WriteString("### Steps:\n")
	for _, s := range p.Steps {
		fmt.Fprintf(&b, "- [%s] **%s: %s** - %s\n", s.Status, s.ID, s.Title, s.Description)
	}
	return b.String()
}

// Version is an immutable, numbered snapshot of a plan taken at a
// commit point (CREATE or UPDATE). Versions for a session start at 1
// and are contiguous.
type Version struct {
	Version       int       `json:"version"`
	Plan          Plan      `json:"plan"`
	ChangeSummary string    `json:"change_summary"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewVersion snapshots p as version number n.
func NewVersion(n int, p *Plan, changeSummary string) Version {
	return Version{
		Version:       n,
		Plan:          *p.Clone(),
		ChangeSummary: changeSummary,
		CreatedAt:     time.Now().UTC(),
	}
}
