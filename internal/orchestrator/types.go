package orchestrator

import (
	"time"

	"planit/internal/plan"
	"planit/internal/provider"
)

// Options 编排器配置 / Options configures the orchestrator.
type Options struct {
	// SystemPrompt overrides the built-in reasoning instructions.
	SystemPrompt string
	// GenTimeout bounds each generation call. The generation call is
	// the sole suspension point of non-trivial latency per turn.
	GenTimeout time.Duration
}

// TurnResult 每轮产出的展示契约。UI 的高亮完全来自 ChangedStepIDs，
// 前端自己不做 diff。
// TurnResult is the presentation contract emitted per turn. The UI
// renders highlighting strictly from ChangedStepIDs; it performs no
// diffing of its own.
type TurnResult struct {
	Response             string          `json:"response"`
	Action               provider.Action `json:"action"`
	Plan                 *plan.Plan      `json:"plan,omitempty"`
	ChangeSummary        string          `json:"change_summary,omitempty"`
	PlanSummary          string          `json:"plan_summary,omitempty"`
	AwaitingConfirmation bool            `json:"awaiting_confirmation"`
	PlanVersion          int             `json:"plan_version,omitempty"`
	TurnCount            int             `json:"turn_count"`
	ChangedStepIDs       []string        `json:"changed_step_ids,omitempty"`
}
