package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"planit/internal/chat"
	"planit/internal/plan"
)

// Action 生成服务可以请求的状态迁移，五选一
// Action is one of the five state transitions the generation service
// may request. The orchestrator is the sole authority translating
// actions into mutations.
type Action string

const (
	// ActionPropose previews a plan for user confirmation. Read-only.
	ActionPropose Action = "PROPOSE"
	// ActionCreate commits a confirmed (or first-time) plan.
	ActionCreate Action = "CREATE"
	// ActionUpdate modifies an existing confirmed plan.
	ActionUpdate Action = "UPDATE"
	// ActionReject withdraws a pending proposal.
	ActionReject Action = "REJECT"
	// ActionNone is an informational turn with no plan mutation.
	ActionNone Action = "NONE"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionPropose, ActionCreate, ActionUpdate, ActionReject, ActionNone:
		return true
	}
	return false
}

// ErrSchemaViolation 模型输出不符合 AgentResponse 结构
// ErrSchemaViolation marks output that does not satisfy the
// AgentResponse schema. The orchestrator retries once, then degrades.
var ErrSchemaViolation = errors.New("agent response schema violation")

// AgentResponse 单轮结构化输出，Thought 字段用后即弃，绝不持久化
// AgentResponse is the structured per-turn output. Thought is a
// discard-after-use side channel: never persisted, never exposed.
type AgentResponse struct {
	Thought        string     `json:"thought"`
	ResponseToUser string     `json:"response_to_user"`
	Action         Action     `json:"action"`
	Plan           *plan.Plan `json:"plan,omitempty"`
	ChangeSummary  string     `json:"change_summary,omitempty"`
	PlanSummary    string     `json:"plan_summary,omitempty"`
}

// Validate enforces the schema contract: a known action, a non-empty
// user-facing response, and a structurally valid plan whenever the
// action carries one.
func (r *AgentResponse) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: response is nil", ErrSchemaViolation)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrSchemaViolation, r.Action)
	}
	if strings.TrimSpace(r.ResponseToUser) == "" {
		return fmt.Errorf("%w: response_to_user is empty", ErrSchemaViolation)
	}
	switch r.Action {
	case ActionPropose, ActionCreate, ActionUpdate:
		if r.Plan == nil {
			return fmt.Errorf("%w: action %s requires a plan", ErrSchemaViolation, r.Action)
		}
		if err := r.Plan.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
		}
	}
	return nil
}

// ContextEntry 发送给生成服务的一条上下文
// ContextEntry is one piece of assembled prompt context.
type ContextEntry struct {
	Role    chat.Role
	Content string
}

// Generator 生成服务接口。守卫分类、摘要压缩和主推理是同一能力的
// 不同调用点，而不是子类型。
// Generator is the black-box generation service. Guardrail
// classification, summarization, and main reasoning are independent
// call sites of the same capability, not specialized subtypes.
type Generator interface {
	// Generate 请求符合 AgentResponse 结构的主推理输出
	// Generate requests main reasoning constrained to the
	// AgentResponse schema. Malformed output wraps ErrSchemaViolation.
	Generate(ctx context.Context, systemPrompt string, entries []ContextEntry) (*AgentResponse, error)

	// Complete 通用的指令+输入调用，返回纯文本
	// Complete is the generic instruction+input call returning plain
	// text. Used by the guardrail classifier and the summarizer.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
