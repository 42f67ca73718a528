package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"planit/internal/chat"
	"planit/internal/plan"
	"planit/internal/provider"
	"planit/internal/session"
)

// guardrailContextWindow 守卫分类使用的近期消息条数
// guardrailContextWindow is how many recent messages the guardrail
// classifier sees.
const guardrailContextWindow = 4

// RunTurn 执行一个完整回合: PREPROCESS -> GENERATE -> POSTPROCESS。
// 持久化失败时回合报错，存储中的可见状态保持在回合开始前的样子。
// RunTurn processes one user message end to end through PREPROCESS,
// GENERATE, and POSTPROCESS. The turn only mutates a working copy of
// the session; the store is written once, atomically, at the end. On
// persistence failure the turn is reported failed and observable
// state is exactly as it was before the turn began.
func (o *Orchestrator) RunTurn(ctx context.Context, sessionID, userInput string) (*TurnResult, error) {
	unlock := o.lockSession(sessionID)
	defer unlock()

	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	// PREPROCESS: record the user message, then run the guardrail.
	recent := tailMessages(s.RawHistory(), guardrailContextWindow)
	s.Append(chat.RoleUser, userInput)

	if o.guard != nil {
		if verdict := o.guard.Classify(ctx, userInput, recent); !verdict.Allow {
			return o.finishRefusal(ctx, s)
		}
	}
	o.ctxmgr.MaybeCompress(ctx, s)
	entries := o.ctxmgr.BuildContext(s)

	// GENERATE: one attempt, one corrective retry, then a degraded
	// fallback. Never raises to the caller.
	resp := o.generate(ctx, entries)

	// POSTPROCESS: translate the action into state mutations. The
	// thought field dies here; it is never persisted or exposed.
	version, changedIDs := o.apply(s, resp)

	s.Append(chat.RoleAssistant, resp.ResponseToUser)
	s.TurnCount++

	if err := o.store.SaveTurn(ctx, s, version); err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}

	result := &TurnResult{
		Response:             resp.ResponseToUser,
		Action:               resp.Action,
		ChangeSummary:        resp.ChangeSummary,
		PlanSummary:          resp.PlanSummary,
		AwaitingConfirmation: s.AwaitingConfirmation,
		PlanVersion:          len(s.PlanVersions),
		TurnCount:            s.TurnCount,
		ChangedStepIDs:       changedIDs,
	}
	switch resp.Action {
	case provider.ActionPropose:
		result.Plan = s.PendingPlan
	case provider.ActionNone, provider.ActionReject:
		result.Plan = s.CurrentPlan
	default:
		result.Plan = s.CurrentPlan
	}
	return result, nil
}

// finishRefusal short-circuits a guardrail-rejected turn: a canned
// refusal is recorded, nothing else mutates, no generation call runs.
func (o *Orchestrator) finishRefusal(ctx context.Context, s *session.Session) (*TurnResult, error) {
	s.Append(chat.RoleAssistant, refusalMessage)
	s.TurnCount++
	if err := o.store.SaveTurn(ctx, s, nil); err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}
	return &TurnResult{
		Response:             refusalMessage,
		Action:               provider.ActionNone,
		Plan:                 s.CurrentPlan,
		AwaitingConfirmation: s.AwaitingConfirmation,
		PlanVersion:          len(s.PlanVersions),
		TurnCount:            s.TurnCount,
	}, nil
}

// generate 带超时调用生成服务；格式错误时附加纠正指令重试一次，
// 再失败则降级为 NONE 回退响应，绝不让回合失败。
// generate invokes the generation service with a timeout. A malformed
// or timed-out result gets one retry with a corrective instruction
// appended to the context; a second failure degrades the turn to a
// synthesized NONE response instead of failing the request.
func (o *Orchestrator) generate(ctx context.Context, entries []provider.ContextEntry) *provider.AgentResponse {
	resp, err := o.callGenerate(ctx, entries)
	if err == nil {
		return resp
	}
	o.log.Warn("generation failed, retrying with corrective instruction", "error", err)

	retry := append(append([]provider.ContextEntry(nil), entries...), provider.ContextEntry{
		Role:    chat.RoleSystem,
		Content: correctiveInstruction,
	})
	resp, err = o.callGenerate(ctx, retry)
	if err == nil {
		return resp
	}
	o.log.Error("generation failed after retry, degrading turn", "error", err)
	return &provider.AgentResponse{
		ResponseToUser: fallbackMessage,
		Action:         provider.ActionNone,
	}
}

func (o *Orchestrator) callGenerate(ctx context.Context, entries []provider.ContextEntry) (*provider.AgentResponse, error) {
	gctx, cancel := context.WithTimeout(ctx, o.genTimeout)
	defer cancel()
	resp, err := o.gen.Generate(gctx, o.systemPrompt, entries)
	if err != nil {
		return nil, err
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return resp, nil
}

// apply 是动作到状态变更的唯一翻译点。前置条件不满足的动作防御性
// 降级为 NONE 并记录异常，绝不崩溃。
// apply is the sole authority translating actions into state
// mutations. Any action outside its valid precondition is defensively
// downgraded to NONE with an anomaly log, never a crash. Returns the
// new version (CREATE/UPDATE only) and the changed-step-id set
// (UPDATE only).
func (o *Orchestrator) apply(s *session.Session, resp *provider.AgentResponse) (*plan.Version, []string) {
	switch resp.Action {
	case provider.ActionPropose:
		// Read-only preview half of the two-phase protocol: the
		// current plan and version history are untouched.
		s.PendingPlan = resp.Plan.Clone()
		s.AwaitingConfirmation = true
		return nil, nil

	case provider.ActionCreate:
		// Valid after a confirmed proposal, or as a first-time
		// creation when no plan exists yet.
		if !s.AwaitingConfirmation && s.CurrentPlan != nil {
			o.downgrade(s, resp, "CREATE with no pending proposal and a non-empty current plan")
			return nil, nil
		}
		s.CurrentPlan = resp.Plan.Clone()
		s.PendingPlan = nil
		s.AwaitingConfirmation = false
		v := plan.NewVersion(s.NextVersion(), s.CurrentPlan, orDefault(resp.ChangeSummary, defaultCreateSummary))
		s.PlanVersions = append(s.PlanVersions, v)
		return &v, nil

	case provider.ActionUpdate:
		if s.CurrentPlan == nil {
			o.downgrade(s, resp, "UPDATE with no current plan")
			return nil, nil
		}
		next, deletedIDs, err := resolveUpdate(s.CurrentPlan, resp.Plan)
		if err != nil {
			o.downgrade(s, resp, err.Error())
			return nil, nil
		}
		changed := append(plan.ChangedStepIDs(s.CurrentPlan, next), deletedIDs...)
		sort.Strings(changed)
		s.CurrentPlan = next
		s.PendingPlan = nil
		s.AwaitingConfirmation = false
		v := plan.NewVersion(s.NextVersion(), s.CurrentPlan, orDefault(resp.ChangeSummary, defaultUpdateSummary))
		s.PlanVersions = append(s.PlanVersions, v)
		return &v, changed

	case provider.ActionReject:
		// The user declined a proposal: no plan mutation, no version.
		if s.PendingPlan == nil {
			o.log.Warn("action anomaly", "session", s.ID, "detail", "REJECT with no pending proposal")
		}
		s.PendingPlan = nil
		s.AwaitingConfirmation = false
		return nil, nil

	default: // ActionNone
		return nil, nil
	}
}

// downgrade records an invalid action transition and neutralizes the
// response into an informational NONE turn.
func (o *Orchestrator) downgrade(s *session.Session, resp *provider.AgentResponse, detail string) {
	o.log.Warn("invalid action transition, downgrading to NONE",
		"session", s.ID, "action", string(resp.Action), "detail", detail)
	resp.Action = provider.ActionNone
	resp.Plan = nil
	resp.ChangeSummary = ""
	resp.PlanSummary = ""
}

// resolveUpdate applies the explicit-deletion rule: steps marked
// deleted are removed, and every step of the old plan must appear in
// the proposed plan either kept or marked deleted. Silent omission
// invalidates the whole update.
func resolveUpdate(old, proposed *plan.Plan) (*plan.Plan, []string, error) {
	next := proposed.Clone()
	proposedIDs := make(map[string]struct{}, len(next.Steps))
	kept := next.Steps[:0]
	var deletedIDs []string

	oldIndex := old.StepIndex()
	for _, step := range next.Steps {
		proposedIDs[step.ID] = struct{}{}
		if step.Deleted {
			if _, existed := oldIndex[step.ID]; existed {
				deletedIDs = append(deletedIDs, step.ID)
			}
			continue
		}
		kept = append(kept, step)
	}
	for _, step := range old.Steps {
		if _, ok := proposedIDs[step.ID]; !ok {
			return nil, nil, fmt.Errorf("UPDATE silently omits step %q; removal requires an explicit deleted marker", step.ID)
		}
	}
	next.Steps = kept
	sort.Strings(deletedIDs)
	return next, deletedIDs, nil
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func tailMessages(msgs []chat.Message, n int) []chat.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
