package contextmgr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"planit/internal/chat"
	"planit/internal/provider"
	"planit/internal/session"
)

// Options 上下文预算配置
// Options holds the context budget configuration.
type Options struct {
	// TokenBudget B: the total token allowance for raw history.
	TokenBudget int
	// TriggerFraction f: compress once raw history exceeds f*B.
	TriggerFraction float64
	// RecentMessages is the verbatim sliding window kept out of
	// compression.
	RecentMessages int
}

// Manager 负责 token 预算、上下文装配和历史压缩。当前计划永远完整
// 注入，绝不参与压缩。
// Manager tracks the token budget, assembles prompt context, and
// compresses history. The active plan is always injected in full and
// is never subject to compression.
type Manager struct {
	tok  *Tokenizer
	gen  provider.Generator
	opts Options
	log  *slog.Logger
}

// New creates a manager. Zero or out-of-range options get defaults.
func New(tok *Tokenizer, gen provider.Generator, opts Options, log *slog.Logger) *Manager {
	if opts.TokenBudget <= 0 {
		opts.TokenBudget = 8000
	}
	if opts.TriggerFraction <= 0 || opts.TriggerFraction >= 1 {
		opts.TriggerFraction = 0.75
	}
	if opts.RecentMessages <= 0 {
		opts.RecentMessages = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{tok: tok, gen: gen, opts: opts, log: log}
}

// BuildContext 装配发送给生成服务的上下文条目：摘要、未压缩消息窗口、
// 当前计划（完整）、待确认计划。系统指令由调用方单独传入。
// BuildContext assembles the context entries for the generation call:
// the conversation summary, the uncompressed recent messages, the
// current plan serialized in full, and the pending proposal if one is
// awaiting confirmation. System instructions travel separately.
func (m *Manager) BuildContext(s *session.Session) []provider.ContextEntry {
	var entries []provider.ContextEntry

	if strings.TrimSpace(s.ConversationSummary) != "" {
		entries = append(entries, provider.ContextEntry{
			Role:    chat.RoleSystem,
			Content: "[Compressed prior context]\n" + s.ConversationSummary,
		})
	}

	for _, msg := range s.RawHistory() {
		entries = append(entries, provider.ContextEntry{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	// Losing plan detail makes the agent silently diverge from what
	// the user is editing, so the plan rides along uncompressed.
	if s.CurrentPlan != nil {
		entries = append(entries, provider.ContextEntry{
			Role:    chat.RoleSystem,
			Content: "[Current confirmed plan]\n" + s.CurrentPlan.Markdown(),
		})
	}
	if s.PendingPlan != nil {
		entries = append(entries, provider.ContextEntry{
			Role: chat.RoleSystem,
			Content: "[Pending proposed plan - awaiting user confirmation]\n" +
				s.PendingPlan.Markdown() +
				"\nThe user has NOT yet confirmed this plan. If they approve it, use action=CREATE. If they want changes, PROPOSE a revised version.",
		})
	}
	return entries
}

// RawTokens 估算未压缩历史的 token 成本
// RawTokens estimates the token cost of the raw (non-summarized)
// history.
func (m *Manager) RawTokens(s *session.Session) int {
	return m.tok.Count(s.RawHistory())
}

// Trigger returns the compression threshold f*B in tokens.
func (m *Manager) Trigger() int {
	return int(m.opts.TriggerFraction * float64(m.opts.TokenBudget))
}

// MaybeCompress 超过阈值时把较旧的未压缩消息折叠进现有摘要。重复压缩
// 在没有新消息时是幂等的：已摘要内容不会被二次处理。摘要调用失败时
// 回退到简单截断，压缩是质量优化而不是正确性要求。
// MaybeCompress folds the older portion of raw history into the
// existing summary once the raw estimate exceeds the trigger. Only
// the newly accumulated segment is summarized, so recompressing with
// no new messages is a no-op. If the summarization call fails the
// manager falls back to plain truncation instead of failing the turn.
func (m *Manager) MaybeCompress(ctx context.Context, s *session.Session) {
	raw := s.RawHistory()
	if m.tok.Count(raw) <= m.Trigger() {
		return
	}
	keep := m.opts.RecentMessages
	if len(raw) <= keep {
		// Nothing old enough to fold; the recent window stays verbatim.
		return
	}
	older := raw[:len(raw)-keep]

	summary, err := m.summarize(ctx, s.ConversationSummary, older)
	if err != nil || strings.TrimSpace(summary) == "" {
		m.log.Warn("summarization failed, falling back to truncation", "error", err)
		m.truncate(s)
		return
	}
	s.ConversationSummary = summary
	s.SummarizedThrough += len(older)
}

// truncate 丢弃最旧的未压缩消息直到回到预算之内
// truncate drops the oldest raw messages (by advancing the summarized
// watermark) until the raw estimate is back under the trigger.
func (m *Manager) truncate(s *session.Session) {
	for {
		raw := s.RawHistory()
		if len(raw) <= m.opts.RecentMessages || m.tok.Count(raw) <= m.Trigger() {
			return
		}
		s.SummarizedThrough++
	}
}

const summarySystemPrompt = `You are a context-compression assistant for a conversational planning agent.
Fold the new conversation segment into the prior summary, producing one updated summary that preserves:
1. The user's original goal and all key requirements.
2. Every decision, preference, and constraint mentioned.
3. Any open questions or pending items.

Keep the summary under 400 words. Output plain text only.`

// summarize 只处理新累积的片段：输入为旧摘要加待折叠消息，绝不包含
// 计划内容。
// summarize processes only the newly accumulated segment: its input
// is the prior summary plus the messages being folded in. The plan is
// never part of the summarization input.
func (m *Manager) summarize(ctx context.Context, prior string, older []chat.Message) (string, error) {
	if m.gen == nil {
		return "", fmt.Errorf("summarizer not configured")
	}
	var b strings.Builder
	if strings.TrimSpace(prior) != "" {
		b.WriteString("--- PRIOR SUMMARY ---\n")
		b.WriteString(prior)
		b.WriteString("\n\n")
	}
	b.WriteString("--- NEW CONVERSATION SEGMENT ---\n")
	for _, msg := range older {
		b.WriteString("[")
		b.WriteString(string(msg.Role))
		b.WriteString("] ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	summary, err := m.gen.Complete(ctx, summarySystemPrompt, b.String())
	if err != nil {
		return "", fmt.Errorf("summarize history: %w", err)
	}
	return strings.TrimSpace(summary), nil
}
