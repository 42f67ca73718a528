// Package guardrail runs a cheap pre-classification over incoming
// messages so obviously off-domain requests never reach the expensive
// reasoning path. It mutates nothing.
package guardrail

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"planit/internal/chat"
	"planit/internal/provider"
)

const classifierPrompt = `You are a request classifier for a conversational planning assistant.
The assistant helps users create, refine, and manage structured plans (projects, trips, events, learning goals, schedules) through dialogue.

Decide whether the user's latest message is something a planning assistant should engage with. Casual conversation, greetings, confirmations, clarifications, and anything plausibly related to planning are IN domain. Only clearly unrelated or abusive requests (e.g. writing malware, generating unrelated long-form content, roleplay with no planning intent) are OUT of domain.

Respond with JSON only: {"allow": true|false, "reason": "<one short sentence>"}`

// Result is a classification outcome.
type Result struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Filter classifies messages via a lightweight generation call.
type Filter struct {
	gen     provider.Generator
	log     *slog.Logger
	enabled bool
}

// New returns a filter. A disabled filter allows everything.
func New(gen provider.Generator, log *slog.Logger, enabled bool) *Filter {
	if log == nil {
		log = slog.Default()
	}
	return &Filter{gen: gen, log: log, enabled: enabled}
}

// Classify decides whether text should reach the main reasoning path.
// Ambiguous or failed classifications default to allow: a false
// rejection costs more user trust than one wasted reasoning call.
// Rejections are logged with their reason for observability.
func (f *Filter) Classify(ctx context.Context, text string, recent []chat.Message) Result {
	if !f.enabled || f.gen == nil {
		return Result{Allow: true, Reason: "guardrail disabled"}
	}

	// Short confirmations ("yes", "go ahead") are always in-domain;
	// skip the classification call entirely.
	if len([]rune(strings.TrimSpace(text))) <= 24 {
		return Result{Allow: true, Reason: "short follow-up"}
	}

	raw, err := f.gen.Complete(ctx, classifierPrompt, buildClassifierInput(text, recent))
	if err != nil {
		f.log.Warn("guardrail classification failed, defaulting to allow", "error", err)
		return Result{Allow: true, Reason: "classifier unavailable"}
	}

	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		f.log.Warn("guardrail returned unparseable verdict, defaulting to allow", "raw", raw)
		return Result{Allow: true, Reason: "unparseable verdict"}
	}
	if !res.Allow {
		f.log.Info("guardrail rejected request", "reason", res.Reason)
	}
	return res
}

func buildClassifierInput(text string, recent []chat.Message) string {
	var b strings.Builder
	if len(recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range recent {
			b.WriteString(string(m.Role))
			b.WriteString(": ")
			b.WriteString(short(m.Content, 200))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Latest user message:\n")
	b.WriteString(text)
	return b.String()
}

func short(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "..."
}
