// Package orchestrator drives one conversation turn end to end:
// guardrail, context assembly, the generation call, the two-phase
// commit protocol, and the atomic persistence write.
package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"planit/internal/contextmgr"
	"planit/internal/guardrail"
	"planit/internal/provider"
	"planit/internal/storage"
)

// Orchestrator 每会话严格串行的回合状态机。所有依赖显式注入，
// 没有全局单例。
// Orchestrator is the per-turn state machine. Turns for one session
// are strictly serialized; distinct sessions run concurrently. All
// collaborators are injected explicitly; nothing is a global
// singleton.
type Orchestrator struct {
	gen          provider.Generator
	store        storage.Store
	guard        *guardrail.Filter
	ctxmgr       *contextmgr.Manager
	log          *slog.Logger
	systemPrompt string
	genTimeout   time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New wires the orchestrator. Guard may be nil (no pre-filtering).
func New(gen provider.Generator, store storage.Store, guard *guardrail.Filter, cm *contextmgr.Manager, log *slog.Logger, opts Options) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	timeout := opts.GenTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Orchestrator{
		gen:          gen,
		store:        store,
		guard:        guard,
		ctxmgr:       cm,
		log:          log,
		systemPrompt: systemPrompt,
		genTimeout:   timeout,
		locks:        make(map[string]*sync.Mutex),
	}
}

// lockSession 单写者串行点：版本编号和计划变更不可交换，同一会话的
// 回合必须完整结束后才能接受下一个。
// lockSession is the single-writer-per-session serialization point.
// Version numbering and plan mutation are order-sensitive, so a turn
// must fully complete before the next one for the same session is
// accepted. Distinct sessions share no mutable state.
func (o *Orchestrator) lockSession(id string) func() {
	o.locksMu.Lock()
	mu, ok := o.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[id] = mu
	}
	o.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}
