// Plan-It local REPL: a development client that runs the orchestration
// core in-process against an in-memory store.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"
	"github.com/joho/godotenv"

	"planit/internal/config"
	"planit/internal/contextmgr"
	"planit/internal/guardrail"
	"planit/internal/orchestrator"
	"planit/internal/plan"
	"planit/internal/provider"
	"planit/internal/session"
	"planit/internal/storage"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	changedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4")).Bold(true)
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, mutedStyle.Render("loaded .env"))
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	gen := provider.NewOpenAIGenerator(provider.OpenAIConfig{
		BaseURL:   cfg.Provider.BaseURL,
		APIKey:    cfg.Provider.APIKey,
		Model:     cfg.Provider.Model,
		TimeoutMS: cfg.Provider.TimeoutMS,
	})
	store := storage.NewMemoryStore()
	tok := contextmgr.NewTokenizerForModel(cfg.Provider.Model)
	cm := contextmgr.New(tok, gen, contextmgr.Options{
		TokenBudget:     cfg.Context.TokenBudget,
		TriggerFraction: cfg.Context.TriggerFraction,
		RecentMessages:  cfg.Context.RecentMessages,
	}, logger)
	orch := orchestrator.New(gen, store, guardrail.New(gen, logger, cfg.Guardrail.Enabled), cm, logger, orchestrator.Options{
		GenTimeout: time.Duration(cfg.Provider.TimeoutMS) * time.Millisecond,
	})

	ctx := context.Background()
	sess := session.New(session.NewID(), "local")
	if err := store.Create(ctx, sess); err != nil {
		fmt.Fprintf(os.Stderr, "create session: %v\n", err)
		os.Exit(1)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "you> ",
		HistoryFile:       historyPath(),
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Println(titleStyle.Render("Plan-It") + mutedStyle.Render("  /plan /versions /new /quit"))

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		switch input {
		case "/quit", "/exit":
			return
		case "/new":
			sess = session.New(session.NewID(), "local")
			if err := store.Create(ctx, sess); err != nil {
				fmt.Fprintf(os.Stderr, "create session: %v\n", err)
				continue
			}
			fmt.Println(mutedStyle.Render("started " + sess.ID))
			continue
		case "/plan":
			printCurrentPlan(ctx, store, sess.ID)
			continue
		case "/versions":
			printVersions(ctx, store, sess.ID)
			continue
		}

		result, err := orch.RunTurn(ctx, sess.ID, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
			continue
		}
		printResult(result)
	}
}

func printResult(result *orchestrator.TurnResult) {
	fmt.Println(renderMarkdown(result.Response))
	if result.Plan != nil && result.Action != provider.ActionNone {
		printPlan(result.Plan, result.ChangedStepIDs)
	}
	if result.AwaitingConfirmation {
		fmt.Println(pendingStyle.Render("awaiting confirmation - reply to approve or adjust"))
	}
	if result.PlanVersion > 0 && (result.Action == provider.ActionCreate || result.Action == provider.ActionUpdate) {
		fmt.Println(mutedStyle.Render(fmt.Sprintf("saved as version %d", result.PlanVersion)))
	}
}

func printPlan(p *plan.Plan, changed []string) {
	changedSet := make(map[string]struct{}, len(changed))
	for _, id := range changed {
		changedSet[id] = struct{}{}
	}
	fmt.Println(titleStyle.Render(p.Title))
	fmt.Println(mutedStyle.Render(p.Overview))
	for _, s := range p.Steps {
		marker := "[ ]"
		style := pendingStyle
		switch s.Status {
		case plan.StatusInProgress:
			marker = "[~]"
		case plan.StatusCompleted:
			marker = "[x]"
			style = doneStyle
		}
		line := fmt.Sprintf("%s %s: %s", marker, s.ID, s.Title)
		if _, hit := changedSet[s.ID]; hit {
			fmt.Println(changedStyle.Render(line + " *"))
		} else {
			fmt.Println(style.Render(line))
		}
	}
}

func printCurrentPlan(ctx context.Context, store storage.Store, sessionID string) {
	s, err := store.Get(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session: %v\n", err)
		return
	}
	if s.CurrentPlan == nil {
		fmt.Println(mutedStyle.Render("no confirmed plan yet"))
		return
	}
	printPlan(s.CurrentPlan, nil)
}

func printVersions(ctx context.Context, store storage.Store, sessionID string) {
	s, err := store.Get(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session: %v\n", err)
		return
	}
	if len(s.PlanVersions) == 0 {
		fmt.Println(mutedStyle.Render("no versions yet"))
		return
	}
	for _, v := range s.PlanVersions {
		fmt.Printf("%s %s\n",
			titleStyle.Render(fmt.Sprintf("v%d", v.Version)),
			v.ChangeSummary)
	}
}

// renderMarkdown 使用 Glamour 渲染 assistant 回复
// renderMarkdown renders the assistant reply with Glamour.
func renderMarkdown(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.planit_history"
}
