package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"planit/internal/orchestrator"
	"planit/internal/plan"
	"planit/internal/provider"
	"planit/internal/session"
	"planit/internal/storage"
)

type fakeRunner struct {
	result *orchestrator.TurnResult
	err    error
	gotID  string
	gotMsg string
}

func (f *fakeRunner) RunTurn(_ context.Context, sessionID, userInput string) (*orchestrator.TurnResult, error) {
	f.gotID = sessionID
	f.gotMsg = userInput
	return f.result, f.err
}

func newTestHandler(t *testing.T, runner TurnRunner) (*Handler, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewHandler(runner, store, slog.Default()), store
}

func doRequest(h *Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func seedSession(t *testing.T, store *storage.MemoryStore, id, userID string) *session.Session {
	t.Helper()
	s := session.New(id, userID)
	if err := store.Create(context.Background(), s); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRunner{})
	rec := doRequest(h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateSession(t *testing.T) {
	h, store := newTestHandler(t, &fakeRunner{})

	rec := doRequest(h, http.MethodPost, "/session", "user-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["session_id"] == "" {
		t.Fatal("no session_id returned")
	}
	if _, err := store.Get(context.Background(), resp["session_id"]); err != nil {
		t.Fatalf("session not stored: %v", err)
	}
}

func TestCreateSession_MissingUser(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRunner{})
	rec := doRequest(h, http.MethodPost, "/session", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChat(t *testing.T) {
	runner := &fakeRunner{result: &orchestrator.TurnResult{
		Response:             "Here's a proposed plan.",
		Action:               provider.ActionPropose,
		Plan:                 &plan.Plan{Title: "Trip"},
		AwaitingConfirmation: true,
		TurnCount:            1,
	}}
	h, store := newTestHandler(t, runner)
	seedSession(t, store, "sess_1", "user-a")

	rec := doRequest(h, http.MethodPost, "/chat", "user-a",
		map[string]string{"session_id": "sess_1", "message": "plan a trip"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if runner.gotID != "sess_1" || runner.gotMsg != "plan a trip" {
		t.Fatalf("runner got id=%q msg=%q", runner.gotID, runner.gotMsg)
	}

	var res orchestrator.TurnResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Action != provider.ActionPropose || !res.AwaitingConfirmation {
		t.Fatalf("res = %+v", res)
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	h, store := newTestHandler(t, &fakeRunner{})
	seedSession(t, store, "sess_1", "user-a")

	rec := doRequest(h, http.MethodPost, "/chat", "user-a",
		map[string]string{"session_id": "sess_1", "message": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChat_UnknownSession(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRunner{})
	rec := doRequest(h, http.MethodPost, "/chat", "user-a",
		map[string]string{"session_id": "ghost", "message": "hello"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChat_WrongUserForbidden(t *testing.T) {
	h, store := newTestHandler(t, &fakeRunner{})
	seedSession(t, store, "sess_1", "user-a")

	rec := doRequest(h, http.MethodPost, "/chat", "user-b",
		map[string]string{"session_id": "sess_1", "message": "hello"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChat_TurnFailure(t *testing.T) {
	h, store := newTestHandler(t, &fakeRunner{err: fmt.Errorf("persist turn: disk full")})
	seedSession(t, store, "sess_1", "user-a")

	rec := doRequest(h, http.MethodPost, "/chat", "user-a",
		map[string]string{"session_id": "sess_1", "message": "hello"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["error"] == "" {
		t.Fatal("error body missing")
	}
}

func TestGetSessionAndSummary(t *testing.T) {
	h, store := newTestHandler(t, &fakeRunner{})
	s := session.New("sess_1", "user-a")
	s.TurnCount = 3
	s.CurrentPlan = &plan.Plan{Title: "Trip", Steps: []plan.Step{{ID: "s1", Title: "Go"}}}
	s.PlanVersions = []plan.Version{plan.NewVersion(1, s.CurrentPlan, "initial")}
	s.ConversationSummary = "planning a trip"
	if err := store.Create(context.Background(), s); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doRequest(h, http.MethodGet, "/session/sess_1/", "user-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got["turn_count"].(float64) != 3 || got["plan_versions"].(float64) != 1 {
		t.Fatalf("session body = %v", got)
	}
	if got["has_summary"] != true {
		t.Fatalf("has_summary = %v", got["has_summary"])
	}

	rec = doRequest(h, http.MethodGet, "/session/sess_1/summary", "user-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rec.Code)
	}
	var sum map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &sum)
	if sum["conversation_summary"] != "planning a trip" || sum["has_plan"] != true {
		t.Fatalf("summary body = %v", sum)
	}
}

func TestGetVersions(t *testing.T) {
	h, store := newTestHandler(t, &fakeRunner{})
	s := session.New("sess_1", "user-a")
	p := &plan.Plan{Title: "Trip", Steps: []plan.Step{{ID: "s1", Title: "Go"}}}
	s.PlanVersions = []plan.Version{
		plan.NewVersion(1, p, "initial"),
		plan.NewVersion(2, p, "tweak"),
	}
	if err := store.Create(context.Background(), s); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doRequest(h, http.MethodGet, "/session/sess_1/versions", "user-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var versions []plan.Version
	if err := json.Unmarshal(rec.Body.Bytes(), &versions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(versions) != 2 || versions[1].ChangeSummary != "tweak" {
		t.Fatalf("versions = %+v", versions)
	}
}

func TestListSessions(t *testing.T) {
	h, store := newTestHandler(t, &fakeRunner{})
	seedSession(t, store, "sess_a", "user-a")
	seedSession(t, store, "sess_b", "user-b")

	rec := doRequest(h, http.MethodGet, "/sessions", "user-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []storage.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "sess_a" {
		t.Fatalf("got = %+v", got)
	}
}

func TestListSessions_EmptyIsArray(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRunner{})
	rec := doRequest(h, http.MethodGet, "/sessions", "user-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := bytes.TrimSpace(rec.Body.Bytes()); string(body) != "[]" {
		t.Fatalf("body = %s, want []", body)
	}
}

func TestGetHistory_Unauthorized(t *testing.T) {
	h, store := newTestHandler(t, &fakeRunner{})
	seedSession(t, store, "sess_1", "user-a")

	rec := doRequest(h, http.MethodGet, "/session/sess_1/history", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}
