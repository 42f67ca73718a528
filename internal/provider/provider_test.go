package provider

import (
	"errors"
	"testing"

	"planit/internal/plan"
)

func validResponseJSON() string {
	return `{
		"thought": "the user wants a plan",
		"response_to_user": "Here is a draft plan for your review.",
		"action": "PROPOSE",
		"plan": {
			"title": "Weekend Trip",
			"overview": "Two days in the mountains.",
			"steps": [
				{"id": "step-1", "title": "Book cabin", "description": "Reserve for Sat-Sun", "status": "pending"}
			]
		},
		"change_summary": "Initial proposal."
	}`
}

func TestParseAgentResponse_Valid(t *testing.T) {
	resp, err := ParseAgentResponse(validResponseJSON())
	if err != nil {
		t.Fatalf("ParseAgentResponse: %v", err)
	}
	if resp.Action != ActionPropose {
		t.Fatalf("action = %s", resp.Action)
	}
	if resp.Plan == nil || len(resp.Plan.Steps) != 1 {
		t.Fatalf("plan not parsed: %+v", resp.Plan)
	}
}

func TestParseAgentResponse_CodeFence(t *testing.T) {
	fenced := "```json\n" + validResponseJSON() + "\n```"
	resp, err := ParseAgentResponse(fenced)
	if err != nil {
		t.Fatalf("ParseAgentResponse: %v", err)
	}
	if resp.Plan.Title != "Weekend Trip" {
		t.Fatalf("title = %q", resp.Plan.Title)
	}
}

func TestParseAgentResponse_NotJSON(t *testing.T) {
	_, err := ParseAgentResponse("Sure! Here's your plan: step one...")
	if !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("err = %v, want ErrSchemaViolation", err)
	}
}

func TestParseAgentResponse_Empty(t *testing.T) {
	_, err := ParseAgentResponse("   ")
	if !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("err = %v, want ErrSchemaViolation", err)
	}
}

func TestValidate_UnknownAction(t *testing.T) {
	r := &AgentResponse{Action: "DELETE", ResponseToUser: "ok"}
	if err := r.Validate(); !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("err = %v, want ErrSchemaViolation", err)
	}
}

func TestValidate_EmptyResponseToUser(t *testing.T) {
	r := &AgentResponse{Action: ActionNone, ResponseToUser: "  "}
	if err := r.Validate(); !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("err = %v, want ErrSchemaViolation", err)
	}
}

func TestValidate_PlanRequiredForMutatingActions(t *testing.T) {
	for _, a := range []Action{ActionPropose, ActionCreate, ActionUpdate} {
		r := &AgentResponse{Action: a, ResponseToUser: "ok"}
		if err := r.Validate(); !errors.Is(err, ErrSchemaViolation) {
			t.Fatalf("action %s without plan: err = %v", a, err)
		}
	}
}

func TestValidate_PlanOptionalForNoneAndReject(t *testing.T) {
	for _, a := range []Action{ActionNone, ActionReject} {
		r := &AgentResponse{Action: a, ResponseToUser: "ok"}
		if err := r.Validate(); err != nil {
			t.Fatalf("action %s: %v", a, err)
		}
	}
}

func TestValidate_InvalidPlanRejected(t *testing.T) {
	r := &AgentResponse{
		Action:         ActionCreate,
		ResponseToUser: "ok",
		Plan: &plan.Plan{
			Title: "Dup",
			Steps: []plan.Step{
				{ID: "s1", Title: "a"},
				{ID: "s1", Title: "b"},
			},
		},
	}
	if err := r.Validate(); !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("err = %v, want ErrSchemaViolation", err)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, c := range cases {
		if got := stripCodeFence(c.in); got != c.want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
