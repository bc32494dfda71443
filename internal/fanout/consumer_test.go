package fanout

import (
	"encoding/json"
	"testing"

	"github.com/sooh59599/zoohub/internal/domain/rule"
	"github.com/sooh59599/zoohub/internal/ruleengine"
)

func strp(s string) *string { return &s }

func withActions(id string, enabled bool, match rule.Match, kind, cfg string) rule.WithActions {
	return rule.WithActions{
		Rule: rule.Rule{ID: id, Name: id, Enabled: enabled, Match: match},
		Actions: []rule.Action{
			{ID: id + "-a1", RuleID: id, Kind: kind, Config: json.RawMessage(cfg), OrderNo: 0},
		},
	}
}

func TestMatchAndRender_InsertsJobForEveryMatchingAction(t *testing.T) {
	rules := []rule.WithActions{
		withActions("r1", true, rule.Match{Source: strp("shop")}, "EMAIL", `{"to":"{{payload.email}}","template":"order_created"}`),
		withActions("r2", true, rule.Match{}, "WEBHOOK", `{"method":"POST","url":"https://hooks.example.com/x"}`),
		withActions("r3", false, rule.Match{}, "WEBHOOK", `{"url":"https://disabled.example.com"}`),
		withActions("r4", true, rule.Match{Source: strp("crm")}, "WEBHOOK", `{"url":"https://crm.example.com"}`),
	}
	fields := ruleengine.EventFields{Source: "shop", Type: "order.created"}
	renderCtx := map[string]any{"payload": map[string]any{"email": "buyer@example.com"}}

	out, err := matchAndRender(rules, fields, renderCtx)
	if err != nil {
		t.Fatalf("matchAndRender() error = %v", err)
	}
	// r1 matches source, r2 is wildcard; r3 disabled, r4 source mismatch.
	if len(out) != 2 {
		t.Fatalf("expected 2 rendered actions, got %d: %+v", len(out), out)
	}
	if out[0].ruleID != "r1" || out[1].ruleID != "r2" {
		t.Fatalf("unexpected rule ids: %s, %s", out[0].ruleID, out[1].ruleID)
	}
}

// TestMatchAndRender_AlwaysInsertsEvenWhenTemplateResolvesEmpty guards the
// fan-out invariant that every action of a matching rule produces a job
// row, regardless of how its rendered payload looks. A rule referencing an
// event payload path this event doesn't have renders "" for that field,
// but the action must still come back as a row to insert.
func TestMatchAndRender_AlwaysInsertsEvenWhenTemplateResolvesEmpty(t *testing.T) {
	rules := []rule.WithActions{
		withActions("r1", true, rule.Match{}, "EMAIL", `{"to":"{{payload.missing}}","template":"{{payload.also_missing}}"}`),
		withActions("r2", true, rule.Match{}, "WEBHOOK", `{"url":"{{payload.missing_url}}"}`),
	}
	fields := ruleengine.EventFields{Source: "shop", Type: "order.created"}
	renderCtx := map[string]any{"payload": map[string]any{}}

	out, err := matchAndRender(rules, fields, renderCtx)
	if err != nil {
		t.Fatalf("matchAndRender() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 rendered actions despite empty-resolving templates, got %d", len(out))
	}

	var email map[string]any
	if err := json.Unmarshal(out[0].payload, &email); err != nil {
		t.Fatalf("unmarshal rendered email payload: %v", err)
	}
	if email["to"] != "" || email["template"] != "" {
		t.Fatalf("expected empty-string rendered fields, got %+v", email)
	}

	var webhook map[string]any
	if err := json.Unmarshal(out[1].payload, &webhook); err != nil {
		t.Fatalf("unmarshal rendered webhook payload: %v", err)
	}
	if webhook["url"] != "" {
		t.Fatalf("expected empty url, got %+v", webhook)
	}
}

func TestMatchAndRender_NoMatchYieldsNoActions(t *testing.T) {
	rules := []rule.WithActions{
		withActions("r1", true, rule.Match{Source: strp("crm"), Type: strp("lead.created")}, "EMAIL", `{"to":"a","template":"b"}`),
	}
	fields := ruleengine.EventFields{Source: "shop", Type: "order.created"}

	out, err := matchAndRender(rules, fields, map[string]any{})
	if err != nil {
		t.Fatalf("matchAndRender() error = %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no matches, got %d", len(out))
	}
}

func TestMatchAndRender_MultipleActionsOnOneRule(t *testing.T) {
	r := rule.WithActions{
		Rule: rule.Rule{ID: "r1", Name: "r1", Enabled: true},
		Actions: []rule.Action{
			{ID: "a1", RuleID: "r1", Kind: "EMAIL", Config: json.RawMessage(`{"to":"ops@example.com","template":"t1"}`)},
			{ID: "a2", RuleID: "r1", Kind: "WEBHOOK", Config: json.RawMessage(`{"url":"https://example.com/hook"}`)},
		},
	}
	fields := ruleengine.EventFields{Source: "shop", Type: "order.created"}

	out, err := matchAndRender([]rule.WithActions{r}, fields, map[string]any{})
	if err != nil {
		t.Fatalf("matchAndRender() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected both actions to produce an entry, got %d", len(out))
	}
	if out[0].action.ID != "a1" || out[1].action.ID != "a2" {
		t.Fatalf("unexpected action order: %s, %s", out[0].action.ID, out[1].action.ID)
	}
}
