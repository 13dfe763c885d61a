package plan

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/planforge/planforge/internal/llm"
	"github.com/planforge/planforge/internal/theme"
)

func TestDiffIdenticalDrafts(t *testing.T) {
	d := Draft{Title: "T", RQ: "Q"}
	if got := Diff(d, d); len(got) != 0 {
		t.Errorf("diff of identical drafts = %v, want empty", got)
	}
}

func TestDiffFieldOrder(t *testing.T) {
	before := Draft{Title: "T", RQ: "old q", Ethics: "old e", Data: "old d"}
	after := Draft{Title: "T", RQ: "new q", Ethics: "new e", Data: "new d"}
	got := Diff(before, after)
	want := []FieldChange{
		{Field: "rq", Before: "old q", After: "new q"},
		{Field: "data", Before: "old d", After: "new d"},
		{Field: "ethics", Before: "old e", After: "new e"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("diff = %v, want %v (canonical field order)", got, want)
	}
}

func TestDiffEmptyVsSet(t *testing.T) {
	got := Diff(Draft{}, Draft{Hypothesis: "h"})
	if len(got) != 1 || got[0].Field != "hypothesis" || got[0].Before != "" {
		t.Errorf("diff = %v", got)
	}
}

func TestNormalize(t *testing.T) {
	d := Normalize(map[string]any{
		"title":   "T",
		"rq":      "Q",
		"methods": 42,      // non-string coerced to empty
		"extra":   "noise", // unknown key dropped
	})
	if d.Title != "T" || d.RQ != "Q" {
		t.Errorf("normalize = %+v", d)
	}
	if d.Methods != "" || d.Background != "" {
		t.Errorf("missing/non-string fields not coerced: %+v", d)
	}
}

func TestDraftFromCandidate(t *testing.T) {
	sel := &theme.Candidate{
		ID:          "t1",
		Title:       "Graph anomaly detection",
		Summary:     "Detect anomalies in transaction graphs.",
		Novelty:     0.7,
		Feasibility: 0.5,
		Risk:        0.25,
		Evidence: []theme.Evidence{
			{Kind: theme.KindProvider, Text: "recent insight"},
			{Kind: theme.KindScholar, Text: "Prior Paper — Smith"},
		},
	}
	d := DraftFromCandidate(sel)
	if d.Title != "Graph anomaly detection" {
		t.Errorf("title = %q", d.Title)
	}
	bg := d.Background
	for _, want := range []string{
		"# Background / Prior Work",
		"## Graph anomaly detection",
		"Detect anomalies in transaction graphs.",
		"### Evidence",
		"- [Research] recent insight",
		"- [Scholar] Prior Paper — Smith",
		"Novelty: 70%",
		"Feasibility: 50%",
		"Risk: 25%",
	} {
		if !strings.Contains(bg, want) {
			t.Errorf("background missing %q:\n%s", want, bg)
		}
	}
	if !strings.Contains(d.RQ, "graph anomaly detection") {
		t.Errorf("rq = %q", d.RQ)
	}
}

func TestDraftFromNilCandidate(t *testing.T) {
	d := DraftFromCandidate(nil)
	if d.Title != "Selected Theme" {
		t.Errorf("title = %q, want generic default", d.Title)
	}
	if d.Background != "" {
		t.Errorf("background = %q, want empty", d.Background)
	}
	if d.Methods == "" || d.Ethics == "" {
		t.Errorf("template sections missing: %+v", d)
	}
}

type stubProvider struct {
	resp     llm.Response
	err      error
	lastMsgs []llm.Message
}

func (s *stubProvider) Generate(_ context.Context, msgs []llm.Message, _ llm.Options) (llm.Response, error) {
	s.lastMsgs = msgs
	return s.resp, s.err
}

func TestGenerateDraft(t *testing.T) {
	p := &stubProvider{resp: llm.Response{
		Text: `{"title":"T","rq":"Q","hypothesis":"H","data":"D","methods":"M","identification":"I","validation":"V","ethics":"E"}`,
	}}
	d, err := GenerateDraft(context.Background(), p, "My Theme")
	if err != nil {
		t.Fatalf("GenerateDraft: %v", err)
	}
	if d.RQ != "Q" || d.Ethics != "E" {
		t.Errorf("draft = %+v", d)
	}
	if len(p.lastMsgs) != 2 || !strings.Contains(p.lastMsgs[1].Content, "My Theme") {
		t.Errorf("prompt did not carry the title: %v", p.lastMsgs)
	}
}

func TestGenerateDraftDefaultsTitle(t *testing.T) {
	p := &stubProvider{resp: llm.Response{Text: `{"rq":"Q"}`}}
	d, err := GenerateDraft(context.Background(), p, "Fallback Title")
	if err != nil {
		t.Fatalf("GenerateDraft: %v", err)
	}
	if d.Title != "Fallback Title" {
		t.Errorf("title = %q, want prompt title when model omits one", d.Title)
	}
}

func TestGenerateDraftErrors(t *testing.T) {
	if _, err := GenerateDraft(context.Background(), &stubProvider{err: errors.New("down")}, "T"); err == nil {
		t.Error("want error when provider fails")
	}
	if _, err := GenerateDraft(context.Background(), &stubProvider{resp: llm.Response{Text: "nope"}}, "T"); err == nil {
		t.Error("want error on unparseable response")
	}
}

func TestRefineMissingFieldsDefaultEmpty(t *testing.T) {
	p := &stubProvider{resp: llm.Response{Text: "```json\n" + `{"title":"T2","rq":"Q2"}` + "\n```"}}
	original := Draft{Title: "T", RQ: "Q", Methods: "M"}
	refined, err := Refine(context.Background(), p, original, "tighten the question")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if refined.Methods != "" {
		t.Errorf("methods = %q, want empty when model omits field", refined.Methods)
	}
	changes := Diff(original, refined)
	var fields []string
	for _, c := range changes {
		fields = append(fields, c.Field)
	}
	if !reflect.DeepEqual(fields, []string{"title", "rq", "methods"}) {
		t.Errorf("changed fields = %v", fields)
	}
	if !strings.Contains(p.lastMsgs[1].Content, "tighten the question") {
		t.Errorf("review comments not in prompt")
	}
}
