package providers

import (
	"context"
	"strings"
	"testing"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

func TestParseScore(t *testing.T) {
	cases := map[string]int{
		"87":             87,
		" 42\n":          42,
		"Score: 100":     100,
		"150":            100,
		"-5":             0,
		"0":              0,
		"I'd say 73/100": 73,
	}
	for in, want := range cases {
		got, err := ParseScore(in)
		if err != nil {
			t.Fatalf("ParseScore(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseScore(%q)=%d, want %d", in, got, want)
		}
	}
	if _, err := ParseScore("no idea"); err == nil {
		t.Fatal("expected error for response without a number")
	}
}

func TestParseDraft(t *testing.T) {
	fenced := "Here you go:\n```json\n{\"reply\": \"Good \\\"point\\\"\", \"insight\": \"agree and extend\"}\n```"
	reply, insight, err := ParseDraft(fenced)
	if err != nil {
		t.Fatalf("ParseDraft: %v", err)
	}
	if reply != "Good point" || insight != "agree and extend" {
		t.Fatalf("reply=%q insight=%q", reply, insight)
	}

	reply, insight, err = ParseDraft(`{"reply": "raw"}`)
	if err != nil || reply != "raw" || insight == "" {
		t.Fatalf("reply=%q insight=%q err=%v", reply, insight, err)
	}

	if _, _, err := ParseDraft(`{"reply": ""}`); err == nil {
		t.Fatal("expected error for empty reply")
	}
	if _, _, err := ParseDraft("sorry, I can't"); err == nil {
		t.Fatal("expected error for non-JSON")
	}
}

func TestPromptsIncludeBrandAndPost(t *testing.T) {
	prompts := &config.Prompts{Brand: "Acme", Persona: "dry wit", Keywords: []string{"go"}}
	post := types.Post{ID: "1", Handle: "alice", Content: "shipping go 1.25", IsRetweet: true, RetweetSource: "bob"}

	for _, p := range []string{BuildScorePrompt(post, prompts), BuildDraftPrompt(post, prompts)} {
		for _, want := range []string{"Acme", "dry wit", "@alice", "shipping go 1.25"} {
			if !strings.Contains(p, want) {
				t.Fatalf("prompt missing %q:\n%s", want, p)
			}
		}
	}
	if !strings.Contains(BuildScorePrompt(post, prompts), "Repost of @bob") {
		t.Fatal("score prompt should mention the repost source")
	}
}

func TestEstimateCost(t *testing.T) {
	costs := map[string]config.ModelCost{"m": {InputPerMTok: 3, OutputPerMTok: 15}}
	got := EstimateCost(costs, "m", 1_000_000, 100_000)
	if got < 4.4999 || got > 4.5001 {
		t.Fatalf("cost=%v, want 4.5", got)
	}
	if EstimateCost(costs, "other", 10, 10) != 0 {
		t.Fatal("unknown model should cost nothing")
	}
}

func TestTemplateDeterministic(t *testing.T) {
	prompts := &config.Prompts{Keywords: []string{"privacy", "Bitcoin"}, Templates: []string{"a", "b"}}
	hit := types.Post{ID: "1", Handle: "x", Content: "bitcoin and privacy"}
	miss := types.Post{ID: "2", Handle: "x", Content: "lunch"}

	s, _ := Template{}.Score(context.Background(), hit, prompts)
	if s.Value != 90 || s.Cost != 0 {
		t.Fatalf("score=%+v, want 90 at zero cost", s)
	}
	first, _ := Template{}.Score(context.Background(), miss, prompts)
	second, _ := Template{}.Score(context.Background(), miss, prompts)
	if first.Value != second.Value || first.Value < 20 || first.Value > 60 {
		t.Fatalf("scores=%d,%d, want equal in [20,60]", first.Value, second.Value)
	}

	d, err := Template{}.Draft(context.Background(), hit, prompts, "")
	if err != nil {
		t.Fatal(err)
	}
	if d.Text != "a" && d.Text != "b" {
		t.Fatalf("draft=%q not from templates", d.Text)
	}
	if d.Model != TemplateModel || d.Cost != 0 {
		t.Fatalf("draft=%+v", d)
	}
}
