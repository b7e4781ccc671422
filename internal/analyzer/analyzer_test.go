package analyzer

import (
	"testing"

	"github.com/ibeckermayer/xwatcher/internal/analyzer/providers"
	"github.com/ibeckermayer/xwatcher/internal/config"
)

func TestNewTestModeUsesTemplates(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.TestMode = true
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(providers.Template); !ok {
		t.Fatalf("provider=%T, want providers.Template", p)
	}
}

func TestNewRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := config.Default()
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error without an API key")
	}

	cfg.AI.APIKey = "k"
	if _, err := New(cfg, nil); err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg.AI.Provider = "other"
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
