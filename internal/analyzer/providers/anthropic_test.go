package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/store"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

func fakeMessages(t *testing.T, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path=%q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       req["model"],
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": text}},
			"usage":       map[string]any{"input_tokens": 1000, "output_tokens": 100},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicScore(t *testing.T) {
	srv := fakeMessages(t, "77")
	cacheDir := filepath.Join(t.TempDir(), "llm")
	costs := map[string]config.ModelCost{"scorer": {InputPerMTok: 1, OutputPerMTok: 10}}
	a := NewAnthropic("key", "scorer", "drafter", costs, &store.LLMCache{Dir: cacheDir},
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	s, err := a.Score(context.Background(), types.Post{ID: "1", Handle: "alice", Content: "hi"}, config.DefaultPrompts())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if s.Value != 77 || s.Model != "scorer" {
		t.Fatalf("score=%+v", s)
	}
	// 1000 * 1/1e6 + 100 * 10/1e6
	if s.Cost < 0.00199 || s.Cost > 0.00201 {
		t.Fatalf("cost=%v, want 0.002", s.Cost)
	}

	entries, _ := os.ReadDir(cacheDir)
	if len(entries) != 1 {
		t.Fatalf("cached exchanges=%d, want 1", len(entries))
	}
}

func TestAnthropicDraftModelOverride(t *testing.T) {
	srv := fakeMessages(t, `{"reply": "nice", "insight": "short"}`)
	a := NewAnthropic("key", "scorer", "drafter", nil, nil,
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	d, err := a.Draft(context.Background(), types.Post{ID: "1", Handle: "alice"}, config.DefaultPrompts(), "engager")
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if d.Text != "nice" || d.Model != "engager" {
		t.Fatalf("draft=%+v", d)
	}

	d, err = a.Draft(context.Background(), types.Post{ID: "1", Handle: "alice"}, config.DefaultPrompts(), "")
	if err != nil {
		t.Fatal(err)
	}
	if d.Model != "drafter" {
		t.Fatalf("model=%q, want drafter", d.Model)
	}
}

func TestAnthropicServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	a := NewAnthropic("key", "scorer", "drafter", nil, nil,
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	if _, err := a.Score(context.Background(), types.Post{ID: "1", Handle: "a"}, config.DefaultPrompts()); err == nil {
		t.Fatal("expected error from failing server")
	}
}
