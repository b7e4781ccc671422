package generator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ibeckermayer/xwatcher/internal/analyzer/providers"
	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/store"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeDrafter struct {
	fail   map[string]bool
	models []string
}

func (f *fakeDrafter) Draft(_ context.Context, post types.Post, _ *config.Prompts, model string) (providers.Draft, error) {
	f.models = append(f.models, model)
	if f.fail[post.ID] {
		return providers.Draft{}, errors.New("provider error")
	}
	return providers.Draft{Text: "reply to " + post.ID, Insight: "i", Cost: 0.5, Model: "m"}, nil
}

func newGenerator(t *testing.T, d *fakeDrafter) (*Generator, *store.Store, *int) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	sleeps := 0
	g := New(st, d)
	g.now = func() time.Time { return now }
	g.sleep = func(context.Context, time.Duration) error { sleeps++; return nil }
	return g, st, &sleeps
}

func addPost(t *testing.T, st *store.Store, p types.Post, score int) {
	t.Helper()
	if p.Handle == "" {
		p.Handle = "alice"
	}
	p.ScrapedAt = now.Add(-time.Hour)
	if _, err := st.InsertPost(&p); err != nil {
		t.Fatal(err)
	}
	if score >= 0 {
		if err := st.UpdatePostScore(p.ID, score, 0); err != nil {
			t.Fatal(err)
		}
	}
}

func TestGenerateFilters(t *testing.T) {
	d := &fakeDrafter{}
	g, st, sleeps := newGenerator(t, d)

	addPost(t, st, types.Post{ID: "good"}, 90)
	addPost(t, st, types.Post{ID: "low"}, 10)
	addPost(t, st, types.Post{ID: "unscored"}, -1)
	addPost(t, st, types.Post{ID: "reply", IsReply: true}, 95)
	addPost(t, st, types.Post{ID: "rt", IsRetweet: true}, 95)
	addPost(t, st, types.Post{ID: "old", PostedAt: now.Add(-13 * time.Hour).Format(time.RFC3339)}, 95)
	addPost(t, st, types.Post{ID: "mine", Handle: "bot"}, 95)
	addPost(t, st, types.Post{ID: "also"}, 80)

	cfg := config.Default()
	cfg.Workflow.BotHandle = "@Bot"
	cfg.Generator.Signature = "#sig"

	res, err := g.Run(context.Background(), cfg, config.DefaultPrompts())
	if err != nil {
		t.Fatal(err)
	}
	if res.Drafted != 2 {
		t.Fatalf("drafted=%d, want 2", res.Drafted)
	}
	if *sleeps != 1 {
		t.Fatalf("sleeps=%d, want 1 between two drafts", *sleeps)
	}

	pending, _ := st.ListReplies(types.StatusPending)
	if len(pending) != 2 {
		t.Fatalf("pending=%d", len(pending))
	}
	if pending[0].Content != "reply to good #sig" || pending[0].Cost != 0.5 {
		t.Fatalf("reply=%+v", pending[0])
	}

	// a second run finds every target already taken
	res, _ = g.Run(context.Background(), cfg, config.DefaultPrompts())
	if res.Drafted != 0 {
		t.Fatalf("second run drafted=%d", res.Drafted)
	}
}

func TestGenerateToggles(t *testing.T) {
	g, st, _ := newGenerator(t, &fakeDrafter{})
	addPost(t, st, types.Post{ID: "reply", IsReply: true}, 95)
	addPost(t, st, types.Post{ID: "rt", IsRetweet: true}, 95)

	cfg := config.Default()
	cfg.Generator.ReplyToReplies = true
	cfg.Generator.ReplyToReposts = true
	res, err := g.Run(context.Background(), cfg, config.DefaultPrompts())
	if err != nil {
		t.Fatal(err)
	}
	if res.Drafted != 2 {
		t.Fatalf("drafted=%d, want 2", res.Drafted)
	}
}

func TestGenerateFailureDoesNotBlock(t *testing.T) {
	g, st, _ := newGenerator(t, &fakeDrafter{fail: map[string]bool{"a": true}})
	addPost(t, st, types.Post{ID: "a"}, 90)
	addPost(t, st, types.Post{ID: "b"}, 90)

	res, err := g.Run(context.Background(), config.Default(), config.DefaultPrompts())
	if err != nil {
		t.Fatal(err)
	}
	if res.Drafted != 1 || res.Failed != 1 {
		t.Fatalf("result=%+v", res)
	}
}

func TestGenerateInvalidMode(t *testing.T) {
	g, _, _ := newGenerator(t, &fakeDrafter{})
	cfg := config.Default()
	cfg.Workflow.Mode = "yolo"
	if _, err := g.Run(context.Background(), cfg, config.DefaultPrompts()); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestGenerateEngagement(t *testing.T) {
	d := &fakeDrafter{}
	g, st, _ := newGenerator(t, d)
	addPost(t, st, types.Post{ID: "bot1", Handle: "bot"}, -1)
	addPost(t, st, types.Post{ID: "fan1", Handle: "carol", IsReply: true}, -1)
	st.InsertEngagement(types.Engagement{
		Post:      types.PostKey{ID: "fan1", Handle: "carol"},
		BotPostID: "bot1",
		Mode:      config.EngagementReply,
		CreatedAt: now,
	})

	cfg := config.Default()
	cfg.Workflow.BotHandle = "bot"
	cfg.Engagement.Enabled = true
	cfg.Engagement.Model = "engage-model"

	res, err := g.Run(context.Background(), cfg, config.DefaultPrompts())
	if err != nil {
		t.Fatal(err)
	}
	if res.Engaged != 1 || res.Drafted != 0 {
		t.Fatalf("result=%+v", res)
	}
	if len(d.models) != 1 || d.models[0] != "engage-model" {
		t.Fatalf("models=%v", d.models)
	}
	left, _ := st.PendingEngagements(config.EngagementReply)
	if len(left) != 0 {
		t.Fatalf("engagement not marked replied")
	}
}

func TestWithSignature(t *testing.T) {
	if got := WithSignature("hi #sig", "#sig"); got != "hi #sig" {
		t.Fatalf("got %q", got)
	}
	if got := WithSignature(" hi ", ""); got != "hi" {
		t.Fatalf("got %q", got)
	}
}
