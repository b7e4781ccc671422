package engagement

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/scraper"
	"github.com/ibeckermayer/xwatcher/internal/store"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	replies map[string][]scraper.ThreadReply
	err     error
	asked   []string
}

func (f *fakeFetcher) FetchReplies(_ context.Context, _ string, postID string) ([]scraper.ThreadReply, error) {
	f.asked = append(f.asked, postID)
	if f.err != nil {
		return nil, f.err
	}
	return f.replies[postID], nil
}

func setup(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func ownPost(t *testing.T, st *store.Store, id string, age time.Duration) {
	t.Helper()
	at := now.Add(-age)
	if _, err := st.InsertPost(&types.Post{ID: id, Handle: "bot", ScrapedAt: at, PostedAt: at.Format(time.RFC3339)}); err != nil {
		t.Fatal(err)
	}
}

func enabled() *config.Config {
	cfg := config.Default()
	cfg.Workflow.BotHandle = "@bot"
	cfg.Engagement.Enabled = true
	cfg.Engagement.Mode = config.EngagementReply
	cfg.Engagement.MaxPosts = 2
	return cfg
}

func TestTrackRecordsReplies(t *testing.T) {
	st := setup(t)
	ownPost(t, st, "b1", time.Hour)
	ownPost(t, st, "b2", 2*time.Hour)
	ownPost(t, st, "b3", 3*time.Hour)
	ownPost(t, st, "stale", 72*time.Hour)
	ownPost(t, st, "local-abc", time.Minute)

	f := &fakeFetcher{replies: map[string][]scraper.ThreadReply{
		"b1": {
			{ID: "r1", Handle: "carol", Content: "agree"},
			{ID: "r2", Handle: "bot", Content: "self"},
		},
		"b2": {{ID: "r3", Handle: "@dave", Content: "why"}},
	}}
	tr := New(st, f)
	tr.now = func() time.Time { return now }

	res, err := tr.Run(context.Background(), enabled())
	if err != nil {
		t.Fatal(err)
	}
	if res.Checked != 2 || res.New != 2 {
		t.Fatalf("result=%+v", res)
	}
	if fmt.Sprint(f.asked) != "[b1 b2]" {
		t.Fatalf("asked=%v, want newest two", f.asked)
	}

	pending, _ := st.PendingEngagements(config.EngagementReply)
	if len(pending) != 2 {
		t.Fatalf("pending=%d", len(pending))
	}
	if _, err := st.GetPost(types.PostKey{ID: "r3", Handle: "dave"}); err != nil {
		t.Fatalf("reply not stored as a post: %v", err)
	}

	// a rescan finds nothing new
	res, _ = tr.Run(context.Background(), enabled())
	if res.New != 0 {
		t.Fatalf("rescan new=%d", res.New)
	}
}

func TestTrackFallsBackToNextFetcher(t *testing.T) {
	st := setup(t)
	ownPost(t, st, "b1", time.Hour)
	broken := &fakeFetcher{err: errors.New("blocked")}
	mirror := &fakeFetcher{replies: map[string][]scraper.ThreadReply{"b1": {{ID: "r1", Handle: "carol"}}}}

	tr := New(st, broken, mirror)
	tr.now = func() time.Time { return now }
	res, err := tr.Run(context.Background(), enabled())
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 1 {
		t.Fatalf("result=%+v", res)
	}
}

func TestTrackDisabledOrMisconfigured(t *testing.T) {
	st := setup(t)
	tr := New(st, &fakeFetcher{})
	if res, err := tr.Run(context.Background(), config.Default()); err != nil || res != (Result{}) {
		t.Fatalf("disabled: res=%+v err=%v", res, err)
	}
	cfg := enabled()
	cfg.Workflow.BotHandle = ""
	if _, err := tr.Run(context.Background(), cfg); err == nil {
		t.Fatal("expected error without bot handle")
	}
}
