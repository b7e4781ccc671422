package store

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/ibeckermayer/xwatcher/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPost(id, handle string) *types.Post {
	return &types.Post{
		ID:        id,
		Handle:    handle,
		Content:   "hello from " + handle,
		ScrapedAt: time.Now().Add(-time.Hour),
		PostedAt:  time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
	}
}

func TestInsertPostDedup(t *testing.T) {
	s := openTestStore(t)

	ok, err := s.InsertPost(testPost("1", "alice"))
	if err != nil || !ok {
		t.Fatalf("first insert ok=%v err=%v", ok, err)
	}
	ok, err = s.InsertPost(testPost("1", "alice"))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if ok {
		t.Fatal("duplicate (post_id, handle) was inserted")
	}

	// same id under another handle is a different post
	ok, err = s.InsertPost(testPost("1", "bob"))
	if err != nil || !ok {
		t.Fatalf("other handle ok=%v err=%v", ok, err)
	}

	posts, err := s.ListPosts()
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 2 {
		t.Fatalf("posts=%d, want 2", len(posts))
	}

	exists, err := s.PostExists(types.PostKey{ID: "1", Handle: "alice"})
	if err != nil || !exists {
		t.Fatalf("PostExists=%v err=%v", exists, err)
	}
	exists, _ = s.PostExists(types.PostKey{ID: "2", Handle: "alice"})
	if exists {
		t.Fatal("PostExists reported a post that was never stored")
	}
}

func TestScoreSentinel(t *testing.T) {
	s := openTestStore(t)
	s.InsertPost(testPost("1", "alice"))
	s.InsertPost(testPost("2", "alice"))

	unscored, err := s.UnscoredPosts()
	if err != nil {
		t.Fatal(err)
	}
	if len(unscored) != 2 {
		t.Fatalf("unscored=%d, want 2", len(unscored))
	}

	// zero is a real score, not the unscored marker
	if err := s.UpdatePostScore("1", 0, 0.001); err != nil {
		t.Fatalf("UpdatePostScore: %v", err)
	}
	unscored, _ = s.UnscoredPosts()
	if len(unscored) != 1 || unscored[0].ID != "2" {
		t.Fatalf("unscored=%v, want only post 2", unscored)
	}

	p, err := s.GetPost(types.PostKey{ID: "1", Handle: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Score == nil || *p.Score != 0 {
		t.Fatalf("score=%v, want 0", p.Score)
	}
	if p.ScoreCost != 0.001 {
		t.Fatalf("score_cost=%v, want 0.001", p.ScoreCost)
	}

	if err := s.UpdatePostScore("missing", 50, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestGetPostNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetPost(types.PostKey{ID: "9", Handle: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if _, err := s.FindPostByID("9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestMarkPostReplied(t *testing.T) {
	s := openTestStore(t)
	s.InsertPost(testPost("1", "alice"))
	key := types.PostKey{ID: "1", Handle: "alice"}

	if err := s.MarkPostReplied(key, "999"); err != nil {
		t.Fatal(err)
	}
	p, _ := s.GetPost(key)
	if !p.RepliedTo || p.ReplyPostID != "999" {
		t.Fatalf("replied_to=%v reply_post_id=%q", p.RepliedTo, p.ReplyPostID)
	}
}

func TestMalformedPostRowSkipped(t *testing.T) {
	s := openTestStore(t)
	s.InsertPost(testPost("1", "alice"))
	_, err := s.db.Exec(`INSERT INTO posts (post_id, handle, content, scraped_at) VALUES ('2', 'alice', 'x', 'not a time')`)
	if err != nil {
		t.Fatal(err)
	}

	posts, err := s.ListPosts()
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "1" {
		t.Fatalf("posts=%v, want only the well-formed row", posts)
	}
}

func TestHandles(t *testing.T) {
	s := openTestStore(t)
	first := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	if err := s.UpsertHandleChecked("alice", first); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertHandleChecked("alice", second); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkHandlePosted("alice", second); err != nil {
		t.Fatal(err)
	}

	handles, err := s.ListHandles()
	if err != nil {
		t.Fatal(err)
	}
	if len(handles) != 1 {
		t.Fatalf("handles=%d, want 1", len(handles))
	}
	if !handles[0].LastChecked.Equal(second) {
		t.Fatalf("last_checked=%v, want %v", handles[0].LastChecked, second)
	}
	if !handles[0].LastPosted.Equal(second) {
		t.Fatalf("last_posted=%v, want %v", handles[0].LastPosted, second)
	}
}

func TestMeta(t *testing.T) {
	s := openTestStore(t)
	if _, ok, err := s.GetMeta(MetaLastSource); err != nil || ok {
		t.Fatalf("ok=%v err=%v, want unset", ok, err)
	}
	s.SetMeta(MetaLastSource, "nitter")
	s.SetMeta(MetaLastSource, "x")
	v, ok, err := s.GetMeta(MetaLastSource)
	if err != nil || !ok || v != "x" {
		t.Fatalf("v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestEngagements(t *testing.T) {
	s := openTestStore(t)
	s.InsertPost(testPost("50", "carol"))
	key := types.PostKey{ID: "50", Handle: "carol"}

	ok, err := s.InsertEngagement(types.Engagement{Post: key, BotPostID: "10", Mode: "reply"})
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	ok, _ = s.InsertEngagement(types.Engagement{Post: key, BotPostID: "10", Mode: "reply"})
	if ok {
		t.Fatal("engagement inserted twice")
	}

	pending, err := s.PendingEngagements("reply")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].BotPostID != "10" {
		t.Fatalf("pending=%v", pending)
	}
	if err := s.MarkEngagementReplied(key); err != nil {
		t.Fatal(err)
	}
	pending, _ = s.PendingEngagements("reply")
	if len(pending) != 0 {
		t.Fatalf("pending=%d after reply, want 0", len(pending))
	}
}

func TestPerformanceAppend(t *testing.T) {
	s := openTestStore(t)
	err := s.AppendPerformance(types.PerformanceEntry{Source: "x", Handle: "alice", Success: true, Latency: 1500 * time.Millisecond, Scraped: 20, New: 3})
	if err != nil {
		t.Fatal(err)
	}
	var n, latency int
	s.db.QueryRow(`SELECT COUNT(*), MAX(latency_ms) FROM performance_log`).Scan(&n, &latency)
	if n != 1 || latency != 1500 {
		t.Fatalf("rows=%d latency=%d", n, latency)
	}
}

// openAtVersion builds a database that only has the oldest layout applied
func openAtVersion(t *testing.T, path string, version int64) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		t.Fatal(err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := provider.UpTo(context.Background(), version); err != nil {
		t.Fatalf("UpTo(%d): %v", version, err)
	}
	return db
}

func TestMigrationFromOldestLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db := openAtVersion(t, path, 1)

	for i := 1; i <= 3; i++ {
		_, err := db.Exec(`INSERT INTO posts (post_id, handle, content, scraped_at, posted_at, score)
			VALUES (?, 'alice', 'old', '2025-01-01T10:00:00', 'Jan 1, 2025 · 9:00 AM UTC', 40)`, i)
		if err != nil {
			t.Fatal(err)
		}
	}
	_, err := db.Exec(`INSERT INTO replies (id, target_post_id, target_handle, content, status, created_at)
		VALUES (4, '1', 'alice', 'hi', 'qualified', '2025-01-01T11:00:00')`)
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, _ := s.SchemaVersion()
	if v != 4 {
		t.Fatalf("version=%d, want 4", v)
	}

	posts, err := s.ListPosts()
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 3 {
		t.Fatalf("posts=%d, want 3 (no rows lost)", len(posts))
	}
	for _, p := range posts {
		if p.IsRetweet || p.RepliedTo || p.ReplyPostID != "" || p.ScoreCost != 0 {
			t.Fatalf("new columns not defaulted: %+v", p)
		}
		if p.Score == nil || *p.Score != 40 {
			t.Fatalf("score lost: %v", p.Score)
		}
	}
	r, err := s.GetReply(4)
	if err != nil {
		t.Fatal(err)
	}
	if r.Model != "" || r.NostrStatus != "" || r.Status != types.StatusQualified {
		t.Fatalf("reply not defaulted: %+v", r)
	}
	s.Close()

	// second open is a no-op
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	again, _ := s.ListPosts()
	if len(again) != len(posts) {
		t.Fatalf("posts after reopen=%d, want %d", len(again), len(posts))
	}
	for i := range posts {
		if again[i].ID != posts[i].ID || again[i].PostedAt != posts[i].PostedAt || !again[i].ScrapedAt.Equal(posts[i].ScrapedAt) {
			t.Fatalf("row %d changed across reopen", i)
		}
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	s.InsertPost(testPost("1", "alice"))
	s.InsertPost(testPost("2", "alice"))
	s.UpdatePostScore("1", 90, 0.01)
	s.UpsertHandleChecked("alice", time.Now())
	s.InsertReply(&types.Reply{Target: types.PostKey{ID: "1", Handle: "alice"}, Content: "hi", Cost: 0.02})

	st, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Posts != 2 || st.Unscored != 1 || st.Handles != 1 {
		t.Fatalf("stats=%+v", st)
	}
	if st.Replies[types.StatusPending] != 1 {
		t.Fatalf("pending=%d, want 1", st.Replies[types.StatusPending])
	}
	if st.GenerationCost < 0.0199 || st.GenerationCost > 0.0201 {
		t.Fatalf("generation cost=%v", st.GenerationCost)
	}
}

func TestLLMCache(t *testing.T) {
	c := &LLMCache{Dir: filepath.Join(t.TempDir(), "llm")}
	path, err := c.Save(LLMExchange{Purpose: "score", Model: "m", Prompt: "p", Response: "r"})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != c.Dir {
		t.Fatalf("path=%q outside %q", path, c.Dir)
	}

	var nilCache *LLMCache
	if p, err := nilCache.Save(LLMExchange{}); err != nil || p != "" {
		t.Fatalf("nil cache p=%q err=%v", p, err)
	}
}
