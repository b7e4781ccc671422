package scraper

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/store"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

type fakeSource struct {
	name    string
	ordered bool
	posts   map[string][]Candidate
	err     error
	calls   int
}

func (f *fakeSource) Name() string  { return f.name }
func (f *fakeSource) Ordered() bool { return f.ordered }

func (f *fakeSource) Fetch(_ context.Context, handle string) ([]Candidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.posts[handle], nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testConfig(handles ...string) *config.Config {
	cfg := config.Default()
	cfg.Workflow.Handles = handles
	return cfg
}

func ids(n ...string) []Candidate {
	out := make([]Candidate, len(n))
	for i, id := range n {
		out[i] = Candidate{ID: id, Content: "post " + id}
	}
	return out
}

func TestScrapeDedup(t *testing.T) {
	st := openStore(t)
	src := &fakeSource{name: "fake", posts: map[string][]Candidate{"alice": ids("3", "2", "1")}}
	s := New(st, src)

	res, err := s.Run(context.Background(), testConfig("@alice"))
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 3 {
		t.Fatalf("new=%d, want 3", res.New)
	}

	res, err = s.Run(context.Background(), testConfig("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 0 {
		t.Fatalf("second scan new=%d, want 0", res.New)
	}
	posts, _ := st.ListPosts()
	if len(posts) != 3 {
		t.Fatalf("posts=%d, want 3", len(posts))
	}
	for _, p := range posts {
		if p.Scored() {
			t.Fatalf("post %s inserted with a score", p.Key())
		}
	}
}

func TestScrapeEarlyStopOnlyWhenOrdered(t *testing.T) {
	for _, ordered := range []bool{true, false} {
		st := openStore(t)
		st.InsertPost(&types.Post{ID: "2", Handle: "alice", ScrapedAt: time.Now()})

		src := &fakeSource{name: "fake", ordered: ordered, posts: map[string][]Candidate{"alice": ids("3", "2", "1")}}
		res, err := New(st, src).Run(context.Background(), testConfig("alice"))
		if err != nil {
			t.Fatal(err)
		}
		want := 2
		if ordered {
			want = 1
		}
		if res.New != want {
			t.Fatalf("ordered=%v new=%d, want %d", ordered, res.New, want)
		}
	}
}

func TestScrapePinnedNeverStops(t *testing.T) {
	st := openStore(t)
	st.InsertPost(&types.Post{ID: "9", Handle: "alice", ScrapedAt: time.Now()})

	cands := ids("9", "3", "2")
	cands[0].IsPinned = true
	src := &fakeSource{name: "fake", ordered: true, posts: map[string][]Candidate{"alice": cands}}

	res, err := New(st, src).Run(context.Background(), testConfig("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 2 {
		t.Fatalf("new=%d, want 2", res.New)
	}
}

func TestScrapeIgnorePinnedAndCap(t *testing.T) {
	st := openStore(t)
	cands := ids("9", "5", "4", "3", "2", "1")
	cands[0].IsPinned = true
	src := &fakeSource{name: "fake", ordered: true, posts: map[string][]Candidate{"alice": cands}}

	cfg := testConfig("alice")
	cfg.Scraping.IgnorePinned = true
	cfg.Scraping.MaxNewPerHandle = 3

	res, err := New(st, src).Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 3 {
		t.Fatalf("new=%d, want 3", res.New)
	}
	if ok, _ := st.PostExists(types.PostKey{ID: "9", Handle: "alice"}); ok {
		t.Fatal("pinned post stored despite ignore_pinned")
	}
}

func TestScrapeBlockedFallsBack(t *testing.T) {
	st := openStore(t)
	x := &fakeSource{name: "x", err: ErrBlocked}
	mirror := &fakeSource{name: "nitter", posts: map[string][]Candidate{
		"alice": ids("1"),
		"bob":   ids("2"),
	}}

	res, err := New(st, x, mirror).Run(context.Background(), testConfig("alice", "bob"))
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 2 || len(res.Failed) != 0 {
		t.Fatalf("result=%+v", res)
	}
	if x.calls != 1 {
		t.Fatalf("blocked source called %d times, want 1", x.calls)
	}
	last, _, _ := st.GetMeta(store.MetaLastSource)
	if last != "nitter" {
		t.Fatalf("last source=%q, want nitter", last)
	}

	// next scan starts with the source that worked
	mirror.posts["alice"] = ids("3", "1")
	x.err = nil
	x.calls = 0
	if _, err := New(st, x, mirror).Run(context.Background(), testConfig("alice")); err != nil {
		t.Fatal(err)
	}
	if x.calls != 0 {
		t.Fatalf("x tried first despite nitter being last good source")
	}
}

func TestScrapeHandleCheckedOnFailure(t *testing.T) {
	st := openStore(t)
	src := &fakeSource{name: "fake", err: errors.New("network down")}

	res, err := New(st, src).Run(context.Background(), testConfig("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 1 {
		t.Fatalf("failed=%v", res.Failed)
	}
	handles, _ := st.ListHandles()
	if len(handles) != 1 || handles[0].LastChecked.IsZero() {
		t.Fatalf("handles=%+v", handles)
	}
}

func TestNormalizeStripsLinkAndControls(t *testing.T) {
	c := Candidate{
		ID:      "1",
		Content: "read\x00 this\n\n https://example.com/a  now",
		HasLink: true,
		LinkURL: "https://example.com/a",
	}
	p := normalize("alice", c, time.Now())
	if p.Content != "read this now" {
		t.Fatalf("content=%q", p.Content)
	}
}
