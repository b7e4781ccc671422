package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/ibeckermayer/xwatcher/internal/config"
)

const timelineHTML = `<html><head><title>Alice (@alice) | nitter</title></head><body>
<div class="timeline">
  <div class="timeline-item">
    <a class="tweet-link" href="/alice/status/300#m"></a>
    <div class="pinned"><span>Pinned Tweet</span></div>
    <span class="tweet-date"><a href="/alice/status/300#m" title="Feb 6, 2026 · 10:10 AM UTC">Feb 6</a></span>
    <div class="tweet-content media-body">pinned hello</div>
  </div>
  <div class="timeline-item">
    <a class="tweet-link" href="/alice/status/200#m"></a>
    <span class="tweet-date"><a href="/alice/status/200#m" title="Feb 7, 2026 · 9:00 AM UTC">Feb 7</a></span>
    <div class="replying-to">Replying to <a href="/bob">@bob</a></div>
    <div class="tweet-content media-body">see <a href="/bob">@bob</a> and <a href="https://example.com/x">example.com/x</a></div>
    <div class="attachments"><div class="attachment image"><img src="/pic/media%2Fabc.jpg"></div></div>
  </div>
  <div class="timeline-item">
    <div class="retweet-header"><span>Alice retweeted</span></div>
    <a class="tweet-link" href="/carol/status/100#m"></a>
    <div class="tweet-content media-body">carol says</div>
  </div>
  <div class="show-more"><a href="?cursor=abc">Load more</a></div>
</div>
</body></html>`

func TestParseTimeline(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(timelineHTML))
	if err != nil {
		t.Fatal(err)
	}
	got := parseTimeline(doc, "alice")
	if len(got) != 3 {
		t.Fatalf("got %d posts, want 3", len(got))
	}

	if !got[0].IsPinned || got[0].ID != "300" || got[0].PostedAt == "" {
		t.Fatalf("pinned=%+v", got[0])
	}
	reply := got[1]
	if !reply.IsReply || !reply.HasImage || reply.LinkURL != "https://example.com/x" {
		t.Fatalf("reply=%+v", reply)
	}
	rt := got[2]
	if !rt.IsRetweet || rt.RetweetSource != "carol" || rt.ID != "100" {
		t.Fatalf("retweet=%+v", rt)
	}
}

func TestMirrorFallsThrough(t *testing.T) {
	challenge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Verifying your browser</title></head></html>`))
	}))
	defer challenge.Close()

	var gotQuery string
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/alice" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		w.Write([]byte(timelineHTML))
	}))
	defer good.Close()

	cfg := config.Default().Scraping
	cfg.NitterMirrors = []string{challenge.URL, good.URL + "/"}
	cfg.WithReplies = true

	got, err := NewMirrorSource(cfg, good.Client()).Fetch(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d posts, want 3", len(got))
	}
	if gotQuery != "replies=on" {
		t.Fatalf("query=%q, want replies=on", gotQuery)
	}
}

func TestMirrorAllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := config.Default().Scraping
	cfg.NitterMirrors = []string{srv.URL}
	if _, err := NewMirrorSource(cfg, nil).Fetch(context.Background(), "alice"); err == nil {
		t.Fatal("expected error")
	}
}

func TestStatusFromHref(t *testing.T) {
	author, id := statusFromHref("/Alice/status/12345#m")
	if author != "Alice" || id != "12345" {
		t.Fatalf("got %q %q", author, id)
	}
	if _, id := statusFromHref("/alice"); id != "" {
		t.Fatalf("id=%q, want empty", id)
	}
}

func TestXSourceProfileURL(t *testing.T) {
	cfg := config.Default().Scraping
	cfg.XBaseURL = "https://x.com/"
	x := NewXSource(cfg, nil)
	if got := x.ProfileURL("alice"); got != "https://x.com/alice" {
		t.Fatalf("url=%q", got)
	}
	cfg.WithReplies = true
	if got := NewXSource(cfg, nil).ProfileURL("alice"); got != "https://x.com/alice/with_replies" {
		t.Fatalf("url=%q", got)
	}
}

func TestToCandidatesSkipsPromoted(t *testing.T) {
	got := toCandidates("alice", []rawPost{
		{ID: "1", Author: "alice", Content: "mine"},
		{ID: "2", Author: "shop", Promoted: true},
		{ID: "3", Author: "dave", Repost: true},
	})
	if len(got) != 2 {
		t.Fatalf("got %d, want 2", len(got))
	}
	if !got[1].IsRetweet || got[1].RetweetSource != "dave" {
		t.Fatalf("repost=%+v", got[1])
	}
}

const threadHTML = `<html><body>
<div class="main-thread"><div class="timeline-item">
  <a class="tweet-link" href="/bot/status/1#m"></a>
  <div class="tweet-content">our post</div>
</div></div>
<div class="replies">
  <div class="timeline-item">
    <a class="tweet-link" href="/carol/status/2#m"></a>
    <a class="username" href="/carol">@carol</a>
    <span class="tweet-date"><a title="Feb 7, 2026 · 9:00 AM UTC">Feb 7</a></span>
    <div class="tweet-content">nice
      point</div>
  </div>
  <div class="timeline-item">
    <a class="tweet-link" href="/dave/status/3#m"></a>
    <div class="tweet-content"></div>
  </div>
</div>
</body></html>`

func TestParseThread(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(threadHTML))
	if err != nil {
		t.Fatal(err)
	}
	got := parseThread(doc)
	if len(got) != 1 {
		t.Fatalf("got %d replies, want 1", len(got))
	}
	if got[0].ID != "2" || got[0].Handle != "carol" || got[0].Content != "nice point" || got[0].PostedAt == "" {
		t.Fatalf("reply=%+v", got[0])
	}
}
