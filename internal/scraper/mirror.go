package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/xwatcher/internal/browser"
	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/logging"
)

// MirrorSource reads Nitter-style HTML timelines, trying each mirror in
// turn until one answers
type MirrorSource struct {
	mirrors     []string
	withReplies bool
	client      *http.Client
	log         *logrus.Entry
}

// NewMirrorSource creates a mirror source. client may be nil.
func NewMirrorSource(cfg config.ScrapingConfig, client *http.Client) *MirrorSource {
	if client == nil {
		timeout := cfg.Timeout.Duration
		if timeout <= 0 {
			timeout = mirrorTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	mirrors := make([]string, 0, len(cfg.NitterMirrors))
	for _, m := range cfg.NitterMirrors {
		mirrors = append(mirrors, strings.TrimRight(m, "/"))
	}
	return &MirrorSource{
		mirrors:     mirrors,
		withReplies: cfg.WithReplies,
		client:      client,
		log:         logging.For("scraper.mirror"),
	}
}

func (m *MirrorSource) Name() string  { return config.SourceMirror }
func (m *MirrorSource) Ordered() bool { return true }

// Fetch returns the first non-empty timeline any mirror serves
func (m *MirrorSource) Fetch(ctx context.Context, handle string) ([]Candidate, error) {
	if len(m.mirrors) == 0 {
		return nil, fmt.Errorf("no mirrors configured")
	}
	var lastErr error
	for _, mirror := range m.mirrors {
		candidates, err := m.fetchMirror(ctx, mirror, handle)
		if err == nil && len(candidates) > 0 {
			return candidates, nil
		}
		if err == nil {
			err = fmt.Errorf("empty timeline")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.log.WithError(err).WithField("mirror", mirror).Debug("mirror failed")
		lastErr = fmt.Errorf("%s: %w", mirror, err)
	}
	return nil, lastErr
}

func (m *MirrorSource) fetchMirror(ctx context.Context, mirror, handle string) ([]Candidate, error) {
	suffix := "?replies=off"
	if m.withReplies {
		suffix = "?replies=on"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mirror+"/"+handle+suffix, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browser.DefaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	title := doc.Find("title").Text()
	if strings.Contains(title, "Verifying") || strings.Contains(title, "Cloudflare") {
		return nil, fmt.Errorf("challenge page %q", strings.TrimSpace(title))
	}
	return parseTimeline(doc, handle), nil
}

// parseTimeline extracts posts from a Nitter timeline document
func parseTimeline(doc *goquery.Document, handle string) []Candidate {
	var out []Candidate
	doc.Find(MirrorItem).Each(func(_ int, item *goquery.Selection) {
		if item.HasClass("show-more") {
			return
		}
		href, ok := item.Find(MirrorLink).First().Attr("href")
		if !ok {
			return
		}
		author, id := statusFromHref(href)
		if id == "" {
			return
		}

		content := item.Find(MirrorContent).First()
		c := Candidate{
			ID:       id,
			Content:  content.Text(),
			IsPinned: item.Find(MirrorPinned).Length() > 0,
			IsReply:  item.Find(MirrorReplyingTo).Length() > 0,
			HasImage: item.Find(MirrorImage).Length() > 0,
			HasVideo: item.Find(MirrorVideo).Length() > 0,
		}
		if title, ok := item.Find(MirrorDate).First().Attr("title"); ok {
			c.PostedAt = title
		}
		if item.Find(MirrorRetweet).Length() > 0 || (author != "" && !strings.EqualFold(author, handle)) {
			c.IsRetweet = true
			c.RetweetSource = author
		}
		if src, ok := item.Find(MirrorImage + " img").First().Attr("src"); ok {
			c.MediaURL = src
		}

		// mirror-internal links are relative; anything absolute is external
		content.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			link, _ := a.Attr("href")
			if strings.HasPrefix(link, "/") || strings.HasPrefix(link, "#") {
				return true
			}
			c.HasLink = true
			c.LinkURL = link
			return false
		})

		out = append(out, c)
	})
	return out
}

// statusFromHref splits "/alice/status/123#m" into ("alice", "123")
func statusFromHref(href string) (string, string) {
	href, _, _ = strings.Cut(href, "#")
	href, _, _ = strings.Cut(href, "?")
	parts := strings.Split(strings.Trim(href, "/"), "/")
	if len(parts) < 3 || parts[len(parts)-2] != "status" {
		return "", ""
	}
	return parts[len(parts)-3], parts[len(parts)-1]
}

// mirrorTimeout bounds a single mirror request when the config gives none
const mirrorTimeout = 30 * time.Second
