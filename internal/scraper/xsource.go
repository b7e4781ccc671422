package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/ibeckermayer/xwatcher/internal/auth"
	"github.com/ibeckermayer/xwatcher/internal/browser"
	"github.com/ibeckermayer/xwatcher/internal/config"
)

// XSource reads a profile timeline on x.com in a real browser
type XSource struct {
	baseURL     string
	withReplies bool
	browser     browser.Config
	cookies     *auth.CookieStore
}

// NewXSource creates an x.com source. cookies may be nil when the
// persistent profile already holds a session.
func NewXSource(cfg config.ScrapingConfig, cookies *auth.CookieStore) *XSource {
	return &XSource{
		baseURL:     strings.TrimRight(cfg.XBaseURL, "/"),
		withReplies: cfg.WithReplies,
		browser: browser.Config{
			Headless:    cfg.Headless,
			UserDataDir: cfg.UserDataDir,
			Timeout:     cfg.Timeout.Duration,
		},
		cookies: cookies,
	}
}

func (x *XSource) Name() string  { return config.SourceX }
func (x *XSource) Ordered() bool { return true }

// ProfileURL returns the timeline page for handle
func (x *XSource) ProfileURL(handle string) string {
	u := x.baseURL + "/" + handle
	if x.withReplies {
		u += "/with_replies"
	}
	return u
}

// pageState is what the page looks like once it settles
type pageState struct {
	Tweets  bool   `json:"tweets"`
	Login   bool   `json:"login"`
	Error   string `json:"error"`
	Empty   bool   `json:"empty"`
	URL     string `json:"url"`
	Blocked bool   `json:"blocked"`
}

const stateJS = `
(function() {
	const err = document.querySelector('[data-testid="error-detail"]');
	const body = document.body ? document.body.innerText : '';
	return {
		tweets: document.querySelector('article[data-testid="tweet"]') !== null,
		login: document.querySelector('[data-testid="loginButton"]') !== null ||
		       location.pathname.startsWith('/i/flow/login'),
		error: err ? err.innerText : '',
		empty: document.querySelector('[data-testid="emptyState"]') !== null,
		url: location.href,
		blocked: body.includes('Try again later') || body.includes('Something went wrong. Try reloading.')
	};
})()
`

// Fetch loads the profile and extracts the visible posts
func (x *XSource) Fetch(ctx context.Context, handle string) ([]Candidate, error) {
	browserCtx, cancel := browser.New(ctx, x.browser)
	defer cancel()

	actions := []chromedp.Action{}
	if x.cookies != nil {
		actions = append(actions, x.cookies.Inject())
	}
	actions = append(actions,
		chromedp.Navigate(x.ProfileURL(handle)),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err := chromedp.Run(browserCtx, actions...); err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	state, err := x.waitForTimeline(browserCtx)
	if err != nil {
		return nil, err
	}
	switch {
	case state.Login:
		return nil, fmt.Errorf("login required: %w", ErrBlocked)
	case state.Blocked:
		return nil, fmt.Errorf("rate limited by x.com: %w", ErrBlocked)
	case state.Error != "":
		return nil, fmt.Errorf("profile error: %s", state.Error)
	case !state.Tweets:
		return nil, nil
	}

	var raw []rawPost
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(extractJS, &raw)); err != nil {
		return nil, fmt.Errorf("failed to extract posts from DOM: %w", err)
	}
	return toCandidates(handle, raw), nil
}

// waitForTimeline polls until the page shows posts or a terminal state
func (x *XSource) waitForTimeline(ctx context.Context) (pageState, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var state pageState
	for {
		if err := chromedp.Run(ctx, chromedp.Evaluate(stateJS, &state)); err != nil {
			return state, fmt.Errorf("failed to inspect page: %w", err)
		}
		if state.Tweets || state.Login || state.Blocked || state.Error != "" || state.Empty {
			return state, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return state, fmt.Errorf("timed out waiting for timeline: %w", ctx.Err())
		}
	}
}

// rawPost represents the raw data extracted from the DOM via JavaScript
type rawPost struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Pinned    bool   `json:"pinned"`
	Repost    bool   `json:"repost"`
	Promoted  bool   `json:"promoted"`
	Reply     bool   `json:"reply"`
	MediaURL  string `json:"mediaUrl"`
	HasImage  bool   `json:"hasImage"`
	HasVideo  bool   `json:"hasVideo"`
	LinkURL   string `json:"linkUrl"`
}

// extractJS walks the timeline articles in page order (newest first,
// pinned on top)
const extractJS = `
(function() {
	const tweets = document.querySelectorAll('article[data-testid="tweet"]');
	const results = [];

	tweets.forEach(el => {
		try {
			const statusLink = el.querySelector('time')?.closest('a') ||
			                   el.querySelector('a[href*="/status/"]');
			const href = statusLink?.getAttribute('href') || '';
			const m = href.match(/^\/([^/]+)\/status\/(\d+)/);
			if (!m) return;

			const social = (el.querySelector('[data-testid="socialContext"]')?.textContent || '').toLowerCase();
			const promoted = Array.from(el.querySelectorAll('span')).some(s => s.textContent === 'Ad' || s.textContent === 'Promoted');

			const text = el.querySelector('[data-testid="tweetText"]');
			let linkUrl = '';
			if (text) {
				const a = Array.from(text.querySelectorAll('a[href]')).find(a => /^https?:/.test(a.getAttribute('href')));
				if (a) linkUrl = a.getAttribute('title') || a.getAttribute('href');
			}
			const card = el.querySelector('[data-testid="card.wrapper"] a[href]');
			if (!linkUrl && card) linkUrl = card.getAttribute('href');

			const photo = el.querySelector('[data-testid="tweetPhoto"] img');
			const video = el.querySelector('[data-testid="videoPlayer"] video');

			results.push({
				id: m[2],
				author: m[1],
				content: text?.innerText || '',
				timestamp: el.querySelector('time')?.getAttribute('datetime') || '',
				pinned: social.includes('pinned'),
				repost: social.includes('repost') || social.includes('retweeted'),
				promoted: promoted,
				reply: el.innerText.includes('Replying to'),
				mediaUrl: photo?.src || video?.poster || '',
				hasImage: photo !== null,
				hasVideo: video !== null,
				linkUrl: linkUrl
			});
		} catch (e) {
			console.error('Error extracting tweet:', e);
		}
	});

	return results;
})()
`

func toCandidates(handle string, raw []rawPost) []Candidate {
	out := make([]Candidate, 0, len(raw))
	for _, rp := range raw {
		if rp.ID == "" || rp.Promoted {
			continue
		}
		c := Candidate{
			ID:       rp.ID,
			Content:  rp.Content,
			PostedAt: rp.Timestamp,
			IsReply:  rp.Reply,
			IsPinned: rp.Pinned,
			HasImage: rp.HasImage,
			HasVideo: rp.HasVideo,
			MediaURL: rp.MediaURL,
			HasLink:  rp.LinkURL != "",
			LinkURL:  rp.LinkURL,
		}
		// a repost's status link points at the original author
		if rp.Repost || !strings.EqualFold(rp.Author, handle) {
			c.IsRetweet = true
			c.RetweetSource = rp.Author
		}
		out = append(out, c)
	}
	return out
}
