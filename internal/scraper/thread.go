package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/ibeckermayer/xwatcher/internal/browser"
)

// ThreadReply is one reply found under a post
type ThreadReply struct {
	ID       string
	Handle   string
	Content  string
	PostedAt string
}

// threadJS extracts reply tweets from a status page, skipping the main
// post in the first article
const threadJS = `
(function() {
	const tweets = document.querySelectorAll('article[data-testid="tweet"]');
	const results = [];
	let skippedFirst = false;

	tweets.forEach(el => {
		if (!skippedFirst) {
			skippedFirst = true;
			return;
		}
		try {
			const statusLink = el.querySelector('time')?.closest('a');
			const m = (statusLink?.getAttribute('href') || '').match(/^\/([^/]+)\/status\/(\d+)/);
			if (!m) return;
			const text = el.querySelector('[data-testid="tweetText"]');
			if (!text) return;
			results.push({
				id: m[2],
				author: m[1],
				content: text.innerText,
				timestamp: el.querySelector('time')?.getAttribute('datetime') || ''
			});
		} catch (e) {
			console.error('Error extracting reply:', e);
		}
	});

	return results;
})()
`

// FetchReplies loads a status page and returns the replies under it
func (x *XSource) FetchReplies(ctx context.Context, handle, postID string) ([]ThreadReply, error) {
	browserCtx, cancel := browser.New(ctx, x.browser)
	defer cancel()

	actions := []chromedp.Action{}
	if x.cookies != nil {
		actions = append(actions, x.cookies.Inject())
	}
	actions = append(actions,
		chromedp.Navigate(fmt.Sprintf("%s/%s/status/%s", x.baseURL, handle, postID)),
		chromedp.WaitVisible(TweetArticle, chromedp.ByQuery),
		// replies load after the main post
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil),
		chromedp.Sleep(time.Second),
	)
	if err := chromedp.Run(browserCtx, actions...); err != nil {
		return nil, fmt.Errorf("failed to load post: %w", err)
	}

	var raw []rawPost
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(threadJS, &raw)); err != nil {
		return nil, fmt.Errorf("failed to extract replies from DOM: %w", err)
	}
	out := make([]ThreadReply, 0, len(raw))
	for _, rp := range raw {
		out = append(out, ThreadReply{ID: rp.ID, Handle: rp.Author, Content: Content(rp.Content), PostedAt: rp.Timestamp})
	}
	return out, nil
}

// FetchReplies reads a status page from the first mirror that serves it
func (m *MirrorSource) FetchReplies(ctx context.Context, handle, postID string) ([]ThreadReply, error) {
	var lastErr error = fmt.Errorf("no mirrors configured")
	for _, mirror := range m.mirrors {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/status/%s", mirror, handle, postID), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", browser.DefaultUserAgent)

		resp, err := m.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("%s: status %d", mirror, resp.StatusCode)
			continue
		}
		doc, err := goquery.NewDocumentFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return parseThread(doc), nil
	}
	return nil, lastErr
}

// parseThread returns the replies of a mirror status page. The first
// timeline item is the main post.
func parseThread(doc *goquery.Document) []ThreadReply {
	var out []ThreadReply
	doc.Find(MirrorItem).Each(func(i int, item *goquery.Selection) {
		if i == 0 {
			return
		}
		content := strings.TrimSpace(item.Find(MirrorContent).First().Text())
		href, _ := item.Find(MirrorLink).First().Attr("href")
		author, id := statusFromHref(href)
		if author == "" {
			author = CleanHandle(item.Find(MirrorUsername).First().Text())
		}
		if id == "" || content == "" || author == "" {
			return
		}
		r := ThreadReply{ID: id, Handle: author, Content: Content(content)}
		if title, ok := item.Find(MirrorDate).First().Attr("title"); ok {
			r.PostedAt = title
		}
		out = append(out, r)
	})
	return out
}
