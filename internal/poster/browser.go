package poster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/ibeckermayer/xwatcher/internal/auth"
	"github.com/ibeckermayer/xwatcher/internal/browser"
	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/scraper"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

// BrowserChannel replies through the x.com web composer
type BrowserChannel struct {
	baseURL string
	browser browser.Config
	cookies *auth.CookieStore
}

func NewBrowserChannel(cfg config.ScrapingConfig, cookies *auth.CookieStore) *BrowserChannel {
	return &BrowserChannel{
		baseURL: strings.TrimRight(cfg.XBaseURL, "/"),
		browser: browser.Config{
			Headless:    cfg.Headless,
			UserDataDir: cfg.UserDataDir,
			Timeout:     cfg.Timeout.Duration,
		},
		cookies: cookies,
	}
}

func (b *BrowserChannel) Name() string { return config.ChannelBrowser }

// StatusURL is the page of the post being replied to
func (b *BrowserChannel) StatusURL(target types.Post) string {
	return fmt.Sprintf("%s/%s/status/%s", b.baseURL, target.Handle, target.ID)
}

// Publish types content into the reply box under target. The composer
// does not expose the new post's id, so none is returned.
func (b *BrowserChannel) Publish(ctx context.Context, target types.Post, content string) (string, error) {
	browserCtx, cancel := browser.New(ctx, b.browser)
	defer cancel()

	actions := []chromedp.Action{}
	if b.cookies != nil {
		actions = append(actions, b.cookies.Inject())
	}
	actions = append(actions,
		chromedp.Navigate(b.StatusURL(target)),
		chromedp.WaitVisible(scraper.TweetArticle, chromedp.ByQuery),
	)
	if err := chromedp.Run(browserCtx, actions...); err != nil {
		return "", fmt.Errorf("failed to load post: %w", err)
	}

	var loginWall bool
	if err := chromedp.Run(browserCtx,
		chromedp.Evaluate(`document.querySelector('[data-testid="loginButton"]') !== null`, &loginWall),
	); err != nil {
		return "", err
	}
	if loginWall {
		return "", fmt.Errorf("not logged in to x.com")
	}

	err := chromedp.Run(browserCtx,
		chromedp.Click(scraper.ReplyTextbox, chromedp.ByQuery),
		chromedp.SendKeys(scraper.ReplyTextbox, content, chromedp.ByQuery),
		chromedp.Sleep(time.Second),
		chromedp.Click(scraper.ReplySubmit, chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
	)
	if err != nil {
		return "", fmt.Errorf("failed to submit reply: %w", err)
	}

	var throttled bool
	chromedp.Run(browserCtx,
		chromedp.Evaluate(`document.body.innerText.includes("You are over the daily limit")`, &throttled),
	)
	if throttled {
		return "", &RateLimitError{Channel: b.Name()}
	}
	return "", nil
}
