// Package browser provides shared chromedp configuration with anti-bot-detection measures.
package browser

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultUserAgent is a realistic Chrome user agent
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config controls how a browser is launched
type Config struct {
	Headless bool
	// UserDataDir keeps a persistent profile between runs so X sees a
	// returning browser. Empty means a throwaway profile.
	UserDataDir string
	Timeout     time.Duration
}

// Options returns chromedp allocator options with anti-bot-detection measures.
// All browser instances should use this to ensure consistent stealth configuration.
func Options(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),

		// Prevent navigator.webdriver = true detection
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.UserAgent(DefaultUserAgent),
		chromedp.WindowSize(1280, 720),

		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}

	return opts
}

// New launches a browser and returns a tab context bounded by cfg.Timeout.
// cancel tears down the tab and the browser process.
func New(ctx context.Context, cfg Config) (context.Context, context.CancelFunc) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, Options(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	tabCtx, timeoutCancel := context.WithTimeout(browserCtx, timeout)

	return tabCtx, func() {
		timeoutCancel()
		browserCancel()
		allocCancel()
	}
}
