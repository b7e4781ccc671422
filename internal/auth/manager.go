package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/ibeckermayer/xwatcher/internal/browser"
	"github.com/ibeckermayer/xwatcher/internal/logging"
)

// Manager handles the interactive X login
type Manager struct {
	cookieStore *CookieStore
	browser     browser.Config
	baseURL     string
}

// NewManager creates a new auth manager. bc.Headless is ignored; login
// always opens a visible window.
func NewManager(cookieStore *CookieStore, bc browser.Config, baseURL string) *Manager {
	bc.Headless = false
	bc.Timeout = 10 * time.Minute
	return &Manager{cookieStore: cookieStore, browser: bc, baseURL: strings.TrimRight(baseURL, "/")}
}

// IsAuthenticated checks if we have valid stored credentials
func (m *Manager) IsAuthenticated() bool {
	return m.cookieStore.Valid(time.Now())
}

// Login opens a browser window for the user to log in to X and saves the
// session cookies once the home timeline appears
func (m *Manager) Login(ctx context.Context) error {
	browserCtx, cancel := browser.New(ctx, m.browser)
	defer cancel()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(m.baseURL+"/login")); err != nil {
		return fmt.Errorf("failed to navigate to login page: %w", err)
	}

	logging.For("auth").Info("waiting for login in the browser window")
	if err := m.waitForLogin(browserCtx); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	cookies, err := extractCookies(browserCtx)
	if err != nil {
		return fmt.Errorf("failed to extract cookies: %w", err)
	}
	if err := m.cookieStore.Save(cookies); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	return nil
}

// waitForLogin polls until the browser lands on the home timeline with an
// auth_token cookie
func (m *Manager) waitForLogin(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var url string
			if err := chromedp.Run(ctx, chromedp.Location(&url)); err != nil {
				continue
			}
			if !strings.HasSuffix(strings.TrimRight(url, "/"), "/home") {
				continue
			}
			cookies, err := extractCookies(ctx)
			if err != nil {
				continue
			}
			for _, c := range cookies {
				if c.Name == "auth_token" && c.Value != "" {
					return nil
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func extractCookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
	)
	return cookies, err
}

// Logout clears stored credentials
func (m *Manager) Logout() error {
	return m.cookieStore.Clear()
}
