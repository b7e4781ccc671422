package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// CookieStore persists the X session captured by Login
type CookieStore struct {
	path string
}

// StoredCookies represents the persisted cookie data
type StoredCookies struct {
	Cookies    []*network.Cookie `json:"cookies"`
	CapturedAt time.Time         `json:"captured_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// NewCookieStore creates a cookie store at the given path
func NewCookieStore(path string) *CookieStore {
	return &CookieStore{path: path}
}

// DefaultPath returns the cookie file under dir
func DefaultPath(dir string) string {
	return filepath.Join(dir, "cookies.json")
}

// Save persists cookies to disk. ExpiresAt is the earliest expiry among
// the session cookies.
func (cs *CookieStore) Save(cookies []*network.Cookie) error {
	if err := os.MkdirAll(filepath.Dir(cs.path), 0700); err != nil {
		return err
	}

	var earliestExpiry time.Time
	for _, c := range cookies {
		if isSessionCookie(c.Name) && c.Expires > 0 {
			exp := time.Unix(int64(c.Expires), 0)
			if earliestExpiry.IsZero() || exp.Before(earliestExpiry) {
				earliestExpiry = exp
			}
		}
	}

	stored := StoredCookies{
		Cookies:    cookies,
		CapturedAt: time.Now(),
		ExpiresAt:  earliestExpiry,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cs.path, data, 0600)
}

// Load retrieves cookies from disk
func (cs *CookieStore) Load() (*StoredCookies, error) {
	data, err := os.ReadFile(cs.path)
	if err != nil {
		return nil, err
	}

	var stored StoredCookies
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse cookie file: %w", err)
	}
	return &stored, nil
}

// Valid reports whether a complete, unexpired session is stored
func (cs *CookieStore) Valid(now time.Time) bool {
	stored, err := cs.Load()
	if err != nil {
		return false
	}
	if !stored.ExpiresAt.IsZero() && now.After(stored.ExpiresAt) {
		return false
	}

	hasAuthToken, hasCT0 := false, false
	for _, c := range stored.Cookies {
		switch c.Name {
		case "auth_token":
			hasAuthToken = c.Value != ""
		case "ct0":
			hasCT0 = c.Value != ""
		}
	}
	return hasAuthToken && hasCT0
}

// Clear removes stored cookies
func (cs *CookieStore) Clear() error {
	err := os.Remove(cs.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// XCookies returns only the x.com cookies
func (cs *CookieStore) XCookies() ([]*network.Cookie, error) {
	stored, err := cs.Load()
	if err != nil {
		return nil, err
	}

	var xCookies []*network.Cookie
	for _, c := range stored.Cookies {
		if strings.TrimPrefix(c.Domain, ".") == "x.com" {
			xCookies = append(xCookies, c)
		}
	}
	return xCookies, nil
}

// Inject returns an action that sets the stored x.com cookies in the tab.
// A missing cookie file is not an error; the persistent profile may
// already hold a session.
func (cs *CookieStore) Inject() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := cs.XCookies()
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				WithSameSite(c.SameSite).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

func isSessionCookie(name string) bool {
	return name == "auth_token" || name == "ct0"
}
