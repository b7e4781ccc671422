package app

import (
	"fmt"
	"path/filepath"

	"github.com/ibeckermayer/xwatcher/internal/analyzer"
	"github.com/ibeckermayer/xwatcher/internal/auth"
	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/engagement"
	"github.com/ibeckermayer/xwatcher/internal/nostr"
	"github.com/ibeckermayer/xwatcher/internal/poster"
	"github.com/ibeckermayer/xwatcher/internal/scraper"
	"github.com/ibeckermayer/xwatcher/internal/store"
)

// Collaborators builds the externally facing pieces of a cycle from the
// current config
type Collaborators interface {
	Provider(cfg *config.Config) (analyzer.Provider, error)
	Sources(cfg *config.Config) ([]scraper.Source, error)
	ThreadFetchers(cfg *config.Config) ([]engagement.ThreadFetcher, error)
	Channels(cfg *config.Config) ([]poster.Channel, error)
	Broadcaster(cfg *config.Config) (poster.Broadcaster, error)
}

// Live talks to x.com, mirrors, the LLM provider and Nostr relays
type Live struct {
	Cookies *auth.CookieStore
	Cache   *store.LLMCache
}

// NewLive uses the default cookie file and LLM cache under the config
// and data dirs
func NewLive() (*Live, error) {
	configDir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	return &Live{
		Cookies: auth.NewCookieStore(auth.DefaultPath(configDir)),
		Cache:   &store.LLMCache{Dir: filepath.Join(dataDir, "llm")},
	}, nil
}

func (l *Live) Provider(cfg *config.Config) (analyzer.Provider, error) {
	return analyzer.New(cfg, l.Cache)
}

func (l *Live) Sources(cfg *config.Config) ([]scraper.Source, error) {
	var out []scraper.Source
	for _, name := range cfg.Scraping.Sources {
		switch name {
		case config.SourceX:
			out = append(out, scraper.NewXSource(cfg.Scraping, l.Cookies))
		case config.SourceMirror:
			out = append(out, scraper.NewMirrorSource(cfg.Scraping, nil))
		default:
			return nil, fmt.Errorf("unknown scraping source %q", name)
		}
	}
	return out, nil
}

func (l *Live) ThreadFetchers(cfg *config.Config) ([]engagement.ThreadFetcher, error) {
	sources, err := l.Sources(cfg)
	if err != nil {
		return nil, err
	}
	out := make([]engagement.ThreadFetcher, 0, len(sources))
	for _, s := range sources {
		if f, ok := s.(engagement.ThreadFetcher); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (l *Live) Channels(cfg *config.Config) ([]poster.Channel, error) {
	var out []poster.Channel
	for _, name := range cfg.Poster.Channels {
		switch name {
		case config.ChannelBrowser:
			out = append(out, poster.NewBrowserChannel(cfg.Scraping, l.Cookies))
		case config.ChannelAPI:
			token := cfg.XAccessToken()
			if token == "" {
				// usable channels still run
				continue
			}
			out = append(out, poster.NewAPIChannel(cfg.XAPI, token, nil))
		default:
			return nil, fmt.Errorf("unknown posting channel %q", name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable posting channel (api needs x_api.access_token or X_ACCESS_TOKEN)")
	}
	return out, nil
}

func (l *Live) Broadcaster(cfg *config.Config) (poster.Broadcaster, error) {
	if !cfg.Nostr.Enabled {
		return nil, nil
	}
	pub, err := nostr.New(cfg.Nostr, cfg.NostrKey())
	if err != nil {
		return nil, err
	}
	return pub, nil
}
