package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	ModeDraft = "draft"
	ModePost  = "post"

	ProviderAnthropic = "anthropic"

	SourceX      = "x"
	SourceMirror = "nitter"

	ChannelBrowser = "browser"
	ChannelAPI     = "api"

	EngagementReply  = "reply"
	EngagementAssess = "assess"
)

// Config holds all application configuration
type Config struct {
	Version    int              `toml:"version"`
	Loop       LoopConfig       `toml:"loop"`
	Workflow   WorkflowConfig   `toml:"workflow"`
	Scraping   ScrapingConfig   `toml:"scraping"`
	Quantifier QuantifierConfig `toml:"quantifier"`
	Generator  GeneratorConfig  `toml:"generator"`
	Qualifier  QualifierConfig  `toml:"qualifier"`
	Poster     PosterConfig     `toml:"poster"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Engagement EngagementConfig `toml:"engagement"`
	Nostr      NostrConfig      `toml:"nostr"`
	AI         AIConfig         `toml:"ai"`
	XAPI       XAPIConfig       `toml:"x_api"`
	Logging    LoggingConfig    `toml:"logging"`
	Storage    StorageConfig    `toml:"storage"`
}

type LoopConfig struct {
	RefreshInterval Duration `toml:"refresh_interval"`
	// Schedule is an optional cron spec that overrides RefreshInterval
	Schedule    string `toml:"schedule"`
	ScraperOnly bool   `toml:"scraper_only"`
}

type WorkflowConfig struct {
	Mode      string   `toml:"mode"`
	TestMode  bool     `toml:"test_mode"`
	Handles   []string `toml:"handles"`
	BotHandle string   `toml:"bot_handle"`
}

type ScrapingConfig struct {
	Sources         []string `toml:"sources"`
	NitterMirrors   []string `toml:"nitter_mirrors"`
	XBaseURL        string   `toml:"x_base_url"`
	Headless        bool     `toml:"headless"`
	Timeout         Duration `toml:"timeout"`
	MaxNewPerHandle int      `toml:"max_new_per_handle"`
	IgnorePinned    bool     `toml:"ignore_pinned"`
	WithReplies     bool     `toml:"with_replies"`
	UserDataDir     string   `toml:"user_data_dir"`
}

type QuantifierConfig struct {
	Threshold   int    `toml:"threshold"`
	Model       string `toml:"model"`
	Concurrency int    `toml:"concurrency"`
}

type GeneratorConfig struct {
	Model          string   `toml:"model"`
	ReplyToReplies bool     `toml:"reply_to_replies"`
	ReplyToReposts bool     `toml:"reply_to_reposts"`
	Signature      string   `toml:"signature"`
	RequestDelay   Duration `toml:"request_delay"`
	PromptsFile    string   `toml:"prompts_file"`
}

type QualifierConfig struct {
	AgeLimit Duration `toml:"age_limit"`
}

type PosterConfig struct {
	Latency         Duration `toml:"latency"`
	Channels        []string `toml:"channels"`
	MinDelay        Duration `toml:"min_delay"`
	MaxDelay        Duration `toml:"max_delay"`
	ThrottleBackoff Duration `toml:"throttle_backoff"`
}

type RateLimitConfig struct {
	MaxPerDay   int `toml:"max_per_day"`
	MaxPerMonth int `toml:"max_per_month"`
	// RateLimitedChannels are the channels whose posts count against the budget
	RateLimitedChannels []string `toml:"rate_limited_channels"`
}

type EngagementConfig struct {
	Enabled  bool     `toml:"enabled"`
	Mode     string   `toml:"mode"`
	Lookback Duration `toml:"lookback"`
	MaxPosts int      `toml:"max_posts"`
	Model    string   `toml:"model"`
}

type NostrConfig struct {
	Enabled    bool     `toml:"enabled"`
	Relays     []string `toml:"relays"`
	PrivateKey string   `toml:"private_key"`
	LinkBase   string   `toml:"link_base"`
}

// ModelCost is USD per million tokens
type ModelCost struct {
	InputPerMTok  float64 `toml:"input_per_mtok"`
	OutputPerMTok float64 `toml:"output_per_mtok"`
}

type AIConfig struct {
	Provider string               `toml:"provider"`
	APIKey   string               `toml:"api_key"`
	Costs    map[string]ModelCost `toml:"costs"`
}

type XAPIConfig struct {
	BaseURL     string `toml:"base_url"`
	AccessToken string `toml:"access_token"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Loop: LoopConfig{
			RefreshInterval: Duration{time.Hour},
		},
		Workflow: WorkflowConfig{
			Mode:    ModeDraft,
			Handles: []string{},
		},
		Scraping: ScrapingConfig{
			Sources: []string{SourceX, SourceMirror},
			NitterMirrors: []string{
				"https://xcancel.com",
				"https://nitter.poast.org",
				"https://nitter.privacydev.net",
			},
			XBaseURL:        "https://x.com",
			Headless:        true,
			Timeout:         Duration{60 * time.Second},
			MaxNewPerHandle: 10,
		},
		Quantifier: QuantifierConfig{
			Threshold:   80,
			Model:       "claude-3-5-haiku-latest",
			Concurrency: 4,
		},
		Generator: GeneratorConfig{
			Model:        "claude-sonnet-4-20250514",
			RequestDelay: Duration{2 * time.Second},
		},
		Qualifier: QualifierConfig{
			AgeLimit: Duration{12 * time.Hour},
		},
		Poster: PosterConfig{
			Latency:         Duration{10 * time.Minute},
			Channels:        []string{ChannelBrowser, ChannelAPI},
			MinDelay:        Duration{10 * time.Second},
			MaxDelay:        Duration{30 * time.Second},
			ThrottleBackoff: Duration{15 * time.Minute},
		},
		RateLimit: RateLimitConfig{
			MaxPerDay:           17,
			MaxPerMonth:         500,
			RateLimitedChannels: []string{ChannelAPI},
		},
		Engagement: EngagementConfig{
			Mode:     EngagementAssess,
			Lookback: Duration{48 * time.Hour},
			MaxPosts: 5,
		},
		Nostr: NostrConfig{
			Relays: []string{
				"wss://relay.damus.io",
				"wss://nos.lol",
				"wss://relay.primal.net",
			},
			LinkBase: "https://xcancel.com",
		},
		AI: AIConfig{
			Provider: ProviderAnthropic,
			Costs: map[string]ModelCost{
				"claude-sonnet-4-20250514": {InputPerMTok: 3, OutputPerMTok: 15},
				"claude-3-5-haiku-latest":  {InputPerMTok: 0.8, OutputPerMTok: 4},
			},
		},
		XAPI: XAPIConfig{
			BaseURL: "https://api.x.com",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate reports settings no stage can work with
func (c *Config) Validate() error {
	if c.Workflow.Mode != ModeDraft && c.Workflow.Mode != ModePost {
		return fmt.Errorf("workflow.mode must be %q or %q, got %q", ModeDraft, ModePost, c.Workflow.Mode)
	}
	if c.Loop.RefreshInterval.Duration <= 0 && c.Loop.Schedule == "" {
		return fmt.Errorf("loop.refresh_interval must be positive")
	}
	if c.Quantifier.Threshold < 0 || c.Quantifier.Threshold > 100 {
		return fmt.Errorf("quantifier.threshold must be within [0,100], got %d", c.Quantifier.Threshold)
	}
	if c.Qualifier.AgeLimit.Duration <= 0 {
		return fmt.Errorf("qualifier.age_limit must be positive")
	}
	if c.Poster.MaxDelay.Duration < c.Poster.MinDelay.Duration {
		return fmt.Errorf("poster.max_delay must not be below poster.min_delay")
	}
	for _, ch := range c.Poster.Channels {
		if ch != ChannelBrowser && ch != ChannelAPI {
			return fmt.Errorf("unknown poster channel %q", ch)
		}
	}
	for _, src := range c.Scraping.Sources {
		if src != SourceX && src != SourceMirror {
			return fmt.Errorf("unknown scraping source %q", src)
		}
	}
	if c.Engagement.Enabled {
		if c.Workflow.BotHandle == "" {
			return fmt.Errorf("engagement requires workflow.bot_handle")
		}
		if c.Engagement.Mode != EngagementReply && c.Engagement.Mode != EngagementAssess {
			return fmt.Errorf("engagement.mode must be %q or %q", EngagementReply, EngagementAssess)
		}
	}
	return nil
}

// IsRateLimitedChannel reports whether posts made through ch count against the budget
func (c *Config) IsRateLimitedChannel(ch string) bool {
	return slices.Contains(c.RateLimit.RateLimitedChannels, ch)
}

// APIKey returns the LLM key, preferring the config file over the environment
func (c *Config) APIKey() string {
	if c.AI.APIKey != "" {
		return c.AI.APIKey
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// XAccessToken returns the OAuth2 user token for the X API channel
func (c *Config) XAccessToken() string {
	if c.XAPI.AccessToken != "" {
		return c.XAPI.AccessToken
	}
	return os.Getenv("X_ACCESS_TOKEN")
}

// NostrKey returns the nsec or hex private key used for broadcasts
func (c *Config) NostrKey() string {
	if c.Nostr.PrivateKey != "" {
		return c.Nostr.PrivateKey
	}
	return os.Getenv("NOSTR_PRIVATE_KEY")
}

// ConfigDir returns the platform-appropriate config directory.
// XW_CONFIG_DIR overrides it.
func ConfigDir() (string, error) {
	if dir := os.Getenv("XW_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "xwatcher"), nil
}

// DataDir returns the directory holding the database, lock file and caches.
// XW_DATA_DIR overrides it.
func DataDir() (string, error) {
	if dir := os.Getenv("XW_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "xwatcher"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DBPath returns the configured database path or the default under DataDir
func (c *Config) DBPath() (string, error) {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "xwatcher.db"), nil
}

// Load reads config from the default path
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads config from path. Keys missing from the file keep their
// Default() values.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the default path
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes config to path
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
