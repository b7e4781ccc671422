package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/engagement"
	"github.com/ibeckermayer/xwatcher/internal/generator"
	"github.com/ibeckermayer/xwatcher/internal/logging"
	"github.com/ibeckermayer/xwatcher/internal/poster"
	"github.com/ibeckermayer/xwatcher/internal/qualifier"
	"github.com/ibeckermayer/xwatcher/internal/quantifier"
	"github.com/ibeckermayer/xwatcher/internal/scheduler"
	"github.com/ibeckermayer/xwatcher/internal/scraper"
	"github.com/ibeckermayer/xwatcher/internal/store"
)

// Stage names, in cycle order
const (
	StageScrape   = "scrape"
	StageEngage   = "engage"
	StageQuantify = "quantify"
	StageGenerate = "generate"
	StageQualify  = "qualify"
	StagePost     = "post"
)

// Stages lists every stage in the order a cycle runs them
var Stages = []string{StageScrape, StageEngage, StageQuantify, StageGenerate, StageQualify, StagePost}

// replyStages are skipped in scraper-only mode
var replyStages = map[string]bool{StageGenerate: true, StageQualify: true, StagePost: true}

// App holds the application state.
type App struct {
	mu     sync.RWMutex
	store  *store.Store
	collab Collaborators
	log    *logrus.Entry

	// Mutable fields - use getSnapshot() for concurrent access.
	config     *config.Config
	prompts    *config.Prompts
	configPath string

	scraperOnly bool
}

// snapshot holds fields that may be replaced by ReloadConfig.
type snapshot struct {
	config  *config.Config
	prompts *config.Prompts
}

func (a *App) getSnapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return snapshot{config: a.config, prompts: a.prompts}
}

// New creates an App. configPath is re-read before every loop cycle;
// empty means the default location.
func New(st *store.Store, cfg *config.Config, prompts *config.Prompts, collab Collaborators, configPath string) *App {
	if prompts == nil {
		prompts = config.DefaultPrompts()
	}
	return &App{
		store:      st,
		collab:     collab,
		log:        logging.For("app"),
		config:     cfg,
		prompts:    prompts,
		configPath: configPath,
	}
}

// SetScraperOnly forces scraper-only cycles regardless of config
func (a *App) SetScraperOnly(v bool) {
	a.mu.Lock()
	a.scraperOnly = v
	a.mu.Unlock()
}

// Config returns the config the next cycle will use
func (a *App) Config() *config.Config {
	return a.getSnapshot().config
}

// ReloadConfig reloads the configuration and prompts from disk. On
// error the previous config stays in effect.
func (a *App) ReloadConfig() error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFrom(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	prompts := config.DefaultPrompts()
	if path, err := cfg.PromptsPath(); err == nil {
		if p, err := config.LoadPrompts(path); err == nil {
			prompts = p
		} else {
			a.log.WithError(err).Warn("failed to load prompts, using defaults")
		}
	}

	a.mu.Lock()
	a.config = cfg
	a.prompts = prompts
	a.mu.Unlock()

	if ll := logLevel(cfg); ll != "" {
		if lvl, err := logrus.ParseLevel(ll); err == nil {
			logging.Log.SetLevel(lvl)
		}
	}
	return nil
}

// CycleResult reports what a cycle did
type CycleResult struct {
	ID       string
	Ran      []string
	Failed   string
	Duration time.Duration
}

// RunCycle runs the stages in order. The first failing stage aborts
// the rest of the cycle. A panic in any stage is returned as an error.
func (a *App) RunCycle(ctx context.Context) (res CycleResult, err error) {
	res.ID = uuid.NewString()[:8]
	log := a.log.WithField("cycle", res.ID)
	start := time.Now()

	s := a.getSnapshot()
	a.mu.RLock()
	scraperOnly := a.scraperOnly || s.config.Loop.ScraperOnly
	a.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Error("cycle panicked")
			err = fmt.Errorf("cycle panicked: %v", r)
		}
		res.Duration = time.Since(start)
	}()

	log.Info("cycle started")
	for _, stage := range Stages {
		if scraperOnly && replyStages[stage] {
			continue
		}
		if stage == StageEngage && !s.config.Engagement.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Failed = stage
		if err := a.runStage(ctx, stage, s, log); err != nil {
			log.WithError(err).WithField("stage", stage).Error("stage failed, ending cycle")
			return res, fmt.Errorf("%s: %w", stage, err)
		}
		res.Failed = ""
		res.Ran = append(res.Ran, stage)
	}
	log.WithField("took", time.Since(start).Round(time.Millisecond).String()).Info("cycle finished")
	return res, nil
}

// RunStage runs one stage on its own
func (a *App) RunStage(ctx context.Context, stage string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", stage, r)
		}
	}()
	return a.runStage(ctx, stage, a.getSnapshot(), a.log.WithField("stage", stage))
}

func (a *App) runStage(ctx context.Context, stage string, s snapshot, log *logrus.Entry) error {
	cfg := s.config
	switch stage {
	case StageScrape:
		sources, err := a.collab.Sources(cfg)
		if err != nil {
			return err
		}
		res, err := scraper.New(a.store, sources...).Run(ctx, cfg)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"new": res.New, "scraped": res.Scraped}).Info("scraped")

	case StageEngage:
		fetchers, err := a.collab.ThreadFetchers(cfg)
		if err != nil {
			return err
		}
		res, err := engagement.New(a.store, fetchers...).Run(ctx, cfg)
		if err != nil {
			return err
		}
		log.WithField("new", res.New).Info("engagement checked")

	case StageQuantify:
		provider, err := a.collab.Provider(cfg)
		if err != nil {
			return err
		}
		res, err := quantifier.New(a.store, provider).Run(ctx, cfg, s.prompts)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"scored": res.Scored, "failed": res.Failed}).Info("scored")

	case StageGenerate:
		provider, err := a.collab.Provider(cfg)
		if err != nil {
			return err
		}
		res, err := generator.New(a.store, provider).Run(ctx, cfg, s.prompts)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"drafted": res.Drafted, "engaged": res.Engaged}).Info("drafted")

	case StageQualify:
		res, err := qualifier.New(a.store).Run(cfg)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"qualified": res.Qualified,
			"expired":   res.Expired,
			"rejected":  res.MissingPost + res.Duplicate,
		}).Info("qualified")

	case StagePost:
		if cfg.Workflow.Mode != config.ModePost {
			log.Info("draft mode, nothing posted")
			return nil
		}
		channels, err := a.collab.Channels(cfg)
		if err != nil {
			return err
		}
		broadcast, err := a.collab.Broadcaster(cfg)
		if err != nil {
			// the secondary network never blocks posting
			log.WithError(err).Warn("nostr disabled for this cycle")
			broadcast = nil
		}
		res, err := poster.New(a.store, channels, broadcast).Run(ctx, cfg)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"posted": res.Posted, "failed": res.Failed}).Info("posted")

	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
	return nil
}

// Run loops until ctx is cancelled: reload config, run a cycle, wait for
// the next scheduled start. Cycle errors are logged, never fatal.
func (a *App) Run(ctx context.Context) error {
	for {
		if err := a.ReloadConfig(); err != nil {
			a.log.WithError(err).Warn("config reload failed, keeping previous config")
		}

		if _, err := a.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.WithError(err).Warn("cycle ended early, retrying next interval")
		}
		if ctx.Err() != nil {
			return nil
		}

		sched, err := scheduler.ForConfig(a.Config())
		if err != nil {
			return err
		}
		now := time.Now()
		a.log.WithField("next", sched.Next(now).Format(time.RFC3339)).Info("sleeping")
		if err := sched.Wait(ctx, now); err != nil {
			return nil
		}
	}
}
