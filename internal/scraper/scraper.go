// Package scraper pulls new posts from monitored handles into the store.
// Fetching is delegated to a Source; this package owns deduplication.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/logging"
	"github.com/ibeckermayer/xwatcher/internal/store"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

// ErrBlocked means the source refused us (login wall, throttling page).
// A blocked source is not retried for the rest of the scan.
var ErrBlocked = errors.New("source blocked")

// Candidate is a raw post as returned by a Source, before dedup
type Candidate struct {
	ID       string
	Content  string
	PostedAt string

	IsReply       bool
	IsPinned      bool
	IsRetweet     bool
	RetweetSource string
	HasImage      bool
	HasVideo      bool
	MediaURL      string
	HasLink       bool
	LinkURL       string
}

// Source fetches the newest posts of a handle
type Source interface {
	Name() string
	// Ordered reports whether candidates arrive newest first. Only
	// ordered sources may stop at the first known post.
	Ordered() bool
	Fetch(ctx context.Context, handle string) ([]Candidate, error)
}

// Result tallies one scan
type Result struct {
	Handles int
	Scraped int
	New     int
	Failed  []string
}

// Scraper runs the dedup stage over every configured handle
type Scraper struct {
	store   *store.Store
	sources []Source
	log     *logrus.Entry
	now     func() time.Time
}

// New creates a scraper trying sources in the given order
func New(st *store.Store, sources ...Source) *Scraper {
	return &Scraper{
		store:   st,
		sources: sources,
		log:     logging.For("scraper"),
		now:     time.Now,
	}
}

// Run scans every handle in cfg.Workflow.Handles
func (s *Scraper) Run(ctx context.Context, cfg *config.Config) (Result, error) {
	var res Result
	if len(s.sources) == 0 {
		return res, fmt.Errorf("no scraping sources configured")
	}

	blocked := make(map[string]bool)
	for _, raw := range cfg.Workflow.Handles {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		handle := CleanHandle(raw)
		if handle == "" {
			continue
		}
		res.Handles++

		scraped, added, err := s.scanHandle(ctx, handle, cfg.Scraping, blocked)
		res.Scraped += scraped
		res.New += added
		if err != nil {
			s.log.WithError(err).WithField("handle", handle).Warn("scan failed")
			res.Failed = append(res.Failed, handle)
		}

		// checked regardless of outcome
		if err := s.store.UpsertHandleChecked(handle, s.now()); err != nil {
			return res, fmt.Errorf("failed to update handle %s: %w", handle, err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"handles": res.Handles,
		"scraped": res.Scraped,
		"new":     res.New,
		"failed":  len(res.Failed),
	}).Info("scrape complete")
	return res, nil
}

// scanHandle tries each source until one returns candidates
func (s *Scraper) scanHandle(ctx context.Context, handle string, cfg config.ScrapingConfig, blocked map[string]bool) (int, int, error) {
	var lastErr error
	for _, src := range s.ordered() {
		if blocked[src.Name()] {
			continue
		}

		start := s.now()
		candidates, err := src.Fetch(ctx, handle)
		entry := types.PerformanceEntry{
			At:      start,
			Source:  src.Name(),
			Handle:  handle,
			Latency: s.now().Sub(start),
			Scraped: len(candidates),
		}
		if err == nil && len(candidates) == 0 {
			err = fmt.Errorf("no posts returned")
		}
		if err != nil {
			if errors.Is(err, ErrBlocked) {
				s.log.WithField("source", src.Name()).Warn("source blocked, skipping it for the rest of the scan")
				blocked[src.Name()] = true
			}
			entry.Error = err.Error()
			s.recordAttempt(entry)
			lastErr = fmt.Errorf("%s: %w", src.Name(), err)
			if ctx.Err() != nil {
				return 0, 0, ctx.Err()
			}
			continue
		}

		added, err := s.ingest(handle, candidates, src.Ordered(), cfg)
		entry.Success = err == nil
		entry.New = added
		if err != nil {
			entry.Error = err.Error()
		}
		s.recordAttempt(entry)
		if err != nil {
			return len(candidates), added, err
		}

		if err := s.store.SetMeta(store.MetaLastSource, src.Name()); err != nil {
			s.log.WithError(err).Warn("failed to remember last source")
		}
		s.log.WithFields(logrus.Fields{
			"handle": handle,
			"source": src.Name(),
			"found":  len(candidates),
			"new":    added,
		}).Debug("handle scanned")
		return len(candidates), added, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("every source is blocked")
	}
	return 0, 0, lastErr
}

// ingest inserts unseen candidates and returns how many were new
func (s *Scraper) ingest(handle string, candidates []Candidate, ordered bool, cfg config.ScrapingConfig) (int, error) {
	added := 0
	for _, c := range candidates {
		if cfg.MaxNewPerHandle > 0 && added >= cfg.MaxNewPerHandle {
			break
		}
		if c.ID == "" {
			continue
		}
		if c.IsPinned && cfg.IgnorePinned {
			continue
		}

		key := types.PostKey{ID: c.ID, Handle: handle}
		exists, err := s.store.PostExists(key)
		if err != nil {
			return added, err
		}
		if exists {
			// a pinned post sits above older posts, so it says nothing
			// about what follows
			if ordered && !c.IsPinned {
				break
			}
			continue
		}

		post := normalize(handle, c, s.now())
		inserted, err := s.store.InsertPost(&post)
		if err != nil {
			return added, fmt.Errorf("failed to insert post %s: %w", key, err)
		}
		if inserted {
			added++
		}
	}
	return added, nil
}

// ordered returns the sources with the last successful one first
func (s *Scraper) ordered() []Source {
	last, ok, err := s.store.GetMeta(store.MetaLastSource)
	if err != nil || !ok {
		return s.sources
	}
	idx := slices.IndexFunc(s.sources, func(src Source) bool { return src.Name() == last })
	if idx <= 0 {
		return s.sources
	}
	out := make([]Source, 0, len(s.sources))
	out = append(out, s.sources[idx])
	out = append(out, s.sources[:idx]...)
	return append(out, s.sources[idx+1:]...)
}

func (s *Scraper) recordAttempt(e types.PerformanceEntry) {
	if err := s.store.AppendPerformance(e); err != nil {
		s.log.WithError(err).Warn("failed to append performance log")
	}
}

func normalize(handle string, c Candidate, now time.Time) types.Post {
	content := Content(c.Content)
	if c.HasLink && c.LinkURL != "" {
		content = Content(StripLink(content, c.LinkURL))
	}
	return types.Post{
		ID:            c.ID,
		Handle:        handle,
		Content:       content,
		ScrapedAt:     now.UTC(),
		PostedAt:      Content(c.PostedAt),
		IsReply:       c.IsReply,
		IsPinned:      c.IsPinned,
		IsRetweet:     c.IsRetweet,
		RetweetSource: CleanHandle(c.RetweetSource),
		HasImage:      c.HasImage,
		HasVideo:      c.HasVideo,
		MediaURL:      c.MediaURL,
		HasLink:       c.HasLink,
		LinkURL:       c.LinkURL,
	}
}
