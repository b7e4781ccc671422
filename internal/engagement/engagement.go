// Package engagement finds replies left under the bot's own posts and
// records them for the generator.
package engagement

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/logging"
	"github.com/ibeckermayer/xwatcher/internal/scraper"
	"github.com/ibeckermayer/xwatcher/internal/store"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

// ThreadFetcher returns the replies under one post
type ThreadFetcher interface {
	FetchReplies(ctx context.Context, handle, postID string) ([]scraper.ThreadReply, error)
}

// Result tallies one engagement scan
type Result struct {
	Checked int
	Found   int
	New     int
}

type Tracker struct {
	store    *store.Store
	fetchers []ThreadFetcher
	log      *logrus.Entry
	now      func() time.Time
}

// New creates a tracker trying fetchers in order for each post
func New(st *store.Store, fetchers ...ThreadFetcher) *Tracker {
	return &Tracker{store: st, fetchers: fetchers, log: logging.For("engagement"), now: time.Now}
}

// Run checks the bot's recent posts for new replies
func (t *Tracker) Run(ctx context.Context, cfg *config.Config) (Result, error) {
	var res Result
	if !cfg.Engagement.Enabled {
		return res, nil
	}
	bot := strings.TrimPrefix(cfg.Workflow.BotHandle, "@")
	if bot == "" {
		return res, fmt.Errorf("engagement enabled but workflow.bot_handle is not set")
	}
	if len(t.fetchers) == 0 {
		return res, fmt.Errorf("no thread fetchers configured")
	}

	own, err := t.recentOwnPosts(bot, cfg.Engagement)
	if err != nil {
		return res, err
	}

	for _, post := range own {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		replies, err := t.fetch(ctx, bot, post.ID)
		if err != nil {
			t.log.WithError(err).WithField("post", post.ID).Warn("failed to fetch replies")
			continue
		}
		res.Checked++

		for _, r := range replies {
			if r.ID == "" || strings.EqualFold(r.Handle, bot) {
				continue
			}
			res.Found++
			added, err := t.record(post, r, cfg.Engagement.Mode)
			if err != nil {
				return res, err
			}
			if added {
				res.New++
			}
		}
	}

	t.log.WithFields(logrus.Fields{
		"checked": res.Checked,
		"found":   res.Found,
		"new":     res.New,
	}).Info("engagement scan complete")
	return res, nil
}

// recentOwnPosts returns the newest bot posts inside the lookback window
func (t *Tracker) recentOwnPosts(bot string, cfg config.EngagementConfig) ([]types.Post, error) {
	posts, err := t.store.PostsByHandle(bot)
	if err != nil {
		return nil, fmt.Errorf("failed to list own posts: %w", err)
	}

	type dated struct {
		post types.Post
		at   time.Time
	}
	cutoff := t.now().Add(-cfg.Lookback.Duration)
	var recent []dated
	for _, p := range posts {
		// local ids were never confirmed by the platform
		if strings.HasPrefix(p.ID, "local-") {
			continue
		}
		at, err := p.PublishedAt()
		if err != nil || at.Before(cutoff) {
			continue
		}
		recent = append(recent, dated{p, at})
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].at.After(recent[j].at) })

	if cfg.MaxPosts > 0 && len(recent) > cfg.MaxPosts {
		recent = recent[:cfg.MaxPosts]
	}
	out := make([]types.Post, len(recent))
	for i, d := range recent {
		out[i] = d.post
	}
	return out, nil
}

func (t *Tracker) fetch(ctx context.Context, bot, postID string) ([]scraper.ThreadReply, error) {
	var lastErr error
	for _, f := range t.fetchers {
		replies, err := f.FetchReplies(ctx, bot, postID)
		if err == nil {
			return replies, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// record stores the reply as a post and links it to the bot post.
// Both writes are deduplicated.
func (t *Tracker) record(botPost types.Post, r scraper.ThreadReply, mode string) (bool, error) {
	now := t.now().UTC()
	post := &types.Post{
		ID:        r.ID,
		Handle:    scraper.CleanHandle(r.Handle),
		Content:   r.Content,
		ScrapedAt: now,
		PostedAt:  r.PostedAt,
		IsReply:   true,
	}
	if _, err := t.store.InsertPost(post); err != nil {
		return false, fmt.Errorf("failed to store reply %s: %w", post.Key(), err)
	}
	added, err := t.store.InsertEngagement(types.Engagement{
		Post:      post.Key(),
		BotPostID: botPost.ID,
		Mode:      mode,
		CreatedAt: now,
	})
	if err != nil {
		return false, fmt.Errorf("failed to record engagement: %w", err)
	}
	return added, nil
}
