// Package generator drafts replies for high-scoring, fresh posts.
package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/xwatcher/internal/analyzer"
	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/logging"
	"github.com/ibeckermayer/xwatcher/internal/store"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

// Result tallies one generate pass
type Result struct {
	Drafted int
	Skipped int
	Failed  int
	Engaged int
	Cost    float64
}

type Generator struct {
	store   *store.Store
	drafter analyzer.Drafter
	log     *logrus.Entry

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(st *store.Store, drafter analyzer.Drafter) *Generator {
	return &Generator{
		store:   st,
		drafter: drafter,
		log:     logging.For("generator"),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Run drafts a pending reply for every eligible post without one
func (g *Generator) Run(ctx context.Context, cfg *config.Config, prompts *config.Prompts) (Result, error) {
	var res Result
	if cfg.Workflow.Mode != config.ModeDraft && cfg.Workflow.Mode != config.ModePost {
		return res, fmt.Errorf("invalid workflow mode %q", cfg.Workflow.Mode)
	}

	targets, err := g.store.ExistingReplyTargets()
	if err != nil {
		return res, fmt.Errorf("failed to load reply targets: %w", err)
	}
	posts, err := g.store.ListPosts()
	if err != nil {
		return res, fmt.Errorf("failed to list posts: %w", err)
	}

	first := true
	for _, post := range posts {
		if reason := g.ineligible(post, targets, cfg); reason != "" {
			res.Skipped++
			g.log.WithFields(logrus.Fields{"post": post.Key().String(), "reason": reason}).Trace("skipped")
			continue
		}

		if !first {
			if err := g.sleep(ctx, cfg.Generator.RequestDelay.Duration); err != nil {
				return res, err
			}
		}
		first = false

		if err := g.draft(ctx, post, prompts, cfg, "", &res); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			g.log.WithError(err).WithField("post", post.Key().String()).Warn("drafting failed")
			continue
		}
		targets[post.Key()] = struct{}{}
	}

	if cfg.Engagement.Enabled {
		n, err := g.engage(ctx, cfg, prompts, targets, &res)
		res.Engaged = n
		if err != nil {
			return res, err
		}
	}

	g.log.WithFields(logrus.Fields{
		"drafted": res.Drafted,
		"engaged": res.Engaged,
		"failed":  res.Failed,
		"cost":    res.Cost,
	}).Info("generate complete")
	return res, nil
}

// ineligible returns why post should not get a draft, or ""
func (g *Generator) ineligible(post types.Post, targets map[types.PostKey]struct{}, cfg *config.Config) string {
	if _, ok := targets[post.Key()]; ok {
		return "already has a reply"
	}
	if bot := strings.TrimPrefix(cfg.Workflow.BotHandle, "@"); bot != "" && strings.EqualFold(post.Handle, bot) {
		return "own post"
	}
	if post.IsReply && !cfg.Generator.ReplyToReplies {
		return "reply"
	}
	if post.IsRetweet && !cfg.Generator.ReplyToReposts {
		return "repost"
	}
	if post.Score == nil {
		return "unscored"
	}
	if *post.Score < cfg.Quantifier.Threshold {
		return "below threshold"
	}
	age, err := post.Age(g.now())
	if err != nil {
		return "unreadable timestamp"
	}
	if age > cfg.Qualifier.AgeLimit.Duration {
		return "too old"
	}
	return ""
}

func (g *Generator) draft(ctx context.Context, post types.Post, prompts *config.Prompts, cfg *config.Config, model string, res *Result) error {
	d, err := g.drafter.Draft(ctx, post, prompts, model)
	if err != nil {
		return err
	}
	reply := &types.Reply{
		Target:    post.Key(),
		Content:   WithSignature(d.Text, cfg.Generator.Signature),
		CreatedAt: g.now().UTC(),
		Model:     d.Model,
		Cost:      d.Cost,
		Insight:   d.Insight,
	}
	if _, err := g.store.InsertReply(reply); err != nil {
		return fmt.Errorf("failed to insert reply: %w", err)
	}
	res.Drafted++
	res.Cost += d.Cost
	g.log.WithFields(logrus.Fields{
		"post":  post.Key().String(),
		"reply": reply.ID,
	}).Info("drafted reply")
	return nil
}

// engage drafts replies to people who answered the bot's own posts
func (g *Generator) engage(ctx context.Context, cfg *config.Config, prompts *config.Prompts, targets map[types.PostKey]struct{}, res *Result) (int, error) {
	pending, err := g.store.PendingEngagements(config.EngagementReply)
	if err != nil {
		return 0, fmt.Errorf("failed to list engagements: %w", err)
	}

	n := 0
	for _, e := range pending {
		if _, ok := targets[e.Post]; ok {
			if err := g.store.MarkEngagementReplied(e.Post); err != nil {
				return n, err
			}
			continue
		}
		post, err := g.store.GetPost(e.Post)
		if err != nil {
			g.log.WithError(err).WithField("post", e.Post.String()).Warn("engagement target missing")
			continue
		}

		if err := g.sleep(ctx, cfg.Generator.RequestDelay.Duration); err != nil {
			return n, err
		}
		before := res.Drafted
		if err := g.draft(ctx, *post, prompts, cfg, cfg.Engagement.Model, res); err != nil {
			if ctx.Err() != nil {
				return n, ctx.Err()
			}
			res.Failed++
			g.log.WithError(err).WithField("post", e.Post.String()).Warn("engagement drafting failed")
			continue
		}
		// engagement drafts are counted separately
		res.Drafted = before
		targets[e.Post] = struct{}{}
		if err := g.store.MarkEngagementReplied(e.Post); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// WithSignature appends sig unless text already ends with it
func WithSignature(text, sig string) string {
	text = strings.TrimSpace(text)
	sig = strings.TrimSpace(sig)
	if sig == "" || strings.HasSuffix(text, sig) {
		return text
	}
	return text + " " + sig
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
