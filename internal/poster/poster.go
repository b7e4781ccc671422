// Package poster publishes qualified replies, subject to mode, latency
// and posting budget gates.
package poster

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/logging"
	"github.com/ibeckermayer/xwatcher/internal/nostr"
	"github.com/ibeckermayer/xwatcher/internal/store"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

// errTooOld means the target aged past the limit while the poster waited
var errTooOld = errors.New("target post aged past the age limit")

// Broadcaster mirrors a posted reply to a secondary network
type Broadcaster interface {
	Publish(ctx context.Context, reply types.Reply, target types.Post) (string, error)
}

// Result tallies one post pass
type Result struct {
	Posted    int
	Failed    int
	TooFresh  int
	TooOld    int
	Missing   int
	Throttled int
}

type Poster struct {
	store     *store.Store
	channels  []Channel
	broadcast Broadcaster
	log       *logrus.Entry

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(lo, hi time.Duration) time.Duration
}

// New creates a poster trying channels in order. broadcast may be nil.
func New(st *store.Store, channels []Channel, broadcast Broadcaster) *Poster {
	return &Poster{
		store:     st,
		channels:  channels,
		broadcast: broadcast,
		log:       logging.For("poster"),
		now:       time.Now,
		sleep:     sleepCtx,
		jitter:    randomBetween,
	}
}

// Run posts every qualified reply whose target is old enough to answer
// and young enough to matter. Failed replies stay qualified.
func (p *Poster) Run(ctx context.Context, cfg *config.Config) (Result, error) {
	var res Result
	if cfg.Workflow.Mode != config.ModePost {
		p.log.WithField("mode", cfg.Workflow.Mode).Info("not in post mode, leaving replies queued")
		return res, nil
	}
	if len(p.channels) == 0 {
		return res, fmt.Errorf("no posting channels configured")
	}

	replies, err := p.store.ListReplies(types.StatusQualified)
	if err != nil {
		return res, fmt.Errorf("failed to list qualified replies: %w", err)
	}

	budget := NewBudget(p.store, cfg.RateLimit, p.log)
	budget.now, budget.sleep = p.now, p.sleep

	attempted := false
	for _, reply := range replies {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		target, err := p.store.GetPost(reply.Target)
		if err != nil {
			res.Missing++
			p.log.WithError(err).WithField("reply", reply.ID).Warn("target post unavailable")
			continue
		}
		age, err := target.Age(p.now())
		if err != nil {
			res.Missing++
			p.log.WithError(err).WithField("reply", reply.ID).Warn("target post has no usable timestamp")
			continue
		}
		if age > cfg.Qualifier.AgeLimit.Duration {
			// left for the qualifier to expire
			res.TooOld++
			continue
		}
		if age < cfg.Poster.Latency.Duration {
			res.TooFresh++
			continue
		}

		if attempted {
			if err := p.sleep(ctx, p.jitter(cfg.Poster.MinDelay.Duration, cfg.Poster.MaxDelay.Duration)); err != nil {
				return res, err
			}
		}
		attempted = true

		via, externalID, err := p.publish(ctx, cfg, budget, *target, reply, &res)
		if errors.Is(err, errTooOld) {
			// left for the qualifier to expire
			res.TooOld++
			p.log.WithField("reply", reply.ID).Info("target aged out while waiting, not posting")
			continue
		}
		if err == nil {
			err = p.record(cfg, reply, *target, via, externalID)
			if err != nil {
				return res, err
			}
			res.Posted++
		} else {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			res.Failed++
			p.log.WithError(err).WithField("reply", reply.ID).Warn("publish failed, will retry next cycle")
		}

		p.mirror(ctx, cfg, reply, *target)
	}

	p.log.WithFields(logrus.Fields{
		"posted":    res.Posted,
		"failed":    res.Failed,
		"too_fresh": res.TooFresh,
		"too_old":   res.TooOld,
	}).Info("post complete")
	return res, nil
}

// publish waits for the budget, then tries each channel in order and
// returns the one that worked. The budget gates every channel; only the
// posts it counts are limited to rate_limit.rate_limited_channels.
func (p *Poster) publish(ctx context.Context, cfg *config.Config, budget *Budget, target types.Post, reply types.Reply, res *Result) (string, string, error) {
	if err := budget.Wait(ctx); err != nil {
		return "", "", err
	}

	var errs []error
	for _, ch := range p.channels {
		if p.tooOld(cfg, target) {
			return "", "", errTooOld
		}

		id, err := ch.Publish(ctx, target, reply.Content)
		if err == nil {
			return ch.Name(), id, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))

		var rl *RateLimitError
		if errors.As(err, &rl) {
			res.Throttled++
			wait := rl.Reset
			if wait <= 0 {
				wait = cfg.Poster.ThrottleBackoff.Duration
			}
			p.log.WithFields(logrus.Fields{
				"channel": ch.Name(),
				"wait":    wait.Round(time.Second).String(),
			}).Warn("throttled, backing off")
			if err := p.sleep(ctx, wait); err != nil {
				return "", "", err
			}
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
	}
	return "", "", errors.Join(errs...)
}

// tooOld re-checks the target age, which may have moved past the limit
// during a budget wait, a throttle backoff or the inter-post delay
func (p *Poster) tooOld(cfg *config.Config, target types.Post) bool {
	age, err := target.Age(p.now())
	return err != nil || age > cfg.Qualifier.AgeLimit.Duration
}

// record persists a successful publish
func (p *Poster) record(cfg *config.Config, reply types.Reply, target types.Post, via, externalID string) error {
	now := p.now().UTC()
	if externalID == "" {
		externalID = "local-" + uuid.NewString()
	}
	if err := p.store.ReplyPosted(reply.ID, externalID, via, now); err != nil {
		// the post is live; a failure here must be visible
		return fmt.Errorf("reply %d was published as %s but could not be recorded: %w", reply.ID, externalID, err)
	}
	p.log.WithFields(logrus.Fields{
		"reply":   reply.ID,
		"target":  target.Key().String(),
		"via":     via,
		"post_id": externalID,
	}).Info("reply posted")

	if err := p.store.MarkHandlePosted(target.Handle, now); err != nil {
		p.log.WithError(err).Warn("failed to update handle")
	}
	if err := p.store.MarkPostReplied(target.Key(), externalID); err != nil {
		p.log.WithError(err).Warn("failed to mark target replied")
	}

	bot := strings.TrimPrefix(cfg.Workflow.BotHandle, "@")
	if bot == "" {
		p.log.Warn("workflow.bot_handle not set, own post not mirrored")
		return nil
	}
	own := &types.Post{
		ID:        externalID,
		Handle:    bot,
		Content:   reply.Content,
		ScrapedAt: now,
		PostedAt:  now.Format(time.RFC3339),
		IsReply:   true,
	}
	if _, err := p.store.InsertPost(own); err != nil {
		p.log.WithError(err).Warn("failed to mirror own post")
	}
	return nil
}

// mirror broadcasts to the secondary network. Its outcome never
// touches the reply's primary status.
func (p *Poster) mirror(ctx context.Context, cfg *config.Config, reply types.Reply, target types.Post) {
	if p.broadcast == nil || !cfg.Nostr.Enabled || reply.NostrStatus == nostr.StatusPublished {
		return
	}
	status := nostr.StatusPublished
	if _, err := p.broadcast.Publish(ctx, reply, target); err != nil {
		status = nostr.StatusFailed
		p.log.WithError(err).WithField("reply", reply.ID).Warn("nostr broadcast failed")
	}
	if err := p.store.SetReplyNostrStatus(reply.ID, status); err != nil {
		p.log.WithError(err).Warn("failed to record nostr status")
	}
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}
