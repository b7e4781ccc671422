package poster

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/store"
)

const (
	day   = 24 * time.Hour
	month = 30 * day
)

// Budget enforces the manual posting limits over rolling windows,
// counting from the store's own posted-reply history
type Budget struct {
	store    *store.Store
	perDay   int
	perMonth int
	channels []string
	log      *logrus.Entry

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewBudget(st *store.Store, cfg config.RateLimitConfig, log *logrus.Entry) *Budget {
	return &Budget{
		store:    st,
		perDay:   cfg.MaxPerDay,
		perMonth: cfg.MaxPerMonth,
		channels: cfg.RateLimitedChannels,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Delay returns how long until one more post fits in both windows
func (b *Budget) Delay() (time.Duration, error) {
	now := b.now()
	times, err := b.store.PostedTimesSince(now.Add(-month), b.channels)
	if err != nil {
		return 0, fmt.Errorf("failed to read post history: %w", err)
	}

	var wait time.Duration
	if b.perMonth > 0 && len(times) >= b.perMonth {
		// the post that must leave the window for count to drop below max
		exit := times[len(times)-b.perMonth].Add(month)
		wait = max(wait, exit.Sub(now))
	}

	var today []time.Time
	cutoff := now.Add(-day)
	for _, t := range times {
		if t.After(cutoff) {
			today = append(today, t)
		}
	}
	if b.perDay > 0 && len(today) >= b.perDay {
		exit := today[len(today)-b.perDay].Add(day)
		wait = max(wait, exit.Sub(now))
	}
	return max(wait, 0), nil
}

// Wait blocks until the budget allows another post, logging a
// countdown every minute
func (b *Budget) Wait(ctx context.Context) error {
	for {
		wait, err := b.Delay()
		if err != nil {
			return err
		}
		if wait <= 0 {
			return nil
		}
		b.log.WithField("remaining", wait.Round(time.Second).String()).Info("posting budget exhausted, waiting")
		if err := b.sleep(ctx, min(wait, time.Minute)); err != nil {
			return err
		}
	}
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
