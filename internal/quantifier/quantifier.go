// Package quantifier assigns relevance scores to unscored posts.
package quantifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/xwatcher/internal/analyzer"
	"github.com/ibeckermayer/xwatcher/internal/analyzer/providers"
	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/logging"
	"github.com/ibeckermayer/xwatcher/internal/store"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

// Result tallies one quantify pass
type Result struct {
	Scored int
	Failed int
	Cost   float64
}

type Quantifier struct {
	store  *store.Store
	scorer analyzer.Scorer
	log    *logrus.Entry
}

func New(st *store.Store, scorer analyzer.Scorer) *Quantifier {
	return &Quantifier{store: st, scorer: scorer, log: logging.For("quantifier")}
}

// Run scores every post still carrying the unscored sentinel. A failed
// post keeps no score and is retried next cycle.
func (q *Quantifier) Run(ctx context.Context, cfg *config.Config, prompts *config.Prompts) (Result, error) {
	var res Result
	posts, err := q.store.UnscoredPosts()
	if err != nil {
		return res, fmt.Errorf("failed to list unscored posts: %w", err)
	}
	if len(posts) == 0 {
		q.log.Info("nothing to score")
		return res, nil
	}

	limit := cfg.Quantifier.Concurrency
	if limit < 1 {
		limit = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, post := range posts {
		g.Go(func() error {
			score, err := q.scorer.Score(gctx, post, prompts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				q.log.WithError(err).WithField("post", post.Key().String()).Warn("scoring failed")
				res.Failed++
				return nil
			}
			return q.record(post, score, &res)
		})
	}

	err = g.Wait()
	q.log.WithFields(logrus.Fields{
		"scored": res.Scored,
		"failed": res.Failed,
		"cost":   res.Cost,
	}).Info("quantify complete")
	return res, err
}

// record is called with mu held
func (q *Quantifier) record(post types.Post, score providers.Score, res *Result) error {
	value := providers.Clamp(score.Value)
	if err := q.store.UpdatePostScore(post.ID, value, score.Cost); err != nil {
		return fmt.Errorf("failed to save score for %s: %w", post.Key(), err)
	}
	res.Scored++
	res.Cost += score.Cost
	q.log.WithFields(logrus.Fields{
		"post":  post.Key().String(),
		"score": value,
	}).Debug("scored")
	return nil
}
