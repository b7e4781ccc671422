// Package qualifier moves drafted replies through their lifecycle:
// missing target, age, and duplicate-target checks in that order.
package qualifier

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/logging"
	"github.com/ibeckermayer/xwatcher/internal/store"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

// Result tallies the transitions applied by one pass
type Result struct {
	Qualified   int
	Expired     int
	MissingPost int
	Duplicate   int
	Unchanged   int
	// NotApplied counts transitions the store refused at write time
	NotApplied int
}

type Qualifier struct {
	store *store.Store
	log   *logrus.Entry
	now   func() time.Time
}

func New(st *store.Store) *Qualifier {
	return &Qualifier{store: st, log: logging.For("qualifier"), now: time.Now}
}

// Run evaluates every pending and qualified reply and applies all
// resulting transitions in one batch
func (q *Qualifier) Run(cfg *config.Config) (Result, error) {
	var res Result

	qualified, err := q.store.ListReplies(types.StatusQualified)
	if err != nil {
		return res, fmt.Errorf("failed to list qualified replies: %w", err)
	}
	pending, err := q.store.ListReplies(types.StatusPending)
	if err != nil {
		return res, fmt.Errorf("failed to list pending replies: %w", err)
	}
	posted, err := q.store.ListReplies(types.StatusPosted)
	if err != nil {
		return res, fmt.Errorf("failed to list posted replies: %w", err)
	}

	// held maps each target to the reply that owns it
	held := make(map[types.PostKey]int64, len(posted)+len(qualified))
	for _, r := range posted {
		held[r.Target] = r.ID
	}

	now := q.now()
	limit := cfg.Qualifier.AgeLimit.Duration
	var updates []store.ReplyUpdate
	planned := make(map[int64]types.ReplyStatus)
	decide := func(r types.Reply, to types.ReplyStatus) {
		if to == r.Status {
			res.Unchanged++
			return
		}
		updates = append(updates, store.ReplyUpdate{ID: r.ID, Status: to})
		planned[r.ID] = to
	}

	// replies already qualified keep their claim ahead of new ones
	for _, r := range qualified {
		to, err := q.evaluate(r, now, limit, held)
		if err != nil {
			q.log.WithError(err).WithField("reply", r.ID).Warn("left unchanged")
			res.Unchanged++
			continue
		}
		decide(r, to)
	}
	for _, r := range pending {
		to, err := q.evaluate(r, now, limit, held)
		if err != nil {
			q.log.WithError(err).WithField("reply", r.ID).Warn("left unchanged")
			res.Unchanged++
			continue
		}
		decide(r, to)
	}

	if len(updates) > 0 {
		batch, err := q.store.BatchUpdateReplyStatus(updates)
		if err != nil {
			return res, fmt.Errorf("failed to apply transitions: %w", err)
		}
		applied := make(map[int64]bool, len(batch.Applied))
		for _, id := range batch.Applied {
			applied[id] = true
		}
		for id, to := range planned {
			if !applied[id] {
				res.NotApplied++
				continue
			}
			switch to {
			case types.StatusQualified:
				res.Qualified++
			case types.StatusExpired:
				res.Expired++
			case types.StatusRejectedMissingPost:
				res.MissingPost++
			case types.StatusRejectedDuplicate:
				res.Duplicate++
			}
		}
	}

	q.log.WithFields(logrus.Fields{
		"qualified":   res.Qualified,
		"expired":     res.Expired,
		"missing":     res.MissingPost,
		"duplicate":   res.Duplicate,
		"unchanged":   res.Unchanged,
		"not_applied": res.NotApplied,
	}).Info("qualify complete")
	return res, nil
}

var errUnreadableAge = errors.New("target post has an unreadable timestamp")

// evaluate returns the status r should move to. held is updated when r
// keeps or gains the claim on its target.
func (q *Qualifier) evaluate(r types.Reply, now time.Time, limit time.Duration, held map[types.PostKey]int64) (types.ReplyStatus, error) {
	post, err := q.store.GetPost(r.Target)
	if errors.Is(err, store.ErrNotFound) {
		if r.Status == types.StatusQualified {
			return r.Status, fmt.Errorf("qualified reply lost its target %s", r.Target)
		}
		return types.StatusRejectedMissingPost, nil
	}
	if err != nil {
		return r.Status, err
	}

	age, err := post.Age(now)
	if err != nil {
		return r.Status, fmt.Errorf("%w: %v", errUnreadableAge, err)
	}
	if age > limit {
		return types.StatusExpired, nil
	}

	if owner, ok := held[r.Target]; ok && owner != r.ID {
		if r.Status == types.StatusQualified {
			// cannot happen while the live-target index holds; leave it
			// for the poster's own re-check
			return r.Status, fmt.Errorf("target %s already held by reply %d", r.Target, owner)
		}
		return types.StatusRejectedDuplicate, nil
	}
	held[r.Target] = r.ID
	return types.StatusQualified, nil
}
