package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ibeckermayer/xwatcher/internal/types"
)

const replyColumns = `id, target_post_id, target_handle, content, status, created_at, posted_at,
	generation_model, cost, insight, external_id, posted_via, nostr_status`

// ReplyUpdate is one requested status transition. The posting fields are
// only written when Status is posted.
type ReplyUpdate struct {
	ID         int64
	Status     types.ReplyStatus
	ExternalID string
	PostedVia  string
	PostedAt   time.Time
}

// BatchResult reports what a batch update did with each id
type BatchResult struct {
	Applied []int64
	// Missing ids matched no reply
	Missing []int64
	// Rejected ids were illegal transitions or would have made a second
	// live reply for the same post
	Rejected []int64
}

// InsertReply allocates the next id (max existing + 1, gaps tolerated) and
// stores r. r.ID and r.Status are filled in.
func (s *Store) InsertReply(r *types.Reply) (int64, error) {
	if r.Status == "" {
		r.Status = types.StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	err := s.withTx(func(tx *sql.Tx) error {
		// archived ids stay reserved so an audit trail never sees two
		// replies with one id
		var next int64
		err := tx.QueryRow(`
			SELECT MAX(
				COALESCE((SELECT MAX(id) FROM replies), 0),
				COALESCE((SELECT MAX(id) FROM replies_archive), 0)
			) + 1`).Scan(&next)
		if err != nil {
			return fmt.Errorf("failed to allocate reply id: %w", err)
		}

		_, err = tx.Exec(`INSERT INTO replies (`+replyColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			next, r.Target.ID, r.Target.Handle, r.Content, string(r.Status),
			formatTime(r.CreatedAt), formatTime(r.PostedAt), r.Model, r.Cost, r.Insight,
			r.ExternalID, r.PostedVia, r.NostrStatus)
		if err != nil {
			return fmt.Errorf("failed to insert reply for %s: %w", r.Target, err)
		}
		r.ID = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	return r.ID, nil
}

// GetReply returns one reply or ErrNotFound
func (s *Store) GetReply(id int64) (*types.Reply, error) {
	row := s.db.QueryRow(`SELECT `+replyColumns+` FROM replies WHERE id = ?`, id)
	r, err := scanReply(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListReplies returns every reply in status, in id order
func (s *Store) ListReplies(status types.ReplyStatus) ([]types.Reply, error) {
	return s.queryReplies(`SELECT `+replyColumns+` FROM replies WHERE status = ? ORDER BY id`, string(status))
}

// AllReplies returns the hot table in id order
func (s *Store) AllReplies() ([]types.Reply, error) {
	return s.queryReplies(`SELECT ` + replyColumns + ` FROM replies ORDER BY id`)
}

// RecentPosted returns the newest posted replies, newest first
func (s *Store) RecentPosted(limit int) ([]types.Reply, error) {
	return s.queryReplies(`SELECT `+replyColumns+` FROM replies WHERE status = 'posted'
		ORDER BY posted_at DESC LIMIT ?`, limit)
}

// ExistingReplyTargets returns every post that has a reply in the hot
// table. Archived replies no longer block drafting.
func (s *Store) ExistingReplyTargets() (map[types.PostKey]struct{}, error) {
	rows, err := s.db.Query(`SELECT DISTINCT target_post_id, target_handle FROM replies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	targets := make(map[types.PostKey]struct{})
	for rows.Next() {
		var k types.PostKey
		if err := rows.Scan(&k.ID, &k.Handle); err != nil {
			return nil, err
		}
		targets[k] = struct{}{}
	}
	return targets, rows.Err()
}

// LiveTargets maps each post holding a qualified or posted reply to that
// reply's id
func (s *Store) LiveTargets() (map[types.PostKey]int64, error) {
	rows, err := s.db.Query(`SELECT id, target_post_id, target_handle FROM replies
		WHERE status IN ('qualified', 'posted')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	live := make(map[types.PostKey]int64)
	for rows.Next() {
		var (
			id int64
			k  types.PostKey
		)
		if err := rows.Scan(&id, &k.ID, &k.Handle); err != nil {
			return nil, err
		}
		live[k] = id
	}
	return live, rows.Err()
}

// LiveReplyForTarget returns the qualified or posted reply for key, or
// ErrNotFound
func (s *Store) LiveReplyForTarget(key types.PostKey) (*types.Reply, error) {
	row := s.db.QueryRow(`SELECT `+replyColumns+` FROM replies
		WHERE target_post_id = ? AND target_handle = ? AND status IN ('qualified', 'posted')`,
		key.ID, key.Handle)
	r, err := scanReply(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// BatchUpdateReplyStatus applies all updates in one transaction. Unknown ids
// and illegal transitions are skipped and reported while the rest still
// apply. Any database error rolls the whole batch back.
func (s *Store) BatchUpdateReplyStatus(updates []ReplyUpdate) (BatchResult, error) {
	var res BatchResult
	if len(updates) == 0 {
		return res, nil
	}

	err := s.withTx(func(tx *sql.Tx) error {
		for _, u := range updates {
			var current string
			err := tx.QueryRow(`SELECT status FROM replies WHERE id = ?`, u.ID).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				res.Missing = append(res.Missing, u.ID)
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to read reply %d: %w", u.ID, err)
			}

			from, err := types.ParseReplyStatus(current)
			if err != nil || !from.CanTransition(u.Status) {
				s.log.WithField("reply_id", u.ID).Warnf("refusing transition %s -> %s", current, u.Status)
				res.Rejected = append(res.Rejected, u.ID)
				continue
			}

			if u.Status == types.StatusPosted {
				postedAt := u.PostedAt
				if postedAt.IsZero() {
					postedAt = time.Now()
				}
				_, err = tx.Exec(`UPDATE replies SET status = ?, external_id = ?, posted_via = ?, posted_at = ?
					WHERE id = ?`, string(u.Status), u.ExternalID, u.PostedVia, formatTime(postedAt), u.ID)
			} else {
				_, err = tx.Exec(`UPDATE replies SET status = ? WHERE id = ?`, string(u.Status), u.ID)
			}
			if isUniqueViolation(err) {
				s.log.WithField("reply_id", u.ID).Warn("target already has a live reply")
				res.Rejected = append(res.Rejected, u.ID)
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to update reply %d: %w", u.ID, err)
			}
			res.Applied = append(res.Applied, u.ID)
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	return res, nil
}

// ReplyPosted records a successful publish
func (s *Store) ReplyPosted(id int64, externalID, via string, at time.Time) error {
	res, err := s.BatchUpdateReplyStatus([]ReplyUpdate{{
		ID:         id,
		Status:     types.StatusPosted,
		ExternalID: externalID,
		PostedVia:  via,
		PostedAt:   at,
	}})
	if err != nil {
		return err
	}
	if len(res.Missing) > 0 {
		return ErrNotFound
	}
	if len(res.Rejected) > 0 {
		return fmt.Errorf("reply %d cannot be marked posted", id)
	}
	return nil
}

// SetReplyNostrStatus records the secondary broadcast outcome
func (s *Store) SetReplyNostrStatus(id int64, status string) error {
	res, err := s.db.Exec(`UPDATE replies SET nostr_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to set nostr status for %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PostedTimesSince returns posted_at of replies published at or after
// since, oldest first. An empty channels list counts every channel.
func (s *Store) PostedTimesSince(since time.Time, channels []string) ([]time.Time, error) {
	query := `SELECT posted_at FROM replies WHERE status = 'posted' AND posted_at >= ?`
	args := []any{formatTime(since)}
	if len(channels) > 0 {
		query += ` AND posted_via IN (?` + strings.Repeat(`, ?`, len(channels)-1) + `)`
		for _, ch := range channels {
			args = append(args, ch)
		}
	}
	query += ` ORDER BY posted_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		t, err := parseTime(raw)
		if err != nil || t.IsZero() {
			s.log.WithField("posted_at", raw).Warn("skipping unparseable posted_at")
			continue
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// CountPostedSince counts replies published at or after since
func (s *Store) CountPostedSince(since time.Time, channels []string) (int, error) {
	times, err := s.PostedTimesSince(since, channels)
	if err != nil {
		return 0, err
	}
	return len(times), nil
}

func (s *Store) queryReplies(query string, args ...any) ([]types.Reply, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var replies []types.Reply
	for rows.Next() {
		r, err := scanReply(rows)
		if err != nil {
			s.log.WithError(err).Warn("skipping malformed reply row")
			continue
		}
		replies = append(replies, *r)
	}
	return replies, rows.Err()
}

func scanReply(row scanner) (*types.Reply, error) {
	var (
		r                   types.Reply
		status              string
		createdAt, postedAt string
	)
	err := row.Scan(&r.ID, &r.Target.ID, &r.Target.Handle, &r.Content, &status, &createdAt, &postedAt,
		&r.Model, &r.Cost, &r.Insight, &r.ExternalID, &r.PostedVia, &r.NostrStatus)
	if err != nil {
		return nil, err
	}

	if r.Status, err = types.ParseReplyStatus(status); err != nil {
		return nil, fmt.Errorf("reply %d: %w", r.ID, err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("reply %d: bad created_at: %w", r.ID, err)
	}
	if r.PostedAt, err = parseTime(postedAt); err != nil {
		return nil, fmt.Errorf("reply %d: bad posted_at: %w", r.ID, err)
	}
	return &r, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
