package store

import (
	"fmt"
	"time"

	"github.com/ibeckermayer/xwatcher/internal/types"
)

// InsertEngagement links a thread reply (already stored as a post) to the
// bot post it answers. Returns false when the link already exists.
func (s *Store) InsertEngagement(e types.Engagement) (bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO engagements (post_id, handle, bot_post_id, mode, replied, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(post_id, handle) DO NOTHING
	`, e.Post.ID, e.Post.Handle, e.BotPostID, e.Mode, boolInt(e.Replied), formatTime(e.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert engagement %s: %w", e.Post, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PendingEngagements returns unreplied engagements in mode, oldest first
func (s *Store) PendingEngagements(mode string) ([]types.Engagement, error) {
	rows, err := s.db.Query(`
		SELECT post_id, handle, bot_post_id, mode, replied, created_at
		FROM engagements WHERE replied = 0 AND mode = ? ORDER BY created_at
	`, mode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Engagement
	for rows.Next() {
		var (
			e         types.Engagement
			replied   int
			createdAt string
		)
		if err := rows.Scan(&e.Post.ID, &e.Post.Handle, &e.BotPostID, &e.Mode, &replied, &createdAt); err != nil {
			return nil, err
		}
		t, err := parseTime(createdAt)
		if err != nil {
			s.log.WithField("post", e.Post).WithError(err).Warn("skipping malformed engagement row")
			continue
		}
		e.CreatedAt = t
		e.Replied = replied != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkEngagementReplied(key types.PostKey) error {
	res, err := s.db.Exec(`UPDATE engagements SET replied = 1 WHERE post_id = ? AND handle = ?`, key.ID, key.Handle)
	if err != nil {
		return fmt.Errorf("failed to mark engagement %s: %w", key, err)
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
