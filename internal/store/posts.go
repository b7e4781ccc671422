package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ibeckermayer/xwatcher/internal/types"
)

const postColumns = `post_id, handle, content, scraped_at, posted_at, score, score_cost,
	is_reply, is_pinned, is_retweet, retweet_source, has_image, has_video, media_url,
	has_link, link_url, replied_to, reply_post_id`

// PostExists reports whether a post with this identity was ever stored
func (s *Store) PostExists(key types.PostKey) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM posts WHERE post_id = ? AND handle = ?)`,
		key.ID, key.Handle).Scan(&exists)
	return exists, err
}

// InsertPost stores p unless its (post_id, handle) is already present.
// Returns false for a duplicate.
func (s *Store) InsertPost(p *types.Post) (bool, error) {
	if p.ID == "" || p.Handle == "" {
		return false, fmt.Errorf("post needs both id and handle")
	}
	var score sql.NullInt64
	if p.Score != nil {
		score = sql.NullInt64{Int64: int64(*p.Score), Valid: true}
	}

	res, err := s.db.Exec(`
		INSERT INTO posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(post_id, handle) DO NOTHING
	`, p.ID, p.Handle, p.Content, formatTime(p.ScrapedAt), p.PostedAt, score, p.ScoreCost,
		boolInt(p.IsReply), boolInt(p.IsPinned), boolInt(p.IsRetweet), p.RetweetSource,
		boolInt(p.HasImage), boolInt(p.HasVideo), p.MediaURL,
		boolInt(p.HasLink), p.LinkURL, boolInt(p.RepliedTo), p.ReplyPostID)
	if err != nil {
		return false, fmt.Errorf("failed to insert post %s: %w", p.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdatePostScore sets the score of every row carrying postID. Ids are
// unique per handle in practice, so this normally touches one row.
func (s *Store) UpdatePostScore(postID string, score int, cost float64) error {
	res, err := s.db.Exec(`UPDATE posts SET score = ?, score_cost = ? WHERE post_id = ?`,
		score, cost, postID)
	if err != nil {
		return fmt.Errorf("failed to update score for %s: %w", postID, err)
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

// MarkPostReplied links a target post to the bot's reply
func (s *Store) MarkPostReplied(key types.PostKey, replyPostID string) error {
	res, err := s.db.Exec(`UPDATE posts SET replied_to = 1, reply_post_id = ? WHERE post_id = ? AND handle = ?`,
		replyPostID, key.ID, key.Handle)
	if err != nil {
		return fmt.Errorf("failed to mark %s replied: %w", key, err)
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

// GetPost returns the post with this identity or ErrNotFound
func (s *Store) GetPost(key types.PostKey) (*types.Post, error) {
	row := s.db.QueryRow(`SELECT `+postColumns+` FROM posts WHERE post_id = ? AND handle = ?`,
		key.ID, key.Handle)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindPostByID returns the first stored post with postID, whatever its handle
func (s *Store) FindPostByID(postID string) (*types.Post, error) {
	row := s.db.QueryRow(`SELECT `+postColumns+` FROM posts WHERE post_id = ? ORDER BY rowid LIMIT 1`, postID)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UnscoredPosts returns posts the quantifier has not scored yet
func (s *Store) UnscoredPosts() ([]types.Post, error) {
	return s.queryPosts(`SELECT ` + postColumns + ` FROM posts WHERE score IS NULL ORDER BY rowid`)
}

// ListPosts returns every stored post in insertion order
func (s *Store) ListPosts() ([]types.Post, error) {
	return s.queryPosts(`SELECT ` + postColumns + ` FROM posts ORDER BY rowid`)
}

// PostsByHandle returns every stored post of one handle in insertion order
func (s *Store) PostsByHandle(handle string) ([]types.Post, error) {
	return s.queryPosts(`SELECT `+postColumns+` FROM posts WHERE handle = ? ORDER BY rowid`, handle)
}

func (s *Store) queryPosts(query string, args ...any) ([]types.Post, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []types.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			s.log.WithError(err).Warn("skipping malformed post row")
			continue
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (*types.Post, error) {
	var (
		p                                      types.Post
		scrapedAt                              string
		score                                  sql.NullInt64
		isReply, isPinned, isRetweet           int
		hasImage, hasVideo, hasLink, repliedTo int
	)
	err := row.Scan(&p.ID, &p.Handle, &p.Content, &scrapedAt, &p.PostedAt, &score, &p.ScoreCost,
		&isReply, &isPinned, &isRetweet, &p.RetweetSource, &hasImage, &hasVideo, &p.MediaURL,
		&hasLink, &p.LinkURL, &repliedTo, &p.ReplyPostID)
	if err != nil {
		return nil, err
	}

	p.ScrapedAt, err = parseTime(scrapedAt)
	if err != nil {
		return nil, fmt.Errorf("post %s: bad scraped_at: %w", p.Key(), err)
	}
	if score.Valid {
		v := int(score.Int64)
		p.Score = &v
	}
	p.IsReply = isReply != 0
	p.IsPinned = isPinned != 0
	p.IsRetweet = isRetweet != 0
	p.HasImage = hasImage != 0
	p.HasVideo = hasVideo != 0
	p.HasLink = hasLink != 0
	p.RepliedTo = repliedTo != 0
	return &p, nil
}
