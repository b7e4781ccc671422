package store

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ibeckermayer/xwatcher/internal/types"
)

// ImportResult tallies one legacy import
type ImportResult struct {
	Posts       int
	Replies     int
	Handles     int
	Quarantined int
}

// legacyFile is one flat-file table. Header names vary across historic
// layouts, so columns are looked up by name with aliases.
type legacyFile struct {
	name   string
	header map[string]int
}

func (f *legacyFile) get(rec []string, names ...string) (string, bool) {
	for _, n := range names {
		if i, ok := f.header[n]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i]), true
		}
	}
	return "", false
}

func (f *legacyFile) str(rec []string, names ...string) string {
	v, _ := f.get(rec, names...)
	return v
}

// ImportLegacy loads the CSV tables of the flat-file layout found in dir.
// Any historic header set is accepted; absent columns take their defaults.
// Rows that cannot be parsed are kept verbatim in legacy_quarantine.
// Running it again over the same files changes nothing.
func (s *Store) ImportLegacy(dir string) (ImportResult, error) {
	var res ImportResult
	now := time.Now()

	err := s.withTx(func(tx *sql.Tx) error {
		steps := []struct {
			files []string
			fn    func(*sql.Tx, *legacyFile, []string, time.Time) (bool, string, error)
			count *int
		}{
			{[]string{"posts.csv"}, s.importPostRow, &res.Posts},
			{[]string{"pending_replies.csv", "replies.csv"}, s.importReplyRow, &res.Replies},
			{[]string{"posted_replies.csv"}, s.importPostedRow, &res.Replies},
			{[]string{"handles.csv"}, s.importHandleRow, &res.Handles},
		}
		for _, step := range steps {
			for _, name := range step.files {
				n, q, err := s.importFile(tx, filepath.Join(dir, name), now, step.fn)
				if err != nil {
					return err
				}
				*step.count += n
				res.Quarantined += q
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	s.log.Infof("legacy import: %d posts, %d replies, %d handles, %d quarantined",
		res.Posts, res.Replies, res.Handles, res.Quarantined)
	return res, nil
}

func (s *Store) importFile(tx *sql.Tx, path string, now time.Time,
	fn func(*sql.Tx, *legacyFile, []string, time.Time) (bool, string, error)) (imported, quarantined int, err error) {

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	head, err := r.Read()
	if errors.Is(err, io.EOF) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	f := &legacyFile{name: filepath.Base(path), header: make(map[string]int)}
	for i, h := range head {
		f.header[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	start := r.InputOffset()
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		end := r.InputOffset()
		raw := strings.TrimRight(string(data[start:end]), "\r\n")
		start = end

		line := 0
		if err == nil {
			line, _ = r.FieldPos(0)
		} else {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
		}

		reason := ""
		switch {
		case err != nil:
			reason = err.Error()
		case len(rec) != len(head):
			reason = fmt.Sprintf("expected %d columns, got %d", len(head), len(rec))
		default:
			var ok bool
			ok, reason, err = fn(tx, f, rec, now)
			if err != nil {
				return 0, 0, err
			}
			if ok {
				imported++
			}
		}
		if reason == "" {
			continue
		}

		q, err := quarantine(tx, f.name, line, raw, reason, now)
		if err != nil {
			return 0, 0, err
		}
		if q {
			quarantined++
		}
	}
	return imported, quarantined, nil
}

func quarantine(tx *sql.Tx, file string, line int, raw, reason string, now time.Time) (bool, error) {
	res, err := tx.Exec(`
		INSERT OR IGNORE INTO legacy_quarantine (source_file, line, raw, reason, imported_at)
		VALUES (?, ?, ?, ?, ?)
	`, file, line, raw, reason, formatTime(now))
	if err != nil {
		return false, fmt.Errorf("failed to quarantine row: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Each row importer returns (inserted, quarantine reason, fatal error).

func (s *Store) importPostRow(tx *sql.Tx, f *legacyFile, rec []string, now time.Time) (bool, string, error) {
	id := f.str(rec, "post_id", "id")
	handle := strings.TrimPrefix(f.str(rec, "handle"), "@")
	if id == "" || handle == "" {
		return false, "missing post_id or handle", nil
	}

	postedAt := f.str(rec, "posted_at", "timestamp")
	scrapedAt := now
	if raw := f.str(rec, "scraped_at"); raw != "" {
		t, err := types.ParseTimestamp(raw)
		if err != nil {
			return false, "unparseable scraped_at", nil
		}
		scrapedAt = t
	} else if postedAt != "" {
		if t, err := types.ParseTimestamp(postedAt); err == nil {
			scrapedAt = t
		}
	}

	var score sql.NullInt64
	if raw := f.str(rec, "score"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return false, "unparseable score", nil
		}
		score = sql.NullInt64{Int64: int64(v), Valid: true}
	}
	var scoreCost float64
	if raw := f.str(rec, "score_cost", "cost"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return false, "unparseable score_cost", nil
		}
		scoreCost = v
	}

	res, err := tx.Exec(`
		INSERT INTO posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(post_id, handle) DO NOTHING
	`, id, handle, cleanLegacyText(f.str(rec, "content")), formatTime(scrapedAt), postedAt, score, scoreCost,
		legacyBool(f.str(rec, "is_reply")), legacyBool(f.str(rec, "is_pinned")),
		legacyBool(f.str(rec, "is_retweet")), f.str(rec, "retweet_source"),
		legacyBool(f.str(rec, "has_image")), legacyBool(f.str(rec, "has_video")), f.str(rec, "media_url"),
		legacyBool(f.str(rec, "has_link")), f.str(rec, "link_url"),
		legacyBool(f.str(rec, "replied_to")), f.str(rec, "reply_post_id"))
	if err != nil {
		return false, "", fmt.Errorf("failed to import post %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, "", err
}

func (s *Store) importReplyRow(tx *sql.Tx, f *legacyFile, rec []string, now time.Time) (bool, string, error) {
	id, err := strconv.ParseInt(f.str(rec, "id", "reply_id"), 10, 64)
	if err != nil || id <= 0 {
		return false, "unparseable reply id", nil
	}
	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM replies WHERE id = ?)
		OR EXISTS(SELECT 1 FROM replies_archive WHERE id = ?)`, id, id).Scan(&exists); err != nil {
		return false, "", err
	}
	if exists {
		return false, "", nil
	}

	status := types.StatusPending
	if raw := f.str(rec, "status"); raw != "" {
		st, err := types.ParseReplyStatus(raw)
		if err != nil {
			return false, "unknown status", nil
		}
		status = st
	}
	return s.insertLegacyReply(tx, f, rec, id, status, now)
}

// importPostedRow covers the separate posted-replies table of older layouts.
// Its ids are a separate sequence, so rows get fresh ids and are matched on
// target instead.
func (s *Store) importPostedRow(tx *sql.Tx, f *legacyFile, rec []string, now time.Time) (bool, string, error) {
	postID := f.str(rec, "post_id", "target_post_id")
	if postID == "" {
		return false, "missing post_id", nil
	}
	handle, err := legacyTargetHandle(tx, f, rec, postID)
	if err != nil {
		return false, "", err
	}
	var live bool
	err = tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM replies WHERE target_post_id = ? AND target_handle = ?
		AND status IN ('qualified', 'posted'))`, postID, handle).Scan(&live)
	if err != nil {
		return false, "", err
	}
	if live {
		return false, "", nil
	}

	var next int64
	err = tx.QueryRow(`SELECT MAX(
		COALESCE((SELECT MAX(id) FROM replies), 0),
		COALESCE((SELECT MAX(id) FROM replies_archive), 0)) + 1`).Scan(&next)
	if err != nil {
		return false, "", err
	}
	return s.insertLegacyReply(tx, f, rec, next, types.StatusPosted, now)
}

func (s *Store) insertLegacyReply(tx *sql.Tx, f *legacyFile, rec []string, id int64, status types.ReplyStatus, now time.Time) (bool, string, error) {
	postID := f.str(rec, "post_id", "target_post_id")
	if postID == "" {
		return false, "missing post_id", nil
	}
	handle, err := legacyTargetHandle(tx, f, rec, postID)
	if err != nil {
		return false, "", err
	}

	createdAt := now
	if raw := f.str(rec, "created_at"); raw != "" {
		t, err := types.ParseTimestamp(raw)
		if err != nil {
			return false, "unparseable created_at", nil
		}
		createdAt = t
	}
	var postedAt time.Time
	if raw := f.str(rec, "posted_at"); raw != "" {
		t, err := types.ParseTimestamp(raw)
		if err != nil {
			return false, "unparseable posted_at", nil
		}
		postedAt = t
	}
	var cost float64
	if raw := f.str(rec, "generation_cost", "cost"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return false, "unparseable generation_cost", nil
		}
		cost = v
	}

	_, err = tx.Exec(`INSERT INTO replies (`+replyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, postID, handle, cleanLegacyText(f.str(rec, "reply_content", "content", "reply")), string(status),
		formatTime(createdAt), formatTime(postedAt),
		f.str(rec, "generation_model", "model"), cost, f.str(rec, "insight"),
		f.str(rec, "external_id", "tweet_id", "reply_post_id"), f.str(rec, "posted_via"),
		f.str(rec, "nostr_status"))
	if isUniqueViolation(err) {
		return false, "target already has a live reply", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to import reply %d: %w", id, err)
	}
	return true, "", nil
}

// legacyTargetHandle uses the handle column when present. The oldest reply
// layout had none, so it falls back to the imported post with that id.
func legacyTargetHandle(tx *sql.Tx, f *legacyFile, rec []string, postID string) (string, error) {
	if h := strings.TrimPrefix(f.str(rec, "handle", "target_handle"), "@"); h != "" {
		return h, nil
	}
	var handle string
	err := tx.QueryRow(`SELECT handle FROM posts WHERE post_id = ? ORDER BY rowid LIMIT 1`, postID).Scan(&handle)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return handle, err
}

func (s *Store) importHandleRow(tx *sql.Tx, f *legacyFile, rec []string, now time.Time) (bool, string, error) {
	handle := strings.TrimPrefix(f.str(rec, "handle"), "@")
	if handle == "" {
		return false, "missing handle", nil
	}
	var checked, posted time.Time
	if raw := f.str(rec, "last_checked"); raw != "" {
		t, err := types.ParseTimestamp(raw)
		if err != nil {
			return false, "unparseable last_checked", nil
		}
		checked = t
	}
	if raw := f.str(rec, "last_posted"); raw != "" {
		t, err := types.ParseTimestamp(raw)
		if err != nil {
			return false, "unparseable last_posted", nil
		}
		posted = t
	}

	res, err := tx.Exec(`
		INSERT INTO handles (handle, last_checked, last_posted) VALUES (?, ?, ?)
		ON CONFLICT(handle) DO NOTHING
	`, handle, formatTime(checked), formatTime(posted))
	if err != nil {
		return false, "", fmt.Errorf("failed to import handle %s: %w", handle, err)
	}
	n, err := res.RowsAffected()
	return n == 1, "", err
}

func legacyBool(raw string) int {
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "y":
		return 1
	}
	return 0
}

// cleanLegacyText undoes the escaped newlines older writers used to keep
// rows on one line
func cleanLegacyText(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
