package store

import (
	"fmt"
	"time"

	"github.com/ibeckermayer/xwatcher/internal/types"
)

// UpsertHandleChecked records that handle was scanned at at
func (s *Store) UpsertHandleChecked(handle string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO handles (handle, last_checked) VALUES (?, ?)
		ON CONFLICT(handle) DO UPDATE SET last_checked = excluded.last_checked
	`, handle, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to update handle %s: %w", handle, err)
	}
	return nil
}

// MarkHandlePosted records the bot's latest reply to handle
func (s *Store) MarkHandlePosted(handle string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO handles (handle, last_posted) VALUES (?, ?)
		ON CONFLICT(handle) DO UPDATE SET last_posted = excluded.last_posted
	`, handle, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to update handle %s: %w", handle, err)
	}
	return nil
}

// ListHandles returns every known handle ordered by name
func (s *Store) ListHandles() ([]types.Handle, error) {
	rows, err := s.db.Query(`SELECT handle, last_checked, last_posted FROM handles ORDER BY handle`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var handles []types.Handle
	for rows.Next() {
		var h types.Handle
		var checked, posted string
		if err := rows.Scan(&h.Name, &checked, &posted); err != nil {
			return nil, err
		}
		var perr error
		if h.LastChecked, perr = parseTime(checked); perr != nil {
			s.log.WithField("handle", h.Name).WithError(perr).Warn("skipping malformed handle row")
			continue
		}
		if h.LastPosted, perr = parseTime(posted); perr != nil {
			s.log.WithField("handle", h.Name).WithError(perr).Warn("skipping malformed handle row")
			continue
		}
		handles = append(handles, h)
	}
	return handles, rows.Err()
}
