package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ibeckermayer/xwatcher/internal/types"
)

// ArchiveReplies moves replies in the given terminal statuses out of the hot
// table into replies_archive in one transaction. Live and pending replies
// cannot be archived.
func (s *Store) ArchiveReplies(statuses []types.ReplyStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(statuses)+1)
	args = append(args, formatTime(time.Now()))
	for _, st := range statuses {
		if !st.Terminal() || st == types.StatusPosted {
			return 0, fmt.Errorf("cannot archive %s replies", st)
		}
		args = append(args, string(st))
	}
	in := `(?` + strings.Repeat(`, ?`, len(statuses)-1) + `)`

	var moved int64
	err := s.withTx(func(tx *sql.Tx) error {
		// an id already in the archive fails the copy and rolls back the move
		res, err := tx.Exec(`
			INSERT INTO replies_archive (`+replyColumns+`, archived_at)
			SELECT `+replyColumns+`, ? FROM replies WHERE status IN `+in, args...)
		if err != nil {
			return fmt.Errorf("failed to copy replies to archive: %w", err)
		}
		if moved, err = res.RowsAffected(); err != nil {
			return err
		}
		res, err = tx.Exec(`DELETE FROM replies WHERE status IN `+in, args[1:]...)
		if err != nil {
			return fmt.Errorf("failed to delete archived replies: %w", err)
		}
		deleted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if deleted != moved {
			return fmt.Errorf("archive copied %d replies but would delete %d", moved, deleted)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(moved), nil
}

// ArchivedCount returns how many replies live in the archive
func (s *Store) ArchivedCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM replies_archive`).Scan(&n)
	return n, err
}
