package store

import (
	"github.com/ibeckermayer/xwatcher/internal/types"
)

// Stats is a point-in-time tally of the store
type Stats struct {
	Posts          int
	Unscored       int
	Handles        int
	Replies        map[types.ReplyStatus]int
	Archived       int
	GenerationCost float64
	ScoringCost    float64
}

func (s *Store) Stats() (Stats, error) {
	st := Stats{Replies: make(map[types.ReplyStatus]int)}

	err := s.db.QueryRow(`SELECT COUNT(*), COUNT(*) - COUNT(score), COALESCE(SUM(score_cost), 0) FROM posts`).
		Scan(&st.Posts, &st.Unscored, &st.ScoringCost)
	if err != nil {
		return st, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM handles`).Scan(&st.Handles); err != nil {
		return st, err
	}
	err = s.db.QueryRow(`SELECT
		COALESCE((SELECT SUM(cost) FROM replies), 0) +
		COALESCE((SELECT SUM(cost) FROM replies_archive), 0)`).Scan(&st.GenerationCost)
	if err != nil {
		return st, err
	}
	if st.Archived, err = s.ArchivedCount(); err != nil {
		return st, err
	}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM replies GROUP BY status`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		st.Replies[types.ReplyStatus(status)] = n
	}
	return st, rows.Err()
}
