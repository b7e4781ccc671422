package store

import (
	"fmt"
	"time"

	"github.com/ibeckermayer/xwatcher/internal/types"
)

// AppendPerformance appends one scrape attempt to the performance log
func (s *Store) AppendPerformance(e types.PerformanceEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO performance_log (at, source, handle, success, latency_ms, scraped, new_posts, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, formatTime(e.At), e.Source, e.Handle, boolInt(e.Success), e.Latency.Milliseconds(),
		e.Scraped, e.New, e.Error)
	if err != nil {
		return fmt.Errorf("failed to append performance entry: %w", err)
	}
	return nil
}
