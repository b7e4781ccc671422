package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ibeckermayer/xwatcher/internal/config"
)

// Schedule decides when the next cycle starts
type Schedule struct {
	spec     string
	schedule cron.Schedule
}

// New parses a standard cron spec or a descriptor such as "@every 1h"
// or "@hourly"
func New(spec string) (*Schedule, error) {
	s, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return &Schedule{spec: spec, schedule: s}, nil
}

// ForConfig uses loop.schedule when set, else loop.refresh_interval
func ForConfig(cfg *config.Config) (*Schedule, error) {
	if cfg.Loop.Schedule != "" {
		return New(cfg.Loop.Schedule)
	}
	interval := cfg.Loop.RefreshInterval.Duration
	if interval <= 0 {
		return nil, fmt.Errorf("loop.refresh_interval must be positive")
	}
	return New("@every " + interval.String())
}

// Spec returns the spec the schedule was built from
func (s *Schedule) Spec() string {
	return s.spec
}

// Next returns the first activation after now
func (s *Schedule) Next(now time.Time) time.Time {
	return s.schedule.Next(now)
}

// Wait blocks until the next activation after now or until ctx is done
func (s *Schedule) Wait(ctx context.Context, now time.Time) error {
	d := s.Next(now).Sub(now)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
