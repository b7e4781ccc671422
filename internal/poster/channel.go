package poster

import (
	"context"
	"fmt"
	"time"

	"github.com/ibeckermayer/xwatcher/internal/types"
)

// Channel publishes a reply under a target post. The returned id is
// empty when the channel cannot report the new post's id.
type Channel interface {
	Name() string
	Publish(ctx context.Context, target types.Post, content string) (string, error)
}

// RateLimitError is returned when the platform throttles us. Reset is
// how long it asked us to wait; zero means unknown.
type RateLimitError struct {
	Channel string
	Reset   time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Reset > 0 {
		return fmt.Sprintf("%s rate limited, reset in %s", e.Channel, e.Reset.Round(time.Second))
	}
	return fmt.Sprintf("%s rate limited", e.Channel)
}
