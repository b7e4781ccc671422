package types

import (
	"fmt"
	"time"
)

// PostKey is the identity of a post. Numeric ids can collide across
// handles, so uniqueness is on the pair.
type PostKey struct {
	ID     string `json:"post_id"`
	Handle string `json:"handle"`
}

func (k PostKey) String() string {
	return fmt.Sprintf("@%s/%s", k.Handle, k.ID)
}

// Post represents one scraped post from a monitored handle
type Post struct {
	ID      string `json:"post_id"`
	Handle  string `json:"handle"`
	Content string `json:"content"`

	// ScrapedAt is when we first saw the post. PostedAt is the platform
	// timestamp exactly as observed; use PublishedAt to read it.
	ScrapedAt time.Time `json:"scraped_at"`
	PostedAt  string    `json:"posted_at"`

	// Score is nil until the quantifier has run. Zero is a real score.
	Score     *int    `json:"score"`
	ScoreCost float64 `json:"score_cost"`

	IsReply       bool   `json:"is_reply"`
	IsPinned      bool   `json:"is_pinned"`
	IsRetweet     bool   `json:"is_retweet"`
	RetweetSource string `json:"retweet_source"`
	HasImage      bool   `json:"has_image"`
	HasVideo      bool   `json:"has_video"`
	MediaURL      string `json:"media_url"`
	HasLink       bool   `json:"has_link"`
	LinkURL       string `json:"link_url"`

	RepliedTo   bool   `json:"replied_to"`
	ReplyPostID string `json:"reply_post_id"`
}

// Key returns the composite identity of the post
func (p Post) Key() PostKey {
	return PostKey{ID: p.ID, Handle: p.Handle}
}

// Scored reports whether the quantifier has assigned a score
func (p Post) Scored() bool {
	return p.Score != nil
}

// PublishedAt returns the normalized origin time, falling back to the
// scrape time when the platform gave none.
func (p Post) PublishedAt() (time.Time, error) {
	if p.PostedAt == "" {
		if p.ScrapedAt.IsZero() {
			return time.Time{}, fmt.Errorf("post %s has no timestamp", p.Key())
		}
		return p.ScrapedAt, nil
	}
	return ParseTimestamp(p.PostedAt)
}

// Age returns how old the post is at now
func (p Post) Age(now time.Time) (time.Duration, error) {
	published, err := p.PublishedAt()
	if err != nil {
		return 0, err
	}
	return now.Sub(published), nil
}

// Reply is a drafted response to a post, tracked through ReplyStatus
type Reply struct {
	ID          int64       `json:"id"`
	Target      PostKey     `json:"target"`
	Content     string      `json:"content"`
	Status      ReplyStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	PostedAt    time.Time   `json:"posted_at"` // zero until posted
	Model       string      `json:"generation_model"`
	Cost        float64     `json:"generation_cost"`
	Insight     string      `json:"insight"`
	ExternalID  string      `json:"external_id"`
	PostedVia   string      `json:"posted_via"`
	NostrStatus string      `json:"nostr_status"` // empty when never attempted
}

// Handle is a monitored account
type Handle struct {
	Name        string    `json:"handle"`
	LastChecked time.Time `json:"last_checked"`
	LastPosted  time.Time `json:"last_posted"`
}

// PerformanceEntry is one scrape attempt, appended for observability only
type PerformanceEntry struct {
	At      time.Time     `json:"at"`
	Source  string        `json:"source"`
	Handle  string        `json:"handle"`
	Success bool          `json:"success"`
	Latency time.Duration `json:"latency"`
	Scraped int           `json:"scraped"`
	New     int           `json:"new"`
	Error   string        `json:"error"`
}

// Engagement links a reply someone left under one of the bot's own posts
// to that post.
type Engagement struct {
	Post      PostKey   `json:"post"`
	BotPostID string    `json:"bot_post_id"`
	Mode      string    `json:"mode"`
	Replied   bool      `json:"replied"`
	CreatedAt time.Time `json:"created_at"`
}
