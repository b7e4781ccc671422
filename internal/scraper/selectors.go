package scraper

// X.com DOM selectors
// These are isolated here because X changes their DOM frequently
// Update these when scraping breaks

const (
	// Profile timeline
	PrimaryColumn = `[data-testid="primaryColumn"]`
	TweetArticle  = `article[data-testid="tweet"]`

	TweetText      = `[data-testid="tweetText"]`
	TweetTimestamp = `time`
	TweetLink      = `a[href*="/status/"]`
	TweetPhoto     = `[data-testid="tweetPhoto"]`
	TweetVideo     = `[data-testid="videoPlayer"]`
	CardWrapper    = `[data-testid="card.wrapper"]`

	// Pinned and reposted posts both carry a social context line
	SocialContext = `[data-testid="socialContext"]`

	// Auth and throttling
	LoginForm    = `[data-testid="loginButton"]`
	ErrorDetail  = `[data-testid="error-detail"]`
	EmptyState   = `[data-testid="emptyState"]`
	ReplyButton  = `[data-testid="reply"]`
	ReplyTextbox = `[data-testid="tweetTextarea_0"]`
	ReplySubmit  = `[data-testid="tweetButton"]`
)

// Nitter-style mirror selectors
const (
	MirrorItem       = `.timeline-item`
	MirrorLink       = `.tweet-link`
	MirrorPinned     = `.pinned`
	MirrorRetweet    = `.retweet-header`
	MirrorContent    = `.tweet-content`
	MirrorDate       = `.tweet-date a`
	MirrorReplyingTo = `.replying-to`
	MirrorImage      = `.attachment.image`
	MirrorVideo      = `.attachment.video, .gallery-video`
	MirrorFullname   = `.fullname`
	MirrorUsername   = `.username`
)
