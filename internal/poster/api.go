package poster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

// APIChannel posts through the X API v2
type APIChannel struct {
	baseURL string
	tokens  oauth2.TokenSource
	client  *http.Client
	now     func() time.Time
}

// NewAPIChannel creates an API channel authenticated with a user
// access token. client may be nil.
func NewAPIChannel(cfg config.XAPIConfig, token string, client *http.Client) *APIChannel {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &APIChannel{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
		client:  client,
		now:     time.Now,
	}
}

func (a *APIChannel) Name() string { return config.ChannelAPI }

type tweetRequest struct {
	Text  string `json:"text"`
	Reply struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (a *APIChannel) Publish(ctx context.Context, target types.Post, content string) (string, error) {
	body := tweetRequest{Text: content}
	body.Reply.InReplyToTweetID = target.ID
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	client := oauth2.NewClient(ctx, a.tokens)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call x api: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &RateLimitError{Channel: a.Name(), Reset: a.resetAfter(resp.Header)}
	}

	var out tweetResponse
	if err := json.Unmarshal(data, &out); err != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("failed to decode x api response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(out.Detail)
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return "", fmt.Errorf("x api returned %d: %s", resp.StatusCode, msg)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("x api response has no post id")
	}
	return out.Data.ID, nil
}

// resetAfter reads x-rate-limit-reset, a unix timestamp
func (a *APIChannel) resetAfter(h http.Header) time.Duration {
	v := h.Get("x-rate-limit-reset")
	if v == "" {
		return 0
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return max(time.Unix(sec, 0).Sub(a.now()), 0)
}
