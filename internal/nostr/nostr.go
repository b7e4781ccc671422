// Package nostr mirrors posted replies to Nostr relays as kind 1 notes.
package nostr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/logging"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

const (
	StatusPublished = "published"
	StatusFailed    = "failed"
)

const relayTimeout = 15 * time.Second

// publishFunc sends one signed event to one relay
type publishFunc func(ctx context.Context, url string, ev gonostr.Event) error

// Publisher signs notes with one key and fans them out to every relay
type Publisher struct {
	relays   []string
	sk       string
	pk       string
	linkBase string
	publish  publishFunc
	log      *logrus.Entry
}

// New creates a publisher from cfg. key may be hex or nsec.
func New(cfg config.NostrConfig, key string) (*Publisher, error) {
	if len(cfg.Relays) == 0 {
		return nil, fmt.Errorf("no nostr relays configured")
	}
	sk, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	pk, err := gonostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("invalid nostr private key: %w", err)
	}
	return &Publisher{
		relays:   cfg.Relays,
		sk:       sk,
		pk:       pk,
		linkBase: strings.TrimRight(cfg.LinkBase, "/"),
		publish:  publishToRelay,
		log:      logging.For("nostr"),
	}, nil
}

func decodeKey(key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), `"'`)
	if key == "" {
		return "", fmt.Errorf("no nostr private key (set nostr.private_key or NOSTR_PRIVATE_KEY)")
	}
	if !strings.HasPrefix(key, "nsec") {
		return key, nil
	}
	prefix, value, err := nip19.Decode(key)
	if err != nil {
		return "", fmt.Errorf("failed to decode nsec: %w", err)
	}
	if prefix != "nsec" {
		return "", fmt.Errorf("expected nsec key, got %s", prefix)
	}
	sk, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("unexpected nsec payload")
	}
	return sk, nil
}

// Note builds the signed event for a reply to target
func (p *Publisher) Note(reply types.Reply, target types.Post, at time.Time) (gonostr.Event, error) {
	ev := gonostr.Event{
		PubKey:    p.pk,
		CreatedAt: gonostr.Timestamp(at.Unix()),
		Kind:      gonostr.KindTextNote,
		Tags:      gonostr.Tags{},
		Content:   reply.Content,
	}
	if link := p.OriginLink(target); link != "" {
		ev.Content += "\n\nOriginal post: " + link
		ev.Tags = append(ev.Tags, gonostr.Tag{"r", link})
	}
	if err := ev.Sign(p.sk); err != nil {
		return ev, fmt.Errorf("failed to sign note: %w", err)
	}
	return ev, nil
}

// OriginLink points readers at the replied-to post
func (p *Publisher) OriginLink(target types.Post) string {
	if p.linkBase == "" || target.ID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/status/%s", p.linkBase, target.Handle, target.ID)
}

// Publish sends the note to all relays and succeeds when at least one
// accepted it. It returns the event id.
func (p *Publisher) Publish(ctx context.Context, reply types.Reply, target types.Post) (string, error) {
	ev, err := p.Note(reply, target, time.Now())
	if err != nil {
		return "", err
	}

	var (
		mu       sync.Mutex
		accepted int
		errs     []error
	)
	var g errgroup.Group
	for _, url := range p.relays {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(ctx, relayTimeout)
			defer cancel()
			err := p.publish(rctx, url, ev)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", url, err))
				return nil
			}
			accepted++
			return nil
		})
	}
	g.Wait()

	if accepted == 0 {
		return "", fmt.Errorf("no relay accepted the note: %w", errors.Join(errs...))
	}
	p.log.WithFields(logrus.Fields{
		"event":    ev.ID,
		"accepted": accepted,
		"relays":   len(p.relays),
	}).Info("note published")
	return ev.ID, nil
}

func publishToRelay(ctx context.Context, url string, ev gonostr.Event) error {
	relay, err := gonostr.RelayConnect(ctx, url)
	if err != nil {
		return err
	}
	defer relay.Close()
	return relay.Publish(ctx, ev)
}
