package types

import (
	"testing"
	"time"
)

func TestParseTimestampFormats(t *testing.T) {
	want := time.Date(2026, 2, 6, 10, 10, 0, 0, time.UTC)
	inputs := []string{
		"2026-02-06T10:10:00Z",
		"2026-02-06T10:10:00.000Z",
		"2026-02-06T12:10:00+02:00",
		"2026-02-06T10:10:00",
		"2026-02-06 10:10:00",
		"Feb 6, 2026 · 10:10 AM UTC",
		"Feb 6, 2026 Â· 10:10 AM UTC",
		"10:10 AM · Feb 6, 2026",
	}
	for _, in := range inputs {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%q)=%v, want %v", in, got, want)
		}
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "yesterday", "2026-13-45"} {
		if _, err := ParseTimestamp(in); err == nil {
			t.Fatalf("ParseTimestamp(%q) succeeded, want error", in)
		}
	}
}

func TestPostPublishedAtFallsBackToScrapedAt(t *testing.T) {
	scraped := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	p := Post{ID: "1", Handle: "a", ScrapedAt: scraped}
	got, err := p.PublishedAt()
	if err != nil {
		t.Fatalf("PublishedAt: %v", err)
	}
	if !got.Equal(scraped) {
		t.Fatalf("PublishedAt=%v, want %v", got, scraped)
	}

	p.PostedAt = "not a date"
	if _, err := p.PublishedAt(); err == nil {
		t.Fatal("expected error for unparseable posted_at")
	}
}

func TestPostAge(t *testing.T) {
	p := Post{ID: "1", Handle: "a", PostedAt: "2026-01-01T00:00:00Z"}
	age, err := p.Age(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Age: %v", err)
	}
	if age != 3*time.Hour {
		t.Fatalf("age=%v, want 3h", age)
	}
}

func TestScoredDistinguishesZero(t *testing.T) {
	var p Post
	if p.Scored() {
		t.Fatal("nil score should be unscored")
	}
	zero := 0
	p.Score = &zero
	if !p.Scored() {
		t.Fatal("score 0 should count as scored")
	}
}

func TestReplyStatusTransitions(t *testing.T) {
	legal := map[ReplyStatus][]ReplyStatus{
		StatusPending:   {StatusQualified, StatusRejectedMissingPost, StatusRejectedDuplicate, StatusExpired},
		StatusQualified: {StatusPosted, StatusExpired},
	}
	for _, from := range AllStatuses {
		allowed := make(map[ReplyStatus]bool)
		for _, to := range legal[from] {
			allowed[to] = true
		}
		for _, to := range AllStatuses {
			if got := from.CanTransition(to); got != allowed[to] {
				t.Fatalf("%s -> %s: got %v, want %v", from, to, got, allowed[to])
			}
		}
		if from.Terminal() != (len(legal[from]) == 0) {
			t.Fatalf("%s terminal=%v", from, from.Terminal())
		}
	}
}

func TestParseReplyStatus(t *testing.T) {
	st, err := ParseReplyStatus("rejected_duplicate")
	if err != nil || st != StatusRejectedDuplicate {
		t.Fatalf("ParseReplyStatus=%q, %v", st, err)
	}
	if _, err := ParseReplyStatus("failed"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if !StatusPosted.Live() || !StatusQualified.Live() || StatusPending.Live() {
		t.Fatal("unexpected Live() result")
	}
}
