package types

import (
	"fmt"
	"strings"
	"time"
)

// Layouts seen in stored posted_at values. Zoneless values are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006 3:04:05 PM",
	"3:04 PM Jan 2, 2006",
	"Mon Jan 02 15:04:05 -0700 2006",
}

// ParseTimestamp normalizes the platform timestamp formats we store:
// RFC3339 from x.com <time datetime>, naive ISO-8601 from older rows, and
// Nitter titles like "Feb 6, 2026 · 10:10 AM UTC".
func ParseTimestamp(raw string) (time.Time, error) {
	s := cleanTimestamp(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func cleanTimestamp(raw string) string {
	s := strings.TrimSpace(raw)
	// Mis-decoded middle dot from old CSV exports
	s = strings.ReplaceAll(s, "Â·", "·")
	s = strings.ReplaceAll(s, " · ", " ")
	s = strings.ReplaceAll(s, "· ", " ")
	s = strings.TrimSuffix(s, " UTC")
	return strings.Join(strings.Fields(s), " ")
}
