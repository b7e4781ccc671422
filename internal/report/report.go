// Package report renders an HTML summary of the pipeline state.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ibeckermayer/xwatcher/internal/store"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

// Builder renders reports from the store
type Builder struct {
	store     *store.Store
	maxRecent int
	template  *template.Template
	now       func() time.Time
}

// New creates a report builder listing up to maxRecent posted replies
func New(st *store.Store, maxRecent int) (*Builder, error) {
	tmpl, err := template.New("report").Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &Builder{store: st, maxRecent: maxRecent, template: tmpl, now: time.Now}, nil
}

// Report is a rendered report
type Report struct {
	HTML      string
	Data      Data
	CreatedAt time.Time
}

// Data is the template data structure
type Data struct {
	Title          string
	Date           string
	Stats          store.Stats
	Statuses       []StatusCount
	Queued         []ReplyData
	Recent         []ReplyData
	GenerationCost string
	ScoringCost    string
}

type StatusCount struct {
	Status types.ReplyStatus
	Count  int
}

// ReplyData represents a reply in the report template
type ReplyData struct {
	ID      int64
	Handle  string
	Target  string
	Content string
	Insight string
	When    string
	Via     string
	URL     string
}

// Build collects tallies, the review queue and recent posts
func (b *Builder) Build() (*Report, error) {
	stats, err := b.store.Stats()
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	recent, err := b.store.RecentPosted(b.maxRecent)
	if err != nil {
		return nil, fmt.Errorf("failed to read posted replies: %w", err)
	}
	queued, err := b.store.ListReplies(types.StatusQualified)
	if err != nil {
		return nil, fmt.Errorf("failed to read queued replies: %w", err)
	}

	now := b.now()
	data := Data{
		Title:          "xwatcher report",
		Date:           now.Format("Monday, January 2 15:04"),
		Stats:          stats,
		GenerationCost: fmt.Sprintf("$%.4f", stats.GenerationCost),
		ScoringCost:    fmt.Sprintf("$%.4f", stats.ScoringCost),
	}
	for _, s := range types.AllStatuses {
		data.Statuses = append(data.Statuses, StatusCount{Status: s, Count: stats.Replies[s]})
	}
	for _, r := range queued {
		data.Queued = append(data.Queued, b.replyData(r, r.CreatedAt))
	}
	for _, r := range recent {
		data.Recent = append(data.Recent, b.replyData(r, r.PostedAt))
	}

	var buf bytes.Buffer
	if err := b.template.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}
	return &Report{HTML: buf.String(), Data: data, CreatedAt: now}, nil
}

func (b *Builder) replyData(r types.Reply, when time.Time) ReplyData {
	d := ReplyData{
		ID:      r.ID,
		Handle:  r.Target.Handle,
		Content: truncate(r.Content, 280),
		Insight: r.Insight,
		Via:     r.PostedVia,
		URL:     fmt.Sprintf("https://x.com/%s/status/%s", r.Target.Handle, r.Target.ID),
	}
	if !when.IsZero() {
		d.When = when.Local().Format("Jan 2 15:04")
	}
	if post, err := b.store.GetPost(r.Target); err == nil {
		d.Target = truncate(post.Content, 200)
	}
	return d
}

// Write saves the report under dir and returns its path
func (r *Report) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("report_%s.html", r.CreatedAt.Format("2006-01-02_15-04-05")))
	if err := os.WriteFile(path, []byte(r.HTML), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Latest returns the newest report in dir
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "report_*.html"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no reports in %s", dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 720px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #1da1f2; margin-bottom: 5px; }
        h2 { color: #333; font-size: 18px; margin-top: 28px; }
        .date { color: #666; margin-bottom: 20px; }
        table.tally { border-collapse: collapse; }
        table.tally td { padding: 3px 14px 3px 0; }
        .reply { border-bottom: 1px solid #eee; padding: 12px 0; }
        .reply:last-child { border-bottom: none; }
        .handle { font-weight: bold; color: #333; }
        .target { color: #666; margin: 6px 0; font-size: 14px; }
        .content { margin: 6px 0; line-height: 1.4; }
        .insight { color: #1da1f2; font-style: italic; font-size: 13px; }
        .meta { color: #999; font-size: 12px; }
        .link { color: #1da1f2; text-decoration: none; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="date">{{.Date}}</div>

        <table class="tally">
            <tr><td>Posts</td><td>{{.Stats.Posts}}</td></tr>
            <tr><td>Unscored</td><td>{{.Stats.Unscored}}</td></tr>
            <tr><td>Handles</td><td>{{.Stats.Handles}}</td></tr>
            {{range .Statuses}}<tr><td>{{.Status}}</td><td>{{.Count}}</td></tr>
            {{end}}<tr><td>Archived</td><td>{{.Stats.Archived}}</td></tr>
            <tr><td>Generation cost</td><td>{{.GenerationCost}}</td></tr>
            <tr><td>Scoring cost</td><td>{{.ScoringCost}}</td></tr>
        </table>

        <h2>Awaiting post ({{len .Queued}})</h2>
        {{range .Queued}}
        <div class="reply">
            <div class="handle">#{{.ID}} to @{{.Handle}}</div>
            <div class="target">{{.Target}}</div>
            <div class="content">{{.Content}}</div>
            {{if .Insight}}<div class="insight">{{.Insight}}</div>{{end}}
            <a href="{{.URL}}" class="link">View on X →</a>
        </div>
        {{else}}<p class="meta">Nothing queued.</p>{{end}}

        <h2>Recently posted</h2>
        {{range .Recent}}
        <div class="reply">
            <div class="handle">@{{.Handle}}</div>
            <div class="content">{{.Content}}</div>
            <div class="meta">{{.When}} via {{.Via}}</div>
        </div>
        {{else}}<p class="meta">Nothing posted yet.</p>{{end}}
    </div>
</body>
</html>`
