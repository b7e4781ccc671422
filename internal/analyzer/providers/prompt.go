package providers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

// Score is a relevance score in [0,100] and what it cost
type Score struct {
	Value int
	Cost  float64
	Model string
}

// Draft is generated reply text plus a one-line rationale
type Draft struct {
	Text    string
	Insight string
	Cost    float64
	Model   string
}

// draftResult is the JSON object the drafter is asked for
type draftResult struct {
	Reply   string `json:"reply"`
	Insight string `json:"insight"`
}

func writeBrand(sb *strings.Builder, prompts *config.Prompts) {
	sb.WriteString("## Brand\n")
	sb.WriteString(prompts.Brand)
	sb.WriteString("\n\n## Persona\n")
	sb.WriteString(prompts.Persona)
	sb.WriteString("\n")
	if len(prompts.Keywords) > 0 {
		sb.WriteString(fmt.Sprintf("\nTopics we care about: %s\n", strings.Join(prompts.Keywords, ", ")))
	}
}

// BuildScorePrompt asks for a single integer relevance score
func BuildScorePrompt(post types.Post, prompts *config.Prompts) string {
	var sb strings.Builder

	sb.WriteString("You are scoring a social media post for how worthwhile it is for the account below to reply to.\n\n")
	writeBrand(&sb, prompts)

	sb.WriteString("\n## Post\n")
	sb.WriteString(fmt.Sprintf("Author: @%s\n", post.Handle))
	sb.WriteString(fmt.Sprintf("Content: %s\n", post.Content))
	if post.IsReply {
		sb.WriteString("Type: Reply\n")
	}
	if post.IsRetweet {
		sb.WriteString(fmt.Sprintf("Type: Repost of @%s\n", post.RetweetSource))
	}
	if post.HasLink {
		sb.WriteString(fmt.Sprintf("Link: %s\n", post.LinkURL))
	}

	sb.WriteString("\n## Task\n\n")
	sb.WriteString("Rate from 0 (irrelevant, off-brand or risky) to 100 (perfect opportunity for a useful reply).\n")
	sb.WriteString("IMPORTANT: Respond with ONLY the integer. No words, no punctuation.\n")

	return sb.String()
}

// BuildDraftPrompt asks for a short reply as a JSON object
func BuildDraftPrompt(post types.Post, prompts *config.Prompts) string {
	var sb strings.Builder

	sb.WriteString("You are drafting a reply on X on behalf of the account below.\n\n")
	writeBrand(&sb, prompts)

	sb.WriteString(fmt.Sprintf("\n## Post by @%s\n", post.Handle))
	sb.WriteString(fmt.Sprintf("%q\n", post.Content))

	sb.WriteString("\n## Guidelines\n")
	sb.WriteString("- Keep it under 220 characters. Use line breaks to space out thoughts.\n")
	sb.WriteString("- Be conversational and additive. Add a fresh thought rather than restating the post.\n")
	sb.WriteString("- Use simple, direct language.\n")
	sb.WriteString("- Do NOT use hashtags. Do not end the reply with a period.\n\n")

	sb.WriteString("IMPORTANT: Respond with ONLY a JSON object, no markdown:\n")
	sb.WriteString(`{"reply": "the draft text", "insight": "one sentence on the strategy behind this reply"}`)
	sb.WriteString("\n")

	return sb.String()
}

var intRe = regexp.MustCompile(`-?\d+`)

// ParseScore reads the first integer in text and clamps it to [0,100]
func ParseScore(text string) (int, error) {
	m := intRe.FindString(text)
	if m == "" {
		return 0, fmt.Errorf("no score in response: %.200s", text)
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("bad score %q: %w", m, err)
	}
	return Clamp(v), nil
}

// Clamp bounds a score to [0,100]
func Clamp(v int) int {
	return max(0, min(100, v))
}

// ParseDraft extracts reply and insight from the drafter's JSON, fenced or raw
func ParseDraft(text string) (reply, insight string, err error) {
	var res draftResult
	if err := json.Unmarshal([]byte(extractJSON(text)), &res); err != nil {
		return "", "", fmt.Errorf("failed to parse draft JSON: %w (response was: %.300s)", err, text)
	}
	reply = strings.TrimSpace(strings.ReplaceAll(res.Reply, `"`, ""))
	if reply == "" {
		return "", "", fmt.Errorf("draft JSON has empty reply")
	}
	insight = strings.TrimSpace(res.Insight)
	if insight == "" {
		insight = "No insight provided."
	}
	return reply, insight, nil
}

var (
	fencedObjectRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*\\n?```")
	rawObjectRe    = regexp.MustCompile(`(?s)(\{.*\})`)
)

// extractJSON pulls a JSON object out of a response that may wrap it in a
// markdown code block or surrounding prose
func extractJSON(text string) string {
	if m := fencedObjectRe.FindStringSubmatch(text); len(m) > 1 {
		return m[1]
	}
	if m := rawObjectRe.FindStringSubmatch(text); len(m) > 1 {
		return m[1]
	}
	return text
}

// EstimateCost prices a call from token usage. Unknown models cost nothing.
func EstimateCost(costs map[string]config.ModelCost, model string, inputTokens, outputTokens int64) float64 {
	c, ok := costs[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)*c.InputPerMTok/1e6 + float64(outputTokens)*c.OutputPerMTok/1e6
}
