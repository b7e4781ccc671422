package providers

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

const TemplateModel = "test-template"

// Template stands in for the LLM in test mode: zero cost, output depends
// only on the post
type Template struct{}

// Score counts keyword hits. Posts with none get a stable score in [20,60].
func (Template) Score(_ context.Context, post types.Post, prompts *config.Prompts) (Score, error) {
	content := strings.ToLower(post.Content)
	hits := 0
	for _, k := range prompts.Keywords {
		if k != "" && strings.Contains(content, strings.ToLower(k)) {
			hits++
		}
	}
	if hits > 0 {
		return Score{Value: Clamp(50 + hits*20), Model: TemplateModel}, nil
	}
	return Score{Value: 20 + int(hash(post.Key().String())%41), Model: TemplateModel}, nil
}

// Draft picks one of the configured templates
func (Template) Draft(_ context.Context, post types.Post, prompts *config.Prompts, _ string) (Draft, error) {
	templates := prompts.Templates
	if len(templates) == 0 {
		templates = config.DefaultPrompts().Templates
	}
	text := templates[hash(post.Key().String())%uint32(len(templates))]
	return Draft{
		Text:    text,
		Insight: "Using a pre-set response for test mode.",
		Model:   TemplateModel,
	}, nil
}

func hash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
