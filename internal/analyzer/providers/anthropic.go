package providers

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/logging"
	"github.com/ibeckermayer/xwatcher/internal/store"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

// Anthropic scores and drafts through Anthropic's Messages API
type Anthropic struct {
	client     *anthropic.Client
	scoreModel string
	draftModel string
	costs      map[string]config.ModelCost
	cache      *store.LLMCache
	log        *logrus.Entry
}

// NewAnthropic creates a provider. opts are passed to the SDK client and
// let tests point it at a local server.
func NewAnthropic(apiKey, scoreModel, draftModel string, costs map[string]config.ModelCost, cache *store.LLMCache, opts ...option.RequestOption) *Anthropic {
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &Anthropic{
		client:     &client,
		scoreModel: scoreModel,
		draftModel: draftModel,
		costs:      costs,
		cache:      cache,
		log:        logging.For("anthropic"),
	}
}

// Score asks the scoring model for a relevance score
func (a *Anthropic) Score(ctx context.Context, post types.Post, prompts *config.Prompts) (Score, error) {
	prompt := BuildScorePrompt(post, prompts)
	text, cost, err := a.complete(ctx, "score", a.scoreModel, post.Key().String(), prompt, 16)
	if err != nil {
		return Score{}, err
	}
	v, err := ParseScore(text)
	if err != nil {
		return Score{}, err
	}
	return Score{Value: v, Cost: cost, Model: a.scoreModel}, nil
}

// Draft asks the drafting model for a reply. model overrides the default
// drafting model when set.
func (a *Anthropic) Draft(ctx context.Context, post types.Post, prompts *config.Prompts, model string) (Draft, error) {
	if model == "" {
		model = a.draftModel
	}
	prompt := BuildDraftPrompt(post, prompts)
	text, cost, err := a.complete(ctx, "draft", model, post.Key().String(), prompt, 512)
	if err != nil {
		return Draft{}, err
	}
	reply, insight, err := ParseDraft(text)
	if err != nil {
		return Draft{}, err
	}
	return Draft{Text: reply, Insight: insight, Cost: cost, Model: model}, nil
}

func (a *Anthropic) complete(ctx context.Context, purpose, model, target, prompt string, maxTokens int64) (string, float64, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})

	exchange := store.LLMExchange{
		Purpose: purpose,
		Model:   model,
		Target:  target,
		Prompt:  prompt,
	}
	if err != nil {
		exchange.Error = err.Error()
		a.saveExchange(exchange)
		return "", 0, fmt.Errorf("failed to call Anthropic API: %w", err)
	}

	var responseText string
	for _, block := range message.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}
	cost := EstimateCost(a.costs, model, message.Usage.InputTokens, message.Usage.OutputTokens)

	exchange.Response = responseText
	exchange.Cost = cost
	a.saveExchange(exchange)

	if responseText == "" {
		return "", cost, fmt.Errorf("Anthropic returned empty response")
	}
	return responseText, cost, nil
}

func (a *Anthropic) saveExchange(exchange store.LLMExchange) {
	path, err := a.cache.Save(exchange)
	if err != nil {
		a.log.WithError(err).Warn("failed to cache LLM exchange")
		return
	}
	if path != "" {
		a.log.WithField("path", path).Debug("cached LLM exchange")
	}
}
