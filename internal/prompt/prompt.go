// Package prompt builds the model requests for each scoring stage and parses
// their JSON replies.
package prompt

import (
	"fmt"
	"strings"

	"github.com/kalambet/sift/internal/batch"
	"github.com/kalambet/sift/internal/llm"
	"github.com/kalambet/sift/internal/storage"
	"github.com/kalambet/sift/internal/tokens"
)

// DefaultProduct is the product description items are scored against.
const DefaultProduct = "a product that schedules HTTP jobs like a hosted cron service"

// DefaultMaxBodyTokens caps the item body included in a single prompt.
const DefaultMaxBodyTokens = 2000

// Stage names, also used as result file prefixes.
const (
	StageFilter    = "filter"
	StageInsight   = "insight"
	StageCluster   = "cluster"
	StageDiscovery = "discovery"
)

const filterSystem = `You are a marketing assistant scoring online discussion posts for product relevance. Reply with ONLY a JSON object, no prose or markdown.`

const filterTemplate = `Post title: %s
Post body: %s

Score the post for relevance to %s.

Return a JSON object with these fields:
- "relevance_score": 0-10, how closely the post relates to the problem the product solves
- "emotional_intensity": 0-10, how strongly the author feels about the problem
- "pain_point_clarity": 0-10, how clearly a concrete pain point is described
- "summary": one sentence describing the post`

const insightSystem = `You are a SaaS strategist extracting pain points and marketing tags from online discussion posts. Reply with ONLY a JSON object, no prose or markdown.`

const insightTemplate = `Post title: %s
Post body: %s

The product is %s.

Extract and return as a JSON object:
- "pain_point": the core pain point in one sentence
- "lead_type": one of "prospect", "competitor_user", "influencer", "not_a_lead"
- "tags": 1-3 short marketing tags
- "roi_weight": integer 1-5, expected return of engaging with this author
- "justification": one or two sentences explaining the weight`

const clusterSystem = `You are a product researcher merging related pain points from one discussion thread. Reply with ONLY a JSON object, no prose or markdown.`

const clusterTemplate = `The following pain points were extracted from the same discussion thread:
%s

Return a JSON object with:
- "summary": one or two sentences describing the shared underlying problem
- "themes": up to 3 short theme labels`

const discoverySystem = `You are an expert in developer marketing and community discovery. Reply with ONLY a JSON object, no prose or markdown.`

const discoveryTemplate = `The product is %s.
Communities already monitored: %s

Recent pain points found there:
%s

Suggest up to %d adjacent communities likely to contain pain points this product could solve, best first. Return a JSON object:
{"suggestions": [{"group": "name", "reason": "...", "pain_signal_pct": 70, "solution_requests_pct": 40, "engagement_level": "low|medium|high"}]}`

// Builder turns items into model-ready requests with token estimates.
type Builder struct {
	product       string
	estimator     *tokens.Estimator
	maxBodyTokens int
}

// NewBuilder creates a Builder. An empty product uses DefaultProduct and a
// non-positive maxBodyTokens uses DefaultMaxBodyTokens.
func NewBuilder(product string, estimator *tokens.Estimator, maxBodyTokens int) *Builder {
	if product == "" {
		product = DefaultProduct
	}
	if maxBodyTokens <= 0 {
		maxBodyTokens = DefaultMaxBodyTokens
	}
	if estimator == nil {
		estimator = tokens.New(tokens.DefaultFallbackEncoding, tokens.DefaultEstimate)
	}
	return &Builder{product: product, estimator: estimator, maxBodyTokens: maxBodyTokens}
}

// Product returns the configured product description.
func (b *Builder) Product() string { return b.product }

// Filter builds the first-pass scoring request for item.
func (b *Builder) Filter(item storage.Item, model string) batch.Request {
	body := b.estimator.Truncate(item.Body, model, b.maxBodyTokens)
	msgs := []llm.Message{
		{Role: "system", Content: filterSystem},
		{Role: "user", Content: fmt.Sprintf(filterTemplate, item.Title, body, b.product)},
	}
	return b.request(item.ID, StageFilter, model, msgs, map[string]string{"group": item.Group})
}

// Insight builds the deep-analysis request for item.
func (b *Builder) Insight(item storage.Item, model string) batch.Request {
	body := b.estimator.Truncate(item.Body, model, b.maxBodyTokens)
	msgs := []llm.Message{
		{Role: "system", Content: insightSystem},
		{Role: "user", Content: fmt.Sprintf(insightTemplate, item.Title, body, b.product)},
	}
	return b.request(item.ID, StageInsight, model, msgs, map[string]string{"group": item.Group})
}

// Cluster builds one aggregation request for the pain points sharing key.
func (b *Builder) Cluster(key string, painPoints []string, model string) batch.Request {
	msgs := []llm.Message{
		{Role: "system", Content: clusterSystem},
		{Role: "user", Content: fmt.Sprintf(clusterTemplate, bulletList(painPoints))},
	}
	return b.request(key, StageCluster, model, msgs, map[string]string{"members": fmt.Sprint(len(painPoints))})
}

// Discovery builds the adjacent-community suggestion request.
func (b *Builder) Discovery(groups, painPoints []string, limit int, model string) batch.Request {
	pains := bulletList(painPoints)
	if pains == "" {
		pains = "- (none recorded yet)"
	}
	msgs := []llm.Message{
		{Role: "system", Content: discoverySystem},
		{Role: "user", Content: fmt.Sprintf(discoveryTemplate, b.product, strings.Join(groups, ", "), pains, limit)},
	}
	return b.request(StageDiscovery, StageDiscovery, model, msgs, nil)
}

func (b *Builder) request(id, stage, model string, msgs []llm.Message, meta map[string]string) batch.Request {
	counted := make([]tokens.Message, len(msgs))
	for i, m := range msgs {
		counted[i] = tokens.Message{Role: m.Role, Content: m.Content}
	}
	if meta == nil {
		meta = map[string]string{}
	}
	meta["stage"] = stage
	return batch.Request{
		ID: id,
		Body: llm.ChatRequest{
			Model:          model,
			Messages:       msgs,
			Temperature:    0,
			ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
		},
		EstimatedTokens: b.estimator.EstimateMessages(counted, model),
		Meta:            meta,
	}
}

func bulletList(lines []string) string {
	var sb strings.Builder
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		sb.WriteString(l)
	}
	return sb.String()
}
