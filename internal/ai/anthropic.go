package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/replyflow/backend/internal/models"
	"github.com/replyflow/backend/internal/utils"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

// AnthropicAdapter classifies messages with the Anthropic Messages API using
// a JSON-only instruction. Identical envelopes within the cache TTL reuse the
// previous answer, which keeps repeated batch runs from re-spending tokens.
type AnthropicAdapter struct {
	APIKey string
	Model  string
}

var (
	cacheMu    sync.Mutex
	cacheStore = map[uint64]cacheEntry{}
	cacheTTL   = 60 * time.Second
)

type cacheEntry struct {
	value models.ClassificationResult
	exp   time.Time
}

const classifySystemPrompt = `You triage inbound customer messages.
Choose exactly one category from:
- customer_inquiry: a customer asking something that needs an answer
- automated_notification: machine-generated status or alert mail
- receipt_confirmation: receipts, invoices paid, order confirmations
- recruitment_hr: recruiters, job applications, HR outreach
- promotional_spam: marketing, newsletters, cold outreach
- personal_message: personal, non-business mail

Also set:
- requires_reply: whether a human reply is expected
- confidence: 0..1
- sentiment: free text, one word
- risk_level: one of none, financial, legal, reputation
- urgency: one of low, normal, high
- summary: one sentence
- reasoning: one sentence

Respond with JSON only (no markdown):
{"category": "customer_inquiry", "requires_reply": true, "confidence": 0.92, "sentiment": "neutral", "risk_level": "none", "urgency": "normal", "summary": "...", "reasoning": "..."}`

func (a AnthropicAdapter) Classify(ctx context.Context, env models.Envelope, directives []string) (models.ClassificationResult, int64, error) {
	if strings.TrimSpace(a.APIKey) == "" {
		return models.ClassificationResult{}, 0, fmt.Errorf("anthropic api key is not set: %w", ErrUnavailable)
	}
	model := a.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	userPrompt := buildUserPrompt(env, directives)
	key := utils.HashFields(model, userPrompt)
	if v, ok := cacheGet(key); ok {
		return v, 0, nil
	}

	client := anthropic.NewClient(option.WithAPIKey(a.APIKey))
	start := time.Now()
	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: classifySystemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return models.ClassificationResult{}, latency, fmt.Errorf("anthropic api error: %w", ErrUnavailable)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return models.ClassificationResult{}, latency, fmt.Errorf("no text content in response: %w", ErrMalformedOutput)
	}

	result, err := parseClassifyText(text)
	if err != nil {
		return models.ClassificationResult{}, latency, err
	}
	cacheSet(key, result)
	return result, latency, nil
}

func buildUserPrompt(env models.Envelope, directives []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Channel: %s\nFrom: %s\nTo: %s\nSubject: %s\n\n%s\n", env.Channel, env.From, env.To, env.Subject, env.Body)
	if len(directives) > 0 {
		b.WriteString("\nBusiness context:\n")
		for _, d := range directives {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	return b.String()
}

func parseClassifyText(text string) (models.ClassificationResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var r classifyResponse
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return models.ClassificationResult{}, fmt.Errorf("parse classify response: %w", ErrMalformedOutput)
	}
	if r.Category == nil || r.RequiresReply == nil || r.Confidence == nil {
		return models.ClassificationResult{}, fmt.Errorf("missing required fields: %w", ErrMalformedOutput)
	}
	return models.ClassificationResult{
		Category:         *r.Category,
		RequiresReply:    *r.RequiresReply,
		Confidence:       *r.Confidence,
		Sentiment:        r.Sentiment,
		RiskLevel:        r.RiskLevel,
		Urgency:          r.Urgency,
		Entities:         r.Entities,
		Summary:          r.Summary,
		Reasoning:        r.Reasoning,
		NeedsHumanReview: r.NeedsHumanReview,
	}, nil
}

func cacheGet(key uint64) (models.ClassificationResult, bool) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if e, ok := cacheStore[key]; ok {
		if time.Now().Before(e.exp) {
			return e.value, true
		}
		delete(cacheStore, key)
	}
	return models.ClassificationResult{}, false
}

func cacheSet(key uint64, value models.ClassificationResult) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cacheStore[key] = cacheEntry{value: value, exp: time.Now().Add(cacheTTL)}
}
