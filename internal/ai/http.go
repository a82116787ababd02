package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/replyflow/backend/internal/models"
)

// HTTPAdapter calls a sidecar classification service over plain HTTP.
type HTTPAdapter struct {
	BaseURL string
	Client  *http.Client
}

type RateLimitError struct {
	RetryAfter time.Duration
}

func (r RateLimitError) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", r.RetryAfter)
	}
	return "rate limited"
}

type classifyRequest struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Channel    string   `json:"channel"`
	Directives []string `json:"directives,omitempty"`
}

type classifyResponse struct {
	Category         *string           `json:"category"`
	RequiresReply    *bool             `json:"requires_reply"`
	Confidence       *float64          `json:"confidence"`
	Sentiment        string            `json:"sentiment"`
	RiskLevel        string            `json:"risk_level"`
	Urgency          string            `json:"urgency"`
	Entities         map[string]string `json:"entities"`
	Summary          string            `json:"summary"`
	Reasoning        string            `json:"reasoning"`
	NeedsHumanReview bool              `json:"needs_human_review"`
}

func (h HTTPAdapter) Classify(ctx context.Context, env models.Envelope, directives []string) (models.ClassificationResult, int64, error) {
	if strings.TrimSpace(h.BaseURL) == "" {
		return models.ClassificationResult{}, 0, fmt.Errorf("classifier base url is not set: %w", ErrUnavailable)
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}

	payload := classifyRequest{
		From:       env.From,
		To:         env.To,
		Subject:    env.Subject,
		Body:       env.Body,
		Channel:    env.Channel,
		Directives: directives,
	}
	b, _ := json.Marshal(payload)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(h.BaseURL, "/")+"/classify", bytes.NewReader(b))
	if err != nil {
		return models.ClassificationResult{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		latency := time.Since(start).Milliseconds()
		if errors.Is(err, context.DeadlineExceeded) {
			return models.ClassificationResult{}, latency, fmt.Errorf("classify request timed out: %w", ErrUnavailable)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return models.ClassificationResult{}, latency, fmt.Errorf("classify request timed out: %w", ErrUnavailable)
		}
		return models.ClassificationResult{}, latency, fmt.Errorf("classify request failed: %w", ErrUnavailable)
	}
	defer resp.Body.Close()
	latency := time.Since(start).Milliseconds()

	if resp.StatusCode == http.StatusTooManyRequests {
		return models.ClassificationResult{}, latency, RateLimitError{RetryAfter: parseRetryAfter(resp)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.ClassificationResult{}, latency, fmt.Errorf("classify http error %s: %w", resp.Status, ErrUnavailable)
	}

	var r classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return models.ClassificationResult{}, latency, fmt.Errorf("decode classify response: %w", ErrMalformedOutput)
	}
	// category, requires_reply and confidence are the required contract fields.
	if r.Category == nil || r.RequiresReply == nil || r.Confidence == nil {
		return models.ClassificationResult{}, latency, fmt.Errorf("missing required fields: %w", ErrMalformedOutput)
	}

	result := models.ClassificationResult{
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
	}
	return result, latency, nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v + "s"); err == nil {
		return d
	}
	return 0
}
