package ai

import (
	"context"
	"math"
	"testing"

	"github.com/replyflow/backend/internal/models"
)

func TestValidateCoercesUnknownCategory(t *testing.T) {
	raw := models.ClassificationResult{
		Category:      "press_release",
		RequiresReply: false,
		Confidence:    0.95,
	}
	out, coerced := Validate(raw)
	if !coerced {
		t.Fatal("expected coercion flag")
	}
	if out.Category != models.ClassCustomerInquiry {
		t.Fatalf("expected safe default category, got %s", out.Category)
	}
	if !out.RequiresReply || !out.NeedsHumanReview {
		t.Fatalf("coerced category must escalate, got %+v", out)
	}
}

func TestValidatePassesKnownCategory(t *testing.T) {
	raw := models.ClassificationResult{
		Category:      "Receipt_Confirmation",
		RequiresReply: false,
		Confidence:    0.9,
		RiskLevel:     "none",
		Urgency:       "low",
	}
	out, coerced := Validate(raw)
	if coerced {
		t.Fatalf("expected no coercion, got %+v", out)
	}
	if out.Category != models.ClassReceiptConfirmation || out.RequiresReply {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestValidateClampsConfidence(t *testing.T) {
	out, coerced := Validate(models.ClassificationResult{Category: models.ClassCustomerInquiry, Confidence: 1.4})
	if !coerced || out.Confidence != 1 {
		t.Fatalf("expected clamp to 1, got %+v", out)
	}
	out, coerced = Validate(models.ClassificationResult{Category: models.ClassCustomerInquiry, Confidence: -0.2})
	if !coerced || out.Confidence != 0 || !out.NeedsHumanReview {
		t.Fatalf("expected clamp to 0 with review flag, got %+v", out)
	}
	out, _ = Validate(models.ClassificationResult{Category: models.ClassCustomerInquiry, Confidence: math.NaN()})
	if out.Confidence != 0 {
		t.Fatalf("expected NaN coerced to 0, got %v", out.Confidence)
	}
}

func TestValidateUnknownRiskAndUrgency(t *testing.T) {
	out, coerced := Validate(models.ClassificationResult{
		Category:   models.ClassCustomerInquiry,
		Confidence: 0.8,
		RiskLevel:  "existential",
		Urgency:    "apocalyptic",
	})
	if !coerced {
		t.Fatal("expected coercion flag")
	}
	if out.RiskLevel != models.RiskNone || out.Urgency != models.UrgencyNormal {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestMockAdapterDeterministic(t *testing.T) {
	m := MockAdapter{ModelVersion: "mock-v1"}
	env := models.Envelope{From: "billing@stripe.com", Subject: "Receipt"}
	first, _, err := m.Classify(context.Background(), env, nil)
	if err != nil {
		t.Fatalf("mock classify: %v", err)
	}
	for i := 0; i < 10; i++ {
		res, _, err := m.Classify(context.Background(), env, nil)
		if err != nil {
			t.Fatalf("mock classify: %v", err)
		}
		if res.Category != first.Category || res.Confidence != first.Confidence {
			t.Fatalf("mock adapter not deterministic: %+v vs %+v", res, first)
		}
	}
}

func TestParseClassifyTextMarkdownFences(t *testing.T) {
	text := "```json\n{\"category\": \"customer_inquiry\", \"requires_reply\": true, \"confidence\": 0.8}\n```"
	res, err := parseClassifyText(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Category != models.ClassCustomerInquiry || !res.RequiresReply || res.Confidence != 0.8 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestParseClassifyTextMissingFields(t *testing.T) {
	if _, err := parseClassifyText(`{"category": "customer_inquiry"}`); err == nil {
		t.Fatal("expected malformed-output error")
	}
}
