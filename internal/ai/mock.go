package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/replyflow/backend/internal/models"
	"github.com/replyflow/backend/internal/utils"
)

// MockAdapter produces deterministic, hash-derived classifications so local
// runs behave the same across invocations without a live model.
type MockAdapter struct {
	ModelVersion string
}

func (m MockAdapter) Classify(ctx context.Context, env models.Envelope, directives []string) (models.ClassificationResult, int64, error) {
	start := time.Now()
	h := utils.HashFields(env.From, env.Subject)

	categories := []string{
		models.ClassCustomerInquiry,
		models.ClassAutomatedNotification,
		models.ClassReceiptConfirmation,
		models.ClassRecruitmentHR,
		models.ClassPromotionalSpam,
	}
	sentiments := []string{"positive", "neutral", "negative"}
	urgencies := []string{models.UrgencyLow, models.UrgencyNormal, models.UrgencyHigh}

	category := categories[int(h)%len(categories)]
	sentiment := sentiments[int(h/7)%len(sentiments)]
	urgency := urgencies[int(h/13)%len(urgencies)]

	confidence := 0.9
	if h%5 == 0 {
		confidence = 0.55
	}
	if h%11 == 0 {
		confidence = 0.3
	}

	risk := models.RiskNone
	if h%17 == 0 {
		risk = models.RiskFinancial
	}

	result := models.ClassificationResult{
		Category:      category,
		RequiresReply: category == models.ClassCustomerInquiry || category == models.ClassPersonalMessage,
		Confidence:    confidence,
		Sentiment:     sentiment,
		RiskLevel:     risk,
		Urgency:       urgency,
		Summary:       fmt.Sprintf("Mock summary for %s", env.From),
		Reasoning:     fmt.Sprintf("mock classifier %s", m.ModelVersion),
	}
	return result, time.Since(start).Milliseconds(), nil
}
