package ai

import (
	"math"
	"strings"

	"github.com/replyflow/backend/internal/models"
)

// Validate normalizes a raw classifier result against the closed enums.
// An out-of-enum category is coerced to the safe default and flagged for
// human review — unknown values never pass through silently. The second
// return reports whether anything had to be coerced.
func Validate(raw models.ClassificationResult) (models.ClassificationResult, bool) {
	out := raw
	coerced := false

	out.Category = strings.ToLower(strings.TrimSpace(out.Category))
	if !models.ValidClassification(out.Category) {
		out.Category = models.ClassCustomerInquiry
		out.RequiresReply = true
		out.NeedsHumanReview = true
		coerced = true
	}

	switch strings.ToLower(strings.TrimSpace(out.RiskLevel)) {
	case models.RiskFinancial:
		out.RiskLevel = models.RiskFinancial
	case models.RiskLegal:
		out.RiskLevel = models.RiskLegal
	case models.RiskReputation:
		out.RiskLevel = models.RiskReputation
	case models.RiskNone, "":
		out.RiskLevel = models.RiskNone
	default:
		out.RiskLevel = models.RiskNone
		coerced = true
	}

	switch strings.ToLower(strings.TrimSpace(out.Urgency)) {
	case models.UrgencyLow:
		out.Urgency = models.UrgencyLow
	case models.UrgencyHigh:
		out.Urgency = models.UrgencyHigh
	case models.UrgencyNormal, "", "medium":
		out.Urgency = models.UrgencyNormal
	default:
		out.Urgency = models.UrgencyNormal
		coerced = true
	}

	if math.IsNaN(out.Confidence) || out.Confidence < 0 {
		out.Confidence = 0
		out.NeedsHumanReview = true
		coerced = true
	} else if out.Confidence > 1 {
		out.Confidence = 1
		coerced = true
	}

	return out, coerced
}
