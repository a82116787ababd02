package service

import (
	"fmt"
	"time"

	"github.com/replyflow/backend/internal/models"
)

// Thresholds are the tenant confidence cutoffs for the decision policy.
type Thresholds struct {
	High float64
	Low  float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.85, Low: 0.46}
}

// Decide maps a classification (gatekeeper or classifier sourced) to a
// TriageDecision. It is the single place bucket-assignment rules live: total,
// deterministic, never errors. The low-confidence safety override is applied
// last so no upstream output can resolve to "no action needed" on a shaky
// confidence.
func Decide(source string, res models.ClassificationResult, th Thresholds) models.TriageDecision {
	d := models.TriageDecision{
		Classification:   res.Category,
		Confidence:       res.Confidence,
		RequiresReply:    res.RequiresReply,
		RiskLevel:        res.RiskLevel,
		NeedsHumanReview: res.NeedsHumanReview,
		Source:           source,
		DecidedAt:        time.Now().UTC(),
	}
	if !models.ValidClassification(d.Classification) {
		d.Classification = models.ClassCustomerInquiry
		d.RequiresReply = true
		d.NeedsHumanReview = true
	}

	switch source {
	case models.SourceGatekeeper:
		switch {
		case !d.RequiresReply || isAutoClass(d.Classification):
			d.Bucket = models.BucketAutoHandled
			d.WhyThisNeedsYou = "Matched a sender rule; handled automatically."
		case d.Classification == models.ClassCustomerInquiry:
			d.Bucket = models.BucketQuickWin
			d.WhyThisNeedsYou = "Known sender asking a question; a short reply closes it."
		default:
			d.Bucket = models.BucketWait
			d.WhyThisNeedsYou = "Matched a sender rule but still expects a reply."
		}
	default:
		switch {
		case res.Confidence >= th.High && !d.RequiresReply:
			d.Bucket = models.BucketAutoHandled
			d.WhyThisNeedsYou = "High-confidence classification with no reply expected."
		case res.Confidence >= th.High && d.RequiresReply && res.Urgency != models.UrgencyHigh:
			d.Bucket = models.BucketQuickWin
			d.WhyThisNeedsYou = "Clear request; a short reply closes it."
		case res.Urgency == models.UrgencyHigh || isEscalatingRisk(res.RiskLevel):
			d.Bucket = models.BucketActNow
			d.WhyThisNeedsYou = fmt.Sprintf("Urgent or risky (%s risk, %s urgency); needs you first.", res.RiskLevel, res.Urgency)
		default:
			d.Bucket = models.BucketWait
			d.WhyThisNeedsYou = "Unclear classification; parked until you get to it."
		}
	}

	// Safety override: low confidence can never end up auto-handled.
	if d.Confidence < th.Low {
		d.RequiresReply = true
		d.NeedsHumanReview = true
		if d.Bucket == models.BucketAutoHandled {
			d.Bucket = models.BucketActNow
		}
		d.WhyThisNeedsYou = "Low-confidence classification; a human needs to look."
	}

	if d.Bucket == models.BucketAutoHandled {
		d.RequiresReply = false
	}
	return d
}

func isAutoClass(class string) bool {
	switch class {
	case models.ClassAutomatedNotification, models.ClassReceiptConfirmation, models.ClassRecruitmentHR:
		return true
	}
	return false
}

func isEscalatingRisk(risk string) bool {
	switch risk {
	case models.RiskFinancial, models.RiskLegal, models.RiskReputation:
		return true
	}
	return false
}
