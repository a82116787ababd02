package ai

import (
	"context"
	"errors"

	"github.com/replyflow/backend/internal/models"
)

// ErrUnavailable covers transport failures and timeouts against the
// classification service.
var ErrUnavailable = errors.New("classifier unavailable")

// ErrMalformedOutput covers responses that parse but miss required fields.
var ErrMalformedOutput = errors.New("classifier returned malformed output")

// Classifier is the external inference collaborator. Output is never trusted
// blindly; callers run it through Validate before use. The second return is
// call latency in milliseconds.
type Classifier interface {
	Classify(ctx context.Context, env models.Envelope, directives []string) (models.ClassificationResult, int64, error)
}

// SafeDefault is the result substituted for every classifier failure mode.
// It always escalates: requires_reply true, zero confidence, human review.
func SafeDefault(reason string) models.ClassificationResult {
	return models.ClassificationResult{
		Category:         models.ClassCustomerInquiry,
		RequiresReply:    true,
		Confidence:       0,
		RiskLevel:        models.RiskNone,
		Urgency:          models.UrgencyNormal,
		Reasoning:        reason,
		NeedsHumanReview: true,
	}
}
