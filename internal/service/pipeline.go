package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/replyflow/backend/internal/ai"
	"github.com/replyflow/backend/internal/models"
	"github.com/replyflow/backend/internal/rules"
)

// TriageStore is the slice of persistence the triage pipeline needs.
// *db.Store implements it; tests use an in-memory fake.
type TriageStore interface {
	ListActiveRules(ctx context.Context, tenantID string) ([]models.SenderRule, error)
	IncrementRuleHit(ctx context.Context, ruleID string) error
	GetDecision(ctx context.Context, conversationID string) (*models.TriageDecision, error)
	UpsertDecision(ctx context.Context, d models.TriageDecision) error
	GetEarliestInbound(ctx context.Context, tenantID string, conversationID string) (models.Envelope, error)
	ListEarliestInbound(ctx context.Context, tenantID string, limit int, offset int) ([]models.Envelope, error)
}

type TriageService struct {
	Store           TriageStore
	Classifier      ai.Classifier
	Logger          zerolog.Logger
	Thresholds      Thresholds
	Directives      []string
	ClassifyTimeout time.Duration
}

// TriageOutcome is the result of one pipeline run over one message.
type TriageOutcome struct {
	Decision         models.TriageDecision
	RuleID           string
	ClassifierCalled bool
	LatencyMs        int64
}

// TriageOne runs Gatekeeping → Classifying → Decided for one message. A
// gatekeeper match skips the classifier entirely. With skipAI set, a message
// with no rule match is reported as undecidable (second return false) instead
// of spending a classifier call.
func (s *TriageService) TriageOne(ctx context.Context, env models.Envelope, ruleSet []models.SenderRule, skipAI bool) (TriageOutcome, bool) {
	if m, ok := rules.Match(env.From, env.Subject, env.Body, ruleSet); ok {
		// Hit counts are advisory; a failed increment never blocks triage.
		if err := s.Store.IncrementRuleHit(ctx, m.Rule.ID); err != nil {
			s.Logger.Warn().Err(err).Str("rule_id", m.Rule.ID).Msg("rule hit increment failed")
		}
		res := models.ClassificationResult{
			Category:      m.Classification,
			RequiresReply: m.RequiresReply,
			Confidence:    1,
			RiskLevel:     models.RiskNone,
			Urgency:       models.UrgencyNormal,
			Summary:       "Matched sender rule " + m.Rule.Pattern,
		}
		d := Decide(models.SourceGatekeeper, res, s.Thresholds)
		d.ConversationID = env.ConversationID
		return TriageOutcome{Decision: d, RuleID: m.Rule.ID}, true
	}

	if skipAI {
		return TriageOutcome{}, false
	}

	timeout := s.ClassifyTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, latency, err := s.Classifier.Classify(callCtx, env, s.Directives)
	if err != nil {
		s.Logger.Warn().Err(err).
			Str("conversation_id", env.ConversationID).
			Msg("classifier failed, applying safe default")
		res = ai.SafeDefault("classifier failed: " + err.Error())
	} else {
		var coerced bool
		res, coerced = ai.Validate(res)
		if coerced {
			s.Logger.Warn().
				Str("conversation_id", env.ConversationID).
				Str("category", res.Category).
				Msg("classifier output coerced to closed enum")
		}
	}

	d := Decide(models.SourceClassifier, res, s.Thresholds)
	d.ConversationID = env.ConversationID
	return TriageOutcome{Decision: d, ClassifierCalled: true, LatencyMs: latency}, true
}

// SingleResult is the outcome of re-triaging one stored conversation.
type SingleResult struct {
	ConversationID string                 `json:"conversation_id"`
	Changed        bool                   `json:"changed"`
	Original       *models.TriageDecision `json:"original,omitempty"`
	Updated        models.TriageDecision  `json:"updated"`
}

// TriageConversation re-runs the pipeline over a stored conversation's
// earliest inbound message and persists the decision only when it differs
// from the stored one.
func (s *TriageService) TriageConversation(ctx context.Context, tenantID string, conversationID string) (SingleResult, error) {
	env, err := s.Store.GetEarliestInbound(ctx, tenantID, conversationID)
	if err != nil {
		return SingleResult{}, err
	}
	ruleSet, err := s.Store.ListActiveRules(ctx, tenantID)
	if err != nil {
		return SingleResult{}, err
	}
	original, err := s.Store.GetDecision(ctx, conversationID)
	if err != nil {
		return SingleResult{}, err
	}

	outcome, _ := s.TriageOne(ctx, env, ruleSet, false)
	result := SingleResult{
		ConversationID: conversationID,
		Original:       original,
		Updated:        outcome.Decision,
		Changed:        decisionChanged(original, outcome.Decision),
	}
	if result.Changed {
		if err := s.Store.UpsertDecision(ctx, outcome.Decision); err != nil {
			return SingleResult{}, err
		}
	}
	return result, nil
}

// decisionChanged compares the fields a re-triage is allowed to rewrite.
func decisionChanged(original *models.TriageDecision, updated models.TriageDecision) bool {
	if original == nil {
		return true
	}
	return original.Classification != updated.Classification ||
		original.Bucket != updated.Bucket ||
		original.RequiresReply != updated.RequiresReply
}
