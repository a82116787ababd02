package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/replyflow/backend/internal/models"
	"github.com/replyflow/backend/internal/rules"
)

// LearnerStore is the persistence slice the correction ledger and rule
// learner need.
type LearnerStore interface {
	GetDecision(ctx context.Context, conversationID string) (*models.TriageDecision, error)
	UpsertDecision(ctx context.Context, d models.TriageDecision) error
	AppendCorrection(ctx context.Context, c models.Correction) error
	AggregateCorrections(ctx context.Context, tenantID string, minCount int) ([]models.RuleCandidate, error)
	FindRuleByPattern(ctx context.Context, tenantID string, pattern string) (*models.SenderRule, error)
	CreateRule(ctx context.Context, r models.SenderRule) (models.SenderRule, error)
	ListBehaviorStats(ctx context.Context, tenantID string) ([]models.SenderBehaviorStat, error)
}

// Learner records human overrides and turns repeated ones into sender rules.
type Learner struct {
	Store      LearnerStore
	Logger     zerolog.Logger
	Thresholds Thresholds
	// RepetitionThreshold is how many identical corrections make a rule
	// candidate.
	RepetitionThreshold int
	// AutoApply creates rules from crossed candidates without operator
	// acceptance. Tenant-level, off unless explicitly enabled.
	AutoApply bool
}

// RuleSuggestion is a read-only hint derived from sender behavior stats.
type RuleSuggestion struct {
	SenderDomain    string  `json:"sender_domain"`
	SuggestedClass  string  `json:"suggested_classification"`
	SuggestedBucket string  `json:"suggested_bucket"`
	Reason          string  `json:"reason"`
	VIPScore        float64 `json:"vip_score"`
}

// RecordCorrection applies a human classification override to the stored
// decision and appends it to the correction ledger. With auto-apply on, any
// candidate the correction completes becomes a rule immediately.
func (l *Learner) RecordCorrection(ctx context.Context, tenantID string, conversationID string, senderAddr string, newClass string) (models.Correction, error) {
	if !models.ValidClassification(newClass) {
		return models.Correction{}, fmt.Errorf("unknown classification %q", newClass)
	}
	original, err := l.Store.GetDecision(ctx, conversationID)
	if err != nil {
		return models.Correction{}, err
	}
	if original == nil {
		return models.Correction{}, fmt.Errorf("conversation %s has no triage decision", conversationID)
	}

	res := models.ClassificationResult{
		Category:      newClass,
		RequiresReply: newClass == models.ClassCustomerInquiry,
		Confidence:    1,
		RiskLevel:     original.RiskLevel,
		Urgency:       models.UrgencyNormal,
	}
	updated := Decide(models.SourceHuman, res, l.Thresholds)
	updated.ConversationID = conversationID
	if err := l.Store.UpsertDecision(ctx, updated); err != nil {
		return models.Correction{}, err
	}

	correction := models.Correction{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		SenderDomain:   rules.SenderDomain(senderAddr),
		OriginalClass:  original.Classification,
		NewClass:       newClass,
		CorrectedAt:    time.Now().UTC(),
	}
	if err := l.Store.AppendCorrection(ctx, correction); err != nil {
		return models.Correction{}, err
	}

	if l.AutoApply && correction.SenderDomain != "" {
		if err := l.autoApplyDomain(ctx, tenantID, correction.SenderDomain); err != nil {
			l.Logger.Warn().Err(err).Str("domain", correction.SenderDomain).Msg("auto-apply failed")
		}
	}
	return correction, nil
}

// Candidates lists correction groups that crossed the repetition threshold.
func (l *Learner) Candidates(ctx context.Context, tenantID string) ([]models.RuleCandidate, error) {
	return l.Store.AggregateCorrections(ctx, tenantID, l.threshold())
}

// AcceptCandidate creates the sender rule for a candidate. Creation is
// idempotent per (tenant, pattern): an existing rule makes this a no-op.
func (l *Learner) AcceptCandidate(ctx context.Context, tenantID string, cand models.RuleCandidate) (models.SenderRule, bool, error) {
	domain := strings.ToLower(strings.TrimSpace(cand.SenderDomain))
	if domain == "" {
		return models.SenderRule{}, false, fmt.Errorf("candidate has no sender domain")
	}
	if !models.ValidClassification(cand.NewClass) {
		return models.SenderRule{}, false, fmt.Errorf("unknown classification %q", cand.NewClass)
	}
	pattern := "@" + domain

	existing, err := l.Store.FindRuleByPattern(ctx, tenantID, pattern)
	if err != nil {
		return models.SenderRule{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	rule := models.SenderRule{
		ID:                   uuid.NewString(),
		TenantID:             tenantID,
		Pattern:              pattern,
		DefaultClass:         cand.NewClass,
		DefaultRequiresReply: cand.NewClass == models.ClassCustomerInquiry,
		IsActive:             true,
		CreatedAt:            time.Now().UTC(),
	}
	created, err := l.Store.CreateRule(ctx, rule)
	if err != nil {
		return models.SenderRule{}, false, err
	}
	l.Logger.Info().
		Str("tenant_id", tenantID).
		Str("pattern", pattern).
		Str("classification", cand.NewClass).
		Int("corrections", cand.Count).
		Msg("rule learned from corrections")
	return created, true, nil
}

func (l *Learner) autoApplyDomain(ctx context.Context, tenantID string, domain string) error {
	cands, err := l.Candidates(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, cand := range cands {
		if !strings.EqualFold(cand.SenderDomain, domain) {
			continue
		}
		if _, _, err := l.AcceptCandidate(ctx, tenantID, cand); err != nil {
			return err
		}
	}
	return nil
}

// Suggestions derives rule hints from sender behavior stats. Suggestions are
// surfaced only; they never create rules by themselves.
func (l *Learner) Suggestions(ctx context.Context, tenantID string) ([]RuleSuggestion, error) {
	stats, err := l.Store.ListBehaviorStats(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var out []RuleSuggestion
	for _, st := range stats {
		switch st.SuggestedBucket {
		case models.BucketAutoHandled:
			out = append(out, RuleSuggestion{
				SenderDomain:    st.SenderDomain,
				SuggestedClass:  models.ClassAutomatedNotification,
				SuggestedBucket: st.SuggestedBucket,
				VIPScore:        st.VIPScore,
				Reason:          fmt.Sprintf("%d messages, %.0f%% reply rate", st.TotalMessages, st.ReplyRate*100),
			})
		case models.BucketActNow:
			out = append(out, RuleSuggestion{
				SenderDomain:    st.SenderDomain,
				SuggestedClass:  models.ClassCustomerInquiry,
				SuggestedBucket: st.SuggestedBucket,
				VIPScore:        st.VIPScore,
				Reason:          fmt.Sprintf("VIP score %.2f over %d messages", st.VIPScore, st.TotalMessages),
			})
		}
	}
	return out, nil
}

func (l *Learner) threshold() int {
	if l.RepetitionThreshold > 0 {
		return l.RepetitionThreshold
	}
	return 3
}
