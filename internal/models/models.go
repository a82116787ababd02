package models

import "time"

// Classification is the closed category enum. Anything outside it is coerced
// to ClassCustomerInquiry at the boundary.
const (
	ClassCustomerInquiry       = "customer_inquiry"
	ClassAutomatedNotification = "automated_notification"
	ClassReceiptConfirmation   = "receipt_confirmation"
	ClassRecruitmentHR         = "recruitment_hr"
	ClassPromotionalSpam       = "promotional_spam"
	ClassPersonalMessage       = "personal_message"
)

const (
	BucketAutoHandled = "auto_handled"
	BucketQuickWin    = "quick_win"
	BucketActNow      = "act_now"
	BucketWait        = "wait"
)

const (
	RiskNone       = "none"
	RiskFinancial  = "financial"
	RiskLegal      = "legal"
	RiskReputation = "reputation"
)

const (
	UrgencyLow    = "low"
	UrgencyNormal = "normal"
	UrgencyHigh   = "high"
)

func ValidClassification(v string) bool {
	switch v {
	case ClassCustomerInquiry, ClassAutomatedNotification, ClassReceiptConfirmation,
		ClassRecruitmentHR, ClassPromotionalSpam, ClassPersonalMessage:
		return true
	}
	return false
}

func ValidBucket(v string) bool {
	switch v {
	case BucketAutoHandled, BucketQuickWin, BucketActNow, BucketWait:
		return true
	}
	return false
}

// Envelope is the normalized inbound message the pipeline triages.
type Envelope struct {
	ConversationID string    `json:"conversation_id"`
	TenantID       string    `json:"tenant_id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	Channel        string    `json:"channel"`
	ReceivedAt     time.Time `json:"received_at"`
}

type Conversation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Subject   string    `json:"subject"`
	Channel   string    `json:"channel"`
	CreatedAt time.Time `json:"created_at"`
}

// SenderRule maps a sender pattern to a classification, bypassing the
// classifier on match. Patterns are either "@domain" (exact domain match) or
// a bare substring of the address. First rule in stored order wins.
type SenderRule struct {
	ID                   string    `json:"id"`
	TenantID             string    `json:"tenant_id"`
	Pattern              string    `json:"pattern"`
	DefaultClass         string    `json:"default_classification"`
	DefaultRequiresReply bool      `json:"default_requires_reply"`
	OverrideKeywords     []string  `json:"override_keywords"`
	OverrideClass        *string   `json:"override_classification,omitempty"`
	OverrideRequires     *bool     `json:"override_requires_reply,omitempty"`
	IsActive             bool      `json:"is_active"`
	HitCount             int       `json:"hit_count"`
	CreatedAt            time.Time `json:"created_at"`
}

// ClassificationResult is the classifier's (or gatekeeper's) per-message output.
type ClassificationResult struct {
	Category         string            `json:"category"`
	RequiresReply    bool              `json:"requires_reply"`
	Confidence       float64           `json:"confidence"`
	Sentiment        string            `json:"sentiment"`
	RiskLevel        string            `json:"risk_level"`
	Urgency          string            `json:"urgency"`
	Entities         map[string]string `json:"entities,omitempty"`
	Summary          string            `json:"summary"`
	Reasoning        string            `json:"reasoning"`
	NeedsHumanReview bool              `json:"needs_human_review"`
}

// TriageDecision is the latest routing outcome stored on a conversation.
// History lives in the correction ledger only.
type TriageDecision struct {
	ConversationID   string    `json:"conversation_id"`
	Classification   string    `json:"classification"`
	Bucket           string    `json:"decision_bucket"`
	Confidence       float64   `json:"confidence"`
	RequiresReply    bool      `json:"requires_reply"`
	WhyThisNeedsYou  string    `json:"why_this_needs_you"`
	RiskLevel        string    `json:"risk_level"`
	NeedsHumanReview bool      `json:"needs_human_review"`
	Source           string    `json:"source"`
	DecidedAt        time.Time `json:"decided_at"`
}

const (
	SourceGatekeeper = "gatekeeper"
	SourceClassifier = "classifier"
	SourceHuman      = "human"
)

// Correction is an append-only record of a human override.
type Correction struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	SenderDomain   string    `json:"sender_domain"`
	OriginalClass  string    `json:"original_classification"`
	NewClass       string    `json:"new_classification"`
	CorrectedAt    time.Time `json:"corrected_at"`
}

// RuleCandidate is an aggregated correction group that crossed the
// repetition threshold and can be accepted into a SenderRule.
type RuleCandidate struct {
	TenantID      string `json:"tenant_id"`
	SenderDomain  string `json:"sender_domain"`
	OriginalClass string `json:"original_classification"`
	NewClass      string `json:"new_classification"`
	Count         int    `json:"count"`
}

// SenderBehaviorStat is recomputed wholesale per aggregation run.
type SenderBehaviorStat struct {
	TenantID           string    `json:"tenant_id"`
	SenderDomain       string    `json:"sender_domain"`
	TotalMessages      int       `json:"total_messages"`
	RepliedCount       int       `json:"replied_count"`
	ReplyRate          float64   `json:"reply_rate"`
	AvgResponseMinutes float64   `json:"avg_response_time_minutes"`
	VIPScore           float64   `json:"vip_score"`
	SuggestedBucket    string    `json:"suggested_bucket"`
	ComputedAt         time.Time `json:"computed_at"`
}

type RetriageRun struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Status     string     `json:"status"`
	Summary    []byte     `json:"summary"`
}
