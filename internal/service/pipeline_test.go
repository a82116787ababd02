package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/replyflow/backend/internal/ai"
	"github.com/replyflow/backend/internal/models"
)

func newTriageService(store *fakeStore, classifier ai.Classifier) *TriageService {
	return &TriageService{
		Store:      store,
		Classifier: classifier,
		Logger:     zerolog.Nop(),
		Thresholds: DefaultThresholds(),
	}
}

func TestTriageOneGatekeeperShortCircuit(t *testing.T) {
	store := newFakeStore()
	store.rules = []models.SenderRule{{
		ID:           "r1",
		Pattern:      "@stripe.com",
		DefaultClass: models.ClassReceiptConfirmation,
		IsActive:     true,
	}}
	classifier := &scriptedClassifier{}
	svc := newTriageService(store, classifier)

	env := models.Envelope{ConversationID: "c1", From: "billing@stripe.com"}
	outcome, decided := svc.TriageOne(context.Background(), env, store.rules, false)
	if !decided {
		t.Fatal("expected decision")
	}
	if classifier.calls != 0 {
		t.Fatalf("classifier must not be invoked on gatekeeper match, got %d calls", classifier.calls)
	}
	if outcome.Decision.Bucket != models.BucketAutoHandled {
		t.Fatalf("expected auto_handled, got %s", outcome.Decision.Bucket)
	}
	if outcome.RuleID != "r1" || store.hitCounts["r1"] != 1 {
		t.Fatalf("expected rule hit recorded, got %+v hits=%v", outcome, store.hitCounts)
	}
}

func TestTriageOneClassifierFailureSafeDefault(t *testing.T) {
	store := newFakeStore()
	classifier := &scriptedClassifier{err: ai.ErrUnavailable}
	svc := newTriageService(store, classifier)

	env := models.Envelope{ConversationID: "c1", From: "someone@example.com"}
	outcome, decided := svc.TriageOne(context.Background(), env, nil, false)
	if !decided {
		t.Fatal("failures must still produce a decision")
	}
	d := outcome.Decision
	if !d.RequiresReply || !d.NeedsHumanReview {
		t.Fatalf("classifier failure must escalate, got %+v", d)
	}
	if d.Bucket == models.BucketAutoHandled {
		t.Fatal("classifier failure must never auto-handle")
	}
	if d.Classification != models.ClassCustomerInquiry {
		t.Fatalf("expected safe default classification, got %s", d.Classification)
	}
}

func TestTriageOneSkipAIWithoutMatch(t *testing.T) {
	store := newFakeStore()
	classifier := &scriptedClassifier{}
	svc := newTriageService(store, classifier)

	env := models.Envelope{ConversationID: "c1", From: "someone@example.com"}
	if _, decided := svc.TriageOne(context.Background(), env, nil, true); decided {
		t.Fatal("skipAI without a rule match must not decide")
	}
	if classifier.calls != 0 {
		t.Fatalf("skipAI must never call the classifier, got %d calls", classifier.calls)
	}
}

func TestTriageOneValidatesClassifierOutput(t *testing.T) {
	store := newFakeStore()
	classifier := &scriptedClassifier{result: models.ClassificationResult{
		Category:      "made_up_category",
		RequiresReply: false,
		Confidence:    0.99,
	}}
	svc := newTriageService(store, classifier)

	outcome, _ := svc.TriageOne(context.Background(), models.Envelope{ConversationID: "c1", From: "x@y.z"}, nil, false)
	if outcome.Decision.Classification != models.ClassCustomerInquiry {
		t.Fatalf("unknown category must be coerced, got %s", outcome.Decision.Classification)
	}
	if !outcome.Decision.NeedsHumanReview {
		t.Fatal("coerced category must flag human review")
	}
}

func TestTriageConversationWritesOnlyOnChange(t *testing.T) {
	store := newFakeStore()
	store.envs = []models.Envelope{{ConversationID: "c1", TenantID: "t1", From: "billing@stripe.com"}}
	store.rules = []models.SenderRule{{
		ID:           "r1",
		Pattern:      "@stripe.com",
		DefaultClass: models.ClassReceiptConfirmation,
		IsActive:     true,
	}}
	svc := newTriageService(store, &scriptedClassifier{})

	first, err := svc.TriageConversation(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if !first.Changed || first.Original != nil {
		t.Fatalf("first run must persist a fresh decision, got %+v", first)
	}

	second, err := svc.TriageConversation(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if second.Changed {
		t.Fatalf("unchanged input must be a no-op, got %+v", second)
	}
}
