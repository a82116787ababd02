package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/replyflow/backend/internal/models"
)

func newRetriageFixture(store *fakeStore, classifier *scriptedClassifier) *RetriageService {
	return &RetriageService{
		Triage: newTriageService(store, classifier),
		Runs:   store,
		Logger: zerolog.Nop(),
	}
}

func seedConversations(store *fakeStore, n int) {
	for i := 0; i < n; i++ {
		store.envs = append(store.envs, models.Envelope{
			ConversationID: string(rune('a' + i)),
			TenantID:       "t1",
			From:           "billing@stripe.com",
		})
	}
}

func TestRetriageIdempotent(t *testing.T) {
	store := newFakeStore()
	seedConversations(store, 4)
	store.rules = []models.SenderRule{{
		ID:           "r1",
		Pattern:      "@stripe.com",
		DefaultClass: models.ClassReceiptConfirmation,
		IsActive:     true,
	}}
	svc := newRetriageFixture(store, &scriptedClassifier{})

	first, err := svc.Run(context.Background(), RetriageParams{TenantID: "t1", Limit: 10})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if first.Changed != 4 {
		t.Fatalf("expected 4 changes on first pass, got %d", first.Changed)
	}

	second, err := svc.Run(context.Background(), RetriageParams{TenantID: "t1", Limit: 10})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if second.Changed != 0 {
		t.Fatalf("second identical pass must change nothing, got %d", second.Changed)
	}
	if second.Processed != 4 {
		t.Fatalf("expected 4 processed, got %d", second.Processed)
	}
}

func TestRetriageDryRunWritesNothing(t *testing.T) {
	store := newFakeStore()
	seedConversations(store, 3)
	store.rules = []models.SenderRule{{
		ID:           "r1",
		Pattern:      "@stripe.com",
		DefaultClass: models.ClassReceiptConfirmation,
		IsActive:     true,
	}}
	svc := newRetriageFixture(store, &scriptedClassifier{})

	summary, err := svc.Run(context.Background(), RetriageParams{TenantID: "t1", Limit: 10, DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Changed != 3 {
		t.Fatalf("dry run must still report changes, got %d", summary.Changed)
	}
	if len(store.decisions) != 0 {
		t.Fatalf("dry run must not write, found %d decisions", len(store.decisions))
	}
	for _, r := range summary.Results {
		if r.Applied {
			t.Fatalf("dry run result marked applied: %+v", r)
		}
	}
}

func TestRetriageSkipAINeverCallsClassifier(t *testing.T) {
	store := newFakeStore()
	seedConversations(store, 2)
	store.envs = append(store.envs, models.Envelope{ConversationID: "zz", TenantID: "t1", From: "stranger@unknown.example"})
	store.rules = []models.SenderRule{{
		ID:           "r1",
		Pattern:      "@stripe.com",
		DefaultClass: models.ClassReceiptConfirmation,
		IsActive:     true,
	}}
	classifier := &scriptedClassifier{}
	svc := newRetriageFixture(store, classifier)

	summary, err := svc.Run(context.Background(), RetriageParams{TenantID: "t1", Limit: 10, SkipAI: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if classifier.calls != 0 {
		t.Fatalf("rules-only pass must not call the classifier, got %d calls", classifier.calls)
	}
	if summary.Processed != 2 || summary.Skipped != 1 {
		t.Fatalf("expected 2 processed / 1 skipped, got %+v", summary)
	}
}

func TestRetriagePartialWriteFailureTolerated(t *testing.T) {
	store := newFakeStore()
	seedConversations(store, 3)
	store.rules = []models.SenderRule{{
		ID:           "r1",
		Pattern:      "@stripe.com",
		DefaultClass: models.ClassReceiptConfirmation,
		IsActive:     true,
	}}
	store.failWrites["b"] = errors.New("row locked")
	svc := newRetriageFixture(store, &scriptedClassifier{})

	summary, err := svc.Run(context.Background(), RetriageParams{TenantID: "t1", Limit: 10})
	if err != nil {
		t.Fatalf("one bad row must not abort the run: %v", err)
	}
	if summary.Changed != 2 || summary.Failed != 1 {
		t.Fatalf("expected 2 changed / 1 failed, got %+v", summary)
	}
	var failedReported bool
	for _, r := range summary.Results {
		if r.ConversationID == "b" && r.WriteError != "" && !r.Applied {
			failedReported = true
		}
	}
	if !failedReported {
		t.Fatal("failed row must be reported per-item")
	}
}

func TestRetriageCancelledBetweenItems(t *testing.T) {
	store := newFakeStore()
	seedConversations(store, 5)
	store.rules = []models.SenderRule{{
		ID:           "r1",
		Pattern:      "@stripe.com",
		DefaultClass: models.ClassReceiptConfirmation,
		IsActive:     true,
	}}
	svc := newRetriageFixture(store, &scriptedClassifier{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := svc.Run(ctx, RetriageParams{TenantID: "t1", Limit: 10})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Processed != 0 {
		t.Fatalf("cancelled run must stop at the item boundary, processed %d", summary.Processed)
	}
}

func TestRetriageRecordsRun(t *testing.T) {
	store := newFakeStore()
	seedConversations(store, 1)
	store.rules = []models.SenderRule{{
		ID:           "r1",
		Pattern:      "@stripe.com",
		DefaultClass: models.ClassReceiptConfirmation,
		IsActive:     true,
	}}
	svc := newRetriageFixture(store, &scriptedClassifier{})

	summary, err := svc.Run(context.Background(), RetriageParams{TenantID: "t1", Limit: 10})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID == "" || store.runsCreated != 1 || store.runsDone != 1 {
		t.Fatalf("expected run record lifecycle, got %+v created=%d done=%d", summary, store.runsCreated, store.runsDone)
	}
}
