package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/replyflow/backend/internal/models"
)

// fakeStore is the in-memory storage collaborator used across service tests.
type fakeStore struct {
	rules       []models.SenderRule
	decisions   map[string]models.TriageDecision
	envs        []models.Envelope
	corrections []models.Correction
	stats       []models.SenderBehaviorStat
	activity    []models.SenderBehaviorStat
	hitCounts   map[string]int
	failWrites  map[string]error
	runsCreated int
	runsDone    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		decisions:  map[string]models.TriageDecision{},
		hitCounts:  map[string]int{},
		failWrites: map[string]error{},
	}
}

func (f *fakeStore) ListActiveRules(ctx context.Context, tenantID string) ([]models.SenderRule, error) {
	var out []models.SenderRule
	for _, r := range f.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) IncrementRuleHit(ctx context.Context, ruleID string) error {
	f.hitCounts[ruleID]++
	return nil
}

func (f *fakeStore) GetDecision(ctx context.Context, conversationID string) (*models.TriageDecision, error) {
	if d, ok := f.decisions[conversationID]; ok {
		copied := d
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertDecision(ctx context.Context, d models.TriageDecision) error {
	if err, ok := f.failWrites[d.ConversationID]; ok {
		return err
	}
	f.decisions[d.ConversationID] = d
	return nil
}

func (f *fakeStore) GetEarliestInbound(ctx context.Context, tenantID string, conversationID string) (models.Envelope, error) {
	for _, e := range f.envs {
		if e.ConversationID == conversationID {
			return e, nil
		}
	}
	return models.Envelope{}, fmt.Errorf("conversation %s not found", conversationID)
}

func (f *fakeStore) ListEarliestInbound(ctx context.Context, tenantID string, limit int, offset int) ([]models.Envelope, error) {
	if offset >= len(f.envs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.envs) {
		end = len(f.envs)
	}
	return f.envs[offset:end], nil
}

func (f *fakeStore) AppendCorrection(ctx context.Context, c models.Correction) error {
	f.corrections = append(f.corrections, c)
	return nil
}

func (f *fakeStore) AggregateCorrections(ctx context.Context, tenantID string, minCount int) ([]models.RuleCandidate, error) {
	type key struct{ domain, orig, next string }
	counts := map[key]int{}
	for _, c := range f.corrections {
		counts[key{c.SenderDomain, c.OriginalClass, c.NewClass}]++
	}
	var out []models.RuleCandidate
	for k, n := range counts {
		if n >= minCount {
			out = append(out, models.RuleCandidate{
				TenantID:      tenantID,
				SenderDomain:  k.domain,
				OriginalClass: k.orig,
				NewClass:      k.next,
				Count:         n,
			})
		}
	}
	return out, nil
}

func (f *fakeStore) FindRuleByPattern(ctx context.Context, tenantID string, pattern string) (*models.SenderRule, error) {
	for _, r := range f.rules {
		if strings.EqualFold(r.Pattern, pattern) {
			copied := r
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateRule(ctx context.Context, r models.SenderRule) (models.SenderRule, error) {
	f.rules = append(f.rules, r)
	return r, nil
}

func (f *fakeStore) ListBehaviorStats(ctx context.Context, tenantID string) ([]models.SenderBehaviorStat, error) {
	return f.stats, nil
}

func (f *fakeStore) CollectSenderActivity(ctx context.Context, tenantID string) ([]models.SenderBehaviorStat, error) {
	return f.activity, nil
}

func (f *fakeStore) ReplaceBehaviorStats(ctx context.Context, tenantID string, stats []models.SenderBehaviorStat) error {
	f.stats = stats
	return nil
}

func (f *fakeStore) ListTenants(ctx context.Context) ([]string, error) {
	return []string{"t1"}, nil
}

func (f *fakeStore) CreateRun(ctx context.Context, tenantID string, status string) (string, error) {
	f.runsCreated++
	return fmt.Sprintf("run-%d", f.runsCreated), nil
}

func (f *fakeStore) FinishRun(ctx context.Context, runID string, status string, summary []byte) error {
	f.runsDone++
	return nil
}

// scriptedClassifier returns a fixed result or error and counts calls.
type scriptedClassifier struct {
	result models.ClassificationResult
	err    error
	calls  int
}

func (s *scriptedClassifier) Classify(ctx context.Context, env models.Envelope, directives []string) (models.ClassificationResult, int64, error) {
	s.calls++
	if s.err != nil {
		return models.ClassificationResult{}, 0, s.err
	}
	return s.result, 1, nil
}
