package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/replyflow/backend/internal/models"
)

const (
	RunStatusRunning = "RUNNING"
	RunStatusDone    = "DONE"
	RunStatusStopped = "STOPPED"
)

// RunStore records batch run summaries.
type RunStore interface {
	CreateRun(ctx context.Context, tenantID string, status string) (string, error)
	FinishRun(ctx context.Context, runID string, status string, summary []byte) error
}

type RetriageParams struct {
	TenantID string `json:"tenant_id"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
	DryRun   bool   `json:"dry_run"`
	// SkipAI restricts the pass to gatekeeper rules only; unmatched
	// conversations are left untouched.
	SkipAI bool `json:"skip_ai"`
	// ConfidenceThreshold overrides the tenant low threshold when > 0.
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

type RetriageChange struct {
	ConversationID string                 `json:"conversation_id"`
	Original       *models.TriageDecision `json:"original"`
	New            models.TriageDecision  `json:"new"`
	Applied        bool                   `json:"applied"`
	WriteError     string                 `json:"write_error,omitempty"`
}

type RetriageSummary struct {
	RunID     string           `json:"run_id,omitempty"`
	Processed int              `json:"processed"`
	Changed   int              `json:"changed"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	DryRun    bool             `json:"dry_run"`
	Results   []RetriageChange `json:"results"`
	Counts    map[string]any   `json:"counts"`
}

// RetriageService re-runs the triage pipeline over a bounded page of stored
// conversations. It is the only bulk caller of the classifier, so the
// inter-call delay lives here.
type RetriageService struct {
	Triage *TriageService
	Runs   RunStore
	Logger zerolog.Logger
	// Delay between classifier calls; rate limiting for bulk passes.
	Delay time.Duration
}

// Run processes one page sequentially. Writes are applied at the end; a
// failing row is logged and reported without aborting the rest. Cancellation
// is honored between items, never mid-item.
func (s *RetriageService) Run(ctx context.Context, p RetriageParams) (RetriageSummary, error) {
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	triage := *s.Triage
	if p.ConfidenceThreshold > 0 {
		triage.Thresholds.Low = p.ConfidenceThreshold
	}

	summary := RetriageSummary{DryRun: p.DryRun, Counts: map[string]any{}}
	start := time.Now()

	if s.Runs != nil {
		runID, err := s.Runs.CreateRun(ctx, p.TenantID, RunStatusRunning)
		if err != nil {
			s.Logger.Warn().Err(err).Msg("retriage run record failed")
		} else {
			summary.RunID = runID
		}
	}

	ruleSet, err := triage.Store.ListActiveRules(ctx, p.TenantID)
	if err != nil {
		s.finishRun(ctx, summary.RunID, RunStatusStopped, summary)
		return summary, err
	}
	envs, err := triage.Store.ListEarliestInbound(ctx, p.TenantID, p.Limit, p.Offset)
	if err != nil {
		s.finishRun(ctx, summary.RunID, RunStatusStopped, summary)
		return summary, err
	}

	var classifierCalls int
	status := RunStatusDone
	var pending []RetriageChange

	for i, env := range envs {
		if ctx.Err() != nil {
			status = RunStatusStopped
			break
		}
		if i > 0 && s.Delay > 0 && classifierCalls > 0 {
			time.Sleep(s.Delay)
		}

		outcome, decided := triage.TriageOne(ctx, env, ruleSet, p.SkipAI)
		if !decided {
			summary.Skipped++
			continue
		}
		summary.Processed++
		if outcome.ClassifierCalled {
			classifierCalls++
		}

		original, err := triage.Store.GetDecision(ctx, env.ConversationID)
		if err != nil {
			s.Logger.Warn().Err(err).Str("conversation_id", env.ConversationID).Msg("decision read failed")
			summary.Failed++
			continue
		}
		if !decisionChanged(original, outcome.Decision) {
			continue
		}
		pending = append(pending, RetriageChange{
			ConversationID: env.ConversationID,
			Original:       original,
			New:            outcome.Decision,
		})
	}

	// Apply as a batch at the end; dry runs report the diff and write nothing.
	for i := range pending {
		if p.DryRun {
			summary.Changed++
			continue
		}
		if err := triage.Store.UpsertDecision(ctx, pending[i].New); err != nil {
			s.Logger.Error().Err(err).
				Str("conversation_id", pending[i].ConversationID).
				Msg("decision write failed, continuing")
			pending[i].WriteError = err.Error()
			summary.Failed++
			continue
		}
		pending[i].Applied = true
		summary.Changed++
	}
	summary.Results = pending

	summary.Counts["conversations_seen"] = len(envs)
	summary.Counts["classifier_calls"] = classifierCalls
	summary.Counts["elapsed_ms"] = time.Since(start).Milliseconds()

	s.finishRun(ctx, summary.RunID, status, summary)
	return summary, nil
}

func (s *RetriageService) finishRun(ctx context.Context, runID string, status string, summary RetriageSummary) {
	if s.Runs == nil || runID == "" {
		return
	}
	b, _ := json.Marshal(summary)
	if err := s.Runs.FinishRun(ctx, runID, status, b); err != nil {
		s.Logger.Warn().Err(err).Str("run_id", runID).Msg("retriage run finish failed")
	}
}
