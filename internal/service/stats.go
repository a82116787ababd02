package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/replyflow/backend/internal/models"
)

type StatsStore interface {
	// CollectSenderActivity returns per-domain message totals, reply counts
	// and average response time; derived fields are filled in here.
	CollectSenderActivity(ctx context.Context, tenantID string) ([]models.SenderBehaviorStat, error)
	ReplaceBehaviorStats(ctx context.Context, tenantID string, stats []models.SenderBehaviorStat) error
	ListTenants(ctx context.Context) ([]string, error)
}

// StatsService recomputes sender behavior stats wholesale per tenant. Rows
// are replaced, never incrementally updated.
type StatsService struct {
	Store  StatsStore
	Logger zerolog.Logger
}

func (s *StatsService) Recompute(ctx context.Context, tenantID string) (int, error) {
	raw, err := s.Store.CollectSenderActivity(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	stats := make([]models.SenderBehaviorStat, 0, len(raw))
	for _, st := range raw {
		st.TenantID = tenantID
		st.ComputedAt = now
		stats = append(stats, scoreStat(st))
	}
	if err := s.Store.ReplaceBehaviorStats(ctx, tenantID, stats); err != nil {
		return 0, err
	}
	return len(stats), nil
}

func (s *StatsService) RecomputeAll(ctx context.Context) {
	tenants, err := s.Store.ListTenants(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("tenant list failed, stats run aborted")
		return
	}
	for _, tenant := range tenants {
		n, err := s.Recompute(ctx, tenant)
		if err != nil {
			s.Logger.Error().Err(err).Str("tenant_id", tenant).Msg("behavior stats recompute failed")
			continue
		}
		s.Logger.Info().Str("tenant_id", tenant).Int("domains", n).Msg("behavior stats recomputed")
	}
}

// scoreStat fills the derived fields: reply rate, VIP score and the bucket
// this domain's history suggests.
func scoreStat(st models.SenderBehaviorStat) models.SenderBehaviorStat {
	if st.TotalMessages > 0 {
		st.ReplyRate = float64(st.RepliedCount) / float64(st.TotalMessages)
	}
	volume := float64(st.TotalMessages) / 50
	if volume > 1 {
		volume = 1
	}
	st.VIPScore = st.ReplyRate*0.7 + volume*0.3

	switch {
	case st.TotalMessages >= 10 && st.ReplyRate < 0.05:
		st.SuggestedBucket = models.BucketAutoHandled
	case st.VIPScore >= 0.75:
		st.SuggestedBucket = models.BucketActNow
	case st.ReplyRate >= 0.5:
		st.SuggestedBucket = models.BucketQuickWin
	default:
		st.SuggestedBucket = models.BucketWait
	}
	return st
}
