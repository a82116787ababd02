package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/replyflow/backend/internal/ai"
	"github.com/replyflow/backend/internal/config"
	"github.com/replyflow/backend/internal/db"
	httpapi "github.com/replyflow/backend/internal/http"
	"github.com/replyflow/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "triage-backend").Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	classifier := selectClassifier(cfg, logger)

	thresholds := service.Thresholds{High: cfg.ConfidenceHigh, Low: cfg.ConfidenceLow}
	triage := &service.TriageService{
		Store:           store,
		Classifier:      classifier,
		Logger:          logger,
		Thresholds:      thresholds,
		ClassifyTimeout: cfg.ClassifyTimeout,
	}
	retriage := &service.RetriageService{
		Triage: triage,
		Runs:   store,
		Logger: logger,
		Delay:  cfg.RetriageDelay,
	}
	learner := &service.Learner{
		Store:               store,
		Logger:              logger,
		Thresholds:          thresholds,
		RepetitionThreshold: cfg.RepetitionThreshold,
		AutoApply:           cfg.RuleAutoApply,
	}
	stats := &service.StatsService{Store: store, Logger: logger}

	scheduler := startScheduler(cfg, store, retriage, stats, logger)
	if scheduler != nil {
		defer scheduler.Stop()
	}

	router := httpapi.Router(cfg, store, triage, retriage, learner, stats, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}

func selectClassifier(cfg config.Config, logger zerolog.Logger) ai.Classifier {
	switch {
	case cfg.ClassifierProvider == "anthropic" && cfg.AnthropicAPIKey != "":
		logger.Info().Str("model", cfg.AnthropicModel).Msg("using anthropic classifier")
		return ai.AnthropicAdapter{APIKey: cfg.AnthropicAPIKey, Model: cfg.AnthropicModel}
	case cfg.ClassifierURL != "":
		logger.Info().Str("url", cfg.ClassifierURL).Msg("using http classifier")
		return ai.HTTPAdapter{BaseURL: cfg.ClassifierURL}
	default:
		logger.Info().Msg("using mock classifier")
		return ai.MockAdapter{ModelVersion: "mock-v1"}
	}
}

// startScheduler wires the periodic jobs: behavior-stats recompute and the
// optional rules-only retriage sweep. An empty schedule disables a job.
func startScheduler(cfg config.Config, store *db.Store, retriage *service.RetriageService, stats *service.StatsService, logger zerolog.Logger) *cron.Cron {
	if cfg.StatsCron == "" && cfg.RetriageCron == "" {
		return nil
	}
	c := cron.New()

	if cfg.StatsCron != "" {
		if _, err := c.AddFunc(cfg.StatsCron, func() {
			stats.RecomputeAll(context.Background())
		}); err != nil {
			logger.Error().Err(err).Str("cron", cfg.StatsCron).Msg("invalid stats schedule")
		}
	}

	if cfg.RetriageCron != "" {
		if _, err := c.AddFunc(cfg.RetriageCron, func() {
			ctx := context.Background()
			tenants, err := store.ListTenants(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("tenant list failed, retriage sweep aborted")
				return
			}
			for _, tenant := range tenants {
				summary, err := retriage.Run(ctx, service.RetriageParams{
					TenantID: tenant,
					Limit:    500,
					SkipAI:   true,
				})
				if err != nil {
					logger.Error().Err(err).Str("tenant_id", tenant).Msg("retriage sweep failed")
					continue
				}
				logger.Info().
					Str("tenant_id", tenant).
					Int("processed", summary.Processed).
					Int("changed", summary.Changed).
					Msg("retriage sweep done")
			}
		}); err != nil {
			logger.Error().Err(err).Str("cron", cfg.RetriageCron).Msg("invalid retriage schedule")
		}
	}

	c.Start()
	return c
}
