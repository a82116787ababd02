package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/replyflow/backend/internal/config"
	"github.com/replyflow/backend/internal/db"
	"github.com/replyflow/backend/internal/http/handlers"
	"github.com/replyflow/backend/internal/http/middleware"
	"github.com/replyflow/backend/internal/service"

	_ "github.com/replyflow/backend/docs"
)

func Router(cfg config.Config, store *db.Store, triage *service.TriageService, retriage *service.RetriageService, learner *service.Learner, stats *service.StatsService, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:     store,
		Triage:    triage,
		Retriage:  retriage,
		Learner:   learner,
		Stats:     stats,
		Validator: validator.New(),
		Logger:    logger,
		AdminKey:  cfg.AdminKey,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/conversations", h.ConversationsList)
		api.GET("/rules", h.RulesList)
		api.GET("/rule-candidates", h.RuleCandidatesList)
		api.GET("/rule-suggestions", h.RuleSuggestions)
		api.GET("/behavior-stats", h.BehaviorStatsList)
		api.GET("/retriage/runs/latest", h.RetriageRunsLatest)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/messages", h.IngestMessage)
		admin.POST("/rules", h.RuleCreate)
		admin.PATCH("/rules/:id", h.RuleUpdate)
		admin.POST("/retriage", h.RetriageBatch)
		admin.POST("/conversations/:id/retriage", h.RetriageConversation)
		admin.POST("/conversations/:id/correct", h.CorrectDecision)
		admin.POST("/rule-candidates/accept", h.AcceptRuleCandidate)
		admin.POST("/behavior-stats/recompute", h.BehaviorStatsRecompute)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
