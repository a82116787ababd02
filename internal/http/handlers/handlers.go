package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/replyflow/backend/internal/db"
	"github.com/replyflow/backend/internal/models"
	"github.com/replyflow/backend/internal/service"
)

type Handler struct {
	Store     *db.Store
	Triage    *service.TriageService
	Retriage  *service.RetriageService
	Learner   *service.Learner
	Stats     *service.StatsService
	Validator *validator.Validate
	Logger    zerolog.Logger
	AdminKey  string
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- ingest ---

type ingestRequest struct {
	TenantID       string `json:"tenant_id" validate:"required"`
	ConversationID string `json:"conversation_id"`
	From           string `json:"from" validate:"required"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body" validate:"required"`
	Channel        string `json:"channel" validate:"required,oneof=email sms chat"`
}

// @Summary Ingest an inbound message
// @Description Stores the message and runs the triage pipeline over it
// @Tags triage
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/messages [post]
func (h *Handler) IngestMessage(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Validation failed", err.Error())
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	ctx := c.Request.Context()
	env := models.Envelope{
		ConversationID: req.ConversationID,
		TenantID:       req.TenantID,
		From:           req.From,
		To:             req.To,
		Subject:        req.Subject,
		Body:           req.Body,
		Channel:        req.Channel,
		ReceivedAt:     time.Now().UTC(),
	}
	if err := h.Store.IngestMessage(ctx, env, uuid.NewString()); err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to store message", err.Error())
		return
	}

	ruleSet, err := h.Store.ListActiveRules(ctx, req.TenantID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load rules", err.Error())
		return
	}
	outcome, _ := h.Triage.TriageOne(ctx, env, ruleSet, false)
	if err := h.Store.UpsertDecision(ctx, outcome.Decision); err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to store decision", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": req.ConversationID,
		"decision":        outcome.Decision,
	})
}

// --- conversations ---

// @Summary List conversations with their triage decisions
// @Tags conversations
// @Produce json
// @Success 200 {array} map[string]any
// @Router /api/conversations [get]
func (h *Handler) ConversationsList(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "tenant_id is required", nil)
		return
	}
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	items, err := h.Store.ListConversations(c.Request.Context(), tenantID,
		c.Query("bucket"), c.Query("classification"), c.Query("q"), limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list conversations", err.Error())
		return
	}
	if items == nil {
		items = []map[string]any{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

// --- single re-triage ---

// @Summary Re-triage one conversation
// @Tags triage
// @Produce json
// @Success 200 {object} service.SingleResult
// @Router /api/conversations/{id}/retriage [post]
func (h *Handler) RetriageConversation(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "tenant_id is required", nil)
		return
	}
	result, err := h.Triage.TriageConversation(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "TRIAGE_FAILED", "Re-triage failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

// --- batch retriage ---

type retriageRequest struct {
	TenantID            string  `json:"tenant_id" validate:"required"`
	Limit               int     `json:"limit"`
	Offset              int     `json:"offset"`
	DryRun              bool    `json:"dry_run"`
	SkipAI              bool    `json:"skip_ai"`
	ConfidenceThreshold float64 `json:"confidence_threshold" validate:"gte=0,lte=1"`
}

// @Summary Batch re-triage a page of conversations
// @Description Re-runs the triage pipeline; dry_run reports without writing, skip_ai uses gatekeeper rules only
// @Tags triage
// @Accept json
// @Produce json
// @Success 200 {object} service.RetriageSummary
// @Failure 400 {object} map[string]any
// @Router /api/retriage [post]
func (h *Handler) RetriageBatch(c *gin.Context) {
	var req retriageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Validation failed", err.Error())
		return
	}

	summary, err := h.Retriage.Run(c.Request.Context(), service.RetriageParams{
		TenantID:            req.TenantID,
		Limit:               req.Limit,
		Offset:              req.Offset,
		DryRun:              req.DryRun,
		SkipAI:              req.SkipAI,
		ConfidenceThreshold: req.ConfidenceThreshold,
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, "RETRIAGE_FAILED", "Batch retriage failed", err.Error())
		return
	}
	if summary.Results == nil {
		summary.Results = []service.RetriageChange{}
	}
	c.JSON(http.StatusOK, summary)
}

// @Summary Latest batch retriage run
// @Tags triage
// @Produce json
// @Success 200 {object} models.RetriageRun
// @Router /api/retriage/runs/latest [get]
func (h *Handler) RetriageRunsLatest(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "tenant_id is required", nil)
		return
	}
	run, err := h.Store.GetLatestRun(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load run", err.Error())
		return
	}
	if run == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "No retriage runs yet", nil)
		return
	}
	c.JSON(http.StatusOK, run)
}

// --- corrections & learning ---

type correctionRequest struct {
	TenantID          string `json:"tenant_id" validate:"required"`
	SenderAddress     string `json:"sender_address" validate:"required"`
	NewClassification string `json:"new_classification" validate:"required"`
}

// @Summary Correct a conversation's classification
// @Description Overrides the stored decision and appends to the correction ledger
// @Tags learning
// @Accept json
// @Produce json
// @Success 200 {object} models.Correction
// @Failure 400 {object} map[string]any
// @Router /api/conversations/{id}/correct [post]
func (h *Handler) CorrectDecision(c *gin.Context) {
	var req correctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Validation failed", err.Error())
		return
	}
	correction, err := h.Learner.RecordCorrection(c.Request.Context(),
		req.TenantID, c.Param("id"), req.SenderAddress, req.NewClassification)
	if err != nil {
		writeError(c, http.StatusBadRequest, "CORRECTION_FAILED", "Could not record correction", err.Error())
		return
	}
	c.JSON(http.StatusOK, correction)
}

// @Summary List rule candidates learned from corrections
// @Tags learning
// @Produce json
// @Success 200 {array} models.RuleCandidate
// @Router /api/rule-candidates [get]
func (h *Handler) RuleCandidatesList(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "tenant_id is required", nil)
		return
	}
	cands, err := h.Learner.Candidates(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to aggregate corrections", err.Error())
		return
	}
	if cands == nil {
		cands = []models.RuleCandidate{}
	}
	c.JSON(http.StatusOK, gin.H{"candidates": cands})
}

type acceptCandidateRequest struct {
	TenantID          string `json:"tenant_id" validate:"required"`
	SenderDomain      string `json:"sender_domain" validate:"required"`
	NewClassification string `json:"new_classification" validate:"required"`
}

// @Summary Accept a rule candidate into a sender rule
// @Tags learning
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/rule-candidates/accept [post]
func (h *Handler) AcceptRuleCandidate(c *gin.Context) {
	var req acceptCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Validation failed", err.Error())
		return
	}
	rule, created, err := h.Learner.AcceptCandidate(c.Request.Context(), req.TenantID, models.RuleCandidate{
		TenantID:     req.TenantID,
		SenderDomain: req.SenderDomain,
		NewClass:     req.NewClassification,
	})
	if err != nil {
		writeError(c, http.StatusBadRequest, "ACCEPT_FAILED", "Could not accept candidate", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule, "created": created})
}

// @Summary Rule suggestions from sender behavior stats
// @Tags learning
// @Produce json
// @Success 200 {array} service.RuleSuggestion
// @Router /api/rule-suggestions [get]
func (h *Handler) RuleSuggestions(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "tenant_id is required", nil)
		return
	}
	suggestions, err := h.Learner.Suggestions(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to compute suggestions", err.Error())
		return
	}
	if suggestions == nil {
		suggestions = []service.RuleSuggestion{}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

// --- sender rules CRUD ---

type ruleRequest struct {
	TenantID             string   `json:"tenant_id" validate:"required"`
	Pattern              string   `json:"pattern" validate:"required,min=2"`
	DefaultClass         string   `json:"default_classification" validate:"required"`
	DefaultRequiresReply bool     `json:"default_requires_reply"`
	OverrideKeywords     []string `json:"override_keywords"`
	OverrideClass        *string  `json:"override_classification"`
	OverrideRequires     *bool    `json:"override_requires_reply"`
	IsActive             *bool    `json:"is_active"`
}

// @Summary List sender rules
// @Tags rules
// @Produce json
// @Success 200 {array} models.SenderRule
// @Router /api/rules [get]
func (h *Handler) RulesList(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "tenant_id is required", nil)
		return
	}
	ruleSet, err := h.Store.ListRules(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list rules", err.Error())
		return
	}
	if ruleSet == nil {
		ruleSet = []models.SenderRule{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": ruleSet})
}

// @Summary Create a sender rule
// @Tags rules
// @Accept json
// @Produce json
// @Success 201 {object} models.SenderRule
// @Failure 400 {object} map[string]any
// @Router /api/rules [post]
func (h *Handler) RuleCreate(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Validation failed", err.Error())
		return
	}
	if !models.ValidClassification(req.DefaultClass) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Unknown default_classification", req.DefaultClass)
		return
	}
	if req.OverrideClass != nil && !models.ValidClassification(*req.OverrideClass) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Unknown override_classification", *req.OverrideClass)
		return
	}

	rule := models.SenderRule{
		ID:                   uuid.NewString(),
		TenantID:             req.TenantID,
		Pattern:              strings.ToLower(strings.TrimSpace(req.Pattern)),
		DefaultClass:         req.DefaultClass,
		DefaultRequiresReply: req.DefaultRequiresReply,
		OverrideKeywords:     req.OverrideKeywords,
		OverrideClass:        req.OverrideClass,
		OverrideRequires:     req.OverrideRequires,
		IsActive:             true,
		CreatedAt:            time.Now().UTC(),
	}
	created, err := h.Store.CreateRule(c.Request.Context(), rule)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create rule", err.Error())
		return
	}
	c.JSON(http.StatusCreated, created)
}

// @Summary Update a sender rule
// @Description Rules are soft-disabled via is_active, never deleted
// @Tags rules
// @Accept json
// @Produce json
// @Success 200 {object} models.SenderRule
// @Failure 404 {object} map[string]any
// @Router /api/rules/{id} [patch]
func (h *Handler) RuleUpdate(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Validation failed", err.Error())
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	rule := models.SenderRule{
		ID:                   c.Param("id"),
		TenantID:             req.TenantID,
		Pattern:              strings.ToLower(strings.TrimSpace(req.Pattern)),
		DefaultClass:         req.DefaultClass,
		DefaultRequiresReply: req.DefaultRequiresReply,
		OverrideKeywords:     req.OverrideKeywords,
		OverrideClass:        req.OverrideClass,
		OverrideRequires:     req.OverrideRequires,
		IsActive:             isActive,
	}
	if err := h.Store.UpdateRule(c.Request.Context(), rule); err != nil {
		if err == pgx.ErrNoRows {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Rule not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to update rule", err.Error())
		return
	}
	c.JSON(http.StatusOK, rule)
}

// --- behavior stats ---

// @Summary Sender behavior stats
// @Tags stats
// @Produce json
// @Success 200 {array} models.SenderBehaviorStat
// @Router /api/behavior-stats [get]
func (h *Handler) BehaviorStatsList(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "tenant_id is required", nil)
		return
	}
	stats, err := h.Store.ListBehaviorStats(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list behavior stats", err.Error())
		return
	}
	if stats == nil {
		stats = []models.SenderBehaviorStat{}
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// @Summary Recompute sender behavior stats for a tenant
// @Tags stats
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/behavior-stats/recompute [post]
func (h *Handler) BehaviorStatsRecompute(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "tenant_id is required", nil)
		return
	}
	n, err := h.Stats.Recompute(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "STATS_FAILED", "Recompute failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"domains": n})
}

// --- helpers ---

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
