package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/replyflow/backend/internal/models"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- sender rules ---

const ruleColumns = `id, tenant_id, pattern, default_classification, default_requires_reply,
	override_keywords, override_classification, override_requires_reply, is_active, hit_count, created_at`

func scanRule(row pgx.Row) (models.SenderRule, error) {
	var r models.SenderRule
	err := row.Scan(&r.ID, &r.TenantID, &r.Pattern, &r.DefaultClass, &r.DefaultRequiresReply,
		&r.OverrideKeywords, &r.OverrideClass, &r.OverrideRequires, &r.IsActive, &r.HitCount, &r.CreatedAt)
	return r, err
}

// ListActiveRules returns the tenant's active rules in insertion order. The
// gatekeeper's first-match-wins contract depends on this ordering being
// deterministic.
func (s *Store) ListActiveRules(ctx context.Context, tenantID string) ([]models.SenderRule, error) {
	return s.listRules(ctx, tenantID, true)
}

func (s *Store) ListRules(ctx context.Context, tenantID string) ([]models.SenderRule, error) {
	return s.listRules(ctx, tenantID, false)
}

func (s *Store) listRules(ctx context.Context, tenantID string, activeOnly bool) ([]models.SenderRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM sender_rules WHERE tenant_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.Pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SenderRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) FindRuleByPattern(ctx context.Context, tenantID string, pattern string) (*models.SenderRule, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM sender_rules WHERE tenant_id = $1 AND lower(pattern) = lower($2)`, tenantID, pattern)
	r, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateRule(ctx context.Context, r models.SenderRule) (models.SenderRule, error) {
	keywords := r.OverrideKeywords
	if keywords == nil {
		keywords = []string{}
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO sender_rules (id, tenant_id, pattern, default_classification, default_requires_reply,
			override_keywords, override_classification, override_requires_reply, is_active, hit_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10)
		ON CONFLICT (tenant_id, lower(pattern)) DO NOTHING
		RETURNING `+ruleColumns,
		r.ID, r.TenantID, r.Pattern, r.DefaultClass, r.DefaultRequiresReply,
		keywords, r.OverrideClass, r.OverrideRequires, r.IsActive, r.CreatedAt)
	created, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict path: the rule already exists for this pattern.
			existing, ferr := s.FindRuleByPattern(ctx, r.TenantID, r.Pattern)
			if ferr != nil {
				return models.SenderRule{}, ferr
			}
			if existing != nil {
				return *existing, nil
			}
		}
		return models.SenderRule{}, err
	}
	return created, nil
}

func (s *Store) UpdateRule(ctx context.Context, r models.SenderRule) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE sender_rules SET
			pattern = $1,
			default_classification = $2,
			default_requires_reply = $3,
			override_keywords = $4,
			override_classification = $5,
			override_requires_reply = $6,
			is_active = $7
		WHERE id = $8 AND tenant_id = $9
	`, r.Pattern, r.DefaultClass, r.DefaultRequiresReply, r.OverrideKeywords,
		r.OverrideClass, r.OverrideRequires, r.IsActive, r.ID, r.TenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// IncrementRuleHit is a best-effort advisory counter, not a transactional one.
func (s *Store) IncrementRuleHit(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		return nil
	}
	_, err := s.Pool.Exec(ctx, `UPDATE sender_rules SET hit_count = hit_count + 1 WHERE id = $1`, ruleID)
	return err
}

// --- conversations and messages ---

// IngestMessage stores the conversation (if new) and the inbound message in
// one transaction.
func (s *Store) IngestMessage(ctx context.Context, env models.Envelope, messageID string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversations (id, tenant_id, subject, channel, created_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (id) DO NOTHING
		`, env.ConversationID, env.TenantID, env.Subject, env.Channel, env.ReceivedAt)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, tenant_id, direction, from_addr, to_addr, subject, body, channel, created_at)
			VALUES ($1,$2,$3,'inbound',$4,$5,$6,$7,$8,$9)
		`, messageID, env.ConversationID, env.TenantID, env.From, env.To, env.Subject, env.Body, env.Channel, env.ReceivedAt)
		return err
	})
}

func scanEnvelope(row pgx.Row) (models.Envelope, error) {
	var e models.Envelope
	err := row.Scan(&e.ConversationID, &e.TenantID, &e.From, &e.To, &e.Subject, &e.Body, &e.Channel, &e.ReceivedAt)
	return e, err
}

const earliestInboundSelect = `
	SELECT DISTINCT ON (m.conversation_id)
		m.conversation_id, m.tenant_id, m.from_addr, m.to_addr, m.subject, m.body, m.channel, m.created_at
	FROM messages m
	WHERE m.tenant_id = $1 AND m.direction = 'inbound'`

func (s *Store) GetEarliestInbound(ctx context.Context, tenantID string, conversationID string) (models.Envelope, error) {
	row := s.Pool.QueryRow(ctx, earliestInboundSelect+`
		AND m.conversation_id = $2
		ORDER BY m.conversation_id, m.created_at ASC
	`, tenantID, conversationID)
	e, err := scanEnvelope(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Envelope{}, fmt.Errorf("conversation %s has no inbound message", conversationID)
		}
		return models.Envelope{}, err
	}
	return e, nil
}

// ListEarliestInbound returns one envelope per conversation (the earliest
// inbound message), paged deterministically for batch retriage.
func (s *Store) ListEarliestInbound(ctx context.Context, tenantID string, limit int, offset int) ([]models.Envelope, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT conversation_id, tenant_id, from_addr, to_addr, subject, body, channel, created_at FROM (`+
		earliestInboundSelect+` ORDER BY m.conversation_id, m.created_at ASC
		) first_inbound
		ORDER BY created_at ASC, conversation_id ASC
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Envelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListConversations(ctx context.Context, tenantID, bucket, classification, q string, limit, offset int) ([]map[string]any, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT c.id, c.subject, c.channel, c.created_at,
		d.classification, d.decision_bucket, d.confidence, d.requires_reply, d.why_this_needs_you, d.risk_level, d.needs_human_review, d.source, d.decided_at
		FROM conversations c
		LEFT JOIN triage_decisions d ON d.conversation_id = c.id`
	args := []any{tenantID}
	wheres := []string{"c.tenant_id = $1"}
	if bucket != "" {
		args = append(args, bucket)
		wheres = append(wheres, fmt.Sprintf("d.decision_bucket = $%d", len(args)))
	}
	if classification != "" {
		args = append(args, classification)
		wheres = append(wheres, fmt.Sprintf("d.classification = $%d", len(args)))
	}
	if q != "" {
		args = append(args, "%"+q+"%")
		wheres = append(wheres, fmt.Sprintf("(c.subject ILIKE $%d OR c.id ILIKE $%d)", len(args), len(args)))
	}
	query += " WHERE " + strings.Join(wheres, " AND ")
	query += " ORDER BY c.created_at DESC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			id, subject, channel string
			createdAt            time.Time
			class, bucketVal     *string
			confidence           *float64
			requiresReply        *bool
			why, risk, source    *string
			needsReview          *bool
			decidedAt            *time.Time
		)
		if err := rows.Scan(&id, &subject, &channel, &createdAt,
			&class, &bucketVal, &confidence, &requiresReply, &why, &risk, &needsReview, &source, &decidedAt); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{
			"id":                 id,
			"subject":            subject,
			"channel":            channel,
			"created_at":         createdAt,
			"classification":     class,
			"decision_bucket":    bucketVal,
			"confidence":         confidence,
			"requires_reply":     requiresReply,
			"why_this_needs_you": why,
			"risk_level":         risk,
			"needs_human_review": needsReview,
			"source":             source,
			"decided_at":         decidedAt,
		})
	}
	return out, rows.Err()
}

// --- triage decisions ---

func (s *Store) GetDecision(ctx context.Context, conversationID string) (*models.TriageDecision, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT conversation_id, classification, decision_bucket, confidence, requires_reply,
			why_this_needs_you, risk_level, needs_human_review, source, decided_at
		FROM triage_decisions WHERE conversation_id = $1
	`, conversationID)
	var d models.TriageDecision
	err := row.Scan(&d.ConversationID, &d.Classification, &d.Bucket, &d.Confidence, &d.RequiresReply,
		&d.WhyThisNeedsYou, &d.RiskLevel, &d.NeedsHumanReview, &d.Source, &d.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) UpsertDecision(ctx context.Context, d models.TriageDecision) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO triage_decisions (conversation_id, classification, decision_bucket, confidence, requires_reply,
			why_this_needs_you, risk_level, needs_human_review, source, decided_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (conversation_id) DO UPDATE SET
			classification = EXCLUDED.classification,
			decision_bucket = EXCLUDED.decision_bucket,
			confidence = EXCLUDED.confidence,
			requires_reply = EXCLUDED.requires_reply,
			why_this_needs_you = EXCLUDED.why_this_needs_you,
			risk_level = EXCLUDED.risk_level,
			needs_human_review = EXCLUDED.needs_human_review,
			source = EXCLUDED.source,
			decided_at = EXCLUDED.decided_at
	`, d.ConversationID, d.Classification, d.Bucket, d.Confidence, d.RequiresReply,
		d.WhyThisNeedsYou, d.RiskLevel, d.NeedsHumanReview, d.Source, d.DecidedAt)
	return err
}

// --- corrections ---

func (s *Store) AppendCorrection(ctx context.Context, c models.Correction) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO corrections (id, tenant_id, conversation_id, sender_domain, original_classification, new_classification, corrected_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, c.ID, c.TenantID, c.ConversationID, c.SenderDomain, c.OriginalClass, c.NewClass, c.CorrectedAt)
	return err
}

func (s *Store) AggregateCorrections(ctx context.Context, tenantID string, minCount int) ([]models.RuleCandidate, error) {
	if minCount < 1 {
		minCount = 1
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT sender_domain, original_classification, new_classification, COUNT(*) AS cnt
		FROM corrections
		WHERE tenant_id = $1 AND sender_domain <> ''
		GROUP BY sender_domain, original_classification, new_classification
		HAVING COUNT(*) >= $2
		ORDER BY cnt DESC, sender_domain ASC
	`, tenantID, minCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RuleCandidate
	for rows.Next() {
		c := models.RuleCandidate{TenantID: tenantID}
		if err := rows.Scan(&c.SenderDomain, &c.OriginalClass, &c.NewClass, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- sender behavior stats ---

// CollectSenderActivity aggregates raw per-domain history: message volume,
// how often a human replied, and how fast. Derived scores are computed by the
// stats service.
func (s *Store) CollectSenderActivity(ctx context.Context, tenantID string) ([]models.SenderBehaviorStat, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT
			split_part(m.from_addr, '@', 2) AS sender_domain,
			COUNT(*) AS total_messages,
			COUNT(r.id) AS replied_count,
			COALESCE(AVG(EXTRACT(EPOCH FROM (r.created_at - m.created_at)) / 60), 0) AS avg_response_minutes
		FROM messages m
		LEFT JOIN LATERAL (
			SELECT o.id, o.created_at
			FROM messages o
			WHERE o.conversation_id = m.conversation_id
				AND o.direction = 'outbound'
				AND o.created_at > m.created_at
			ORDER BY o.created_at ASC
			LIMIT 1
		) r ON true
		WHERE m.tenant_id = $1 AND m.direction = 'inbound' AND position('@' in m.from_addr) > 0
		GROUP BY split_part(m.from_addr, '@', 2)
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SenderBehaviorStat
	for rows.Next() {
		var st models.SenderBehaviorStat
		if err := rows.Scan(&st.SenderDomain, &st.TotalMessages, &st.RepliedCount, &st.AvgResponseMinutes); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ReplaceBehaviorStats swaps the tenant's stat rows wholesale.
func (s *Store) ReplaceBehaviorStats(ctx context.Context, tenantID string, stats []models.SenderBehaviorStat) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM sender_behavior_stats WHERE tenant_id = $1`, tenantID); err != nil {
			return err
		}
		for _, st := range stats {
			_, err := tx.Exec(ctx, `
				INSERT INTO sender_behavior_stats (tenant_id, sender_domain, total_messages, replied_count,
					reply_rate, avg_response_time_minutes, vip_score, suggested_bucket, computed_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, st.TenantID, st.SenderDomain, st.TotalMessages, st.RepliedCount,
				st.ReplyRate, st.AvgResponseMinutes, st.VIPScore, st.SuggestedBucket, st.ComputedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListBehaviorStats(ctx context.Context, tenantID string) ([]models.SenderBehaviorStat, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT tenant_id, sender_domain, total_messages, replied_count, reply_rate,
			avg_response_time_minutes, vip_score, suggested_bucket, computed_at
		FROM sender_behavior_stats
		WHERE tenant_id = $1
		ORDER BY vip_score DESC, sender_domain ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SenderBehaviorStat
	for rows.Next() {
		var st models.SenderBehaviorStat
		if err := rows.Scan(&st.TenantID, &st.SenderDomain, &st.TotalMessages, &st.RepliedCount,
			&st.ReplyRate, &st.AvgResponseMinutes, &st.VIPScore, &st.SuggestedBucket, &st.ComputedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT DISTINCT tenant_id FROM conversations ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- retriage runs ---

func (s *Store) CreateRun(ctx context.Context, tenantID string, status string) (string, error) {
	var id string
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO retriage_runs (tenant_id, status, started_at) VALUES ($1, $2, NOW()) RETURNING id
	`, tenantID, status).Scan(&id)
	return id, err
}

func (s *Store) FinishRun(ctx context.Context, runID string, status string, summary []byte) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE retriage_runs SET status = $1, summary = $2, finished_at = NOW() WHERE id = $3
	`, status, summary, runID)
	return err
}

func (s *Store) GetLatestRun(ctx context.Context, tenantID string) (*models.RetriageRun, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, tenant_id, started_at, finished_at, status, summary
		FROM retriage_runs WHERE tenant_id = $1
		ORDER BY started_at DESC LIMIT 1
	`, tenantID)
	var r models.RetriageRun
	if err := row.Scan(&r.ID, &r.TenantID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Summary); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}
