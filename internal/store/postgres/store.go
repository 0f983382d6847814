// Package postgres implements store.Store on PostgreSQL through database/sql
// and the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/clock"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/store"
)

const uniqueViolation = "23505"

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a PostgreSQL backed store.Store.
type Store struct {
	*queries
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New creates a Store over db.
func New(db *sql.DB, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{queries: &queries{db: db, clock: clk}, db: db}
}

// WithTx runs fn inside a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&queries{db: tx, clock: s.clock}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type queries struct {
	db    dbtx
	clock clock.Clock
}

const conversationColumns = `id, tenant_id, session_id, customer_email, customer_name, customer_external_id,
	status, channel, priority, assigned_to_user_id, assigned_at, ai_enabled, system_prompt_id,
	first_response_time_seconds, resolution_time_seconds, satisfaction_score, metadata,
	last_message_at, created_at, updated_at`

func (q *queries) CreateConversation(ctx context.Context, c *model.Conversation) error {
	meta, err := marshalJSON(c.Metadata)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		c.ID, c.TenantID, c.SessionID, c.CustomerEmail, c.CustomerName, c.CustomerExternalID,
		string(c.Status), string(c.Channel), c.Priority, c.AssignedToUserID, c.AssignedAt, c.AIEnabled, c.SystemPromptID,
		c.FirstResponseTimeSeconds, c.ResolutionTimeSeconds, c.SatisfactionScore, meta,
		c.LastMessageAt, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("session %s already exists", c.SessionID)
	}
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (q *queries) GetConversation(ctx context.Context, tenantID, sessionID string) (*model.Conversation, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations WHERE tenant_id = $1 AND session_id = $2`, tenantID, sessionID)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("session %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (q *queries) UpdateConversation(ctx context.Context, c *model.Conversation) error {
	meta, err := marshalJSON(c.Metadata)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE conversations SET
			customer_name = $4, customer_external_id = $5, status = $6, priority = $7,
			assigned_to_user_id = $8, assigned_at = $9, ai_enabled = $10, system_prompt_id = $11,
			first_response_time_seconds = $12, resolution_time_seconds = $13, satisfaction_score = $14,
			metadata = $15, last_message_at = $16, updated_at = $17
		WHERE id = $1 AND tenant_id = $2 AND session_id = $3`,
		c.ID, c.TenantID, c.SessionID,
		c.CustomerName, c.CustomerExternalID, string(c.Status), c.Priority,
		c.AssignedToUserID, c.AssignedAt, c.AIEnabled, c.SystemPromptID,
		c.FirstResponseTimeSeconds, c.ResolutionTimeSeconds, c.SatisfactionScore,
		meta, c.LastMessageAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return expectRow(res, "conversation %s", c.ID)
}

func (q *queries) ListConversations(ctx context.Context, tenantID string, filter model.ConversationFilter) ([]model.Conversation, error) {
	filter = store.NormalizeFilter(filter)

	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	} else {
		where = append(where, "status <> 'archived'")
	}
	if filter.CustomerEmail != "" {
		args = append(args, filter.CustomerEmail)
		where = append(where, fmt.Sprintf("customer_email = $%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)

	query := fmt.Sprintf(`
		SELECT %s FROM conversations
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		conversationColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]model.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (q *queries) DeleteConversation(ctx context.Context, tenantID, conversationID string) error {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = $1 AND tenant_id = $2`, conversationID, tenantID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return expectRow(res, "conversation %s", conversationID)
}

const messageColumns = `id, conversation_id, tenant_id, seq, sender_type, sender_id, sender_name,
	content, content_type, ai_model, ai_confidence, ai_tools_used, metadata, processing_time_ms, created_at`

func (q *queries) AppendMessage(ctx context.Context, m *model.Message) error {
	meta, err := marshalJSON(m.Metadata)
	if err != nil {
		return err
	}
	var tools any
	if len(m.AIToolsUsed) > 0 {
		if tools, err = marshalJSON(m.AIToolsUsed); err != nil {
			return err
		}
	}
	// seq is derived under the per-conversation lock; the unique index on
	// (conversation_id, seq) rejects a concurrent writer that bypassed it.
	err = q.db.QueryRowContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		SELECT $1, c.id, c.tenant_id,
			COALESCE((SELECT MAX(seq) FROM messages WHERE conversation_id = c.id), 0) + 1,
			$4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		FROM conversations c
		WHERE c.id = $2 AND c.tenant_id = $3
		RETURNING seq`,
		m.ID, m.ConversationID, m.TenantID,
		string(m.SenderType), m.SenderID, m.SenderName, m.Content, string(m.ContentType),
		m.AIModel, m.AIConfidence, tools, meta, m.ProcessingTimeMs, m.CreatedAt,
	).Scan(&m.Sequence)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("conversation %s", m.ConversationID)
	}
	if isUniqueViolation(err) {
		return apperr.Conflict("concurrent append to conversation %s", m.ConversationID)
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (q *queries) ListMessages(ctx context.Context, tenantID, conversationID string) ([]model.Message, error) {
	if err := q.conversationExists(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages WHERE conversation_id = $1 AND tenant_id = $2
		ORDER BY seq`, conversationID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (q *queries) CountMessages(ctx context.Context, tenantID, conversationID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c WHERE c.id = $1 AND c.tenant_id = $2`,
		conversationID, tenantID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFound("conversation %s", conversationID)
	}
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

const actionColumns = `id, conversation_id, tenant_id, action_type, action_data, status, executed_by_ai,
	executed_by_user_id, result_data, error_message, executed_at, created_at, updated_at`

func (q *queries) CreateAction(ctx context.Context, a *model.SupportAction) error {
	data, err := marshalJSON(a.ActionData)
	if err != nil {
		return err
	}
	result, err := marshalJSON(a.ResultData)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO support_actions (`+actionColumns+`)
		SELECT $1, c.id, c.tenant_id, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		FROM conversations c
		WHERE c.id = $2 AND c.tenant_id = $3`,
		a.ID, a.ConversationID, a.TenantID, a.ActionType, data, string(a.Status), a.ExecutedByAI,
		a.ExecutedByUserID, result, a.ErrorMessage, a.ExecutedAt, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("action %s already exists", a.ID)
	}
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return expectRow(res, "conversation %s", a.ConversationID)
}

func (q *queries) UpdateAction(ctx context.Context, a *model.SupportAction) error {
	data, err := marshalJSON(a.ActionData)
	if err != nil {
		return err
	}
	result, err := marshalJSON(a.ResultData)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE support_actions SET
			action_data = $3, status = $4, executed_by_user_id = $5, result_data = $6,
			error_message = $7, executed_at = $8, updated_at = $9
		WHERE id = $1 AND tenant_id = $2
			AND status NOT IN ('completed', 'failed', 'cancelled')`,
		a.ID, a.TenantID, data, string(a.Status), a.ExecutedByUserID, result,
		a.ErrorMessage, a.ExecutedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = q.db.QueryRowContext(ctx,
		`SELECT status FROM support_actions WHERE id = $1 AND tenant_id = $2`, a.ID, a.TenantID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("action %s", a.ID)
	}
	if err != nil {
		return fmt.Errorf("get action status: %w", err)
	}
	return apperr.Conflict("action %s is %s", a.ID, status)
}

func (q *queries) GetAction(ctx context.Context, tenantID, actionID string) (*model.SupportAction, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+actionColumns+`
		FROM support_actions WHERE id = $1 AND tenant_id = $2`, actionID, tenantID)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("action %s", actionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

func (q *queries) ListActions(ctx context.Context, tenantID, conversationID string) ([]model.SupportAction, error) {
	if err := q.conversationExists(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM support_actions WHERE conversation_id = $1 AND tenant_id = $2
		ORDER BY created_at, id`, conversationID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	out := make([]model.SupportAction, 0)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (q *queries) LatestAction(ctx context.Context, tenantID, conversationID, actionType string) (*model.SupportAction, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+actionColumns+`
		FROM support_actions
		WHERE conversation_id = $1 AND tenant_id = $2 AND action_type = $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, conversationID, tenantID, actionType)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("%s action in conversation %s", actionType, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("latest action: %w", err)
	}
	return a, nil
}

const customerColumns = `id, tenant_id, email, name, external_id, phone, subscription_status,
	subscription_plan, total_spent, metadata, total_conversations, last_conversation_at, created_at, updated_at`

func (q *queries) UpsertCustomer(ctx context.Context, c *model.Customer) (*model.Customer, error) {
	meta, err := marshalJSON(c.Metadata)
	if err != nil {
		return nil, err
	}
	id := c.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	status := c.SubscriptionStatus
	if status == "" {
		status = model.SubscriptionUnknown
	}
	plan := c.SubscriptionPlan
	if plan == "" {
		plan = model.PlanNone
	}
	now := q.clock.Now()

	row := q.db.QueryRowContext(ctx, `
		INSERT INTO customers (id, tenant_id, email, name, external_id, phone,
			subscription_status, subscription_plan, total_spent, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		ON CONFLICT (tenant_id, email) DO UPDATE SET
			name = CASE WHEN customers.name = '' THEN EXCLUDED.name ELSE customers.name END,
			external_id = CASE WHEN customers.external_id = '' THEN EXCLUDED.external_id ELSE customers.external_id END
		RETURNING `+customerColumns,
		id, c.TenantID, c.Email, c.Name, c.ExternalID, c.Phone,
		status, plan, c.TotalSpent, meta, now,
	)
	out, err := scanCustomer(row)
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}
	return out, nil
}

func (q *queries) GetCustomer(ctx context.Context, tenantID, email string) (*model.Customer, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers WHERE tenant_id = $1 AND email = $2`, tenantID, email)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("customer %s", email)
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func (q *queries) UpdateCustomerSubscription(ctx context.Context, tenantID, email, status, plan string) (*model.Customer, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE customers SET
			subscription_status = COALESCE(NULLIF($3, ''), subscription_status),
			subscription_plan = COALESCE(NULLIF($4, ''), subscription_plan),
			updated_at = $5
		WHERE tenant_id = $1 AND email = $2
		RETURNING `+customerColumns, tenantID, email, status, plan, q.clock.Now())
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("customer %s", email)
	}
	if err != nil {
		return nil, fmt.Errorf("update customer subscription: %w", err)
	}
	return c, nil
}

func (q *queries) RecordCustomerConversation(ctx context.Context, tenantID, email string, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE customers SET
			total_conversations = total_conversations + 1,
			last_conversation_at = $3,
			updated_at = $3
		WHERE tenant_id = $1 AND email = $2`, tenantID, email, at)
	if err != nil {
		return fmt.Errorf("record customer conversation: %w", err)
	}
	return expectRow(res, "customer %s", email)
}

func (q *queries) ListCustomers(ctx context.Context, tenantID string, limit, offset int) ([]model.Customer, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	out := make([]model.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

const promptColumns = `id, tenant_id, name, content, description, department, is_active, is_default, created_at, updated_at`

func (q *queries) GetSystemPrompt(ctx context.Context, tenantID, promptID string) (*model.SystemPrompt, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+promptColumns+`
		FROM system_prompts WHERE id = $1 AND tenant_id = $2`, promptID, tenantID)
	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("system prompt %s", promptID)
	}
	if err != nil {
		return nil, fmt.Errorf("get system prompt: %w", err)
	}
	return p, nil
}

func (q *queries) GetDefaultSystemPrompt(ctx context.Context, tenantID string) (*model.SystemPrompt, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+promptColumns+`
		FROM system_prompts
		WHERE tenant_id = $1 AND is_default AND is_active
		ORDER BY updated_at DESC
		LIMIT 1`, tenantID)
	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("default system prompt for tenant %s", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("get default system prompt: %w", err)
	}
	return p, nil
}

func (q *queries) ListSystemPrompts(ctx context.Context, tenantID string) ([]model.SystemPrompt, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+promptColumns+`
		FROM system_prompts WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list system prompts: %w", err)
	}
	defer rows.Close()

	out := make([]model.SystemPrompt, 0)
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan system prompt: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (q *queries) CreateSystemPrompt(ctx context.Context, p *model.SystemPrompt) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO system_prompts (`+promptColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.TenantID, p.Name, p.Content, p.Description, p.Department,
		p.IsActive, p.IsDefault, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("system prompt %q already exists", p.Name)
	}
	if err != nil {
		return fmt.Errorf("insert system prompt: %w", err)
	}
	return nil
}

func (q *queries) UpdateSystemPrompt(ctx context.Context, p *model.SystemPrompt) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE system_prompts SET
			content = $3, description = $4, department = $5,
			is_active = $6, is_default = $7, updated_at = $8
		WHERE id = $1 AND tenant_id = $2`,
		p.ID, p.TenantID, p.Content, p.Description, p.Department,
		p.IsActive, p.IsDefault, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update system prompt: %w", err)
	}
	return expectRow(res, "system prompt %s", p.ID)
}

// DeleteSystemPrompt removes the prompt; bound conversations are unbound by
// the foreign key.
func (q *queries) DeleteSystemPrompt(ctx context.Context, tenantID, promptID string) error {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM system_prompts WHERE id = $1 AND tenant_id = $2`, promptID, tenantID)
	if err != nil {
		return fmt.Errorf("delete system prompt: %w", err)
	}
	return expectRow(res, "system prompt %s", promptID)
}

func (q *queries) Analytics(ctx context.Context, tenantID string, recent int) (*model.Analytics, error) {
	a := &model.Analytics{RecentConversations: []model.RecentConversation{}}

	if err := q.countConversations(ctx, tenantID, &a.Conversations); err != nil {
		return nil, err
	}

	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE sender_type = $2),
			COUNT(*) FILTER (WHERE sender_type = $3)
		FROM messages WHERE tenant_id = $1`,
		tenantID, string(model.SenderAI), string(model.SenderCustomer),
	).Scan(&a.Messages.Total, &a.Messages.AI, &a.Messages.Customer)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	err = q.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE action_type = $2),
			COUNT(*) FILTER (WHERE action_type LIKE $3)
		FROM support_actions WHERE tenant_id = $1`,
		tenantID, model.ActionTypeRefund, model.ActionTypeSubscriptionPrefix+"%",
	).Scan(&a.Actions.Total, &a.Actions.Refunds, &a.Actions.SubscriptionChanges)
	if err != nil {
		return nil, fmt.Errorf("count actions: %w", err)
	}

	recentRows, err := q.db.QueryContext(ctx, `
		SELECT c.id, c.session_id, c.customer_email, c.status, c.created_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		WHERE c.tenant_id = $1
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT $2`, tenantID, recent)
	if err != nil {
		return nil, fmt.Errorf("list recent conversations: %w", err)
	}
	defer recentRows.Close()
	for recentRows.Next() {
		var (
			rc     model.RecentConversation
			status string
		)
		if err := recentRows.Scan(&rc.ID, &rc.SessionID, &rc.CustomerEmail, &status, &rc.CreatedAt, &rc.MessageCount); err != nil {
			return nil, fmt.Errorf("scan recent conversation: %w", err)
		}
		rc.Status = model.Status(status)
		a.RecentConversations = append(a.RecentConversations, rc)
	}
	return a, recentRows.Err()
}

func (q *queries) countConversations(ctx context.Context, tenantID string, counts *model.ConversationCounts) error {
	rows, err := q.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM conversations
		WHERE tenant_id = $1
		GROUP BY status`, tenantID)
	if err != nil {
		return fmt.Errorf("count conversations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return fmt.Errorf("scan conversation count: %w", err)
		}
		counts.Total += n
		switch model.Status(status) {
		case model.StatusActive:
			counts.Active = n
		case model.StatusEscalated:
			counts.Escalated = n
		case model.StatusResolved:
			counts.Resolved = n
		case model.StatusArchived:
			counts.Archived = n
		}
	}
	return rows.Err()
}

func (q *queries) conversationExists(ctx context.Context, tenantID, conversationID string) error {
	var one int
	err := q.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = $1 AND tenant_id = $2`, conversationID, tenantID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("conversation %s", conversationID)
	}
	if err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}
	return nil
}

type scanner interface{ Scan(dest ...any) error }

func scanConversation(s scanner) (*model.Conversation, error) {
	var (
		c                                 model.Conversation
		status, channel                   string
		assignedTo, promptID              sql.NullString
		assignedAt, lastMessageAt         sql.NullTime
		firstResponse, resolution, rating sql.NullInt64
		meta                              []byte
	)
	err := s.Scan(
		&c.ID, &c.TenantID, &c.SessionID, &c.CustomerEmail, &c.CustomerName, &c.CustomerExternalID,
		&status, &channel, &c.Priority, &assignedTo, &assignedAt, &c.AIEnabled, &promptID,
		&firstResponse, &resolution, &rating, &meta,
		&lastMessageAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = model.Status(status)
	c.Channel = model.Channel(channel)
	c.AssignedToUserID = stringPtr(assignedTo)
	c.SystemPromptID = stringPtr(promptID)
	c.AssignedAt = timePtr(assignedAt)
	c.LastMessageAt = timePtr(lastMessageAt)
	c.FirstResponseTimeSeconds = intPtr(firstResponse)
	c.ResolutionTimeSeconds = intPtr(resolution)
	c.SatisfactionScore = intPtr(rating)
	if err := unmarshalJSON(meta, &c.Metadata); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanMessage(s scanner) (*model.Message, error) {
	var (
		m                    model.Message
		senderType, ctype    string
		aiModel              sql.NullString
		confidence, procTime sql.NullInt64
		tools, meta          []byte
	)
	err := s.Scan(
		&m.ID, &m.ConversationID, &m.TenantID, &m.Sequence, &senderType, &m.SenderID, &m.SenderName,
		&m.Content, &ctype, &aiModel, &confidence, &tools, &meta, &procTime, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.SenderType = model.SenderType(senderType)
	m.ContentType = model.ContentType(ctype)
	m.AIModel = stringPtr(aiModel)
	m.AIConfidence = intPtr(confidence)
	if procTime.Valid {
		v := procTime.Int64
		m.ProcessingTimeMs = &v
	}
	if err := unmarshalJSON(tools, &m.AIToolsUsed); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &m.Metadata); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanAction(s scanner) (*model.SupportAction, error) {
	var (
		a            model.SupportAction
		status       string
		userID       sql.NullString
		executedAt   sql.NullTime
		data, result []byte
	)
	err := s.Scan(
		&a.ID, &a.ConversationID, &a.TenantID, &a.ActionType, &data, &status, &a.ExecutedByAI,
		&userID, &result, &a.ErrorMessage, &executedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = model.ActionStatus(status)
	a.ExecutedByUserID = stringPtr(userID)
	a.ExecutedAt = timePtr(executedAt)
	if err := unmarshalJSON(data, &a.ActionData); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(result, &a.ResultData); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanCustomer(s scanner) (*model.Customer, error) {
	var (
		c        model.Customer
		meta     []byte
		lastConv sql.NullTime
	)
	err := s.Scan(
		&c.ID, &c.TenantID, &c.Email, &c.Name, &c.ExternalID, &c.Phone, &c.SubscriptionStatus,
		&c.SubscriptionPlan, &c.TotalSpent, &meta, &c.TotalConversations, &lastConv, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.LastConversationAt = timePtr(lastConv)
	if err := unmarshalJSON(meta, &c.Metadata); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanPrompt(s scanner) (*model.SystemPrompt, error) {
	var p model.SystemPrompt
	err := s.Scan(&p.ID, &p.TenantID, &p.Name, &p.Content, &p.Description, &p.Department,
		&p.IsActive, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func expectRow(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFound(format, args...)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// marshalJSON encodes v for a JSONB column; nil maps and slices become NULL.
func marshalJSON[T any](v T) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	if string(b) == "null" {
		return nil, nil
	}
	return string(b), nil
}

func unmarshalJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time.UTC()
	return &v
}
