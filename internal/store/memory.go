package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/model"
)

type customerKey struct {
	tenantID string
	email    string
}

// memoryData owns every row. Messages and actions live in per-conversation
// arenas so deleting a conversation drops everything it owns.
type memoryData struct {
	conversations map[string]*model.Conversation
	sessions      map[string]string
	messages      map[string][]model.Message
	actions       map[string][]*model.SupportAction
	actionOwner   map[string]string
	customers     map[customerKey]*model.Customer
	prompts       map[string]*model.SystemPrompt
}

// MemoryStore is a threadsafe in-memory Store for tests and single-process
// development. Transactions hold the store mutex and are undone on error.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memoryData{
			conversations: make(map[string]*model.Conversation),
			sessions:      make(map[string]string),
			messages:      make(map[string][]model.Message),
			actions:       make(map[string][]*model.SupportAction),
			actionOwner:   make(map[string]string),
			customers:     make(map[customerKey]*model.Customer),
			prompts:       make(map[string]*model.SystemPrompt),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithTx runs fn while holding the store lock and rolls back its writes on error.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryQueries{data: s.data, now: s.now, tracking: true}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// PutSystemPrompt stores a system prompt, assigning an ID when empty.
func (s *MemoryStore) PutSystemPrompt(p *model.SystemPrompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.Must(uuid.NewV7()).String()
	}
	cp := *p
	s.data.prompts[p.ID] = &cp
}

func (s *MemoryStore) do(fn func(q *memoryQueries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memoryQueries{data: s.data, now: s.now})
}

func (s *MemoryStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	return s.do(func(q *memoryQueries) error { return q.CreateConversation(ctx, conv) })
}

func (s *MemoryStore) GetConversation(ctx context.Context, tenantID, sessionID string) (conv *model.Conversation, err error) {
	err = s.do(func(q *memoryQueries) error {
		conv, err = q.GetConversation(ctx, tenantID, sessionID)
		return err
	})
	return conv, err
}

func (s *MemoryStore) UpdateConversation(ctx context.Context, conv *model.Conversation) error {
	return s.do(func(q *memoryQueries) error { return q.UpdateConversation(ctx, conv) })
}

func (s *MemoryStore) ListConversations(ctx context.Context, tenantID string, filter model.ConversationFilter) (out []model.Conversation, err error) {
	err = s.do(func(q *memoryQueries) error {
		out, err = q.ListConversations(ctx, tenantID, filter)
		return err
	})
	return out, err
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, tenantID, conversationID string) error {
	return s.do(func(q *memoryQueries) error { return q.DeleteConversation(ctx, tenantID, conversationID) })
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *model.Message) error {
	return s.do(func(q *memoryQueries) error { return q.AppendMessage(ctx, msg) })
}

func (s *MemoryStore) ListMessages(ctx context.Context, tenantID, conversationID string) (out []model.Message, err error) {
	err = s.do(func(q *memoryQueries) error {
		out, err = q.ListMessages(ctx, tenantID, conversationID)
		return err
	})
	return out, err
}

func (s *MemoryStore) CountMessages(ctx context.Context, tenantID, conversationID string) (n int, err error) {
	err = s.do(func(q *memoryQueries) error {
		n, err = q.CountMessages(ctx, tenantID, conversationID)
		return err
	})
	return n, err
}

func (s *MemoryStore) CreateAction(ctx context.Context, action *model.SupportAction) error {
	return s.do(func(q *memoryQueries) error { return q.CreateAction(ctx, action) })
}

func (s *MemoryStore) UpdateAction(ctx context.Context, action *model.SupportAction) error {
	return s.do(func(q *memoryQueries) error { return q.UpdateAction(ctx, action) })
}

func (s *MemoryStore) GetAction(ctx context.Context, tenantID, actionID string) (a *model.SupportAction, err error) {
	err = s.do(func(q *memoryQueries) error {
		a, err = q.GetAction(ctx, tenantID, actionID)
		return err
	})
	return a, err
}

func (s *MemoryStore) ListActions(ctx context.Context, tenantID, conversationID string) (out []model.SupportAction, err error) {
	err = s.do(func(q *memoryQueries) error {
		out, err = q.ListActions(ctx, tenantID, conversationID)
		return err
	})
	return out, err
}

func (s *MemoryStore) LatestAction(ctx context.Context, tenantID, conversationID, actionType string) (a *model.SupportAction, err error) {
	err = s.do(func(q *memoryQueries) error {
		a, err = q.LatestAction(ctx, tenantID, conversationID, actionType)
		return err
	})
	return a, err
}

func (s *MemoryStore) UpsertCustomer(ctx context.Context, customer *model.Customer) (c *model.Customer, err error) {
	err = s.do(func(q *memoryQueries) error {
		c, err = q.UpsertCustomer(ctx, customer)
		return err
	})
	return c, err
}

func (s *MemoryStore) GetCustomer(ctx context.Context, tenantID, email string) (c *model.Customer, err error) {
	err = s.do(func(q *memoryQueries) error {
		c, err = q.GetCustomer(ctx, tenantID, email)
		return err
	})
	return c, err
}

func (s *MemoryStore) UpdateCustomerSubscription(ctx context.Context, tenantID, email, status, plan string) (c *model.Customer, err error) {
	err = s.do(func(q *memoryQueries) error {
		c, err = q.UpdateCustomerSubscription(ctx, tenantID, email, status, plan)
		return err
	})
	return c, err
}

func (s *MemoryStore) RecordCustomerConversation(ctx context.Context, tenantID, email string, at time.Time) error {
	return s.do(func(q *memoryQueries) error { return q.RecordCustomerConversation(ctx, tenantID, email, at) })
}

func (s *MemoryStore) GetSystemPrompt(ctx context.Context, tenantID, promptID string) (p *model.SystemPrompt, err error) {
	err = s.do(func(q *memoryQueries) error {
		p, err = q.GetSystemPrompt(ctx, tenantID, promptID)
		return err
	})
	return p, err
}

func (s *MemoryStore) GetDefaultSystemPrompt(ctx context.Context, tenantID string) (p *model.SystemPrompt, err error) {
	err = s.do(func(q *memoryQueries) error {
		p, err = q.GetDefaultSystemPrompt(ctx, tenantID)
		return err
	})
	return p, err
}

func (s *MemoryStore) ListCustomers(ctx context.Context, tenantID string, limit, offset int) (out []model.Customer, err error) {
	err = s.do(func(q *memoryQueries) error {
		out, err = q.ListCustomers(ctx, tenantID, limit, offset)
		return err
	})
	return out, err
}

func (s *MemoryStore) ListSystemPrompts(ctx context.Context, tenantID string) (out []model.SystemPrompt, err error) {
	err = s.do(func(q *memoryQueries) error {
		out, err = q.ListSystemPrompts(ctx, tenantID)
		return err
	})
	return out, err
}

func (s *MemoryStore) CreateSystemPrompt(ctx context.Context, prompt *model.SystemPrompt) error {
	return s.do(func(q *memoryQueries) error { return q.CreateSystemPrompt(ctx, prompt) })
}

func (s *MemoryStore) UpdateSystemPrompt(ctx context.Context, prompt *model.SystemPrompt) error {
	return s.do(func(q *memoryQueries) error { return q.UpdateSystemPrompt(ctx, prompt) })
}

func (s *MemoryStore) DeleteSystemPrompt(ctx context.Context, tenantID, promptID string) error {
	return s.do(func(q *memoryQueries) error { return q.DeleteSystemPrompt(ctx, tenantID, promptID) })
}

func (s *MemoryStore) Analytics(ctx context.Context, tenantID string, recent int) (a *model.Analytics, err error) {
	err = s.do(func(q *memoryQueries) error {
		a, err = q.Analytics(ctx, tenantID, recent)
		return err
	})
	return a, err
}

// memoryQueries implements Queries over memoryData. The caller holds the
// store lock. When tracking is set every write records how to undo itself.
type memoryQueries struct {
	data     *memoryData
	now      func() time.Time
	tracking bool
	undo     []func()
}

func (q *memoryQueries) record(fn func()) {
	if q.tracking {
		q.undo = append(q.undo, fn)
	}
}

func (q *memoryQueries) rollback() {
	for i := len(q.undo) - 1; i >= 0; i-- {
		q.undo[i]()
	}
	q.undo = nil
}

func (q *memoryQueries) conversationByID(tenantID, conversationID string) (*model.Conversation, error) {
	conv, ok := q.data.conversations[conversationID]
	if !ok || conv.TenantID != tenantID {
		return nil, apperr.NotFound("conversation %s", conversationID)
	}
	return conv, nil
}

func (q *memoryQueries) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	if conv.ID == "" || conv.SessionID == "" || conv.TenantID == "" {
		return apperr.InvalidArgument("conversation requires id, session id and tenant")
	}
	if _, exists := q.data.sessions[conv.SessionID]; exists {
		return apperr.Conflict("session %s already exists", conv.SessionID)
	}
	if _, exists := q.data.conversations[conv.ID]; exists {
		return apperr.Conflict("conversation %s already exists", conv.ID)
	}
	q.data.conversations[conv.ID] = conv.Clone()
	q.data.sessions[conv.SessionID] = conv.ID
	q.record(func() {
		delete(q.data.conversations, conv.ID)
		delete(q.data.sessions, conv.SessionID)
	})
	return nil
}

func (q *memoryQueries) GetConversation(ctx context.Context, tenantID, sessionID string) (*model.Conversation, error) {
	id, ok := q.data.sessions[sessionID]
	if !ok {
		return nil, apperr.NotFound("session %s", sessionID)
	}
	conv, err := q.conversationByID(tenantID, id)
	if err != nil {
		return nil, apperr.NotFound("session %s", sessionID)
	}
	return conv.Clone(), nil
}

func (q *memoryQueries) UpdateConversation(ctx context.Context, conv *model.Conversation) error {
	stored, err := q.conversationByID(conv.TenantID, conv.ID)
	if err != nil {
		return err
	}
	if stored.SessionID != conv.SessionID {
		return apperr.Conflict("session id of conversation %s is immutable", conv.ID)
	}
	prev := stored
	q.data.conversations[conv.ID] = conv.Clone()
	q.record(func() { q.data.conversations[conv.ID] = prev })
	return nil
}

func (q *memoryQueries) ListConversations(ctx context.Context, tenantID string, filter model.ConversationFilter) ([]model.Conversation, error) {
	filter = NormalizeFilter(filter)

	var matched []model.Conversation
	for _, conv := range q.data.conversations {
		if conv.TenantID != tenantID {
			continue
		}
		if filter.Status != "" {
			if conv.Status != filter.Status {
				continue
			}
		} else if conv.Status == model.StatusArchived {
			continue
		}
		if filter.CustomerEmail != "" && conv.CustomerEmail != filter.CustomerEmail {
			continue
		}
		matched = append(matched, *conv.Clone())
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	start := filter.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (q *memoryQueries) DeleteConversation(ctx context.Context, tenantID, conversationID string) error {
	conv, err := q.conversationByID(tenantID, conversationID)
	if err != nil {
		return err
	}
	msgs := q.data.messages[conversationID]
	actions := q.data.actions[conversationID]

	delete(q.data.conversations, conversationID)
	delete(q.data.sessions, conv.SessionID)
	delete(q.data.messages, conversationID)
	delete(q.data.actions, conversationID)
	for _, a := range actions {
		delete(q.data.actionOwner, a.ID)
	}

	q.record(func() {
		q.data.conversations[conversationID] = conv
		q.data.sessions[conv.SessionID] = conversationID
		if msgs != nil {
			q.data.messages[conversationID] = msgs
		}
		if actions != nil {
			q.data.actions[conversationID] = actions
		}
		for _, a := range actions {
			q.data.actionOwner[a.ID] = conversationID
		}
	})
	return nil
}

func (q *memoryQueries) AppendMessage(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		return apperr.InvalidArgument("message requires an id")
	}
	if _, err := q.conversationByID(msg.TenantID, msg.ConversationID); err != nil {
		return err
	}
	existing := q.data.messages[msg.ConversationID]
	msg.Sequence = int64(len(existing)) + 1
	q.data.messages[msg.ConversationID] = append(existing, msg.Clone())
	q.record(func() { q.data.messages[msg.ConversationID] = existing })
	return nil
}

func (q *memoryQueries) ListMessages(ctx context.Context, tenantID, conversationID string) ([]model.Message, error) {
	if _, err := q.conversationByID(tenantID, conversationID); err != nil {
		return nil, err
	}
	msgs := q.data.messages[conversationID]
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out, nil
}

func (q *memoryQueries) CountMessages(ctx context.Context, tenantID, conversationID string) (int, error) {
	if _, err := q.conversationByID(tenantID, conversationID); err != nil {
		return 0, err
	}
	return len(q.data.messages[conversationID]), nil
}

func (q *memoryQueries) CreateAction(ctx context.Context, action *model.SupportAction) error {
	if action.ID == "" {
		return apperr.InvalidArgument("action requires an id")
	}
	if _, err := q.conversationByID(action.TenantID, action.ConversationID); err != nil {
		return err
	}
	if _, exists := q.data.actionOwner[action.ID]; exists {
		return apperr.Conflict("action %s already exists", action.ID)
	}
	existing := q.data.actions[action.ConversationID]
	q.data.actions[action.ConversationID] = append(existing, action.Clone())
	q.data.actionOwner[action.ID] = action.ConversationID
	q.record(func() {
		q.data.actions[action.ConversationID] = existing
		delete(q.data.actionOwner, action.ID)
	})
	return nil
}

func (q *memoryQueries) findAction(tenantID, actionID string) (int, []*model.SupportAction, error) {
	convID, ok := q.data.actionOwner[actionID]
	if !ok {
		return 0, nil, apperr.NotFound("action %s", actionID)
	}
	actions := q.data.actions[convID]
	for i, a := range actions {
		if a.ID == actionID {
			if a.TenantID != tenantID {
				break
			}
			return i, actions, nil
		}
	}
	return 0, nil, apperr.NotFound("action %s", actionID)
}

func (q *memoryQueries) UpdateAction(ctx context.Context, action *model.SupportAction) error {
	i, actions, err := q.findAction(action.TenantID, action.ID)
	if err != nil {
		return err
	}
	prev := actions[i]
	if prev.Status.Terminal() {
		return apperr.Conflict("action %s is %s", action.ID, prev.Status)
	}
	actions[i] = action.Clone()
	q.record(func() { actions[i] = prev })
	return nil
}

func (q *memoryQueries) GetAction(ctx context.Context, tenantID, actionID string) (*model.SupportAction, error) {
	i, actions, err := q.findAction(tenantID, actionID)
	if err != nil {
		return nil, err
	}
	return actions[i].Clone(), nil
}

func (q *memoryQueries) ListActions(ctx context.Context, tenantID, conversationID string) ([]model.SupportAction, error) {
	if _, err := q.conversationByID(tenantID, conversationID); err != nil {
		return nil, err
	}
	actions := q.data.actions[conversationID]
	out := make([]model.SupportAction, len(actions))
	for i, a := range actions {
		out[i] = *a.Clone()
	}
	return out, nil
}

func (q *memoryQueries) LatestAction(ctx context.Context, tenantID, conversationID, actionType string) (*model.SupportAction, error) {
	if _, err := q.conversationByID(tenantID, conversationID); err != nil {
		return nil, err
	}
	actions := q.data.actions[conversationID]
	for i := len(actions) - 1; i >= 0; i-- {
		if actions[i].ActionType == actionType {
			return actions[i].Clone(), nil
		}
	}
	return nil, apperr.NotFound("%s action in conversation %s", actionType, conversationID)
}

func (q *memoryQueries) UpsertCustomer(ctx context.Context, customer *model.Customer) (*model.Customer, error) {
	key := customerKey{tenantID: customer.TenantID, email: customer.Email}
	if existing, ok := q.data.customers[key]; ok {
		if existing.Name != "" && existing.ExternalID != "" {
			return existing.Clone(), nil
		}
		prev := existing.Clone()
		if existing.Name == "" {
			existing.Name = customer.Name
		}
		if existing.ExternalID == "" {
			existing.ExternalID = customer.ExternalID
		}
		q.record(func() { q.data.customers[key] = prev })
		return existing.Clone(), nil
	}

	now := q.now()
	c := customer.Clone()
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	if c.SubscriptionStatus == "" {
		c.SubscriptionStatus = model.SubscriptionUnknown
	}
	if c.SubscriptionPlan == "" {
		c.SubscriptionPlan = model.PlanNone
	}
	if c.TotalSpent.IsZero() {
		c.TotalSpent = decimal.Zero
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	q.data.customers[key] = c
	q.record(func() { delete(q.data.customers, key) })
	return c.Clone(), nil
}

func (q *memoryQueries) GetCustomer(ctx context.Context, tenantID, email string) (*model.Customer, error) {
	c, ok := q.data.customers[customerKey{tenantID: tenantID, email: email}]
	if !ok {
		return nil, apperr.NotFound("customer %s", email)
	}
	return c.Clone(), nil
}

func (q *memoryQueries) UpdateCustomerSubscription(ctx context.Context, tenantID, email, status, plan string) (*model.Customer, error) {
	key := customerKey{tenantID: tenantID, email: email}
	c, ok := q.data.customers[key]
	if !ok {
		return nil, apperr.NotFound("customer %s", email)
	}
	prev := c.Clone()
	if status != "" {
		c.SubscriptionStatus = status
	}
	if plan != "" {
		c.SubscriptionPlan = plan
	}
	c.UpdatedAt = q.now()
	q.record(func() { q.data.customers[key] = prev })
	return c.Clone(), nil
}

func (q *memoryQueries) RecordCustomerConversation(ctx context.Context, tenantID, email string, at time.Time) error {
	key := customerKey{tenantID: tenantID, email: email}
	c, ok := q.data.customers[key]
	if !ok {
		return apperr.NotFound("customer %s", email)
	}
	prev := c.Clone()
	c.TotalConversations++
	t := at
	c.LastConversationAt = &t
	c.UpdatedAt = q.now()
	q.record(func() { q.data.customers[key] = prev })
	return nil
}

func (q *memoryQueries) GetSystemPrompt(ctx context.Context, tenantID, promptID string) (*model.SystemPrompt, error) {
	p, ok := q.data.prompts[promptID]
	if !ok || p.TenantID != tenantID {
		return nil, apperr.NotFound("system prompt %s", promptID)
	}
	cp := *p
	return &cp, nil
}

func (q *memoryQueries) GetDefaultSystemPrompt(ctx context.Context, tenantID string) (*model.SystemPrompt, error) {
	var best *model.SystemPrompt
	for _, p := range q.data.prompts {
		if p.TenantID != tenantID || !p.IsActive || !p.IsDefault {
			continue
		}
		if best == nil || p.UpdatedAt.After(best.UpdatedAt) {
			best = p
		}
	}
	if best == nil {
		return nil, apperr.NotFound("default system prompt for tenant %s", tenantID)
	}
	cp := *best
	return &cp, nil
}

func (q *memoryQueries) ListCustomers(ctx context.Context, tenantID string, limit, offset int) ([]model.Customer, error) {
	var matched []model.Customer
	for _, c := range q.data.customers {
		if c.TenantID == tenantID {
			matched = append(matched, *c.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return page(matched, limit, offset), nil
}

func (q *memoryQueries) ListSystemPrompts(ctx context.Context, tenantID string) ([]model.SystemPrompt, error) {
	var out []model.SystemPrompt
	for _, p := range q.data.prompts {
		if p.TenantID == tenantID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (q *memoryQueries) CreateSystemPrompt(ctx context.Context, prompt *model.SystemPrompt) error {
	if prompt.ID == "" || prompt.TenantID == "" {
		return apperr.InvalidArgument("system prompt requires an id and tenant")
	}
	if _, exists := q.data.prompts[prompt.ID]; exists {
		return apperr.Conflict("system prompt %s already exists", prompt.ID)
	}
	for _, p := range q.data.prompts {
		if p.TenantID == prompt.TenantID && p.Name == prompt.Name {
			return apperr.Conflict("system prompt %q already exists", prompt.Name)
		}
	}
	cp := *prompt
	q.data.prompts[prompt.ID] = &cp
	q.record(func() { delete(q.data.prompts, prompt.ID) })
	return nil
}

func (q *memoryQueries) UpdateSystemPrompt(ctx context.Context, prompt *model.SystemPrompt) error {
	prev, ok := q.data.prompts[prompt.ID]
	if !ok || prev.TenantID != prompt.TenantID {
		return apperr.NotFound("system prompt %s", prompt.ID)
	}
	cp := *prompt
	q.data.prompts[prompt.ID] = &cp
	q.record(func() { q.data.prompts[prompt.ID] = prev })
	return nil
}

func (q *memoryQueries) DeleteSystemPrompt(ctx context.Context, tenantID, promptID string) error {
	prev, ok := q.data.prompts[promptID]
	if !ok || prev.TenantID != tenantID {
		return apperr.NotFound("system prompt %s", promptID)
	}
	delete(q.data.prompts, promptID)

	// Conversations bound to the prompt fall back to the tenant default.
	var unbound []*model.Conversation
	for id, conv := range q.data.conversations {
		if conv.SystemPromptID != nil && *conv.SystemPromptID == promptID {
			unbound = append(unbound, conv)
			updated := conv.Clone()
			updated.SystemPromptID = nil
			q.data.conversations[id] = updated
		}
	}
	q.record(func() {
		q.data.prompts[promptID] = prev
		for _, conv := range unbound {
			q.data.conversations[conv.ID] = conv
		}
	})
	return nil
}

func (q *memoryQueries) Analytics(ctx context.Context, tenantID string, recent int) (*model.Analytics, error) {
	a := &model.Analytics{RecentConversations: []model.RecentConversation{}}
	var convs []*model.Conversation
	for _, conv := range q.data.conversations {
		if conv.TenantID != tenantID {
			continue
		}
		convs = append(convs, conv)
		a.Conversations.Total++
		switch conv.Status {
		case model.StatusActive:
			a.Conversations.Active++
		case model.StatusEscalated:
			a.Conversations.Escalated++
		case model.StatusResolved:
			a.Conversations.Resolved++
		case model.StatusArchived:
			a.Conversations.Archived++
		}
		for _, m := range q.data.messages[conv.ID] {
			a.Messages.Total++
			switch m.SenderType {
			case model.SenderAI:
				a.Messages.AI++
			case model.SenderCustomer:
				a.Messages.Customer++
			}
		}
		for _, act := range q.data.actions[conv.ID] {
			a.Actions.Total++
			switch {
			case act.ActionType == model.ActionTypeRefund:
				a.Actions.Refunds++
			case strings.HasPrefix(act.ActionType, model.ActionTypeSubscriptionPrefix):
				a.Actions.SubscriptionChanges++
			}
		}
	}

	sort.Slice(convs, func(i, j int) bool {
		if convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].ID > convs[j].ID
		}
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	for _, conv := range page(convs, recent, 0) {
		a.RecentConversations = append(a.RecentConversations, model.RecentConversation{
			ID:            conv.ID,
			SessionID:     conv.SessionID,
			CustomerEmail: conv.CustomerEmail,
			Status:        conv.Status,
			MessageCount:  len(q.data.messages[conv.ID]),
			CreatedAt:     conv.CreatedAt,
		})
	}
	return a, nil
}

func page[T any](rows []T, limit, offset int) []T {
	offset = max(offset, 0)
	if offset > len(rows) {
		offset = len(rows)
	}
	end := offset + limit
	if limit <= 0 || end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}
