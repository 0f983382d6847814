package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/support-desk/internal/middleware"
	"github.com/capitalize-ai/support-desk/pkg/logger"
)

// RouterConfig wires the handlers into the HTTP surface.
type RouterConfig struct {
	JWTSecret         string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	Chat          *ChatHandler
	WebSocket     *WebSocketHandler
	Conversations *ConversationHandler
	Stream        *StreamHandler
	Admin         *AdminHandler
	Health        *HealthHandler
	Logger        *logger.Logger
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/chat", func(r chi.Router) {
			r.Post("/start", cfg.Chat.Start)
			r.Post("/message", cfg.Chat.Message)
			r.Post("/escalate", cfg.Chat.Escalate)
			r.Get("/history/{session}", cfg.Chat.History)
			r.Get("/summary/{session}", cfg.Chat.Summary)
			r.Get("/ws/{session}", cfg.WebSocket.Chat)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", cfg.Conversations.List)
			r.Get("/{session}/events", cfg.Stream.Events)

			// Agent routes
			r.Group(func(r chi.Router) {
				r.Use(agentOnly(cfg)...)
				r.Get("/{session}", cfg.Conversations.Get)
				r.Delete("/{session}", cfg.Conversations.Delete)
				r.Post("/{session}/resolve", cfg.Conversations.Resolve)
				r.Post("/{session}/reopen", cfg.Conversations.Reopen)
				r.Post("/{session}/archive", cfg.Conversations.Archive)
				r.Post("/{session}/assign", cfg.Conversations.Assign)
				r.Post("/{session}/rate", cfg.Conversations.Rate)
				r.Post("/{session}/ai", cfg.Conversations.SetAI)
				r.Post("/{session}/agent-messages", cfg.Conversations.AgentMessage)
				r.Get("/{session}/actions", cfg.Conversations.ListActions)
				r.Post("/{session}/actions", cfg.Conversations.ExecuteAction)
			})
		})

		r.With(agentOnly(cfg)...).Post("/actions/{id}/cancel", cfg.Conversations.CancelAction)

		r.Route("/admin", func(r chi.Router) {
			r.Use(agentOnly(cfg)...)
			r.Get("/analytics", cfg.Admin.Analytics)
			r.Get("/customers", cfg.Admin.Customers)
			r.Get("/prompts", cfg.Admin.ListPrompts)
			r.Post("/prompts", cfg.Admin.CreatePrompt)
			r.Get("/prompts/{id}", cfg.Admin.GetPrompt)
			r.Put("/prompts/{id}", cfg.Admin.UpdatePrompt)
			r.Delete("/prompts/{id}", cfg.Admin.DeletePrompt)
		})
	})

	return r
}

func agentOnly(cfg RouterConfig) []func(http.Handler) http.Handler {
	mws := []func(http.Handler) http.Handler{middleware.RequireScope(middleware.ScopeAgent)}
	if cfg.RateLimitRequests > 0 {
		mws = append(mws, middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}
	return mws
}
