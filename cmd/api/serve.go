package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-desk/internal/config"
	"github.com/capitalize-ai/support-desk/internal/gateway"
	"github.com/capitalize-ai/support-desk/internal/handler"
	"github.com/capitalize-ai/support-desk/internal/knowledge"
	"github.com/capitalize-ai/support-desk/internal/llm"
	"github.com/capitalize-ai/support-desk/internal/lock"
	natsclient "github.com/capitalize-ai/support-desk/internal/nats"
	"github.com/capitalize-ai/support-desk/internal/service"
	"github.com/capitalize-ai/support-desk/internal/store"
	"github.com/capitalize-ai/support-desk/internal/store/postgres"
	"github.com/capitalize-ai/support-desk/pkg/logger"
	"github.com/capitalize-ai/support-desk/pkg/tracing"
)

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

// app holds the long-lived connections opened by serve.
type app struct {
	db      *sql.DB
	rdb     *redis.Client
	nats    *natsclient.Client
	streams *natsclient.StreamManager
}

func (a *app) close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("starting API server")

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(ctx, "support-desk", cfg.Tracing.Endpoint, cfg.Tracing.SampleRatio)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.WithoutCancel(ctx), tp) }()
		}
	}

	a := &app{}
	defer a.close()

	// One locker for every service, so turns and agent operations on a
	// conversation exclude each other.
	deps := service.Dependencies{Logger: log, Locker: lock.NewKeyedMutex()}
	checks := map[string]handler.Pinger{}
	var searcher knowledge.Searcher = knowledge.Nop{}

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		a.db = db
		if cfg.Database.MigrateOnStart {
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
		}
		pg := postgres.New(db, nil)
		deps.Store = pg
		checks["database"] = pg
		searcher = knowledge.NewPostgresSearcher(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		mem := store.NewMemoryStore()
		deps.Store = mem
		checks["store"] = mem
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.rdb = redis.NewClient(opts)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		deps.Locker = lock.NewRedisLocker(a.rdb, lock.WithTTL(cfg.Redis.LockTTL), lock.WithLogger(log))
		checks["redis"] = redisPinger{a.rdb}
	}

	var events handler.EventSubscriber
	if cfg.NATS.URL != "" {
		client, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATS.URL,
			Name:     "support-desk",
			CAFile:   cfg.NATS.CAFile,
			CertFile: cfg.NATS.CertFile,
			KeyFile:  cfg.NATS.KeyFile,
			Token:    cfg.NATS.Token,
		}, log)
		if err != nil {
			return err
		}
		a.nats = client
		a.streams = natsclient.NewStreamManager(client)
		if err := a.streams.EnsureStream(ctx); err != nil {
			return err
		}
		go a.streams.CollectStats(ctx, 30*time.Second)

		deps.Publisher = a.streams
		events = a.streams
		checks["nats"] = client
	} else {
		log.Warn("NATS_URL not set, conversation events are disabled")
	}

	var client llm.Client
	if key := cfg.LLM.APIKey(); key != "" {
		c, err := llm.NewClient(ctx, llm.Provider(cfg.LLM.DefaultProvider), llm.Options{
			APIKey:       key,
			DefaultModel: cfg.LLM.Model,
			MaxTokens:    cfg.AI.MaxTokens,
		})
		if err != nil {
			log.Warn("failed to create LLM client, every turn will use the fallback reply",
				zap.String("provider", cfg.LLM.DefaultProvider),
				zap.Error(err),
			)
		} else {
			client = c
		}
	} else {
		log.Warn("no API key for the default LLM provider, every turn will use the fallback reply",
			zap.String("provider", cfg.LLM.DefaultProvider),
		)
	}

	deps.Responder = gateway.New(client, searcher, gateway.Config{
		Model:           cfg.LLM.Model,
		Timeout:         cfg.AI.Timeout,
		HistoryLimit:    cfg.AI.HistoryLimit,
		MaxMessageChars: cfg.AI.MaxMessageChars,
		KnowledgeTopK:   cfg.AI.KnowledgeTopK,
		MaxTokens:       cfg.AI.MaxTokens,
		Temperature:     cfg.AI.Temperature,
	}, log)

	conversations := service.NewConversationService(deps)
	orchestrator := service.NewOrchestrator(deps)
	actions := service.NewActionService(deps)
	admin := service.NewAdminService(deps)

	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimit.Requests,
		RateLimitWindow:   cfg.RateLimit.Window,
		Chat:              handler.NewChatHandler(conversations, orchestrator, log),
		WebSocket:         handler.NewWebSocketHandler(conversations, orchestrator, log),
		Conversations:     handler.NewConversationHandler(conversations, actions, log),
		Stream:            handler.NewStreamHandler(conversations, events, log),
		Admin:             handler.NewAdminHandler(admin, log),
		Health:            handler.NewHealthHandler(checks),
		Logger:            log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
