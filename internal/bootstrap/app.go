// Package bootstrap builds the full dependency graph and owns its shutdown
// order.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"tiendabot/internal/agent"
	"tiendabot/internal/ai"
	"tiendabot/internal/app"
	"tiendabot/internal/cache"
	"tiendabot/internal/channel"
	"tiendabot/internal/config"
	"tiendabot/internal/eval"
	"tiendabot/internal/images"
	"tiendabot/internal/introspect"
	"tiendabot/internal/knowledge"
	"tiendabot/internal/model"
	"tiendabot/internal/platform/mysql"
	"tiendabot/internal/platform/rabbitmq"
	platformredis "tiendabot/internal/platform/redis"
	"tiendabot/internal/reply"
	"tiendabot/internal/repository"
	"tiendabot/internal/runtimecfg"
	transporthttp "tiendabot/internal/transport/http"
	"tiendabot/internal/transport/http/handler"
	"tiendabot/internal/worker"
)

type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Server *http.Server

	db        *gorm.DB
	redis     *redisv9.Client
	rabbit    *amqp.Connection
	telemetry *worker.TelemetryPersistWorker
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger := newLogger(cfg)

	db, err := mysql.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.ChatSession{},
		&model.ChatMessage{},
		&model.KnowledgeChunk{},
		&model.TurnDebug{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate failed: %w", err)
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	rabbitConn, err := rabbitmq.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	runtimeStore, err := runtimecfg.NewStore(cfg.Paths.RuntimeConfig, runtimecfg.Defaults{
		SystemPrompt: cfg.Agent.SystemPrompt,
		Model:        cfg.Agent.Model,
		Temperature:  cfg.Agent.Temperature,
		MaxTokens:    cfg.Agent.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	sessionRepo := repository.NewSessionRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	chunkRepo := repository.NewChunkRepository(db)
	turnDebugRepo := repository.NewTurnDebugRepository(db)
	userRepo := repository.NewUserRepository(db)

	aiClient := ai.NewClient()
	embCfg := ai.EmbeddingConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.EmbeddingModel,
	}

	knowledgeStore := knowledge.NewStore(chunkRepo, aiClient, embCfg)
	imageRegistry := images.NewRegistry(cfg.Paths.ImagesDir)
	processor := reply.NewProcessor(imageRegistry)
	chatAgent := agent.New(aiClient, cfg.LLM, runtimeStore)

	historyCache := cache.NewHistoryCache(redisClient, time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second)
	webhookDedup := cache.NewWebhookDedup(redisClient, time.Duration(cfg.Redis.DedupTTLSeconds)*time.Second)
	telemetryPublisher := rabbitmq.NewTelemetryPublisher(rabbitConn, cfg.RabbitMQ.TelemetryPersistQueue)

	channelManager := channel.NewManager()
	if cfg.WhatsApp.APIURL != "" && cfg.WhatsApp.APIKey != "" {
		channelManager.Register(channel.NewWhatsApp(cfg.WhatsApp.APIURL, cfg.WhatsApp.APIKey, cfg.WhatsApp.InstanceName))
		logger.Info().Str("instance", cfg.WhatsApp.InstanceName).Msg("whatsapp channel registered")
	}

	chatService := app.NewChatService(
		sessionRepo, messageRepo, chatAgent, knowledgeStore, processor,
		runtimeStore, telemetryPublisher, historyCache, webhookDedup,
		channelManager, logger,
	)
	knowledgeService := app.NewKnowledgeService(knowledgeStore, logger)
	authService := app.NewAuthService(userRepo, cfg.Auth)

	introspectEngine := introspect.NewEngine(aiClient, cfg.LLM, runtimeStore, turnDebugRepo, knowledgeStore)
	evalRunner := eval.NewRunner(cfg.Paths.TestCases, chatAgent, aiClient, cfg.LLM, runtimeStore, knowledgeStore)

	telemetryWorker := worker.NewTelemetryPersistWorker(rabbitConn, turnDebugRepo, cfg.RabbitMQ.TelemetryPersistQueue, logger)
	if err := telemetryWorker.Start(ctx); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql handle failed: %w", err)
	}
	healthChecks := map[string]func(context.Context) error{
		"mysql": sqlDB.PingContext,
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		"rabbitmq": func(context.Context) error {
			if rabbitConn.IsClosed() {
				return fmt.Errorf("connection closed")
			}
			return nil
		},
	}

	router := transporthttp.NewRouter(cfg, transporthttp.Handlers{
		Health:     handler.NewHealthHandler(cfg.App.Name, healthChecks),
		Auth:       handler.NewAuthHandler(authService),
		Session:    handler.NewSessionHandler(chatService),
		Knowledge:  handler.NewKnowledgeHandler(knowledgeService),
		Image:      handler.NewImageHandler(imageRegistry),
		Config:     handler.NewConfigHandler(runtimeStore),
		Channel:    handler.NewChannelHandler(channelManager, chatService, logger),
		Introspect: handler.NewIntrospectHandler(introspectEngine),
		Eval:       handler.NewEvalHandler(evalRunner),
	}, cfg.Paths.ImagesDir)

	return &App{
		Config: cfg,
		Logger: logger,
		Server: &http.Server{
			Addr:              cfg.HTTPAddr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		db:        db,
		redis:     redisClient,
		rabbit:    rabbitConn,
		telemetry: telemetryWorker,
	}, nil
}

func (a *App) Close() {
	a.telemetry.Close()

	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.redis.Close()
	_ = a.rabbit.Close()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if cfg.App.Env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Str("app", cfg.App.Name).Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Str("app", cfg.App.Name).Logger()
}
