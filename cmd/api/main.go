// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/aitools"
	"github.com/capitalize-ai/artifact-sync/internal/config"
	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/handler"
	"github.com/capitalize-ai/artifact-sync/internal/llm"
	natsclient "github.com/capitalize-ai/artifact-sync/internal/nats"
	"github.com/capitalize-ai/artifact-sync/internal/notify"
	"github.com/capitalize-ai/artifact-sync/internal/readstate"
	"github.com/capitalize-ai/artifact-sync/internal/savedstore"
	"github.com/capitalize-ai/artifact-sync/internal/service"
	"github.com/capitalize-ai/artifact-sync/internal/session"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
	"github.com/capitalize-ai/artifact-sync/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server", zap.String("gateway_mode", cfg.GatewayMode))

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "artifact-sync", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Change feed shared between instances
	var (
		natsClient *natsclient.Client
		feed       gateway.Feed
	)
	if cfg.GatewayLiveFeed {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		f := natsclient.NewFeed(natsClient, log)
		if err := f.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure change stream", zap.Error(err))
		}
		feed = f
	}

	// Backend gateway
	var gw gateway.Gateway
	switch cfg.GatewayMode {
	case "rest":
		gw, err = gateway.NewREST(gateway.RESTConfig{
			BaseURL: cfg.GatewayBaseURL,
			AppID:   cfg.GatewayAppID,
			APIKey:  cfg.GatewayAPIKey,
			Timeout: cfg.GatewayTimeout,
			RPS:     cfg.GatewayRPS,
			Burst:   cfg.GatewayBurst,
		}, feed, log)
		if err != nil {
			log.Fatal("failed to create gateway", zap.Error(err))
		}
	default:
		log.Warn("using in-memory gateway, data is lost on restart")
		gw = gateway.NewMemory(gateway.WithAutoProvision())
	}

	// LLM client; without one AI calls go through the gateway
	var llmClient llm.Client
	if key := llmKey(cfg); key != "" {
		llmClient, err = llm.NewClient(llm.Provider(cfg.DefaultLLM), key)
		if err != nil {
			log.Warn("failed to create LLM client, using gateway AI", zap.Error(err))
			llmClient = nil
		}
	}
	gw = gateway.Instrument(gateway.WithInvoker(gw, llmClient, log), log)

	// Last-seen notification index
	var lastSeen notify.LastSeenIndex = notify.NewMemoryIndex()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to Redis", zap.Error(err))
		}
		lastSeen = notify.NewRedisIndex(rdb, cfg.LastSeenTTL)
	}

	saved, err := savedstore.Open(cfg.SavedStorePath, log)
	if err != nil {
		log.Fatal("failed to open saved store", zap.Error(err))
	}
	defer saved.Close()

	// Services
	tracker := readstate.New(gw, log)
	userSvc := service.NewUserService(gw, log)
	conversationSvc := service.NewConversationService(gw, userSvc, tracker, log)
	messageSvc := service.NewMessageService(gw, conversationSvc, tracker, log)
	artifactSvc := service.NewArtifactService(gw, conversationSvc, messageSvc, log)

	sessions := session.NewManager(session.Deps{
		Gateway:       gw,
		Users:         userSvc,
		Conversations: conversationSvc,
		Messages:      messageSvc,
		Artifacts:     artifactSvc,
		Tracker:       tracker,
		LastSeen:      lastSeen,
		Poll:          cfg.Poll,
		PreviewLength: cfg.Notification.PreviewLength,
		RecentWindow:  cfg.Notification.RecentWindow,
		Logger:        log,
	})

	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Users:             userSvc,
		Conversations:     conversationSvc,
		Messages:          messageSvc,
		Artifacts:         artifactSvc,
		Importer:          service.NewImporter(gw, log),
		AI: handler.AITools{
			Cataloger:  aitools.NewCataloger(gw, log),
			Comparator: aitools.NewComparator(gw, log),
			Reporter:   aitools.NewReporter(gw, log),
			Analyzer:   aitools.NewAnalyzer(gw, llmClient, log),
		},
		Sessions: sessions,
		Saved:    saved,
		NATS:     natsClient,
		Logger:   log,
	})

	// WriteTimeout stays 0 by default so event streams are not cut off.
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Sessions first so open streams return and Shutdown can finish.
	sessions.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func llmKey(cfg *config.Config) string {
	if llm.Provider(cfg.DefaultLLM) == llm.ProviderAnthropic {
		return cfg.AnthropicAPIKey
	}
	return cfg.OpenAIAPIKey
}
