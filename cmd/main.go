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

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/satriahrh/emora/adapters"
	"github.com/satriahrh/emora/adapters/classifier/deepface"
	"github.com/satriahrh/emora/adapters/classifier/fer"
	geminivision "github.com/satriahrh/emora/adapters/classifier/gemini"
	"github.com/satriahrh/emora/adapters/classifier/haar"
	"github.com/satriahrh/emora/adapters/llm"
	"github.com/satriahrh/emora/adapters/mongo"
	"github.com/satriahrh/emora/adapters/mqtt"
	"github.com/satriahrh/emora/domain/repositories"
	"github.com/satriahrh/emora/internal/api"
	"github.com/satriahrh/emora/internal/auth"
	"github.com/satriahrh/emora/internal/config"
	"github.com/satriahrh/emora/internal/dispatch"
	"github.com/satriahrh/emora/internal/emotion"
	"github.com/satriahrh/emora/internal/websocket"
	"github.com/satriahrh/emora/usecase"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize adapters
	strategies, closeStrategies := buildClassifiers(cfg.Classifier, logger)
	defer closeStrategies()

	sessionRepo, closeRepo := buildSessionRepository(ctx, cfg.Mongo, logger)
	defer closeRepo()

	publisher := buildPublisher(ctx, cfg.MQTT, logger)
	defer publisher.Close()

	generator, err := buildReplyGenerator(ctx, cfg.Reply, logger)
	if err != nil {
		logger.Fatal("Failed to create reply generator", zap.Error(err))
	}

	dispatcher := dispatch.New(
		dispatch.WithWorkers(cfg.Dispatch.Workers),
		dispatch.WithQueueSize(cfg.Dispatch.QueueSize),
		dispatch.WithLanePending(cfg.Dispatch.LanePending),
		dispatch.WithLogger(logger),
	)
	dispatcher.Start()

	// Initialize usecase services
	sessions := usecase.NewSessionRegistry(usecase.SessionOptions{
		Window:          cfg.Emotion.Window,
		MinVotes:        cfg.Emotion.MinVotes,
		ProactiveStreak: cfg.Emotion.ProactiveStreak,
		Retention:       cfg.Session.Retention,
		MaxSamples:      cfg.Session.MaxSamples,
	})
	emotionService := usecase.NewEmotionService(
		emotion.NewDecoder(cfg.Emotion.MaxPixels),
		emotion.NewChain(strategies, cfg.Classifier.ProbeTimeout, logger),
		emotion.NewGate(cfg.Emotion.Threshold),
		sessions,
		dispatcher,
		sessionRepo,
		publisher,
		logger,
	)
	chatService := usecase.NewChatService(generator, sessions, cfg.Reply.Timeout, cfg.Reply.HistoryLimit, logger)

	// Initialize WebSocket hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := websocket.NewHub(emotionService, chatService, logger)
	go hub.Run(hubCtx)

	cleanup := websocket.NewSessionCleanupService(
		emotionService, sessionRepo, cfg.Session.IdleTimeout, cfg.Session.CleanupInterval, logger)
	cleanup.Start()

	secret := cfg.Auth.Secret
	if secret == "" {
		// Tokens from this process stay valid only until it restarts.
		secret = uuid.NewString()
	}
	issuer := auth.NewIssuer(secret, cfg.Auth.TokenTTL)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(api.RequestLogger(logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.HTTP.CORSOrigins}))
	e.Use(middleware.BodyLimit(cfg.HTTP.BodyLimit))

	// Initialize API routes
	api.InitRoutes(e, api.NewHandler(
		emotionService, chatService, sessionRepo, hub, issuer, cfg.Auth.Enabled, logger))

	go func() {
		if err := e.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("addr", cfg.HTTP.Addr),
		zap.Strings("classifiers", cfg.Classifier.Order),
		zap.String("replyProvider", generator.Name()),
		zap.Bool("auth", cfg.Auth.Enabled))

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	stopHub()
	cleanup.Stop()

	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Error("Dispatcher did not drain", zap.Error(err))
	}
	if err := emotionService.CloseAll(shutdownCtx); err != nil {
		logger.Error("Failed to persist sessions", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// buildClassifiers creates the strategies named in cfg.Order. Nothing is
// probed here; the chain probes each one on first use.
func buildClassifiers(cfg config.ClassifierConfig, logger *zap.Logger) ([]repositories.EmotionClassifier, func()) {
	var (
		strategies []repositories.EmotionClassifier
		closers    []func()
	)
	for _, name := range cfg.Order {
		switch name {
		case fer.Name:
			strategies = append(strategies, fer.New(fer.Config{
				URL:     cfg.FER.URL,
				Timeout: cfg.FER.Timeout,
			}, logger))
		case deepface.Name:
			c := deepface.New(deepface.Config{
				Command:      cfg.DeepFace.Command,
				WriteTimeout: cfg.DeepFace.Timeout,
			}, logger)
			strategies = append(strategies, c)
			closers = append(closers, func() {
				if err := c.Close(5 * time.Second); err != nil {
					logger.Warn("Failed to stop deepface worker", zap.Error(err))
				}
			})
		case haar.Name:
			c := haar.New(haar.Config{
				FaceCascade:  cfg.Haar.FaceCascade,
				SmileCascade: cfg.Haar.SmileCascade,
			}, logger)
			strategies = append(strategies, c)
			closers = append(closers, func() { _ = c.Close() })
		case geminivision.Name:
			strategies = append(strategies, geminivision.New(geminivision.Config{
				APIKey: cfg.Gemini.APIKey,
				Model:  cfg.Gemini.Model,
			}, logger))
		}
	}

	return strategies, func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}
}

// buildSessionRepository uses MongoDB when configured and keeps records in
// memory otherwise.
func buildSessionRepository(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (repositories.SessionRepository, func()) {
	if cfg.URI == "" {
		logger.Info("MongoDB not configured, keeping sessions in memory")
		return adapters.NewMemorySessionRepository(), func() {}
	}

	client, err := mongo.NewClient(ctx, mongo.Config{URI: cfg.URI, Database: cfg.Database}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}

	repo := mongo.NewSessionRepository(client.Database, logger)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("Failed to create session indexes", zap.Error(err))
	}

	return repo, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}
}

func buildPublisher(ctx context.Context, cfg config.MQTTConfig, logger *zap.Logger) repositories.EmotionPublisher {
	if cfg.Broker == "" {
		return repositories.NopPublisher{}
	}

	publisher, err := mqtt.Connect(ctx, mqtt.Config{
		Broker:      cfg.Broker,
		ClientID:    cfg.ClientID,
		Username:    cfg.Username,
		Password:    cfg.Password,
		TopicPrefix: cfg.TopicPrefix,
		QoS:         byte(cfg.QoS),
	}, logger)
	if err != nil {
		logger.Warn("MQTT unavailable, emotion events will not be published", zap.Error(err))
		return repositories.NopPublisher{}
	}
	return publisher
}

func buildReplyGenerator(ctx context.Context, cfg config.ReplyConfig, logger *zap.Logger) (repositories.ReplyGenerator, error) {
	switch cfg.Provider {
	case llm.GeminiName:
		return llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			Timeout: cfg.Timeout,
		}, logger)
	case llm.GroqName:
		return llm.NewGroq(llm.GroqConfig{
			APIKey:  cfg.Groq.APIKey,
			Model:   cfg.Groq.Model,
			BaseURL: cfg.Groq.BaseURL,
			Timeout: cfg.Timeout,
		}, logger)
	default:
		return llm.NewRules(), nil
	}
}
