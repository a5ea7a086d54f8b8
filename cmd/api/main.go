package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/config"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/database"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/extraction"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/handler"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/middleware"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/observability"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/repository"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/router"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/service"
	"github.com/tufanozkan/agentic-exam-evaluator/pkg/ai"
	cloud "github.com/tufanozkan/agentic-exam-evaluator/pkg/cloudinary"
	"github.com/tufanozkan/agentic-exam-evaluator/pkg/docker"
)

const shutdownGrace = 30 * time.Second

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	logger = logger.With().Str("service", cfg.AppName).Str("env", cfg.AppEnv).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probes := make(map[string]handler.Probe)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Close()
		probes["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		}
	}

	results, jobArchive := buildStore(cfg, redisClient, probes, logger)

	assistant, closeAssistant := buildAssistant(ctx, cfg, logger)
	defer closeAssistant()

	converter, closeConverter := buildConverter(cfg, logger)
	defer closeConverter()

	broker := service.NewEventBroker(service.EventBrokerConfig{
		BufferSize:  cfg.EventBufferSize,
		ReplaySize:  cfg.EventReplaySize,
		Redis:       redisClient,
		ChannelBase: cfg.RedisChannel,
		NATS:        natsConn,
		Logger:      logger,
	})
	broker.Start(ctx)

	registry := service.NewJobRegistry(jobArchive, logger)
	pipeline := service.NewGradingPipeline(service.PipelineConfig{
		Grader:      assistant,
		Writer:      assistant,
		Results:     results,
		Events:      broker,
		CallTimeout: cfg.CallTimeout,
		Logger:      logger,
	})
	orchestrator := service.NewJobOrchestrator(service.OrchestratorConfig{
		Extractor:          extraction.NewExtractor(converter, logger),
		Units:              pipeline,
		Writer:             assistant,
		Registry:           registry,
		Events:             broker,
		CallTimeout:        cfg.CallTimeout,
		StudentConcurrency: cfg.StudentConcurrency,
		Logger:             logger,
	})

	var documents service.DocumentArchive
	if cfg.CloudinaryEnabled() {
		archive, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create cloudinary client")
		}
		documents = archive
	}

	jobService := service.NewJobService(service.JobServiceConfig{
		Registry:     registry,
		Orchestrator: orchestrator,
		Results:      results,
		Broker:       broker,
		Archive:      documents,
		Logger:       logger,
	})
	followUps := service.NewFollowUpService(results, assistant, cfg.CallTimeout, logger)
	exports := service.NewExportService(jobService, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())
	maxUpload := int64(cfg.UploadMaxMB) * 1024 * 1024

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    int(maxUpload),
	})

	middleware.Register(app, middleware.Config{Logger: &logger})

	deps := router.Dependencies{
		JobHandler:      handler.NewJobHandler(jobService, exports, maxUpload, logger),
		StreamHandler:   handler.NewJobStreamHandler(jobService, cfg.StreamKeepAlive, logger),
		FollowUpHandler: handler.NewFollowUpHandler(followUps, validate, logger),
		HealthProbes:    probes,
		Metrics:         observability.MetricsHandler(prometheus.DefaultGatherer),
		FollowUpLimiter: middleware.RateLimit("followup", cfg.FollowUpRateLimit, time.Minute),
	}
	if cfg.JWTSecret != "" {
		deps.JWTMiddleware = middleware.JWTProtected(cfg.JWTSecret)
		deps.RoleGuard = middleware.RequireRole("instructor", "admin")
	} else {
		logger.Warn().Msg("jwt.secret is empty, job routes are unauthenticated")
	}
	router.Register(app, cfg, deps)

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress()).Str("store", cfg.StoreDriver).Str("ai", cfg.AIProvider).Msg("grader api listening")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, cancel, orchestrator, logger)
}

func buildStore(cfg config.Config, redisClient *redis.Client, probes map[string]handler.Probe, logger zerolog.Logger) (repository.ResultRepository, repository.JobRepository) {
	switch cfg.StoreDriver {
	case config.StoreRedis:
		repo := repository.NewRedisResultRepository(redisClient, "grader", cfg.ResultTTL)
		return repo, repo
	case config.StorePostgres, config.StoreSQLite:
		var (
			db  *gorm.DB
			err error
		)
		if cfg.StoreDriver == config.StorePostgres {
			db, err = database.ConnectPostgres(cfg.DatabaseURL)
		} else {
			db, err = database.ConnectSQLite(cfg.SQLitePath)
		}
		if err != nil {
			logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to connect to database")
		}
		if err := database.Migrate(db); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate database")
		}
		probes["database"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
		repo := repository.NewGormResultRepository(db)
		return repo, repo
	default:
		return repository.NewMemoryResultRepository(), nil
	}
}

func buildAssistant(ctx context.Context, cfg config.Config, logger zerolog.Logger) (ai.Assistant, func()) {
	switch cfg.AIProvider {
	case "gemini":
		assistant, err := ai.NewGeminiAssistant(ctx, ai.GeminiConfig{
			APIKey:   cfg.GeminiAPIKey,
			Model:    cfg.GeminiModel,
			Endpoint: cfg.GeminiURL,
			Logger:   logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create gemini client")
		}
		return assistant, func() { _ = assistant.Close() }
	default:
		assistant, err := ai.NewOpenAIAssistant(ai.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIURL,
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create openai client")
		}
		return assistant, func() {}
	}
}

func buildConverter(cfg config.Config, logger zerolog.Logger) (extraction.PDFConverter, func()) {
	switch cfg.ExtractionMode {
	case "pdftotext":
		return extraction.CommandConverter{Binary: cfg.PDFToTextBinary, Timeout: cfg.CallTimeout}, func() {}
	case "docker":
	default:
		return extraction.NativeConverter{}, func() {}
	}

	sandbox, err := docker.NewSandbox(docker.Config{
		Host:          cfg.DockerHost,
		Timeout:       cfg.CallTimeout,
		MemoryLimitMB: int64(cfg.SandboxMemoryMB),
		CPUShares:     int64(cfg.SandboxCPUShares),
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create docker sandbox")
	}

	converter := extraction.SandboxConverter{
		Runner:     sandbox,
		Image:      cfg.ExtractionImage,
		WorkingDir: sandbox.WorkingDir(),
		Timeout:    cfg.CallTimeout,
	}
	return converter, func() { _ = sandbox.Close() }
}

func waitForShutdown(app *fiber.App, cancel context.CancelFunc, orchestrator *service.JobOrchestrator, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	done := make(chan struct{})
	go func() {
		orchestrator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logger.Warn().Msg("grading jobs still running at shutdown")
	}

	cancel()
	logger.Info().Msg("server stopped")
}
