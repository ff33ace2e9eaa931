package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"biasaudit/docs"
	"biasaudit/internal/ai/openai"
	"biasaudit/internal/config"
	"biasaudit/internal/database"
	"biasaudit/internal/database/migration"
	handlers "biasaudit/internal/http/handler"
	"biasaudit/internal/http/middleware"
	"biasaudit/internal/logging"
	"biasaudit/internal/metrics"
	biasotel "biasaudit/internal/otel"
	"biasaudit/internal/quota"
	"biasaudit/internal/repository"
	"biasaudit/internal/repository/memory"
	"biasaudit/internal/repository/postgres"
	"biasaudit/internal/service"
	"biasaudit/internal/storage"
)

// @title Bias Audit API
// @version 1.0
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	logger, err := logging.New(cfg.Log, cfg.Location())
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := biasotel.Init(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	db, scans, usage := openStores(ctx, cfg, logger)
	if db != nil {
		defer db.Close()
	}

	// Archiving uploaded originals is optional
	var archive storage.Storage
	if cfg.MinIO.Endpoint != "" {
		archive, err = storage.NewMinIO(cfg.MinIO)
		if err != nil {
			logger.Fatal("failed to initialize object storage", zap.Error(err))
		}
	}

	plans, err := quota.LoadPlans(cfg.Quota.PlansFile)
	if err != nil {
		logger.Fatal("failed to load quota plans", zap.Error(err))
	}

	pipeline, err := metrics.NewPipeline(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("failed to register pipeline metrics", zap.Error(err))
	}

	if cfg.AI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY is not set; analyze requests will fail")
	}
	aiClient := openai.NewClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model)

	orch := service.NewOrchestrator(scans, aiClient, service.AnalysisConfig{
		Timeout:  cfg.AI.Timeout,
		LeaseTTL: cfg.AI.LeaseTTL,
	}, logger, pipeline)

	scanSvc := service.NewScanService(service.Deps{
		Repo:         scans,
		Quota:        quota.NewManager(usage, plans, cfg.Quota.DefaultPlan, quota.SystemClock{Location: cfg.Location()}),
		Orchestrator: orch,
		Archive:      archive,
		Log:          logger,
		Metrics:      pipeline,
	})

	promMiddleware, err := middleware.NewPrometheusMiddleware(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("failed to register http metrics", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		// multipart framing on top of the largest accepted file
		BodyLimit: cfg.UploadMaxBytes + 1<<20,
	})

	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	app.Use(otelfiber.Middleware())
	app.Use(middleware.Logger(logger))
	app.Use(promMiddleware.Handler())

	handlers.RegisterRoutes(app, db, scanSvc, cfg.UploadMaxBytes)
	app.Get("/metrics", handlers.Metrics(prometheus.DefaultGatherer))

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("tracing shutdown", zap.Error(err))
	}
}

// openStores connects to PostgreSQL when DB_HOST is set and falls back to in-memory stores otherwise.
func openStores(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*sql.DB, repository.ScanRepository, repository.UsageRepository) {
	if cfg.Database.Host == "" {
		logger.Warn("DB_HOST is not set; using in-memory stores")
		return nil, memory.NewScanStore(), memory.NewUsageStore()
	}

	db, err := database.NewPostgres(cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := migration.EnsureMigrated(ctx, db, logger); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
	}
	return db, postgres.NewScanPostgres(db), postgres.NewUsagePostgres(db)
}
