package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/auth"
	"github.com/ekaya-inc/sop-rules-engine/pkg/config"
	"github.com/ekaya-inc/sop-rules-engine/pkg/database"
	"github.com/ekaya-inc/sop-rules-engine/pkg/handlers"
	"github.com/ekaya-inc/sop-rules-engine/pkg/llm"
	"github.com/ekaya-inc/sop-rules-engine/pkg/logging"
	"github.com/ekaya-inc/sop-rules-engine/pkg/mcp"
	mcpauth "github.com/ekaya-inc/sop-rules-engine/pkg/mcp/auth"
	"github.com/ekaya-inc/sop-rules-engine/pkg/mcp/tools"
	"github.com/ekaya-inc/sop-rules-engine/pkg/middleware"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/repositories"
	"github.com/ekaya-inc/sop-rules-engine/pkg/retry"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg := database.ConfigFrom(&cfg.Database)
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(dbCfg.URL)),
		zap.String("redis", cfg.Redis.Addr()),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("queue_strategy", cfg.Ingestion.QueueStrategy))

	db, err := database.NewConnection(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sqlDB := db.SQL()
	err = database.RunMigrations(sqlDB, logger)
	_ = sqlDB.Close()
	if err != nil {
		return err
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	// A nil *redis.Client must not become a non-nil UniversalClient.
	var lockBackend redis.UniversalClient
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		lockBackend = redisClient
	}

	seed, err := services.LoadVocabularySeed(cfg.Vocabulary.SeedPath)
	if err != nil {
		return err
	}

	extractor, err := newExtractor(cfg, logger)
	if err != nil {
		return err
	}

	// Repositories
	sopRepo := repositories.NewSOPRepository()
	ruleRepo := repositories.NewRuleRepository()
	tagRepo := repositories.NewTagRepository()
	docRepo := repositories.NewDocumentRepository()
	resolvedRepo := repositories.NewResolvedConflictRepository()

	// Services
	lock := services.NewCollectionLock(lockBackend, cfg.Redis.LockTTL, logger)
	detector := services.NewConflictDetector(cfg.Conflicts.CanonicalIDs, logger)
	registry := services.NewTagRegistry(tagRepo, logger)
	queue := newQueue(cfg, logger)

	sopService := services.NewSOPService(sopRepo, registry, seed, logger)
	ruleService := services.NewRuleService(sopRepo, ruleRepo, resolvedRepo, registry, lock, detector, logger)
	conflictService := services.NewConflictService(sopRepo, ruleRepo, resolvedRepo, lock, detector, logger)
	ingestionService := services.NewIngestionService(
		sopRepo, ruleRepo, resolvedRepo, docRepo,
		registry, extractor, lock, detector, queue,
		services.NewTenantContextFunc(db),
		services.IngestionOptions{
			TagPolicy:   models.TagIngestPolicy(cfg.Ingestion.TagPolicy),
			MaxSegments: cfg.Ingestion.MaxSegments,
		},
		logger,
	)

	// Auth
	validator, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
		Audience:           cfg.Auth.Audience,
	})
	if err != nil {
		return err
	}
	defer validator.Close()
	authService := auth.NewAuthService(validator, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)
	tenantMiddleware := database.WithProjectScope(db, "pid", logger)

	mux := http.NewServeMux()

	checks := map[string]handlers.DependencyCheck{
		"database": func(ctx context.Context) error { return db.Ping(ctx) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	handlers.NewHealthHandler(cfg, checks, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	handlers.NewSOPHandler(sopService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewRuleHandler(ruleService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewConflictHandler(conflictService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewTagHandler(registry, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewIngestionHandler(ingestionService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)

	// MCP
	mcpServer := mcp.NewServer("sop-rules-engine", cfg.Version, mcp.NewToolAuditor(logger), logger)
	mcpServer.RegisterTools(cfg.Version, &tools.Deps{
		Scoper:    db,
		Rules:     ruleService,
		Conflicts: conflictService,
		Tags:      registry,
		Ingestion: ingestionService,
		Logger:    logger,
	})
	mcpAuth := mcpauth.NewMiddleware(authService, logger)
	mux.Handle("/mcp/{pid}",
		middleware.MCPRequestLogger(logger)(mcpAuth.RequireAuth("pid")(mcpServer.Handler())))

	srv := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting sop-rules-engine",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Ingestion queue did not drain", zap.Error(err))
	}
	return nil
}

// newExtractor picks the rule extractor for the configured provider. Without
// a provider, segments must already hold rule JSON.
func newExtractor(cfg *config.Config, logger *zap.Logger) (services.RuleExtractor, error) {
	client, err := llm.NewClientFromConfig(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	if client == nil {
		logger.Info("No LLM provider configured; documents must carry rule JSON")
		return services.NewJSONSegmentExtractor(), nil
	}
	return services.NewLLMRuleExtractor(client, retry.DefaultConfig(), logger), nil
}

func newQueue(cfg *config.Config, logger *zap.Logger) *workqueue.Queue {
	var strategy workqueue.ConcurrencyStrategy = workqueue.NewGlobalSerialStrategy()
	if cfg.Ingestion.QueueStrategy == config.QueueStrategyPerSOP {
		strategy = workqueue.NewPerKeyStrategy(cfg.Ingestion.MaxConcurrent)
	}
	retryCfg := workqueue.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.Ingestion.MaxRetries
	return workqueue.New(logger,
		workqueue.WithStrategy(strategy),
		workqueue.WithRetryConfig(retryCfg),
		workqueue.WithRetryable(llm.IsRetryable))
}
