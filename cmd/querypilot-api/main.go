package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/querypilot/querypilot/internal/agent"
	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/auth"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/executor"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/runlog"
	runlogpostgres "github.com/querypilot/querypilot/internal/runlog/postgres"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/sqldb"
	s3store "github.com/querypilot/querypilot/internal/storage/s3"
	"github.com/querypilot/querypilot/internal/trace"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("querypilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	targetDB, err := sqldb.Open(context.Background(), cfg.Target)
	if err != nil {
		logger.Error("failed to open target database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = targetDB.Close() }()

	schemaCatalog := schema.NewCatalog(targetDB, logger, cfg.Agent.SampleRows)
	schemaCache := schema.NewCache(schemaCatalog, cfg.Agent.SchemaCacheTTL)
	defer schemaCache.Stop()

	queryExecutor := executor.New(targetDB, logger, cfg.Agent)
	toolbox := agent.NewToolbox(schemaCache, queryExecutor, cfg.Agent)
	llm := agent.NewAnthropicClient(cfg.LLM)

	recorders := trace.MultiRecorder{trace.NewSlogRecorder(logger)}
	if cfg.Archive.Enabled {
		objectStore, err := s3store.New(context.Background(), cfg.Archive)
		if err != nil {
			logger.Error("failed to initialize trace archive", slog.Any("error", err))
			os.Exit(1)
		}
		recorders = append(recorders, trace.NewArchiveRecorder(objectStore, logger, cfg.Archive.Format, cfg.Archive.FlushEvery))
	}

	runner := agent.NewRunner(llm, toolbox, recorders, logger, cfg.Agent)

	deps := api.Dependencies{
		Logger:            logger,
		Runner:            runner,
		SchemaCache:       schemaCache,
		TargetCheck:       api.CheckTargetDB(targetDB),
		DependencyTimeout: time.Second,
		RunLogListLimit:   cfg.RunLog.ListLimit,
	}

	var runLogRepo runlog.Repository
	if cfg.RunLog.DSN != "" {
		runLogDB, err := runlogpostgres.Open(context.Background(), cfg.RunLog)
		if err != nil {
			logger.Error("failed to open run log database", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = runLogDB.Close() }()
		runLogRepo = runlogpostgres.NewRepository(runLogDB)
		deps.RunLog = runLogRepo
		deps.Readiness = api.CombineReadinessChecks(
			api.CheckTargetDB(targetDB),
			func(ctx context.Context) error { return runLogDB.PingContext(ctx) },
		)
	} else {
		deps.Readiness = api.CheckTargetDB(targetDB)
	}

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
