package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-counsel-api/internal/handler"
	"github.com/noah-isme/sma-counsel-api/internal/repository"
	"github.com/noah-isme/sma-counsel-api/internal/service"
	"github.com/noah-isme/sma-counsel-api/pkg/cache"
	"github.com/noah-isme/sma-counsel-api/pkg/config"
	"github.com/noah-isme/sma-counsel-api/pkg/database"
	"github.com/noah-isme/sma-counsel-api/pkg/export"
	"github.com/noah-isme/sma-counsel-api/pkg/jobs"
	"github.com/noah-isme/sma-counsel-api/pkg/llm"
	"github.com/noah-isme/sma-counsel-api/pkg/logger"
	"github.com/noah-isme/sma-counsel-api/pkg/storage"
)

// @title SMA Counsel API
// @version 1.0.0
// @description Consultation records and behavior-record drafting for homeroom teachers.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close() //nolint:errcheck

	catalog, err := llm.LoadCatalog(cfg.LLM.CatalogPath)
	if err != nil {
		return err
	}
	defaultModel := cfg.LLM.DefaultModel
	if defaultModel == "" || !catalog.Contains(defaultModel) {
		defaultModel = catalog.Default()
	}
	llmClient := llm.NewClient(llm.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		DefaultModel:   defaultModel,
		Temperature:    cfg.LLM.Temperature,
		RequestTimeout: cfg.LLM.RequestTimeout,
	}, logr)

	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	lockRepo := repository.NewLoginLockRepository(db)
	consultationRepo := repository.NewConsultationRepository(db)
	draftRepo := repository.NewDraftRepository(redisClient, cfg.Behavior.DraftTTL, metrics, logr)

	authSvc := service.NewAuthService(userRepo, lockRepo, metrics, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		LockThreshold:     cfg.LoginLock.Threshold,
	})

	consultationSvc := service.NewConsultationService(consultationRepo, llmClient, validate, logr, service.ConsultationServiceConfig{
		SummarizeEnabled: cfg.Summarize.Enabled,
	})
	consultationSvc.SetMetrics(metrics)

	generator := service.NewDraftGenerator(llmClient, metrics, logr, service.DraftGeneratorConfig{
		MaxRewriteAttempts: cfg.Behavior.MaxRewriteAttempts,
		Validate: service.ValidateOptions{
			MinLength:     cfg.Behavior.MinLength,
			MaxLength:     cfg.Behavior.MaxLength,
			EnforceLength: cfg.Behavior.EnforceLength,
		},
	})

	batchSvc := service.NewBehaviorBatchService(draftRepo, consultationSvc, generator, catalog, metrics, validate, logr, service.BehaviorBatchConfig{
		MaxEvidenceItems: cfg.Behavior.MaxEvidenceItems,
		MaxNoteChars:     cfg.Behavior.MaxNoteChars,
		LengthGuide:      service.LengthGuide(cfg.Behavior.MinLength, cfg.Behavior.MaxLength),
	})
	batchQueue := jobs.NewQueue("behavior-batches", batchSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Behavior.QueueWorkers,
		MaxRetries: -1,
		Logger:     logr,
	})
	batchSvc.SetQueue(batchQueue)
	batchQueue.Start(ctx)
	defer batchQueue.Stop()

	fileStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return err
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exportSvc := service.NewExportService(batchSvc, fileStore, signer, export.NewCSVExporter(), export.NewPDFExporter(cfg.Exports.PDFFontPath), logr, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
	})
	exportSvc.StartCleanup(ctx, cfg.Exports.CleanupInterval)

	router := newRouter(cfg, logr, routerDeps{
		metrics:      metrics,
		auth:         authSvc,
		authHandler:  handler.NewAuthHandler(authSvc),
		consultation: handler.NewConsultationHandler(consultationSvc),
		behavior:     handler.NewBehaviorHandler(batchSvc, exportSvc),
		models:       handler.NewModelHandler(catalog, llmClient),
		health: handler.NewMetricsHandler(metrics, map[string]handler.ReadinessCheck{
			"database": db.PingContext,
			"redis":    draftRepo.Ping,
		}),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
