package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/erp-registration-api/api/swagger"
	"github.com/noah-isme/erp-registration-api/internal/gateway"
	"github.com/noah-isme/erp-registration-api/internal/handler"
	internalmiddleware "github.com/noah-isme/erp-registration-api/internal/middleware"
	"github.com/noah-isme/erp-registration-api/internal/repository"
	"github.com/noah-isme/erp-registration-api/internal/service"
	"github.com/noah-isme/erp-registration-api/migrations"
	"github.com/noah-isme/erp-registration-api/pkg/cache"
	"github.com/noah-isme/erp-registration-api/pkg/config"
	"github.com/noah-isme/erp-registration-api/pkg/database"
	"github.com/noah-isme/erp-registration-api/pkg/jobs"
	"github.com/noah-isme/erp-registration-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/erp-registration-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/erp-registration-api/pkg/middleware/requestid"
	"github.com/noah-isme/erp-registration-api/pkg/storage"
)

// @title ERP Course Registration API
// @version 1.0.0
// @description Step-by-step course registration wizard backed by the university ERP
// @BasePath /api/v1
// @schemes http

type erpBackend interface {
	service.CatalogReader
	service.RegistrationWriter
}

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		version, err := database.Migrate(cfg.Database, migrations.Files)
		if err != nil {
			logr.Sugar().Fatalw("failed to migrate database", "error", err)
		}
		logr.Sugar().Infow("database schema ready", "version", version)
	}

	readiness := map[string]handler.ReadinessCheck{
		"database": db.PingContext,
	}

	var (
		redisClient *redis.Client
		sharedRepo  service.CacheRepository
	)
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, shared catalog cache disabled", "error", err)
		} else {
			defer redisClient.Close() //nolint:errcheck
			sharedRepo = repository.NewCacheRepository(redisClient, logr)
			readiness["redis"] = func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}
		}
	}

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(sharedRepo, metricsSvc, service.CacheOptions{
		LocalTTL:        cfg.Catalog.LocalTTL,
		SharedTTL:       cfg.Catalog.SharedTTL,
		CleanupInterval: cfg.Catalog.CleanupInterval,
		SharedEnabled:   sharedRepo != nil,
	}, logr)

	erp := newERPBackend(cfg, logr)
	catalogSvc := service.NewCatalogService(erp, cacheSvc, logr)

	dispatcher := jobs.NewDispatcher("course-registrations", jobs.DispatcherConfig{
		Workers: cfg.Registration.CourseWorkers,
		Logger:  logr,
	})
	orchestrator := service.NewSubmissionOrchestrator(erp, dispatcher, metricsSvc, logr)
	selectionValidator := service.NewSelectionValidator(service.CreditPolicyFromConfig(cfg.Registration))
	sequencer := service.NewStepSequencer(selectionValidator, orchestrator, catalogSvc, metricsSvc, logr)

	registrationSvc := service.NewRegistrationService(
		repository.NewRegistrationDraftRepository(db),
		repository.NewRegistrationEventRepository(db),
		catalogSvc,
		sequencer,
		validator.New(),
		service.RegistrationServiceConfig{SubmissionTimeout: cfg.Registration.SubmissionTimeout},
		logr,
	)

	slipStore, err := storage.NewLocalStorage(cfg.Slips.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare slip storage", "dir", cfg.Slips.StorageDir, "error", err)
	}
	slipSigner := storage.NewSignedURLSigner(cfg.Slips.SignedURLSecret, cfg.Slips.SignedURLTTL)
	confirmationSvc := service.NewConfirmationService(registrationSvc, slipStore, slipSigner, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/metrics", "/health", "/ready"))
	r.Use(internalmiddleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metricsSvc, readiness)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/metrics/summary", metricsHandler.Summary)

	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	catalog := api.Group("/catalog")
	catalog.GET("/schools", catalogHandler.ListSchools)
	catalog.GET("/schools/:schoolId/courses", catalogHandler.ListCourses)
	catalog.DELETE("/cache", catalogHandler.Invalidate)

	registrationHandler := handler.NewRegistrationHandler(registrationSvc)
	confirmationHandler := handler.NewConfirmationHandler(confirmationSvc, cfg.APIPrefix+"/slips/download")
	registrations := api.Group("/registrations")
	registrations.POST("", registrationHandler.Start)
	registrations.GET("/:id", registrationHandler.Get)
	registrations.DELETE("/:id", registrationHandler.Cancel)
	registrations.PUT("/:id/school", registrationHandler.SelectSchool)
	registrations.POST("/:id/courses/:courseId/toggle", registrationHandler.ToggleCourse)
	registrations.PUT("/:id/metadata", registrationHandler.SetMetadata)
	registrations.POST("/:id/advance", registrationHandler.Advance)
	registrations.POST("/:id/retreat", registrationHandler.Retreat)
	registrations.POST("/:id/submit", registrationHandler.Submit)
	registrations.GET("/:id/events", registrationHandler.Events)
	registrations.GET("/:id/confirmation", confirmationHandler.Get)
	registrations.POST("/:id/slip", confirmationHandler.IssueSlip)
	api.GET("/students/:studentId/registrations", registrationHandler.ListByStudent)
	api.GET("/slips/download", confirmationHandler.Download)

	go sweepSlips(ctx, slipStore, cfg.Slips.SignedURLTTL, logr)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "erp_mode", cfg.ERP.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Registration.SubmissionTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

func newERPBackend(cfg *config.Config, logr *zap.Logger) erpBackend {
	if cfg.ERP.Mode == config.ERPModeHTTP {
		return gateway.NewERPGateway(gateway.NewClient(cfg.ERP, logr))
	}
	logr.Warn("using in-memory ERP; registrations are not sent to a real backend")
	return gateway.NewSeededMemoryERP()
}

// sweepSlips removes slip files whose download links can no longer be valid.
func sweepSlips(ctx context.Context, store *storage.LocalStorage, ttl time.Duration, logr *zap.Logger) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := store.CleanupOlderThan(ttl)
			if err != nil {
				logr.Sugar().Warnw("slip cleanup failed", "error", err)
				continue
			}
			if len(deleted) > 0 {
				logr.Sugar().Infow("slips removed", "count", len(deleted))
			}
		}
	}
}
