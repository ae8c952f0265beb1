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
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/secure-docs-api/api/swagger"
	"github.com/noah-isme/secure-docs-api/internal/handler"
	"github.com/noah-isme/secure-docs-api/internal/middleware"
	"github.com/noah-isme/secure-docs-api/internal/models"
	"github.com/noah-isme/secure-docs-api/internal/repository"
	"github.com/noah-isme/secure-docs-api/internal/service"
	"github.com/noah-isme/secure-docs-api/pkg/cache"
	"github.com/noah-isme/secure-docs-api/pkg/config"
	"github.com/noah-isme/secure-docs-api/pkg/database"
	"github.com/noah-isme/secure-docs-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/secure-docs-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/secure-docs-api/pkg/middleware/requestid"
	"github.com/noah-isme/secure-docs-api/pkg/securelink"
)

// @title Secure Docs API
// @version 1.0.0
// @description Email-bound, quota-limited document download links
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, statistics cache disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewDownloadTokenRepository(db)
	attemptRepo := repository.NewDownloadAttemptRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	renewalRepo := repository.NewRenewalRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, "secure-docs", logr)
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Downloads.StatsCacheTTL, logr, redisClient != nil)

	notifier, notifyQueue, err := service.NewNotifier(cfg.Notifier, metricsSvc, logr)
	if err != nil {
		logr.Fatal("failed to configure notifier", zap.Error(err))
	}
	notifyQueue.Start(ctx)
	defer notifyQueue.Stop()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	tokenSvc := service.NewTokenService(tokenRepo, securelink.NewGenerator(cfg.Downloads.PublicBaseURL), cacheSvc, metricsSvc, validate, logr, service.TokenServiceConfig{
		Concurrency: cfg.Downloads.IssueConcurrency,
		Defaults: models.TokenConfig{
			ExpirationHours: int(cfg.Downloads.DefaultExpiration / time.Hour),
			MaxDownloads:    cfg.Downloads.DefaultMaxDownloads,
		},
	})
	deliverySvc := service.NewDeliveryService(tokenSvc, orderRepo, notifier, validate, logr)
	accessSvc := service.NewAccessService(tokenRepo, attemptRepo, orderRepo, cacheSvc, metricsSvc, logr)
	auditSvc := service.NewAuditService(tokenRepo, attemptRepo, cacheSvc, metricsSvc, logr, cfg.Downloads.StatsCacheTTL)
	renewalSvc := service.NewRenewalService(renewalRepo, orderRepo, tokenSvc, notifier, metricsSvc, validate, logr)

	auditSvc.StartCleanup(ctx, cfg.Downloads.CleanupInterval)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)
	authHandler := handler.NewAuthHandler(authSvc)
	downloadHandler := handler.NewDownloadHandler(deliverySvc, accessSvc, tokenSvc)
	auditHandler := handler.NewAuditHandler(auditSvc)
	renewalHandler := handler.NewRenewalHandler(renewalSvc)

	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/secure-download/:token/verify", downloadHandler.Verify)
	if cfg.Renewals.Enabled {
		api.POST("/renewals", renewalHandler.Submit)
	}

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))
	secured.GET("/auth/me", authHandler.Me)

	admin := secured.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	admin.Use(middleware.AdminAudit(logr))

	downloads := admin.Group("/downloads")
	downloads.POST("/issue", downloadHandler.Issue)
	downloads.POST("/tokens/:id/revoke", downloadHandler.Revoke)
	downloads.GET("/statistics", auditHandler.Statistics)
	downloads.POST("/cleanup", auditHandler.Cleanup)
	downloads.GET("/attempts", auditHandler.ListAttempts)
	downloads.GET("/attempts/export", auditHandler.ExportAttempts)

	if cfg.Renewals.Enabled {
		renewals := admin.Group("/renewals")
		renewals.GET("", renewalHandler.List)
		renewals.GET("/:id", renewalHandler.Get)
		renewals.GET("/:id/history", renewalHandler.History)
		renewals.POST("/:id/status", renewalHandler.Transition)
		renewals.POST("/:id/approve", renewalHandler.Approve)
		renewals.POST("/:id/reject", renewalHandler.Reject)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "renewals", cfg.Renewals.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
