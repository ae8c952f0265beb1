package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/secure-docs-api/internal/repository"
	"github.com/noah-isme/secure-docs-api/internal/service"
	"github.com/noah-isme/secure-docs-api/pkg/cache"
	"github.com/noah-isme/secure-docs-api/pkg/config"
	"github.com/noah-isme/secure-docs-api/pkg/database"
	"github.com/noah-isme/secure-docs-api/pkg/logger"
)

// maintenance runs one-off download housekeeping outside the API process,
// e.g. from cron when the in-process sweep is disabled.
func main() {
	var (
		task    string
		orderID string
		timeout time.Duration
	)
	flag.StringVar(&task, "task", "cleanup", "cleanup | stats")
	flag.StringVar(&orderID, "order", "", "Restrict stats to one order")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Overall deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var cacheSvc *service.CacheService
	if cfg.Redis.Enabled {
		if client, err := cache.NewRedis(ctx, cfg.Redis); err != nil {
			logr.Warn("redis unavailable, cache invalidation skipped", zap.Error(err))
		} else {
			defer client.Close()
			cacheSvc = service.NewCacheService(repository.NewCacheRepository(client, "secure-docs", logr), nil, cfg.Downloads.StatsCacheTTL, logr, true)
		}
	}

	auditSvc := service.NewAuditService(
		repository.NewDownloadTokenRepository(db),
		repository.NewDownloadAttemptRepository(db),
		cacheSvc,
		nil,
		logr,
		cfg.Downloads.StatsCacheTTL,
	)

	var result interface{}
	switch task {
	case "cleanup":
		count, err := auditSvc.CleanupExpiredTokens(ctx)
		if err != nil {
			logr.Fatal("cleanup failed", zap.Error(err))
		}
		result = map[string]int64{"deactivated": count}
	case "stats":
		stats, err := auditSvc.GetStatistics(ctx, orderID)
		if err != nil {
			logr.Fatal("statistics failed", zap.Error(err))
		}
		result = stats
	default:
		fmt.Fprintf(os.Stderr, "unknown task %q\n", task)
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logr.Fatal("failed to write result", zap.Error(err))
	}
}
