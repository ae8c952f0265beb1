package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/secure-docs-api/internal/models"
	appErrors "github.com/noah-isme/secure-docs-api/pkg/errors"
	"github.com/noah-isme/secure-docs-api/pkg/export"
)

const maxExportRows = 5000

type auditTokenStore interface {
	CountTokens(ctx context.Context, orderID string, now time.Time) (models.TokenCounts, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

type auditAttemptStore interface {
	List(ctx context.Context, filter models.AttemptFilter) ([]models.DownloadAttempt, int, error)
	CountAttempts(ctx context.Context, orderID string) (total, successful int, err error)
}

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
	Extension() string
}

// ExportFile is a rendered attempt report.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// AuditService reports on issued tokens and verification attempts.
type AuditService struct {
	tokens    auditTokenStore
	attempts  auditAttemptStore
	cache     statsCache
	metrics   *MetricsService
	logger    *zap.Logger
	cacheTTL  time.Duration
	exporters map[string]datasetRenderer
	now       func() time.Time
}

// NewAuditService constructs an AuditService instance.
func NewAuditService(tokens auditTokenStore, attempts auditAttemptStore, cache statsCache, metrics *MetricsService, logger *zap.Logger, cacheTTL time.Duration) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &AuditService{
		tokens:   tokens,
		attempts: attempts,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		cacheTTL: cacheTTL,
		exporters: map[string]datasetRenderer{
			"csv": export.NewCSVExporter(),
			"pdf": export.NewPDFExporter(),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// GetStatistics aggregates token and attempt counts, optionally for one order.
func (s *AuditService) GetStatistics(ctx context.Context, orderID string) (*models.DownloadStatistics, error) {
	orderID = strings.TrimSpace(orderID)
	key := statsCacheKey(orderID)

	if s.cache != nil {
		var cached models.DownloadStatistics
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	now := s.now()
	tokens, err := s.tokens.CountTokens(ctx, orderID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count download tokens")
	}
	attempts, successful, err := s.attempts.CountAttempts(ctx, orderID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count download attempts")
	}

	stats := &models.DownloadStatistics{
		OrderID:             orderID,
		TotalTokens:         tokens.Total,
		ActiveTokens:        tokens.Active,
		ExpiredTokens:       tokens.Expired,
		RevokedTokens:       tokens.Revoked(),
		TotalAttempts:       attempts,
		SuccessfulDownloads: successful,
		FailedAttempts:      attempts - successful,
		GeneratedAt:         now,
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, stats, s.cacheTTL)
	}
	return stats, nil
}

// CleanupExpiredTokens deactivates every token past its expiry.
func (s *AuditService) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	count, err := s.tokens.DeactivateExpired(ctx, s.now())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate expired tokens")
	}
	s.metrics.RecordExpiredTokens(count)
	if count > 0 && s.cache != nil {
		if err := s.cache.Invalidate(ctx, statsCachePattern); err != nil {
			s.logger.Warn("failed to invalidate statistics cache", zap.Error(err))
		}
	}
	s.logger.Info("expired download tokens deactivated", zap.Int64("count", count))
	return count, nil
}

// StartCleanup boots a goroutine that deactivates expired tokens periodically.
func (s *AuditService) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.CleanupExpiredTokens(ctx); err != nil {
					s.logger.Warn("scheduled token cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}

// ListAttempts returns a page of attempts plus pagination metadata.
func (s *AuditService) ListAttempts(ctx context.Context, filter models.AttemptFilter) ([]models.DownloadAttempt, *models.Pagination, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	attempts, total, err := s.attempts.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list download attempts")
	}
	return attempts, &models.Pagination{
		Page:       filter.Offset/filter.Limit + 1,
		PageSize:   filter.Limit,
		TotalCount: total,
	}, nil
}

// ExportAttempts renders matching attempts as csv or pdf.
func (s *AuditService) ExportAttempts(ctx context.Context, filter models.AttemptFilter, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	exporter, ok := s.exporters[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}

	filter.Limit = maxExportRows
	filter.Offset = 0
	attempts, _, err := s.attempts.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load download attempts")
	}

	data, err := exporter.Render(attemptDataset(attempts))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	now := s.now()
	return &ExportFile{
		Filename:    fmt.Sprintf("download-attempts-%s.%s", now.Format("20060102-150405"), exporter.Extension()),
		ContentType: exporter.ContentType(),
		Data:        data,
	}, nil
}

func attemptDataset(attempts []models.DownloadAttempt) export.Dataset {
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		rows = append(rows, []string{
			a.AttemptedAt.Format(time.RFC3339),
			deref(a.TokenID),
			a.AttemptedEmail,
			deref(a.IPAddress),
			strconv.FormatBool(a.Success),
			deref(a.FailureReason),
			deref(a.UserAgent),
		})
	}
	return export.Dataset{
		Title:   "Download Attempts",
		Headers: []string{"Attempted At", "Token ID", "Email", "IP Address", "Success", "Reason", "User Agent"},
		Rows:    rows,
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
