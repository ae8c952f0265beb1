package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/secure-docs-api/internal/models"
	"github.com/noah-isme/secure-docs-api/pkg/securelink"
)

type accessTokenStore interface {
	GetByToken(ctx context.Context, token string) (*models.DownloadToken, error)
	ConsumeDownload(ctx context.Context, id string, now time.Time) (*models.DownloadToken, error)
	Deactivate(ctx context.Context, id string, at time.Time) (bool, error)
}

type attemptRecorder interface {
	Create(ctx context.Context, attempt *models.DownloadAttempt) error
}

type documentReader interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

// AccessService decides whether a visitor may download a document.
type AccessService struct {
	tokens    accessTokenStore
	attempts  attemptRecorder
	documents documentReader
	cache     cacheInvalidator
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewAccessService constructs an AccessService instance.
func NewAccessService(tokens accessTokenStore, attempts attemptRecorder, documents documentReader, cache cacheInvalidator, metrics *MetricsService, logger *zap.Logger) *AccessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{
		tokens:    tokens,
		attempts:  attempts,
		documents: documents,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// VerifyToken runs the access checks in order and records exactly one
// attempt. Denials are reported through the result, never as an error.
func (s *AccessService) VerifyToken(ctx context.Context, token, attemptedEmail, ip, userAgent string) models.VerificationResult {
	token = strings.TrimSpace(token)
	attempt := &models.DownloadAttempt{
		AttemptedEmail: strings.TrimSpace(attemptedEmail),
		IPAddress:      optionalString(ip),
		UserAgent:      optionalString(userAgent),
	}

	result, outcome := s.verify(ctx, token, attempt)

	attempt.Success = result.Valid
	if !result.Valid {
		reason := result.Reason
		attempt.FailureReason = &reason
	}
	s.recordAttempt(ctx, attempt)
	// Statistics count attempts and expiry flips, so every verification
	// makes cached figures stale.
	s.invalidateStats(context.WithoutCancel(ctx))
	s.metrics.RecordVerification(outcome)
	return result
}

func (s *AccessService) verify(ctx context.Context, token string, attempt *models.DownloadAttempt) (models.VerificationResult, string) {
	if !securelink.ValidFormat(token) {
		return deny(models.ReasonInvalidToken), outcomeInvalid
	}

	row, err := s.tokens.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return deny(models.ReasonInvalidToken), outcomeInvalid
		}
		s.logger.Error("token lookup failed", zap.Error(err))
		return deny(models.ReasonSystemError), outcomeError
	}
	tokenID := row.ID
	attempt.TokenID = &tokenID

	// An expired token keeps reporting expiry after it has been deactivated;
	// any other inactive token is indistinguishable from an unknown one.
	now := s.now()
	if row.Expired(now) {
		if row.IsActive {
			if _, err := s.tokens.Deactivate(ctx, row.ID, now); err != nil {
				s.logger.Warn("failed to deactivate expired token", zap.String("token_id", row.ID), zap.Error(err))
			}
		}
		return deny(models.ReasonExpired), outcomeExpired
	}
	if !row.IsActive {
		return deny(models.ReasonInvalidToken), outcomeInvalid
	}

	if !emailsMatch(attempt.AttemptedEmail, row.RecipientEmail) {
		return deny(models.ReasonUnauthorized), outcomeUnauthorized
	}

	if row.DownloadCount >= row.MaxDownloads {
		return deny(models.ReasonLimitExceeded), outcomeLimitExceeded
	}

	consumed, err := s.tokens.ConsumeDownload(ctx, row.ID, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return deny(models.ReasonLimitExceeded), outcomeLimitExceeded
		}
		s.logger.Error("failed to consume download slot", zap.String("token_id", row.ID), zap.Error(err))
		return deny(models.ReasonSystemError), outcomeError
	}

	doc, err := s.documents.GetDocument(ctx, consumed.DocumentID)
	if err != nil {
		s.logger.Error("failed to load document after consuming slot",
			zap.String("token_id", consumed.ID),
			zap.String("document_id", consumed.DocumentID),
			zap.Error(err))
		return deny(models.ReasonSystemError), outcomeError
	}

	return models.VerificationResult{
		Valid:    true,
		Document: doc,
		TokenData: &models.TokenData{
			ID:             consumed.ID,
			DocumentID:     consumed.DocumentID,
			OrderID:        consumed.OrderID,
			RecipientEmail: consumed.RecipientEmail,
			ExpiresAt:      consumed.ExpiresAt,
			MaxDownloads:   consumed.MaxDownloads,
			DownloadCount:  consumed.DownloadCount,
		},
	}, outcomeGranted
}

// recordAttempt persists the audit row. Losing it is logged and counted but
// never changes what the visitor is told.
func (s *AccessService) recordAttempt(ctx context.Context, attempt *models.DownloadAttempt) {
	if err := s.attempts.Create(context.WithoutCancel(ctx), attempt); err != nil {
		s.metrics.RecordAttemptWriteFailure()
		s.logger.Error("failed to record download attempt",
			zap.Stringp("token_id", attempt.TokenID),
			zap.Bool("success", attempt.Success),
			zap.Error(err))
	}
}

func (s *AccessService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, statsCachePattern); err != nil {
		s.logger.Warn("failed to invalidate statistics cache", zap.Error(err))
	}
}

func deny(reason string) models.VerificationResult {
	return models.VerificationResult{Valid: false, Reason: reason}
}

func emailsMatch(attempted, recipient string) bool {
	attempted = strings.TrimSpace(attempted)
	if attempted == "" {
		return false
	}
	return strings.EqualFold(attempted, strings.TrimSpace(recipient))
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
