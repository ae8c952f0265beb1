package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/secure-docs-api/internal/models"
	"github.com/noah-isme/secure-docs-api/internal/repository"
	appErrors "github.com/noah-isme/secure-docs-api/pkg/errors"
)

const maxTokenCollisions = 3

type tokenStore interface {
	Create(ctx context.Context, token *models.DownloadToken) error
	GetByID(ctx context.Context, id string) (*models.DownloadToken, error)
	Deactivate(ctx context.Context, id string, at time.Time) (bool, error)
}

type linkBuilder interface {
	Token() (string, error)
	URL(token, recipientEmail string) string
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

// TokenServiceConfig tunes issuance.
type TokenServiceConfig struct {
	Concurrency int
	Defaults    models.TokenConfig
}

// TokenService mints per-document download tokens.
type TokenService struct {
	store       tokenStore
	links       linkBuilder
	cache       cacheInvalidator
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	concurrency int
	defaults    models.TokenConfig
	now         func() time.Time
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(store tokenStore, links linkBuilder, cache cacheInvalidator, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg TokenServiceConfig) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	defaults := models.DefaultTokenConfig()
	if cfg.Defaults.ExpirationHours > 0 {
		defaults.ExpirationHours = cfg.Defaults.ExpirationHours
	}
	if cfg.Defaults.MaxDownloads > 0 {
		defaults.MaxDownloads = cfg.Defaults.MaxDownloads
	}
	return &TokenService{
		store:       store,
		links:       links,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		concurrency: cfg.Concurrency,
		defaults:    defaults,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type issueInput struct {
	Documents      []models.DocumentRef `validate:"required,min=1,dive"`
	RecipientEmail string               `validate:"required,email"`
	OrderID        string               `validate:"required"`
	Config         models.TokenConfig
}

// IssueTokens creates one token per document. Documents are issued
// concurrently; a document whose token cannot be stored is logged and left
// out, so the result holds the successful subset in input order.
func (s *TokenService) IssueTokens(ctx context.Context, documents []models.DocumentRef, recipientEmail, orderID string, cfg *models.TokenConfig) ([]models.IssuedLink, error) {
	input := issueInput{
		Documents:      documents,
		RecipientEmail: strings.ToLower(strings.TrimSpace(recipientEmail)),
		OrderID:        strings.TrimSpace(orderID),
		Config:         s.resolveConfig(cfg),
	}
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid issuance request")
	}
	if input.Config.ExpirationHours <= 0 || input.Config.MaxDownloads <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "expiration and download limit must be positive")
	}
	if input.Config.ExpirationHours > models.MaxExpirationHours {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("expiration cannot exceed %d hours", models.MaxExpirationHours))
	}

	issuedAt := s.now()
	expiresAt := issuedAt.Add(time.Duration(input.Config.ExpirationHours) * time.Hour)

	results := make([]*models.IssuedLink, len(documents))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for i, doc := range documents {
		wg.Add(1)
		go func(i int, doc models.DocumentRef) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				s.logger.Warn("token issuance cancelled", zap.String("document_id", doc.ID), zap.Error(ctx.Err()))
				return
			}
			defer func() { <-sem }()

			link, err := s.issueOne(ctx, doc, input, issuedAt, expiresAt)
			s.metrics.RecordTokenIssued(err == nil)
			if err != nil {
				s.logger.Error("failed to issue download token",
					zap.String("document_id", doc.ID),
					zap.String("order_id", input.OrderID),
					zap.Error(err))
				return
			}
			results[i] = link
		}(i, doc)
	}
	wg.Wait()

	links := make([]models.IssuedLink, 0, len(documents))
	for _, link := range results {
		if link != nil {
			links = append(links, *link)
		}
	}

	if len(links) > 0 {
		s.invalidateStats(ctx)
	}
	s.logger.Info("download tokens issued",
		zap.String("order_id", input.OrderID),
		zap.Int("requested", len(documents)),
		zap.Int("issued", len(links)))
	return links, nil
}

func (s *TokenService) issueOne(ctx context.Context, doc models.DocumentRef, input issueInput, issuedAt, expiresAt time.Time) (*models.IssuedLink, error) {
	var lastErr error
	for attempt := 0; attempt < maxTokenCollisions; attempt++ {
		value, err := s.links.Token()
		if err != nil {
			return nil, err
		}
		token := &models.DownloadToken{
			Token:          value,
			DocumentID:     doc.ID,
			RecipientEmail: input.RecipientEmail,
			OrderID:        input.OrderID,
			ExpiresAt:      expiresAt,
			MaxDownloads:   input.Config.MaxDownloads,
			IsActive:       true,
			CreatedAt:      issuedAt,
		}
		if err := s.store.Create(ctx, token); err != nil {
			if errors.Is(err, repository.ErrDuplicateToken) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return &models.IssuedLink{
			TokenID:      token.ID,
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
			SecureURL:    s.links.URL(value, input.RecipientEmail),
			ExpiresAt:    expiresAt,
			MaxDownloads: token.MaxDownloads,
		}, nil
	}
	return nil, lastErr
}

func (s *TokenService) resolveConfig(cfg *models.TokenConfig) models.TokenConfig {
	resolved := s.defaults
	if cfg == nil {
		return resolved
	}
	if cfg.ExpirationHours != 0 {
		resolved.ExpirationHours = cfg.ExpirationHours
	}
	if cfg.MaxDownloads != 0 {
		resolved.MaxDownloads = cfg.MaxDownloads
	}
	return resolved
}

// RevokeToken deactivates a token ahead of its expiry.
func (s *TokenService) RevokeToken(ctx context.Context, tokenID, actor string) error {
	token, err := s.store.GetByID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "download token not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load download token")
	}
	changed, err := s.store.Deactivate(ctx, token.ID, s.now())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke download token")
	}
	if changed {
		s.invalidateStats(ctx)
	}
	s.logger.Info("download token revoked",
		zap.String("token_id", token.ID),
		zap.String("order_id", token.OrderID),
		zap.String("actor", actor),
		zap.Bool("changed", changed))
	return nil
}

func (s *TokenService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, statsCachePattern); err != nil {
		s.logger.Warn("failed to invalidate statistics cache", zap.Error(err))
	}
}
