package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/secure-docs-api/internal/models"
	appErrors "github.com/noah-isme/secure-docs-api/pkg/errors"
)

type memStatsCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	invalidated int
}

func newMemStatsCache() *memStatsCache {
	return &memStatsCache{entries: make(map[string][]byte)}
}

func (c *memStatsCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *memStatsCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *memStatsCache) Invalidate(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.invalidated++
	return nil
}

func seedAuditTokens(store *memTokenStore) {
	now := time.Now()
	store.put(models.DownloadToken{ID: "t1", Token: "a", OrderID: "order-1", ExpiresAt: now.Add(time.Hour), MaxDownloads: 5, IsActive: true})
	store.put(models.DownloadToken{ID: "t2", Token: "b", OrderID: "order-1", ExpiresAt: now.Add(-time.Hour), MaxDownloads: 5, IsActive: true})
	store.put(models.DownloadToken{ID: "t3", Token: "c", OrderID: "order-2", ExpiresAt: now.Add(time.Hour), MaxDownloads: 5, IsActive: false})
}

func TestGetStatistics(t *testing.T) {
	tokens := newMemTokenStore()
	seedAuditTokens(tokens)
	attempts := &memAttemptStore{}
	reason := models.ReasonUnauthorized
	require.NoError(t, attempts.Create(context.Background(), &models.DownloadAttempt{Success: true}))
	require.NoError(t, attempts.Create(context.Background(), &models.DownloadAttempt{Success: false, FailureReason: &reason}))
	require.NoError(t, attempts.Create(context.Background(), &models.DownloadAttempt{Success: true}))

	svc := NewAuditService(tokens, attempts, nil, nil, nil, time.Minute)
	stats, err := svc.GetStatistics(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalTokens)
	assert.Equal(t, 1, stats.ActiveTokens)
	assert.Equal(t, 1, stats.ExpiredTokens)
	assert.Equal(t, 1, stats.RevokedTokens)
	assert.Equal(t, 3, stats.TotalAttempts)
	assert.Equal(t, 2, stats.SuccessfulDownloads)
	assert.Equal(t, 1, stats.FailedAttempts)

	perOrder, err := svc.GetStatistics(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", perOrder.OrderID)
	assert.Equal(t, 2, perOrder.TotalTokens)
	assert.Equal(t, 1, perOrder.ActiveTokens)
}

func TestGetStatisticsUsesCacheUntilCleanup(t *testing.T) {
	tokens := newMemTokenStore()
	seedAuditTokens(tokens)
	cache := newMemStatsCache()
	svc := NewAuditService(tokens, &memAttemptStore{}, cache, nil, nil, time.Minute)

	first, err := svc.GetStatistics(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, first.TotalTokens)

	tokens.put(models.DownloadToken{ID: "t4", Token: "d", OrderID: "order-3", ExpiresAt: time.Now().Add(time.Hour), MaxDownloads: 1, IsActive: true})
	cached, err := svc.GetStatistics(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, cached.TotalTokens)

	count, err := svc.CleanupExpiredTokens(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, 1, cache.invalidated)

	fresh, err := svc.GetStatistics(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 4, fresh.TotalTokens)
	assert.False(t, tokens.get("t2").IsActive)
}

func TestGetStatisticsReflectsVerifications(t *testing.T) {
	tokens := newMemTokenStore()
	attempts := &memAttemptStore{}
	cache := newMemStatsCache()
	docs := memDocuments{"d1": {ID: "d1", OrderID: "order-1", Name: "Elevations.pdf"}}
	issuer := NewTokenService(tokens, &sequenceLinks{}, cache, nil, nil, nil, TokenServiceConfig{})
	verifier := NewAccessService(tokens, attempts, docs, cache, nil, nil)
	svc := NewAuditService(tokens, attempts, cache, nil, nil, time.Minute)

	links, err := issuer.IssueTokens(context.Background(), []models.DocumentRef{{ID: "d1", Name: "Elevations.pdf"}}, "alice@x.com", "order-1", nil)
	require.NoError(t, err)
	require.Len(t, links, 1)

	before, err := svc.GetStatistics(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Zero(t, before.TotalAttempts)

	result := verifier.VerifyToken(context.Background(), tokens.get(links[0].TokenID).Token, "alice@x.com", "", "")
	require.True(t, result.Valid)

	after, err := svc.GetStatistics(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, 1, after.TotalAttempts)
	assert.Equal(t, 1, after.SuccessfulDownloads)
	assert.Equal(t, 1, after.ActiveTokens)
}

func TestCleanupExpiredTokensNothingToDo(t *testing.T) {
	tokens := newMemTokenStore()
	cache := newMemStatsCache()
	svc := NewAuditService(tokens, &memAttemptStore{}, cache, nil, nil, 0)

	count, err := svc.CleanupExpiredTokens(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, cache.invalidated)
}

func TestStartCleanupRunsOnTicker(t *testing.T) {
	tokens := newMemTokenStore()
	seedAuditTokens(tokens)
	svc := NewAuditService(tokens, &memAttemptStore{}, nil, nil, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.StartCleanup(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return !tokens.get("t2").IsActive
	}, time.Second, 5*time.Millisecond)
}

func TestListAttemptsPagination(t *testing.T) {
	attempts := &memAttemptStore{}
	for i := 0; i < 3; i++ {
		require.NoError(t, attempts.Create(context.Background(), &models.DownloadAttempt{AttemptedEmail: "a@x.com"}))
	}
	svc := NewAuditService(newMemTokenStore(), attempts, nil, nil, nil, 0)

	list, page, err := svc.ListAttempts(context.Background(), models.AttemptFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.PageSize)
	assert.Equal(t, 3, page.TotalCount)
}

func TestExportAttempts(t *testing.T) {
	attempts := &memAttemptStore{}
	tokenID := "t1"
	reason := models.ReasonLimitExceeded
	require.NoError(t, attempts.Create(context.Background(), &models.DownloadAttempt{
		TokenID:        &tokenID,
		AttemptedEmail: "alice@x.com",
		FailureReason:  &reason,
		AttemptedAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}))
	svc := NewAuditService(newMemTokenStore(), attempts, nil, nil, nil, 0)

	file, err := svc.ExportAttempts(context.Background(), models.AttemptFilter{}, "CSV")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.True(t, strings.HasSuffix(file.Filename, ".csv"))
	body := string(file.Data)
	assert.Contains(t, body, "Attempted At,Token ID,Email")
	assert.Contains(t, body, "alice@x.com")
	assert.Contains(t, body, models.ReasonLimitExceeded)

	pdf, err := svc.ExportAttempts(context.Background(), models.AttemptFilter{}, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdf.ContentType)
	assert.True(t, strings.HasPrefix(string(pdf.Data), "%PDF"))

	_, err = svc.ExportAttempts(context.Background(), models.AttemptFilter{}, "xml")
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}
