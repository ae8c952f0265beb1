package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/secure-docs-api/internal/models"
	"github.com/noah-isme/secure-docs-api/internal/repository"
)

// memTokenStore mimics the conditional update of the postgres repository
// under a mutex so concurrency tests exercise the same contract.
type memTokenStore struct {
	mu         sync.Mutex
	byID       map[string]*models.DownloadToken
	byToken    map[string]string
	failDocs   map[string]error
	duplicates int
	lookupErr  error
	consumeErr error
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{
		byID:     make(map[string]*models.DownloadToken),
		byToken:  make(map[string]string),
		failDocs: make(map[string]error),
	}
}

func (m *memTokenStore) Create(ctx context.Context, token *models.DownloadToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failDocs[token.DocumentID]; err != nil {
		return err
	}
	if m.duplicates > 0 {
		m.duplicates--
		return repository.ErrDuplicateToken
	}
	if _, exists := m.byToken[token.Token]; exists {
		return repository.ErrDuplicateToken
	}
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	stored := *token
	m.byID[stored.ID] = &stored
	m.byToken[stored.Token] = stored.ID
	return nil
}

func (m *memTokenStore) GetByToken(ctx context.Context, token string) (*models.DownloadToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	id, ok := m.byToken[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *m.byID[id]
	return &copied, nil
}

func (m *memTokenStore) GetByID(ctx context.Context, id string) (*models.DownloadToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *row
	return &copied, nil
}

func (m *memTokenStore) ConsumeDownload(ctx context.Context, id string, now time.Time) (*models.DownloadToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumeErr != nil {
		return nil, m.consumeErr
	}
	row, ok := m.byID[id]
	if !ok || !row.IsActive || !row.ExpiresAt.After(now) || row.DownloadCount >= row.MaxDownloads {
		return nil, sql.ErrNoRows
	}
	row.DownloadCount++
	copied := *row
	return &copied, nil
}

func (m *memTokenStore) Deactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byID[id]
	if !ok || !row.IsActive {
		return false, nil
	}
	row.IsActive = false
	row.DeactivatedAt = &at
	return true, nil
}

func (m *memTokenStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, row := range m.byID {
		if row.IsActive && row.ExpiresAt.Before(now) {
			row.IsActive = false
			row.DeactivatedAt = &now
			count++
		}
	}
	return count, nil
}

func (m *memTokenStore) CountTokens(ctx context.Context, orderID string, now time.Time) (models.TokenCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var counts models.TokenCounts
	for _, row := range m.byID {
		if orderID != "" && row.OrderID != orderID {
			continue
		}
		counts.Total++
		switch {
		case !row.ExpiresAt.After(now):
			counts.Expired++
		case row.IsActive:
			counts.Active++
		}
	}
	return counts, nil
}

// put stores a token row directly and returns its opaque value.
func (m *memTokenStore) put(row models.DownloadToken) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	m.byID[row.ID] = &row
	m.byToken[row.Token] = row.ID
	return row.Token
}

func (m *memTokenStore) get(id string) models.DownloadToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

func (m *memTokenStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memAttemptStore struct {
	mu       sync.Mutex
	attempts []models.DownloadAttempt
	err      error
}

func (m *memAttemptStore) Create(ctx context.Context, attempt *models.DownloadAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *memAttemptStore) List(ctx context.Context, filter models.AttemptFilter) ([]models.DownloadAttempt, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	out := make([]models.DownloadAttempt, 0, len(m.attempts))
	for _, a := range m.attempts {
		if filter.Success != nil && a.Success != *filter.Success {
			continue
		}
		out = append(out, a)
	}
	return out, len(out), nil
}

func (m *memAttemptStore) CountAttempts(ctx context.Context, orderID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var successful int
	for _, a := range m.attempts {
		if a.Success {
			successful++
		}
	}
	return len(m.attempts), successful, nil
}

func (m *memAttemptStore) all() []models.DownloadAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.DownloadAttempt(nil), m.attempts...)
}

type memDocuments map[string]models.Document

func (m memDocuments) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, ok := m[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &doc, nil
}

// sequenceLinks yields deterministic, well-formed tokens.
type sequenceLinks struct {
	mu  sync.Mutex
	n   int
	err error
}

func (s *sequenceLinks) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.n++
	return fmt.Sprintf("%064d", s.n), nil
}

func (s *sequenceLinks) URL(token, recipientEmail string) string {
	return "https://docs.test/secure-download/" + token + "?email=" + url.QueryEscape(recipientEmail)
}

type recordingInvalidator struct {
	mu       sync.Mutex
	patterns []string
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
	return nil
}

var errStoreDown = errors.New("store unavailable")
