package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/secure-docs-api/internal/dto"
	"github.com/noah-isme/secure-docs-api/internal/models"
	"github.com/noah-isme/secure-docs-api/internal/repository"
	appErrors "github.com/noah-isme/secure-docs-api/pkg/errors"
)

type memRenewalStore struct {
	mu       sync.Mutex
	requests map[string]*models.RenewalRequest
	history  map[string][]models.RenewalStatusHistory
	// failTo makes the next n transitions into a status fail with errStoreDown.
	failTo map[models.RenewalStatus]int
}

func newMemRenewalStore() *memRenewalStore {
	return &memRenewalStore{
		requests: make(map[string]*models.RenewalRequest),
		history:  make(map[string][]models.RenewalStatusHistory),
		failTo:   make(map[models.RenewalStatus]int),
	}
}

func (m *memRenewalStore) Create(ctx context.Context, req *models.RenewalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	copied := *req
	m.requests[req.ID] = &copied
	return nil
}

func (m *memRenewalStore) GetByID(ctx context.Context, id string) (*models.RenewalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *req
	return &copied, nil
}

func (m *memRenewalStore) List(ctx context.Context, filter models.RenewalFilter) ([]models.RenewalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RenewalRequest, 0, len(m.requests))
	for _, req := range m.requests {
		if len(filter.Status) > 0 {
			match := false
			for _, status := range filter.Status {
				match = match || status == req.Status
			}
			if !match {
				continue
			}
		}
		out = append(out, *req)
	}
	return out, nil
}

func (m *memRenewalStore) Transition(ctx context.Context, params repository.TransitionParams) (*models.RenewalStatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTo[params.To] > 0 {
		m.failTo[params.To]--
		return nil, errStoreDown
	}
	req, ok := m.requests[params.ID]
	if !ok || req.Status != params.From {
		return nil, sql.ErrNoRows
	}
	req.Status = params.To
	req.ProcessedBy = &params.ChangedBy
	req.ProcessedAt = &params.At
	if params.Notes != nil {
		req.AdminNotes = params.Notes
	}
	if params.LinksGenerated != nil {
		req.LinksGenerated = *params.LinksGenerated
	}
	if params.NewLinksSentAt != nil {
		req.NewLinksSentAt = params.NewLinksSentAt
	}
	from := params.From
	entry := models.RenewalStatusHistory{
		ID:        uuid.NewString(),
		RequestID: params.ID,
		OldStatus: &from,
		NewStatus: params.To,
		ChangedBy: params.ChangedBy,
		Notes:     params.Notes,
		CreatedAt: params.At,
	}
	m.history[params.ID] = append(m.history[params.ID], entry)
	return &entry, nil
}

func (m *memRenewalStore) ListHistory(ctx context.Context, requestID string) ([]models.RenewalStatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RenewalStatusHistory(nil), m.history[requestID]...), nil
}

type memOrders struct {
	orders    map[string]models.Order
	documents map[string][]models.Document
	bestMatch *models.Order
	// failNext is returned once by the next lookup.
	failNext error
}

func (m *memOrders) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return nil, err
	}
	order, ok := m.orders[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &order, nil
}

func (m *memOrders) FindBestMatch(ctx context.Context, customerEmail, projectTitle string) (*models.Order, error) {
	if m.bestMatch == nil {
		return nil, sql.ErrNoRows
	}
	return m.bestMatch, nil
}

func (m *memOrders) ListDocuments(ctx context.Context, orderID string) ([]models.Document, error) {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return nil, err
	}
	return m.documents[orderID], nil
}

type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []models.SecureDeliveryNotice
	rejections []models.RenewalRejectedNotice
	err        error
}

func (n *recordingNotifier) SendSecureDocumentDelivery(ctx context.Context, notice models.SecureDeliveryNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.deliveries = append(n.deliveries, notice)
	return nil
}

func (n *recordingNotifier) SendRenewalRejected(ctx context.Context, notice models.RenewalRejectedNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.rejections = append(n.rejections, notice)
	return nil
}

type renewalFixture struct {
	store    *memRenewalStore
	orders   *memOrders
	tokens   *memTokenStore
	notifier *recordingNotifier
	svc      *RenewalService
}

func newRenewalFixture() *renewalFixture {
	category := "drawings"
	orders := &memOrders{
		orders: map[string]models.Order{
			"order-1": {ID: "order-1", CustomerEmail: "alice@x.com"},
		},
		documents: map[string][]models.Document{
			"order-1": {
				{ID: "d1", OrderID: "order-1", Name: "Plans.pdf", Size: 2048, Category: &category},
				{ID: "d2", OrderID: "order-1", Name: "Elevations.pdf", Size: 1024},
			},
		},
	}
	tokens := newMemTokenStore()
	issuer := NewTokenService(tokens, &sequenceLinks{}, nil, nil, nil, nil, TokenServiceConfig{})
	store := newMemRenewalStore()
	notifier := &recordingNotifier{}
	return &renewalFixture{
		store:    store,
		orders:   orders,
		tokens:   tokens,
		notifier: notifier,
		svc:      NewRenewalService(store, orders, issuer, notifier, nil, nil, nil),
	}
}

func (f *renewalFixture) submit(t *testing.T, orderID string) *models.RenewalRequest {
	t.Helper()
	req, err := f.svc.SubmitRequest(context.Background(), dto.SubmitRenewalRequest{
		OrderID:       orderID,
		CustomerEmail: "Alice@X.com",
		Reason:        models.RenewalReasonExpiredLinks,
	})
	require.NoError(t, err)
	return req
}

func requireAppErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, code), "expected %s, got %v", code, err)
}

func TestSubmitRequestDefaults(t *testing.T) {
	f := newRenewalFixture()

	req := f.submit(t, "order-1")
	assert.Equal(t, models.RenewalStatusPending, req.Status)
	assert.Equal(t, models.RenewalPriorityNormal, req.Priority)
	assert.Equal(t, "alice@x.com", req.CustomerEmail)

	lost, err := f.svc.SubmitRequest(context.Background(), dto.SubmitRenewalRequest{
		CustomerEmail: "bob@x.com",
		Reason:        models.RenewalReasonLostEmail,
		ProjectTitle:  "Riverside",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RenewalPriorityHigh, lost.Priority)
	require.NotNil(t, lost.ProjectTitle)

	history, err := f.svc.History(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSubmitRequestValidation(t *testing.T) {
	f := newRenewalFixture()

	_, err := f.svc.SubmitRequest(context.Background(), dto.SubmitRenewalRequest{CustomerEmail: "alice@x.com", Reason: "bored"})
	requireAppErrorCode(t, err, appErrors.ErrValidation.Code)

	_, err = f.svc.SubmitRequest(context.Background(), dto.SubmitRenewalRequest{CustomerEmail: "nope", Reason: models.RenewalReasonOther})
	requireAppErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestTransitionStatusTable(t *testing.T) {
	f := newRenewalFixture()
	req := f.submit(t, "order-1")

	_, err := f.svc.TransitionStatus(context.Background(), req.ID, dto.TransitionRenewalRequest{Status: models.RenewalStatusCompleted}, "admin@x.com")
	requireAppErrorCode(t, err, appErrors.ErrInvalidTransition.Code)

	processing, err := f.svc.TransitionStatus(context.Background(), req.ID, dto.TransitionRenewalRequest{Status: models.RenewalStatusProcessing}, "admin@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.RenewalStatusProcessing, processing.Status)

	links := 3
	completed, err := f.svc.TransitionStatus(context.Background(), req.ID, dto.TransitionRenewalRequest{
		Status:         models.RenewalStatusCompleted,
		Notes:          "sent manually",
		LinksGenerated: &links,
	}, "admin@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.RenewalStatusCompleted, completed.Status)
	assert.Equal(t, 3, completed.LinksGenerated)
	require.NotNil(t, completed.ProcessedBy)
	assert.Equal(t, "admin@x.com", *completed.ProcessedBy)

	history, err := f.svc.History(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.RenewalStatusPending, *history[0].OldStatus)
	assert.Equal(t, models.RenewalStatusProcessing, history[0].NewStatus)
	assert.Equal(t, models.RenewalStatusCompleted, history[1].NewStatus)

	_, err = f.svc.TransitionStatus(context.Background(), req.ID, dto.TransitionRenewalRequest{Status: models.RenewalStatusRejected}, "admin@x.com")
	requireAppErrorCode(t, err, appErrors.ErrInvalidTransition.Code)
}

func TestTransitionStatusUnknownRequest(t *testing.T) {
	f := newRenewalFixture()
	_, err := f.svc.TransitionStatus(context.Background(), "missing", dto.TransitionRenewalRequest{Status: models.RenewalStatusProcessing}, "admin@x.com")
	requireAppErrorCode(t, err, appErrors.ErrNotFound.Code)
}

func TestApproveAndReissueCompletes(t *testing.T) {
	f := newRenewalFixture()
	req := f.submit(t, "order-1")
	message := "Here are your new links"

	outcome, err := f.svc.ApproveAndReissue(context.Background(), req.ID, "admin@x.com", &message)
	require.NoError(t, err)
	assert.True(t, outcome.Delivered)
	assert.Equal(t, 2, outcome.LinksGenerated)
	assert.Equal(t, models.RenewalStatusCompleted, outcome.Request.Status)
	assert.NotNil(t, outcome.Request.NewLinksSentAt)

	require.Len(t, f.notifier.deliveries, 1)
	notice := f.notifier.deliveries[0]
	assert.Equal(t, "alice@x.com", notice.CustomerEmail)
	assert.Equal(t, "order-1", notice.OrderID)
	require.Len(t, notice.Documents, 2)
	assert.Equal(t, "Plans.pdf", notice.Documents[0].Name)
	require.NotNil(t, notice.Documents[0].Category)
	assert.Equal(t, models.DefaultMaxDownloads, notice.MaxDownloads)
	assert.Equal(t, &message, notice.AdminMessage)

	stored, err := f.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RenewalStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.LinksGenerated)

	history, err := f.svc.History(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestApproveAndReissueTwiceIssuesOneBatch(t *testing.T) {
	f := newRenewalFixture()
	req := f.submit(t, "order-1")

	_, err := f.svc.ApproveAndReissue(context.Background(), req.ID, "admin@x.com", nil)
	require.NoError(t, err)

	_, err = f.svc.ApproveAndReissue(context.Background(), req.ID, "admin@x.com", nil)
	requireAppErrorCode(t, err, appErrors.ErrConflict.Code)
	assert.Equal(t, 2, f.tokens.count())
}

func TestApproveAndReissueRetriesAfterOrderLookupFailure(t *testing.T) {
	f := newRenewalFixture()
	req := f.submit(t, "order-1")
	f.orders.failNext = errors.New("connection reset")

	_, err := f.svc.ApproveAndReissue(context.Background(), req.ID, "admin@x.com", nil)
	requireAppErrorCode(t, err, appErrors.ErrInternal.Code)
	assert.Zero(t, f.tokens.count())

	stored, err := f.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RenewalStatusPending, stored.Status)

	outcome, err := f.svc.ApproveAndReissue(context.Background(), req.ID, "admin@x.com", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RenewalStatusCompleted, outcome.Request.Status)
	assert.Equal(t, 2, f.tokens.count())

	history, err := f.svc.History(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, models.RenewalStatusProcessing, *history[1].OldStatus)
	assert.Equal(t, models.RenewalStatusPending, history[1].NewStatus)
}

func TestApproveAndReissueReleasesClaimWhenDocumentsFail(t *testing.T) {
	f := newRenewalFixture()
	req := f.submit(t, "")
	f.orders.bestMatch = &models.Order{ID: "order-1", CustomerEmail: "alice@x.com"}
	f.orders.failNext = errors.New("connection reset")

	_, err := f.svc.ApproveAndReissue(context.Background(), req.ID, "admin@x.com", nil)
	requireAppErrorCode(t, err, appErrors.ErrInternal.Code)

	stored, err := f.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RenewalStatusPending, stored.Status)
}

func TestApproveAndReissueRetriesCompletionOnce(t *testing.T) {
	f := newRenewalFixture()
	req := f.submit(t, "order-1")
	f.store.failTo[models.RenewalStatusCompleted] = 1

	outcome, err := f.svc.ApproveAndReissue(context.Background(), req.ID, "admin@x.com", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RenewalStatusCompleted, outcome.Request.Status)
	assert.Equal(t, 2, f.tokens.count())
}

func TestApproveAndReissueCompletionFailureKeepsClaim(t *testing.T) {
	f := newRenewalFixture()
	req := f.submit(t, "order-1")
	f.store.failTo[models.RenewalStatusCompleted] = 2

	_, err := f.svc.ApproveAndReissue(context.Background(), req.ID, "admin@x.com", nil)
	requireAppErrorCode(t, err, appErrors.ErrInternal.Code)

	stored, err := f.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RenewalStatusProcessing, stored.Status)

	_, err = f.svc.ApproveAndReissue(context.Background(), req.ID, "admin@x.com", nil)
	requireAppErrorCode(t, err, appErrors.ErrConflict.Code)
	assert.Equal(t, 2, f.tokens.count())
}

func TestApproveAndReissueConcurrentCallsIssueOneBatch(t *testing.T) {
	f := newRenewalFixture()
	req := f.submit(t, "order-1")

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := f.svc.ApproveAndReissue(context.Background(), req.ID, "admin@x.com", nil); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 2, f.tokens.count())
}

func TestApproveAndReissueFallsBackToBestMatch(t *testing.T) {
	f := newRenewalFixture()
	f.orders.bestMatch = &models.Order{ID: "order-1", CustomerEmail: "alice@x.com"}
	req := f.submit(t, "")

	outcome, err := f.svc.ApproveAndReissue(context.Background(), req.ID, "admin@x.com", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RenewalStatusCompleted, outcome.Request.Status)
	assert.Equal(t, 2, outcome.LinksGenerated)
}

func TestApproveAndReissueRejectsWithoutOrder(t *testing.T) {
	f := newRenewalFixture()
	req := f.submit(t, "order-unknown")

	outcome, err := f.svc.ApproveAndReissue(context.Background(), req.ID, "admin@x.com", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RenewalStatusRejected, outcome.Request.Status)
	require.NotNil(t, outcome.Request.AdminNotes)
	assert.Equal(t, noteNoOrder, *outcome.Request.AdminNotes)
	assert.Zero(t, f.tokens.count())
	assert.Empty(t, f.notifier.deliveries)
}

func TestApproveAndReissueRejectsWithoutDocuments(t *testing.T) {
	f := newRenewalFixture()
	f.orders.documents["order-1"] = nil
	req := f.submit(t, "order-1")

	outcome, err := f.svc.ApproveAndReissue(context.Background(), req.ID, "admin@x.com", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RenewalStatusRejected, outcome.Request.Status)
	assert.Equal(t, noteNoDocuments, *outcome.Request.AdminNotes)

	history, err := f.svc.History(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.RenewalStatusRejected, history[1].NewStatus)
}

func TestApproveAndReissueDeliveryFailureStillCompletes(t *testing.T) {
	f := newRenewalFixture()
	f.notifier.err = errors.New("smtp down")
	req := f.submit(t, "order-1")

	outcome, err := f.svc.ApproveAndReissue(context.Background(), req.ID, "admin@x.com", nil)
	require.NoError(t, err)
	assert.False(t, outcome.Delivered)
	assert.Equal(t, "smtp down", outcome.DeliveryError)
	assert.Equal(t, models.RenewalStatusCompleted, outcome.Request.Status)
	assert.Nil(t, outcome.Request.NewLinksSentAt)
	assert.Equal(t, 2, outcome.Request.LinksGenerated)
}

func TestRejectFromPendingAndProcessing(t *testing.T) {
	f := newRenewalFixture()

	pending := f.submit(t, "order-1")
	rejected, err := f.svc.Reject(context.Background(), pending.ID, "admin@x.com", "duplicate request")
	require.NoError(t, err)
	assert.Equal(t, models.RenewalStatusRejected, rejected.Status)
	require.Len(t, f.notifier.rejections, 1)
	assert.Equal(t, "duplicate request", *f.notifier.rejections[0].Notes)

	processing := f.submit(t, "order-1")
	_, err = f.svc.TransitionStatus(context.Background(), processing.ID, dto.TransitionRenewalRequest{Status: models.RenewalStatusProcessing}, "admin@x.com")
	require.NoError(t, err)
	_, err = f.svc.Reject(context.Background(), processing.ID, "admin@x.com", "order refunded")
	require.NoError(t, err)

	_, err = f.svc.Reject(context.Background(), processing.ID, "admin@x.com", "again")
	requireAppErrorCode(t, err, appErrors.ErrInvalidTransition.Code)

	_, err = f.svc.Reject(context.Background(), pending.ID, "admin@x.com", "")
	requireAppErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestListRequestsFiltersStatus(t *testing.T) {
	f := newRenewalFixture()
	first := f.submit(t, "order-1")
	f.submit(t, "order-1")
	_, err := f.svc.Reject(context.Background(), first.ID, "admin@x.com", "spam")
	require.NoError(t, err)

	pending, err := f.svc.ListRequests(context.Background(), dto.RenewalQuery{Status: []models.RenewalStatus{models.RenewalStatusPending}})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = f.svc.ListRequests(context.Background(), dto.RenewalQuery{Status: []models.RenewalStatus{"archived"}})
	requireAppErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestRenewalTransitionsAreTimestamped(t *testing.T) {
	f := newRenewalFixture()
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }
	req := f.submit(t, "order-1")

	updated, err := f.svc.TransitionStatus(context.Background(), req.ID, dto.TransitionRenewalRequest{Status: models.RenewalStatusProcessing}, "admin@x.com")
	require.NoError(t, err)
	require.NotNil(t, updated.ProcessedAt)
	assert.Equal(t, fixed, *updated.ProcessedAt)
}
