package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/secure-docs-api/internal/dto"
	"github.com/noah-isme/secure-docs-api/internal/middleware"
	"github.com/noah-isme/secure-docs-api/internal/models"
	appErrors "github.com/noah-isme/secure-docs-api/pkg/errors"
)

type renewalServiceMock struct {
	submitted    dto.SubmitRenewalRequest
	query        dto.RenewalQuery
	transition   dto.TransitionRenewalRequest
	actor        string
	notes        string
	adminMessage *string
	approveErr   error
	getErr       error
}

func (m *renewalServiceMock) SubmitRequest(ctx context.Context, req dto.SubmitRenewalRequest) (*models.RenewalRequest, error) {
	m.submitted = req
	return &models.RenewalRequest{ID: "r1", Status: models.RenewalStatusPending}, nil
}

func (m *renewalServiceMock) ListRequests(ctx context.Context, query dto.RenewalQuery) ([]models.RenewalRequest, error) {
	m.query = query
	return []models.RenewalRequest{{ID: "r1"}}, nil
}

func (m *renewalServiceMock) GetRequest(ctx context.Context, id string) (*models.RenewalRequest, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &models.RenewalRequest{ID: id}, nil
}

func (m *renewalServiceMock) History(ctx context.Context, id string) ([]models.RenewalStatusHistory, error) {
	return []models.RenewalStatusHistory{{RequestID: id}}, nil
}

func (m *renewalServiceMock) TransitionStatus(ctx context.Context, id string, req dto.TransitionRenewalRequest, actor string) (*models.RenewalRequest, error) {
	m.transition = req
	m.actor = actor
	return &models.RenewalRequest{ID: id, Status: req.Status}, nil
}

func (m *renewalServiceMock) Reject(ctx context.Context, id, actor, notes string) (*models.RenewalRequest, error) {
	m.actor = actor
	m.notes = notes
	return &models.RenewalRequest{ID: id, Status: models.RenewalStatusRejected}, nil
}

func (m *renewalServiceMock) ApproveAndReissue(ctx context.Context, id, actor string, adminMessage *string) (*models.RenewalOutcome, error) {
	m.actor = actor
	m.adminMessage = adminMessage
	if m.approveErr != nil {
		return nil, m.approveErr
	}
	return &models.RenewalOutcome{Request: &models.RenewalRequest{ID: id, Status: models.RenewalStatusCompleted}}, nil
}

func newRenewalContext(method, target, body string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, target, http.NoBody)
	} else {
		req, _ = http.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "r1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u1", Email: "ops@x.com", Role: models.RoleAdmin})
	return c, w
}

func TestRenewalHandlerSubmit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &renewalServiceMock{}
	handler := NewRenewalHandler(mockSvc)

	c, w := newRenewalContext(http.MethodPost, "/renewals", `{"customerEmail":"alice@x.com","reason":"expired_links"}`)
	handler.Submit(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "alice@x.com", mockSvc.submitted.CustomerEmail)
	assert.Equal(t, models.RenewalReasonExpiredLinks, mockSvc.submitted.Reason)
}

func TestRenewalHandlerListParsesStatuses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &renewalServiceMock{}
	handler := NewRenewalHandler(mockSvc)

	c, w := newRenewalContext(http.MethodGet, "/admin/renewals?status=pending,%20processing,&priority=high&limit=5", "")
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.RenewalStatus{models.RenewalStatusPending, models.RenewalStatusProcessing}, mockSvc.query.Status)
	assert.Equal(t, models.RenewalPriority("high"), mockSvc.query.Priority)
	assert.Equal(t, 5, mockSvc.query.Limit)
}

func TestRenewalHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRenewalHandler(&renewalServiceMock{getErr: appErrors.Clone(appErrors.ErrNotFound, "renewal request not found")})

	c, w := newRenewalContext(http.MethodGet, "/admin/renewals/r1", "")
	handler.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRenewalHandlerTransitionUsesActorEmail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &renewalServiceMock{}
	handler := NewRenewalHandler(mockSvc)

	c, w := newRenewalContext(http.MethodPost, "/admin/renewals/r1/status", `{"status":"processing","notes":"on it"}`)
	handler.Transition(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RenewalStatusProcessing, mockSvc.transition.Status)
	assert.Equal(t, "ops@x.com", mockSvc.actor)
}

func TestRenewalHandlerApproveWithoutBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &renewalServiceMock{}
	handler := NewRenewalHandler(mockSvc)

	c, w := newRenewalContext(http.MethodPost, "/admin/renewals/r1/approve", "")
	handler.Approve(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, mockSvc.adminMessage)
}

func TestRenewalHandlerApproveWithMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &renewalServiceMock{}
	handler := NewRenewalHandler(mockSvc)

	c, w := newRenewalContext(http.MethodPost, "/admin/renewals/r1/approve", `{"adminMessage":" here you go "}`)
	handler.Approve(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mockSvc.adminMessage)
	assert.Equal(t, "here you go", *mockSvc.adminMessage)
}

func TestRenewalHandlerApproveConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRenewalHandler(&renewalServiceMock{approveErr: appErrors.Clone(appErrors.ErrConflict, "renewal request is not pending")})

	c, w := newRenewalContext(http.MethodPost, "/admin/renewals/r1/approve", `{}`)
	handler.Approve(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRenewalHandlerRejectRequiresNotes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &renewalServiceMock{}
	handler := NewRenewalHandler(mockSvc)

	c, w := newRenewalContext(http.MethodPost, "/admin/renewals/r1/reject", `{"notes":"order refunded"}`)
	handler.Reject(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "order refunded", mockSvc.notes)
	assert.Equal(t, "ops@x.com", mockSvc.actor)
}
