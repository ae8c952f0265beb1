package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/secure-docs-api/internal/middleware"
	"github.com/noah-isme/secure-docs-api/internal/models"
	"github.com/noah-isme/secure-docs-api/internal/service"
	appErrors "github.com/noah-isme/secure-docs-api/pkg/errors"
)

type authServiceMock struct {
	lastLogin models.LoginRequest
	loginErr  error
	userID    string
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.lastLogin = req
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &models.LoginResponse{AccessToken: "jwt", ExpiresIn: 3600}, nil
}

func (m *authServiceMock) CurrentUser(ctx context.Context, userID string) (*models.UserInfo, error) {
	m.userID = userID
	return &models.UserInfo{ID: userID, Role: models.RoleAdmin}, nil
}

func TestAuthHandlerLoginCapturesClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &authServiceMock{}
	handler := NewAuthHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"ops@x.com","password":"pw"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "admin-ui")
	req.RemoteAddr = "10.0.0.9:5555"
	c.Request = req

	handler.Login(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops@x.com", mockSvc.lastLogin.Email)
	assert.Equal(t, "admin-ui", mockSvc.lastLogin.UserAgent)
	assert.Equal(t, "10.0.0.9", mockSvc.lastLogin.IP)
}

func TestAuthHandlerLoginRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(&authServiceMock{loginErr: appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"ops@x.com","password":"bad"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Login(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &authServiceMock{}
	handler := NewAuthHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/auth/me", nil)
	handler.Me(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/auth/me", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u1", Role: models.RoleAdmin})
	handler.Me(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", mockSvc.userID)
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(ctx context.Context) error { return p.err }

func TestMetricsHandlerEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	metrics.RecordVerification("granted")

	ready := NewMetricsHandler(metrics, stubPinger{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/ready", nil)
	ready.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	down := NewMetricsHandler(metrics, stubPinger{err: errors.New("dial tcp: refused")})
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/ready", nil)
	down.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "refused")
	assert.Contains(t, w.Body.String(), appErrors.ErrServiceUnavailable.Code)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/health", nil)
	ready.Health(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/metrics", nil)
	ready.Prometheus(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "download_verifications_total")
}
