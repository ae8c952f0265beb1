package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/secure-docs-api/internal/dto"
	"github.com/noah-isme/secure-docs-api/internal/models"
	"github.com/noah-isme/secure-docs-api/internal/service"
	appErrors "github.com/noah-isme/secure-docs-api/pkg/errors"
	"github.com/noah-isme/secure-docs-api/pkg/response"
)

type auditService interface {
	GetStatistics(ctx context.Context, orderID string) (*models.DownloadStatistics, error)
	CleanupExpiredTokens(ctx context.Context) (int64, error)
	ListAttempts(ctx context.Context, filter models.AttemptFilter) ([]models.DownloadAttempt, *models.Pagination, error)
	ExportAttempts(ctx context.Context, filter models.AttemptFilter, format string) (*service.ExportFile, error)
}

// AuditHandler exposes download statistics and the attempt log.
type AuditHandler struct {
	service auditService
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(svc auditService) *AuditHandler {
	return &AuditHandler{service: svc}
}

// Statistics godoc
// @Summary Download statistics
// @Tags Downloads
// @Produce json
// @Security BearerAuth
// @Param order_id query string false "Restrict to one order"
// @Success 200 {object} response.Envelope
// @Router /admin/downloads/statistics [get]
func (h *AuditHandler) Statistics(c *gin.Context) {
	stats, err := h.service.GetStatistics(c.Request.Context(), c.Query("order_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Cleanup godoc
// @Summary Deactivate expired tokens
// @Tags Downloads
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /admin/downloads/cleanup [post]
func (h *AuditHandler) Cleanup(c *gin.Context) {
	count, err := h.service.CleanupExpiredTokens(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.CleanupResponse{Deactivated: count}, nil)
}

// ListAttempts godoc
// @Summary List download attempts
// @Tags Downloads
// @Produce json
// @Security BearerAuth
// @Param token_id query string false "Token ID"
// @Param order_id query string false "Order ID"
// @Param success query bool false "Outcome filter"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/downloads/attempts [get]
func (h *AuditHandler) ListAttempts(c *gin.Context) {
	filter, err := attemptFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	attempts, pagination, err := h.service.ListAttempts(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attempts, pagination)
}

// ExportAttempts godoc
// @Summary Export download attempts
// @Tags Downloads
// @Produce octet-stream
// @Security BearerAuth
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /admin/downloads/attempts/export [get]
func (h *AuditHandler) ExportAttempts(c *gin.Context) {
	filter, err := attemptFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.service.ExportAttempts(c.Request.Context(), filter, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

func attemptFilterFromQuery(c *gin.Context) (models.AttemptFilter, error) {
	filter := models.AttemptFilter{
		TokenID: strings.TrimSpace(c.Query("token_id")),
		OrderID: strings.TrimSpace(c.Query("order_id")),
		Limit:   queryInt(c, "limit", 100),
		Offset:  queryInt(c, "offset", 0),
	}
	if raw := strings.TrimSpace(c.Query("success")); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "success must be true or false")
		}
		filter.Success = &success
	}
	return filter, nil
}
