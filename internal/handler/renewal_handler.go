package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/secure-docs-api/internal/dto"
	"github.com/noah-isme/secure-docs-api/internal/models"
	appErrors "github.com/noah-isme/secure-docs-api/pkg/errors"
	"github.com/noah-isme/secure-docs-api/pkg/response"
)

type renewalService interface {
	SubmitRequest(ctx context.Context, req dto.SubmitRenewalRequest) (*models.RenewalRequest, error)
	ListRequests(ctx context.Context, query dto.RenewalQuery) ([]models.RenewalRequest, error)
	GetRequest(ctx context.Context, id string) (*models.RenewalRequest, error)
	History(ctx context.Context, id string) ([]models.RenewalStatusHistory, error)
	TransitionStatus(ctx context.Context, id string, req dto.TransitionRenewalRequest, actor string) (*models.RenewalRequest, error)
	Reject(ctx context.Context, id, actor, notes string) (*models.RenewalRequest, error)
	ApproveAndReissue(ctx context.Context, id, actor string, adminMessage *string) (*models.RenewalOutcome, error)
}

type approveRenewalBody struct {
	AdminMessage string `json:"adminMessage"`
}

// RenewalHandler exposes the renewal workflow.
type RenewalHandler struct {
	service renewalService
}

// NewRenewalHandler constructs the handler.
func NewRenewalHandler(svc renewalService) *RenewalHandler {
	return &RenewalHandler{service: svc}
}

// Submit godoc
// @Summary Request new download links
// @Tags Renewals
// @Accept json
// @Produce json
// @Param payload body dto.SubmitRenewalRequest true "Renewal payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /renewals [post]
func (h *RenewalHandler) Submit(c *gin.Context) {
	var req dto.SubmitRenewalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid renewal payload"))
		return
	}
	request, err := h.service.SubmitRequest(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// List godoc
// @Summary List renewal requests
// @Tags Renewals
// @Produce json
// @Security BearerAuth
// @Param status query string false "Comma separated statuses"
// @Param priority query string false "Priority"
// @Param email query string false "Customer email"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /admin/renewals [get]
func (h *RenewalHandler) List(c *gin.Context) {
	query := dto.RenewalQuery{
		Priority:      models.RenewalPriority(strings.TrimSpace(c.Query("priority"))),
		CustomerEmail: strings.TrimSpace(c.Query("email")),
		Limit:         queryInt(c, "limit", 50),
		Offset:        queryInt(c, "offset", 0),
	}
	for _, raw := range strings.Split(c.Query("status"), ",") {
		if status := strings.TrimSpace(raw); status != "" {
			query.Status = append(query.Status, models.RenewalStatus(status))
		}
	}

	requests, err := h.service.ListRequests(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Get godoc
// @Summary Get a renewal request
// @Tags Renewals
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/renewals/{id} [get]
func (h *RenewalHandler) Get(c *gin.Context) {
	request, err := h.service.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// History godoc
// @Summary Status history of a renewal request
// @Tags Renewals
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/renewals/{id}/history [get]
func (h *RenewalHandler) History(c *gin.Context) {
	history, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Transition godoc
// @Summary Change renewal status
// @Tags Renewals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Param payload body dto.TransitionRenewalRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/renewals/{id}/status [post]
func (h *RenewalHandler) Transition(c *gin.Context) {
	var req dto.TransitionRenewalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	request, err := h.service.TransitionStatus(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Approve godoc
// @Summary Approve and reissue links
// @Description Issues fresh links for the matched order and emails them
// @Tags Renewals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Param payload body approveRenewalBody false "Optional message"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/renewals/{id}/approve [post]
func (h *RenewalHandler) Approve(c *gin.Context) {
	var body approveRenewalBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid approval payload"))
		return
	}
	var message *string
	if msg := strings.TrimSpace(body.AdminMessage); msg != "" {
		message = &msg
	}

	outcome, err := h.service.ApproveAndReissue(c.Request.Context(), c.Param("id"), actorFromContext(c), message)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// Reject godoc
// @Summary Reject a renewal request
// @Tags Renewals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Param payload body dto.RejectRenewalRequest true "Rejection notes"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/renewals/{id}/reject [post]
func (h *RenewalHandler) Reject(c *gin.Context) {
	var req dto.RejectRenewalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rejection payload"))
		return
	}
	request, err := h.service.Reject(c.Request.Context(), c.Param("id"), actorFromContext(c), req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}
