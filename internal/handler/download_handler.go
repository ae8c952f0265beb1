package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/secure-docs-api/internal/dto"
	"github.com/noah-isme/secure-docs-api/internal/models"
	appErrors "github.com/noah-isme/secure-docs-api/pkg/errors"
	"github.com/noah-isme/secure-docs-api/pkg/response"
)

type deliveryService interface {
	IssueAndDeliver(ctx context.Context, req dto.IssueTokensRequest) (*dto.IssueTokensResponse, error)
}

type accessService interface {
	VerifyToken(ctx context.Context, token, attemptedEmail, ip, userAgent string) models.VerificationResult
}

type revokeService interface {
	RevokeToken(ctx context.Context, tokenID, actor string) error
}

// DownloadHandler exposes secure link issuance and verification.
type DownloadHandler struct {
	delivery deliveryService
	access   accessService
	tokens   revokeService
}

// NewDownloadHandler constructs the handler.
func NewDownloadHandler(delivery deliveryService, access accessService, tokens revokeService) *DownloadHandler {
	return &DownloadHandler{delivery: delivery, access: access, tokens: tokens}
}

// Issue godoc
// @Summary Issue secure download links
// @Description Mint one token per document and optionally email the links
// @Tags Downloads
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.IssueTokensRequest true "Issuance payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/downloads/issue [post]
func (h *DownloadHandler) Issue(c *gin.Context) {
	var req dto.IssueTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid issuance payload"))
		return
	}

	res, err := h.delivery.IssueAndDeliver(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Verify godoc
// @Summary Verify a secure download link
// @Description Checks the token against the supplied email. Denials return 200 with valid=false.
// @Tags Downloads
// @Accept json
// @Produce json
// @Param token path string true "Download token"
// @Param payload body dto.VerifyTokenRequest true "Visitor email"
// @Success 200 {object} response.Envelope
// @Router /secure-download/{token}/verify [post]
func (h *DownloadHandler) Verify(c *gin.Context) {
	var req dto.VerifyTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid verification payload"))
		return
	}

	result := h.access.VerifyToken(c.Request.Context(), c.Param("token"), req.Email, c.ClientIP(), c.GetHeader("User-Agent"))
	response.JSON(c, http.StatusOK, result, nil)
}

// Revoke godoc
// @Summary Revoke a download token
// @Tags Downloads
// @Produce json
// @Security BearerAuth
// @Param id path string true "Token ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /admin/downloads/tokens/{id}/revoke [post]
func (h *DownloadHandler) Revoke(c *gin.Context) {
	if err := h.tokens.RevokeToken(c.Request.Context(), c.Param("id"), actorFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
