package dto

import "github.com/noah-isme/secure-docs-api/internal/models"

// IssueTokensRequest asks for one secure link per document.
type IssueTokensRequest struct {
	Documents      []models.DocumentRef `json:"documents" validate:"required,min=1,dive"`
	RecipientEmail string               `json:"recipientEmail" validate:"required,email"`
	OrderID        string               `json:"orderId" validate:"required"`
	Config         *models.TokenConfig  `json:"config,omitempty"`
	Lifetime       bool                 `json:"lifetime"`
	Notify         bool                 `json:"notify"`
	CustomerName   string               `json:"customerName"`
	AdminMessage   string               `json:"adminMessage"`
}

// IssueTokensResponse reports minted links and, separately, delivery status.
type IssueTokensResponse struct {
	Links         []models.IssuedLink `json:"links"`
	Requested     int                 `json:"requested"`
	Issued        int                 `json:"issued"`
	Delivered     bool                `json:"delivered"`
	DeliveryError string              `json:"deliveryError,omitempty"`
}

// VerifyTokenRequest carries the email typed by the visitor.
type VerifyTokenRequest struct {
	Email string `json:"email"`
}

// CleanupResponse reports how many tokens were deactivated.
type CleanupResponse struct {
	Deactivated int64 `json:"deactivated"`
}
