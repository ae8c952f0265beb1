package dto

import "github.com/noah-isme/secure-docs-api/internal/models"

// SubmitRenewalRequest is the public payload for requesting new links.
type SubmitRenewalRequest struct {
	OrderID         string               `json:"orderId" validate:"max=128"`
	CustomerEmail   string               `json:"customerEmail" validate:"required,email"`
	CustomerName    string               `json:"customerName" validate:"max=200"`
	ProjectTitle    string               `json:"projectTitle" validate:"max=300"`
	OriginalToken   string               `json:"originalToken" validate:"max=256"`
	Reason          models.RenewalReason `json:"reason" validate:"required,renewal_reason"`
	CustomerMessage string               `json:"customerMessage" validate:"max=2000"`
}

// TransitionRenewalRequest moves a request to a new status.
type TransitionRenewalRequest struct {
	Status         models.RenewalStatus `json:"status" validate:"required"`
	Notes          string               `json:"notes"`
	LinksGenerated *int                 `json:"linksGenerated,omitempty"`
}

// RejectRenewalRequest carries the admin explanation.
type RejectRenewalRequest struct {
	Notes string `json:"notes" validate:"required"`
}

// RenewalQuery mirrors supported listing filters.
type RenewalQuery struct {
	Status        []models.RenewalStatus
	Priority      models.RenewalPriority
	CustomerEmail string
	Limit         int
	Offset        int
}
