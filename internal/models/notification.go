package models

import "time"

// DeliveryDocument is one entry of a secure delivery email.
type DeliveryDocument struct {
	Name        string  `json:"name"`
	SecureURL   string  `json:"secureUrl"`
	Category    *string `json:"category,omitempty"`
	ReviewStage *string `json:"reviewStage,omitempty"`
	Size        int64   `json:"size"`
}

// SecureDeliveryNotice is the payload for a secure document delivery email.
type SecureDeliveryNotice struct {
	CustomerEmail string             `json:"customerEmail"`
	CustomerName  string             `json:"customerName"`
	OrderID       string             `json:"orderId"`
	Documents     []DeliveryDocument `json:"documents"`
	ExpiresAt     time.Time          `json:"expiresAt"`
	MaxDownloads  int                `json:"maxDownloads"`
	AdminMessage  *string            `json:"adminMessage,omitempty"`
}

// RenewalRejectedNotice tells a customer their renewal request was declined.
type RenewalRejectedNotice struct {
	CustomerEmail string  `json:"customerEmail"`
	CustomerName  string  `json:"customerName"`
	RequestID     string  `json:"requestId"`
	OrderID       string  `json:"orderId"`
	Notes         *string `json:"notes,omitempty"`
}
