package models

import "time"

// Denial reasons returned by verification. They deliberately avoid detail.
const (
	ReasonInvalidToken  = "Invalid or expired token"
	ReasonExpired       = "Download link has expired"
	ReasonUnauthorized  = "This download link is not authorized for your email address"
	ReasonLimitExceeded = "Download limit exceeded"
	ReasonSystemError   = "A system error occurred while verifying access"
)

// Issuance profiles.
const (
	DefaultExpirationHours = 72
	DefaultMaxDownloads    = 5
	LifetimeExpiration     = 87600
	LifetimeMaxDownloads   = 9999

	// MaxExpirationHours caps token lifetime at roughly a century so the
	// expiry stays representable as a time.Duration.
	MaxExpirationHours = 876000
)

// DownloadToken grants one recipient access to one document.
type DownloadToken struct {
	ID             string     `db:"id" json:"id"`
	Token          string     `db:"token" json:"-"`
	DocumentID     string     `db:"document_id" json:"documentId"`
	RecipientEmail string     `db:"recipient_email" json:"recipientEmail"`
	OrderID        string     `db:"order_id" json:"orderId"`
	ExpiresAt      time.Time  `db:"expires_at" json:"expiresAt"`
	MaxDownloads   int        `db:"max_downloads" json:"maxDownloads"`
	DownloadCount  int        `db:"download_count" json:"downloadCount"`
	IsActive       bool       `db:"is_active" json:"isActive"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	DeactivatedAt  *time.Time `db:"deactivated_at" json:"deactivatedAt,omitempty"`
}

// Expired reports whether the token is past its expiry at now.
func (t *DownloadToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// DownloadAttempt is one append-only audit record of a verification call.
type DownloadAttempt struct {
	ID             string    `db:"id" json:"id"`
	TokenID        *string   `db:"token_id" json:"tokenId,omitempty"`
	AttemptedEmail string    `db:"attempted_email" json:"attemptedEmail"`
	IPAddress      *string   `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent      *string   `db:"user_agent" json:"userAgent,omitempty"`
	Success        bool      `db:"success" json:"success"`
	FailureReason  *string   `db:"failure_reason" json:"failureReason,omitempty"`
	AttemptedAt    time.Time `db:"attempted_at" json:"attemptedAt"`
}

// AttemptFilter constrains attempt listings.
type AttemptFilter struct {
	TokenID string
	OrderID string
	Success *bool
	Since   *time.Time
	Limit   int
	Offset  int
}

// TokenConfig controls lifetime and quota of issued tokens.
type TokenConfig struct {
	ExpirationHours int `json:"expirationHours" validate:"omitempty,min=1,max=876000"`
	MaxDownloads    int `json:"maxDownloads" validate:"omitempty,min=1"`
}

// DefaultTokenConfig is the standard secure delivery profile.
func DefaultTokenConfig() TokenConfig {
	return TokenConfig{ExpirationHours: DefaultExpirationHours, MaxDownloads: DefaultMaxDownloads}
}

// LifetimeTokenConfig is the no-expiry delivery profile.
func LifetimeTokenConfig() TokenConfig {
	return TokenConfig{ExpirationHours: LifetimeExpiration, MaxDownloads: LifetimeMaxDownloads}
}

// IssuedLink describes a token minted for a single document.
type IssuedLink struct {
	TokenID      string    `json:"tokenId"`
	DocumentID   string    `json:"documentId"`
	DocumentName string    `json:"documentName"`
	SecureURL    string    `json:"secureUrl"`
	ExpiresAt    time.Time `json:"expiresAt"`
	MaxDownloads int       `json:"maxDownloads"`
}

// TokenData is the token view returned on successful verification.
type TokenData struct {
	ID             string    `json:"id"`
	DocumentID     string    `json:"documentId"`
	OrderID        string    `json:"orderId"`
	RecipientEmail string    `json:"recipientEmail"`
	ExpiresAt      time.Time `json:"expiresAt"`
	MaxDownloads   int       `json:"maxDownloads"`
	DownloadCount  int       `json:"downloadCount"`
}

// VerificationResult is the outcome of a verification call. Denials carry
// only a reason, never a distinguishing error code.
type VerificationResult struct {
	Valid     bool       `json:"valid"`
	Reason    string     `json:"reason,omitempty"`
	Document  *Document  `json:"document,omitempty"`
	TokenData *TokenData `json:"tokenData,omitempty"`
}

// TokenCounts partitions tokens at a point in time. Expired counts every
// token past expiry whatever its flag; Active and Revoked are the rest.
type TokenCounts struct {
	Total   int `db:"total_tokens"`
	Active  int `db:"active_tokens"`
	Expired int `db:"expired_tokens"`
}

// Revoked is the number of tokens deactivated before their expiry.
func (c TokenCounts) Revoked() int {
	return c.Total - c.Active - c.Expired
}

// DownloadStatistics aggregates tokens and attempts, optionally per order.
type DownloadStatistics struct {
	OrderID             string    `json:"orderId,omitempty"`
	TotalTokens         int       `db:"total_tokens" json:"totalTokens"`
	ActiveTokens        int       `db:"active_tokens" json:"activeTokens"`
	ExpiredTokens       int       `db:"expired_tokens" json:"expiredTokens"`
	RevokedTokens       int       `json:"revokedTokens"`
	TotalAttempts       int       `db:"total_attempts" json:"totalAttempts"`
	SuccessfulDownloads int       `db:"successful_downloads" json:"successfulDownloads"`
	FailedAttempts      int       `json:"failedAttempts"`
	GeneratedAt         time.Time `json:"generatedAt"`
}
