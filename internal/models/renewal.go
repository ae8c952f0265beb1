package models

import "time"

// RenewalReason explains why a customer needs new links.
type RenewalReason string

const (
	RenewalReasonExpiredLinks   RenewalReason = "expired_links"
	RenewalReasonLostEmail      RenewalReason = "lost_email"
	RenewalReasonTechnicalIssue RenewalReason = "technical_issue"
	RenewalReasonOther          RenewalReason = "other"
)

// Valid reports whether the reason is known.
func (r RenewalReason) Valid() bool {
	switch r {
	case RenewalReasonExpiredLinks, RenewalReasonLostEmail, RenewalReasonTechnicalIssue, RenewalReasonOther:
		return true
	}
	return false
}

// RenewalStatus captures workflow states for renewal requests.
type RenewalStatus string

const (
	RenewalStatusPending    RenewalStatus = "pending"
	RenewalStatusProcessing RenewalStatus = "processing"
	RenewalStatusCompleted  RenewalStatus = "completed"
	RenewalStatusRejected   RenewalStatus = "rejected"
)

var renewalTransitions = map[RenewalStatus][]RenewalStatus{
	RenewalStatusPending:    {RenewalStatusProcessing, RenewalStatusRejected},
	RenewalStatusProcessing: {RenewalStatusCompleted, RenewalStatusRejected},
}

// Valid reports whether the status is known.
func (s RenewalStatus) Valid() bool {
	switch s {
	case RenewalStatusPending, RenewalStatusProcessing, RenewalStatusCompleted, RenewalStatusRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in one step.
// Completion always passes through processing.
func (s RenewalStatus) CanTransitionTo(next RenewalStatus) bool {
	for _, allowed := range renewalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RenewalPriority orders the admin queue.
type RenewalPriority string

const (
	RenewalPriorityLow    RenewalPriority = "low"
	RenewalPriorityNormal RenewalPriority = "normal"
	RenewalPriorityHigh   RenewalPriority = "high"
	RenewalPriorityUrgent RenewalPriority = "urgent"
)

// PriorityForReason is normal for expired links and high for everything else.
func PriorityForReason(reason RenewalReason) RenewalPriority {
	if reason == RenewalReasonExpiredLinks {
		return RenewalPriorityNormal
	}
	return RenewalPriorityHigh
}

// RenewalRequest is a customer ticket asking for a fresh token batch.
type RenewalRequest struct {
	ID              string          `db:"id" json:"id"`
	OrderID         string          `db:"order_id" json:"orderId"`
	CustomerEmail   string          `db:"customer_email" json:"customerEmail"`
	CustomerName    *string         `db:"customer_name" json:"customerName,omitempty"`
	ProjectTitle    *string         `db:"project_title" json:"projectTitle,omitempty"`
	OriginalToken   *string         `db:"original_token" json:"originalToken,omitempty"`
	Reason          RenewalReason   `db:"reason" json:"reason"`
	CustomerMessage *string         `db:"customer_message" json:"customerMessage,omitempty"`
	Status          RenewalStatus   `db:"status" json:"status"`
	Priority        RenewalPriority `db:"priority" json:"priority"`
	AdminNotes      *string         `db:"admin_notes" json:"adminNotes,omitempty"`
	ProcessedBy     *string         `db:"processed_by" json:"processedBy,omitempty"`
	ProcessedAt     *time.Time      `db:"processed_at" json:"processedAt,omitempty"`
	NewLinksSentAt  *time.Time      `db:"new_links_sent_at" json:"newLinksSentAt,omitempty"`
	LinksGenerated  int             `db:"links_generated" json:"linksGenerated"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// RenewalStatusHistory is one append-only record of a status change.
type RenewalStatusHistory struct {
	ID        string         `db:"id" json:"id"`
	RequestID string         `db:"request_id" json:"requestId"`
	OldStatus *RenewalStatus `db:"old_status" json:"oldStatus,omitempty"`
	NewStatus RenewalStatus  `db:"new_status" json:"newStatus"`
	ChangedBy string         `db:"changed_by" json:"changedBy"`
	Notes     *string        `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"createdAt"`
}

// RenewalFilter constrains listing queries.
type RenewalFilter struct {
	Status        []RenewalStatus
	Priority      RenewalPriority
	CustomerEmail string
	Limit         int
	Offset        int
}

// RenewalOutcome summarises an approval run.
type RenewalOutcome struct {
	Request        *RenewalRequest `json:"request"`
	Links          []IssuedLink    `json:"links"`
	LinksGenerated int             `json:"linksGenerated"`
	Delivered      bool            `json:"delivered"`
	DeliveryError  string          `json:"deliveryError,omitempty"`
}
