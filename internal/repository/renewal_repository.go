package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/secure-docs-api/internal/models"
)

const renewalColumns = `id, order_id, customer_email, customer_name, project_title, original_token, reason,
       customer_message, status, priority, admin_notes, processed_by, processed_at, new_links_sent_at,
       links_generated, created_at, updated_at`

// RenewalRepository persists renewal requests and their status history.
type RenewalRepository struct {
	db *sqlx.DB
}

// NewRenewalRepository constructs the repository.
func NewRenewalRepository(db *sqlx.DB) *RenewalRepository {
	return &RenewalRepository{db: db}
}

// Create inserts a new renewal request.
func (r *RenewalRepository) Create(ctx context.Context, req *models.RenewalRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = req.CreatedAt
	const query = `INSERT INTO renewal_requests
	(id, order_id, customer_email, customer_name, project_title, original_token, reason, customer_message,
	 status, priority, links_generated, created_at, updated_at)
	VALUES (:id, :order_id, :customer_email, :customer_name, :project_title, :original_token, :reason, :customer_message,
	 :status, :priority, :links_generated, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create renewal request: %w", err)
	}
	return nil
}

// GetByID fetches a renewal request by identifier.
func (r *RenewalRepository) GetByID(ctx context.Context, id string) (*models.RenewalRequest, error) {
	query := `SELECT ` + renewalColumns + ` FROM renewal_requests WHERE id = $1`
	var req models.RenewalRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get renewal request: %w", err)
	}
	return &req, nil
}

// List returns renewal requests matching the filter, most urgent and oldest first.
func (r *RenewalRepository) List(ctx context.Context, filter models.RenewalFilter) ([]models.RenewalRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 3)
	builder.WriteString(`SELECT ` + renewalColumns + ` FROM renewal_requests`)

	conditions := make([]string, 0, 3)
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			statuses[i] = string(status)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)))
	}
	if filter.CustomerEmail != "" {
		args = append(args, strings.ToLower(strings.TrimSpace(filter.CustomerEmail)))
		conditions = append(conditions, fmt.Sprintf("lower(customer_email) = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(` ORDER BY CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END, created_at ASC`)

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.RenewalRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list renewal requests: %w", err)
	}
	return requests, nil
}

// TransitionParams describes a compare-and-swap status change.
type TransitionParams struct {
	ID             string
	From           models.RenewalStatus
	To             models.RenewalStatus
	ChangedBy      string
	Notes          *string
	LinksGenerated *int
	NewLinksSentAt *time.Time
	At             time.Time
}

// Transition moves a request from params.From to params.To and appends the
// matching history row in one transaction. It returns sql.ErrNoRows when the
// request is missing or its status is no longer params.From.
func (r *RenewalRepository) Transition(ctx context.Context, params TransitionParams) (*models.RenewalStatusHistory, error) {
	if params.At.IsZero() {
		params.At = time.Now().UTC()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin renewal transition tx: %w", err)
	}

	const update = `UPDATE renewal_requests SET
	status = $3,
	processed_by = $4,
	processed_at = $5,
	admin_notes = COALESCE($6, admin_notes),
	links_generated = COALESCE($7, links_generated),
	new_links_sent_at = COALESCE($8, new_links_sent_at),
	updated_at = $5
	WHERE id = $1 AND status = $2`
	result, err := tx.ExecContext(ctx, update,
		params.ID, params.From, params.To, params.ChangedBy, params.At,
		params.Notes, params.LinksGenerated, params.NewLinksSentAt)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("update renewal status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("check renewal update rows: %w", err)
	}
	if rows == 0 {
		_ = tx.Rollback()
		return nil, sql.ErrNoRows
	}

	from := params.From
	history := &models.RenewalStatusHistory{
		ID:        uuid.NewString(),
		RequestID: params.ID,
		OldStatus: &from,
		NewStatus: params.To,
		ChangedBy: params.ChangedBy,
		Notes:     params.Notes,
		CreatedAt: params.At,
	}
	const insert = `INSERT INTO renewal_status_history (id, request_id, old_status, new_status, changed_by, notes, created_at)
	VALUES (:id, :request_id, :old_status, :new_status, :changed_by, :notes, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, history); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("append renewal history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit renewal transition tx: %w", err)
	}
	return history, nil
}

// ListHistory returns the status history of a request in chronological order.
func (r *RenewalRepository) ListHistory(ctx context.Context, requestID string) ([]models.RenewalStatusHistory, error) {
	const query = `SELECT id, request_id, old_status, new_status, changed_by, notes, created_at
	FROM renewal_status_history WHERE request_id = $1 ORDER BY created_at ASC`
	var history []models.RenewalStatusHistory
	if err := r.db.SelectContext(ctx, &history, query, requestID); err != nil {
		return nil, fmt.Errorf("list renewal history: %w", err)
	}
	return history, nil
}
