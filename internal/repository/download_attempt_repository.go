package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/secure-docs-api/internal/models"
)

const attemptColumns = `a.id, a.token_id, a.attempted_email, a.ip_address, a.user_agent, a.success, a.failure_reason, a.attempted_at`

// DownloadAttemptRepository appends and reads the verification audit trail.
type DownloadAttemptRepository struct {
	db *sqlx.DB
}

// NewDownloadAttemptRepository constructs the repository.
func NewDownloadAttemptRepository(db *sqlx.DB) *DownloadAttemptRepository {
	return &DownloadAttemptRepository{db: db}
}

// Create appends an attempt row.
func (r *DownloadAttemptRepository) Create(ctx context.Context, attempt *models.DownloadAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}
	const query = `INSERT INTO download_attempts
	(id, token_id, attempted_email, ip_address, user_agent, success, failure_reason, attempted_at)
	VALUES (:id, :token_id, :attempted_email, :ip_address, :user_agent, :success, :failure_reason, :attempted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, attempt); err != nil {
		return fmt.Errorf("create download attempt: %w", err)
	}
	return nil
}

func attemptConditions(filter models.AttemptFilter) (string, []interface{}) {
	conditions := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)
	join := ""
	if filter.TokenID != "" {
		args = append(args, filter.TokenID)
		conditions = append(conditions, fmt.Sprintf("a.token_id = $%d", len(args)))
	}
	if filter.OrderID != "" {
		join = " JOIN download_tokens t ON t.id = a.token_id"
		args = append(args, filter.OrderID)
		conditions = append(conditions, fmt.Sprintf("t.order_id = $%d", len(args)))
	}
	if filter.Success != nil {
		args = append(args, *filter.Success)
		conditions = append(conditions, fmt.Sprintf("a.success = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conditions = append(conditions, fmt.Sprintf("a.attempted_at >= $%d", len(args)))
	}
	clause := join
	if len(conditions) > 0 {
		clause += " WHERE " + strings.Join(conditions, " AND ")
	}
	return clause, args
}

// List returns attempts matching the filter, newest first, plus the total match count.
func (r *DownloadAttemptRepository) List(ctx context.Context, filter models.AttemptFilter) ([]models.DownloadAttempt, int, error) {
	clause, args := attemptConditions(filter)

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf("SELECT %s FROM download_attempts a%s ORDER BY a.attempted_at DESC LIMIT %d OFFSET %d", attemptColumns, clause, limit, offset)

	var attempts []models.DownloadAttempt
	if err := r.db.SelectContext(ctx, &attempts, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list download attempts: %w", err)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM download_attempts a" + clause
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count download attempts: %w", err)
	}
	return attempts, total, nil
}

type attemptCounts struct {
	Total      int `db:"total_attempts"`
	Successful int `db:"successful_downloads"`
}

// CountAttempts returns total and successful attempt counts, optionally scoped
// to tokens of one order.
func (r *DownloadAttemptRepository) CountAttempts(ctx context.Context, orderID string) (total, successful int, err error) {
	clause, args := attemptConditions(models.AttemptFilter{OrderID: orderID})
	query := `SELECT COUNT(*) AS total_attempts,
       COUNT(*) FILTER (WHERE a.success = TRUE) AS successful_downloads
	FROM download_attempts a` + clause
	var counts attemptCounts
	if err := r.db.GetContext(ctx, &counts, query, args...); err != nil {
		return 0, 0, fmt.Errorf("count download attempts: %w", err)
	}
	return counts.Total, counts.Successful, nil
}
