package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/secure-docs-api/internal/models"
)

// ErrDuplicateToken is returned when a generated token value collides with an existing row.
var ErrDuplicateToken = errors.New("download token already exists")

const uniqueViolation = "23505"

const tokenColumns = `id, token, document_id, recipient_email, order_id, expires_at, max_downloads,
       download_count, is_active, created_at, deactivated_at`

// DownloadTokenRepository persists download tokens. Rows are never deleted.
type DownloadTokenRepository struct {
	db *sqlx.DB
}

// NewDownloadTokenRepository constructs the repository.
func NewDownloadTokenRepository(db *sqlx.DB) *DownloadTokenRepository {
	return &DownloadTokenRepository{db: db}
}

// Create inserts a new token row.
func (r *DownloadTokenRepository) Create(ctx context.Context, token *models.DownloadToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO download_tokens
	(id, token, document_id, recipient_email, order_id, expires_at, max_downloads, download_count, is_active, created_at)
	VALUES (:id, :token, :document_id, :recipient_email, :order_id, :expires_at, :max_downloads, :download_count, :is_active, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateToken
		}
		return fmt.Errorf("create download token: %w", err)
	}
	return nil
}

// GetByToken returns the row for the opaque token value, active or not.
// Callers decide how an inactive row is reported.
func (r *DownloadTokenRepository) GetByToken(ctx context.Context, token string) (*models.DownloadToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM download_tokens WHERE token = $1`
	var row models.DownloadToken
	if err := r.db.GetContext(ctx, &row, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get download token: %w", err)
	}
	return &row, nil
}

// GetByID returns a token row regardless of its active flag.
func (r *DownloadTokenRepository) GetByID(ctx context.Context, id string) (*models.DownloadToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM download_tokens WHERE id = $1`
	var row models.DownloadToken
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get download token by id: %w", err)
	}
	return &row, nil
}

// ConsumeDownload increments download_count only while the token is still
// active, unexpired and below its quota. The check and the increment are one
// statement, so concurrent callers can never exceed max_downloads. It returns
// sql.ErrNoRows when no slot was available.
func (r *DownloadTokenRepository) ConsumeDownload(ctx context.Context, id string, now time.Time) (*models.DownloadToken, error) {
	query := `UPDATE download_tokens
	SET download_count = download_count + 1
	WHERE id = $1 AND is_active = TRUE AND expires_at > $2 AND download_count < max_downloads
	RETURNING ` + tokenColumns
	var row models.DownloadToken
	if err := r.db.GetContext(ctx, &row, query, id, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("consume download slot: %w", err)
	}
	return &row, nil
}

// Deactivate flips is_active to false. It reports whether the row changed;
// an already inactive token is left untouched.
func (r *DownloadTokenRepository) Deactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE download_tokens SET is_active = FALSE, deactivated_at = $2 WHERE id = $1 AND is_active = TRUE`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("deactivate download token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check deactivate rows: %w", err)
	}
	return rows > 0, nil
}

// DeactivateExpired deactivates every active token whose expiry is before now.
func (r *DownloadTokenRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE download_tokens SET is_active = FALSE, deactivated_at = $1 WHERE is_active = TRUE AND expires_at < $1`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired tokens: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check expired rows: %w", err)
	}
	return rows, nil
}

// CountTokens partitions tokens into usable, expired and revoked, optionally per order.
func (r *DownloadTokenRepository) CountTokens(ctx context.Context, orderID string, now time.Time) (models.TokenCounts, error) {
	query := `SELECT COUNT(*) AS total_tokens,
       COUNT(*) FILTER (WHERE is_active = TRUE AND expires_at > $1) AS active_tokens,
       COUNT(*) FILTER (WHERE expires_at <= $1) AS expired_tokens
	FROM download_tokens`
	args := []interface{}{now}
	if orderID != "" {
		query += ` WHERE order_id = $2`
		args = append(args, orderID)
	}
	var counts models.TokenCounts
	if err := r.db.GetContext(ctx, &counts, query, args...); err != nil {
		return models.TokenCounts{}, fmt.Errorf("count download tokens: %w", err)
	}
	return counts, nil
}
