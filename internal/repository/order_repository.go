package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/secure-docs-api/internal/models"
)

// OrderRepository reads storefront orders and their deliverable documents.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository constructs the repository.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// GetOrder fetches an order by identifier.
func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	const query = `SELECT id, customer_email, customer_name, project_title, created_at FROM orders WHERE id = $1`
	var order models.Order
	if err := r.db.GetContext(ctx, &order, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &order, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// FindBestMatch returns the most recent order for the customer whose project
// title contains projectTitle literally. An empty title matches any order of
// the customer.
func (r *OrderRepository) FindBestMatch(ctx context.Context, customerEmail, projectTitle string) (*models.Order, error) {
	const query = `SELECT id, customer_email, customer_name, project_title, created_at FROM orders
	WHERE lower(customer_email) = $1 AND ($2 = '' OR project_title ILIKE '%' || $2 || '%' ESCAPE '\')
	ORDER BY created_at DESC LIMIT 1`
	var order models.Order
	email := strings.ToLower(strings.TrimSpace(customerEmail))
	title := likeEscaper.Replace(strings.TrimSpace(projectTitle))
	if err := r.db.GetContext(ctx, &order, query, email, title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find order by customer: %w", err)
	}
	return &order, nil
}

// ListDocuments returns deliverable documents of an order.
func (r *OrderRepository) ListDocuments(ctx context.Context, orderID string) ([]models.Document, error) {
	const query = `SELECT id, order_id, name, storage_url, size, category, review_stage
	FROM documents WHERE order_id = $1 ORDER BY name ASC`
	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, query, orderID); err != nil {
		return nil, fmt.Errorf("list order documents: %w", err)
	}
	return docs, nil
}

// GetDocument fetches a single document.
func (r *OrderRepository) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	const query = `SELECT id, order_id, name, storage_url, size, category, review_stage FROM documents WHERE id = $1`
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// GetDocuments fetches documents by id, keyed by id. Missing ids are absent from the map.
func (r *OrderRepository) GetDocuments(ctx context.Context, ids []string) (map[string]models.Document, error) {
	result := make(map[string]models.Document, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT id, order_id, name, storage_url, size, category, review_stage FROM documents WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build documents query: %w", err)
	}
	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}
	for _, doc := range docs {
		result[doc.ID] = doc
	}
	return result, nil
}
