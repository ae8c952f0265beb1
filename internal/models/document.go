package models

import "time"

// Document is a deliverable file owned by an order. Read-only for this service.
type Document struct {
	ID          string  `db:"id" json:"id"`
	OrderID     string  `db:"order_id" json:"orderId"`
	Name        string  `db:"name" json:"name"`
	StorageURL  string  `db:"storage_url" json:"storageUrl"`
	Size        int64   `db:"size" json:"size"`
	Category    *string `db:"category" json:"category,omitempty"`
	ReviewStage *string `db:"review_stage" json:"reviewStage,omitempty"`
}

// Order is the subset of a storefront order needed to reissue links.
type Order struct {
	ID            string    `db:"id" json:"id"`
	CustomerEmail string    `db:"customer_email" json:"customerEmail"`
	CustomerName  *string   `db:"customer_name" json:"customerName,omitempty"`
	ProjectTitle  *string   `db:"project_title" json:"projectTitle,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// DocumentRef identifies a document to issue a token for.
type DocumentRef struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}
