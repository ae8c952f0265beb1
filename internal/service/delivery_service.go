package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/secure-docs-api/internal/dto"
	"github.com/noah-isme/secure-docs-api/internal/models"
	appErrors "github.com/noah-isme/secure-docs-api/pkg/errors"
)

type documentBatchReader interface {
	GetDocuments(ctx context.Context, ids []string) (map[string]models.Document, error)
}

// DeliveryService issues links for an admin request and optionally emails them.
type DeliveryService struct {
	issuer    tokenIssuer
	documents documentBatchReader
	notifier  Notifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDeliveryService constructs a DeliveryService instance.
func NewDeliveryService(issuer tokenIssuer, documents documentBatchReader, notifier Notifier, validate *validator.Validate, logger *zap.Logger) *DeliveryService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryService{issuer: issuer, documents: documents, notifier: notifier, validator: validate, logger: logger}
}

// IssueAndDeliver mints links and, when asked, sends them to the recipient.
// A delivery failure is reported in the response; the links stay valid.
func (s *DeliveryService) IssueAndDeliver(ctx context.Context, req dto.IssueTokensRequest) (*dto.IssueTokensResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid issuance request")
	}

	cfg := req.Config
	if req.Lifetime {
		lifetime := models.LifetimeTokenConfig()
		cfg = &lifetime
	}

	links, err := s.issuer.IssueTokens(ctx, req.Documents, req.RecipientEmail, req.OrderID, cfg)
	if err != nil {
		return nil, err
	}
	res := &dto.IssueTokensResponse{
		Links:     links,
		Requested: len(req.Documents),
		Issued:    len(links),
	}
	if !req.Notify || len(links) == 0 {
		return res, nil
	}

	if err := s.deliver(ctx, req, links); err != nil {
		s.logger.Warn("secure delivery failed", zap.String("order_id", req.OrderID), zap.Error(err))
		res.DeliveryError = err.Error()
		return res, nil
	}
	res.Delivered = true
	return res, nil
}

func (s *DeliveryService) deliver(ctx context.Context, req dto.IssueTokensRequest, links []models.IssuedLink) error {
	if s.notifier == nil {
		return appErrors.Clone(appErrors.ErrInternal, "no notifier configured")
	}

	ids := make([]string, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.DocumentID)
	}
	byID := map[string]models.Document{}
	if s.documents != nil {
		found, err := s.documents.GetDocuments(ctx, ids)
		if err != nil {
			s.logger.Warn("failed to load document metadata for delivery", zap.Error(err))
		} else {
			byID = found
		}
	}

	delivery := make([]models.DeliveryDocument, 0, len(links))
	for _, link := range links {
		doc := byID[link.DocumentID]
		delivery = append(delivery, models.DeliveryDocument{
			Name:        link.DocumentName,
			SecureURL:   link.SecureURL,
			Category:    doc.Category,
			ReviewStage: doc.ReviewStage,
			Size:        doc.Size,
		})
	}

	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		name = req.RecipientEmail
	}
	var adminMessage *string
	if msg := strings.TrimSpace(req.AdminMessage); msg != "" {
		adminMessage = &msg
	}

	return s.notifier.SendSecureDocumentDelivery(ctx, models.SecureDeliveryNotice{
		CustomerEmail: strings.ToLower(strings.TrimSpace(req.RecipientEmail)),
		CustomerName:  name,
		OrderID:       req.OrderID,
		Documents:     delivery,
		ExpiresAt:     links[0].ExpiresAt,
		MaxDownloads:  links[0].MaxDownloads,
		AdminMessage:  adminMessage,
	})
}
