package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/secure-docs-api/internal/dto"
	"github.com/noah-isme/secure-docs-api/internal/models"
	"github.com/noah-isme/secure-docs-api/internal/repository"
	appErrors "github.com/noah-isme/secure-docs-api/pkg/errors"
)

// Notes recorded when an approval cannot produce links.
const (
	noteNoOrder     = "No matching order found for this request"
	noteNoDocuments = "No documents found for the matched order"
	noteNoLinks     = "Failed to generate secure links"
	noteReleased    = "Approval interrupted before links were issued"
)

type renewalStore interface {
	Create(ctx context.Context, req *models.RenewalRequest) error
	GetByID(ctx context.Context, id string) (*models.RenewalRequest, error)
	List(ctx context.Context, filter models.RenewalFilter) ([]models.RenewalRequest, error)
	Transition(ctx context.Context, params repository.TransitionParams) (*models.RenewalStatusHistory, error)
	ListHistory(ctx context.Context, requestID string) ([]models.RenewalStatusHistory, error)
}

type orderStore interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	FindBestMatch(ctx context.Context, customerEmail, projectTitle string) (*models.Order, error)
	ListDocuments(ctx context.Context, orderID string) ([]models.Document, error)
}

type tokenIssuer interface {
	IssueTokens(ctx context.Context, documents []models.DocumentRef, recipientEmail, orderID string, cfg *models.TokenConfig) ([]models.IssuedLink, error)
}

// RenewalService runs the customer renewal workflow.
type RenewalService struct {
	repo      renewalStore
	orders    orderStore
	issuer    tokenIssuer
	notifier  Notifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewRenewalService constructs the service.
func NewRenewalService(repo renewalStore, orders orderStore, issuer tokenIssuer, notifier Notifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *RenewalService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RenewalService{
		repo:      repo,
		orders:    orders,
		issuer:    issuer,
		notifier:  notifier,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	svc.validator.RegisterValidation("renewal_reason", func(fl validator.FieldLevel) bool {
		return models.RenewalReason(fl.Field().String()).Valid()
	})
	return svc
}

// SubmitRequest stores a new pending renewal request.
func (s *RenewalService) SubmitRequest(ctx context.Context, req dto.SubmitRenewalRequest) (*models.RenewalRequest, error) {
	req.CustomerEmail = strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	req.Reason = models.RenewalReason(strings.ToLower(strings.TrimSpace(string(req.Reason))))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid renewal request")
	}

	request := &models.RenewalRequest{
		OrderID:         strings.TrimSpace(req.OrderID),
		CustomerEmail:   req.CustomerEmail,
		CustomerName:    optionalString(req.CustomerName),
		ProjectTitle:    optionalString(req.ProjectTitle),
		OriginalToken:   optionalString(req.OriginalToken),
		Reason:          req.Reason,
		CustomerMessage: optionalString(req.CustomerMessage),
		Status:          models.RenewalStatusPending,
		Priority:        models.PriorityForReason(req.Reason),
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create renewal request")
	}
	s.logger.Info("renewal request submitted",
		zap.String("request_id", request.ID),
		zap.String("order_id", request.OrderID),
		zap.String("reason", string(request.Reason)),
		zap.String("priority", string(request.Priority)))
	return request, nil
}

// ListRequests returns requests matching the query.
func (s *RenewalService) ListRequests(ctx context.Context, query dto.RenewalQuery) ([]models.RenewalRequest, error) {
	for _, status := range query.Status {
		if !status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
		}
	}
	requests, err := s.repo.List(ctx, models.RenewalFilter{
		Status:        query.Status,
		Priority:      query.Priority,
		CustomerEmail: query.CustomerEmail,
		Limit:         query.Limit,
		Offset:        query.Offset,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list renewal requests")
	}
	return requests, nil
}

// GetRequest loads a single request.
func (s *RenewalService) GetRequest(ctx context.Context, id string) (*models.RenewalRequest, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "renewal request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load renewal request")
	}
	return request, nil
}

// History returns the status history of a request.
func (s *RenewalService) History(ctx context.Context, id string) ([]models.RenewalStatusHistory, error) {
	if _, err := s.GetRequest(ctx, id); err != nil {
		return nil, err
	}
	history, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load renewal history")
	}
	return history, nil
}

// TransitionStatus moves a request along the workflow graph.
func (s *RenewalService) TransitionStatus(ctx context.Context, id string, req dto.TransitionRenewalRequest, actor string) (*models.RenewalRequest, error) {
	if !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown status")
	}
	request, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, request, req.Status, actor, optionalString(req.Notes), req.LinksGenerated, nil); err != nil {
		return nil, err
	}
	return request, nil
}

// Reject declines a pending or processing request and tells the customer.
func (s *RenewalService) Reject(ctx context.Context, id, actor, notes string) (*models.RenewalRequest, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection notes are required")
	}
	request, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, request, models.RenewalStatusRejected, actor, &notes, nil, nil); err != nil {
		return nil, err
	}
	s.notifyRejected(ctx, request)
	return request, nil
}

// ApproveAndReissue claims a pending request, issues a fresh token batch for
// the matched order, delivers it and completes the request. Only one caller
// can win the pending to processing claim, so a request yields at most one batch.
// A store failure before issuance hands the request back to pending.
func (s *RenewalService) ApproveAndReissue(ctx context.Context, id, actor string, adminMessage *string) (*models.RenewalOutcome, error) {
	request, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status != models.RenewalStatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "renewal request already processed")
	}
	if err := s.transition(ctx, request, models.RenewalStatusProcessing, actor, nil, nil, nil); err != nil {
		return nil, err
	}

	outcome := &models.RenewalOutcome{Request: request, Links: []models.IssuedLink{}}

	order, err := s.resolveOrder(ctx, request)
	if err != nil {
		return nil, s.releaseClaim(ctx, request, actor, err)
	}
	if order == nil {
		return s.rejectDuringApproval(ctx, outcome, actor, noteNoOrder)
	}

	documents, err := s.orders.ListDocuments(ctx, order.ID)
	if err != nil {
		return nil, s.releaseClaim(ctx, request, actor,
			appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load order documents"))
	}
	if len(documents) == 0 {
		return s.rejectDuringApproval(ctx, outcome, actor, noteNoDocuments)
	}

	refs := make([]models.DocumentRef, len(documents))
	for i, doc := range documents {
		refs[i] = models.DocumentRef{ID: doc.ID, Name: doc.Name}
	}
	links, err := s.issuer.IssueTokens(ctx, refs, request.CustomerEmail, order.ID, nil)
	if err != nil {
		s.logger.Error("renewal token issuance failed", zap.String("request_id", request.ID), zap.Error(err))
	}
	if len(links) == 0 {
		return s.rejectDuringApproval(ctx, outcome, actor, noteNoLinks)
	}
	outcome.Links = links
	outcome.LinksGenerated = len(links)

	var sentAt *time.Time
	if err := s.deliver(ctx, request, order, documents, links, adminMessage); err != nil {
		outcome.DeliveryError = err.Error()
		s.logger.Warn("renewal delivery failed", zap.String("request_id", request.ID), zap.Error(err))
	} else {
		outcome.Delivered = true
		now := s.now()
		sentAt = &now
	}

	count := len(links)
	notes := fmt.Sprintf("Generated %d new secure link(s) for order %s", count, order.ID)
	err = s.transition(ctx, request, models.RenewalStatusCompleted, actor, &notes, &count, sentAt)
	if appErrors.HasCode(err, appErrors.ErrInternal.Code) {
		// Links are already out, so releasing the claim would allow a second
		// batch. Retry the completion once, detached from the caller.
		err = s.transition(context.WithoutCancel(ctx), request, models.RenewalStatusCompleted, actor, &notes, &count, sentAt)
	}
	if err != nil {
		s.logger.Error("renewal completed but status update failed",
			zap.String("request_id", request.ID),
			zap.Int("links_generated", count),
			zap.Error(err))
		return nil, err
	}
	return outcome, nil
}

func (s *RenewalService) resolveOrder(ctx context.Context, request *models.RenewalRequest) (*models.Order, error) {
	if request.OrderID != "" {
		order, err := s.orders.GetOrder(ctx, request.OrderID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load order")
		}
	}
	title := ""
	if request.ProjectTitle != nil {
		title = *request.ProjectTitle
	}
	order, err := s.orders.FindBestMatch(ctx, request.CustomerEmail, title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to match order")
	}
	return order, nil
}

// releaseClaim moves a claimed request back to pending so the approval can be
// retried, then returns cause. Processing to pending is not an admin
// transition, so it bypasses the workflow graph.
func (s *RenewalService) releaseClaim(ctx context.Context, request *models.RenewalRequest, actor string, cause error) error {
	notes := noteReleased
	now := s.now()
	_, err := s.repo.Transition(context.WithoutCancel(ctx), repository.TransitionParams{
		ID:        request.ID,
		From:      models.RenewalStatusProcessing,
		To:        models.RenewalStatusPending,
		ChangedBy: actor,
		Notes:     &notes,
		At:        now,
	})
	if err != nil {
		s.logger.Error("failed to release renewal claim",
			zap.String("request_id", request.ID),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return cause
	}
	request.Status = models.RenewalStatusPending
	request.AdminNotes = &notes
	request.UpdatedAt = now
	s.metrics.RecordRenewalTransition(string(models.RenewalStatusProcessing), string(models.RenewalStatusPending))
	s.logger.Warn("renewal claim released", zap.String("request_id", request.ID), zap.Error(cause))
	return cause
}

func (s *RenewalService) rejectDuringApproval(ctx context.Context, outcome *models.RenewalOutcome, actor, note string) (*models.RenewalOutcome, error) {
	if err := s.transition(ctx, outcome.Request, models.RenewalStatusRejected, actor, &note, nil, nil); err != nil {
		return nil, err
	}
	s.logger.Info("renewal rejected during approval", zap.String("request_id", outcome.Request.ID), zap.String("note", note))
	return outcome, nil
}

func (s *RenewalService) deliver(ctx context.Context, request *models.RenewalRequest, order *models.Order, documents []models.Document, links []models.IssuedLink, adminMessage *string) error {
	if s.notifier == nil {
		return errors.New("no notifier configured")
	}
	byID := make(map[string]models.Document, len(documents))
	for _, doc := range documents {
		byID[doc.ID] = doc
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
	notice := models.SecureDeliveryNotice{
		CustomerEmail: request.CustomerEmail,
		CustomerName:  customerName(request, order),
		OrderID:       order.ID,
		Documents:     delivery,
		ExpiresAt:     links[0].ExpiresAt,
		MaxDownloads:  links[0].MaxDownloads,
		AdminMessage:  adminMessage,
	}
	return s.notifier.SendSecureDocumentDelivery(ctx, notice)
}

func (s *RenewalService) notifyRejected(ctx context.Context, request *models.RenewalRequest) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.SendRenewalRejected(ctx, models.RenewalRejectedNotice{
		CustomerEmail: request.CustomerEmail,
		CustomerName:  customerName(request, nil),
		RequestID:     request.ID,
		OrderID:       request.OrderID,
		Notes:         request.AdminNotes,
	})
	if err != nil {
		s.logger.Warn("failed to send renewal rejection notice", zap.String("request_id", request.ID), zap.Error(err))
	}
}

// transition applies a compare-and-swap status change and mirrors it onto request.
func (s *RenewalService) transition(ctx context.Context, request *models.RenewalRequest, to models.RenewalStatus, actor string, notes *string, linksGenerated *int, sentAt *time.Time) error {
	from := request.Status
	if !from.CanTransitionTo(to) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move renewal request from %s to %s", from, to))
	}
	now := s.now()
	_, err := s.repo.Transition(ctx, repository.TransitionParams{
		ID:             request.ID,
		From:           from,
		To:             to,
		ChangedBy:      actor,
		Notes:          notes,
		LinksGenerated: linksGenerated,
		NewLinksSentAt: sentAt,
		At:             now,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "renewal request was modified concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update renewal status")
	}

	request.Status = to
	request.ProcessedBy = &actor
	request.ProcessedAt = &now
	request.UpdatedAt = now
	if notes != nil {
		request.AdminNotes = notes
	}
	if linksGenerated != nil {
		request.LinksGenerated = *linksGenerated
	}
	if sentAt != nil {
		request.NewLinksSentAt = sentAt
	}
	s.metrics.RecordRenewalTransition(string(from), string(to))
	s.logger.Info("renewal status changed",
		zap.String("request_id", request.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor))
	return nil
}

func customerName(request *models.RenewalRequest, order *models.Order) string {
	if request.CustomerName != nil && *request.CustomerName != "" {
		return *request.CustomerName
	}
	if order != nil && order.CustomerName != nil {
		return *order.CustomerName
	}
	return request.CustomerEmail
}
