package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/secure-docs-api/internal/models"
	"github.com/noah-isme/secure-docs-api/pkg/config"
	"github.com/noah-isme/secure-docs-api/pkg/jobs"
)

// Notification kinds used for job types, webhook events and metrics labels.
const (
	NotificationSecureDelivery = "secure_document_delivery"
	NotificationRenewalReject  = "renewal_rejected"
)

// Notifier delivers customer-facing messages. Implementations must be safe
// for concurrent use.
type Notifier interface {
	SendSecureDocumentDelivery(ctx context.Context, notice models.SecureDeliveryNotice) error
	SendRenewalRejected(ctx context.Context, notice models.RenewalRejectedNotice) error
}

// LogNotifier writes notifications to the structured log. It is the default
// driver for local development.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// SendSecureDocumentDelivery logs the delivery without the secure URLs.
func (n *LogNotifier) SendSecureDocumentDelivery(ctx context.Context, notice models.SecureDeliveryNotice) error {
	names := make([]string, 0, len(notice.Documents))
	for _, doc := range notice.Documents {
		names = append(names, doc.Name)
	}
	n.logger.Info("secure document delivery",
		zap.String("email", notice.CustomerEmail),
		zap.String("order_id", notice.OrderID),
		zap.Strings("documents", names),
		zap.Time("expires_at", notice.ExpiresAt),
		zap.Int("max_downloads", notice.MaxDownloads),
	)
	return nil
}

// SendRenewalRejected logs the rejection.
func (n *LogNotifier) SendRenewalRejected(ctx context.Context, notice models.RenewalRejectedNotice) error {
	n.logger.Info("renewal rejected notice",
		zap.String("email", notice.CustomerEmail),
		zap.String("request_id", notice.RequestID),
		zap.String("order_id", notice.OrderID),
	)
	return nil
}

type webhookEnvelope struct {
	ID      string      `json:"id"`
	Event   string      `json:"event"`
	SentAt  time.Time   `json:"sentAt"`
	Payload interface{} `json:"payload"`
}

// WebhookNotifier posts notifications as JSON to a mail relay.
type WebhookNotifier struct {
	url     string
	apiKey  string
	client  *http.Client
	metrics *MetricsService
}

// NewWebhookNotifier constructs a WebhookNotifier with sane defaults.
func NewWebhookNotifier(url, apiKey string, timeout time.Duration, metrics *MetricsService) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:     url,
		apiKey:  apiKey,
		metrics: metrics,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// SendSecureDocumentDelivery posts a delivery event.
func (n *WebhookNotifier) SendSecureDocumentDelivery(ctx context.Context, notice models.SecureDeliveryNotice) error {
	return n.post(ctx, NotificationSecureDelivery, notice)
}

// SendRenewalRejected posts a rejection event.
func (n *WebhookNotifier) SendRenewalRejected(ctx context.Context, notice models.RenewalRejectedNotice) error {
	return n.post(ctx, NotificationRenewalReject, notice)
}

func (n *WebhookNotifier) post(ctx context.Context, event string, payload interface{}) error {
	if n.url == "" {
		return errors.New("webhook URL not configured")
	}
	body, err := json.Marshal(webhookEnvelope{
		ID:      uuid.NewString(),
		Event:   event,
		SentAt:  time.Now().UTC(),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("encode %s notification: %w", event, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	start := time.Now()
	resp, err := n.client.Do(req)
	duration := time.Since(start)

	statusCode := http.StatusServiceUnavailable
	if err == nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		statusCode = resp.StatusCode
		if resp.StatusCode >= http.StatusBadRequest {
			err = fmt.Errorf("%s webhook returned status %d", event, resp.StatusCode)
		}
	}
	if n.metrics != nil {
		n.metrics.ObserveHTTPRequest(http.MethodPost, "notifier_"+event, statusCode, duration)
	}
	return err
}

// QueuedNotifier hands notifications to a retrying worker queue. A nil error
// means the message was accepted, not that it reached the customer.
type QueuedNotifier struct {
	queue *jobs.Queue
}

// NewQueuedNotifier wraps next with a jobs.Queue. The caller owns Start/Stop
// of the returned queue.
func NewQueuedNotifier(next Notifier, cfg config.NotifierConfig, metrics *MetricsService, logger *zap.Logger) (*QueuedNotifier, *jobs.Queue) {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, job jobs.Job) error {
		var err error
		switch payload := job.Payload.(type) {
		case models.SecureDeliveryNotice:
			err = next.SendSecureDocumentDelivery(ctx, payload)
		case models.RenewalRejectedNotice:
			err = next.SendRenewalRejected(ctx, payload)
		default:
			logger.Error("unknown notification payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
			return nil
		}
		metrics.RecordNotification(job.Type, err)
		return err
	}
	queue := jobs.NewQueue("notifier", handler, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnGiveUp: func(job jobs.Job, err error) {
			logger.Error("notification dropped", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Int("attempts", job.Attempt), zap.Error(err))
		},
	})
	return &QueuedNotifier{queue: queue}, queue
}

// SendSecureDocumentDelivery enqueues a delivery.
func (n *QueuedNotifier) SendSecureDocumentDelivery(ctx context.Context, notice models.SecureDeliveryNotice) error {
	return n.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: NotificationSecureDelivery, Payload: notice})
}

// SendRenewalRejected enqueues a rejection notice.
func (n *QueuedNotifier) SendRenewalRejected(ctx context.Context, notice models.RenewalRejectedNotice) error {
	return n.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: NotificationRenewalReject, Payload: notice})
}

// NewNotifier builds the configured driver behind a retrying queue.
func NewNotifier(cfg config.NotifierConfig, metrics *MetricsService, logger *zap.Logger) (Notifier, *jobs.Queue, error) {
	var base Notifier
	switch cfg.Driver {
	case "", config.NotifierDriverLog:
		base = NewLogNotifier(logger)
	case config.NotifierDriverWebhook:
		if cfg.WebhookURL == "" {
			return nil, nil, errors.New("NOTIFIER_WEBHOOK_URL is required for the webhook driver")
		}
		base = NewWebhookNotifier(cfg.WebhookURL, cfg.APIKey, cfg.Timeout, metrics)
	default:
		return nil, nil, fmt.Errorf("unknown notifier driver %q", cfg.Driver)
	}
	queued, queue := NewQueuedNotifier(base, cfg, metrics, logger)
	return queued, queue, nil
}
