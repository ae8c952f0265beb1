package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Verification outcome labels.
const (
	outcomeGranted       = "granted"
	outcomeInvalid       = "invalid"
	outcomeExpired       = "expired"
	outcomeUnauthorized  = "unauthorized"
	outcomeLimitExceeded = "limit_exceeded"
	outcomeError         = "error"
)

// MetricsSnapshot summarises in-process counters for the health endpoint.
type MetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	Verifications            uint64    `json:"verifications"`
	TokensIssued             uint64    `json:"tokensIssued"`
	AttemptWriteFailures     uint64    `json:"attemptWriteFailures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry             *prometheus.Registry
	handler              http.Handler
	requestDuration      *prometheus.HistogramVec
	requestTotal         *prometheus.CounterVec
	cacheLatency         prometheus.Observer
	cacheWrite           prometheus.Observer
	cacheHitRatio        prometheus.Gauge
	cacheHits            prometheus.Counter
	cacheMisses          prometheus.Counter
	verifications        *prometheus.CounterVec
	tokensIssued         *prometheus.CounterVec
	attemptWriteFailures prometheus.Counter
	renewalTransitions   *prometheus.CounterVec
	notifications        *prometheus.CounterVec
	tokensExpired        prometheus.Counter

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	verificationCount    uint64
	issuedCount          uint64
	attemptFailureCount  uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "download_verifications_total",
		Help: "Secure download verifications by outcome",
	}, []string{"outcome"})

	tokensIssued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "download_tokens_issued_total",
		Help: "Download tokens minted, by result",
	}, []string{"result"})

	attemptWriteFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "download_attempt_write_failures_total",
		Help: "Audit attempt rows that could not be persisted",
	})

	renewalTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_transitions_total",
		Help: "Renewal request status transitions",
	}, []string{"from", "to"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_deliveries_total",
		Help: "Notification deliveries by kind and result",
	}, []string{"kind", "result"})

	tokensExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "download_tokens_expired_total",
		Help: "Tokens deactivated by expiry cleanup",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		verifications, tokensIssued, attemptWriteFailures, renewalTransitions, notifications, tokensExpired, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:             registry,
		handler:              handler,
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		cacheLatency:         cacheLatency,
		cacheWrite:           cacheWrite,
		cacheHitRatio:        cacheHitRatio,
		cacheHits:            cacheHits,
		cacheMisses:          cacheMisses,
		verifications:        verifications,
		tokensIssued:         tokensIssued,
		attemptWriteFailures: attemptWriteFailures,
		renewalTransitions:   renewalTransitions,
		notifications:        notifications,
		tokensExpired:        tokensExpired,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordVerification counts one verification by outcome label.
func (m *MetricsService) RecordVerification(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
	atomic.AddUint64(&m.verificationCount, 1)
}

// RecordTokenIssued counts a minted or failed token.
func (m *MetricsService) RecordTokenIssued(success bool) {
	if m == nil {
		return
	}
	if success {
		m.tokensIssued.WithLabelValues("issued").Inc()
		atomic.AddUint64(&m.issuedCount, 1)
		return
	}
	m.tokensIssued.WithLabelValues("failed").Inc()
}

// RecordAttemptWriteFailure counts an audit row that was lost.
func (m *MetricsService) RecordAttemptWriteFailure() {
	if m == nil {
		return
	}
	m.attemptWriteFailures.Inc()
	atomic.AddUint64(&m.attemptFailureCount, 1)
}

// RecordRenewalTransition counts a committed renewal status change.
func (m *MetricsService) RecordRenewalTransition(from, to string) {
	if m == nil {
		return
	}
	m.renewalTransitions.WithLabelValues(from, to).Inc()
}

// RecordNotification counts a delivery attempt of the given kind.
func (m *MetricsService) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

// RecordExpiredTokens adds the number of tokens deactivated by cleanup.
func (m *MetricsService) RecordExpiredTokens(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.tokensExpired.Add(float64(count))
}

// Snapshot returns aggregated metrics suitable for the health endpoint.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		Verifications:            atomic.LoadUint64(&m.verificationCount),
		TokensIssued:             atomic.LoadUint64(&m.issuedCount),
		AttemptWriteFailures:     atomic.LoadUint64(&m.attemptFailureCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
