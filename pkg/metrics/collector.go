package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	apperrors "github.com/Proton-105/globalization/internal/errors"
)

var (
	pushDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_deliveries_total",
			Help: "Total number of push deliveries labeled by channel and result",
		},
		[]string{"channel", "result"},
	)
	pushDeliveryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "push_delivery_duration_seconds",
			Help:    "Duration of single-recipient push deliveries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)
	payoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_total",
			Help: "Total number of payout attempts labeled by channel and result",
		},
		[]string{"channel", "result"},
	)
	payoutAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_amount_total",
			Help: "Sum of successfully paid amounts per currency",
		},
		[]string{"currency"},
	)
	templateRendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "template_renders_total",
			Help: "Total number of template renders labeled by resolved language and result",
		},
		[]string{"lang", "result"},
	)
	auditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries labeled by result",
		},
		[]string{"result"},
	)
	auditChainBreaksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_chain_breaks_total",
			Help: "Total number of audit hash-chain breaks detected by verification",
		},
	)
	jobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of asynq tasks enqueued labeled by task type and result",
		},
		[]string{"task_type", "result"},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests labeled by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by code and severity",
		},
		[]string{"code", "severity"},
	)
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per channel (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
)

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordPushDelivery tracks one push delivery.
func RecordPushDelivery(channel string, err error, duration time.Duration) {
	channel = orUnknown(channel)
	pushDeliveriesTotal.WithLabelValues(channel, resultLabel(err)).Inc()
	pushDeliveryDurationSeconds.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordPayout tracks one payout attempt and, on success, the paid amount.
func RecordPayout(channel, currency string, amount decimal.Decimal, err error) {
	payoutsTotal.WithLabelValues(orUnknown(channel), resultLabel(err)).Inc()
	if err == nil {
		payoutAmountTotal.WithLabelValues(orUnknown(currency)).Add(amount.InexactFloat64())
	}
}

// RecordTemplateRender tracks template resolution.
func RecordTemplateRender(lang string, err error) {
	templateRendersTotal.WithLabelValues(orUnknown(lang), resultLabel(err)).Inc()
}

// RecordAuditEntry tracks audit writes.
func RecordAuditEntry(err error) {
	auditEntriesTotal.WithLabelValues(resultLabel(err)).Inc()
}

// RecordJobEnqueued tracks one enqueue attempt.
func RecordJobEnqueued(taskType string, err error) {
	jobsEnqueuedTotal.WithLabelValues(orUnknown(taskType), resultLabel(err)).Inc()
}

// RecordAuditChainBreak increments the chain-break counter.
func RecordAuditChainBreak() {
	auditChainBreaksTotal.Inc()
}

// RecordHTTPRequest tracks a served request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	route = orUnknown(route)
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordError increments error counters with metadata.
func RecordError(code, severity string) {
	errorsTotal.WithLabelValues(orUnknown(code), orUnknown(severity)).Inc()
}

// BreakerCollector periodically exports circuit breaker states.
type BreakerCollector struct {
	breakers []*apperrors.BreakerSet
	interval time.Duration
}

// NewBreakerCollector builds a collector bound to the provided breaker sets.
func NewBreakerCollector(interval time.Duration, breakers ...*apperrors.BreakerSet) *BreakerCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &BreakerCollector{breakers: breakers, interval: interval}
}

// Run polls the breaker sets until ctx is cancelled.
func (c *BreakerCollector) Run(ctx context.Context) {
	if c == nil || len(c.breakers) == 0 {
		return
	}

	for {
		c.collect()

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.interval):
		}
	}
}

func (c *BreakerCollector) collect() {
	for _, set := range c.breakers {
		if set == nil {
			continue
		}
		for name, state := range set.States() {
			circuitBreakerState.WithLabelValues(name).Set(float64(state))
		}
	}
}
