package obs

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	domainOnce sync.Once

	// PaymentRequestTotal counts payment request builds by outcome.
	PaymentRequestTotal *prometheus.CounterVec
	// PaymentCallbackTotal counts gateway callbacks by outcome.
	PaymentCallbackTotal *prometheus.CounterVec
	// PaymentCallbackLatency records callback handling latency in milliseconds.
	PaymentCallbackLatency *prometheus.HistogramVec
	// PaymentEventsTotal counts emitted payment events by topic.
	PaymentEventsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_request_total",
			Help:      "Count of signed payment requests by mode and outcome.",
		}, []string{"mode", "result"})
		PaymentCallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_callback_total",
			Help:      "Count of processed gateway callbacks by outcome.",
		}, []string{"result"})
		PaymentCallbackLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_callback_duration_ms",
			Help:      "Latency for gateway callback handling in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"result"})
		PaymentEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_events_total",
			Help:      "Count of emitted payment events by topic.",
		}, []string{"topic"})

		mustRegisterCollector(reg, PaymentRequestTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentRequestTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentCallbackTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentCallbackTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentCallbackLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				PaymentCallbackLatency = v
			}
		})
		mustRegisterCollector(reg, PaymentEventsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentEventsTotal = v
			}
		})
	})
}

// IncPaymentRequest records a payment request outcome when metrics are registered.
func IncPaymentRequest(mode, result string) {
	if PaymentRequestTotal != nil {
		PaymentRequestTotal.WithLabelValues(mode, result).Inc()
	}
}

// IncPaymentCallback records a callback outcome when metrics are registered.
func IncPaymentCallback(result string) {
	if PaymentCallbackTotal != nil {
		PaymentCallbackTotal.WithLabelValues(result).Inc()
	}
}

// ObservePaymentCallback records callback latency when metrics are registered.
func ObservePaymentCallback(result string, ms float64) {
	if PaymentCallbackLatency != nil {
		PaymentCallbackLatency.WithLabelValues(result).Observe(ms)
	}
}

// IncPaymentEvent records an emitted event when metrics are registered.
func IncPaymentEvent(topic string) {
	if PaymentEventsTotal != nil {
		PaymentEventsTotal.WithLabelValues(topic).Inc()
	}
}

var (
	rejectionOnce    sync.Once
	rejectionCounter metric.Int64Counter
)

// RecordCallbackRejection increments the OpenTelemetry counter of rejected
// callbacks. The global meter provider is a no-op until one is installed.
func RecordCallbackRejection(ctx context.Context, reason string) {
	rejectionOnce.Do(func() {
		c, err := otel.Meter("concordpay.callback").Int64Counter(
			"concordpay.callback.rejections",
			metric.WithDescription("Gateway callbacks rejected before any order update."),
		)
		if err == nil {
			rejectionCounter = c
		}
	})
	if rejectionCounter == nil {
		return
	}
	rejectionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
