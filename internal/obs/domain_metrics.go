package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ConfirmationTotal counts confirmation endpoint outcomes.
	ConfirmationTotal *prometheus.CounterVec
	// VerificationRequestTotal counts calls to the external verification service by operation.
	VerificationRequestTotal *prometheus.CounterVec
	// VerificationRequestLatency records verification service latency in milliseconds.
	VerificationRequestLatency *prometheus.HistogramVec
	// VerificationPollTotal counts client-side poll ticks.
	VerificationPollTotal *prometheus.CounterVec
	// StoreNotificationTotal counts store notifications sent by the client coordinator.
	StoreNotificationTotal *prometheus.CounterVec
	// OrderFinalizedTotal counts pending-payment to paid transitions.
	OrderFinalizedTotal prometheus.Counter
	// ReferenceMintTotal counts payment reference mint attempts by source.
	ReferenceMintTotal *prometheus.CounterVec
	// FulfillmentTaskTotal counts order fulfillment task outcomes.
	FulfillmentTaskTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ConfirmationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirmation_total",
			Help:      "Count of payment confirmation requests by outcome.",
		}, []string{"cluster", "result"})
		VerificationRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_request_total",
			Help:      "Count of verification service calls by operation and outcome.",
		}, []string{"operation", "result"})
		VerificationRequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_request_duration_ms",
			Help:      "Latency for verification service calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"operation"})
		VerificationPollTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_poll_total",
			Help:      "Count of client verification poll ticks by outcome.",
		}, []string{"result"})
		StoreNotificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_notification_total",
			Help:      "Count of store notifications by outcome.",
		}, []string{"result"})
		OrderFinalizedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_finalized_total",
			Help:      "Number of orders transitioned from pending-payment to paid.",
		})
		ReferenceMintTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reference_mint_total",
			Help:      "Count of payment reference mint attempts by source and outcome.",
		}, []string{"source", "result"})
		FulfillmentTaskTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_task_total",
			Help:      "Count of order fulfillment task outcomes.",
		}, []string{"stage", "result"})

		mustRegisterCollector(reg, ConfirmationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ConfirmationTotal = v
			}
		})
		mustRegisterCollector(reg, VerificationRequestTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				VerificationRequestTotal = v
			}
		})
		mustRegisterCollector(reg, VerificationRequestLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				VerificationRequestLatency = v
			}
		})
		mustRegisterCollector(reg, VerificationPollTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				VerificationPollTotal = v
			}
		})
		mustRegisterCollector(reg, StoreNotificationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				StoreNotificationTotal = v
			}
		})
		mustRegisterCollector(reg, OrderFinalizedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				OrderFinalizedTotal = v
			}
		})
		mustRegisterCollector(reg, ReferenceMintTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReferenceMintTotal = v
			}
		})
		mustRegisterCollector(reg, FulfillmentTaskTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				FulfillmentTaskTotal = v
			}
		})
	})
}

// IncCounter increments a labelled counter when the collector has been registered.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// ObserveMillis records a latency sample when the histogram has been registered.
func ObserveMillis(vec *prometheus.HistogramVec, value float64, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Observe(value)
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
