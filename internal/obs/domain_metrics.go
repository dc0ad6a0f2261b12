package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutFinalizeTotal counts checkout finalisation outcomes (free, paid, stale, no_cart, error).
	CheckoutFinalizeTotal *prometheus.CounterVec
	// OrderMaterializeTotal counts order materialisation outcomes (created, existing, duplicate, error).
	OrderMaterializeTotal *prometheus.CounterVec
	// PricingErrorsTotal counts pricing failures by reason.
	PricingErrorsTotal *prometheus.CounterVec
	// PaymentIntentTotal counts payment intent creation attempts.
	PaymentIntentTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// VendorPriceLookups counts vendor trade-price lookups by cache result.
	VendorPriceLookups *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutFinalizeTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_finalize_total",
			Help:      "Count of checkout finalisation outcomes.",
		}, []string{"kind"}))
		OrderMaterializeTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_materialize_total",
			Help:      "Count of order materialisation outcomes.",
		}, []string{"provider", "result"}))
		PricingErrorsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_errors_total",
			Help:      "Count of pricing failures by reason.",
		}, []string{"reason"}))
		PaymentIntentTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent processing outcomes.",
		}, []string{"provider", "result"}))
		PaymentWebhookTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"}))
		VendorPriceLookups = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_price_lookups_total",
			Help:      "Count of vendor trade-price lookups by cache result.",
		}, []string{"result"}))
	})
}

// Inc increments vec when it has been registered. Unregistered collectors are ignored so
// packages can be used without the metrics stack.
func Inc(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
