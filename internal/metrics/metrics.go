// Package metrics collects and exposes Prometheus metrics for the bot.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records the business-level counters the bot cares about.
type Collector struct {
	checkAccess       *prometheus.CounterVec
	purchases         *prometheus.CounterVec
	paymentsProcessed *prometheus.CounterVec
	paymentDuplicates prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkAccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paywall_check_access_total",
			Help: "Access checks by verification result.",
		}, []string{"result"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paywall_purchase_requests_total",
			Help: "Purchase initiations by outcome.",
		}, []string{"outcome"}),
		paymentsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paywall_payments_processed_total",
			Help: "Successful payments turned into grants, by plan days.",
		}, []string{"days"}),
		paymentDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paywall_payment_duplicates_total",
			Help: "Redelivered successful-payment events skipped via charge dedup.",
		}),
	}

	reg.MustRegister(
		c.checkAccess,
		c.purchases,
		c.paymentsProcessed,
		c.paymentDuplicates,
	)

	return c
}

// RecordCheckAccess counts an access check by verification result.
func (c *Collector) RecordCheckAccess(verified bool) {
	result := "verified"
	if !verified {
		result = "rejected"
	}
	c.checkAccess.WithLabelValues(result).Inc()
}

// RecordPurchase counts a purchase initiation outcome
// (accepted, bad_request, transport_error).
func (c *Collector) RecordPurchase(outcome string) {
	c.purchases.WithLabelValues(outcome).Inc()
}

// RecordPaymentProcessed counts a completed payment by plan size.
func (c *Collector) RecordPaymentProcessed(days int) {
	c.paymentsProcessed.WithLabelValues(strconv.Itoa(days)).Inc()
}

// RecordPaymentDuplicate counts a skipped duplicate payment delivery.
func (c *Collector) RecordPaymentDuplicate() {
	c.paymentDuplicates.Inc()
}

// Handler returns the HTTP handler serving the Prometheus scrape endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
