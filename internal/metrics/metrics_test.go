package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCountsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCheckAccess(true)
	c.RecordCheckAccess(true)
	c.RecordCheckAccess(false)
	c.RecordPurchase("bad_request")
	c.RecordPaymentProcessed(30)
	c.RecordPaymentDuplicate()

	if got := testutil.ToFloat64(c.checkAccess.WithLabelValues("verified")); got != 2 {
		t.Fatalf("expected 2 verified checks, got %v", got)
	}
	if got := testutil.ToFloat64(c.checkAccess.WithLabelValues("rejected")); got != 1 {
		t.Fatalf("expected 1 rejected check, got %v", got)
	}
	if got := testutil.ToFloat64(c.purchases.WithLabelValues("bad_request")); got != 1 {
		t.Fatalf("expected 1 bad_request purchase, got %v", got)
	}
	if got := testutil.ToFloat64(c.paymentsProcessed.WithLabelValues("30")); got != 1 {
		t.Fatalf("expected 1 processed payment for 30 days, got %v", got)
	}
	if got := testutil.ToFloat64(c.paymentDuplicates); got != 1 {
		t.Fatalf("expected 1 duplicate payment, got %v", got)
	}
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordPaymentProcessed(1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}

	if !strings.Contains(rec.Body.String(), "paywall_payments_processed_total") {
		t.Fatalf("expected scrape output to include payment counter, got %s", rec.Body.String())
	}
}
