package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAuthEvent("login", ResultSuccess)
		m.RecordLedgerOperation("debit", ResultRejected)
		m.RecordWebhookEvent("applied")
		m.RecordBooking(ResultError)
	})
}

func TestRecordLedgerOperation(t *testing.T) {
	m := New()

	m.RecordLedgerOperation("debit", ResultSuccess)
	m.RecordLedgerOperation("debit", ResultSuccess)
	m.RecordLedgerOperation("debit", ResultRejected)

	assert.InDelta(t, 2, testutil.ToFloat64(m.LedgerOperations.WithLabelValues("debit", ResultSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.LedgerOperations.WithLabelValues("debit", ResultRejected)), 0)
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.RecordWebhookEvent("duplicate")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `lessons_payment_webhook_events_total{outcome="duplicate"} 1`)
}
