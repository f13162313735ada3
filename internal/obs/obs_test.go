package obs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokocabang/backend/internal/domain"
)

func TestRequestLoggerWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "info")
	handler := RequestLogger{Logger: logger}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http_request", line["message"])
	assert.Equal(t, float64(http.StatusCreated), line["status"])
	assert.Equal(t, float64(2), line["bytes"])
	assert.Equal(t, "/api/v1/sales", line["path"])
	assert.Equal(t, "tokocabang", line["service"])
}

func TestMetricsMiddlewareCountsByStatus(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics("tokocabang", registry)
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "unknown", "204"))
	assert.Equal(t, float64(1), total)
	assert.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
}

func TestNewMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewMetrics("tokocabang", registry)
	second := NewMetrics("tokocabang", registry)

	first.Sale("confirmed")
	second.Sale("confirmed")
	assert.Equal(t, float64(2), testutil.ToFloat64(first.SalesTotal.WithLabelValues("confirmed")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Sale("confirmed")
	m.Payment("applied", domain.DueTypeCustomer)
	m.Failure("apply_payment", domain.ErrStaleDueState)
	m.DashboardCache(true)
}

func TestErrorKindPrefersOverpayment(t *testing.T) {
	err := &domain.OverpaymentError{Attempted: "10.00", Remaining: "5.00"}
	assert.Equal(t, "overpayment_rejected", ErrorKind(err))
	assert.Equal(t, "stale_due_state", ErrorKind(fmt.Errorf("wrap: %w", domain.ErrStaleDueState)))
	assert.Equal(t, "internal", ErrorKind(fmt.Errorf("boom")))
}
