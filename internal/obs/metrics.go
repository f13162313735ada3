package obs

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tokocabang/backend/internal/domain"
)

// Metrics groups the collectors the service and HTTP layer report into.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SalesTotal      *prometheus.CounterVec
	PaymentsTotal   *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	ReqTotal        *prometheus.CounterVec
	ReqDur          *prometheus.HistogramVec
	DashboardCached *prometheus.CounterVec
}

// NewMetrics registers collectors on reg, reusing collectors that are
// already registered under the same name.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SalesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_total",
			Help:      "Count of sale lifecycle events by action.",
		}, []string{"action"}),
		PaymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "due_payments_total",
			Help:      "Count of due payment operations by action and due type.",
		}, []string{"action", "due_type"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of failed operations by operation and error kind.",
		}, []string{"operation", "kind"}),
		ReqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the server.",
		}, []string{"method", "route", "status"}),
		ReqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency distribution in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"method", "route"}),
		DashboardCached: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dashboard_cache_total",
			Help:      "Dashboard cache lookups by result.",
		}, []string{"result"}),
	}

	registerCounter(reg, &m.SalesTotal)
	registerCounter(reg, &m.PaymentsTotal)
	registerCounter(reg, &m.ErrorsTotal)
	registerCounter(reg, &m.ReqTotal)
	registerCounter(reg, &m.DashboardCached)
	if err := reg.Register(m.ReqDur); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(fmt.Errorf("register histogram: %w", err))
		}
		if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
			m.ReqDur = existing
		}
	}
	return m
}

func registerCounter(reg prometheus.Registerer, counter **prometheus.CounterVec) {
	if err := reg.Register(*counter); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(fmt.Errorf("register counter: %w", err))
		}
		if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
			*counter = existing
		}
	}
}

func (m *Metrics) Sale(action string) {
	if m == nil {
		return
	}
	m.SalesTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) Payment(action, dueType string) {
	if m == nil {
		return
	}
	m.PaymentsTotal.WithLabelValues(action, dueType).Inc()
}

func (m *Metrics) Failure(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(operation, ErrorKind(err)).Inc()
}

func (m *Metrics) DashboardCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.DashboardCached.WithLabelValues(result).Inc()
}

// ErrorKind names the domain error class of err for metric labels.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrOverpaymentRejected):
		return "overpayment_rejected"
	case errors.Is(err, domain.ErrInvalidPaymentAmount):
		return "invalid_payment_amount"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrStaleDueState):
		return "stale_due_state"
	case errors.Is(err, domain.ErrDueCancelled):
		return "due_cancelled"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAdminPasswordRequired), errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrInvalidTransaction):
		return "invalid_transaction"
	case errors.Is(err, domain.ErrTransportFailure):
		return "transport_failure"
	default:
		return "internal"
	}
}

// Middleware counts requests and observes latency per matched route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := NewStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)

		route := routePattern(r)
		if route == "" {
			route = "unknown"
		}
		m.ReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(recorder.Status())).Inc()
		m.ReqDur.WithLabelValues(r.Method, route).Observe(float64(time.Since(start)) / float64(time.Millisecond))
	})
}
