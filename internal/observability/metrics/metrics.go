package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantcatalog_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantcatalog_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantcatalog_operations_total",
		Help: "Domain operations by aggregate, operation and outcome",
	}, []string{"aggregate", "operation", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantcatalog_operation_duration_seconds",
		Help:    "Duration of domain operations including persistence",
		Buckets: prometheus.DefBuckets,
	}, []string{"aggregate", "operation"})

	domainErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantcatalog_domain_errors_total",
		Help: "Domain errors by kind and code",
	}, []string{"kind", "code"})

	stockMovements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantcatalog_stock_movements_total",
		Help: "Applied stock movements by direction",
	}, []string{"direction"})

	stockUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantcatalog_stock_units_total",
		Help: "Units moved by applied stock movements",
	}, []string{"direction"})

	quotaRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenantcatalog_storage_quota_rejections_total",
		Help: "Storage usage changes rejected because they would exceed the quota",
	})

	lockouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantcatalog_account_lockouts_total",
		Help: "Account lockouts by kind",
	}, []string{"kind"})

	logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantcatalog_logins_total",
		Help: "Login attempts by result",
	}, []string{"result"})

	accessDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantcatalog_access_denied_total",
		Help: "Denied tenant access by severity and suspicion",
	}, []string{"severity", "suspicious"})

	subscriptionSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantcatalog_subscription_sweeps_total",
		Help: "Subscription expiry sweeps by result",
	}, []string{"result"})

	tenantsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenantcatalog_tenants_expired_total",
		Help: "Tenants deactivated because their subscription expired",
	})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tenantcatalog_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"dependency"})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveOperation records one service operation and its outcome.
func ObserveOperation(aggregate, operation, outcome string, duration time.Duration) {
	operationsTotal.WithLabelValues(aggregate, operation, outcome).Inc()
	operationDuration.WithLabelValues(aggregate, operation).Observe(duration.Seconds())
}

// ObserveDomainError counts a domain error. kind is one of validation, state,
// rule, not_found, duplicate, unauthorized, forbidden or internal.
func ObserveDomainError(kind, code string) {
	domainErrors.WithLabelValues(kind, code).Inc()
}

// ObserveStockMovement counts an applied movement of delta units.
func ObserveStockMovement(delta int) {
	direction := "in"
	if delta < 0 {
		direction = "out"
		delta = -delta
	}
	stockMovements.WithLabelValues(direction).Inc()
	stockUnits.WithLabelValues(direction).Add(float64(delta))
}

func ObserveQuotaRejection() {
	quotaRejections.Inc()
}

// ObserveLockout counts a lockout; kind is "automatic" or "manual".
func ObserveLockout(kind string) {
	lockouts.WithLabelValues(kind).Inc()
}

func ObserveLogin(result string) {
	logins.WithLabelValues(result).Inc()
}

func ObserveAccessDenied(severity string, suspicious bool) {
	s := "false"
	if suspicious {
		s = "true"
	}
	accessDenied.WithLabelValues(severity, s).Inc()
}

// ObserveSubscriptionSweep records one sweep and how many tenants it expired.
func ObserveSubscriptionSweep(result string, expired int) {
	subscriptionSweeps.WithLabelValues(result).Inc()
	if expired > 0 {
		tenantsExpired.Add(float64(expired))
	}
}

// SetBreakerState publishes a circuit breaker state for dependency.
func SetBreakerState(dependency string, state int) {
	breakerState.WithLabelValues(dependency).Set(float64(state))
}
