package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the client
type Metrics struct {
	// GraphQL API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Authentication Metrics
	LoginTotal            *prometheus.CounterVec
	OTPSentTotal          *prometheus.CounterVec
	OTPVerificationsTotal *prometheus.CounterVec

	// Panel Command Metrics
	AlarmCommandsTotal    *prometheus.CounterVec
	AlarmCommandDuration  *prometheus.HistogramVec
	StatusChecksTotal     *prometheus.CounterVec
	StatusCheckIterations prometheus.Histogram

	// Installation Cache Metrics
	CacheLookupsTotal *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init initializes metrics based on enabled flag
// If enabled=true, returns Prometheus-based Metrics
// If enabled=false, returns NoopMetrics (zero overhead)
// Uses sync.Once to ensure Prometheus metrics are only registered once
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}

	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

// initMetrics creates and registers all Prometheus metrics
func initMetrics() *Metrics {
	m := &Metrics{
		// GraphQL API Metrics
		APIRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securitas_api_requests_total",
				Help: "Total number of GraphQL requests sent to the vendor API",
			},
			[]string{"operation", "result"}, // result: success, error
		),
		APIRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "securitas_api_request_duration_seconds",
				Help:    "GraphQL request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		// Authentication Metrics
		LoginTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securitas_login_total",
				Help: "Total number of login attempts",
			},
			[]string{"result"}, // success, otp_required, invalid_credentials, error
		),
		OTPSentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securitas_otp_sent_total",
				Help: "Total number of OTP delivery requests",
			},
			[]string{"result"}, // success, error
		),
		OTPVerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securitas_otp_verifications_total",
				Help: "Total number of OTP code verifications",
			},
			[]string{"result"}, // success, error
		),

		// Panel Command Metrics
		AlarmCommandsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securitas_alarm_commands_total",
				Help: "Total number of arm/disarm commands submitted to the panel",
			},
			[]string{"request", "result"}, // request: ARM1, PERI1, ARMNIGHT1, DARM1; result: success, failure, timeout
		),
		AlarmCommandDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "securitas_alarm_command_duration_seconds",
				Help: "Time from command submission to terminal poll result",
				Buckets: []float64{
					1,
					2.5,
					5,
					10,
					20,
					30,
					60,
					90,
					150,
				},
			},
			[]string{"request"},
		),
		StatusChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securitas_status_checks_total",
				Help: "Total number of alarm status checks",
			},
			[]string{"result"}, // success, error
		),
		StatusCheckIterations: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "securitas_status_check_iterations",
				Help:    "Poll iterations needed to resolve an alarm status check",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
			},
		),

		// Installation Cache Metrics
		CacheLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securitas_cache_lookups_total",
				Help: "Total number of installation cache lookups",
			},
			[]string{"cache", "result"}, // cache: installations, services; result: hit, miss, stale_token, expired
		),
	}

	return m
}

// RecordAPIRequest records a GraphQL call outcome
func (m *Metrics) RecordAPIRequest(operation string, success bool, duration time.Duration) {
	result := resultSuccess
	if !success {
		result = resultError
	}
	m.APIRequestsTotal.WithLabelValues(operation, result).Inc()
	m.APIRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLogin records a login attempt outcome
func (m *Metrics) RecordLogin(result string) {
	m.LoginTotal.WithLabelValues(result).Inc()
}

// RecordOTPSent records an OTP delivery request
func (m *Metrics) RecordOTPSent(success bool) {
	result := resultSuccess
	if !success {
		result = resultError
	}
	m.OTPSentTotal.WithLabelValues(result).Inc()
}

// RecordOTPVerification records an OTP code verification
func (m *Metrics) RecordOTPVerification(success bool) {
	result := resultSuccess
	if !success {
		result = resultError
	}
	m.OTPVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordAlarmCommand records an arm/disarm command outcome
func (m *Metrics) RecordAlarmCommand(request, result string, duration time.Duration) {
	m.AlarmCommandsTotal.WithLabelValues(request, result).Inc()
	m.AlarmCommandDuration.WithLabelValues(request).Observe(duration.Seconds())
}

// RecordStatusCheck records an alarm status check outcome
func (m *Metrics) RecordStatusCheck(success bool, iterations int) {
	result := resultSuccess
	if !success {
		result = resultError
	}
	m.StatusChecksTotal.WithLabelValues(result).Inc()
	m.StatusCheckIterations.Observe(float64(iterations))
}

// RecordCacheLookup records an installation cache lookup result
func (m *Metrics) RecordCacheLookup(cache, result string) {
	m.CacheLookupsTotal.WithLabelValues(cache, result).Inc()
}
