package metrics

import "time"

// Recorder defines the interface for recording client metrics.
// Implementations include Metrics (Prometheus-based) and NoopMetrics (no-op).
type Recorder interface {
	// GraphQL API
	RecordAPIRequest(operation string, success bool, duration time.Duration)

	// Authentication
	RecordLogin(result string)
	RecordOTPSent(success bool)
	RecordOTPVerification(success bool)

	// Panel commands
	RecordAlarmCommand(request, result string, duration time.Duration)
	RecordStatusCheck(success bool, iterations int)

	// Installation cache
	RecordCacheLookup(cache, result string)
}

// Login result labels
const (
	LoginResultSuccess            = "success"
	LoginResultOTPRequired        = "otp_required"
	LoginResultInvalidCredentials = "invalid_credentials"
	LoginResultError              = "error"
)

// Alarm command result labels
const (
	CommandResultSuccess = "success"
	CommandResultFailure = "failure"
	CommandResultTimeout = "timeout"
)

// Cache lookup result labels
const (
	CacheResultHit        = "hit"
	CacheResultMiss       = "miss"
	CacheResultStaleToken = "stale_token"
	CacheResultExpired    = "expired"
)
