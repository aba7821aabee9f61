package metrics

import "time"

// NoopMetrics is a no-operation implementation of Recorder
// All methods are empty and do nothing, providing zero overhead when metrics are disabled
type NoopMetrics struct{}

// Ensure NoopMetrics implements Recorder interface at compile time
var _ Recorder = (*NoopMetrics)(nil)

// NewNoopMetrics creates a new no-operation metrics recorder
func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

// GraphQL API - noop implementations
func (n *NoopMetrics) RecordAPIRequest(operation string, success bool, duration time.Duration) {}

// Authentication - noop implementations
func (n *NoopMetrics) RecordLogin(result string)          {}
func (n *NoopMetrics) RecordOTPSent(success bool)         {}
func (n *NoopMetrics) RecordOTPVerification(success bool) {}

// Panel commands - noop implementations
func (n *NoopMetrics) RecordAlarmCommand(request, result string, duration time.Duration) {}
func (n *NoopMetrics) RecordStatusCheck(success bool, iterations int)                    {}

// Installation cache - noop implementations
func (n *NoopMetrics) RecordCacheLookup(cache, result string) {}
