package sharedlock

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	otelPackageName = "github.com/kalbasit/sharedlock"

	// Lock type constants for metrics.
	LockTypeWriter = "writer"
	LockTypeReader = "reader"

	// Lock result constants for metrics.
	LockResultSuccess      = "success"
	LockResultUnavailable  = "unavailable"
	LockResultLimitReached = "limit_reached"

	// Lock failure reason constants for metrics.
	LockFailureForeignOwner   = "foreign_owner"
	LockFailureAbsent         = "absent"
	LockFailureCircuitBreaker = "circuit_breaker"
	LockFailureBackend        = "backend_error"
)

var (
	//nolint:gochecknoglobals
	meter metric.Meter

	// lockAcquisitionsTotal tracks total acquisition attempts.
	//nolint:gochecknoglobals
	lockAcquisitionsTotal metric.Int64Counter

	// lockHoldDuration tracks how long grants are held.
	//nolint:gochecknoglobals
	lockHoldDuration metric.Float64Histogram

	// lockFailuresTotal tracks total acquisition/release/refresh failures.
	//nolint:gochecknoglobals
	lockFailuresTotal metric.Int64Counter

	// lockRetryAttemptsTotal tracks total blocking-retry attempts.
	//nolint:gochecknoglobals
	lockRetryAttemptsTotal metric.Int64Counter

	// circuitStateTransitionsTotal tracks circuit breaker open/close transitions.
	//nolint:gochecknoglobals
	circuitStateTransitionsTotal metric.Int64Counter
)

//nolint:gochecknoinits
func init() {
	meter = otel.Meter(otelPackageName)

	var err error

	lockAcquisitionsTotal, err = meter.Int64Counter(
		"sharedlock_acquisitions_total",
		metric.WithDescription("Total number of lock acquisition attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		panic(err)
	}

	lockHoldDuration, err = meter.Float64Histogram(
		"sharedlock_hold_duration_seconds",
		metric.WithDescription("Duration that grants are held"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(err)
	}

	lockFailuresTotal, err = meter.Int64Counter(
		"sharedlock_failures_total",
		metric.WithDescription("Total number of lock failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		panic(err)
	}

	lockRetryAttemptsTotal, err = meter.Int64Counter(
		"sharedlock_retry_attempts_total",
		metric.WithDescription("Total number of blocking-retry attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		panic(err)
	}

	circuitStateTransitionsTotal, err = meter.Int64Counter(
		"sharedlock_circuit_state_transitions_total",
		metric.WithDescription("Total number of circuit breaker open/close transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		panic(err)
	}
}

// RecordLockAcquisition records an acquisition attempt. lockType should be
// one of LockType*, result one of LockResult*.
func RecordLockAcquisition(ctx context.Context, lockType, result string) {
	if lockAcquisitionsTotal == nil {
		return
	}

	lockAcquisitionsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", lockType),
			attribute.String("result", result),
		),
	)
}

// RecordLockDuration records how long a grant was held, in seconds.
func RecordLockDuration(ctx context.Context, lockType string, duration float64) {
	if lockHoldDuration == nil {
		return
	}

	lockHoldDuration.Record(ctx, duration,
		metric.WithAttributes(
			attribute.String("type", lockType),
		),
	)
}

// RecordLockFailure records a failure. reason should be one of
// LockFailure*.
func RecordLockFailure(ctx context.Context, lockType, reason string) {
	if lockFailuresTotal == nil {
		return
	}

	lockFailuresTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", lockType),
			attribute.String("reason", reason),
		),
	)
}

// RecordLockRetryAttempt records one blocking-retry poll.
func RecordLockRetryAttempt(ctx context.Context, lockType string) {
	if lockRetryAttemptsTotal == nil {
		return
	}

	lockRetryAttemptsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", lockType),
		),
	)
}

// RecordCircuitStateChange records a circuit breaker transitioning open or
// closed for the named backend. Intended as a circuitbreaker.CircuitBreaker
// WithStateChangeHook callback.
func RecordCircuitStateChange(ctx context.Context, backendName string, open bool) {
	if circuitStateTransitionsTotal == nil {
		return
	}

	state := "closed"
	if open {
		state = "open"
	}

	circuitStateTransitionsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backendName),
			attribute.String("state", state),
		),
	)
}
