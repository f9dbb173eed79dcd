// Package faults classifies outbound-call errors so retry, breaker, and
// credential-rotation decisions do not depend on concrete error types.
package faults

import (
	"context"
	"errors"
	"fmt"
)

// Class describes how a failed outbound call should be treated downstream.
type Class int

const (
	// Permanent errors are never retried: bad input, 4xx responses,
	// configuration faults, cancelled contexts.
	Permanent Class = iota
	// Transient errors are worth retrying: network failures, timeouts,
	// 5xx responses, provider-reported processing hiccups.
	Transient
	// RateLimited marks our own admission-control rejections. Retrying
	// locally would defeat the limiter, so these propagate immediately.
	RateLimited
	// Quota marks a provider-reported per-credential quota exhaustion
	// (HTTP 429). Retryable only after rotating to another credential.
	Quota
	// Unauthorized marks a provider auth rejection (HTTP 401/403) for the
	// credential in use. Retryable after rotation, fatal once the pool is
	// exhausted.
	Unauthorized
)

// String returns the class name for logging.
func (c Class) String() string {
	switch c {
	case Permanent:
		return "permanent"
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Quota:
		return "quota"
	case Unauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

type classified struct {
	class Class
	err   error
}

func (e *classified) Error() string { return e.err.Error() }
func (e *classified) Unwrap() error { return e.err }

// Tag wraps err with a fault class. The class survives further wrapping
// with fmt.Errorf("%w") and is recovered by ClassOf.
func Tag(err error, class Class) error {
	if err == nil {
		return nil
	}
	return &classified{class: class, err: err}
}

// Tagf creates a new classified error from a format string.
func Tagf(class Class, format string, args ...any) error {
	return &classified{class: class, err: fmt.Errorf(format, args...)}
}

// ClassOf returns the fault class of err. Untagged errors and cancelled
// contexts are Permanent: without an explicit classification a retry could
// repeat expensive pay-per-call work for no benefit.
func ClassOf(err error) Class {
	var c *classified
	if errors.As(err, &c) {
		return c.class
	}
	return Permanent
}

// IsRetryable reports whether a retry attempt could plausibly succeed.
// Quota and Unauthorized are retryable because the caller rotates to a
// fresh credential between attempts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch ClassOf(err) {
	case Transient, Quota, Unauthorized:
		return true
	default:
		return false
	}
}

// IsTripWorthy reports whether the error should count against a circuit
// breaker's failure threshold. Only Transient faults indicate an unhealthy
// dependency; quota and auth rejections mean the service is fine and the
// credential is not.
func IsTripWorthy(err error) bool {
	return err != nil && ClassOf(err) == Transient
}

// NeedsRotation reports whether the error signals that the credential in
// use is exhausted or rejected and the pool cursor should advance.
func NeedsRotation(err error) bool {
	if err == nil {
		return false
	}
	switch ClassOf(err) {
	case Quota, Unauthorized:
		return true
	default:
		return false
	}
}
