package contentsession

import (
	"context"
	"io"

	"github.com/cenkalti/backoff/v4"

	"github.com/forgecore/forge/internal/logging"
	"github.com/forgecore/forge/internal/vsohash"
)

// RetryPolicy bounds how many attempts a single logical call gets and how
// long it waits between them (§4.5 "Retry policy"). The policy is injected
// so callers can tune it per deployment without touching the decorator.
type RetryPolicy struct {
	MaxAttempts int
	NewBackOff  func() backoff.BackOff
}

// DefaultRetryPolicy matches a conservative default: a handful of attempts
// with capped exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (p RetryPolicy) backoffWithLimit(ctx context.Context) backoff.BackOff {
	newBackOff := p.NewBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(maxAttempts-1)), ctx)
}

// RetryRecorder observes a retry attempt for a named operation; satisfied
// by *metrics.Registry (via its Retry CounterVec) without this package
// importing prometheus directly.
type RetryRecorder interface {
	ObserveRetry(operation string)
}

// RetryingSession decorates any Session backend with the §4.5 retry
// policy: each attempt increments an attempt count; attempts past the
// first log at debug level with the attempt number and are reported to
// Recorder.
type RetryingSession struct {
	Backend  Session
	Policy   RetryPolicy
	Logger   logging.Logger
	Recorder RetryRecorder
}

func (r RetryingSession) logger() logging.Logger {
	if r.Logger == nil {
		return logging.Noop()
	}
	return r.Logger
}

func (r RetryingSession) record(operation string) {
	if r.Recorder != nil {
		r.Recorder.ObserveRetry(operation)
	}
}

func (r RetryingSession) Pin(ctx context.Context, hash vsohash.ContentHash) (PinResult, error) {
	var result PinResult
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			r.logger().Debug("retrying pin, attempt %d", attempt)
			r.record("pin")
		}
		var err error
		result, err = r.Backend.Pin(ctx, hash)
		return err
	}, r.Policy.backoffWithLimit(ctx))
	return result, err
}

func (r RetryingSession) PinBulk(ctx context.Context, hashes []vsohash.ContentHash) ([]PinResult, error) {
	var results []PinResult
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			r.logger().Debug("retrying pin_bulk, attempt %d", attempt)
			r.record("pin_bulk")
		}
		var err error
		results, err = r.Backend.PinBulk(ctx, hashes)
		return err
	}, r.Policy.backoffWithLimit(ctx))
	return results, err
}

func (r RetryingSession) OpenStream(ctx context.Context, hash vsohash.ContentHash) (io.ReadCloser, error) {
	var stream io.ReadCloser
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			r.logger().Debug("retrying open_stream, attempt %d", attempt)
			r.record("open_stream")
		}
		var err error
		stream, err = r.Backend.OpenStream(ctx, hash)
		return err
	}, r.Policy.backoffWithLimit(ctx))
	return stream, err
}

func (r RetryingSession) PlaceFile(ctx context.Context, hash vsohash.ContentHash, destination string, access AccessMode, replacement ReplacementMode, realization RealizationMode) (PinStatus, error) {
	var status PinStatus
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			r.logger().Debug("retrying place_file, attempt %d", attempt)
			r.record("place_file")
		}
		var err error
		status, err = r.Backend.PlaceFile(ctx, hash, destination, access, replacement, realization)
		return err
	}, r.Policy.backoffWithLimit(ctx))
	return status, err
}
