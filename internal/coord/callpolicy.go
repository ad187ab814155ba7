package coord

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Call-level failure classifications, distinct from FailureReason (which
// tracks slot-level state) but feeding it (§4.4 "RPC invocation protocol").
var (
	ErrInvocationMismatch   = errors.New("coord: invocation id mismatch on call trailer")
	ErrUnrecoverableCall    = errors.New("coord: call marked unrecoverable by trailer")
	ErrCallDeadlineExceeded = errors.New("coord: call exceeded deadline")
)

// CallPolicy governs how a single RPC to a remote worker is invoked:
// deadline, wait-for-ready semantics, and bounded retry on transient
// failure codes (§4.4 "RPC invocation protocol").
type CallPolicy struct {
	Deadline      time.Duration
	WaitForReady  bool
	MaxAttempts   int
	RetryableCode func(codes.Code) bool
}

// DefaultCallPolicy matches the spec-literal defaults: a bounded deadline,
// wait-for-ready so a momentarily-Idle channel doesn't fail the call, and
// retry on the classic transient set.
func DefaultCallPolicy(deadline time.Duration) CallPolicy {
	return CallPolicy{
		Deadline:     deadline,
		WaitForReady: true,
		MaxAttempts:  3,
		RetryableCode: func(c codes.Code) bool {
			switch c {
			case codes.Unavailable, codes.Internal, codes.Unknown:
				return true
			default:
				return false
			}
		},
	}
}

// Invoke runs fn under the policy's deadline and wait-for-ready call
// option, retrying up to MaxAttempts times while the returned error
// classifies as retryable. It never retries once ctx itself is done. fn
// is handed call options that already include grpc.Trailer (and
// grpc.WaitForReady when set), to pass on to the caller's actual client
// stub so trailers can be surfaced for classification.
func (p CallPolicy) Invoke(ctx context.Context, fn func(context.Context, ...grpc.CallOption) error) error {
	retryable := p.RetryableCode
	if retryable == nil {
		retryable = func(codes.Code) bool { return false }
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	var lastTrailer metadata.MD
	for attempt := 0; attempt < maxAttempts; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if p.Deadline > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.Deadline)
		}
		var trailer metadata.MD
		opts := []grpc.CallOption{grpc.Trailer(&trailer)}
		if p.WaitForReady {
			opts = append(opts, grpc.WaitForReady(true))
		}
		err := fn(callCtx, opts...)
		if cancel != nil {
			cancel()
		}
		lastTrailer = trailer
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ClassifyCallError(err, trailer)
		}
		st, ok := status.FromError(err)
		if !ok || !retryable(st.Code()) {
			return ClassifyCallError(err, trailer)
		}
	}
	return ClassifyCallError(lastErr, lastTrailer)
}

// ClassifyCallError maps a gRPC error's trailers and status code to the
// §4.4/§6 failure taxonomy the orchestrator reacts to. Trailer presence
// takes precedence over the raw status code.
func ClassifyCallError(err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}
	if trailer != nil {
		if vs := trailer.Get(TrailerInvocationIDMismatch); len(vs) > 0 {
			return ErrInvocationMismatch
		}
		if vs := trailer.Get(TrailerIsUnrecoverableError); len(vs) > 0 {
			return ErrUnrecoverableCall
		}
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return ErrCallDeadlineExceeded
	case codes.Unavailable:
		return ErrReconnectionTimeout
	default:
		return err
	}
}
