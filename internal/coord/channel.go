package coord

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc/connectivity"

	"github.com/forgecore/forge/internal/logging"
)

// ErrReconnectionTimeout is raised by ChannelMonitor.Watch when the
// channel stays in Connecting/TransientFailure longer than ConnectTimeout
// or a reconnect from Idle fails, and by ClassifyCallError for a call whose
// final status is Unavailable (§4.4).
var ErrReconnectionTimeout = errors.New("coord: reconnection timed out")

// ErrChannelShutdown is raised when the underlying channel reaches
// connectivity.Shutdown.
var ErrChannelShutdown = errors.New("coord: channel shut down")

// ConnStateWatcher is the subset of *grpc.ClientConn's contract the
// monitor needs; a real *grpc.ClientConn satisfies this directly.
type ConnStateWatcher interface {
	GetState() connectivity.State
	WaitForStateChange(ctx context.Context, sourceState connectivity.State) bool
	Connect()
}

// ChannelMonitor watches a single remote worker's channel connectivity
// state and drives bounded-backoff reconnection attempts, per §4.4
// "Channel lifecycle".
type ChannelMonitor struct {
	Conn           ConnStateWatcher
	ConnectTimeout time.Duration
	NewBackOff     func() backoff.BackOff
	Logger         logging.Logger
	OnFail         func(FailureReason)
}

func (m *ChannelMonitor) logger() logging.Logger {
	if m.Logger == nil {
		return logging.Noop()
	}
	return m.Logger
}

// Watch blocks, reacting to connectivity transitions, until ctx is
// cancelled or an unrecoverable channel failure is classified, in which
// case it invokes OnFail (if set) and returns the classification error.
func (m *ChannelMonitor) Watch(ctx context.Context) error {
	state := m.Conn.GetState()
	var stuckSince time.Time

	for {
		if !m.Conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
		state = m.Conn.GetState()

		switch state {
		case connectivity.Ready:
			stuckSince = time.Time{}
		case connectivity.Idle:
			if err := m.reconnect(ctx); err != nil {
				m.logger().Warn("channel reconnect failed: %v", err)
				m.fail(ReconnectionTimeout)
				return ErrReconnectionTimeout
			}
		case connectivity.Connecting, connectivity.TransientFailure:
			if stuckSince.IsZero() {
				stuckSince = time.Now()
			}
			if m.ConnectTimeout > 0 && time.Since(stuckSince) > m.ConnectTimeout {
				m.fail(ReconnectionTimeout)
				return ErrReconnectionTimeout
			}
		case connectivity.Shutdown:
			return ErrChannelShutdown
		}
	}
}

func (m *ChannelMonitor) fail(reason FailureReason) {
	if m.OnFail != nil {
		m.OnFail(reason)
	}
}

// reconnect attempts to bring the channel back to Ready under a bounded
// exponential backoff budget, grounded on ivoronin/dupedog's Docker-client
// reconnect pattern.
func (m *ChannelMonitor) reconnect(ctx context.Context) error {
	newBackOff := m.NewBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	attempt := func() error {
		m.Conn.Connect()
		if !m.Conn.WaitForStateChange(ctx, connectivity.Idle) {
			return ctx.Err()
		}
		if m.Conn.GetState() != connectivity.Ready {
			return errors.New("coord: channel did not reach ready after reconnect attempt")
		}
		return nil
	}
	return backoff.Retry(attempt, backoff.WithContext(newBackOff(), ctx))
}
