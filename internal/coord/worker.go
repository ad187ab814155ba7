package coord

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"

	"github.com/forgecore/forge/internal/logging"
	"github.com/forgecore/forge/internal/pip"
)

// WorkerClient is the worker-side half of the channel: it dials the
// orchestrator, announces itself with Hello, completes the attach
// handshake, and forwards pip results and execution log events.
type WorkerClient struct {
	ID         pip.WorkerID
	Invocation InvocationID
	Conn       *grpc.ClientConn
	Logger     logging.Logger

	stream ChannelStream
}

func (w *WorkerClient) logger() logging.Logger {
	if w.Logger == nil {
		return logging.Noop()
	}
	return w.Logger
}

// Attach opens the duplex channel, sends Hello, then waits for the
// orchestrator's own AttachCompletion envelope before returning
// (§4.4 "Attachment handshake").
func (w *WorkerClient) Attach(ctx context.Context, loc Location) (*AttachCompletionInfo, error) {
	stream, err := OpenChannel(ctx, w.Conn)
	if err != nil {
		return nil, fmt.Errorf("coord: opening channel: %w", err)
	}
	w.stream = stream

	if err := stream.Send(&Envelope{Hello: &Hello{InvocationID: w.Invocation, Location: loc}}); err != nil {
		return nil, fmt.Errorf("coord: sending hello: %w", err)
	}

	env, err := stream.Recv()
	if err != nil {
		return nil, fmt.Errorf("coord: awaiting attach completion: %w", err)
	}
	if env.AttachCompletion == nil {
		return nil, fmt.Errorf("coord: expected attach completion, got %+v", env)
	}
	w.ID = env.AttachCompletion.WorkerID
	w.logger().Info("worker %d attached (max concurrency %d)", env.AttachCompletion.WorkerID, env.AttachCompletion.MaxConcurrency)
	return env.AttachCompletion, nil
}

// SendPipResults forwards a batch of completed pip outcomes and any
// queued forwarded events.
func (w *WorkerClient) SendPipResults(results []PipResult, events []WorkerForwardedEvent) error {
	if w.stream == nil {
		return fmt.Errorf("coord: SendPipResults called before Attach")
	}
	return w.stream.Send(&Envelope{PipResults: &PipResultsInfo{
		WorkerID:        w.ID,
		CompletedPips:   results,
		ForwardedEvents: events,
	}})
}

// SendExecutionLog forwards raw execution log event payloads.
func (w *WorkerClient) SendExecutionLog(events [][]byte) error {
	if w.stream == nil {
		return fmt.Errorf("coord: SendExecutionLog called before Attach")
	}
	return w.stream.Send(&Envelope{ExecutionLog: &ExecutionLogInfo{WorkerID: w.ID, Events: events}})
}

// Monitor wires a ChannelMonitor against this worker's connection and
// blocks until the channel fails or ctx is cancelled.
func (w *WorkerClient) Monitor(ctx context.Context, connectTimeout time.Duration) error {
	m := &ChannelMonitor{
		Conn:           w.Conn,
		ConnectTimeout: connectTimeout,
		Logger:         w.Logger,
	}
	return m.Watch(ctx)
}
