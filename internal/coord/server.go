package coord

import "fmt"

// Channel is the orchestrator side of the duplex stream: it admits the
// opening Hello through HandleHello, drives the slot through the
// Attaching/Attached handshake, sends AttachCompletion, then logs whatever
// PipResults/ExecutionLog traffic follows until the worker disconnects.
// Implementing this directly on Orchestrator lets it be registered against
// ServiceDesc with no adapter type in between.
func (o *Orchestrator) Channel(stream ChannelStream) error {
	env, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("coord: awaiting hello: %w", err)
	}
	if env.Hello == nil {
		return fmt.Errorf("coord: expected hello, got %+v", env)
	}
	if env.Hello.InvocationID != o.Invocation {
		return fmt.Errorf("coord: %w", ErrInvocationMismatch)
	}

	slot, err := o.HandleHello(env.Hello.Location)
	if err != nil {
		return err
	}
	if err := slot.BeginAttach(); err != nil {
		return err
	}
	if err := slot.CompleteAttach(); err != nil {
		return err
	}

	if err := stream.Send(&Envelope{AttachCompletion: &AttachCompletionInfo{
		WorkerID:       slot.ID,
		MaxConcurrency: 1,
	}}); err != nil {
		return fmt.Errorf("coord: sending attach completion: %w", err)
	}
	o.logger.Info("worker %d attached from %s:%d", slot.ID, env.Hello.Location.IP, env.Hello.Location.Port)

	for {
		env, err := stream.Recv()
		if err != nil {
			o.logger.Debug("worker %d channel closed: %v", slot.ID, err)
			_ = slot.RequestExit()
			return nil
		}
		switch {
		case env.PipResults != nil:
			o.logger.Info("worker %d reported %d completed pips", env.PipResults.WorkerID, len(env.PipResults.CompletedPips))
			for _, evt := range env.PipResults.ForwardedEvents {
				level := DemoteEvent(slot.Status(), evt.Level, evt.Process != nil)
				o.logger.Debug("worker %d event (level %d): %s", evt.WorkerID, level, evt.Message)
			}
		case env.ExecutionLog != nil:
			o.logger.Debug("worker %d forwarded %d execution log events", env.ExecutionLog.WorkerID, len(env.ExecutionLog.Events))
		}
	}
}
