package coord_test

import (
	"testing"

	"google.golang.org/grpc/metadata"

	"github.com/forgecore/forge/internal/coord"
	"github.com/forgecore/forge/internal/logging"
	"github.com/forgecore/forge/internal/pip"
)

// §8 scenario 5: a Hello for an unbound dynamic slot binds it; a second
// Hello with the same location is an idempotent no-op; a Hello matching no
// slot at all is rejected.
func TestHandleHelloAdmission(t *testing.T) {
	t.Parallel()
	dynamic := coord.NewSlot(pip.WorkerID(1), true, nil)
	static := coord.NewSlot(pip.WorkerID(2), false, &coord.Location{IP: "10.0.0.2", Port: 9000})
	orch := coord.NewOrchestrator(coord.NewInvocationID(), logging.Noop(), []*coord.Slot{dynamic, static})

	loc := coord.Location{IP: "10.0.0.1", Port: 8000}
	slot, err := orch.HandleHello(loc)
	if err != nil {
		t.Fatalf("unexpected error binding dynamic slot: %v", err)
	}
	if slot.ID != dynamic.ID {
		t.Fatalf("expected dynamic slot %d bound, got %d", dynamic.ID, slot.ID)
	}
	if slot.Status() != coord.Known {
		t.Fatalf("expected Known after hello, got %s", slot.Status())
	}

	again, err := orch.HandleHello(loc)
	if err != nil {
		t.Fatalf("repeat hello from the same location should be a no-op, got error: %v", err)
	}
	if again.ID != dynamic.ID {
		t.Fatalf("repeat hello should resolve to the same slot")
	}

	if _, err := orch.HandleHello(coord.Location{IP: "10.0.0.9", Port: 1}); err != coord.ErrHelloNoSlot {
		t.Fatalf("expected ErrHelloNoSlot for an unmatched location, got %v", err)
	}
}

func TestSlotLegalTransitions(t *testing.T) {
	t.Parallel()
	s := coord.NewSlot(pip.WorkerID(1), true, nil)
	if err := s.ReceiveHello(coord.Location{IP: "127.0.0.1", Port: 1}); err != nil {
		t.Fatalf("ReceiveHello: %v", err)
	}
	if err := s.BeginAttach(); err != nil {
		t.Fatalf("BeginAttach: %v", err)
	}
	if err := s.CompleteAttach(); err != nil {
		t.Fatalf("CompleteAttach: %v", err)
	}
	if err := s.RequestExit(); err != nil {
		t.Fatalf("RequestExit: %v", err)
	}
	if err := s.BeginAttach(); err == nil {
		t.Fatalf("expected illegal transition from Stopped to Attaching to be rejected")
	}
}

func TestDemoteEventRules(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		status    coord.SlotStatus
		level     coord.EventLevel
		infra     bool
		wantLevel coord.EventLevel
	}{
		{"non-error passes through", coord.Attached, coord.LevelWarning, false, coord.LevelWarning},
		{"stopped worker error demoted to verbose", coord.Stopped, coord.LevelError, false, coord.LevelVerbose},
		{"infra failure demoted to warning", coord.Attached, coord.LevelError, true, coord.LevelWarning},
		{"ordinary error unchanged", coord.Attached, coord.LevelError, false, coord.LevelError},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := coord.DemoteEvent(tc.status, tc.level, tc.infra)
			if got != tc.wantLevel {
				t.Errorf("DemoteEvent(%s, %v, %v) = %v, want %v", tc.status, tc.level, tc.infra, got, tc.wantLevel)
			}
		})
	}
}

func TestClassifyCallErrorTrailerPrecedence(t *testing.T) {
	t.Parallel()
	trailer := metadata.MD{}
	trailer.Set(coord.TrailerInvocationIDMismatch, "true")
	if got := coord.ClassifyCallError(errSentinel{}, trailer); got != coord.ErrInvocationMismatch {
		t.Errorf("expected ErrInvocationMismatch, got %v", got)
	}

	trailer = metadata.MD{}
	trailer.Set(coord.TrailerIsUnrecoverableError, "true")
	if got := coord.ClassifyCallError(errSentinel{}, trailer); got != coord.ErrUnrecoverableCall {
		t.Errorf("expected ErrUnrecoverableCall, got %v", got)
	}
}

type errSentinel struct{}

func (errSentinel) Error() string { return "sentinel" }

// fakeStream is an in-memory ChannelStream, standing in for the gRPC
// transport so Orchestrator.Channel can be driven without a live server.
type fakeStream struct {
	in  chan *coord.Envelope
	out chan *coord.Envelope
}

func newFakeStream() (server, client *fakeStream) {
	a, b := make(chan *coord.Envelope, 4), make(chan *coord.Envelope, 4)
	return &fakeStream{in: a, out: b}, &fakeStream{in: b, out: a}
}

func (f *fakeStream) Send(e *coord.Envelope) error {
	f.out <- e
	return nil
}

func (f *fakeStream) Recv() (*coord.Envelope, error) {
	e, ok := <-f.in
	if !ok {
		return nil, errSentinel{}
	}
	return e, nil
}

// TestChannelCompletesAttachHandshake drives Orchestrator.Channel with a
// Hello over an in-memory stream and checks it replies with
// AttachCompletion and moves the bound slot to Attached (§4.4).
func TestChannelCompletesAttachHandshake(t *testing.T) {
	t.Parallel()
	invocation := coord.NewInvocationID()
	dynamic := coord.NewSlot(pip.WorkerID(1), true, nil)
	orch := coord.NewOrchestrator(invocation, logging.Noop(), []*coord.Slot{dynamic})

	server, client := newFakeStream()
	done := make(chan error, 1)
	go func() { done <- orch.Channel(server) }()

	if err := client.Send(&coord.Envelope{Hello: &coord.Hello{
		InvocationID: invocation,
		Location:     coord.Location{IP: "127.0.0.1", Port: 5000},
	}}); err != nil {
		t.Fatalf("send hello: %v", err)
	}

	reply, err := client.Recv()
	if err != nil {
		t.Fatalf("recv attach completion: %v", err)
	}
	if reply.AttachCompletion == nil {
		t.Fatalf("expected an AttachCompletion envelope, got %+v", reply)
	}
	if reply.AttachCompletion.WorkerID != dynamic.ID {
		t.Errorf("got worker id %d, want %d", reply.AttachCompletion.WorkerID, dynamic.ID)
	}
	if dynamic.Status() != coord.Attached {
		t.Errorf("expected slot Attached, got %s", dynamic.Status())
	}

	close(client.out)
	if err := <-done; err != nil {
		t.Errorf("Channel returned an error after stream close: %v", err)
	}
	if dynamic.Status() != coord.Stopped {
		t.Errorf("expected slot Stopped after channel close, got %s", dynamic.Status())
	}
}
