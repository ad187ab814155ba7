package coord

import (
	"context"

	"google.golang.org/grpc"
)

// Envelope multiplexes the §4.4 message types over a single bidirectional
// stream, the way the reference orchestrator/worker channel does: exactly
// one field is populated per envelope.
type Envelope struct {
	Hello            *Hello
	AttachCompletion *AttachCompletionInfo
	PipResults       *PipResultsInfo
	ExecutionLog     *ExecutionLogInfo
}

// ServiceName is the gRPC service this package exposes.
const ServiceName = "forge.coord.Coordinator"

// ChannelStream is the duplex stream a Channel RPC exchanges Envelopes
// over, worker <-> orchestrator.
type ChannelStream interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
}

type channelServerStream struct {
	grpc.ServerStream
}

func (s *channelServerStream) Send(e *Envelope) error { return s.ServerStream.SendMsg(e) }
func (s *channelServerStream) Recv() (*Envelope, error) {
	e := new(Envelope)
	if err := s.ServerStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

type channelClientStream struct {
	grpc.ClientStream
}

func (s *channelClientStream) Send(e *Envelope) error { return s.ClientStream.SendMsg(e) }
func (s *channelClientStream) Recv() (*Envelope, error) {
	e := new(Envelope)
	if err := s.ClientStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

// CoordinatorServer is implemented by the orchestrator side.
type CoordinatorServer interface {
	Channel(ChannelStream) error
}

func channelHandler(srv any, stream grpc.ServerStream) error {
	return srv.(CoordinatorServer).Channel(&channelServerStream{stream})
}

// ServiceDesc is the hand-authored equivalent of what protoc-gen-go-grpc
// would emit for a single bidirectional-streaming Channel method; there is
// no .proto/codegen step in this tree, so the description is built
// directly against grpc's public ServiceDesc contract.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Channel",
			Handler:       channelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "forge/coord.proto",
}

// OpenChannel is the worker-side call to establish the duplex stream.
func OpenChannel(ctx context.Context, cc *grpc.ClientConn) (ChannelStream, error) {
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/Channel", grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	return &channelClientStream{stream}, nil
}
