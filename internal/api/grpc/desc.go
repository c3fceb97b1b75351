package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// signalService is the handler type checked by grpc.Server.RegisterService
type signalService interface {
	ListSignals(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamSignal(*structpb.Struct, SignalStream) error
}

const (
	listSignalsMethod  = "/" + ServiceName + "/ListSignals"
	streamSignalMethod = "/" + ServiceName + "/StreamSignal"
)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*signalService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListSignals",
			Handler:    listSignalsHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamSignal",
			Handler:       streamSignalHandler,
			ServerStreams: true,
		},
	},
	Metadata: "opensensorcore/signal.proto",
}

func listSignalsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(signalService).ListSignals(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: listSignalsMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(signalService).ListSignals(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamSignalHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(signalService).StreamSignal(in, &serverStream{stream})
}

type serverStream struct {
	grpc.ServerStream
}

func (s *serverStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// Client calls the signal service on a connection
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) ListSignals(ctx context.Context, board string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"board": board})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listSignalsMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// SignalReceiver reads values of a StreamSignal call
type SignalReceiver struct {
	stream grpc.ClientStream
}

// StreamSignal opens a value stream; limit 0 streams until ctx ends.
func (c *Client) StreamSignal(ctx context.Context, board, header string, limit int, opts ...grpc.CallOption) (*SignalReceiver, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"board":  board,
		"header": header,
		"limit":  float64(limit),
	})
	if err != nil {
		return nil, err
	}

	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], streamSignalMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &SignalReceiver{stream: stream}, nil
}

// Recv returns the next value, io.EOF after the server ended the stream.
func (r *SignalReceiver) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := r.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
