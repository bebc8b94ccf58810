// Package grpcvfs carries the vfs host channel over gRPC. Synchronous
// messages use the unary Call method; asynchronous messages and their
// replies share a single bidirectional Exchange stream.
//
// Frames are google.protobuf.BytesValue holding encoded vfs messages, so the
// service needs no generated message types.
package grpcvfs

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName    = "vfsbridge.Channel"
	callMethod     = "/" + serviceName + "/Call"
	exchangeMethod = "/" + serviceName + "/Exchange"
)

// ChannelServer is the server API for the Channel service.
type ChannelServer interface {
	// Call handles a single synchronous message.
	Call(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)

	// Exchange handles asynchronous messages until the client closes the
	// stream. Replies may be sent in any order.
	Exchange(Channel_ExchangeServer) error
}

// Channel_ExchangeServer is the server side of an Exchange stream.
type Channel_ExchangeServer interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

// Channel_ExchangeClient is the client side of an Exchange stream.
type Channel_ExchangeClient interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

// RegisterChannelServer registers srv with s.
func RegisterChannelServer(s grpc.ServiceRegistrar, srv ChannelServer) {
	s.RegisterService(&channelServiceDesc, srv)
}

var channelServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ChannelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: channelCallHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       channelExchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "vfsbridge/channel.proto",
}

func channelCallHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChannelServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: callMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ChannelServer).Call(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func channelExchangeHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ChannelServer).Exchange(&exchangeServer{stream})
}

type exchangeServer struct{ grpc.ServerStream }

func (x *exchangeServer) Send(m *wrapperspb.BytesValue) error { return x.ServerStream.SendMsg(m) }

func (x *exchangeServer) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type exchangeClient struct{ grpc.ClientStream }

func (x *exchangeClient) Send(m *wrapperspb.BytesValue) error { return x.ClientStream.SendMsg(m) }

func (x *exchangeClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func newExchangeClient(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (Channel_ExchangeClient, error) {
	stream, err := cc.NewStream(ctx, &channelServiceDesc.Streams[0], exchangeMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &exchangeClient{stream}, nil
}
