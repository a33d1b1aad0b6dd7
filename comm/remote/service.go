package remote

import (
	"context"

	"github.com/golang/protobuf/ptypes/any"
	"google.golang.org/grpc"
)

const (
	relayServiceName = "distapsp.RankRelay"
	relayStreamName  = "Connect"
	relayStreamPath  = "/" + relayServiceName + "/" + relayStreamName
)

// relayServer is implemented by the hub to accept rank connections.
type relayServer interface {
	Connect(relayConnectServer) error
}

// relayConnectServer is the hub's end of a rank connection.
type relayConnectServer interface {
	Send(*any.Any) error
	Recv() (*any.Any, error)
	grpc.ServerStream
}

// relayConnectClient is the rank's end of a hub connection.
type relayConnectClient interface {
	Send(*any.Any) error
	Recv() (*any.Any, error)
	grpc.ClientStream
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: relayServiceName,
	HandlerType: (*relayServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    relayStreamName,
			Handler:       relayConnectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "relay",
}

func registerRelayServer(s *grpc.Server, srv relayServer) {
	s.RegisterService(&relayServiceDesc, srv)
}

func relayConnectHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(relayServer).Connect(&relayConnectServerStream{stream})
}

type relayConnectServerStream struct {
	grpc.ServerStream
}

func (x *relayConnectServerStream) Send(m *any.Any) error {
	return x.ServerStream.SendMsg(m)
}

func (x *relayConnectServerStream) Recv() (*any.Any, error) {
	m := new(any.Any)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// openRelayStream opens a bi-directional relay stream to the hub.
func openRelayStream(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (relayConnectClient, error) {
	stream, err := cc.NewStream(ctx, &relayServiceDesc.Streams[0], relayStreamPath, opts...)
	if err != nil {
		return nil, err
	}
	return &relayConnectClientStream{stream}, nil
}

type relayConnectClientStream struct {
	grpc.ClientStream
}

func (x *relayConnectClientStream) Send(m *any.Any) error {
	return x.ClientStream.SendMsg(m)
}

func (x *relayConnectClientStream) Recv() (*any.Any, error) {
	m := new(any.Any)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
