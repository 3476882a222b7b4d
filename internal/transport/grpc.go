package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/owulveryck/a2ahub/internal/a2a"
)

// ConnHandler serves one broker-side connection until it ends.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn Conn) error
}

// BrokerServiceName and ConnectMethod identify the bidirectional stream that
// carries A2A frames over gRPC. Each frame is a google.protobuf.StringValue
// holding the JSON text of one message.
const (
	BrokerServiceName = "a2ahub.Broker"
	ConnectMethod     = "/a2ahub.Broker/Connect"
)

var brokerServiceDesc = grpc.ServiceDesc{
	ServiceName: BrokerServiceName,
	HandlerType: (*ConnHandler)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "a2ahub/broker.proto",
}

// RegisterGRPCBroker exposes h on s as the a2ahub.Broker service.
func RegisterGRPCBroker(s *grpc.Server, h ConnHandler) {
	s.RegisterService(&brokerServiceDesc, h)
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	conn := &grpcConn{stream: stream, closed: make(chan struct{})}
	defer conn.Close()
	return srv.(ConnHandler).ServeConn(stream.Context(), conn)
}

type frameStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// grpcConn adapts either end of the Connect stream.
type grpcConn struct {
	stream frameStream
	cc     *grpc.ClientConn
	cancel context.CancelFunc

	sendMu    sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// DialGRPC opens the Connect stream on a broker gRPC address.
func DialGRPC(ctx context.Context, addr string, opts ...grpc.DialOption) (Conn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}

	// The stream outlives the dial context.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := cc.NewStream(streamCtx, &brokerServiceDesc.Streams[0], ConnectMethod)
	if err != nil {
		cancel()
		cc.Close()
		return nil, err
	}
	return &grpcConn{stream: stream, cc: cc, cancel: cancel, closed: make(chan struct{})}, nil
}

// GRPCDialer returns a Dialer for addr.
func GRPCDialer(addr string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		return DialGRPC(ctx, addr)
	}
}

func (c *grpcConn) Send(ctx context.Context, msg *a2a.Message) error {
	frame, err := a2a.Encode(msg)
	if err != nil {
		return err
	}
	return c.SendFrame(ctx, frame)
}

func (c *grpcConn) SendFrame(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.stream.SendMsg(wrapperspb.String(string(frame))); err != nil {
		return closedError(err)
	}
	return nil
}

func (c *grpcConn) Receive(ctx context.Context) (*a2a.Message, error) {
	var frame wrapperspb.StringValue
	if err := c.stream.RecvMsg(&frame); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrClosed
		}
		return nil, closedError(err)
	}
	return decodeFrame([]byte(frame.GetValue()))
}

func (c *grpcConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if cs, ok := c.stream.(grpc.ClientStream); ok && c.cc != nil {
			c.sendMu.Lock()
			_ = cs.CloseSend()
			c.sendMu.Unlock()
			c.cancel()
			err = c.cc.Close()
		}
	})
	return err
}
