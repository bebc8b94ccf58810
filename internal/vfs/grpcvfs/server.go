package grpcvfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/vfsbridge/internal/vfs/host"
	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Handler is used for handling individual requests.
	Handler host.Handler

	// Optional middleware to preprocess requests with.
	Middleware []host.Middleware

	// ConcurrencyLimit is the maximum number of asynchronous requests each
	// Exchange stream runs at once. If ConcurrencyLimit is <= 0, it will
	// obtain its default from DefaultServerOptions.
	ConcurrencyLimit int

	// RequestTimeout will force a request to abort after a given amount of
	// time. 0 means to never time out.
	RequestTimeout time.Duration
}

// DefaultServerOptions provides defaults for Server.
var DefaultServerOptions = ServerOptions{
	ConcurrencyLimit: 64,
}

// Server implements ChannelServer by dispatching messages to a
// host.Handler.
type Server struct {
	log log.Logger
	o   ServerOptions

	dispatchersMut sync.Mutex
	dispatchers    map[string]*host.Dispatcher

	exchanges atomic.Int64
}

var _ ChannelServer = (*Server)(nil)

// NewServer creates a new Server. Call Register to expose it on a gRPC
// server.
func NewServer(l log.Logger, o ServerOptions) (*Server, error) {
	if o.Handler == nil {
		return nil, fmt.Errorf("Handler must be set")
	}
	if o.ConcurrencyLimit <= 0 {
		o.ConcurrencyLimit = DefaultServerOptions.ConcurrencyLimit
	}
	if l == nil {
		l = log.NewNopLogger()
	}
	return &Server{
		log:         l,
		o:           o,
		dispatchers: make(map[string]*host.Dispatcher),
	}, nil
}

// Register registers s with srv.
func (s *Server) Register(srv grpc.ServiceRegistrar) {
	RegisterChannelServer(srv, s)
}

// Exchanges returns the number of open Exchange streams.
func (s *Server) Exchanges() int64 { return s.exchanges.Load() }

// dispatcher returns the Dispatcher for the codec negotiated in ctx.
func (s *Server) dispatcher(ctx context.Context) (*host.Dispatcher, error) {
	codec, err := GetCodec(ctx)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.dispatchersMut.Lock()
	defer s.dispatchersMut.Unlock()

	if d, ok := s.dispatchers[codec.Name()]; ok {
		return d, nil
	}
	d, err := host.NewDispatcher(s.log, host.Options{
		Handler:        s.o.Handler,
		Codec:          codec,
		RequestTimeout: s.o.RequestTimeout,
		Middleware:     s.o.Middleware,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.dispatchers[codec.Name()] = d
	return d, nil
}

func (s *Server) Call(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	d, err := s.dispatcher(ctx)
	if err != nil {
		return nil, err
	}
	reply, err := d.Handle(ctx, in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return wrapperspb.Bytes(reply), nil
}

func (s *Server) Exchange(stream Channel_ExchangeServer) error {
	d, err := s.dispatcher(stream.Context())
	if err != nil {
		return err
	}

	s.exchanges.Inc()
	defer s.exchanges.Dec()

	l := log.With(s.log, "exchange", uuid.NewV4().String())
	level.Debug(l).Log("msg", "exchange opened", "codec", d.Codec().Name())
	defer level.Debug(l).Log("msg", "exchange closed")

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	var (
		sendMut        sync.Mutex
		runningWorkers sync.WaitGroup
		taskCh         = make(chan []byte, s.o.ConcurrencyLimit)
	)

	for i := 0; i < s.o.ConcurrencyLimit; i++ {
		runningWorkers.Add(1)
		go func() {
			defer runningWorkers.Done()

			for raw := range taskCh {
				reply, err := d.Handle(ctx, raw)
				if err != nil {
					level.Warn(l).Log("msg", "dropping undecodable request", "err", err)
					continue
				}

				sendMut.Lock()
				err = stream.Send(wrapperspb.Bytes(reply))
				sendMut.Unlock()
				if err != nil {
					level.Error(l).Log("msg", "failed to write reply to exchange stream", "err", err)
				}
			}
		}()
	}
	defer func() {
		close(taskCh)
		runningWorkers.Wait()
	}()

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			level.Debug(l).Log("msg", "got EOF from exchange stream; exiting")
			return nil
		} else if status.Code(err) == codes.Canceled {
			return nil
		} else if err != nil {
			level.Error(l).Log("msg", "got error from exchange stream; exiting", "err", err)
			return err
		}

		select {
		case taskCh <- msg.GetValue():
		case <-ctx.Done():
			return nil
		}
	}
}

// UnaryLoggingInterceptor logs incoming unary requests at debug level.
func UnaryLoggingInterceptor(l log.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		level.Debug(l).Log("msg", "received gRPC request", "method", info.FullMethod)
		return handler(ctx, req)
	}
}

// StreamLoggingInterceptor logs incoming streams at debug level.
func StreamLoggingInterceptor(l log.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		level.Debug(l).Log("msg", "received gRPC stream", "method", info.FullMethod)
		return handler(srv, ss)
	}
}
