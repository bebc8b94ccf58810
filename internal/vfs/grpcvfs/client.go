package grpcvfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/rfratto/vfsbridge/internal/vfs/wire"
	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Channel is a vfs.Channel backed by a gRPC connection. Channel doesn't own
// the connection; close it separately after closing the Channel.
type Channel struct {
	log   log.Logger
	cc    grpc.ClientConnInterface
	codec wire.Codec

	ctx    context.Context
	cancel context.CancelFunc
	stream Channel_ExchangeClient
	exited chan struct{}

	sendMut     sync.Mutex
	listenerMut sync.RWMutex
	listener    vfs.MessageListener
	closed      atomic.Bool
}

var _ vfs.Channel = (*Channel)(nil)

// NewChannel opens an Exchange stream on cc. Messages are encoded with
// codec, which is also requested from the server.
func NewChannel(l log.Logger, cc grpc.ClientConnInterface, codec wire.Codec) (*Channel, error) {
	if l == nil {
		l = log.NewNopLogger()
	}
	if codec == nil {
		codec = wire.Default()
	}
	l = log.With(l, "channel", uuid.NewV4().String())

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := newExchangeClient(WithCodec(ctx, codec), cc)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening exchange stream: %w", err)
	}

	ch := &Channel{
		log:    l,
		cc:     cc,
		codec:  codec,
		ctx:    ctx,
		cancel: cancel,
		stream: stream,
		exited: make(chan struct{}),
	}
	go ch.run()
	return ch, nil
}

// Codec returns the codec the Channel negotiated.
func (ch *Channel) Codec() wire.Codec { return ch.codec }

// run reads replies from the stream and hands them to the listener.
func (ch *Channel) run() {
	defer close(ch.exited)
	defer level.Debug(ch.log).Log("msg", "exchange reader exiting")

	for {
		msg, err := ch.stream.Recv()
		if s, ok := status.FromError(err); ok && s.Code() == codes.Canceled {
			return
		} else if errors.Is(err, io.EOF) {
			return
		} else if err != nil {
			level.Error(ch.log).Log("msg", "got read error from exchange stream", "err", err)
			return
		}

		ch.listenerMut.RLock()
		listener := ch.listener
		ch.listenerMut.RUnlock()

		if listener == nil {
			level.Warn(ch.log).Log("msg", "dropping message with no listener installed")
			continue
		}
		if err := listener(msg.GetValue()); err != nil {
			level.Warn(ch.log).Log("msg", "listener rejected message", "err", err)
		}
	}
}

func (ch *Channel) PostMessage(msg []byte) error {
	if ch.closed.Load() {
		return fmt.Errorf("channel closed")
	}

	ch.sendMut.Lock()
	defer ch.sendMut.Unlock()
	return ch.stream.Send(wrapperspb.Bytes(msg))
}

func (ch *Channel) SendSyncMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if ch.closed.Load() {
		return nil, fmt.Errorf("channel closed")
	}

	var out wrapperspb.BytesValue
	err := ch.cc.Invoke(WithCodec(ctx, ch.codec), callMethod, wrapperspb.Bytes(msg), &out)
	if err != nil {
		// Surface context errors as-is so callers can tell timeouts apart.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		switch status.Code(err) {
		case codes.DeadlineExceeded:
			return nil, context.DeadlineExceeded
		case codes.Canceled:
			return nil, context.Canceled
		}
		return nil, err
	}
	return out.GetValue(), nil
}

func (ch *Channel) SetMessageListener(l vfs.MessageListener) {
	ch.listenerMut.Lock()
	defer ch.listenerMut.Unlock()
	ch.listener = l
}

// Close closes the Exchange stream and waits for the reader to exit.
func (ch *Channel) Close() error {
	if !ch.closed.CAS(false, true) {
		return nil
	}

	ch.sendMut.Lock()
	err := ch.stream.CloseSend()
	ch.sendMut.Unlock()

	ch.cancel()
	<-ch.exited
	return err
}
