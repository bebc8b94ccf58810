package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/rfratto/vfsbridge/internal/vfs/wire"
)

// Options configures a Dispatcher.
type Options struct {
	// Handler is used for handling individual requests.
	Handler Handler

	// Codec for messages. Defaults to wire.Default when nil.
	Codec wire.Codec

	// RequestTimeout will force a request to abort after a given amount of
	// time. 0 means to never time out.
	RequestTimeout time.Duration

	// Optional middleware to preprocess requests with.
	Middleware []Middleware
}

// Dispatcher turns raw request messages into raw reply messages by invoking
// a Handler.
type Dispatcher struct {
	log log.Logger
	o   Options

	// The middleware to execute before the handler
	mw      Middleware
	handler Invoker
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(l log.Logger, o Options) (*Dispatcher, error) {
	if o.Handler == nil {
		return nil, fmt.Errorf("Handler must be set")
	}
	if o.Codec == nil {
		o.Codec = wire.Default()
	}
	if l == nil {
		l = log.NewNopLogger()
	}
	return &Dispatcher{
		log:     l,
		o:       o,
		mw:      chainMiddleware(o.Middleware),
		handler: handlerInvoker(o.Handler),
	}, nil
}

// Codec returns the codec used by d.
func (d *Dispatcher) Codec() wire.Codec { return d.o.Codec }

// Handle processes a single raw request and returns the raw reply. An error
// is only returned when no reply can be produced at all, such as when the
// request header can't be decoded.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) ([]byte, error) {
	header, req, err := d.o.Codec.DecodeRequest(raw)
	if err != nil && header.Command == "" {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}

	var resp vfs.Payload
	if err != nil {
		level.Warn(d.log).Log("msg", "rejecting undecodable request", "cmd", header.Command, "id", header.ReplyID, "err", err)
		err = decodeError(err)
	} else {
		resp, err = d.invoke(ctx, &header, req)
	}

	replyHeader := vfs.ReplyHeader{ReplyID: header.ReplyID}
	if err != nil {
		replyHeader.IsError = true
		replyHeader.ErrorCode = errorForReply(err)
		resp = nil
	}

	out, encodeErr := d.o.Codec.EncodeReply(&replyHeader, resp)
	if encodeErr != nil {
		return nil, fmt.Errorf("failed to encode %s reply: %w", header.Command, encodeErr)
	}
	return out, nil
}

func (d *Dispatcher) invoke(ctx context.Context, header *vfs.RequestHeader, req vfs.Request) (vfs.Payload, error) {
	if d.o.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.o.RequestTimeout)
		defer cancel()
	}
	return d.mw.HandleRequest(ctx, header, req, d.handler)
}

// decodeError normalizes a body decoding failure to a protocol error.
func decodeError(err error) error {
	var ve vfs.Error
	if errors.As(err, &ve) {
		return err
	}
	return fmt.Errorf("%s: %w", err, vfs.ErrorTypeMismatch)
}

func errorForReply(err error) vfs.Error {
	if err == nil {
		return 0
	}

	var ve vfs.Error
	if errors.As(err, &ve) {
		return ve
	}

	// Check for common system-level errors.
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return vfs.ErrorTimeout
	case errors.Is(err, context.Canceled):
		return vfs.ErrorAborted
	case errors.Is(err, os.ErrNotExist):
		return vfs.ErrorNotFound
	case errors.Is(err, os.ErrPermission):
		return vfs.ErrorSecurity
	case errors.Is(err, os.ErrInvalid):
		return vfs.ErrorInvalidValues
	}
	return vfs.ErrorIO
}
