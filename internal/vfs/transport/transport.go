// Package transport delivers vfs requests over a Channel. Asynchronous
// requests are correlated with their replies by reply ID; synchronous calls
// block on the channel and are never correlated.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/rfratto/vfsbridge/internal/vfs/correlate"
	"github.com/rfratto/vfsbridge/internal/vfs/wire"
	"go.uber.org/atomic"
)

// Options configures an Adapter.
type Options struct {
	// Channel used to reach the collaborator. Adapter takes ownership of the
	// Channel after passing to New; do not close directly.
	Channel vfs.Channel

	// Codec for messages. Defaults to wire.Default when nil.
	Codec wire.Codec

	// RequestTimeout bounds how long a request may wait for its reply. When it
	// elapses the request fails with vfs.ErrorTimeout. 0 means to never time
	// out.
	RequestTimeout time.Duration

	// Registerer to register metrics with. Metrics are not registered when nil.
	Registerer prometheus.Registerer
}

// DefaultOptions provides defaults for Adapter.
var DefaultOptions = Options{
	RequestTimeout: 30 * time.Second,
}

// Reply is a decoded reply header plus the raw message for decoding the
// command-specific payload.
type Reply struct {
	Header vfs.ReplyHeader

	raw   []byte
	codec wire.Codec
}

// Err returns the collaborator error carried by the reply, if any.
func (r Reply) Err() error { return r.Header.Err() }

// Decode decodes the command-specific payload of r into p.
func (r Reply) Decode(p vfs.Payload) error {
	if r.raw == nil || r.codec == nil {
		return fmt.Errorf("reply has no payload: %w", vfs.ErrorIO)
	}
	if err := r.codec.DecodePayload(r.raw, p); err != nil {
		return fmt.Errorf("malformed reply payload: %w", err)
	}
	return nil
}

// Callback receives the reply for an asynchronous request. It is called
// exactly once per successfully posted request, or never if the reply is
// lost and no timeout is configured.
type Callback func(Reply)

// Adapter serializes requests onto a Channel and routes inbound replies to
// their callbacks. Adapter owns the Correlator for its Channel.
type Adapter struct {
	log  log.Logger
	o    Options
	corr *correlate.Correlator
	m    *metrics

	callMut sync.Mutex
	closed  atomic.Bool
}

// New creates a new Adapter and installs it as the message listener of
// o.Channel.
func New(l log.Logger, o Options) (*Adapter, error) {
	if o.Channel == nil {
		return nil, fmt.Errorf("Channel must be set")
	}
	if o.Codec == nil {
		o.Codec = wire.Default()
	}
	if l == nil {
		l = log.NewNopLogger()
	}

	a := &Adapter{
		log:  l,
		o:    o,
		corr: correlate.New(l),
	}
	a.m = newMetrics(func() float64 { return float64(a.corr.Len()) })
	if o.Registerer != nil {
		if err := a.m.register(o.Registerer); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	o.Channel.SetMessageListener(a.HandleMessage)
	return a, nil
}

// Codec returns the codec used by a.
func (a *Adapter) Codec() wire.Codec { return a.o.Codec }

// Post sends an asynchronous request. cb is invoked with the reply, or with
// a synthesized error reply if the request times out (vfs.ErrorTimeout), ctx
// is canceled (vfs.ErrorAborted), or the Adapter closes first
// (vfs.ErrorAborted).
//
// Post returns an error without invoking cb if the request couldn't be
// handed to the channel. A body that can't be encoded is a programming error
// and panics.
func (a *Adapter) Post(ctx context.Context, cmd vfs.Command, body vfs.Request, cb Callback) (uint64, error) {
	if cb == nil {
		return 0, fmt.Errorf("nil callback for %s: %w", cmd, vfs.ErrorTypeMismatch)
	}
	if a.closed.Load() {
		return 0, fmt.Errorf("posting %s on closed transport: %w", cmd, vfs.ErrorAborted)
	}

	id := a.corr.NextID()
	raw := a.mustEncode(&vfs.RequestHeader{Command: cmd, ReplyID: id}, body)

	// done is closed exactly once, by whichever path resolves the request.
	done := make(chan struct{})
	release := func() { close(done) }

	err := a.corr.Register(id, func(v interface{}) {
		release()
		cb(v.(Reply))
	})
	if err != nil {
		// IDs are never reused, so this can only happen if the correlator is
		// shared with something else.
		return 0, fmt.Errorf("registering %s: %w", cmd, err)
	}

	if a.o.RequestTimeout > 0 || ctx.Done() != nil {
		go a.watch(ctx, id, cmd, done)
	}

	a.m.requests.WithLabelValues(string(cmd), "async").Inc()
	level.Debug(a.log).Log("msg", "posting request", "cmd", cmd, "id", id)

	if err := a.o.Channel.PostMessage(raw); err != nil {
		a.m.failures.WithLabelValues(string(cmd), "send").Inc()
		if _, removed := a.corr.Remove(id); removed {
			release()
		}
		return 0, fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	return id, nil
}

// watch fails id when the request timeout fires or ctx is canceled,
// whichever happens before done is closed. The timer is owned by watch.
func (a *Adapter) watch(ctx context.Context, id uint64, cmd vfs.Command, done <-chan struct{}) {
	var timeout <-chan time.Time
	if a.o.RequestTimeout > 0 {
		timer := time.NewTimer(a.o.RequestTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-timeout:
		a.fail(id, cmd, vfs.ErrorTimeout, "timeout")
	case <-ctx.Done():
		a.fail(id, cmd, vfs.ErrorAborted, "canceled")
	case <-done:
	}
}

// fail resolves the pending request id with an error reply, if it is still
// pending.
func (a *Adapter) fail(id uint64, cmd vfs.Command, code vfs.Error, reason string) {
	cb, found := a.corr.Remove(id)
	if !found {
		return
	}
	a.m.failures.WithLabelValues(string(cmd), reason).Inc()
	level.Debug(a.log).Log("msg", "request failed before reply", "cmd", cmd, "id", id, "reason", reason)
	cb(errorReply(id, code))
}

func errorReply(id uint64, code vfs.Error) Reply {
	return Reply{Header: vfs.ReplyHeader{ReplyID: id, IsError: true, ErrorCode: code}}
}

// HandleMessage processes a single inbound message from the channel. A
// malformed message returns an error and is dropped; the channel stays
// usable. Replies that don't match a pending request are logged and
// dropped.
func (a *Adapter) HandleMessage(raw []byte) error {
	h, err := a.o.Codec.DecodeReply(raw)
	if err != nil {
		a.m.malformed.Inc()
		level.Error(a.log).Log("msg", "failed to decode message from channel", "err", err)
		return fmt.Errorf("malformed reply: %w", err)
	}

	if h.ReplyID == 0 || !a.corr.Dispatch(h.ReplyID, Reply{Header: h, raw: raw, codec: a.o.Codec}) {
		a.m.unmatched.Inc()
	}
	return nil
}

// Call sends a synchronous request and blocks until the collaborator
// replies. Only one Call is in flight at a time; concurrent callers wait
// their turn. Collaborator failures are reported through Reply.Err, while
// the returned error is reserved for channel failures.
func (a *Adapter) Call(ctx context.Context, cmd vfs.Command, body vfs.Request) (Reply, error) {
	a.callMut.Lock()
	defer a.callMut.Unlock()

	if a.closed.Load() {
		return Reply{}, fmt.Errorf("calling %s on closed transport: %w", cmd, vfs.ErrorAborted)
	}

	if a.o.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.o.RequestTimeout)
		defer cancel()
	}

	raw := a.mustEncode(&vfs.RequestHeader{Command: cmd}, body)
	a.m.requests.WithLabelValues(string(cmd), "sync").Inc()
	level.Debug(a.log).Log("msg", "calling", "cmd", cmd)

	resp, err := a.o.Channel.SendSyncMessage(ctx, raw)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		a.m.failures.WithLabelValues(string(cmd), "timeout").Inc()
		return Reply{}, fmt.Errorf("%s: %w", cmd, vfs.ErrorTimeout)
	case errors.Is(err, context.Canceled):
		a.m.failures.WithLabelValues(string(cmd), "canceled").Inc()
		return Reply{}, fmt.Errorf("%s: %w", cmd, vfs.ErrorAborted)
	case err != nil:
		a.m.failures.WithLabelValues(string(cmd), "send").Inc()
		return Reply{}, fmt.Errorf("failed to call %s: %w", cmd, err)
	}

	h, err := a.o.Codec.DecodeReply(resp)
	if err != nil {
		a.m.malformed.Inc()
		return Reply{}, fmt.Errorf("malformed %s reply: %w", cmd, err)
	}
	return Reply{Header: h, raw: resp, codec: a.o.Codec}, nil
}

// Invoke performs a Call and decodes its payload into p. Both channel and
// collaborator failures are returned as errors. p may be nil for commands
// without a payload.
func (a *Adapter) Invoke(ctx context.Context, cmd vfs.Command, body vfs.Request, p vfs.Payload) error {
	reply, err := a.Call(ctx, cmd, body)
	if err != nil {
		return err
	}
	if err := reply.Err(); err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	return reply.Decode(p)
}

func (a *Adapter) mustEncode(h *vfs.RequestHeader, body vfs.Request) []byte {
	raw, err := a.o.Codec.EncodeRequest(h, body)
	if err != nil {
		panic(fmt.Sprintf("vfs: cannot encode %s request: %s", h.Command, err))
	}
	return raw
}

// Pending returns the number of asynchronous requests waiting for a reply.
func (a *Adapter) Pending() int { return a.corr.Len() }

// Close closes the Adapter and its Channel. Every pending request fails with
// vfs.ErrorAborted. Close is idempotent.
func (a *Adapter) Close() error {
	if !a.closed.CAS(false, true) {
		return nil
	}

	a.o.Channel.SetMessageListener(nil)
	for id, cb := range a.corr.Drain() {
		a.m.failures.WithLabelValues("", "aborted").Inc()
		cb(errorReply(id, vfs.ErrorAborted))
	}

	if a.o.Registerer != nil {
		a.m.unregister(a.o.Registerer)
	}
	if err := a.o.Channel.Close(); err != nil {
		return fmt.Errorf("closing channel: %w", err)
	}
	return nil
}
