package vfstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/rfratto/vfsbridge/internal/vfs/host"
)

// Loopback is a vfs.Channel that hands messages straight to a Dispatcher in
// the same process. Async replies are delivered to the listener from a
// separate goroutine, like a real host would. Every message is recorded so
// tests can assert on what crossed the channel.
type Loopback struct {
	log log.Logger
	d   *host.Dispatcher

	mut      sync.Mutex
	listener vfs.MessageListener
	calls    []vfs.Command
	drop     bool
	closed   bool
	wg       sync.WaitGroup
}

var _ vfs.Channel = (*Loopback)(nil)

// NewLoopback creates a Loopback on top of d.
func NewLoopback(l log.Logger, d *host.Dispatcher) *Loopback {
	if l == nil {
		l = log.NewNopLogger()
	}
	return &Loopback{log: l, d: d}
}

// DropReplies makes the Loopback swallow async replies instead of delivering
// them, simulating a collaborator that never answers.
func (lb *Loopback) DropReplies(drop bool) {
	lb.mut.Lock()
	defer lb.mut.Unlock()
	lb.drop = drop
}

// Calls returns every command that crossed the channel, in order.
func (lb *Loopback) Calls() []vfs.Command {
	lb.mut.Lock()
	defer lb.mut.Unlock()
	return append([]vfs.Command(nil), lb.calls...)
}

// Count returns how many times cmd crossed the channel. An empty cmd counts
// every message.
func (lb *Loopback) Count(cmd vfs.Command) int {
	lb.mut.Lock()
	defer lb.mut.Unlock()

	if cmd == "" {
		return len(lb.calls)
	}
	var n int
	for _, c := range lb.calls {
		if c == cmd {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls.
func (lb *Loopback) Reset() {
	lb.mut.Lock()
	defer lb.mut.Unlock()
	lb.calls = nil
}

// Wait blocks until every async reply has been delivered.
func (lb *Loopback) Wait() { lb.wg.Wait() }

func (lb *Loopback) record(msg []byte) error {
	lb.mut.Lock()
	defer lb.mut.Unlock()

	if lb.closed {
		return fmt.Errorf("loopback closed")
	}
	if h, _, err := lb.d.Codec().DecodeRequest(msg); err == nil || h.Command != "" {
		lb.calls = append(lb.calls, h.Command)
	}
	return nil
}

func (lb *Loopback) PostMessage(msg []byte) error {
	if err := lb.record(msg); err != nil {
		return err
	}

	lb.wg.Add(1)
	go func() {
		defer lb.wg.Done()

		reply, err := lb.d.Handle(context.Background(), msg)
		if err != nil {
			level.Warn(lb.log).Log("msg", "dropping undecodable request", "err", err)
			return
		}

		lb.mut.Lock()
		var (
			listener = lb.listener
			drop     = lb.drop
		)
		lb.mut.Unlock()

		if listener == nil || drop {
			return
		}
		if err := listener(reply); err != nil {
			level.Warn(lb.log).Log("msg", "listener rejected reply", "err", err)
		}
	}()
	return nil
}

func (lb *Loopback) SendSyncMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if err := lb.record(msg); err != nil {
		return nil, err
	}
	return lb.d.Handle(ctx, msg)
}

func (lb *Loopback) SetMessageListener(l vfs.MessageListener) {
	lb.mut.Lock()
	defer lb.mut.Unlock()
	lb.listener = l
}

// Close stops accepting messages and waits for in-flight replies.
func (lb *Loopback) Close() error {
	lb.mut.Lock()
	lb.closed = true
	lb.mut.Unlock()

	lb.wg.Wait()
	return nil
}
