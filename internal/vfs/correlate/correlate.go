// Package correlate matches asynchronous replies to the requests that caused
// them.
package correlate

import (
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"
)

// Callback receives a correlated reply. The argument is whatever the owner
// of the Correlator dispatches; Correlator never inspects it.
type Callback func(reply interface{})

// Correlator assigns reply IDs and tracks callbacks for requests that are
// still pending. The zero value is not ready for use; call New.
type Correlator struct {
	log log.Logger

	nextID atomic.Uint64

	mut     sync.Mutex
	pending map[uint64]Callback
}

// New creates a new Correlator.
func New(l log.Logger) *Correlator {
	if l == nil {
		l = log.NewNopLogger()
	}
	return &Correlator{
		log:     l,
		pending: make(map[uint64]Callback),
	}
}

// NextID returns a new reply ID. IDs are strictly increasing for the
// lifetime of c and start at 1; 0 is never a valid ID.
func (c *Correlator) NextID() uint64 {
	return c.nextID.Inc()
}

// Register stores cb to be invoked when a reply for id is dispatched. It
// fails if id is already pending; the existing registration is kept.
func (c *Correlator) Register(id uint64, cb Callback) error {
	if cb == nil {
		return fmt.Errorf("nil callback for reply id %d", id)
	}

	c.mut.Lock()
	defer c.mut.Unlock()

	if _, exist := c.pending[id]; exist {
		return fmt.Errorf("reply id %d is already pending", id)
	}
	c.pending[id] = cb
	return nil
}

// Dispatch invokes and removes the callback registered for id, passing it
// reply. Dispatch returns false if nothing was pending for id; the reply is
// then discarded. Stale or duplicate replies are never fatal.
//
// The callback runs on the calling goroutine after the registration has been
// removed, so it may safely issue new requests.
func (c *Correlator) Dispatch(id uint64, reply interface{}) bool {
	cb, found := c.Remove(id)
	if !found {
		level.Warn(c.log).Log("msg", "dropping reply that doesn't match up to a pending request", "id", id)
		return false
	}
	cb(reply)
	return true
}

// Remove withdraws the registration for id without invoking it. The caller
// that successfully removes a registration owns the only right to invoke its
// callback.
func (c *Correlator) Remove(id uint64) (Callback, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()

	cb, found := c.pending[id]
	if found {
		delete(c.pending, id)
	}
	return cb, found
}

// Drain removes every pending registration and returns them keyed by ID.
func (c *Correlator) Drain() map[uint64]Callback {
	c.mut.Lock()
	defer c.mut.Unlock()

	drained := c.pending
	c.pending = make(map[uint64]Callback)
	return drained
}

// Len returns the number of pending requests.
func (c *Correlator) Len() int {
	c.mut.Lock()
	defer c.mut.Unlock()
	return len(c.pending)
}
