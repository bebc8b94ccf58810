package host

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/vfsbridge/internal/vfs"
)

// Stream is an open stream tracked by a HandleTable.
type Stream interface {
	// Close is called when the Stream is removed from the table.
	Close() error
}

// HandleTable allocates stream handles. Released handles are reused before
// new ones are allocated. The zero value is not ready for use; call
// NewHandleTable.
type HandleTable struct {
	log log.Logger

	mut          sync.RWMutex
	streams      map[vfs.Handle]Stream
	availHandles []vfs.Handle
	nextHandle   vfs.Handle
}

// NewHandleTable creates an empty HandleTable.
func NewHandleTable(l log.Logger) *HandleTable {
	if l == nil {
		l = log.NewNopLogger()
	}
	return &HandleTable{
		log:     l,
		streams: make(map[vfs.Handle]Stream),
	}
}

// Add stores a new stream and returns its handle.
func (t *HandleTable) Add(s Stream) (vfs.Handle, error) {
	t.mut.Lock()
	defer t.mut.Unlock()

	var h vfs.Handle
	if numAvail := len(t.availHandles); numAvail > 0 {
		h = t.availHandles[numAvail-1]
		t.availHandles = t.availHandles[:numAvail-1]
	} else {
		t.nextHandle++
		h = t.nextHandle

		if h <= 0 {
			// We've temporarily exhausted the handle space until some existing
			// handles close
			t.nextHandle--
			return vfs.InvalidHandle, vfs.ErrorIO
		}
	}

	t.streams[h] = s
	return h, nil
}

// Get returns the stream for h. Unknown handles return ErrorInvalidValues.
func (t *HandleTable) Get(h vfs.Handle) (Stream, error) {
	t.mut.RLock()
	defer t.mut.RUnlock()

	s, ok := t.streams[h]
	if !ok {
		return nil, vfs.ErrorInvalidValues
	}
	return s, nil
}

// Release removes h from the table and closes its stream.
func (t *HandleTable) Release(h vfs.Handle) error {
	var s Stream

	// We close the stream in a defer so the lock isn't held for longer than it
	// needs to be.
	defer func() {
		if s == nil {
			return
		}
		if err := s.Close(); err != nil {
			level.Error(t.log).Log("msg", "error when closing released stream", "handle", h, "err", err)
		}
	}()

	t.mut.Lock()
	defer t.mut.Unlock()

	s, ok := t.streams[h]
	if !ok {
		return vfs.ErrorInvalidValues
	}

	delete(t.streams, h)
	t.availHandles = append(t.availHandles, h)
	return nil
}

// Len returns the number of open streams.
func (t *HandleTable) Len() int {
	t.mut.RLock()
	defer t.mut.RUnlock()
	return len(t.streams)
}
