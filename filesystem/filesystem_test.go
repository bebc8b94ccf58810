package filesystem

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/rfratto/vfsbridge/internal/vfs/host"
	"github.com/rfratto/vfsbridge/internal/vfs/transport"
	"github.com/rfratto/vfsbridge/internal/vfs/vfstest"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// testEnv wires a Manager to an in-memory collaborator.
type testEnv struct {
	fs    *vfstest.MemFS
	lb    *vfstest.Loopback
	m     *Manager
	clock *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithTimeout(t, waitTimeout)
}

func newTestEnvWithTimeout(t *testing.T, timeout time.Duration) *testEnv {
	return newTestEnvWithMiddleware(t, timeout)
}

// newTestEnvWithMiddleware is newTestEnvWithTimeout with mw installed on the
// collaborator's dispatcher, letting tests rewrite replies.
func newTestEnvWithMiddleware(t *testing.T, timeout time.Duration, mw ...host.Middleware) *testEnv {
	t.Helper()

	fs := vfstest.NewMemFS(nil)
	fs.AddStorage(vfs.StorageInfo{Label: "documents", Type: vfs.StorageInternal, State: vfs.StateMounted})
	fs.AddStorage(vfs.StorageInfo{Label: "removable1", Type: vfs.StorageExternal, State: vfs.StateRemoved})

	d, err := host.NewDispatcher(nil, host.Options{Handler: fs, Middleware: mw})
	require.NoError(t, err)
	lb := vfstest.NewLoopback(nil, d)

	a, err := transport.New(nil, transport.Options{Channel: lb, RequestTimeout: timeout})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Unix(1600000000, 0)}
	o := DefaultManagerOptions
	o.Now = clock.Now
	m, err := NewManager(nil, a, o)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })

	return &testEnv{fs: fs, lb: lb, m: m, clock: clock}
}

// resolve resolves location and fails the test on error.
func (e *testEnv) resolve(t *testing.T, location string) *File {
	t.Helper()

	var (
		files = make(chan *File, 1)
		errs  = make(chan error, 1)
	)
	err := e.m.Resolve(context.Background(), location, "", func(f *File) { files <- f }, func(err error) { errs <- err })
	require.NoError(t, err)

	select {
	case f := <-files:
		return f
	case err := <-errs:
		require.NoError(t, err, "resolving %s", location)
	case <-time.After(waitTimeout):
		require.FailNow(t, "timed out resolving", location)
	}
	return nil
}

// outcome records which handler an async call invoked.
type outcome struct {
	ok  chan struct{}
	err chan error
}

func newOutcome() *outcome {
	return &outcome{ok: make(chan struct{}, 1), err: make(chan error, 1)}
}

func (o *outcome) onSuccess()        { o.ok <- struct{}{} }
func (o *outcome) onError(err error) { o.err <- err }

// wait returns nil on success or the reported error.
func (o *outcome) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-o.ok:
		return nil
	case err := <-o.err:
		return err
	case <-time.After(waitTimeout):
		require.FailNow(t, "no handler was invoked")
	}
	return nil
}

type fakeClock struct {
	mut sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.now = c.now.Add(d)
}
