package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/rfratto/vfsbridge/internal/vfs/wire"
	"github.com/stretchr/testify/require"
)

func TestAdapter_Post(t *testing.T) {
	ch := &fakeChannel{}
	a := newTestAdapter(t, ch, 0)

	replies := make(chan Reply, 4)
	id, err := a.Post(context.Background(), vfs.CmdManagerResolve, &vfs.ManagerResolveRequest{
		Location: "documents",
		Mode:     vfs.ModeRead,
	}, func(r Reply) { replies <- r })
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	require.Equal(t, 1, a.Pending())

	_, req, err := wire.Default().DecodeRequest(ch.last(t))
	require.NoError(t, err)
	require.Equal(t, &vfs.ManagerResolveRequest{Location: "documents", Mode: vfs.ModeRead}, req)

	ch.reply(t, &vfs.ReplyHeader{ReplyID: id}, &vfs.PathPayload{FullPath: "documents"})
	// A duplicate reply must not fire the callback again.
	ch.reply(t, &vfs.ReplyHeader{ReplyID: id}, &vfs.PathPayload{FullPath: "documents"})

	r := <-replies
	require.NoError(t, r.Err())
	var p vfs.PathPayload
	require.NoError(t, r.Decode(&p))
	require.Equal(t, "documents", p.FullPath)

	require.Len(t, replies, 0)
	require.Equal(t, 0, a.Pending())
}

func TestAdapter_Post_IncreasingIDs(t *testing.T) {
	ch := &fakeChannel{}
	a := newTestAdapter(t, ch, 0)

	var last uint64
	for i := 0; i < 10; i++ {
		id, err := a.Post(context.Background(), vfs.CmdListStorages, nil, func(Reply) {})
		require.NoError(t, err)
		require.Greater(t, id, last)
		last = id
	}
	require.Equal(t, 10, a.Pending())
}

func TestAdapter_Post_OutOfOrder(t *testing.T) {
	ch := &fakeChannel{}
	a := newTestAdapter(t, ch, 0)

	var (
		mut   sync.Mutex
		order []string
	)
	post := func(label string) uint64 {
		id, err := a.Post(context.Background(), vfs.CmdGetStorage, &vfs.GetStorageRequest{Label: label}, func(r Reply) {
			var p vfs.StoragePayload
			require.NoError(t, r.Decode(&p))

			mut.Lock()
			defer mut.Unlock()
			order = append(order, p.Label)
		})
		require.NoError(t, err)
		return id
	}

	first, second := post("internal0"), post("removable1")
	ch.reply(t, &vfs.ReplyHeader{ReplyID: second}, &vfs.StoragePayload{Label: "removable1"})
	ch.reply(t, &vfs.ReplyHeader{ReplyID: first}, &vfs.StoragePayload{Label: "internal0"})

	require.Equal(t, []string{"removable1", "internal0"}, order)
}

func TestAdapter_Post_NilCallback(t *testing.T) {
	ch := &fakeChannel{}
	a := newTestAdapter(t, ch, 0)

	_, err := a.Post(context.Background(), vfs.CmdListStorages, nil, nil)
	require.ErrorIs(t, err, vfs.ErrorTypeMismatch)
	require.Empty(t, ch.sent())
}

func TestAdapter_Post_SendFailure(t *testing.T) {
	ch := &fakeChannel{postErr: errors.New("channel gone")}
	a := newTestAdapter(t, ch, 0)

	called := false
	_, err := a.Post(context.Background(), vfs.CmdListStorages, nil, func(Reply) { called = true })
	require.EqualError(t, err, "failed to send FileSystemManagerListStorages: channel gone")
	require.False(t, called)
	require.Equal(t, 0, a.Pending())
}

func TestAdapter_Post_Timeout(t *testing.T) {
	ch := &fakeChannel{}
	a := newTestAdapter(t, ch, 10*time.Millisecond)

	replies := make(chan Reply, 2)
	id, err := a.Post(context.Background(), vfs.CmdListStorages, nil, func(r Reply) { replies <- r })
	require.NoError(t, err)

	select {
	case r := <-replies:
		require.ErrorIs(t, r.Err(), vfs.ErrorTimeout)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "request never timed out")
	}

	// A late reply is dropped.
	ch.reply(t, &vfs.ReplyHeader{ReplyID: id}, &vfs.ListStoragesPayload{})
	require.Len(t, replies, 0)
	require.Equal(t, 0, a.Pending())
}

func TestAdapter_Post_TimeoutMany(t *testing.T) {
	ch := &fakeChannel{}
	a := newTestAdapter(t, ch, time.Microsecond)

	const requests = 64

	var (
		mut   sync.Mutex
		calls = make(map[uint64]int)
		wg    sync.WaitGroup
	)
	wg.Add(requests)
	for i := 0; i < requests; i++ {
		_, err := a.Post(context.Background(), vfs.CmdListStorages, nil, func(r Reply) {
			defer wg.Done()
			require.ErrorIs(t, r.Err(), vfs.ErrorTimeout)

			mut.Lock()
			defer mut.Unlock()
			calls[r.Header.ReplyID]++
		})
		require.NoError(t, err)
	}

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "requests never timed out")
	}

	mut.Lock()
	defer mut.Unlock()
	require.Len(t, calls, requests)
	for id, n := range calls {
		require.Equal(t, 1, n, "callback for %d fired more than once", id)
	}
	require.Equal(t, 0, a.Pending())
}

func TestAdapter_Post_Canceled(t *testing.T) {
	ch := &fakeChannel{}
	a := newTestAdapter(t, ch, 0)

	ctx, cancel := context.WithCancel(context.Background())
	replies := make(chan Reply, 1)
	_, err := a.Post(ctx, vfs.CmdListStorages, nil, func(r Reply) { replies <- r })
	require.NoError(t, err)

	cancel()
	select {
	case r := <-replies:
		require.ErrorIs(t, r.Err(), vfs.ErrorAborted)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "request never aborted")
	}
}

func TestAdapter_HandleMessage_Unknown(t *testing.T) {
	ch := &fakeChannel{}
	a := newTestAdapter(t, ch, 0)

	called := false
	_, err := a.Post(context.Background(), vfs.CmdListStorages, nil, func(Reply) { called = true })
	require.NoError(t, err)

	ch.reply(t, &vfs.ReplyHeader{ReplyID: 999}, &vfs.ListStoragesPayload{})
	require.False(t, called)
	require.Equal(t, 1, a.Pending())
	require.Equal(t, float64(1), testutil.ToFloat64(a.m.unmatched))
}

func TestAdapter_HandleMessage_Malformed(t *testing.T) {
	ch := &fakeChannel{}
	a := newTestAdapter(t, ch, 0)

	called := false
	id, err := a.Post(context.Background(), vfs.CmdListStorages, nil, func(Reply) { called = true })
	require.NoError(t, err)

	require.Error(t, ch.deliver([]byte("not json")))
	require.False(t, called)

	// The channel is still usable afterwards.
	ch.reply(t, &vfs.ReplyHeader{ReplyID: id}, &vfs.ListStoragesPayload{})
	require.True(t, called)
}

func TestAdapter_ErrorReply(t *testing.T) {
	ch := &fakeChannel{}
	a := newTestAdapter(t, ch, 0)

	replies := make(chan Reply, 1)
	id, err := a.Post(context.Background(), vfs.CmdGetStorage, &vfs.GetStorageRequest{Label: "nope"}, func(r Reply) { replies <- r })
	require.NoError(t, err)

	ch.reply(t, &vfs.ReplyHeader{ReplyID: id, IsError: true, ErrorCode: vfs.ErrorNotFound}, nil)

	var ve vfs.Error
	require.True(t, errors.As((<-replies).Err(), &ve))
	require.Equal(t, vfs.ErrorNotFound, ve)
}

func TestAdapter_Close(t *testing.T) {
	ch := &fakeChannel{}
	a := newTestAdapter(t, ch, 0)

	replies := make(chan Reply, 3)
	for i := 0; i < 3; i++ {
		_, err := a.Post(context.Background(), vfs.CmdListStorages, nil, func(r Reply) { replies <- r })
		require.NoError(t, err)
	}

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	require.True(t, ch.isClosed())

	require.Len(t, replies, 3)
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, (<-replies).Err(), vfs.ErrorAborted)
	}

	_, err := a.Post(context.Background(), vfs.CmdListStorages, nil, func(Reply) {})
	require.ErrorIs(t, err, vfs.ErrorAborted)
	_, err = a.Call(context.Background(), vfs.CmdGetMaxPathLength, nil)
	require.ErrorIs(t, err, vfs.ErrorAborted)
}

func TestAdapter_Call(t *testing.T) {
	ch := &fakeChannel{
		sync: func(ctx context.Context, msg []byte) ([]byte, error) {
			h, req, err := wire.Default().DecodeRequest(msg)
			if err != nil {
				return nil, err
			}
			if h.ReplyID != 0 {
				return nil, errors.New("sync request carried a reply_id")
			}
			stat := req.(*vfs.StatRequest)
			if stat.FullPath != "documents/a.txt" {
				return wire.Default().EncodeReply(&vfs.ReplyHeader{IsError: true, ErrorCode: vfs.ErrorNotFound}, nil)
			}
			return wire.Default().EncodeReply(&vfs.ReplyHeader{}, &vfs.StatPayload{
				Value: vfs.FileStat{IsFile: true, Size: 12},
			})
		},
	}
	a := newTestAdapter(t, ch, 0)

	var p vfs.StatPayload
	require.NoError(t, a.Invoke(context.Background(), vfs.CmdStat, &vfs.StatRequest{FullPath: "documents/a.txt"}, &p))
	require.Equal(t, uint64(12), p.Value.Size)
	require.True(t, p.Value.IsFile)

	err := a.Invoke(context.Background(), vfs.CmdStat, &vfs.StatRequest{FullPath: "documents/b.txt"}, &p)
	require.ErrorIs(t, err, vfs.ErrorNotFound)

	// The sync path never touches the correlator.
	require.Equal(t, 0, a.Pending())
}

func TestAdapter_Call_Timeout(t *testing.T) {
	ch := &fakeChannel{
		sync: func(ctx context.Context, msg []byte) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	a := newTestAdapter(t, ch, 10*time.Millisecond)

	_, err := a.Call(context.Background(), vfs.CmdGetMaxPathLength, nil)
	require.ErrorIs(t, err, vfs.ErrorTimeout)
}

func TestAdapter_Call_Serialized(t *testing.T) {
	var (
		mut      sync.Mutex
		inflight int
		maxSeen  int
	)
	ch := &fakeChannel{
		sync: func(ctx context.Context, msg []byte) ([]byte, error) {
			mut.Lock()
			inflight++
			if inflight > maxSeen {
				maxSeen = inflight
			}
			mut.Unlock()

			time.Sleep(time.Millisecond)

			mut.Lock()
			inflight--
			mut.Unlock()
			return wire.Default().EncodeReply(&vfs.ReplyHeader{}, &vfs.MaxPathLengthPayload{Value: 4096})
		},
	}
	a := newTestAdapter(t, ch, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Call(context.Background(), vfs.CmdGetMaxPathLength, nil)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
}

func TestAdapter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	ch := &fakeChannel{}

	o := DefaultOptions
	o.Channel = ch
	o.Registerer = reg
	a, err := New(nil, o)
	require.NoError(t, err)

	_, err = a.Post(context.Background(), vfs.CmdListStorages, nil, func(Reply) {})
	require.NoError(t, err)

	require.Equal(t, float64(1), testutil.ToFloat64(a.m.requests.WithLabelValues(string(vfs.CmdListStorages), "async")))
	require.Equal(t, float64(1), testutil.ToFloat64(a.m.pending))

	// A second adapter on the same registry collides.
	_, err = New(nil, o)
	require.Error(t, err)

	require.NoError(t, a.Close())
	require.Equal(t, float64(1), testutil.ToFloat64(a.m.failures.WithLabelValues("", "aborted")))
}

func newTestAdapter(t *testing.T, ch *fakeChannel, timeout time.Duration) *Adapter {
	t.Helper()

	a, err := New(nil, Options{Channel: ch, RequestTimeout: timeout})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// fakeChannel records posted messages and lets tests deliver replies
// through the installed listener.
type fakeChannel struct {
	postErr error
	sync    func(ctx context.Context, msg []byte) ([]byte, error)

	mut      sync.Mutex
	posted   [][]byte
	listener vfs.MessageListener
	closed   bool
}

func (c *fakeChannel) PostMessage(msg []byte) error {
	if c.postErr != nil {
		return c.postErr
	}
	c.mut.Lock()
	defer c.mut.Unlock()
	c.posted = append(c.posted, msg)
	return nil
}

func (c *fakeChannel) SendSyncMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if c.sync == nil {
		return nil, errors.New("no sync handler")
	}
	return c.sync(ctx, msg)
}

func (c *fakeChannel) SetMessageListener(l vfs.MessageListener) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.listener = l
}

func (c *fakeChannel) Close() error {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.closed
}

func (c *fakeChannel) sent() [][]byte {
	c.mut.Lock()
	defer c.mut.Unlock()
	return append([][]byte(nil), c.posted...)
}

func (c *fakeChannel) last(t *testing.T) []byte {
	t.Helper()
	sent := c.sent()
	require.NotEmpty(t, sent, "nothing was posted")
	return sent[len(sent)-1]
}

func (c *fakeChannel) deliver(msg []byte) error {
	c.mut.Lock()
	l := c.listener
	c.mut.Unlock()
	if l == nil {
		return nil
	}
	return l(msg)
}

func (c *fakeChannel) reply(t *testing.T, h *vfs.ReplyHeader, p vfs.Payload) {
	t.Helper()
	raw, err := wire.Default().EncodeReply(h, p)
	require.NoError(t, err)
	require.NoError(t, c.deliver(raw))
}
