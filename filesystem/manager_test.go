package filesystem

import (
	"context"
	"testing"
	"time"

	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/rfratto/vfsbridge/internal/vfs/host"
	"github.com/rfratto/vfsbridge/internal/vfs/transport"
	"github.com/rfratto/vfsbridge/internal/vfs/vfstest"
	"github.com/stretchr/testify/require"
)

func TestManager_MaxPathLength(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, vfs.DefaultMaxPathLength, env.m.MaxPathLength(context.Background()))

	env.fs.MaxPathLength = 255
	require.Equal(t, 255, env.m.MaxPathLength(context.Background()))
}

func TestManager_MaxPathLength_Fallback(t *testing.T) {
	d, err := host.NewDispatcher(nil, host.Options{Handler: host.UnimplementedHandler{}})
	require.NoError(t, err)
	a, err := transport.New(nil, transport.Options{Channel: vfstest.NewLoopback(nil, d)})
	require.NoError(t, err)
	m, err := NewManager(nil, a, DefaultManagerOptions)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, vfs.DefaultMaxPathLength, m.MaxPathLength(context.Background()))
}

func TestManager_Resolve(t *testing.T) {
	env := newTestEnv(t)

	f := env.resolve(t, "documents")
	require.Equal(t, "documents", f.FullPath())
	require.Equal(t, "documents", f.Path())
	require.Equal(t, "", f.Name())
	require.Nil(t, f.Parent())
	require.True(t, f.IsDirectory(context.Background()))
}

func TestManager_Resolve_Errors(t *testing.T) {
	env := newTestEnv(t)

	t.Run("not found", func(t *testing.T) {
		o := newOutcome()
		err := env.m.Resolve(context.Background(), "music", vfs.ModeRead, func(*File) { o.onSuccess() }, o.onError)
		require.NoError(t, err)
		require.ErrorIs(t, o.wait(t), vfs.ErrorNotFound)
	})

	t.Run("read-only location", func(t *testing.T) {
		env.fs.MkdirAll("ringtones")
		env.fs.SetReadOnly("ringtones", true)

		o := newOutcome()
		err := env.m.Resolve(context.Background(), "ringtones", vfs.ModeReadWrite, func(*File) { o.onSuccess() }, o.onError)
		require.NoError(t, err)
		require.ErrorIs(t, o.wait(t), vfs.ErrorSecurity)
	})

	t.Run("invalid mode", func(t *testing.T) {
		env.lb.Reset()

		o := newOutcome()
		err := env.m.Resolve(context.Background(), "documents", "x", func(*File) { o.onSuccess() }, o.onError)
		require.NoError(t, err)
		require.ErrorIs(t, o.wait(t), vfs.ErrorInvalidValues)
		require.Zero(t, env.lb.Count(""))
	})

	t.Run("nil success handler", func(t *testing.T) {
		env.lb.Reset()

		err := env.m.Resolve(context.Background(), "documents", "", nil, nil)
		require.ErrorIs(t, err, vfs.ErrorTypeMismatch)
		require.Zero(t, env.lb.Count(""))
	})
}

func TestManager_GetStorage(t *testing.T) {
	env := newTestEnv(t)

	storages := make(chan Storage, 1)
	o := newOutcome()
	err := env.m.GetStorage(context.Background(), "removable1", func(s Storage) {
		storages <- s
		o.onSuccess()
	}, o.onError)
	require.NoError(t, err)
	require.NoError(t, o.wait(t))
	require.Equal(t, Storage{Label: "removable1", Type: vfs.StorageExternal, State: vfs.StateRemoved}, <-storages)

	// Errors go to the error handler only.
	o = newOutcome()
	err = env.m.GetStorage(context.Background(), "missing", func(Storage) { o.onSuccess() }, o.onError)
	require.NoError(t, err)
	require.ErrorIs(t, o.wait(t), vfs.ErrorNotFound)
	require.Len(t, o.ok, 0)
}

func TestManager_ListStorages(t *testing.T) {
	env := newTestEnv(t)

	result := make(chan []Storage, 1)
	o := newOutcome()
	err := env.m.ListStorages(context.Background(), func(s []Storage) {
		result <- s
		o.onSuccess()
	}, o.onError)
	require.NoError(t, err)
	require.NoError(t, o.wait(t))

	require.Equal(t, []Storage{
		{Label: "documents", Type: vfs.StorageInternal, State: vfs.StateMounted},
		{Label: "removable1", Type: vfs.StorageExternal, State: vfs.StateRemoved},
	}, <-result)
}

func TestManager_StorageStateListeners(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.m.AddStorageStateChangeListener(nil)
	require.ErrorIs(t, err, vfs.ErrorTypeMismatch)

	var seenA, seenB []Storage
	idA, err := env.m.AddStorageStateChangeListener(func(s Storage) { seenA = append(seenA, s) })
	require.NoError(t, err)
	idB, err := env.m.AddStorageStateChangeListener(func(s Storage) { seenB = append(seenB, s) })
	require.NoError(t, err)
	require.Greater(t, idB, idA)

	removed := Storage{Label: "removable1", Type: vfs.StorageExternal, State: vfs.StateRemoved}
	env.m.NotifyStorageState(removed)

	env.m.RemoveStorageStateChangeListener(idA)
	env.m.RemoveStorageStateChangeListener(12345)

	mounted := Storage{Label: "removable1", Type: vfs.StorageExternal, State: vfs.StateMounted}
	env.m.NotifyStorageState(mounted)

	require.Equal(t, []Storage{removed}, seenA)
	require.Equal(t, []Storage{removed, mounted}, seenB)

	// Listeners are local; nothing crosses the channel.
	require.Zero(t, env.lb.Count(vfs.CmdListStorages))
}

func TestManager_Timeout(t *testing.T) {
	env := newTestEnvWithTimeout(t, 20*time.Millisecond)
	env.lb.DropReplies(true)

	o := newOutcome()
	err := env.m.ListStorages(context.Background(), func([]Storage) { o.onSuccess() }, o.onError)
	require.NoError(t, err)
	require.ErrorIs(t, o.wait(t), vfs.ErrorTimeout)
}

func TestManager_Close_AbortsPending(t *testing.T) {
	fs := vfstest.NewMemFS(nil)
	d, err := host.NewDispatcher(nil, host.Options{Handler: fs})
	require.NoError(t, err)

	lb := vfstest.NewLoopback(nil, d)
	lb.DropReplies(true)

	a, err := transport.New(nil, transport.Options{Channel: lb})
	require.NoError(t, err)
	m, err := NewManager(nil, a, DefaultManagerOptions)
	require.NoError(t, err)

	o := newOutcome()
	require.NoError(t, m.ListStorages(context.Background(), func([]Storage) { o.onSuccess() }, o.onError))
	require.NoError(t, m.Close())
	require.ErrorIs(t, o.wait(t), vfs.ErrorAborted)
}
