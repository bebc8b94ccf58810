package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/stretchr/testify/require"
)

type statHandler struct {
	UnimplementedHandler
	err error
}

func (h statHandler) Stat(_ context.Context, _ *vfs.RequestHeader, req *vfs.StatRequest) (*vfs.StatPayload, error) {
	if h.err != nil {
		return nil, h.err
	}
	return &vfs.StatPayload{Value: vfs.FileStat{IsFile: true, Size: uint64(len(req.FullPath))}}, nil
}

func (h statHandler) Resolve(ctx context.Context, _ *vfs.RequestHeader, _ *vfs.ResolveRequest) (*vfs.StringPayload, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestDispatcher(t *testing.T, h Handler) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(nil, Options{Handler: h, RequestTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	return d
}

func TestDispatcher_Success(t *testing.T) {
	d := newTestDispatcher(t, statHandler{})

	out, err := d.Handle(context.Background(), []byte(`{"cmd":"FileStat","fullPath":"/abc"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"isError":false,"value":{"isFile":true,"isDirectory":false,"readOnly":false,"size":4,"created":0,"modified":0}}`, string(out))
}

func TestDispatcher_EchoesReplyID(t *testing.T) {
	d := newTestDispatcher(t, UnimplementedHandler{})

	out, err := d.Handle(context.Background(), []byte(`{"cmd":"FileSystemManagerListStorages","reply_id":42}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"reply_id":42,"isError":true,"errorCode":9}`, string(out))
}

func TestDispatcher_Errors(t *testing.T) {
	tt := []struct {
		name   string
		herr   error
		expect vfs.Error
	}{
		{"protocol error", fmt.Errorf("wrapped: %w", vfs.ErrorSecurity), vfs.ErrorSecurity},
		{"not exist", fmt.Errorf("open: %w", os.ErrNotExist), vfs.ErrorNotFound},
		{"permission", os.ErrPermission, vfs.ErrorSecurity},
		{"other", errors.New("disk on fire"), vfs.ErrorIO},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDispatcher(t, statHandler{err: tc.herr})
			out, err := d.Handle(context.Background(), []byte(`{"cmd":"FileStat","fullPath":"/abc"}`))
			require.NoError(t, err)

			var h vfs.ReplyHeader
			require.NoError(t, json.Unmarshal(out, &h))
			require.True(t, h.IsError)
			require.Equal(t, tc.expect, h.ErrorCode)
		})
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	d := newTestDispatcher(t, statHandler{})

	out, err := d.Handle(context.Background(), []byte(`{"cmd":"FileResolve","fullPath":"/a","relativeFilePath":"b"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"isError":true,"errorCode":23}`, string(out))
}

func TestDispatcher_Malformed(t *testing.T) {
	d := newTestDispatcher(t, statHandler{})

	_, err := d.Handle(context.Background(), []byte(`{{{`))
	require.Error(t, err)

	// The header decodes but the body doesn't: the peer still gets a reply.
	out, err := d.Handle(context.Background(), []byte(`{"cmd":"FileStat","reply_id":3,"fullPath":12}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"reply_id":3,"isError":true,"errorCode":17}`, string(out))

	out, err = d.Handle(context.Background(), []byte(`{"cmd":"FileTeleport","reply_id":4}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"reply_id":4,"isError":true,"errorCode":9}`, string(out))
}
