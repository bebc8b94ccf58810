package host

import (
	"context"
	"testing"

	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/stretchr/testify/require"
)

func TestChainMiddleware(t *testing.T) {
	var order []string

	record := func(name string) Middleware {
		return FuncMiddleware(func(ctx context.Context, h *vfs.RequestHeader, req vfs.Request, i Invoker) (vfs.Payload, error) {
			order = append(order, name+" before")
			p, err := i(ctx, h, req)
			order = append(order, name+" after")
			return p, err
		})
	}

	invoker := func(_ context.Context, h *vfs.RequestHeader, _ vfs.Request) (vfs.Payload, error) {
		order = append(order, "handler "+string(h.Command))
		return &vfs.StringPayload{Value: "ok"}, nil
	}

	hdr := &vfs.RequestHeader{Command: vfs.CmdGetURI, ReplyID: 3}
	p, err := chainMiddleware([]Middleware{record("outer"), record("inner")}).HandleRequest(context.Background(), hdr, nil, invoker)
	require.NoError(t, err)
	require.Equal(t, &vfs.StringPayload{Value: "ok"}, p)
	require.Equal(t, []string{
		"outer before",
		"inner before",
		"handler FileGetURI",
		"inner after",
		"outer after",
	}, order)
}

func TestChainMiddleware_ShortCircuit(t *testing.T) {
	deny := FuncMiddleware(func(context.Context, *vfs.RequestHeader, vfs.Request, Invoker) (vfs.Payload, error) {
		return nil, vfs.ErrorSecurity
	})

	var called bool
	invoker := func(context.Context, *vfs.RequestHeader, vfs.Request) (vfs.Payload, error) {
		called = true
		return nil, nil
	}

	_, err := chainMiddleware([]Middleware{deny}).HandleRequest(context.Background(), &vfs.RequestHeader{}, nil, invoker)
	require.ErrorIs(t, err, vfs.ErrorSecurity)
	require.False(t, called)
}

func TestChainMiddleware_Empty(t *testing.T) {
	var called bool

	invoker := func(context.Context, *vfs.RequestHeader, vfs.Request) (vfs.Payload, error) {
		called = true
		return nil, nil
	}

	chainMiddleware(nil).HandleRequest(context.Background(), nil, nil, invoker)
	require.True(t, called)
}

func TestHandlerInvoker_MissingBody(t *testing.T) {
	invoke := handlerInvoker(UnimplementedHandler{})

	_, err := invoke(context.Background(), &vfs.RequestHeader{Command: vfs.CmdStat}, nil)
	require.ErrorIs(t, err, vfs.ErrorInvalidValues)

	_, err = invoke(context.Background(), &vfs.RequestHeader{Command: vfs.CmdStreamRead}, &vfs.StreamReadRequest{Type: "Hex"})
	require.ErrorIs(t, err, vfs.ErrorInvalidValues)
}
