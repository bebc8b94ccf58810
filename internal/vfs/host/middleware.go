package host

import (
	"context"
	"fmt"

	"github.com/rfratto/vfsbridge/internal/vfs"
)

// Middleware hooks into requests.
type Middleware interface {
	// HandleRequest handles an individual request.
	HandleRequest(ctx context.Context, hdr *vfs.RequestHeader, req vfs.Request, invoker Invoker) (vfs.Payload, error)
}

// Invoker is called by Middleware to complete requests.
type Invoker func(ctx context.Context, hdr *vfs.RequestHeader, req vfs.Request) (vfs.Payload, error)

// FuncMiddleware is a function that implements Middleware.
type FuncMiddleware func(ctx context.Context, hdr *vfs.RequestHeader, req vfs.Request, i Invoker) (vfs.Payload, error)

func (f FuncMiddleware) HandleRequest(ctx context.Context, h *vfs.RequestHeader, req vfs.Request, i Invoker) (vfs.Payload, error) {
	return f(ctx, h, req, i)
}

func missingBody(c vfs.Command) error {
	return fmt.Errorf("missing request body for %s: %w", c, vfs.ErrorInvalidValues)
}

// handlerInvoker converts h into an Invoker.
func handlerInvoker(h Handler) Invoker {
	return func(ctx context.Context, header *vfs.RequestHeader, req vfs.Request) (resp vfs.Payload, err error) {
		switch header.Command {
		case vfs.CmdGetMaxPathLength:
			// GetMaxPathLength has no request
			resp, err = h.GetMaxPathLength(ctx, header)

		case vfs.CmdListStorages:
			// ListStorages has no request
			resp, err = h.ListStorages(ctx, header)

		case vfs.CmdManagerResolve:
			req, _ := req.(*vfs.ManagerResolveRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			resp, err = h.ManagerResolve(ctx, header, req)

		case vfs.CmdGetStorage:
			req, _ := req.(*vfs.GetStorageRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			resp, err = h.GetStorage(ctx, header, req)

		case vfs.CmdStat:
			req, _ := req.(*vfs.StatRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			resp, err = h.Stat(ctx, header, req)

		case vfs.CmdGetURI:
			req, _ := req.(*vfs.GetURIRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			resp, err = h.GetURI(ctx, header, req)

		case vfs.CmdListFiles:
			req, _ := req.(*vfs.ListFilesRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			resp, err = h.ListFiles(ctx, header, req)

		case vfs.CmdOpenStream:
			req, _ := req.(*vfs.OpenStreamRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			resp, err = h.OpenStream(ctx, header, req)

		case vfs.CmdCreateDirectory:
			req, _ := req.(*vfs.CreateDirectoryRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			resp, err = h.CreateDirectory(ctx, header, req)

		case vfs.CmdCreateFile:
			req, _ := req.(*vfs.CreateFileRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			resp, err = h.CreateFile(ctx, header, req)

		case vfs.CmdResolve:
			req, _ := req.(*vfs.ResolveRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			resp, err = h.Resolve(ctx, header, req)

		case vfs.CmdCopyTo:
			req, _ := req.(*vfs.TransferRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			err = h.CopyTo(ctx, header, req)

		case vfs.CmdMoveTo:
			req, _ := req.(*vfs.TransferRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			err = h.MoveTo(ctx, header, req)

		case vfs.CmdDeleteDirectory:
			req, _ := req.(*vfs.DeleteDirectoryRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			err = h.DeleteDirectory(ctx, header, req)

		case vfs.CmdDeleteFile:
			req, _ := req.(*vfs.DeleteFileRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			err = h.DeleteFile(ctx, header, req)

		case vfs.CmdStreamClose:
			req, _ := req.(*vfs.StreamCloseRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			err = h.StreamClose(ctx, header, req)

		case vfs.CmdStreamRead:
			req, _ := req.(*vfs.StreamReadRequest)
			if req == nil {
				err = missingBody(header.Command)
				break
			}
			switch req.Type {
			case vfs.ReadBytes:
				resp, err = h.StreamReadBytes(ctx, header, req)
			case vfs.ReadDefault, vfs.ReadBase64, "":
				resp, err = h.StreamRead(ctx, header, req)
			default:
				err = fmt.Errorf("unexpected read type %q: %w", req.Type, vfs.ErrorInvalidValues)
			}

		case vfs.CmdStreamWrite:
			switch req := req.(type) {
			case *vfs.StreamWriteRequest:
				resp, err = h.StreamWrite(ctx, header, req)
			case *vfs.StreamWriteBytesRequest:
				resp, err = h.StreamWriteBytes(ctx, header, req)
			default:
				err = missingBody(header.Command)
			}

		default:
			err = fmt.Errorf("unexpected command %q: %w", header.Command, vfs.ErrorNotSupported)
		}

		return resp, err
	}
}

type chainMiddleware []Middleware

func (c chainMiddleware) HandleRequest(ctx context.Context, h *vfs.RequestHeader, req vfs.Request, invoker Invoker) (vfs.Payload, error) {
	if len(c) == 0 {
		return invoker(ctx, h, req)
	}

	var (
		index        int
		chainInvoker Invoker
	)

	chainInvoker = func(ctx context.Context, h *vfs.RequestHeader, req vfs.Request) (vfs.Payload, error) {
		mw := c[index]
		index++

		var next Invoker
		if index == len(c) {
			next = invoker
		} else {
			next = chainInvoker
		}

		return mw.HandleRequest(ctx, h, req, next)
	}
	return chainInvoker(ctx, h, req)
}
