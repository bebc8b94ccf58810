package host

import (
	"context"

	"github.com/rfratto/vfsbridge/internal/vfs"
)

// UnimplementedHandler implements Handler and returns ErrorNotSupported for
// all requests. Embed it to implement a subset of the commands.
type UnimplementedHandler struct{}

// Static type check test
var _ Handler = UnimplementedHandler{}

func (UnimplementedHandler) GetMaxPathLength(context.Context, *vfs.RequestHeader) (*vfs.MaxPathLengthPayload, error) {
	return nil, vfs.ErrorNotSupported
}

func (UnimplementedHandler) ManagerResolve(context.Context, *vfs.RequestHeader, *vfs.ManagerResolveRequest) (*vfs.PathPayload, error) {
	return nil, vfs.ErrorNotSupported
}

func (UnimplementedHandler) GetStorage(context.Context, *vfs.RequestHeader, *vfs.GetStorageRequest) (*vfs.StoragePayload, error) {
	return nil, vfs.ErrorNotSupported
}

func (UnimplementedHandler) ListStorages(context.Context, *vfs.RequestHeader) (*vfs.ListStoragesPayload, error) {
	return nil, vfs.ErrorNotSupported
}

func (UnimplementedHandler) Stat(context.Context, *vfs.RequestHeader, *vfs.StatRequest) (*vfs.StatPayload, error) {
	return nil, vfs.ErrorNotSupported
}

func (UnimplementedHandler) GetURI(context.Context, *vfs.RequestHeader, *vfs.GetURIRequest) (*vfs.StringPayload, error) {
	return nil, vfs.ErrorNotSupported
}

func (UnimplementedHandler) ListFiles(context.Context, *vfs.RequestHeader, *vfs.ListFilesRequest) (*vfs.ListFilesPayload, error) {
	return nil, vfs.ErrorNotSupported
}

func (UnimplementedHandler) OpenStream(context.Context, *vfs.RequestHeader, *vfs.OpenStreamRequest) (*vfs.OpenStreamPayload, error) {
	return nil, vfs.ErrorNotSupported
}

func (UnimplementedHandler) CreateDirectory(context.Context, *vfs.RequestHeader, *vfs.CreateDirectoryRequest) (*vfs.StringPayload, error) {
	return nil, vfs.ErrorNotSupported
}

func (UnimplementedHandler) CreateFile(context.Context, *vfs.RequestHeader, *vfs.CreateFileRequest) (*vfs.StringPayload, error) {
	return nil, vfs.ErrorNotSupported
}

func (UnimplementedHandler) Resolve(context.Context, *vfs.RequestHeader, *vfs.ResolveRequest) (*vfs.StringPayload, error) {
	return nil, vfs.ErrorNotSupported
}

func (UnimplementedHandler) CopyTo(context.Context, *vfs.RequestHeader, *vfs.TransferRequest) error {
	return vfs.ErrorNotSupported
}

func (UnimplementedHandler) MoveTo(context.Context, *vfs.RequestHeader, *vfs.TransferRequest) error {
	return vfs.ErrorNotSupported
}

func (UnimplementedHandler) DeleteDirectory(context.Context, *vfs.RequestHeader, *vfs.DeleteDirectoryRequest) error {
	return vfs.ErrorNotSupported
}

func (UnimplementedHandler) DeleteFile(context.Context, *vfs.RequestHeader, *vfs.DeleteFileRequest) error {
	return vfs.ErrorNotSupported
}

func (UnimplementedHandler) StreamClose(context.Context, *vfs.RequestHeader, *vfs.StreamCloseRequest) error {
	return vfs.ErrorNotSupported
}

func (UnimplementedHandler) StreamRead(context.Context, *vfs.RequestHeader, *vfs.StreamReadRequest) (*vfs.StreamReadPayload, error) {
	return nil, vfs.ErrorNotSupported
}

func (UnimplementedHandler) StreamReadBytes(context.Context, *vfs.RequestHeader, *vfs.StreamReadRequest) (*vfs.StreamReadBytesPayload, error) {
	return nil, vfs.ErrorNotSupported
}

func (UnimplementedHandler) StreamWrite(context.Context, *vfs.RequestHeader, *vfs.StreamWriteRequest) (*vfs.StreamWritePayload, error) {
	return nil, vfs.ErrorNotSupported
}

func (UnimplementedHandler) StreamWriteBytes(context.Context, *vfs.RequestHeader, *vfs.StreamWriteBytesRequest) (*vfs.StreamWritePayload, error) {
	return nil, vfs.ErrorNotSupported
}
