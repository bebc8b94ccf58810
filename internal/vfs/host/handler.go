// Package host implements the collaborator side of the vfs protocol. A
// Dispatcher decodes raw requests, passes them to a Handler, and encodes the
// replies. Filesystem work itself is up to the Handler.
package host

import (
	"context"

	"github.com/rfratto/vfsbridge/internal/vfs"
)

// Handler processes decoded requests. Handler is passed to a Dispatcher,
// which will invoke methods as requests come in.
type Handler interface {
	GetMaxPathLength(context.Context, *vfs.RequestHeader) (*vfs.MaxPathLengthPayload, error)
	ManagerResolve(context.Context, *vfs.RequestHeader, *vfs.ManagerResolveRequest) (*vfs.PathPayload, error)
	GetStorage(context.Context, *vfs.RequestHeader, *vfs.GetStorageRequest) (*vfs.StoragePayload, error)
	ListStorages(context.Context, *vfs.RequestHeader) (*vfs.ListStoragesPayload, error)

	Stat(context.Context, *vfs.RequestHeader, *vfs.StatRequest) (*vfs.StatPayload, error)
	GetURI(context.Context, *vfs.RequestHeader, *vfs.GetURIRequest) (*vfs.StringPayload, error)
	ListFiles(context.Context, *vfs.RequestHeader, *vfs.ListFilesRequest) (*vfs.ListFilesPayload, error)
	OpenStream(context.Context, *vfs.RequestHeader, *vfs.OpenStreamRequest) (*vfs.OpenStreamPayload, error)
	CreateDirectory(context.Context, *vfs.RequestHeader, *vfs.CreateDirectoryRequest) (*vfs.StringPayload, error)
	CreateFile(context.Context, *vfs.RequestHeader, *vfs.CreateFileRequest) (*vfs.StringPayload, error)
	Resolve(context.Context, *vfs.RequestHeader, *vfs.ResolveRequest) (*vfs.StringPayload, error)
	CopyTo(context.Context, *vfs.RequestHeader, *vfs.TransferRequest) error
	MoveTo(context.Context, *vfs.RequestHeader, *vfs.TransferRequest) error
	DeleteDirectory(context.Context, *vfs.RequestHeader, *vfs.DeleteDirectoryRequest) error
	DeleteFile(context.Context, *vfs.RequestHeader, *vfs.DeleteFileRequest) error

	StreamClose(context.Context, *vfs.RequestHeader, *vfs.StreamCloseRequest) error
	// StreamRead handles Default and Base64 reads.
	StreamRead(context.Context, *vfs.RequestHeader, *vfs.StreamReadRequest) (*vfs.StreamReadPayload, error)
	// StreamReadBytes handles Bytes reads.
	StreamReadBytes(context.Context, *vfs.RequestHeader, *vfs.StreamReadRequest) (*vfs.StreamReadBytesPayload, error)
	StreamWrite(context.Context, *vfs.RequestHeader, *vfs.StreamWriteRequest) (*vfs.StreamWritePayload, error)
	StreamWriteBytes(context.Context, *vfs.RequestHeader, *vfs.StreamWriteBytesRequest) (*vfs.StreamWritePayload, error)
}
