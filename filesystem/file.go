package filesystem

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/rfratto/vfsbridge/internal/vfs/transport"
)

// File is a file or directory, identified by its full path. The only state
// a File holds is a short-lived copy of its metadata.
type File struct {
	m        *Manager
	fullPath string

	statMut sync.Mutex
	stat    vfs.FileStat
	statAt  time.Time
	hasStat bool
}

func (m *Manager) newFile(fullPath string) *File {
	return &File{m: m, fullPath: fullPath}
}

// FullPath returns the full virtual path of f.
func (f *File) FullPath() string { return f.fullPath }

// Path returns the directory portion of f's path, up to and including the
// last '/'. Paths without a '/' are returned as-is.
func (f *File) Path() string {
	idx := strings.LastIndex(f.fullPath, "/")
	if idx < 0 {
		return f.fullPath
	}
	return f.fullPath[:idx+1]
}

// Name returns the final path segment of f, or "" for virtual roots.
func (f *File) Name() string {
	idx := strings.LastIndex(f.fullPath, "/")
	if idx < 0 {
		return ""
	}
	return f.fullPath[idx+1:]
}

// Parent returns the directory containing f, or nil if f is a virtual root.
func (f *File) Parent() *File {
	p, ok := parentPath(f.fullPath)
	if !ok {
		return nil
	}
	return f.m.newFile(p)
}

// Stat returns f's metadata. Metadata fetched within the manager's
// freshness window is reused without contacting the collaborator.
func (f *File) Stat(ctx context.Context) (vfs.FileStat, error) {
	f.statMut.Lock()
	defer f.statMut.Unlock()

	now := f.m.o.Now()
	if f.hasStat && now.Sub(f.statAt) <= f.m.o.StatFreshness {
		return f.stat, nil
	}
	return f.fetchStat(ctx, now)
}

// Refresh fetches f's metadata, ignoring any cached copy.
func (f *File) Refresh(ctx context.Context) (vfs.FileStat, error) {
	f.statMut.Lock()
	defer f.statMut.Unlock()
	return f.fetchStat(ctx, f.m.o.Now())
}

// Cached returns the last metadata fetched for f without contacting the
// collaborator. ok is false if nothing has been fetched yet.
func (f *File) Cached() (st vfs.FileStat, ok bool) {
	f.statMut.Lock()
	defer f.statMut.Unlock()
	return f.stat, f.hasStat
}

// fetchStat must be called with statMut held. Failures aren't cached.
func (f *File) fetchStat(ctx context.Context, now time.Time) (vfs.FileStat, error) {
	var p vfs.StatPayload
	if err := f.m.t.Invoke(ctx, vfs.CmdStat, &vfs.StatRequest{FullPath: f.fullPath}, &p); err != nil {
		return vfs.FileStat{}, err
	}
	f.stat, f.statAt, f.hasStat = p.Value, now, true
	return p.Value, nil
}

// statOrLog is used by the accessors that can't fail.
func (f *File) statOrLog(ctx context.Context) (vfs.FileStat, bool) {
	st, err := f.Stat(ctx)
	if err != nil {
		level.Debug(f.m.log).Log("msg", "stat failed", "path", f.fullPath, "err", err)
		return st, false
	}
	return st, true
}

// IsFile reports whether f is a file. It returns false if f can't be
// stat'd.
func (f *File) IsFile(ctx context.Context) bool {
	st, ok := f.statOrLog(ctx)
	return ok && st.IsFile
}

// IsDirectory reports whether f is a directory. It returns false if f
// can't be stat'd.
func (f *File) IsDirectory(ctx context.Context) bool {
	st, ok := f.statOrLog(ctx)
	return ok && st.IsDirectory
}

// ReadOnly reports whether f is read-only. It returns true if f can't be
// stat'd.
func (f *File) ReadOnly(ctx context.Context) bool {
	st, ok := f.statOrLog(ctx)
	return !ok || st.ReadOnly
}

// FileSize returns the size of f in bytes. Directories and files that can't
// be stat'd report 0.
func (f *File) FileSize(ctx context.Context) uint64 {
	st, ok := f.statOrLog(ctx)
	if !ok || st.IsDirectory {
		return 0
	}
	return st.Size
}

// Created returns when f was created, or the zero time if unknown.
func (f *File) Created(ctx context.Context) time.Time {
	st, ok := f.statOrLog(ctx)
	if !ok {
		return time.Time{}
	}
	return st.CreatedTime()
}

// Modified returns when f was last modified, or the zero time if unknown.
func (f *File) Modified(ctx context.Context) time.Time {
	st, ok := f.statOrLog(ctx)
	if !ok {
		return time.Time{}
	}
	return st.ModifiedTime()
}

// ToURI returns the URI of f, or "" if the collaborator can't produce one.
func (f *File) ToURI(ctx context.Context) string {
	var p vfs.StringPayload
	if err := f.m.t.Invoke(ctx, vfs.CmdGetURI, &vfs.GetURIRequest{FullPath: f.fullPath}, &p); err != nil {
		level.Debug(f.m.log).Log("msg", "get uri failed", "path", f.fullPath, "err", err)
		return ""
	}
	return p.Value
}

// ListFiles lists the children of the directory f in the order the
// collaborator returns them. filter may be nil.
func (f *File) ListFiles(ctx context.Context, filter *vfs.FileFilter, onSuccess func([]*File), onError ErrorHandler) error {
	if onSuccess == nil {
		return missingHandler("ListFiles")
	}

	req := &vfs.ListFilesRequest{FullPath: f.fullPath, Filter: filter.String()}
	return f.m.post(ctx, vfs.CmdListFiles, req, onError, func(r transport.Reply) error {
		var p vfs.ListFilesPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		files := make([]*File, 0, len(p.Value))
		for _, path := range p.Value {
			files = append(files, f.m.newFile(path))
		}
		onSuccess(files)
		return nil
	})
}

// OpenStream opens f for reading or writing. encoding may be empty for the
// collaborator's default.
func (f *File) OpenStream(ctx context.Context, mode vfs.Mode, encoding string, onSuccess func(*Stream), onError ErrorHandler) error {
	if onSuccess == nil {
		return missingHandler("OpenStream")
	}
	if !mode.Valid() {
		f.m.report(onError, vfs.CmdOpenStream, fmt.Errorf("invalid mode %q: %w", mode, vfs.ErrorInvalidValues))
		return nil
	}

	req := &vfs.OpenStreamRequest{FullPath: f.fullPath, Mode: mode, Encoding: encoding}
	return f.m.post(ctx, vfs.CmdOpenStream, req, onError, func(r transport.Reply) error {
		var p vfs.OpenStreamPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		onSuccess(f.m.newStream(p.FileDescriptor))
		return nil
	})
}

// ReadAsText reads the whole content of f as text.
func (f *File) ReadAsText(ctx context.Context, encoding string, onSuccess func(string), onError ErrorHandler) error {
	if onSuccess == nil {
		return missingHandler("ReadAsText")
	}
	if f.IsDirectory(ctx) {
		f.m.report(onError, vfs.CmdOpenStream, fmt.Errorf("%q is a directory: %w", f.fullPath, vfs.ErrorIO))
		return nil
	}

	size := f.FileSize(ctx)
	return f.OpenStream(ctx, vfs.ModeRead, encoding, func(s *Stream) {
		text, err := s.readAll(ctx, int(size))
		if closeErr := s.Close(ctx); err == nil && closeErr != nil {
			err = closeErr
		}
		if err != nil {
			f.m.report(onError, vfs.CmdStreamRead, err)
			return
		}
		onSuccess(text)
	}, onError)
}

// CopyTo copies originFilePath, which must live under f, to
// destinationFilePath. Both are full virtual paths. onSuccess may be nil.
func (f *File) CopyTo(ctx context.Context, originFilePath, destinationFilePath string, overwrite bool, onSuccess func(), onError ErrorHandler) error {
	return f.transfer(ctx, vfs.CmdCopyTo, originFilePath, destinationFilePath, overwrite, onSuccess, onError)
}

// MoveTo moves originFilePath, which must live under f, to
// destinationFilePath. Both are full virtual paths. onSuccess may be nil.
func (f *File) MoveTo(ctx context.Context, originFilePath, destinationFilePath string, overwrite bool, onSuccess func(), onError ErrorHandler) error {
	return f.transfer(ctx, vfs.CmdMoveTo, originFilePath, destinationFilePath, overwrite, onSuccess, onError)
}

func (f *File) transfer(ctx context.Context, cmd vfs.Command, origin, dest string, overwrite bool, onSuccess func(), onError ErrorHandler) error {
	for _, check := range []error{
		checkTraversal(origin),
		checkTraversal(dest),
		checkContained(f.fullPath, origin),
	} {
		if check != nil {
			f.m.report(onError, cmd, check)
			return nil
		}
	}

	req := &vfs.TransferRequest{
		OriginFilePath:      origin,
		DestinationFilePath: dest,
		Overwrite:           overwrite,
	}
	return f.m.post(ctx, cmd, req, onError, done(onSuccess))
}

// DeleteDirectory deletes directoryPath, which must live under f. Non-empty
// directories are only deleted when recursive is set. onSuccess may be nil.
func (f *File) DeleteDirectory(ctx context.Context, directoryPath string, recursive bool, onSuccess func(), onError ErrorHandler) error {
	if err := checkContained(f.fullPath, directoryPath); err != nil {
		f.m.report(onError, vfs.CmdDeleteDirectory, err)
		return nil
	}

	req := &vfs.DeleteDirectoryRequest{DirectoryPath: directoryPath, Recursive: recursive}
	return f.m.post(ctx, vfs.CmdDeleteDirectory, req, onError, done(onSuccess))
}

// DeleteFile deletes filePath, which must live under f. onSuccess may be
// nil.
func (f *File) DeleteFile(ctx context.Context, filePath string, onSuccess func(), onError ErrorHandler) error {
	if err := checkContained(f.fullPath, filePath); err != nil {
		f.m.report(onError, vfs.CmdDeleteFile, err)
		return nil
	}

	req := &vfs.DeleteFileRequest{FilePath: filePath}
	return f.m.post(ctx, vfs.CmdDeleteFile, req, onError, done(onSuccess))
}

// done adapts an optional no-argument success handler.
func done(onSuccess func()) func(transport.Reply) error {
	return func(transport.Reply) error {
		if onSuccess != nil {
			onSuccess()
		}
		return nil
	}
}

// CreateDirectory creates a directory relative to f and returns it.
func (f *File) CreateDirectory(ctx context.Context, relativeDirPath string) (*File, error) {
	if err := checkTraversal(relativeDirPath); err != nil {
		return nil, err
	}
	req := &vfs.CreateDirectoryRequest{FullPath: f.fullPath, RelativeDirPath: relativeDirPath}
	return f.invokePath(ctx, vfs.CmdCreateDirectory, req)
}

// CreateFile creates an empty file relative to f and returns it.
func (f *File) CreateFile(ctx context.Context, relativeFilePath string) (*File, error) {
	if err := checkTraversal(relativeFilePath); err != nil {
		return nil, err
	}
	req := &vfs.CreateFileRequest{FullPath: f.fullPath, RelativeFilePath: relativeFilePath}
	return f.invokePath(ctx, vfs.CmdCreateFile, req)
}

// Resolve returns the existing file or directory at a path relative to f.
func (f *File) Resolve(ctx context.Context, relativeFilePath string) (*File, error) {
	if err := checkTraversal(relativeFilePath); err != nil {
		return nil, err
	}
	req := &vfs.ResolveRequest{FullPath: f.fullPath, RelativeFilePath: relativeFilePath}
	return f.invokePath(ctx, vfs.CmdResolve, req)
}

func (f *File) invokePath(ctx context.Context, cmd vfs.Command, req vfs.Request) (*File, error) {
	var p vfs.StringPayload
	if err := f.m.t.Invoke(ctx, cmd, req, &p); err != nil {
		return nil, err
	}
	return f.m.newFile(p.Value), nil
}
