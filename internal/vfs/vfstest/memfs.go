// Package vfstest provides an in-memory collaborator and an in-process
// channel for exercising the binding without a native host.
package vfstest

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/gobwas/glob"
	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/rfratto/vfsbridge/internal/vfs/host"
)

// MemFS is a host.Handler that keeps a filesystem tree in memory. Paths are
// '/'-separated and rooted at virtual root names such as "documents", which
// have no parent.
type MemFS struct {
	// MaxPathLength reported to the binding.
	MaxPathLength int

	// Now returns the time used for created and modified stamps.
	Now func() time.Time

	mut      sync.RWMutex
	nodes    map[string]*memNode
	storages []vfs.StorageInfo
	streams  *host.HandleTable
}

var _ host.Handler = (*MemFS)(nil)

type memNode struct {
	dir      bool
	readOnly bool
	data     []byte
	created  time.Time
	modified time.Time
}

// NewMemFS creates an empty MemFS.
func NewMemFS(l log.Logger) *MemFS {
	return &MemFS{
		MaxPathLength: vfs.DefaultMaxPathLength,
		Now:           time.Now,
		nodes:         make(map[string]*memNode),
		streams:       host.NewHandleTable(l),
	}
}

// AddStorage registers a storage and creates its root directory.
func (fs *MemFS) AddStorage(info vfs.StorageInfo) {
	fs.mut.Lock()
	defer fs.mut.Unlock()

	fs.storages = append(fs.storages, info)
	if _, ok := fs.nodes[info.Label]; !ok {
		fs.nodes[info.Label] = fs.newNode(true)
	}
}

// MkdirAll creates the directory p along with any missing parents.
func (fs *MemFS) MkdirAll(p string) {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	fs.mkdirAll(cleanPath(p))
}

// WriteFile creates or replaces the file at p, creating parent directories
// as needed.
func (fs *MemFS) WriteFile(p string, data []byte) {
	fs.mut.Lock()
	defer fs.mut.Unlock()

	p = cleanPath(p)
	if parent := parentPath(p); parent != "" {
		fs.mkdirAll(parent)
	}
	n := fs.newNode(false)
	n.data = append([]byte(nil), data...)
	fs.nodes[p] = n
}

// SetReadOnly marks the node at p read-only.
func (fs *MemFS) SetReadOnly(p string, readOnly bool) {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	if n, ok := fs.nodes[cleanPath(p)]; ok {
		n.readOnly = readOnly
	}
}

// ReadFile returns the contents of the file at p.
func (fs *MemFS) ReadFile(p string) ([]byte, bool) {
	fs.mut.RLock()
	defer fs.mut.RUnlock()
	n, ok := fs.nodes[cleanPath(p)]
	if !ok || n.dir {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Remove deletes p and everything under it.
func (fs *MemFS) Remove(p string) {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	fs.removeTree(cleanPath(p))
}

// Exists reports whether anything exists at p.
func (fs *MemFS) Exists(p string) bool {
	fs.mut.RLock()
	defer fs.mut.RUnlock()
	_, ok := fs.nodes[cleanPath(p)]
	return ok
}

// OpenStreams returns the number of streams that haven't been closed.
func (fs *MemFS) OpenStreams() int { return fs.streams.Len() }

func (fs *MemFS) newNode(dir bool) *memNode {
	now := fs.Now()
	return &memNode{dir: dir, created: now, modified: now}
}

// mkdirAll must be called with mut held.
func (fs *MemFS) mkdirAll(p string) {
	if p == "" {
		return
	}
	if _, ok := fs.nodes[p]; ok {
		return
	}
	fs.mkdirAll(parentPath(p))
	fs.nodes[p] = fs.newNode(true)
}

func (fs *MemFS) GetMaxPathLength(context.Context, *vfs.RequestHeader) (*vfs.MaxPathLengthPayload, error) {
	return &vfs.MaxPathLengthPayload{Value: fs.MaxPathLength}, nil
}

func (fs *MemFS) ManagerResolve(_ context.Context, _ *vfs.RequestHeader, req *vfs.ManagerResolveRequest) (*vfs.PathPayload, error) {
	if req.Mode != "" && !req.Mode.Valid() {
		return nil, fmt.Errorf("mode %q: %w", req.Mode, vfs.ErrorInvalidValues)
	}

	fs.mut.RLock()
	defer fs.mut.RUnlock()

	p := cleanPath(req.Location)
	n, ok := fs.nodes[p]
	if !ok {
		return nil, fmt.Errorf("location %q: %w", req.Location, vfs.ErrorNotFound)
	}
	if n.readOnly && req.Mode != "" && req.Mode != vfs.ModeRead {
		return nil, fmt.Errorf("location %q is read-only: %w", req.Location, vfs.ErrorSecurity)
	}
	return &vfs.PathPayload{FullPath: p}, nil
}

func (fs *MemFS) GetStorage(_ context.Context, _ *vfs.RequestHeader, req *vfs.GetStorageRequest) (*vfs.StoragePayload, error) {
	fs.mut.RLock()
	defer fs.mut.RUnlock()

	for _, s := range fs.storages {
		if s.Label == req.Label {
			return &vfs.StoragePayload{Label: s.Label, Type: s.Type, State: s.State}, nil
		}
	}
	return nil, fmt.Errorf("storage %q: %w", req.Label, vfs.ErrorNotFound)
}

func (fs *MemFS) ListStorages(context.Context, *vfs.RequestHeader) (*vfs.ListStoragesPayload, error) {
	fs.mut.RLock()
	defer fs.mut.RUnlock()
	return &vfs.ListStoragesPayload{Storages: append([]vfs.StorageInfo{}, fs.storages...)}, nil
}

func (fs *MemFS) Stat(_ context.Context, _ *vfs.RequestHeader, req *vfs.StatRequest) (*vfs.StatPayload, error) {
	fs.mut.RLock()
	defer fs.mut.RUnlock()

	n, ok := fs.nodes[cleanPath(req.FullPath)]
	if !ok {
		return nil, fmt.Errorf("stat %q: %w", req.FullPath, vfs.ErrorNotFound)
	}
	return &vfs.StatPayload{Value: n.stat()}, nil
}

func (n *memNode) stat() vfs.FileStat {
	st := vfs.FileStat{
		IsFile:      !n.dir,
		IsDirectory: n.dir,
		ReadOnly:    n.readOnly,
		Created:     n.created.Unix(),
		Modified:    n.modified.Unix(),
	}
	if !n.dir {
		st.Size = uint64(len(n.data))
	}
	return st
}

func (fs *MemFS) GetURI(_ context.Context, _ *vfs.RequestHeader, req *vfs.GetURIRequest) (*vfs.StringPayload, error) {
	fs.mut.RLock()
	defer fs.mut.RUnlock()

	p := cleanPath(req.FullPath)
	if _, ok := fs.nodes[p]; !ok {
		return nil, fmt.Errorf("uri %q: %w", req.FullPath, vfs.ErrorNotFound)
	}
	return &vfs.StringPayload{Value: "file:///" + p}, nil
}

func (fs *MemFS) ListFiles(_ context.Context, _ *vfs.RequestHeader, req *vfs.ListFilesRequest) (*vfs.ListFilesPayload, error) {
	filter, err := vfs.ParseFileFilter(req.Filter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, vfs.ErrorInvalidValues)
	}
	match, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}

	fs.mut.RLock()
	defer fs.mut.RUnlock()

	dir := cleanPath(req.FullPath)
	n, ok := fs.nodes[dir]
	if !ok {
		return nil, fmt.Errorf("list %q: %w", req.FullPath, vfs.ErrorNotFound)
	}
	if !n.dir {
		return nil, fmt.Errorf("list %q: not a directory: %w", req.FullPath, vfs.ErrorIO)
	}

	var children []string
	for p, child := range fs.nodes {
		if parentPath(p) != dir || !match(baseName(p), child) {
			continue
		}
		children = append(children, p)
	}
	sort.Strings(children)
	return &vfs.ListFilesPayload{Value: children}, nil
}

// compileFilter converts f into a matcher. Names use '%' as the wildcard.
func compileFilter(f *vfs.FileFilter) (func(name string, n *memNode) bool, error) {
	if f == nil {
		return func(string, *memNode) bool { return true }, nil
	}

	var g glob.Glob
	if f.Name != "" {
		parts := strings.Split(f.Name, "%")
		for i := range parts {
			parts[i] = glob.QuoteMeta(parts[i])
		}
		var err error
		g, err = glob.Compile(strings.Join(parts, "*"))
		if err != nil {
			return nil, fmt.Errorf("filter name %q: %w", f.Name, vfs.ErrorInvalidValues)
		}
	}

	inRange := func(t time.Time, start, end *time.Time) bool {
		if start != nil && t.Before(*start) {
			return false
		}
		if end != nil && t.After(*end) {
			return false
		}
		return true
	}

	return func(name string, n *memNode) bool {
		if g != nil && !g.Match(name) {
			return false
		}
		return inRange(n.modified, f.StartModified, f.EndModified) &&
			inRange(n.created, f.StartCreated, f.EndCreated)
	}, nil
}

func (fs *MemFS) OpenStream(_ context.Context, _ *vfs.RequestHeader, req *vfs.OpenStreamRequest) (*vfs.OpenStreamPayload, error) {
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("mode %q: %w", req.Mode, vfs.ErrorInvalidValues)
	}

	fs.mut.Lock()
	defer fs.mut.Unlock()

	p := cleanPath(req.FullPath)
	n, ok := fs.nodes[p]
	switch {
	case ok && n.dir:
		return nil, fmt.Errorf("open %q: is a directory: %w", req.FullPath, vfs.ErrorIO)
	case ok && n.readOnly && req.Mode != vfs.ModeRead:
		return nil, fmt.Errorf("open %q: %w", req.FullPath, vfs.ErrorSecurity)
	case !ok && req.Mode == vfs.ModeRead:
		return nil, fmt.Errorf("open %q: %w", req.FullPath, vfs.ErrorNotFound)
	case !ok:
		parent, exist := fs.nodes[parentPath(p)]
		if !exist || !parent.dir {
			return nil, fmt.Errorf("open %q: missing parent: %w", req.FullPath, vfs.ErrorNotFound)
		}
		n = fs.newNode(false)
		fs.nodes[p] = n
	}

	s := &memStream{fs: fs, path: p, mode: req.Mode}
	switch req.Mode {
	case vfs.ModeWrite:
		n.data = nil
		n.modified = fs.Now()
	case vfs.ModeAppend:
		s.pos = len(n.data)
	}

	h, err := fs.streams.Add(s)
	if err != nil {
		return nil, err
	}
	return &vfs.OpenStreamPayload{FileDescriptor: h}, nil
}

func (fs *MemFS) CreateDirectory(_ context.Context, _ *vfs.RequestHeader, req *vfs.CreateDirectoryRequest) (*vfs.StringPayload, error) {
	fs.mut.Lock()
	defer fs.mut.Unlock()

	base, ok := fs.nodes[cleanPath(req.FullPath)]
	if !ok || !base.dir {
		return nil, fmt.Errorf("create directory in %q: %w", req.FullPath, vfs.ErrorNotFound)
	}
	p := joinPath(req.FullPath, req.RelativeDirPath)
	if _, exist := fs.nodes[p]; exist {
		return nil, fmt.Errorf("create directory %q: exists: %w", p, vfs.ErrorIO)
	}
	fs.mkdirAll(p)
	return &vfs.StringPayload{Value: p}, nil
}

func (fs *MemFS) CreateFile(_ context.Context, _ *vfs.RequestHeader, req *vfs.CreateFileRequest) (*vfs.StringPayload, error) {
	fs.mut.Lock()
	defer fs.mut.Unlock()

	p := joinPath(req.FullPath, req.RelativeFilePath)
	if _, exist := fs.nodes[p]; exist {
		return nil, fmt.Errorf("create file %q: exists: %w", p, vfs.ErrorIO)
	}
	parent, ok := fs.nodes[parentPath(p)]
	if !ok || !parent.dir {
		return nil, fmt.Errorf("create file %q: missing parent: %w", p, vfs.ErrorNotFound)
	}
	fs.nodes[p] = fs.newNode(false)
	return &vfs.StringPayload{Value: p}, nil
}

func (fs *MemFS) Resolve(_ context.Context, _ *vfs.RequestHeader, req *vfs.ResolveRequest) (*vfs.StringPayload, error) {
	fs.mut.RLock()
	defer fs.mut.RUnlock()

	p := joinPath(req.FullPath, req.RelativeFilePath)
	if _, ok := fs.nodes[p]; !ok {
		return nil, fmt.Errorf("resolve %q: %w", p, vfs.ErrorNotFound)
	}
	return &vfs.StringPayload{Value: p}, nil
}

func (fs *MemFS) CopyTo(_ context.Context, _ *vfs.RequestHeader, req *vfs.TransferRequest) error {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	return fs.transfer(req, false)
}

func (fs *MemFS) MoveTo(_ context.Context, _ *vfs.RequestHeader, req *vfs.TransferRequest) error {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	return fs.transfer(req, true)
}

// transfer copies or moves a subtree. mut must be held.
func (fs *MemFS) transfer(req *vfs.TransferRequest, move bool) error {
	var (
		src = cleanPath(req.OriginFilePath)
		dst = cleanPath(req.DestinationFilePath)
	)

	if _, ok := fs.nodes[src]; !ok {
		return fmt.Errorf("transfer %q: %w", src, vfs.ErrorNotFound)
	}
	if dst == src || strings.HasPrefix(dst, src+"/") {
		return fmt.Errorf("transfer %q into itself: %w", src, vfs.ErrorInvalidValues)
	}
	if parent, ok := fs.nodes[parentPath(dst)]; !ok || !parent.dir {
		return fmt.Errorf("transfer to %q: missing parent: %w", dst, vfs.ErrorNotFound)
	}
	if _, exist := fs.nodes[dst]; exist {
		if !req.Overwrite {
			return fmt.Errorf("transfer to %q: exists: %w", dst, vfs.ErrorIO)
		}
		fs.removeTree(dst)
	}

	for p, n := range fs.subtree(src) {
		target := dst + strings.TrimPrefix(p, src)
		cp := *n
		cp.data = append([]byte(nil), n.data...)
		fs.nodes[target] = &cp
		if move {
			delete(fs.nodes, p)
		}
	}
	return nil
}

func (fs *MemFS) DeleteDirectory(_ context.Context, _ *vfs.RequestHeader, req *vfs.DeleteDirectoryRequest) error {
	fs.mut.Lock()
	defer fs.mut.Unlock()

	p := cleanPath(req.DirectoryPath)
	n, ok := fs.nodes[p]
	switch {
	case !ok:
		return fmt.Errorf("delete %q: %w", p, vfs.ErrorNotFound)
	case !n.dir:
		return fmt.Errorf("delete %q: not a directory: %w", p, vfs.ErrorInvalidValues)
	case n.readOnly:
		return fmt.Errorf("delete %q: %w", p, vfs.ErrorSecurity)
	case len(fs.subtree(p)) > 1 && !req.Recursive:
		return fmt.Errorf("delete %q: directory not empty: %w", p, vfs.ErrorIO)
	}
	fs.removeTree(p)
	return nil
}

func (fs *MemFS) DeleteFile(_ context.Context, _ *vfs.RequestHeader, req *vfs.DeleteFileRequest) error {
	fs.mut.Lock()
	defer fs.mut.Unlock()

	p := cleanPath(req.FilePath)
	n, ok := fs.nodes[p]
	switch {
	case !ok:
		return fmt.Errorf("delete %q: %w", p, vfs.ErrorNotFound)
	case n.dir:
		return fmt.Errorf("delete %q: is a directory: %w", p, vfs.ErrorInvalidValues)
	case n.readOnly:
		return fmt.Errorf("delete %q: %w", p, vfs.ErrorSecurity)
	}
	delete(fs.nodes, p)
	return nil
}

// subtree returns p and all of its descendants. mut must be held.
func (fs *MemFS) subtree(p string) map[string]*memNode {
	out := make(map[string]*memNode)
	for key, n := range fs.nodes {
		if key == p || strings.HasPrefix(key, p+"/") {
			out[key] = n
		}
	}
	return out
}

// removeTree must be called with mut held.
func (fs *MemFS) removeTree(p string) {
	for key := range fs.subtree(p) {
		delete(fs.nodes, key)
	}
}

func (fs *MemFS) StreamClose(_ context.Context, _ *vfs.RequestHeader, req *vfs.StreamCloseRequest) error {
	return fs.streams.Release(req.FileDescriptor)
}

func (fs *MemFS) StreamRead(_ context.Context, _ *vfs.RequestHeader, req *vfs.StreamReadRequest) (*vfs.StreamReadPayload, error) {
	s, err := fs.stream(req.FileDescriptor)
	if err != nil {
		return nil, err
	}
	data, eof, err := s.read(req.Count)
	if err != nil {
		return nil, err
	}

	value := string(data)
	if req.Type == vfs.ReadBase64 {
		value = base64.StdEncoding.EncodeToString(data)
	}
	return &vfs.StreamReadPayload{Value: value, EOF: eof, Position: uint64(s.position())}, nil
}

func (fs *MemFS) StreamReadBytes(_ context.Context, _ *vfs.RequestHeader, req *vfs.StreamReadRequest) (*vfs.StreamReadBytesPayload, error) {
	s, err := fs.stream(req.FileDescriptor)
	if err != nil {
		return nil, err
	}
	data, eof, err := s.read(req.Count)
	if err != nil {
		return nil, err
	}
	return &vfs.StreamReadBytesPayload{Value: data, EOF: eof, Position: uint64(s.position())}, nil
}

func (fs *MemFS) StreamWrite(_ context.Context, _ *vfs.RequestHeader, req *vfs.StreamWriteRequest) (*vfs.StreamWritePayload, error) {
	s, err := fs.stream(req.FileDescriptor)
	if err != nil {
		return nil, err
	}

	data := []byte(req.Data)
	if req.Type == vfs.ReadBase64 {
		data, err = base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			return nil, fmt.Errorf("decoding base64 data: %s: %w", err, vfs.ErrorInvalidValues)
		}
	}
	if err := s.write(data); err != nil {
		return nil, err
	}
	return &vfs.StreamWritePayload{Position: uint64(s.position())}, nil
}

func (fs *MemFS) StreamWriteBytes(_ context.Context, _ *vfs.RequestHeader, req *vfs.StreamWriteBytesRequest) (*vfs.StreamWritePayload, error) {
	s, err := fs.stream(req.FileDescriptor)
	if err != nil {
		return nil, err
	}
	if err := s.write(req.Data); err != nil {
		return nil, err
	}
	return &vfs.StreamWritePayload{Position: uint64(s.position())}, nil
}

func (fs *MemFS) stream(h vfs.Handle) (*memStream, error) {
	s, err := fs.streams.Get(h)
	if err != nil {
		return nil, fmt.Errorf("stream %d: %w", h, err)
	}
	return s.(*memStream), nil
}

// memStream is an open stream on a MemFS file.
type memStream struct {
	fs   *MemFS
	path string
	mode vfs.Mode

	mut sync.Mutex
	pos int
}

func (s *memStream) Close() error { return nil }

func (s *memStream) position() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.pos
}

func (s *memStream) read(count int) (data []byte, eof bool, err error) {
	if s.mode != vfs.ModeRead && s.mode != vfs.ModeReadWrite {
		return nil, false, fmt.Errorf("stream opened with mode %q: %w", s.mode, vfs.ErrorIO)
	}
	if count < 0 {
		return nil, false, vfs.ErrorInvalidValues
	}

	s.fs.mut.RLock()
	defer s.fs.mut.RUnlock()
	n, ok := s.fs.nodes[s.path]
	if !ok {
		return nil, false, fmt.Errorf("stream file %q removed: %w", s.path, vfs.ErrorIO)
	}

	s.mut.Lock()
	defer s.mut.Unlock()

	end := s.pos + count
	if end > len(n.data) {
		end = len(n.data)
	}
	if s.pos < end {
		data = append(data, n.data[s.pos:end]...)
	}
	s.pos = end
	return data, s.pos >= len(n.data), nil
}

func (s *memStream) write(data []byte) error {
	if s.mode == vfs.ModeRead {
		return fmt.Errorf("stream opened with mode %q: %w", s.mode, vfs.ErrorIO)
	}

	s.fs.mut.Lock()
	defer s.fs.mut.Unlock()
	n, ok := s.fs.nodes[s.path]
	if !ok {
		return fmt.Errorf("stream file %q removed: %w", s.path, vfs.ErrorIO)
	}

	s.mut.Lock()
	defer s.mut.Unlock()

	if s.mode == vfs.ModeAppend {
		s.pos = len(n.data)
	}
	end := s.pos + len(data)
	if end > len(n.data) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[s.pos:end], data)
	s.pos = end
	n.modified = s.fs.Now()
	return nil
}

func cleanPath(p string) string {
	return strings.TrimSuffix(p, "/")
}

func joinPath(base, rel string) string {
	return cleanPath(cleanPath(base) + "/" + strings.TrimPrefix(rel, "/"))
}

func parentPath(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return ""
	}
	return p[:idx]
}

func baseName(p string) string {
	return p[strings.LastIndex(p, "/")+1:]
}
