package filesystem

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/rfratto/vfsbridge/internal/vfs"
)

// Stream is an open file stream. All Stream operations are synchronous.
// Once closed, every operation fails with vfs.ErrorInvalidState.
type Stream struct {
	m *Manager

	mut sync.Mutex
	fd  vfs.Handle
	eof bool
	pos uint64
}

func (m *Manager) newStream(fd vfs.Handle) *Stream {
	s := &Stream{m: m, fd: fd}
	m.trackStream(s)
	return s
}

// Handle returns the collaborator's descriptor for s, or
// vfs.InvalidHandle once s is closed.
func (s *Stream) Handle() vfs.Handle {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.fd
}

// EOF reports whether the last read reached the end of the file.
func (s *Stream) EOF() bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.eof
}

// Position returns the stream offset after the last operation.
func (s *Stream) Position() uint64 {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.pos
}

// Read reads up to count characters.
func (s *Stream) Read(ctx context.Context, count int) (string, error) {
	return s.readText(ctx, vfs.ReadDefault, count)
}

// ReadBase64 reads up to count bytes and returns them base64 encoded.
func (s *Stream) ReadBase64(ctx context.Context, count int) (string, error) {
	return s.readText(ctx, vfs.ReadBase64, count)
}

// ReadBytes reads up to count bytes.
func (s *Stream) ReadBytes(ctx context.Context, count int) ([]byte, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	req, err := s.readRequest(vfs.ReadBytes, count)
	if err != nil {
		return nil, err
	}
	var p vfs.StreamReadBytesPayload
	if err := s.m.t.Invoke(ctx, vfs.CmdStreamRead, req, &p); err != nil {
		return nil, err
	}
	s.advance(p.Position, len(p.Value), p.EOF)
	return p.Value, nil
}

func (s *Stream) readText(ctx context.Context, typ vfs.ReadType, count int) (string, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	req, err := s.readRequest(typ, count)
	if err != nil {
		return "", err
	}
	var p vfs.StreamReadPayload
	if err := s.m.t.Invoke(ctx, vfs.CmdStreamRead, req, &p); err != nil {
		return "", err
	}
	s.advance(p.Position, len(p.Value), p.EOF)
	return p.Value, nil
}

// readRequest must be called with mut held.
func (s *Stream) readRequest(typ vfs.ReadType, count int) (*vfs.StreamReadRequest, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("negative read count %d: %w", count, vfs.ErrorInvalidValues)
	}
	return &vfs.StreamReadRequest{FileDescriptor: s.fd, Type: typ, Count: count}, nil
}

// readAll reads text until EOF, starting with a read of sizeHint
// characters.
func (s *Stream) readAll(ctx context.Context, sizeHint int) (string, error) {
	const chunk = 4096

	var sb strings.Builder
	count := sizeHint
	for {
		text, err := s.Read(ctx, count)
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
		if s.EOF() || text == "" {
			return sb.String(), nil
		}
		count = chunk
	}
}

// Write writes text data.
func (s *Stream) Write(ctx context.Context, data string) error {
	return s.write(ctx, &vfs.StreamWriteRequest{Type: vfs.ReadDefault, Data: data}, len(data))
}

// WriteBase64 decodes base64 data and writes the result.
func (s *Stream) WriteBase64(ctx context.Context, data string) error {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("decoding base64 data: %s: %w", err, vfs.ErrorInvalidValues)
	}
	return s.write(ctx, &vfs.StreamWriteRequest{Type: vfs.ReadBase64, Data: data}, len(decoded))
}

// WriteBytes writes raw bytes.
func (s *Stream) WriteBytes(ctx context.Context, data []byte) error {
	return s.write(ctx, &vfs.StreamWriteBytesRequest{Type: vfs.ReadBytes, Data: data}, len(data))
}

// write sends req after filling in the descriptor. n is the number of bytes
// written, used when the collaborator doesn't report a position.
func (s *Stream) write(ctx context.Context, req vfs.Request, n int) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	switch req := req.(type) {
	case *vfs.StreamWriteRequest:
		req.FileDescriptor = s.fd
	case *vfs.StreamWriteBytesRequest:
		req.FileDescriptor = s.fd
	}

	var p vfs.StreamWritePayload
	if err := s.m.t.Invoke(ctx, vfs.CmdStreamWrite, req, &p); err != nil {
		return err
	}
	s.advance(p.Position, n, false)
	return nil
}

// advance must be called with mut held.
func (s *Stream) advance(reported uint64, n int, eof bool) {
	if reported != 0 {
		s.pos = reported
	} else {
		s.pos += uint64(n)
	}
	s.eof = eof
}

// Close closes the stream. The handle is invalidated even if the
// collaborator reports an error.
func (s *Stream) Close(ctx context.Context) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	fd := s.fd
	s.fd = vfs.InvalidHandle
	s.m.untrackStream(s)

	return s.m.t.Invoke(ctx, vfs.CmdStreamClose, &vfs.StreamCloseRequest{FileDescriptor: fd}, nil)
}

// checkOpen must be called with mut held.
func (s *Stream) checkOpen() error {
	if s.fd == vfs.InvalidHandle {
		return fmt.Errorf("stream is closed: %w", vfs.ErrorInvalidState)
	}
	return nil
}
