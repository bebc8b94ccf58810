// Package filesystem exposes a virtual filesystem whose real work happens in
// a native collaborator. Every operation is marshaled over a
// transport.Adapter; the package itself only keeps path-derived entities
// and a short-lived metadata cache.
//
// Asynchronous operations take a success handler and an optional error
// handler. Exactly one of them is invoked per call. A nil success handler
// where one is required fails immediately with vfs.ErrorTypeMismatch. A nil
// error handler drops failures.
package filesystem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/rfratto/vfsbridge/internal/vfs/transport"
)

// ErrorHandler receives the failure of an asynchronous operation.
type ErrorHandler func(error)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// StatFreshness is how long metadata fetched for an entity is reused
	// before it is fetched again.
	StatFreshness time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultManagerOptions holds the default settings for a Manager.
var DefaultManagerOptions = ManagerOptions{
	StatFreshness: 5 * time.Millisecond,
}

// Manager is the entry point to the filesystem.
type Manager struct {
	log log.Logger
	o   ManagerOptions
	t   *transport.Adapter

	listenersMut sync.Mutex
	nextWatchID  int
	listeners    map[int]func(Storage)

	streamsMut sync.Mutex
	streams    map[*Stream]struct{}
}

// NewManager creates a new Manager. The Manager takes ownership of t and
// closes it when the Manager is closed.
func NewManager(l log.Logger, t *transport.Adapter, o ManagerOptions) (*Manager, error) {
	if t == nil {
		return nil, fmt.Errorf("transport must not be nil")
	}
	if l == nil {
		l = log.NewNopLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	return &Manager{
		log:       l,
		o:         o,
		t:         t,
		listeners: make(map[int]func(Storage)),
		streams:   make(map[*Stream]struct{}),
	}, nil
}

// MaxPathLength returns the longest path the collaborator supports. It
// returns vfs.DefaultMaxPathLength if the collaborator can't be asked.
func (m *Manager) MaxPathLength(ctx context.Context) int {
	var p vfs.MaxPathLengthPayload
	if err := m.t.Invoke(ctx, vfs.CmdGetMaxPathLength, nil, &p); err != nil {
		level.Debug(m.log).Log("msg", "falling back to default max path length", "err", err)
		return vfs.DefaultMaxPathLength
	}
	return p.Value
}

// Resolve resolves a location such as "documents" or "documents/a.txt" to a
// File. mode may be empty.
func (m *Manager) Resolve(ctx context.Context, location string, mode vfs.Mode, onSuccess func(*File), onError ErrorHandler) error {
	if onSuccess == nil {
		return missingHandler("Resolve")
	}
	if mode != "" && !mode.Valid() {
		m.report(onError, vfs.CmdManagerResolve, fmt.Errorf("invalid mode %q: %w", mode, vfs.ErrorInvalidValues))
		return nil
	}

	req := &vfs.ManagerResolveRequest{Location: location, Mode: mode}
	return m.post(ctx, vfs.CmdManagerResolve, req, onError, func(r transport.Reply) error {
		var p vfs.PathPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		onSuccess(m.newFile(p.FullPath))
		return nil
	})
}

// GetStorage looks up a single storage by label.
func (m *Manager) GetStorage(ctx context.Context, label string, onSuccess func(Storage), onError ErrorHandler) error {
	if onSuccess == nil {
		return missingHandler("GetStorage")
	}

	req := &vfs.GetStorageRequest{Label: label}
	return m.post(ctx, vfs.CmdGetStorage, req, onError, func(r transport.Reply) error {
		var p vfs.StoragePayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		onSuccess(Storage{Label: p.Label, Type: p.Type, State: p.State})
		return nil
	})
}

// ListStorages lists every storage known to the collaborator.
func (m *Manager) ListStorages(ctx context.Context, onSuccess func([]Storage), onError ErrorHandler) error {
	if onSuccess == nil {
		return missingHandler("ListStorages")
	}

	return m.post(ctx, vfs.CmdListStorages, nil, onError, func(r transport.Reply) error {
		var p vfs.ListStoragesPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		storages := make([]Storage, 0, len(p.Storages))
		for _, s := range p.Storages {
			storages = append(storages, storageFromInfo(s))
		}
		onSuccess(storages)
		return nil
	})
}

// AddStorageStateChangeListener registers onChange to be called whenever a
// storage changes state. The returned ID can be passed to
// RemoveStorageStateChangeListener.
func (m *Manager) AddStorageStateChangeListener(onChange func(Storage)) (int, error) {
	if onChange == nil {
		return 0, missingHandler("AddStorageStateChangeListener")
	}

	m.listenersMut.Lock()
	defer m.listenersMut.Unlock()

	m.nextWatchID++
	m.listeners[m.nextWatchID] = onChange
	return m.nextWatchID, nil
}

// RemoveStorageStateChangeListener removes a listener. Unknown IDs are
// ignored.
func (m *Manager) RemoveStorageStateChangeListener(id int) {
	m.listenersMut.Lock()
	defer m.listenersMut.Unlock()
	delete(m.listeners, id)
}

// NotifyStorageState informs all listeners that s changed state. The
// collaborator does not push state changes over the channel, so the
// embedding application calls this when it learns about one.
func (m *Manager) NotifyStorageState(s Storage) {
	m.listenersMut.Lock()
	listeners := make([]func(Storage), 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.listenersMut.Unlock()

	for _, l := range listeners {
		l(s)
	}
}

// Close closes any streams still open through m and then the transport.
func (m *Manager) Close() error {
	var errs *multierror.Error

	m.streamsMut.Lock()
	streams := make([]*Stream, 0, len(m.streams))
	for s := range m.streams {
		streams = append(streams, s)
	}
	m.streamsMut.Unlock()

	for _, s := range streams {
		fd := s.Handle()
		if err := s.Close(context.Background()); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing stream %d: %w", fd, err))
		}
	}
	if err := m.t.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// post sends an asynchronous request. onReply is called for successful
// replies; any error it returns goes to onError.
func (m *Manager) post(ctx context.Context, cmd vfs.Command, body vfs.Request, onError ErrorHandler, onReply func(transport.Reply) error) error {
	_, err := m.t.Post(ctx, cmd, body, func(r transport.Reply) {
		if err := r.Err(); err != nil {
			m.report(onError, cmd, err)
			return
		}
		if err := onReply(r); err != nil {
			m.report(onError, cmd, err)
		}
	})
	return err
}

// report hands err to onError, or drops it when onError is nil.
func (m *Manager) report(onError ErrorHandler, cmd vfs.Command, err error) {
	if onError == nil {
		level.Debug(m.log).Log("msg", "dropping error with no handler", "cmd", cmd, "err", err)
		return
	}
	onError(err)
}

func (m *Manager) trackStream(s *Stream) {
	m.streamsMut.Lock()
	defer m.streamsMut.Unlock()
	m.streams[s] = struct{}{}
}

func (m *Manager) untrackStream(s *Stream) {
	m.streamsMut.Lock()
	defer m.streamsMut.Unlock()
	delete(m.streams, s)
}

func missingHandler(op string) error {
	return fmt.Errorf("%s requires a success handler: %w", op, vfs.ErrorTypeMismatch)
}
