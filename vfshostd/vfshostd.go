// Package vfshostd implements a development collaborator for vfsbridge.
// vfshostd keeps storages in memory and serves them over the grpcvfs
// channel service.
package vfshostd

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mitchellh/go-homedir"
	"github.com/rfratto/vfsbridge/internal/vfs"
	"github.com/rfratto/vfsbridge/internal/vfs/grpcvfs"
	"github.com/rfratto/vfsbridge/internal/vfs/host"
	"github.com/rfratto/vfsbridge/internal/vfs/vfstest"
	"google.golang.org/grpc"
)

// DefaultOptions is the set of defaults for vfshostd.
var DefaultOptions = Options{
	ListenAddr:       "tcp://127.0.0.1:12195",
	ConcurrencyLimit: grpcvfs.DefaultServerOptions.ConcurrencyLimit,
	RequestTimeout:   15 * time.Second,
	MaxPathLength:    vfs.DefaultMaxPathLength,
	Storages: []StorageConfig{
		{Label: "documents", Type: vfs.StorageInternal, State: vfs.StateMounted},
	},
}

// StopTimeout bounds how long Stop waits for bindings to disconnect.
var StopTimeout = 5 * time.Second

// Options configures a Daemon. Options can be loaded from YAML.
type Options struct {
	ListenAddr       string          `yaml:"listen_addr"`       // Address to listen for binding connections.
	ConcurrencyLimit int             `yaml:"concurrency_limit"` // Max concurrent async requests per exchange.
	RequestTimeout   time.Duration   `yaml:"request_timeout"`   // Per-request handler timeout.
	MaxPathLength    int             `yaml:"max_path_length"`   // Reported max path length.
	Storages         []StorageConfig `yaml:"storages"`          // Storages to serve.
}

// StorageConfig seeds a single storage.
type StorageConfig struct {
	Label string           `yaml:"label"`
	Type  vfs.StorageType  `yaml:"type"`
	State vfs.StorageState `yaml:"state"`

	// Directories to create, relative to the storage root.
	Directories []string `yaml:"directories"`
	// Files to create, keyed by path relative to the storage root.
	Files map[string]string `yaml:"files"`
	// ReadOnly paths relative to the storage root.
	ReadOnly []string `yaml:"read_only"`
}

func (c StorageConfig) validate() error {
	if c.Label == "" {
		return fmt.Errorf("storage label must not be empty")
	}
	switch c.Type {
	case vfs.StorageInternal, vfs.StorageExternal:
	default:
		return fmt.Errorf("storage %s: unknown type %q", c.Label, c.Type)
	}
	switch c.State {
	case vfs.StateMounted, vfs.StateRemoved, vfs.StateUnmountable:
	default:
		return fmt.Errorf("storage %s: unknown state %q", c.Label, c.State)
	}
	return nil
}

// Daemon is the vfshostd daemon. Daemon exposes a gRPC API.
type Daemon struct {
	log  log.Logger
	lis  net.Listener
	srv  *grpc.Server
	fs   *vfstest.MemFS
	opts Options
}

// New creates a new Daemon and opens its listener.
func New(l log.Logger, o Options) (*Daemon, error) {
	if l == nil {
		l = log.NewNopLogger()
	}

	fs, err := newFS(l, o)
	if err != nil {
		return nil, err
	}

	hs, err := grpcvfs.NewServer(l, grpcvfs.ServerOptions{
		Handler:          fs,
		Middleware:       []host.Middleware{host.NewLoggingMiddleware(l)},
		ConcurrencyLimit: o.ConcurrencyLimit,
		RequestTimeout:   o.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create channel server: %w", err)
	}

	lis, err := Listen(o.ListenAddr)
	if err != nil {
		return nil, err
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcvfs.UnaryLoggingInterceptor(l)),
		grpc.ChainStreamInterceptor(grpcvfs.StreamLoggingInterceptor(l)),
	)
	hs.Register(srv)

	return &Daemon{
		log:  l,
		lis:  lis,
		srv:  srv,
		fs:   fs,
		opts: o,
	}, nil
}

// Listen opens a listener for a URL-style address such as
// tcp://127.0.0.1:12195 or unix://~/vfshost.sock.
func Listen(addr string) (net.Listener, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("cannot parse listen addr %q as url: %w", addr, err)
	}

	address, err := homedir.Expand(u.Host + u.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid listen addr: %w", err)
	}

	lis, err := net.Listen(u.Scheme, address)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s listener %s: %w", u.Scheme, address, err)
	}
	return lis, nil
}

func newFS(l log.Logger, o Options) (*vfstest.MemFS, error) {
	fs := vfstest.NewMemFS(l)
	if o.MaxPathLength > 0 {
		fs.MaxPathLength = o.MaxPathLength
	}

	seen := make(map[string]struct{}, len(o.Storages))
	for _, sc := range o.Storages {
		if err := sc.validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[sc.Label]; dup {
			return nil, fmt.Errorf("storage %s defined more than once", sc.Label)
		}
		seen[sc.Label] = struct{}{}

		fs.AddStorage(vfs.StorageInfo{Label: sc.Label, Type: sc.Type, State: sc.State})
		for _, dir := range sc.Directories {
			fs.MkdirAll(sc.Label + "/" + dir)
		}

		names := make([]string, 0, len(sc.Files))
		for name := range sc.Files {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fs.WriteFile(sc.Label+"/"+name, []byte(sc.Files[name]))
		}

		for _, p := range sc.ReadOnly {
			fs.SetReadOnly(sc.Label+"/"+p, true)
		}
		level.Debug(l).Log("msg", "seeded storage", "label", sc.Label, "files", len(sc.Files), "dirs", len(sc.Directories))
	}
	return fs, nil
}

// Addr returns the address d is listening on.
func (d *Daemon) Addr() net.Addr { return d.lis.Addr() }

// FS returns the in-memory filesystem served by d.
func (d *Daemon) FS() *vfstest.MemFS { return d.fs }

// Start starts d and doesn't return until it stops or there's an error.
func (d *Daemon) Start() error {
	level.Info(d.log).Log("msg", "starting vfshostd", "listen_addr", d.lis.Addr().String(), "storages", len(d.opts.Storages))
	return d.srv.Serve(d.lis)
}

// Stop gracefully stops d. Bindings that keep their exchange stream open
// past StopTimeout are disconnected.
func (d *Daemon) Stop() error {
	stopped := make(chan struct{})
	go func() {
		d.srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(StopTimeout):
		level.Warn(d.log).Log("msg", "forcing shutdown with open exchanges")
		d.srv.Stop()
		<-stopped
	}
	return nil
}
