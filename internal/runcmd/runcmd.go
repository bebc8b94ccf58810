// Package runcmd runs vfsctl subcommands through a filesystem.Manager
// connected to a vfshost over gRPC.
package runcmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-kit/log"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rfratto/vfsbridge/filesystem"
	"github.com/rfratto/vfsbridge/internal/vfs/grpcvfs"
	"github.com/rfratto/vfsbridge/internal/vfs/transport"
	"github.com/rfratto/vfsbridge/internal/vfs/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrUsage is returned when a subcommand is invoked with bad arguments.
var ErrUsage = errors.New("usage")

type Options struct {
	Log        log.Logger
	Registerer prometheus.Registerer

	ServerAddr string        // URL-style address of the vfshost.
	Codec      string        // Wire codec name.
	Timeout    time.Duration // Per-request timeout.

	Args           []string
	Stdout, Stderr io.Writer
}

// command runs a subcommand. args excludes the subcommand name.
type command struct {
	usage string
	run   func(ctx context.Context, m *filesystem.Manager, w io.Writer, args []string) error
}

var commands = map[string]command{
	"storages": {"storages", runStorages},
	"maxpath":  {"maxpath", runMaxPath},
	"stat":     {"stat <path>", runStat},
	"uri":      {"uri <path>", runURI},
	"ls":       {"ls <dir> [name-filter]", runList},
	"cat":      {"cat <file>", runCat},
	"write":    {"write [-append] <file> <text>", runWrite},
	"mkdir":    {"mkdir <dir> <relative-path>", runMkdir},
	"touch":    {"touch <dir> <relative-path>", runTouch},
	"cp":       {"cp [-overwrite] <src> <dst>", runTransfer(false)},
	"mv":       {"mv [-overwrite] <src> <dst>", runTransfer(true)},
	"rm":       {"rm [-r] <path>", runRemove},
}

// Usage writes the list of subcommands to w.
func Usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "subcommands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
}

// Run connects to the vfshost and runs the subcommand named by o.Args[0].
func Run(ctx context.Context, o Options) (statusCode int, err error) {
	if len(o.Args) == 0 {
		Usage(o.Stderr)
		return 2, ErrUsage
	}
	cmd, ok := commands[o.Args[0]]
	if !ok {
		Usage(o.Stderr)
		return 2, fmt.Errorf("unknown subcommand %q: %w", o.Args[0], ErrUsage)
	}

	m, closeConn, err := Connect(o)
	if err != nil {
		return 1, err
	}
	defer func() {
		if cerr := closeConn(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()

	if err := cmd.run(ctx, m, o.Stdout, o.Args[1:]); err != nil {
		if errors.Is(err, ErrUsage) {
			fmt.Fprintf(o.Stderr, "usage: %s\n", cmd.usage)
			return 2, err
		}
		return 1, err
	}
	return 0, nil
}

// Connect dials o.ServerAddr and returns a Manager using it. The returned
// function closes the Manager and the connection.
func Connect(o Options) (*filesystem.Manager, func() error, error) {
	codec := wire.Default()
	if o.Codec != "" {
		c, err := wire.Lookup(o.Codec)
		if err != nil {
			return nil, nil, err
		}
		codec = c
	}

	conn, err := Dial(o.ServerAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to vfshost: %w", err)
	}

	ch, err := grpcvfs.NewChannel(o.Log, conn, codec)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	to := transport.DefaultOptions
	to.Channel = ch
	to.Codec = codec
	to.Registerer = o.Registerer
	if o.Timeout > 0 {
		to.RequestTimeout = o.Timeout
	}
	a, err := transport.New(o.Log, to)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}

	m, err := filesystem.NewManager(o.Log, a, filesystem.DefaultManagerOptions)
	if err != nil {
		_ = a.Close()
		_ = conn.Close()
		return nil, nil, err
	}

	closeAll := func() error {
		var result error
		if err := m.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		return result
	}
	return m, closeAll, nil
}

// Dial connects to a URL-style address such as tcp://127.0.0.1:12195 or
// unix://~/vfshost.sock.
func Dial(addr string) (*grpc.ClientConn, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("cannot parse server addr %q as url: %w", addr, err)
	}
	address, err := homedir.Expand(u.Host + u.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid server addr: %w", err)
	}

	var d net.Dialer
	return grpc.Dial(
		address,
		grpc.WithContextDialer(func(ctx context.Context, target string) (net.Conn, error) {
			return d.DialContext(ctx, u.Scheme, target)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
}

// waiter blocks until an asynchronous operation reports back.
type waiter struct {
	done chan struct{}
	err  error
}

func newWaiter() *waiter { return &waiter{done: make(chan struct{}, 1)} }

func (w *waiter) ok() { w.done <- struct{}{} }

func (w *waiter) onError(err error) {
	w.err = err
	w.done <- struct{}{}
}

// wait returns postErr if the request never made it out, otherwise whatever
// the callbacks reported.
func (w *waiter) wait(ctx context.Context, postErr error) error {
	if postErr != nil {
		return postErr
	}
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func resolve(ctx context.Context, m *filesystem.Manager, location string, mode filesystem.Mode) (*filesystem.File, error) {
	var (
		w = newWaiter()
		f *filesystem.File
	)
	err := m.Resolve(ctx, location, mode, func(r *filesystem.File) { f = r; w.ok() }, w.onError)
	if err := w.wait(ctx, err); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", location, err)
	}
	return f, nil
}

// storageRoot resolves the storage that p lives in.
func storageRoot(ctx context.Context, m *filesystem.Manager, p string) (*filesystem.File, error) {
	label := p
	if idx := strings.IndexByte(p, '/'); idx >= 0 {
		label = p[:idx]
	}
	return resolve(ctx, m, label, "")
}

func runStorages(ctx context.Context, m *filesystem.Manager, w io.Writer, args []string) error {
	var (
		wt       = newWaiter()
		storages []filesystem.Storage
	)
	err := m.ListStorages(ctx, func(ss []filesystem.Storage) { storages = ss; wt.ok() }, wt.onError)
	if err := wt.wait(ctx, err); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tTYPE\tSTATE")
	for _, s := range storages {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Label, s.Type, s.State)
	}
	return tw.Flush()
}

func runMaxPath(ctx context.Context, m *filesystem.Manager, w io.Writer, args []string) error {
	_, err := fmt.Fprintln(w, m.MaxPathLength(ctx))
	return err
}

func runStat(ctx context.Context, m *filesystem.Manager, w io.Writer, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	f, err := resolve(ctx, m, args[0], "")
	if err != nil {
		return err
	}
	st, err := f.Stat(ctx)
	if err != nil {
		return err
	}

	kind := "file"
	if st.IsDirectory {
		kind = "directory"
	}
	fmt.Fprintf(w, "path:      %s\n", f.FullPath())
	fmt.Fprintf(w, "type:      %s\n", kind)
	fmt.Fprintf(w, "size:      %d\n", st.Size)
	fmt.Fprintf(w, "read-only: %t\n", st.ReadOnly)
	fmt.Fprintf(w, "created:   %s\n", st.CreatedTime().UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "modified:  %s\n", st.ModifiedTime().UTC().Format(time.RFC3339))
	return nil
}

func runURI(ctx context.Context, m *filesystem.Manager, w io.Writer, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	f, err := resolve(ctx, m, args[0], "")
	if err != nil {
		return err
	}
	uri := f.ToURI(ctx)
	if uri == "" {
		return fmt.Errorf("no URI for %s", f.FullPath())
	}
	_, err = fmt.Fprintln(w, uri)
	return err
}

func runList(ctx context.Context, m *filesystem.Manager, w io.Writer, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return ErrUsage
	}
	dir, err := resolve(ctx, m, args[0], "")
	if err != nil {
		return err
	}

	var filter *filesystem.FileFilter
	if len(args) == 2 {
		filter = &filesystem.FileFilter{Name: args[1]}
	}

	var (
		wt    = newWaiter()
		files []*filesystem.File
	)
	err = dir.ListFiles(ctx, filter, func(ff []*filesystem.File) { files = ff; wt.ok() }, wt.onError)
	if err := wt.wait(ctx, err); err != nil {
		return err
	}

	for _, f := range files {
		name := f.Name()
		if f.IsDirectory(ctx) {
			name += "/"
		}
		fmt.Fprintln(w, name)
	}
	return nil
}

func runCat(ctx context.Context, m *filesystem.Manager, w io.Writer, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	f, err := resolve(ctx, m, args[0], filesystem.ModeRead)
	if err != nil {
		return err
	}

	var (
		wt   = newWaiter()
		text string
	)
	err = f.ReadAsText(ctx, "UTF-8", func(s string) { text = s; wt.ok() }, wt.onError)
	if err := wt.wait(ctx, err); err != nil {
		return err
	}
	_, err = io.WriteString(w, text)
	return err
}

func runWrite(ctx context.Context, m *filesystem.Manager, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("write", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	appendMode := fs.Bool("append", false, "append instead of truncating")
	if err := fs.Parse(args); err != nil || fs.NArg() != 2 {
		return ErrUsage
	}

	target := fs.Arg(0)
	parent := target
	if idx := strings.LastIndexByte(target, '/'); idx > 0 {
		parent = target[:idx]
	}
	dir, err := resolve(ctx, m, parent, "")
	if err != nil {
		return err
	}
	if parent != target {
		if _, err := dir.Resolve(ctx, target[len(parent)+1:]); errors.Is(err, filesystem.ErrorNotFound) {
			if _, err := dir.CreateFile(ctx, target[len(parent)+1:]); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
	}

	f, err := resolve(ctx, m, target, "")
	if err != nil {
		return err
	}

	mode := filesystem.ModeWrite
	if *appendMode {
		mode = filesystem.ModeAppend
	}

	var (
		wt = newWaiter()
		s  *filesystem.Stream
	)
	err = f.OpenStream(ctx, mode, "UTF-8", func(r *filesystem.Stream) { s = r; wt.ok() }, wt.onError)
	if err := wt.wait(ctx, err); err != nil {
		return err
	}

	var result error
	if err := s.Write(ctx, fs.Arg(1)); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

func runMkdir(ctx context.Context, m *filesystem.Manager, w io.Writer, args []string) error {
	return runCreate(ctx, m, w, args, (*filesystem.File).CreateDirectory)
}

func runTouch(ctx context.Context, m *filesystem.Manager, w io.Writer, args []string) error {
	return runCreate(ctx, m, w, args, (*filesystem.File).CreateFile)
}

func runCreate(ctx context.Context, m *filesystem.Manager, w io.Writer, args []string, create func(*filesystem.File, context.Context, string) (*filesystem.File, error)) error {
	if len(args) != 2 {
		return ErrUsage
	}
	dir, err := resolve(ctx, m, args[0], "")
	if err != nil {
		return err
	}
	f, err := create(dir, ctx, args[1])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, f.FullPath())
	return err
}

func runTransfer(move bool) func(ctx context.Context, m *filesystem.Manager, w io.Writer, args []string) error {
	return func(ctx context.Context, m *filesystem.Manager, w io.Writer, args []string) error {
		fs := flag.NewFlagSet("transfer", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		overwrite := fs.Bool("overwrite", false, "replace an existing destination")
		if err := fs.Parse(args); err != nil || fs.NArg() != 2 {
			return ErrUsage
		}
		src, dst := fs.Arg(0), fs.Arg(1)

		root, err := storageRoot(ctx, m, src)
		if err != nil {
			return err
		}

		transfer := root.CopyTo
		if move {
			transfer = root.MoveTo
		}
		wt := newWaiter()
		err = transfer(ctx, src, dst, *overwrite, wt.ok, wt.onError)
		return wt.wait(ctx, err)
	}
}

func runRemove(ctx context.Context, m *filesystem.Manager, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	recursive := fs.Bool("r", false, "remove non-empty directories")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return ErrUsage
	}
	target := fs.Arg(0)

	f, err := resolve(ctx, m, target, "")
	if err != nil {
		return err
	}
	root, err := storageRoot(ctx, m, target)
	if err != nil {
		return err
	}

	wt := newWaiter()
	if f.IsDirectory(ctx) {
		err = root.DeleteDirectory(ctx, f.FullPath(), *recursive, wt.ok, wt.onError)
	} else {
		err = root.DeleteFile(ctx, f.FullPath(), wt.ok, wt.onError)
	}
	return wt.wait(ctx, err)
}
