// Command vfsctl drives the vfsbridge filesystem binding against a running
// vfshost.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/vfsbridge/internal/cmdutil"
	"github.com/rfratto/vfsbridge/internal/runcmd"
	"github.com/rfratto/vfsbridge/internal/vfs/transport"
)

func main() {
	exit, err := run()
	if err != nil && !errors.Is(err, runcmd.ErrUsage) {
		fmt.Fprintln(os.Stderr, err.Error())
	}
	os.Exit(exit)
}

func run() (statusCode int, err error) {
	var (
		o  = runcmd.Options{Stdout: os.Stdout, Stderr: os.Stderr}
		ll cmdutil.LogLevel
	)

	serverAddr := "tcp://127.0.0.1:12195"
	if envAddr := os.Getenv("VFSHOST_ADDR"); envAddr != "" {
		serverAddr = envAddr
	}

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.Var(&ll, "log.level", "Level to display logs at")
	fs.StringVar(&o.ServerAddr, "server-addr", serverAddr, "address of the vfshost gRPC server. Defaults to $VFSHOST_ADDR when set.")
	fs.StringVar(&o.Codec, "codec", "json", "wire codec to use (json or msgpack)")
	fs.DurationVar(&o.Timeout, "timeout", transport.DefaultOptions.RequestTimeout, "timeout for a single request")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [flags] <subcommand> [args]\n", os.Args[0])
		fs.PrintDefaults()
		runcmd.Usage(fs.Output())
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2, fmt.Errorf("error parsing flags: %w", err)
	}
	o.Args = fs.Args()

	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = level.NewFilter(l, ll.FilterOption())
	o.Log = log.With(l, "ts", log.DefaultTimestamp)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return runcmd.Run(ctx, o)
}
