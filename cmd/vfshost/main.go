// Command vfshost runs an in-memory collaborator that vfsbridge bindings can
// connect to over gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "net/http/pprof" // anonymous import to get the pprof handler registered

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rfratto/vfsbridge/internal/cmdutil"
	"github.com/rfratto/vfsbridge/vfshostd"
)

func main() {
	var (
		o          = vfshostd.DefaultOptions
		ll         cmdutil.LogLevel
		configFile string
		httpAddr   string
	)

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.Var(&ll, "log.level", "Level to display logs at")
	fs.StringVar(&configFile, "config.file", "", "Optional YAML file with storages to serve. Flags override values in the file.")
	fs.StringVar(&httpAddr, "http-listen-addr", "tcp://127.0.0.1:8080", "listen address for the metrics and pprof server")

	fs.StringVar(&o.ListenAddr, "listen-addr", o.ListenAddr, "listen address for the vfshost gRPC server")
	fs.IntVar(&o.ConcurrencyLimit, "concurrency-limit", o.ConcurrencyLimit, "maximum concurrent asynchronous requests per binding")
	fs.DurationVar(&o.RequestTimeout, "request-timeout", o.RequestTimeout, "timeout for handling a single request")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %s", err.Error())
		os.Exit(1)
	}

	if configFile != "" {
		fileOpts := vfshostd.DefaultOptions
		if err := cmdutil.LoadConfig(configFile, &fileOpts); err != nil {
			fmt.Fprintf(os.Stderr, "error loading config: %s\n", err)
			os.Exit(1)
		}
		o = overrideFlags(fs, fileOpts, o)
	}

	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	l = level.NewFilter(l, ll.FilterOption())
	l = log.With(l, "ts", log.DefaultTimestamp, "caller", log.DefaultCaller)

	var group run.Group

	if err := addInfoServer(&group, httpAddr); err != nil {
		level.Error(l).Log("msg", "failed to create listener for HTTP server", "err", err)
		os.Exit(1)
	}

	// vfshostd worker
	{
		d, err := vfshostd.New(l, o)
		if err != nil {
			level.Error(l).Log("msg", "failed to create vfshostd", "err", err)
			os.Exit(1)
		}

		group.Add(func() error {
			return d.Start()
		}, func(_ error) {
			_ = d.Stop()
		})
	}

	// signal worker
	{
		ctx, cancel := context.WithCancel(context.Background())

		group.Add(func() error {
			ch := make(chan os.Signal, 2)
			signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(ch)

			select {
			case <-ch:
				level.Info(l).Log("msg", "received shutdown signal")
			case <-ctx.Done():
			}
			return nil
		}, func(_ error) {
			cancel()
		})
	}

	if err := group.Run(); err != nil {
		level.Error(l).Log("msg", "error running vfshost", "err", err)
		os.Exit(1)
	}
}

// addInfoServer adds an HTTP server exposing metrics and pprof to g.
func addInfoServer(g *run.Group, addr string) error {
	lis, err := vfshostd.Listen(addr)
	if err != nil {
		return err
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.PathPrefix("/debug/pprof").Handler(http.DefaultServeMux)
	srv := http.Server{Handler: r}

	g.Add(func() error {
		if err := srv.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(_ error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	})
	return nil
}

// overrideFlags applies explicitly set flags from flagOpts on top of base.
func overrideFlags(fs *flag.FlagSet, base, flagOpts vfshostd.Options) vfshostd.Options {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen-addr":
			base.ListenAddr = flagOpts.ListenAddr
		case "concurrency-limit":
			base.ConcurrencyLimit = flagOpts.ConcurrencyLimit
		case "request-timeout":
			base.RequestTimeout = flagOpts.RequestTimeout
		}
	})
	return base
}
