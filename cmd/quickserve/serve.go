// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/z5labs/quickserve"
	"github.com/z5labs/quickserve/config"
	_ "github.com/z5labs/quickserve/plugins/selfsigned"
	"github.com/z5labs/quickserve/ptr"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
)

const envPrefix = "QUICKSERVE_"

type serveFlags struct {
	configFile string
	port       string
	hostname   string
	path       string
	scheme     string
	certFile   string
	keyFile    string
	plugins    []string
	shutdown   time.Duration
	h2c        bool
	trace      bool
	debug      bool
}

func newRootCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "quickserve [dir]",
		Short: "Serve a directory over HTTP(S)",
		Long: `quickserve serves the files of a directory, the current one by default.

Options are read from, in increasing precedence, the --config file,
QUICKSERVE_ prefixed environment variables and flags.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runServe(cmd, dir, f)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configFile, "config", "c", "", "JSON or YAML config file")
	fs.StringVarP(&f.port, "port", "p", "", `port to listen on, "private:public" to advertise a different port`)
	fs.StringVar(&f.hostname, "hostname", "", "hostname used in printed URLs")
	fs.StringVar(&f.path, "path", "", "base path to serve the directory under")
	fs.StringVar(&f.scheme, "scheme", "", "http or https")
	fs.StringVar(&f.certFile, "cert", "", "PEM encoded certificate file")
	fs.StringVar(&f.keyFile, "key", "", "PEM encoded private key file")
	fs.StringSliceVar(&f.plugins, "plugin", nil, "named plugins to load, e.g. selfsigned")
	fs.DurationVar(&f.shutdown, "shutdown-timeout", 5*time.Second, "how long to wait for in-flight requests on exit")
	fs.BoolVar(&f.h2c, "h2c", false, "serve HTTP/2 without TLS")
	fs.BoolVar(&f.trace, "trace", false, "print lifecycle and request spans to stderr")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newProbeCmd())
	return cmd
}

func runServe(cmd *cobra.Command, dir string, f serveFlags) error {
	srcs, err := optionSources(cmd, f)
	if err != nil {
		return err
	}
	opts, err := quickserve.OptionsFrom(srcs...)
	if err != nil {
		return err
	}

	registry := quickserve.NewRegistry()
	err = registry.LoadNamed(f.plugins...)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if f.debug {
		level = slog.LevelDebug
	}
	serverOpts := []quickserve.ServerOption{
		quickserve.WithRegistry(registry),
		quickserve.LogHandler(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})),
	}
	if f.h2c {
		serverOpts = append(serverOpts, quickserve.HTTP2Cleartext())
	}
	if f.trace {
		tp, err := newTracerProvider(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			tp.Shutdown(ctx)
		}()
		serverOpts = append(serverOpts, quickserve.TracerProvider(tp))
	}

	return serve(cmd.Context(), cmd.OutOrStdout(), dir, opts, serverOpts...)
}

func optionSources(cmd *cobra.Command, f serveFlags) ([]config.Source, error) {
	var srcs []config.Source
	if f.configFile != "" {
		abs, err := filepath.Abs(f.configFile)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, config.FromFile(os.DirFS(filepath.Dir(abs)), filepath.Base(abs)))
	}
	srcs = append(srcs, config.FromEnv(envPrefix))

	m := config.Map{}
	flags := cmd.Flags()
	setIfChanged := func(flag, key, value string) {
		if flags.Changed(flag) {
			m[key] = value
		}
	}
	setIfChanged("port", "port", f.port)
	setIfChanged("hostname", "hostname", f.hostname)
	setIfChanged("path", "path", f.path)
	setIfChanged("scheme", "scheme", f.scheme)
	setIfChanged("shutdown-timeout", "shutdown_timeout", f.shutdown.String())

	for flag, file := range map[string]string{"cert": f.certFile, "key": f.keyFile} {
		if !flags.Changed(flag) {
			continue
		}
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		m[flag] = string(b)
	}

	return append(srcs, m), nil
}

func newTracerProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exp)),
	)
	return tp, nil
}

func fileHandler(dir, basePath string) http.Handler {
	prefix := "/" + strings.Trim(basePath, "/")
	if prefix == "/" {
		return http.FileServer(http.Dir(dir))
	}

	mux := http.NewServeMux()
	mux.Handle(prefix+"/", http.StripPrefix(prefix, http.FileServer(http.Dir(dir))))
	return mux
}

// serve runs a server for dir until ctx is cancelled or the server
// fails after it started listening.
func serve(ctx context.Context, out io.Writer, dir string, opts quickserve.Options, serverOpts ...quickserve.ServerOption) error {
	opts.Autostart = ptr.Ref(false)

	s, err := quickserve.New(opts, fileHandler(dir, ptr.Or(opts.Path, "/")), serverOpts...)
	if err != nil {
		return err
	}

	failed := make(chan error, 1)
	s.OnError(func(err error) {
		select {
		case failed <- err:
		default:
		}
	})

	err = s.Start().Wait(ctx)
	if err != nil {
		return err
	}
	u, err := s.URL("")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "serving %s at %s\n", dir, u)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-failed:
			return err
		}
	})
	g.Go(func() error {
		<-gctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := s.Stop().Wait(stopCtx)
		if errors.Is(err, quickserve.ErrNotListening) {
			return nil
		}
		return err
	})
	return g.Wait()
}
