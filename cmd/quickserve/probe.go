// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/z5labs/quickserve/internal/noop"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
)

type probeFlags struct {
	retries  int
	waitMin  time.Duration
	waitMax  time.Duration
	timeout  time.Duration
	insecure bool
	verbose  bool
}

func newProbeCmd() *cobra.Command {
	var f probeFlags

	cmd := &cobra.Command{
		Use:   "probe <url>",
		Short: "Wait until a server responds",
		Long: `probe requests url, retrying with backoff on connection errors and
5xx responses, and exits successfully once the server answers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var h slog.Handler = noop.LogHandler{}
			if f.verbose {
				h = slog.NewTextHandler(cmd.ErrOrStderr(), nil)
			}

			status, err := probe(cmd.Context(), args[0], f, slog.New(h))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s responded %d\n", args[0], status)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.IntVar(&f.retries, "retries", 10, "maximum number of retries")
	fs.DurationVar(&f.waitMin, "wait-min", 100*time.Millisecond, "minimum wait between attempts")
	fs.DurationVar(&f.waitMax, "wait-max", 2*time.Second, "maximum wait between attempts")
	fs.DurationVar(&f.timeout, "timeout", 5*time.Second, "timeout of a single attempt")
	fs.BoolVarP(&f.insecure, "insecure", "k", false, "skip TLS certificate verification")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "log every attempt to stderr")
	return cmd
}

// ProbeError is returned when the server kept failing until the
// retries ran out.
type ProbeError struct {
	URL   string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ProbeError) Error() string {
	return fmt.Sprintf("probe of %s failed: %s", e.URL, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ProbeError) Unwrap() error {
	return e.Cause
}

func probe(ctx context.Context, url string, f probeFlags, log *slog.Logger) (int, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if f.insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	rc := retryablehttp.Client{
		HTTPClient: &http.Client{
			Timeout:   f.timeout,
			Transport: transport,
		},
		Logger:       log,
		RetryWaitMin: f.waitMin,
		RetryWaitMax: f.waitMax,
		RetryMax:     f.retries,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := rc.Do(req)
	if err != nil {
		return 0, ProbeError{URL: url, Cause: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
