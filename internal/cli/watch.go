package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/kprefs/internal/logging"
	"github.com/roach88/kprefs/internal/metrics"
	"github.com/roach88/kprefs/internal/schema"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Count         int
	Gated         bool
	MetricsListen string
}

// Emission is one value printed by watch.
type Emission struct {
	Seq     int    `json:"seq"`
	Name    string `json:"name"`
	Value   any    `json:"value"`
	Display string `json:"display"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <name>",
		Short: "Print a binding's value every time it changes",
		Long: `Subscribe to a binding and print each value it emits.

By default the replay view is used: the current value is printed first,
then every distinct change. With --gated the gated view is used instead.
Changes made by other processes are seen when the backend can watch
(sqlite, file, redis, consul).

The command runs until interrupted or until --count values were printed.

Examples:
  kprefs watch premium
  kprefs watch age --count 3 --format json
  kprefs watch theme --metrics-listen :9090`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "c", 0, "exit after this many values (0 = until interrupted)")
	cmd.Flags().BoolVar(&opts.Gated, "gated", false, "watch through the gated view")
	cmd.Flags().StringVar(&opts.MetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")

	return cmd
}

func runWatch(opts *WatchOptions, name string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if opts.Count < 0 {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "--count must be non-negative", nil)
	}
	cfg, err := loadConfig(f, opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		m = metrics.New(metrics.DefaultConfig())
		shutdown, err := serveMetrics(cfg.Metrics.Listen, m)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to serve metrics", err)
		}
		defer shutdown()
		f.VerboseLog("serving metrics on %s", cfg.Metrics.Listen)
	}

	s, err := openSession(ctx, f, cfg, m)
	if err != nil {
		return err
	}
	defer s.Close()

	e, err := s.entry(f, name)
	if err != nil {
		return err
	}

	view := schema.ViewReplay
	if opts.Gated {
		view = schema.ViewGated
	}

	ctx, cancel := context.WithCancel(ctx)
	readings := make(chan schema.Reading)
	w, err := e.Watch(ctx, view, func(r schema.Reading) {
		select {
		case readings <- r:
		case <-ctx.Done():
		}
	})
	if err != nil {
		cancel()
		return storeFailure(f, "failed to watch "+name, err)
	}
	defer func() {
		// Unblock a pending delivery before waiting for it.
		cancel()
		w.Stop()
	}()

	enc := json.NewEncoder(f.Writer)
	for n := 1; opts.Count == 0 || n <= opts.Count; n++ {
		select {
		case <-ctx.Done():
			return nil
		case r := <-readings:
			if f.Format == "json" {
				err = enc.Encode(CLIResponse{Status: "ok", Data: Emission{
					Seq: n, Name: name, Value: r.Interface(), Display: r.String(),
				}})
			} else {
				_, err = fmt.Fprintln(f.Writer, r.String())
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// serveMetrics starts an HTTP server exposing m on /metrics and returns a
// function that shuts it down.
func serveMetrics(addr string, m *metrics.Metrics) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger := logging.Named("cli")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
