package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ravi-parthasarathy/pipedash/pkg/devserver"
	"github.com/ravi-parthasarathy/pipedash/pkg/pipeline"
	"github.com/ravi-parthasarathy/pipedash/pkg/store"
)

// counter stops a stream command after a number of frames. A limit of zero
// means "run until interrupted".
type counter struct {
	limit int
	mu    sync.Mutex
	n     int
	done  chan struct{}
}

func newCounter(limit int) *counter {
	return &counter{limit: limit, done: make(chan struct{})}
}

func (c *counter) tick() {
	if c.limit <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	if c.n == c.limit {
		close(c.done)
	}
}

func writeFrame(w io.Writer, frame []byte) {
	fmt.Fprintf(w, "%s\n", frame)
}

// ─── network ──────────────────────────────────────────────────────────────────

func networkCmd(a *app) *cobra.Command {
	var mock bool

	cmd := &cobra.Command{
		Use:   "network",
		Short: "Print the current cluster snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := a.network.GetNetwork(cmd.Context())
			if mock {
				r = a.network.GetNetworkMap(cmd.Context())
			}
			state, err := unwrap(r)
			if err != nil {
				return err
			}
			writeFrame(cmd.OutOrStdout(), state)
			return nil
		},
	}

	cmd.Flags().BoolVar(&mock, "map", false, "fetch the static network map instead of the live snapshot")
	return cmd
}

// ─── watch ────────────────────────────────────────────────────────────────────

func watchCmd(a *app) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow cluster updates and print each snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			out := cmd.OutOrStdout()
			stop := newCounter(count)
			stores := store.New()
			stores.Network().Subscribe(func(state pipeline.ClusterState) {
				if state == nil {
					return
				}
				writeFrame(out, state)
				stop.tick()
			})
			stores.Errors().Subscribe(func(e *pipeline.ResponseError) {
				if e != nil {
					a.logger.Error("cluster updates failed", zap.String("message", e.Message), zap.Int("code", e.Code))
				}
			})

			if err := stores.Populate(ctx, a.network, a.logger); err != nil {
				return err
			}
			defer stores.Close()

			select {
			case <-ctx.Done():
			case <-stop.done:
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "exit after this many snapshots (0: until interrupted)")
	return cmd
}

// ─── logs ─────────────────────────────────────────────────────────────────────

func logsCmd(a *app) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "logs <host> <port>",
		Short: "Stream the log feed of a manager",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil || port <= 0 || port > 65535 {
				return fmt.Errorf("invalid port %q", args[1])
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			out := cmd.OutOrStdout()
			stop := newCounter(count)
			sub, err := unwrap(a.network.SubscribeToLogs(ctx, args[0], port, func(frame []byte) {
				writeFrame(out, frame)
				stop.tick()
			}))
			if err != nil {
				return err
			}
			defer sub.Close()

			select {
			case <-ctx.Done():
				return nil
			case <-stop.done:
				return nil
			case <-sub.Done():
				return sub.Err()
			}
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "exit after this many frames (0: until interrupted)")
	return cmd
}

// ─── serve ────────────────────────────────────────────────────────────────────

func serveCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an in-memory pipeline server for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.DevServer.Addr
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runDevServer(ctx, a, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func newDevServer(a *app) *devserver.Server {
	opts := []devserver.Option{
		devserver.WithLogger(a.logger.Named("devserver")),
		devserver.WithUpdateInterval(a.cfg.DevServer.UpdateInterval),
		devserver.WithPrefix(a.cfg.PipelinePrefix),
	}
	if a.cfg.DevServer.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, devserver.WithRegistry(reg))
	}
	return devserver.New(opts...)
}

func runDevServer(ctx context.Context, a *app, addr string) error {
	a.logger.Info("starting dev server",
		zap.String("addr", addr),
		zap.String("prefix", a.cfg.PipelinePrefix),
		zap.Bool("metrics", a.cfg.DevServer.Metrics),
	)
	return newDevServer(a).ListenAndServe(ctx, addr)
}
