package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ravi-parthasarathy/pipedash/pkg/client"
	"github.com/ravi-parthasarathy/pipedash/pkg/config"
	"github.com/ravi-parthasarathy/pipedash/pkg/logging"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app is what every subcommand runs against. It is filled in by the root
// command's pre-run hook once flags are parsed.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	pipelines *client.PipelineClient
	network   *client.NetworkClient
}

func rootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	var (
		configPath string
		envFile    string
		serverURL  string
		logLevel   string
		logFormat  string
	)

	root := &cobra.Command{
		Use:   "pipedash",
		Short: "pipedash: edit and watch ChimeraPy pipelines",
		Long: `pipedash talks to a ChimeraPy pipeline server.

It lists node templates and pipelines, edits pipeline graphs node by node
and edge by edge, installs plugins, and follows the live cluster state and
log streams. "pipedash serve" runs an in-memory server for local work.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, envFile)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("server") {
				cfg.ServerURL = serverURL
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if flags.Changed("log-format") {
				cfg.Log.Format = logFormat
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			a.setup(cfg, logger)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "pipedash.yaml", "path to a YAML config file (skipped if missing)")
	pf.StringVar(&envFile, "env-file", ".env", "path to a .env file (skipped if missing)")
	pf.StringVar(&serverURL, "server", "", "pipeline server URL (overrides config)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(nodesCmd(a))
	root.AddCommand(listCmd(a))
	root.AddCommand(showCmd(a))
	root.AddCommand(createCmd(a))
	root.AddCommand(importCmd(a))
	root.AddCommand(deleteCmd(a))
	root.AddCommand(addNodeCmd(a))
	root.AddCommand(removeNodeCmd(a))
	root.AddCommand(linkCmd(a))
	root.AddCommand(unlinkCmd(a))
	root.AddCommand(lintCmd(a))
	root.AddCommand(pluginsCmd(a))
	root.AddCommand(installPluginCmd(a))
	root.AddCommand(sourceCmd(a))
	root.AddCommand(networkCmd(a))
	root.AddCommand(watchCmd(a))
	root.AddCommand(logsCmd(a))
	root.AddCommand(serveCmd(a))
	return root
}

func (a *app) setup(cfg config.Config, logger *zap.Logger) {
	a.cfg = cfg
	a.logger = logger
	opts := []client.Option{
		client.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		client.WithLogger(logger),
		client.WithNetworkMapPath(cfg.NetworkMapPath),
		client.WithClusterUpdatesPath(cfg.UpdatesPath),
	}
	a.pipelines = client.NewPipelineClient(cfg.ServerURL, cfg.PipelinePrefix, opts...)
	a.network = client.NewNetworkClient(cfg.ServerURL, opts...)
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[pipedash] interrupted, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
