package boot

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/r-heap47/eipmon/internal/cluster"
	"github.com/r-heap47/eipmon/internal/config"
	"github.com/r-heap47/eipmon/internal/pkg/logger"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// Run executes the command line until completion or SIGINT/SIGTERM
func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd returns the eipmon command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "eipmon",
		Short: "EgressIP and CloudPrivateIPConfig metrics exporter",
		Long: `eipmon periodically collects EgressIP, CloudPrivateIPConfig and node state
from the cluster, derives capacity, distribution and health statistics and
exposes them in the Prometheus text format.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate(`{{printf "eipmon version %s\n" .Version}}`)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file, defaults apply when empty")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newCollectCmd(opts),
		newReportCmd(opts),
		newVersionCmd(),
	)

	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Collect periodically and serve /metrics, /health and grpc health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, clients, err := setup(opts, false)
			if err != nil {
				return err
			}

			httpLis, err := net.Listen("tcp", cfg.HTTP.Addr)
			if err != nil {
				return fmt.Errorf("net.Listen: %w", err)
			}

			grpcLis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				_ = httpLis.Close()
				return fmt.Errorf("net.Listen: %w", err)
			}

			return serve(cmd.Context(), cfg, clients, httpLis, grpcLis)
		},
	}
}

func newCollectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Run a single collection and print the metrics exposition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, clients, err := setup(opts, true)
			if err != nil {
				return err
			}

			return writeExposition(cmd.Context(), cmd.OutOrStdout(), cfg, clients)
		},
	}
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var color bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Run a single collection and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, clients, err := setup(opts, true)
			if err != nil {
				return err
			}

			return writeReport(cmd.Context(), cmd.OutOrStdout(), cfg, clients, color)
		},
	}

	cmd.Flags().BoolVar(&color, "color", true, "colorize scores and headers")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "eipmon version %s\n", Version)
		},
	}
}

// loadConfig reads config and applies command line overrides
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("cfg.Validate: %w", err)
		}
	}

	return cfg, nil
}

// setup loads config, initializes logging and builds cluster clients.
// One-shot commands keep stdout for their output and log to stderr.
func setup(opts *rootOptions, oneShot bool) (*config.Config, *cluster.Clients, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}

	if oneShot {
		cfg.Log.Output = "stderr"
	}

	if err := logger.Init(cfg.Log); err != nil {
		return nil, nil, fmt.Errorf("logger.Init: %w", err)
	}

	clients, err := cluster.NewClients(cfg.Kubernetes.Kubeconfig)
	if err != nil {
		return nil, nil, fmt.Errorf("cluster.NewClients: %w", err)
	}

	logger.Info().
		Str("version", Version).
		Dur("poll_interval", cfg.Monitor.PollInterval.Duration).
		Str("node_selector", cfg.Kubernetes.NodeSelector).
		Msg("configuration loaded")

	return cfg, clients, nil
}
