package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/odvcencio/gitserve/pkg/config"
	"github.com/odvcencio/gitserve/pkg/protocol"
	"github.com/odvcencio/gitserve/pkg/repo"
)

func newServeCmd() *cobra.Command {
	var (
		addr       string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "serve [repository]",
		Short: "Serve a repository over the daemon protocol",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				if cfg, err = config.Load(configPath); err != nil {
					return err
				}
			}
			if len(args) == 1 {
				cfg.RepoRoot = args[0]
			}

			log, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync()

			backend, err := repo.NewSingleRepoBackend(cfg.RepoRoot)
			if err != nil {
				return err
			}
			// Fail fast on an unservable root instead of per
			// connection.
			if _, err := backend.Resolve("/"); err != nil {
				return fmt.Errorf("repository root %s: %w", cfg.RepoRoot, err)
			}

			srv := protocol.NewServer(backend, log, protocol.ServerOptions{
				MaxConcurrentWalks: cfg.MaxConcurrentWalks,
				IdleTimeout:        time.Duration(cfg.IdleTimeout),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bindAddr := cfg.Addr()
			if addr != "" {
				bindAddr = addr
			}
			return srv.ListenAndServe(ctx, bindAddr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "bind address (host:port), overrides config")
	cmd.Flags().StringVar(&configPath, "config", "", "path to TOML config file")
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	cfg.Level = parsed
	return cfg.Build()
}
