package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lms-gateway/internal/config"
	"lms-gateway/internal/logging"
	"lms-gateway/internal/server"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			gw, err := buildGateway(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer gw.Close()

			logger.Info("gateway configured",
				zap.String("upstream", cfg.Server.UpstreamURL),
				zap.String("store", cfg.Store.Backend),
				zap.String("stats", cfg.Stats.Backend),
				zap.Bool("trust_xff", cfg.RateLimit.TrustXFF),
				zap.Int("concurrency_max", cfg.Concurrency.Max),
			)

			return server.Run(ctx, server.Config{
				ListenAddr:        cfg.Server.ListenAddr,
				ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
				ReadTimeout:       cfg.Server.ReadTimeout,
				WriteTimeout:      cfg.Server.WriteTimeout,
				IdleTimeout:       cfg.Server.IdleTimeout,
				ShutdownTimeout:   cfg.Server.ShutdownTimeout,
			}, gw.Handler, logger)
		},
	}
}
