package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-bots/internal/app"
	"github.com/vovakirdan/wirechat-bots/internal/config"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var overrides config.Config

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bot manager and its control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(overrides)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().
				Str("addr", cfg.HTTP.Addr).
				Str("mode", cfg.Remote.Mode).
				Int("autostart", len(cfg.Bots)).
				Msg("starting bot manager")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("bot manager exited with error")
				return err
			}
			logger.Info().Msg("bot manager stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&overrides.HTTP.Addr, "addr", "", "control API listen address")
	cmd.Flags().StringVar(&overrides.Remote.Mode, "mode", "", "where bots live: local or wirechat")
	cmd.Flags().StringVar(&overrides.Broker.Kind, "broker", "", "local broker: memory or redis")
	return cmd
}
