package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-bots/internal/config"
	"github.com/vovakirdan/wirechat-bots/internal/log"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	dbPath     string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "botmanager",
		Short:         "Run and manage automated wirechat participants",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: console or json")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "sqlite database path")

	serve := newServeCmd(opts)
	root.AddCommand(serve)
	root.AddCommand(newAccountCmd(opts))
	root.AddCommand(newRoomCmd(opts))
	root.AddCommand(newTokenCmd(opts))

	// Plain "botmanager" serves.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

// load resolves configuration and builds the logger. Flag values override
// the file and environment.
func (o *globalOptions) load(overrides config.Config) (*config.Config, *zerolog.Logger, error) {
	bootLogger := log.New("info", log.FormatConsole)

	cfg, path, err := config.Load(bootLogger, o.configPath)
	if err != nil {
		return nil, nil, err
	}
	overrides.LogLevel = o.logLevel
	overrides.LogFormat = o.logFormat
	overrides.DatabasePath = o.dbPath
	cfg.UpdateFrom(overrides)

	logger := log.New(cfg.LogLevel, log.Format(cfg.LogFormat))
	logger.Debug().Str("config_path", path).Msg("configuration loaded")
	return &cfg, logger, nil
}
