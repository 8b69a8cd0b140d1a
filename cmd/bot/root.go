package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"confbot/internal/app"
	"confbot/internal/config"
	logx "confbot/pkg/logx"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config   string
	EnvFiles []string
	LogLevel string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "confbot",
		Short:         "Conference schedule assistant for Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(opts.EnvFiles...); err != nil {
				return fmt.Errorf("load env: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "./config.yaml", "path to config (json or yaml)")
	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", []string{".env"}, "dotenv files loaded before the config")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "console log level for offline commands (default: logging.level)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	return cmd
}

// loadConfig reads the config and builds the console logger for offline commands.
func loadConfig(opts *RootOptions) (*config.Config, logx.Logger, error) {
	cfg, err := config.NewManager(opts.Config).Load()
	if err != nil {
		return nil, logx.Logger{}, err
	}
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	return cfg, logx.NewConsole(level).With(logx.String("comp", "cli")), nil
}

// offlineCore wires storage and the reminder pipeline without a transport.
func offlineCore(opts *RootOptions) (*app.Core, logx.Logger, error) {
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return nil, logx.Logger{}, err
	}
	core, err := app.BuildCore(cfg, log, nil, nil)
	if err != nil {
		return nil, log, err
	}
	return core, log, nil
}
