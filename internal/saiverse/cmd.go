package saiverse

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/config"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/options"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
)

// NewSaiverseCommand creates the `saiversed` root command. Options come
// from flags, optionally overridden by a config file (--config) and
// SAIVERSE_* environment variables.
func NewSaiverseCommand() *cobra.Command {
	opts := options.NewOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:   "saiversed",
		Short: "saiversed runs the SAIVerse pulse engine",
		Long: `saiversed hosts AI personas and processes their pulses: user
messages, scheduled triggers and autonomous ticks, scheduled one per
persona with priority preemption, executed as playbook graphs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfigFile(configFile, opts); err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}

	fs := cmd.Flags()
	opts.AddFlags(fs)
	fs.StringVarP(&configFile, "config", "c", "", "Config file (JSON, YAML or TOML).")

	return cmd
}

// loadConfigFile merges the config file and environment into opts, on
// top of whatever the flags set.
func loadConfigFile(path string, opts *options.Options) error {
	v := viper.New()
	v.SetEnvPrefix("SAIVERSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v.Unmarshal(opts)
}

func run(ctx context.Context, opts *options.Options) error {
	cfg, err := config.CreateConfigFromOptions(opts)
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.Log.Level)

	app, err := NewApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}
