// Package cli defines the cobra commands of the voicectl binary.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/voicectl/internal/config"
)

var (
	configFile string
	logLevel   string
	version    = "dev" // set via ldflags at build time

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "voicectl",
	Short: "Push-to-talk client for the voice agent",
	Long: `voicectl logs in to the voice backend, joins a media session with the
remote agent and lets you talk to it by holding the space bar.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configFile != "" {
			cfg, err = config.LoadFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		lvl, err := zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zerolog.SetGlobalLevel(lvl)
		return nil
	},
}

// Execute runs the root command. Called from main.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Debug().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level from config")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devserverCmd)
}
